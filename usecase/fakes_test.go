package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
)

type translateCall struct {
	Text, Source, Target string
}

// fakeLLM is a scripted LanguageModel. Calls for a text listed in hold block
// until the test closes the channel.
type fakeLLM struct {
	mu sync.Mutex

	translateCalls []translateCall
	replyCalls     []string
	summaryCalls   int
	emotionCalls   int
	checkedKeys    []string

	translateErr error
	replies      []string
	repliesErr   error
	summary      string
	summaryErr   error
	emotion      entities.Emotion
	checkErr     error

	holdTranslate map[string]chan struct{}
	holdReplies   map[string]chan struct{}
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		emotion:       entities.Emotion{Label: entities.EmotionHappy, Emoji: "😊", Confidence: 0.9},
		summary:       "They said hello.",
		holdTranslate: make(map[string]chan struct{}),
		holdReplies:   make(map[string]chan struct{}),
	}
}

func (f *fakeLLM) holdTranslation(text string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.holdTranslate[text] = ch
	return ch
}

func (f *fakeLLM) holdReply(text string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.holdReplies[text] = ch
	return ch
}

func (f *fakeLLM) Translate(ctx context.Context, text, sourceLanguage, targetLanguage string) (string, error) {
	f.mu.Lock()
	f.translateCalls = append(f.translateCalls, translateCall{text, sourceLanguage, targetLanguage})
	hold := f.holdTranslate[text]
	err := f.translateErr
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("[%s] %s", targetLanguage, text), nil
}

func (f *fakeLLM) SuggestReplies(ctx context.Context, history []entities.Message, language string) ([]string, error) {
	last := history[len(history)-1].Text

	f.mu.Lock()
	f.replyCalls = append(f.replyCalls, last)
	hold := f.holdReplies[last]
	replies, err := f.replies, f.repliesErr
	f.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}
	if replies != nil {
		return replies, nil
	}
	return []string{
		fmt.Sprintf("[%s] re: %s 1", language, last),
		fmt.Sprintf("[%s] re: %s 2", language, last),
		fmt.Sprintf("[%s] re: %s 3", language, last),
	}, nil
}

func (f *fakeLLM) Summarize(ctx context.Context, history []entities.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	return f.summary, f.summaryErr
}

func (f *fakeLLM) ClassifyEmotion(ctx context.Context, audio []byte, mimeType string) entities.Emotion {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emotionCalls++
	return f.emotion
}

func (f *fakeLLM) CheckKey(ctx context.Context, apiKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkedKeys = append(f.checkedKeys, apiKey)
	return f.checkErr
}

func (f *fakeLLM) translations() []translateCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]translateCall(nil), f.translateCalls...)
}

func authError(op string) error {
	return &domain.GatewayError{Op: op, Kind: domain.KindAuth, Err: fmt.Errorf("API key not valid")}
}

func quotaError(op string) error {
	return &domain.GatewayError{Op: op, Kind: domain.KindQuota, Err: fmt.Errorf("quota exceeded")}
}
