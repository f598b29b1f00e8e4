package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
)

// maxUtteranceBytes bounds the audio kept for emotion analysis (30 s of 16 kHz PCM16)
const maxUtteranceBytes = 30 * 16000 * 2

var (
	ErrAlreadyListening = errors.New("recognition already in progress")
	ErrNotListening     = errors.New("recognition not started")
)

// Utterance is one recognized result with the audio it came from
type Utterance struct {
	Text       string
	Audio      []byte
	SampleRate int
}

// RecognizerHandlers is the table of recognition callbacks. Nil entries are skipped.
type RecognizerHandlers struct {
	OnResult func(Utterance)
	OnEnd    func()
	OnError  func(error)
}

// Recognizer runs one streaming recognition at a time and reports through
// its handler table
type Recognizer struct {
	stt    repositories.SpeechToText
	logger *zap.Logger

	mu         sync.Mutex
	handlers   *RecognizerHandlers
	stream     repositories.SpeechToTextStreaming
	audio      bytes.Buffer
	sampleRate int
}

// NewRecognizer creates a recognizer over stt
func NewRecognizer(stt repositories.SpeechToText, logger *zap.Logger) *Recognizer {
	return &Recognizer{stt: stt, logger: logger}
}

// Subscribe installs handlers and returns the function that removes them
func (r *Recognizer) Subscribe(handlers RecognizerHandlers) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := &handlers
	r.handlers = h
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.handlers == h {
			r.handlers = nil
		}
	}
}

func (r *Recognizer) currentHandlers() RecognizerHandlers {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		return RecognizerHandlers{}
	}
	return *r.handlers
}

// Listening reports whether a recognition is open
func (r *Recognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Start opens a recognition for speech in language
func (r *Recognizer) Start(ctx context.Context, language string, sampleRate int, encoding string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return ErrAlreadyListening
	}

	stream, err := r.stt.InitTranscribeStreaming(ctx, repositories.AudioConfig{
		SampleRate: sampleRate,
		Encoding:   encoding,
		Language:   entities.LocaleFor(language),
	})
	if err != nil {
		return fmt.Errorf("failed to start recognition: %w", err)
	}

	r.stream = stream
	r.sampleRate = sampleRate
	r.audio.Reset()

	r.logger.Debug("Recognition started",
		zap.String("language", language),
		zap.Int("sampleRate", sampleRate))
	return nil
}

// Feed streams one chunk of microphone audio
func (r *Recognizer) Feed(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return ErrNotListening
	}
	if r.audio.Len()+len(chunk) <= maxUtteranceBytes {
		r.audio.Write(chunk)
	}
	return r.stream.Stream(chunk)
}

// Stop closes the recognition and waits for the transcript. OnResult or
// OnError fires, then OnEnd.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	audio := append([]byte(nil), r.audio.Bytes()...)
	sampleRate := r.sampleRate
	r.audio.Reset()
	r.mu.Unlock()

	if stream == nil {
		return
	}

	handlers := r.currentHandlers()
	text, err := stream.End()
	switch {
	case err != nil:
		r.logger.Info("Recognition failed", zap.Error(err))
		if handlers.OnError != nil {
			handlers.OnError(err)
		}
	case handlers.OnResult != nil:
		handlers.OnResult(Utterance{Text: text, Audio: audio, SampleRate: sampleRate})
	}

	if handlers.OnEnd != nil {
		handlers.OnEnd()
	}
}

// Cancel drops the open recognition without a result. OnEnd still fires.
func (r *Recognizer) Cancel() {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.audio.Reset()
	r.mu.Unlock()

	if stream == nil {
		return
	}
	stream.Abort()

	if handlers := r.currentHandlers(); handlers.OnEnd != nil {
		handlers.OnEnd()
	}
}

// Synthesizer speaks text through a TextToSpeech engine with optional
// loudness gain. Speaking never overlaps an active recognition.
type Synthesizer struct {
	tts        repositories.TextToSpeech
	loudness   repositories.LoudnessCapability
	recognizer *Recognizer
	logger     *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	turn   uint64
}

// NewSynthesizer creates a synthesizer. loudness and recognizer may be nil.
func NewSynthesizer(tts repositories.TextToSpeech, loudness repositories.LoudnessCapability, recognizer *Recognizer, logger *zap.Logger) *Synthesizer {
	return &Synthesizer{
		tts:        tts,
		loudness:   loudness,
		recognizer: recognizer,
		logger:     logger,
	}
}

// Speak synthesizes text in language and hands each PCM chunk to sink. It
// replaces any speech in progress and blocks until synthesis ends, Stop is
// called or sink fails.
func (s *Synthesizer) Speak(ctx context.Context, text, language string, sink func([]byte) error) error {
	if s.recognizer != nil && s.recognizer.Listening() {
		s.recognizer.Cancel()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.turn++
	turn := s.turn
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.turn == turn {
			s.cancel = nil
		}
		s.mu.Unlock()
	}()

	audio, err := s.tts.ConvertTextToSpeech(ctx, text, language)
	if err != nil {
		return fmt.Errorf("failed to synthesize speech: %w", err)
	}

	for chunk := range audio {
		if s.loudness != nil {
			chunk = s.loudness.Process(chunk)
		}
		if err := sink(chunk); err != nil {
			cancel()
			for range audio {
			}
			return err
		}
	}
	return ctx.Err()
}

// Stop interrupts the speech in progress
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Speaking reports whether speech is in progress
func (s *Synthesizer) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}
