package stt

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/repositories"
)

// DefaultMockTranscript is what the mock hears when no script is given
const DefaultMockTranscript = "Hello, how are you?"

// MockSpeechToText returns scripted transcripts, one per utterance, for
// development without cloud credentials
type MockSpeechToText struct {
	logger *zap.Logger

	mu          sync.Mutex
	transcripts []string
}

// MockSpeechToTextStream is a mock implementation of streaming speech recognition
type MockSpeechToTextStream struct {
	logger     *zap.Logger
	transcript string

	mu            sync.Mutex
	audioReceived bool
	closed        bool
}

// NewMockSpeechToText creates a mock recognizer. Each utterance consumes the
// next transcript; the last one repeats.
func NewMockSpeechToText(logger *zap.Logger, transcripts ...string) *MockSpeechToText {
	if len(transcripts) == 0 {
		transcripts = []string{DefaultMockTranscript}
	}
	return &MockSpeechToText{
		logger:      logger,
		transcripts: transcripts,
	}
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

func (s *MockSpeechToText) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	transcript := s.transcripts[0]
	if len(s.transcripts) > 1 {
		s.transcripts = s.transcripts[1:]
	}
	return transcript
}

// InitTranscribeStreaming creates a new mock streaming session
func (s *MockSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	if _, err := getAudioEncoding(config.Encoding); err != nil {
		return nil, err
	}

	s.logger.Info("Initializing mock streaming transcription",
		zap.Int("sampleRate", config.SampleRate),
		zap.String("encoding", config.Encoding),
		zap.String("language", config.Language))

	return &MockSpeechToTextStream{
		logger:     s.logger,
		transcript: s.next(),
	}, nil
}

// Stream implements mock streaming audio processing
func (m *MockSpeechToTextStream) Stream(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("stream already closed")
	}
	if len(data) > 0 {
		m.audioReceived = true
	}
	return nil
}

// End returns the scripted transcript
func (m *MockSpeechToTextStream) End() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", errors.New("stream already closed")
	}
	m.closed = true

	m.logger.Info("Ending mock transcription stream", zap.String("result", m.transcript))

	if !m.audioReceived {
		return "", ErrNoAudio
	}
	if m.transcript == "" {
		return "", ErrNoSpeech
	}
	return m.transcript, nil
}

func (m *MockSpeechToTextStream) Abort() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := s.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", err
	}
	if err := stream.Stream(audioData); err != nil {
		return "", err
	}
	return stream.End()
}
