package tts

import (
	"context"
	"encoding/binary"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/repositories"
)

const mockSampleRate = 24000

// MockTextToSpeech plays a short tone per word instead of speech
type MockTextToSpeech struct {
	chunkSize int
	logger    *zap.Logger
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates a mock synthesizer emitting 24 kHz PCM16LE
func NewMockTextToSpeech(logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{chunkSize: defaultChunkSize, logger: logger}
}

func (m *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text, language string) (<-chan []byte, error) {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, ErrEmptyText
	}

	m.logger.Info("Synthesizing mock speech",
		zap.Int("words", len(words)),
		zap.String("language", language))

	pcm := tone(len(words))
	audioChan := make(chan []byte, 10)

	go func() {
		defer close(audioChan)
		for start := 0; start < len(pcm); start += m.chunkSize {
			end := min(start+m.chunkSize, len(pcm))
			select {
			case audioChan <- pcm[start:end]:
			case <-ctx.Done():
				return
			}
		}
	}()

	return audioChan, nil
}

func (m *MockTextToSpeech) SampleRate() int {
	return mockSampleRate
}

// tone renders 150 ms of 440 Hz per word
func tone(words int) []byte {
	samples := words * mockSampleRate * 150 / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/mockSampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}
