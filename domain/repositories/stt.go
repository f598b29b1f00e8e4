package repositories

import "context"

// SpeechToText abstracts speech recognition services
type SpeechToText interface {
	// TranscribeAudio converts a complete utterance to text
	TranscribeAudio(ctx context.Context, audioData []byte, config AudioConfig) (string, error)
	// InitTranscribeStreaming opens a streaming recognition for one utterance
	InitTranscribeStreaming(ctx context.Context, config AudioConfig) (SpeechToTextStreaming, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRate int    `json:"sample_rate"`
	Encoding   string `json:"encoding"`
	// Language is a BCP-47 locale such as hi-IN
	Language string `json:"language"`
}

// SpeechToTextStreaming is one open recognition stream
type SpeechToTextStreaming interface {
	Stream(data []byte) error
	// End closes the stream and waits for the final transcript
	End() (string, error)
	// Abort discards the stream without waiting for a result
	Abort()
}
