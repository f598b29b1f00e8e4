package repositories

import "context"

// TextToSpeech streams synthesized audio for text spoken in language.
// The channel is closed when synthesis ends or ctx is cancelled.
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text, language string) (<-chan []byte, error)
}
