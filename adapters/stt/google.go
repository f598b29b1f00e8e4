package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
)

var (
	// ErrNoAudio is returned by End when nothing was streamed
	ErrNoAudio = errors.New("no audio data received")
	// ErrNoSpeech is returned by End when the recognizer heard nothing
	ErrNoSpeech = errors.New("no speech detected in audio")
)

// GoogleSpeechToText implements SpeechToText for Google Cloud.
// Credentials come from GOOGLE_APPLICATION_CREDENTIALS.
type GoogleSpeechToText struct {
	logger *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a Google Cloud recognizer
func NewGoogleSpeechToText(logger *zap.Logger) *GoogleSpeechToText {
	return &GoogleSpeechToText{logger: logger}
}

func (g *GoogleSpeechToText) InitTranscribeStreaming(ctx context.Context, config repositories.AudioConfig) (repositories.SpeechToTextStreaming, error) {
	encoding, err := getAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	client, err := speech.NewClient(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		cancel()
		client.Close()
		return nil, fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:          recognitionConfig(config, encoding),
				InterimResults:  false,
				SingleUtterance: true,
			},
		},
	}); err != nil {
		cancel()
		stream.CloseSend()
		client.Close()
		return nil, fmt.Errorf("failed to send streaming config: %w", err)
	}

	g.logger.Debug("Opened Google streaming recognition",
		zap.String("locale", config.Language),
		zap.Int("sampleRate", config.SampleRate))

	return &GoogleSpeechToTextStream{
		client:     client,
		stream:     stream,
		ctx:        ctx,
		cancel:     cancel,
		resultChan: make(chan string, 1),
		errorChan:  make(chan error, 1),
	}, nil
}

// recognitionConfig fills the locale and punctuation for one utterance
func recognitionConfig(config repositories.AudioConfig, encoding speechpb.RecognitionConfig_AudioEncoding) *speechpb.RecognitionConfig {
	locale := config.Language
	if locale == "" {
		locale = entities.DefaultLocale
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   encoding,
		SampleRateHertz:            int32(config.SampleRate),
		LanguageCode:               locale,
		EnableAutomaticPunctuation: true,
		Model:                      "latest_short",
	}
}

type GoogleSpeechToTextStream struct {
	client *speech.Client
	stream speechpb.Speech_StreamingRecognizeClient
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	audioReceived  bool
	receiverActive bool
	closed         bool

	resultChan chan string
	errorChan  chan error
}

func (g *GoogleSpeechToTextStream) Stream(data []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return errors.New("stream already closed")
	}
	if !g.receiverActive {
		g.receiverActive = true
		go g.receiveResults()
	}
	if len(data) == 0 {
		return nil
	}

	g.audioReceived = true
	if err := g.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	}); err != nil {
		return fmt.Errorf("failed to send audio data: %w", err)
	}
	return nil
}

func (g *GoogleSpeechToTextStream) End() (string, error) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return "", errors.New("stream already closed")
	}
	g.closed = true
	audioReceived := g.audioReceived
	g.mu.Unlock()

	defer g.cleanup()

	if !audioReceived {
		return "", ErrNoAudio
	}

	if err := g.stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close send stream: %w", err)
	}

	select {
	case <-g.ctx.Done():
		return "", fmt.Errorf("context cancelled while waiting for result: %w", g.ctx.Err())
	case err := <-g.errorChan:
		if err != nil {
			return "", err
		}
		return "", ErrNoSpeech
	case result := <-g.resultChan:
		if strings.TrimSpace(result) == "" {
			return "", ErrNoSpeech
		}
		return strings.TrimSpace(result), nil
	}
}

// Abort cancels the recognition without waiting for a transcript
func (g *GoogleSpeechToTextStream) Abort() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	g.cleanup()
}

func (g *GoogleSpeechToTextStream) receiveResults() {
	var transcript strings.Builder

	for {
		resp, err := g.stream.Recv()
		if err == io.EOF {
			g.resultChan <- transcript.String()
			return
		}
		if err != nil {
			g.errorChan <- fmt.Errorf("failed to receive response: %w", err)
			return
		}

		for _, result := range resp.GetResults() {
			if result.IsFinal && len(result.Alternatives) > 0 {
				if transcript.Len() > 0 {
					transcript.WriteString(" ")
				}
				transcript.WriteString(strings.TrimSpace(result.Alternatives[0].Transcript))
			}
		}
	}
}

func (g *GoogleSpeechToTextStream) cleanup() {
	g.cancel()
	if g.client != nil {
		g.client.Close()
	}
}

// TranscribeAudio converts a complete utterance to text over a single stream
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, config repositories.AudioConfig) (string, error) {
	stream, err := g.InitTranscribeStreaming(ctx, config)
	if err != nil {
		return "", fmt.Errorf("failed to initialize streaming: %w", err)
	}

	if err := stream.Stream(audioData); err != nil {
		stream.Abort()
		return "", fmt.Errorf("failed to stream audio data: %w", err)
	}

	return stream.End()
}

// getAudioEncoding converts string encoding to Google Speech API enum
func getAudioEncoding(encoding string) (speechpb.RecognitionConfig_AudioEncoding, error) {
	switch strings.ToUpper(encoding) {
	case "WAV", "LINEAR16", "PCM16", "":
		return speechpb.RecognitionConfig_LINEAR16, nil
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC, nil
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW, nil
	case "AMR":
		return speechpb.RecognitionConfig_AMR, nil
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB, nil
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS, nil
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE, nil
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS, nil
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED, fmt.Errorf("unsupported audio encoding: %s", encoding)
	}
}
