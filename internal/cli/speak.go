package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/adapters/audio"
	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/usecase"
)

const (
	speakTimeout      = 30 * time.Second
	defaultSampleRate = 24000
)

var (
	speakLanguage string
	speakOutput   string
	speakGain     int
	speakWAV      bool
	speakPlay     bool
)

var speakCmd = &cobra.Command{
	Use:   "speak <text>",
	Short: "Synthesize text to an audio file",
	Long: `Synthesize text with the configured text-to-speech provider and save
the PCM16 mono audio to a file.

Examples:
  omnichat speak "नमस्ते, आप कैसे हैं?" --language hi
  omnichat speak "Hello there" --gain 12 --wav --out hello.wav --play`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSpeak,
}

func init() {
	speakCmd.Flags().StringVarP(&speakLanguage, "language", "l", entities.DefaultLanguage, "language code of the text")
	speakCmd.Flags().StringVarP(&speakOutput, "out", "o", "speech.pcm", "output file")
	speakCmd.Flags().IntVarP(&speakGain, "gain", "g", 0, "loudness gain in dB (0-30)")
	speakCmd.Flags().BoolVar(&speakWAV, "wav", false, "write a WAV file instead of raw PCM")
	speakCmd.Flags().BoolVar(&speakPlay, "play", false, "play the file when done")
}

type sampleRater interface {
	SampleRate() int
}

func runSpeak(cmd *cobra.Command, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return domain.NewValidationError("text", entities.ErrEmptyText)
	}

	language := entities.NormalizeLanguage(speakLanguage)
	if !entities.IsSupportedLanguage(language) {
		return domain.NewValidationError("language", entities.ErrUnsupportedLanguage)
	}

	ttsRepo, err := newTextToSpeech(cfg.Speech, logger)
	if err != nil {
		return err
	}

	sampleRate := defaultSampleRate
	if sr, ok := ttsRepo.(sampleRater); ok && sr.SampleRate() > 0 {
		sampleRate = sr.SampleRate()
	}

	loudness := audio.NewLoudnessEnhancer(logger)
	loudness.Initialize(0)
	defer loudness.Release()
	loudness.SetGain(speakGain)

	synth := usecase.NewSynthesizer(ttsRepo, loudness, nil, logger)

	ctx, cancel := context.WithTimeout(cmd.Context(), speakTimeout)
	defer cancel()

	logger.Info("Converting text to speech",
		zap.String("language", language),
		zap.Int("gainDB", loudness.Gain()))

	var pcm []byte
	chunks := 0
	err = synth.Speak(ctx, text, language, func(chunk []byte) error {
		pcm = append(pcm, chunk...)
		chunks++
		return nil
	})
	if err != nil {
		return err
	}

	data := pcm
	if speakWAV {
		data = audio.WrapWAV(pcm, sampleRate)
	}
	if err := os.WriteFile(speakOutput, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", speakOutput, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved %d bytes in %d chunks to %s (%d Hz)\n", len(data), chunks, speakOutput, sampleRate)

	if speakPlay {
		if err := playAudioFile(speakOutput, sampleRate, speakWAV); err != nil {
			logger.Warn("Failed to play audio automatically", zap.Error(err))
			fmt.Fprintf(cmd.OutOrStdout(), "Play it manually with:\n  %s\n", strings.Join(playbackCommand(speakOutput, sampleRate), " "))
		}
	}
	return nil
}

// audioPlayer is a player command and the arguments it needs for raw PCM16 mono
type audioPlayer struct {
	command string
	args    []string
}

func rawPlayers(sampleRate int) []audioPlayer {
	rate := strconv.Itoa(sampleRate)
	return []audioPlayer{
		{"play", []string{"-t", "raw", "-r", rate, "-e", "signed", "-b", "16", "-c", "1"}},
		{"ffplay", []string{"-f", "s16le", "-ar", rate, "-ac", "1", "-nodisp", "-autoexit"}},
		{"aplay", []string{"-f", "S16_LE", "-r", rate, "-c", "1"}},
	}
}

func wavPlayers() []audioPlayer {
	return []audioPlayer{
		{"afplay", nil},
		{"play", nil},
		{"ffplay", []string{"-nodisp", "-autoexit"}},
		{"aplay", nil},
	}
}

// playAudioFile tries each available player in turn
func playAudioFile(filename string, sampleRate int, wav bool) error {
	players := rawPlayers(sampleRate)
	if wav {
		players = wavPlayers()
	}

	for _, player := range players {
		if _, err := exec.LookPath(player.command); err != nil {
			continue
		}
		args := append(append([]string{}, player.args...), filename)
		if err := exec.Command(player.command, args...).Run(); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no suitable audio player found")
}

func playbackCommand(filename string, sampleRate int) []string {
	player := rawPlayers(sampleRate)[0]
	return append(append([]string{player.command}, player.args...), filename)
}
