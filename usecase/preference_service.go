package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
)

const (
	KeyUserALanguage = "@user_a_language"
	KeyUserBLanguage = "@user_b_language"
)

// PreferenceService persists the LanguagePreference across sessions
type PreferenceService struct {
	store  repositories.KeyValueStore
	logger *zap.Logger
}

// NewPreferenceService creates a new preference service
func NewPreferenceService(store repositories.KeyValueStore, logger *zap.Logger) *PreferenceService {
	return &PreferenceService{store: store, logger: logger}
}

func preferenceKey(speaker entities.Speaker) string {
	if speaker == entities.SpeakerB {
		return KeyUserBLanguage
	}
	return KeyUserALanguage
}

// Load reads both languages. Missing or unsupported values fall back to the default.
func (p *PreferenceService) Load(ctx context.Context) (entities.LanguagePreference, error) {
	prefs := entities.DefaultLanguagePreference()

	for _, speaker := range []entities.Speaker{entities.SpeakerA, entities.SpeakerB} {
		code, ok, err := p.store.Get(ctx, preferenceKey(speaker))
		if err != nil {
			return entities.DefaultLanguagePreference(), fmt.Errorf("failed to load language for speaker %s: %w", speaker, err)
		}
		if !ok {
			continue
		}

		updated, err := prefs.With(speaker, code)
		if err != nil {
			p.logger.Warn("Ignoring stored language",
				zap.String("speaker", string(speaker)),
				zap.String("code", code))
			continue
		}
		prefs = updated
	}

	return prefs, nil
}

// SaveLanguage stores the language of one speaker
func (p *PreferenceService) SaveLanguage(ctx context.Context, speaker entities.Speaker, code string) error {
	if !entities.IsSupportedLanguage(code) {
		return entities.ErrUnsupportedLanguage
	}
	if err := p.store.Set(ctx, preferenceKey(speaker), entities.NormalizeLanguage(code)); err != nil {
		return fmt.Errorf("failed to save language for speaker %s: %w", speaker, err)
	}
	return nil
}

// Save stores both languages
func (p *PreferenceService) Save(ctx context.Context, prefs entities.LanguagePreference) error {
	if err := p.SaveLanguage(ctx, entities.SpeakerA, prefs.SpeakerA); err != nil {
		return err
	}
	return p.SaveLanguage(ctx, entities.SpeakerB, prefs.SpeakerB)
}
