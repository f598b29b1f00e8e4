package entities

import (
	"sort"
	"strings"
)

// DefaultLanguage is applied to both speakers until a preference is stored
const DefaultLanguage = "en"

// DefaultLocale is what speech engines get for codes without a known locale
const DefaultLocale = "en-US"

// Language describes one entry of the supported language table
type Language struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Locale string `json:"locale"`
}

var supportedLanguages = map[string]Language{
	"en":  {Code: "en", Name: "English", Locale: "en-US"},
	"hi":  {Code: "hi", Name: "Hindi", Locale: "hi-IN"},
	"mr":  {Code: "mr", Name: "Marathi", Locale: "mr-IN"},
	"bn":  {Code: "bn", Name: "Bengali", Locale: "bn-IN"},
	"gu":  {Code: "gu", Name: "Gujarati", Locale: "gu-IN"},
	"pa":  {Code: "pa", Name: "Punjabi", Locale: "pa-Guru-IN"},
	"ta":  {Code: "ta", Name: "Tamil", Locale: "ta-IN"},
	"te":  {Code: "te", Name: "Telugu", Locale: "te-IN"},
	"ml":  {Code: "ml", Name: "Malayalam", Locale: "ml-IN"},
	"bho": {Code: "bho", Name: "Bhojpuri", Locale: "hi-IN"},
}

// SupportedLanguages returns the language table sorted by code
func SupportedLanguages() []Language {
	out := make([]Language, 0, len(supportedLanguages))
	for _, l := range supportedLanguages {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// NormalizeLanguage lowercases and trims a language code
func NormalizeLanguage(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// IsSupportedLanguage reports whether code is in the supported set
func IsSupportedLanguage(code string) bool {
	_, ok := supportedLanguages[NormalizeLanguage(code)]
	return ok
}

// LanguageName returns the display name, or the code itself when unknown
func LanguageName(code string) string {
	if l, ok := supportedLanguages[NormalizeLanguage(code)]; ok {
		return l.Name
	}
	return code
}

// LocaleFor maps a language code to the locale passed to speech engines
func LocaleFor(code string) string {
	if l, ok := supportedLanguages[NormalizeLanguage(code)]; ok {
		return l.Locale
	}
	return DefaultLocale
}

// LanguagePreference holds each speaker's chosen language
type LanguagePreference struct {
	SpeakerA string `json:"speaker_a"`
	SpeakerB string `json:"speaker_b"`
}

// DefaultLanguagePreference puts both speakers on DefaultLanguage
func DefaultLanguagePreference() LanguagePreference {
	return LanguagePreference{SpeakerA: DefaultLanguage, SpeakerB: DefaultLanguage}
}

// For returns the language chosen by speaker
func (p LanguagePreference) For(speaker Speaker) string {
	if speaker == SpeakerB {
		return p.SpeakerB
	}
	return p.SpeakerA
}

// With returns a copy of p with speaker's language replaced by code.
// The code must be in the supported set.
func (p LanguagePreference) With(speaker Speaker, code string) (LanguagePreference, error) {
	if !speaker.Valid() {
		return p, ErrInvalidSpeaker
	}
	code = NormalizeLanguage(code)
	if !IsSupportedLanguage(code) {
		return p, ErrUnsupportedLanguage
	}
	if speaker == SpeakerA {
		p.SpeakerA = code
	} else {
		p.SpeakerB = code
	}
	return p, nil
}
