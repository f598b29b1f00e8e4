package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"google.golang.org/genai"

	"github.com/satriahrh/omnichat/server/domain/entities"
)

var leadingFence = regexp.MustCompile("(?i)^```(json)?")

var (
	errEmptyResponse = errors.New("empty response from model")
	errNoReplies     = errors.New("response contains no usable replies")
)

// CleanResponse strips one leading code fence and every closing fence, then trims whitespace
func CleanResponse(raw string) string {
	s := strings.TrimSpace(raw)
	s = leadingFence.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// responseText concatenates the text parts of the first candidate
func responseText(response *genai.GenerateContentResponse) string {
	if response == nil || len(response.Candidates) == 0 {
		return ""
	}
	candidate := response.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// ParseReplies decodes a JSON array of replies. Items may be strings, scalars or
// objects carrying a "reply" or "text" field; anything else is a parse failure.
// At most entities.MaxSmartReplies replies are returned.
func ParseReplies(raw string) ([]string, error) {
	cleaned := CleanResponse(raw)
	if cleaned == "" {
		return nil, errEmptyResponse
	}

	var decoded any
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}

	// Some responses wrap the array in an object
	if obj, ok := decoded.(map[string]any); ok {
		decoded = obj["replies"]
	}

	items, ok := decoded.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a JSON array, got %T", decoded)
	}

	replies := make([]string, 0, entities.MaxSmartReplies)
	for i, item := range items {
		text, err := coerceReply(item)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text == "" {
			continue
		}
		replies = append(replies, text)
		if len(replies) == entities.MaxSmartReplies {
			break
		}
	}

	if len(replies) == 0 {
		return nil, errNoReplies
	}
	return replies, nil
}

func coerceReply(item any) (string, error) {
	switch v := item.(type) {
	case string:
		return v, nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case map[string]any:
		for _, field := range []string{"reply", "text"} {
			if s, ok := v[field].(string); ok {
				return s, nil
			}
		}
		return "", errors.New("object has no reply field")
	}
	return "", fmt.Errorf("cannot use %T as a reply", item)
}

type emotionPayload struct {
	Emotion    string   `json:"emotion"`
	Emoji      string   `json:"emoji"`
	Confidence *float64 `json:"confidence"`
}

// ParseEmotion decodes the classifier's JSON object. Labels outside the fixed
// set are rejected; confidence is clamped to [0,1].
func ParseEmotion(raw string) (entities.Emotion, error) {
	var payload emotionPayload
	if err := json.Unmarshal([]byte(CleanResponse(raw)), &payload); err != nil {
		return entities.Emotion{}, fmt.Errorf("invalid JSON: %w", err)
	}

	label, ok := entities.ParseEmotionLabel(payload.Emotion)
	if !ok {
		return entities.Emotion{}, fmt.Errorf("unknown emotion %q", payload.Emotion)
	}

	confidence := 0.5
	if payload.Confidence != nil {
		confidence = min(max(*payload.Confidence, 0), 1)
	}

	emoji := strings.TrimSpace(payload.Emoji)
	if emoji == "" {
		emoji = label.Emoji()
	}

	return entities.Emotion{Label: label, Emoji: emoji, Confidence: confidence}, nil
}
