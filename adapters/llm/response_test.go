package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satriahrh/omnichat/server/domain/entities"
)

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"plain", `["a","b","c"]`, `["a","b","c"]`},
		{"json fence", "```json\n[\"a\"]\n```", `["a"]`},
		{"uppercase fence", "```JSON\n[\"a\"]\n```", `["a"]`},
		{"bare fence", "```\n[\"a\"]\n```", `["a"]`},
		{"surrounding whitespace", "  \n```json [\"a\"] ```  \n", `["a"]`},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanResponse(tt.raw))
		})
	}
}

func TestParseReplies(t *testing.T) {
	t.Run("fenced array of strings", func(t *testing.T) {
		replies, err := ParseReplies("```json\n[\"Good, thanks!\", \"I'm fine.\", \"Doing great!\"]\n```")
		require.NoError(t, err)
		assert.Equal(t, []string{"Good, thanks!", "I'm fine.", "Doing great!"}, replies)
	})

	t.Run("objects and scalars are coerced", func(t *testing.T) {
		replies, err := ParseReplies(`[{"reply": "Sure, let's go"}, {"text": "Maybe later"}, 42]`)
		require.NoError(t, err)
		assert.Equal(t, []string{"Sure, let's go", "Maybe later", "42"}, replies)
	})

	t.Run("wrapped in object", func(t *testing.T) {
		replies, err := ParseReplies(`{"replies": ["one", "two", "three"]}`)
		require.NoError(t, err)
		assert.Len(t, replies, 3)
	})

	t.Run("more than three are truncated", func(t *testing.T) {
		replies, err := ParseReplies(`["1","2","3","4","5"]`)
		require.NoError(t, err)
		assert.Len(t, replies, entities.MaxSmartReplies)
	})

	t.Run("blank items are skipped", func(t *testing.T) {
		replies, err := ParseReplies(`["  ", "hello there friend"]`)
		require.NoError(t, err)
		assert.Equal(t, []string{"hello there friend"}, replies)
	})

	failures := map[string]string{
		"not json":            "Here are some replies: one, two, three",
		"empty":               "```json\n```",
		"not an array":        `"just a string"`,
		"object without text": `[{"score": 1}]`,
		"null item":           `[null, "ok"]`,
		"empty array":         `[]`,
	}
	for name, raw := range failures {
		t.Run(name, func(t *testing.T) {
			_, err := ParseReplies(raw)
			assert.Error(t, err)
		})
	}
}

func TestParseEmotion(t *testing.T) {
	emotion, err := ParseEmotion("```json\n{\"emotion\": \"happy\", \"emoji\": \"😊\", \"confidence\": 0.85}\n```")
	require.NoError(t, err)
	assert.Equal(t, entities.EmotionHappy, emotion.Label)
	assert.Equal(t, "😊", emotion.Emoji)
	assert.InDelta(t, 0.85, emotion.Confidence, 1e-9)

	emotion, err = ParseEmotion(`{"emotion": "Excited", "confidence": 1.7}`)
	require.NoError(t, err)
	assert.Equal(t, "🤩", emotion.Emoji, "missing emoji comes from the label table")
	assert.Equal(t, 1.0, emotion.Confidence, "confidence is clamped")

	_, err = ParseEmotion(`{"emotion": "Bored", "emoji": "😴", "confidence": 0.9}`)
	assert.Error(t, err)

	_, err = ParseEmotion(`not json`)
	assert.Error(t, err)
}

func TestUnquote(t *testing.T) {
	assert.Equal(t, "नमस्ते", unquote(`"नमस्ते"`))
	assert.Equal(t, "hola", unquote("“hola”"))
	assert.Equal(t, `say "hi"`, unquote(`say "hi"`))
	assert.Equal(t, `"`, unquote(`"`))
}
