package llm

import (
	"fmt"
	"strings"

	"github.com/satriahrh/omnichat/server/domain/entities"
)

// pingPrompt is the smallest request that proves a key works
const pingPrompt = "ping"

// FormatHistory renders messages one per line as "UserA: text" / "UserB: text",
// with the emotion label appended when present
func FormatHistory(history []entities.Message) string {
	var b strings.Builder
	for _, m := range history {
		b.WriteString("User")
		b.WriteString(string(m.Speaker))
		b.WriteString(": ")
		b.WriteString(m.Text)
		if m.Emotion != nil {
			fmt.Fprintf(&b, " [%s %s]", m.Emotion.Label, m.Emotion.Emoji)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func languageLabel(code string) string {
	name := entities.LanguageName(code)
	if name == code {
		return code
	}
	return fmt.Sprintf("%s (%s)", name, code)
}

func translatePrompt(text, source, target string) string {
	return fmt.Sprintf(`Translate the following text from %s to %s:
"%s"

Respond with ONLY the translation, no explanations or additional text.`,
		languageLabel(source), languageLabel(target), text)
}

func smartRepliesPrompt(history []entities.Message, language string) string {
	lang := languageLabel(language)
	return fmt.Sprintf(`Here is the recent chat:
%s
Use only the context above for reference.
Do not address users as "UserA" or "UserB"; if needed, use the actual names mentioned in the chat.

Suggest exactly %d natural-sounding replies in %s that I could send next to continue the chat positively.

Guidelines for each reply:
- Between 4 and 20 words long.
- Warm, friendly, and polite, never blunt or curt.
- Match the tone and formality of the conversation.
- Avoid repeating questions or statements already in the context.
- No emojis unless they are used in the recent messages.
- Must be in %s.

Respond ONLY as a valid JSON array of %d strings with no extra text, no markdown, and no explanations.`,
		FormatHistory(history), entities.MaxSmartReplies, lang, lang, entities.MaxSmartReplies)
}

func summaryPrompt(history []entities.Message) string {
	return fmt.Sprintf(`Summarize the following conversation concisely but comprehensively.
Include key points, main topics discussed, and any important conclusions or decisions made.
Keep emotional context where relevant.

Conversation:
%s`, FormatHistory(history))
}

func emotionPrompt() string {
	var labels strings.Builder
	for _, l := range entities.EmotionLabels {
		fmt.Fprintf(&labels, "- %s %s\n", l, l.Emoji())
	}
	return fmt.Sprintf(`Analyze the emotional tone of the speaker in this audio clip.
Focus on voice characteristics such as pitch, pace, volume and intonation rather than the words.

Classify it as exactly one of:
%s
Respond in JSON format: {"emotion": "emotion_name", "emoji": "emoji", "confidence": 0.85}`, labels.String())
}
