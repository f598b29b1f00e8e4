package entities

// TranslationFailedText is recorded in place of a translation that could not be produced
const TranslationFailedText = "(Translation failed)"

// Translation is the rendering of one message in the other speaker's language
type Translation struct {
	MessageID string `json:"message_id"`
	Text      string `json:"text"`
	Failed    bool   `json:"failed,omitempty"`
}

// SmartReplySet holds at most three suggestions for the speaker who answers ForMessageID
type SmartReplySet struct {
	ForMessageID string   `json:"for_message_id,omitempty"`
	Language     string   `json:"language,omitempty"`
	Replies      []string `json:"replies"`
}

// MaxSmartReplies bounds the size of a SmartReplySet
const MaxSmartReplies = 3

// ConversationState is the single source of truth for one session. It is not safe
// for concurrent use; the owning session serializes every call.
type ConversationState struct {
	messages     []Message
	index        map[string]int
	translations map[string]Translation
	prefs        LanguagePreference
	turn         TurnController

	replies        SmartReplySet
	repliesLoading bool

	summary        string
	summaryLoading bool

	version uint64
}

// NewConversationState creates an empty conversation in A_TURN
func NewConversationState(prefs LanguagePreference) *ConversationState {
	if prefs.SpeakerA == "" {
		prefs.SpeakerA = DefaultLanguage
	}
	if prefs.SpeakerB == "" {
		prefs.SpeakerB = DefaultLanguage
	}
	return &ConversationState{
		index:        make(map[string]int),
		translations: make(map[string]Translation),
		prefs:        prefs,
		replies:      SmartReplySet{Replies: []string{}},
	}
}

// Append adds a message written by speaker and flips the turn
func (c *ConversationState) Append(speaker Speaker, text string, emotion *Emotion) (Message, error) {
	msg, err := NewMessage(speaker, text, emotion)
	if err != nil {
		return Message{}, err
	}

	c.index[msg.ID] = len(c.messages)
	c.messages = append(c.messages, msg)
	c.turn.Advance()
	c.version++
	return msg, nil
}

// RecordTranslation stores the translation for messageID. It returns false, and
// changes nothing, when the message is not in the log.
func (c *ConversationState) RecordTranslation(messageID, text string, failed bool) bool {
	if !c.HasMessage(messageID) {
		return false
	}
	if failed {
		text = TranslationFailedText
	}
	c.translations[messageID] = Translation{MessageID: messageID, Text: text, Failed: failed}
	c.version++
	return true
}

// Translation returns the translation recorded for messageID
func (c *ConversationState) Translation(messageID string) (Translation, bool) {
	t, ok := c.translations[messageID]
	return t, ok
}

// SetLanguage changes the language for speaker. Existing translations are kept.
func (c *ConversationState) SetLanguage(speaker Speaker, code string) error {
	prefs, err := c.prefs.With(speaker, code)
	if err != nil {
		return err
	}
	c.prefs = prefs
	c.version++
	return nil
}

// Preferences returns the current language preference
func (c *ConversationState) Preferences() LanguagePreference {
	return c.prefs
}

// ActiveSpeaker returns whose turn it is
func (c *ConversationState) ActiveSpeaker() Speaker {
	return c.turn.Active()
}

// HasMessage reports whether id is in the log
func (c *ConversationState) HasMessage(id string) bool {
	_, ok := c.index[id]
	return ok
}

// Len returns the number of messages
func (c *ConversationState) Len() int {
	return len(c.messages)
}

// LastMessage returns the most recently appended message
func (c *ConversationState) LastMessage() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Tail returns a copy of the last n messages, or all of them when n <= 0
func (c *ConversationState) Tail(n int) []Message {
	start := 0
	if n > 0 && len(c.messages) > n {
		start = len(c.messages) - n
	}
	return copyMessages(c.messages[start:])
}

// BeginReplies marks a smart-reply request for messageID as in flight.
// The previous set is cleared because it answered an older message.
func (c *ConversationState) BeginReplies(messageID, language string) {
	c.replies = SmartReplySet{ForMessageID: messageID, Language: language, Replies: []string{}}
	c.repliesLoading = true
	c.version++
}

// SetReplies replaces the current set wholesale
func (c *ConversationState) SetReplies(set SmartReplySet) {
	if len(set.Replies) > MaxSmartReplies {
		set.Replies = set.Replies[:MaxSmartReplies]
	}
	if set.Replies == nil {
		set.Replies = []string{}
	}
	c.replies = SmartReplySet{
		ForMessageID: set.ForMessageID,
		Language:     set.Language,
		Replies:      append([]string(nil), set.Replies...),
	}
	c.repliesLoading = false
	c.version++
}

// SmartReplies returns the current set
func (c *ConversationState) SmartReplies() SmartReplySet {
	return SmartReplySet{
		ForMessageID: c.replies.ForMessageID,
		Language:     c.replies.Language,
		Replies:      append([]string{}, c.replies.Replies...),
	}
}

// Reply returns the suggestion at index
func (c *ConversationState) Reply(index int) (string, error) {
	if index < 0 || index >= len(c.replies.Replies) {
		return "", ErrReplyIndex
	}
	return c.replies.Replies[index], nil
}

// BeginSummary marks a summary request as in flight
func (c *ConversationState) BeginSummary() {
	c.summaryLoading = true
	c.version++
}

// FinishSummary stores text as the latest summary. An empty text keeps the previous one.
func (c *ConversationState) FinishSummary(text string) {
	if text != "" {
		c.summary = text
	}
	c.summaryLoading = false
	c.version++
}

// Reset clears the log, translations, replies and summary, and returns to A_TURN.
// Language preferences survive.
func (c *ConversationState) Reset() {
	c.messages = nil
	c.index = make(map[string]int)
	c.translations = make(map[string]Translation)
	c.turn.Reset()
	c.replies = SmartReplySet{Replies: []string{}}
	c.repliesLoading = false
	c.summary = ""
	c.summaryLoading = false
	c.version++
}

// Snapshot returns an immutable copy of the state
func (c *ConversationState) Snapshot() Snapshot {
	translations := make(map[string]Translation, len(c.translations))
	for id, t := range c.translations {
		translations[id] = t
	}
	return Snapshot{
		Version:        c.version,
		Messages:       copyMessages(c.messages),
		Translations:   translations,
		Preferences:    c.prefs,
		ActiveSpeaker:  c.turn.Active(),
		Turn:           c.turn.State(),
		SmartReplies:   c.SmartReplies(),
		RepliesLoading: c.repliesLoading,
		Summary:        c.summary,
		SummaryLoading: c.summaryLoading,
	}
}

// Snapshot is a read-only view of a conversation at one version
type Snapshot struct {
	Version        uint64                 `json:"version"`
	Messages       []Message              `json:"messages"`
	Translations   map[string]Translation `json:"translations"`
	Preferences    LanguagePreference     `json:"preferences"`
	ActiveSpeaker  Speaker                `json:"active_speaker"`
	Turn           TurnState              `json:"turn"`
	SmartReplies   SmartReplySet          `json:"smart_replies"`
	RepliesLoading bool                   `json:"replies_loading"`
	Summary        string                 `json:"summary,omitempty"`
	SummaryLoading bool                   `json:"summary_loading"`
}

// TranslationFor returns the recorded translation of messageID
func (s Snapshot) TranslationFor(messageID string) (Translation, bool) {
	t, ok := s.Translations[messageID]
	return t, ok
}

// Message returns the message with id
func (s Snapshot) Message(id string) (Message, bool) {
	for _, m := range s.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

func copyMessages(in []Message) []Message {
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
