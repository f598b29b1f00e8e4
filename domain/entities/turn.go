package entities

// TurnState is the state of the two-party turn machine
type TurnState string

const (
	ATurn TurnState = "A_TURN"
	BTurn TurnState = "B_TURN"
)

// TurnController tracks whose turn it is. The zero value starts in A_TURN.
type TurnController struct {
	bTurn bool
}

// State returns the current turn state
func (t TurnController) State() TurnState {
	if t.bTurn {
		return BTurn
	}
	return ATurn
}

// Active returns the speaker whose turn it is
func (t TurnController) Active() Speaker {
	if t.bTurn {
		return SpeakerB
	}
	return SpeakerA
}

// Advance flips the turn. It is called exactly once per successful append.
func (t *TurnController) Advance() {
	t.bTurn = !t.bTurn
}

// Reset returns the machine to A_TURN
func (t *TurnController) Reset() {
	t.bTurn = false
}

// Direction returns the translation direction for a message written by speaker
func Direction(prefs LanguagePreference, speaker Speaker) (source, target string) {
	return prefs.For(speaker), prefs.For(speaker.Other())
}

// NeedsTranslation reports whether source and target differ
func NeedsTranslation(source, target string) bool {
	return NormalizeLanguage(source) != NormalizeLanguage(target)
}
