package repositories

// LoudnessCapability boosts playback volume for one audio session.
// An Initialize failure is not fatal: the effect simply stays off.
type LoudnessCapability interface {
	Initialize(audioSessionID int) bool
	// SetGain accepts 0..30 dB
	SetGain(db int) bool
	// Process applies the current gain to a chunk of PCM16LE audio
	Process(chunk []byte) []byte
	Release()
}
