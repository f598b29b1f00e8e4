package audio

import (
	"encoding/binary"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain/repositories"
)

const (
	MinGainDB = 0
	MaxGainDB = 30
)

// LoudnessEnhancer applies a fixed gain to PCM16LE audio with hard clipping.
// It is safe for concurrent use; gain changes apply from the next chunk.
type LoudnessEnhancer struct {
	logger *zap.Logger

	mu        sync.RWMutex
	sessionID int
	active    bool
	gainDB    int
	factor    float64
}

var _ repositories.LoudnessCapability = (*LoudnessEnhancer)(nil)

// NewLoudnessEnhancer creates an enhancer that is off until Initialize
func NewLoudnessEnhancer(logger *zap.Logger) *LoudnessEnhancer {
	return &LoudnessEnhancer{logger: logger, factor: 1}
}

// Initialize attaches the enhancer to an audio session. A negative id fails
// and leaves the effect off.
func (l *LoudnessEnhancer) Initialize(audioSessionID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if audioSessionID < 0 {
		l.logger.Warn("Loudness enhancer unavailable", zap.Int("audioSessionID", audioSessionID))
		l.active = false
		return false
	}

	l.sessionID = audioSessionID
	l.active = true
	return true
}

// SetGain clamps db to 0..30 and reports whether the effect is active
func (l *LoudnessEnhancer) SetGain(db int) bool {
	db = ClampGain(db)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.gainDB = db
	l.factor = math.Pow(10, float64(db)/20)
	return l.active
}

// Gain returns the current gain in dB
func (l *LoudnessEnhancer) Gain() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.gainDB
}

// Process returns a gained copy of chunk. Inactive enhancers and a trailing
// odd byte pass through untouched.
func (l *LoudnessEnhancer) Process(chunk []byte) []byte {
	l.mu.RLock()
	active, gainDB, factor := l.active, l.gainDB, l.factor
	l.mu.RUnlock()

	if !active || gainDB == 0 {
		return chunk
	}

	out := make([]byte, len(chunk))
	copy(out, chunk)
	for i := 0; i+1 < len(out); i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(out[i:])))
		scaled := math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(sample*factor)))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(scaled)))
	}
	return out
}

func (l *LoudnessEnhancer) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.active = false
}

// ClampGain limits db to the supported range
func ClampGain(db int) int {
	return max(MinGainDB, min(MaxGainDB, db))
}
