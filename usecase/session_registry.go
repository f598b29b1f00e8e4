package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
	"github.com/satriahrh/omnichat/server/internal/metrics"
)

// SessionRegistry tracks live sessions and reaps the idle ones
type SessionRegistry struct {
	llm         repositories.LanguageModel
	preferences *PreferenceService
	opts        SessionOptions
	idleTimeout time.Duration
	logger      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewSessionRegistry creates a registry. A zero idleTimeout uses the default.
func NewSessionRegistry(
	llm repositories.LanguageModel,
	preferences *PreferenceService,
	opts SessionOptions,
	idleTimeout time.Duration,
	logger *zap.Logger,
) *SessionRegistry {
	if idleTimeout <= 0 {
		idleTimeout = entities.DefaultIdleTimeout
	}
	return &SessionRegistry{
		llm:         llm,
		preferences: preferences,
		opts:        opts,
		idleTimeout: idleTimeout,
		logger:      logger,
		sessions:    make(map[string]*Session),
		stopChan:    make(chan struct{}),
	}
}

// Create starts a session with the persisted language preference
func (r *SessionRegistry) Create(ctx context.Context) (*Session, error) {
	prefs := entities.DefaultLanguagePreference()
	if r.preferences != nil {
		loaded, err := r.preferences.Load(ctx)
		if err != nil {
			r.logger.Warn("Failed to load language preference, using defaults", zap.Error(err))
		} else {
			prefs = loaded
		}
	}

	session := NewSession(prefs, r.llm, r.preferences, r.opts, r.logger)

	r.mu.Lock()
	r.sessions[session.ID()] = session
	r.mu.Unlock()

	metrics.ActiveSessions.Inc()
	r.logger.Info("Session created",
		zap.String("sessionID", session.ID()),
		zap.String("languageA", prefs.SpeakerA),
		zap.String("languageB", prefs.SpeakerB))

	return session, nil
}

// Get returns a live session
func (r *SessionRegistry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Remove closes and forgets a session
func (r *SessionRegistry) Remove(id string) error {
	session, ok := r.detach(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	session.Close()
	return nil
}

func (r *SessionRegistry) detach(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, false
	}
	delete(r.sessions, id)
	metrics.ActiveSessions.Dec()
	return session, true
}

// Len returns the number of live sessions
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Start begins the background reaper
func (r *SessionRegistry) Start() {
	go r.reapLoop()
	r.logger.Info("Session reaper started", zap.Duration("idleTimeout", r.idleTimeout))
}

// Stop stops the reaper and closes every session
func (r *SessionRegistry) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopChan)

		r.mu.Lock()
		sessions := r.sessions
		r.sessions = make(map[string]*Session)
		r.mu.Unlock()

		for _, session := range sessions {
			session.Close()
			metrics.ActiveSessions.Dec()
		}
		r.logger.Info("Session reaper stopped", zap.Int("closedSessions", len(sessions)))
	})
}

func (r *SessionRegistry) reapLoop() {
	interval := r.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopChan:
			return
		case now := <-ticker.C:
			r.Reap(now)
		}
	}
}

// Reap expires every session idle at now and returns how many were closed
func (r *SessionRegistry) Reap(now time.Time) int {
	r.mu.RLock()
	var idle []string
	for id, session := range r.sessions {
		if session.Info().IsIdle(now, r.idleTimeout) {
			idle = append(idle, id)
		}
	}
	r.mu.RUnlock()

	reaped := 0
	for _, id := range idle {
		if session, ok := r.detach(id); ok {
			session.close(entities.SessionStatusExpired)
			reaped++
		}
	}

	if reaped > 0 {
		r.logger.Info("Expired idle sessions", zap.Int("count", reaped))
	}
	return reaped
}
