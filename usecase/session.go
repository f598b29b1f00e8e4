package usecase

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
	"github.com/satriahrh/omnichat/server/internal/metrics"
)

const (
	opTranslate      = "translate"
	opSuggestReplies = "suggest_replies"
	opSummarize      = "summarize"
)

const (
	defaultEventBuffer = 64
	taskQueueSize      = 128
	persistTimeout     = 5 * time.Second
)

// SessionOptions tunes a Session
type SessionOptions struct {
	// EmotionAnalysis tags spoken messages with the speaker's emotion
	EmotionAnalysis bool
	// EventBuffer is the channel size of each subscriber
	EventBuffer int
}

// Session owns one conversation. Every read or write of its ConversationState
// runs as a task on a single goroutine, so the state needs no locking.
// Language-model calls run on their own goroutines and post their results
// back as tasks, keyed by the message id they were issued for.
type Session struct {
	id          string
	llm         repositories.LanguageModel
	preferences *PreferenceService
	replies     *SmartReplyPipeline
	opts        SessionOptions
	logger      *zap.Logger

	// owned by the run goroutine
	state       *entities.ConversationState
	generation  uint64
	pending     int
	idleWaiters []chan struct{}

	tasks     chan func()
	done      chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	snapshot atomic.Pointer[entities.Snapshot]

	persistMu sync.Mutex

	infoMu sync.Mutex
	info   entities.SessionInfo

	subsMu  sync.Mutex
	subs    map[int]chan domain.Event
	nextSub int
	closed  bool
}

// NewSession starts a session with prefs. preferences may be nil, in which
// case language changes are not persisted.
func NewSession(
	prefs entities.LanguagePreference,
	llm repositories.LanguageModel,
	preferences *PreferenceService,
	opts SessionOptions,
	logger *zap.Logger,
) *Session {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	info := entities.NewSessionInfo()
	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		id:          info.ID,
		llm:         llm,
		preferences: preferences,
		replies:     NewSmartReplyPipeline(llm, logger),
		opts:        opts,
		logger:      logger.With(zap.String("sessionID", info.ID)),
		state:       entities.NewConversationState(prefs),
		tasks:       make(chan func(), taskQueueSize),
		done:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		info:        info,
		subs:        make(map[int]chan domain.Event),
	}

	snap := s.state.Snapshot()
	s.snapshot.Store(&snap)

	go s.run()
	return s
}

func (s *Session) run() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.done:
			return
		}
	}
}

// do runs task on the session goroutine and waits for it to finish. Once a
// task is queued it always runs to completion, even if ctx is cancelled.
func (s *Session) do(ctx context.Context, task func()) error {
	select {
	case <-s.done:
		return domain.ErrSessionClosed
	default:
	}

	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		task()
	}

	select {
	case s.tasks <- wrapped:
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return domain.ErrSessionClosed
		}
	}
}

// post queues a completion without waiting for it
func (s *Session) post(task func()) {
	select {
	case s.tasks <- task:
	case <-s.done:
	}
}

// spawn runs work on its own goroutine and applies the completion it
// returns on the session goroutine. It must be called from a task.
func (s *Session) spawn(work func() func()) {
	s.pending++
	go func() {
		complete := work()
		s.post(func() {
			s.pending--
			if complete != nil {
				complete()
			}
			if s.pending == 0 {
				for _, ch := range s.idleWaiters {
					close(ch)
				}
				s.idleWaiters = nil
			}
		})
	}()
}

// ID returns the session id
func (s *Session) ID() string {
	return s.id
}

// Info returns the lifecycle record
func (s *Session) Info() entities.SessionInfo {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	return s.info
}

// Touch records client activity
func (s *Session) Touch() {
	s.infoMu.Lock()
	defer s.infoMu.Unlock()
	s.info.Touch(time.Now())
}

// Done is closed when the session ends
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the state as of the last mutation. It never blocks.
func (s *Session) Snapshot() entities.Snapshot {
	return *s.snapshot.Load()
}

// Subscribe returns a channel of every event published from now on, and a
// function that ends the subscription. Events are dropped for subscribers
// that fall behind.
func (s *Session) Subscribe() (<-chan domain.Event, func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	ch := make(chan domain.Event, s.opts.EventBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
}

// commit publishes a snapshot of the current state, then events stamped
// with its version. It runs on the session goroutine.
func (s *Session) commit(events ...domain.Event) {
	snap := s.state.Snapshot()
	s.snapshot.Store(&snap)

	now := time.Now()
	for _, event := range events {
		event.SessionID = s.id
		event.Version = snap.Version
		event.Timestamp = now
		s.broadcast(event)
	}
}

func (s *Session) broadcast(event domain.Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()

	if s.closed {
		return
	}
	for id, ch := range s.subs {
		select {
		case ch <- event:
		default:
			s.logger.Warn("Dropping event for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("type", string(event.Type)))
		}
	}
}

// AppendMessage appends text on behalf of the speaker whose turn it is. The
// translation and the smart replies for the new message are requested after
// it is visible to subscribers.
func (s *Session) AppendMessage(ctx context.Context, text string, emotion *entities.Emotion) (entities.Message, error) {
	var msg entities.Message
	var appendErr error

	if err := s.do(ctx, func() {
		msg, appendErr = s.appendLocked(text, emotion)
	}); err != nil {
		return entities.Message{}, err
	}
	return msg, appendErr
}

// AppendUtterance appends recognized speech. When emotion analysis is on,
// audio is classified first; classification never fails.
func (s *Session) AppendUtterance(ctx context.Context, text string, audio []byte, mimeType string) (entities.Message, error) {
	if strings.TrimSpace(text) == "" {
		return entities.Message{}, domain.NewValidationError("text", entities.ErrEmptyText)
	}

	var emotion *entities.Emotion
	if s.opts.EmotionAnalysis && len(audio) > 0 {
		e := s.llm.ClassifyEmotion(ctx, audio, mimeType)
		emotion = &e
	}
	return s.AppendMessage(ctx, text, emotion)
}

// SelectReply appends the smart reply at index as if it had been typed
func (s *Session) SelectReply(ctx context.Context, index int) (entities.Message, error) {
	var msg entities.Message
	var appendErr error

	if err := s.do(ctx, func() {
		text, err := s.state.Reply(index)
		if err != nil {
			appendErr = domain.NewValidationError("index", err)
			return
		}
		msg, appendErr = s.appendLocked(text, nil)
	}); err != nil {
		return entities.Message{}, err
	}
	return msg, appendErr
}

func (s *Session) appendLocked(text string, emotion *entities.Emotion) (entities.Message, error) {
	speaker := s.state.ActiveSpeaker()

	msg, err := s.state.Append(speaker, text, emotion)
	if err != nil {
		return entities.Message{}, domain.NewValidationError("text", err)
	}

	s.Touch()
	published := msg.Clone()
	s.commit(domain.Event{Type: domain.EventMessageAppended, Message: &published})

	source, target := entities.Direction(s.state.Preferences(), speaker)
	if entities.NeedsTranslation(source, target) {
		s.dispatchTranslation(msg, source, target)
	}

	req := s.replies.begin(s.state, msg)
	loading := s.state.SmartReplies()
	s.commit(domain.Event{Type: domain.EventRepliesLoading, Replies: &loading})
	s.dispatchReplies(req)

	return msg.Clone(), nil
}

func (s *Session) dispatchTranslation(msg entities.Message, source, target string) {
	s.spawn(func() func() {
		text, err := s.llm.Translate(s.ctx, msg.Text, source, target)
		return func() {
			s.applyTranslation(msg.ID, text, err)
		}
	})
}

func (s *Session) applyTranslation(messageID, text string, err error) {
	if !s.state.HasMessage(messageID) {
		metrics.StaleResults.WithLabelValues("translation").Inc()
		s.logger.Debug("Dropping translation for unknown message", zap.String("messageID", messageID))
		return
	}

	if err != nil {
		s.reportGatewayError(opTranslate, err)
	}
	s.recordLocked(messageID, text, err != nil)
}

// RecordTranslation stores a translation for messageID. It reports false,
// and changes nothing, when the message is no longer in the log.
func (s *Session) RecordTranslation(ctx context.Context, messageID, text string, failed bool) (bool, error) {
	var recorded bool
	err := s.do(ctx, func() {
		recorded = s.recordLocked(messageID, text, failed)
	})
	return recorded, err
}

func (s *Session) recordLocked(messageID, text string, failed bool) bool {
	if !s.state.RecordTranslation(messageID, text, failed) {
		metrics.StaleResults.WithLabelValues("translation").Inc()
		s.logger.Debug("Dropping translation for unknown message", zap.String("messageID", messageID))
		return false
	}

	translation, _ := s.state.Translation(messageID)
	s.commit(domain.Event{Type: domain.EventTranslationRecorded, Translation: &translation})
	return true
}

func (s *Session) dispatchReplies(req replyRequest) {
	s.spawn(func() func() {
		result := s.replies.generate(s.ctx, req)
		return func() {
			s.applyReplies(result)
		}
	})
}

func (s *Session) applyReplies(result replyResult) {
	if !s.replies.apply(s.state, result) {
		return
	}

	set := s.state.SmartReplies()
	s.commit(domain.Event{Type: domain.EventRepliesUpdated, Replies: &set})

	if result.Err != nil {
		s.reportGatewayError(opSuggestReplies, result.Err)
	}
}

// SetLanguage changes the language of speaker and persists it. Unsupported
// codes are rejected and nothing changes.
func (s *Session) SetLanguage(ctx context.Context, speaker entities.Speaker, code string) error {
	if !speaker.Valid() {
		return domain.NewValidationError("speaker", entities.ErrInvalidSpeaker)
	}

	var setErr error
	if err := s.do(ctx, func() {
		if err := s.state.SetLanguage(speaker, code); err != nil {
			setErr = domain.NewValidationError("language", err)
			return
		}

		prefs := s.state.Preferences()
		s.commit(domain.Event{Type: domain.EventLanguageChanged, Preferences: &prefs})
		s.persistLanguage(speaker)
	}); err != nil {
		return err
	}
	return setErr
}

// persistLanguage saves the preference off the session goroutine. Saves are
// serialized and each one writes the latest published value for speaker, so
// a slow earlier write cannot overwrite a newer choice.
func (s *Session) persistLanguage(speaker entities.Speaker) {
	if s.preferences == nil {
		return
	}

	s.spawn(func() func() {
		s.persistMu.Lock()
		defer s.persistMu.Unlock()

		code := s.Snapshot().Preferences.For(speaker)
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		err := s.preferences.SaveLanguage(ctx, speaker, code)
		if err == nil {
			return nil
		}
		return func() {
			s.logger.Warn("Failed to persist language preference",
				zap.String("speaker", string(speaker)),
				zap.String("language", code),
				zap.Error(err))
		}
	})
}

// Summarize requests a summary of the whole conversation. The result arrives
// as a summary_ready event.
func (s *Session) Summarize(ctx context.Context) error {
	var summarizeErr error
	if err := s.do(ctx, func() {
		if s.state.Len() == 0 {
			summarizeErr = domain.NewValidationError("conversation", entities.ErrEmptyConversation)
			return
		}

		s.state.BeginSummary()
		s.commit(domain.Event{Type: domain.EventSummaryLoading})

		history := s.state.Tail(0)
		generation := s.generation

		s.spawn(func() func() {
			summary, err := s.llm.Summarize(s.ctx, history)
			return func() {
				s.applySummary(generation, summary, err)
			}
		})
	}); err != nil {
		return err
	}
	return summarizeErr
}

func (s *Session) applySummary(generation uint64, summary string, err error) {
	if generation != s.generation {
		metrics.StaleResults.WithLabelValues("summary").Inc()
		return
	}

	if err != nil {
		s.state.FinishSummary("")
		s.commit(domain.Event{Type: domain.EventSummaryReady, Summary: s.state.Snapshot().Summary})
		s.reportGatewayError(opSummarize, err)
		return
	}

	s.state.FinishSummary(summary)
	s.commit(domain.Event{Type: domain.EventSummaryReady, Summary: summary})
}

// Reset clears the conversation and returns to A_TURN. Languages are kept.
// Results of calls issued before the reset are dropped when they arrive.
func (s *Session) Reset(ctx context.Context) error {
	return s.do(ctx, func() {
		s.state.Reset()
		s.generation++
		s.commit(domain.Event{Type: domain.EventSessionReset})
		s.logger.Info("Session reset")
	})
}

// reportGatewayError publishes a classified failure, plus key_required when
// the user has to supply another key
func (s *Session) reportGatewayError(op string, err error) {
	payload := domain.NewErrorPayload(op, err)
	s.logger.Warn("Language model call failed",
		zap.String("operation", op),
		zap.String("kind", string(payload.Kind)),
		zap.Error(err))

	events := []domain.Event{{Type: domain.EventGatewayError, Error: payload}}
	if payload.Kind.RequiresNewKey() {
		events = append(events, domain.Event{Type: domain.EventKeyRequired, Error: payload})
	}
	s.commit(events...)
}

// Idle waits until every background call issued so far, language-model or
// preference write, has completed and its result has been applied. Servers do
// not need it; it gives tests and tools a settled state to read.
func (s *Session) Idle(ctx context.Context) error {
	idle := make(chan struct{})
	if err := s.do(ctx, func() {
		if s.pending == 0 {
			close(idle)
			return
		}
		s.idleWaiters = append(s.idleWaiters, idle)
	}); err != nil {
		return err
	}

	select {
	case <-idle:
		return nil
	case <-s.done:
		return domain.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close ends the session. Later commands fail with ErrSessionClosed and late
// results are discarded.
func (s *Session) Close() {
	s.close(entities.SessionStatusTerminated)
}

func (s *Session) close(status entities.SessionStatus) {
	s.closeOnce.Do(func() {
		s.infoMu.Lock()
		if status == entities.SessionStatusExpired {
			s.info.Expire()
		} else {
			s.info.Terminate()
		}
		s.infoMu.Unlock()

		close(s.done)
		s.cancel()

		event := domain.Event{
			Type:      domain.EventSessionClosed,
			SessionID: s.id,
			Version:   s.Snapshot().Version,
			Timestamp: time.Now(),
		}

		s.subsMu.Lock()
		s.closed = true
		for id, ch := range s.subs {
			select {
			case ch <- event:
			default:
			}
			close(ch)
			delete(s.subs, id)
		}
		s.subsMu.Unlock()

		s.logger.Info("Session closed", zap.String("status", string(status)))
	})
}
