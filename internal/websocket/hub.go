package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/adapters/audio"
	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/domain/repositories"
	"github.com/satriahrh/omnichat/server/internal/metrics"
	"github.com/satriahrh/omnichat/server/usecase"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB for audio chunks

	// Time allowed for one session command.
	commandTimeout = 30 * time.Second

	defaultTTSSampleRate = 24000
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type sampleRater interface {
	SampleRate() int
}

// Hub maintains the set of active clients. Each client is attached to one
// conversation session and relays its events.
type Hub struct {
	// Registered clients.
	clients map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Mutex for thread-safe access to clients map
	mu sync.RWMutex

	stop     chan struct{}
	stopOnce sync.Once

	registry      *usecase.SessionRegistry
	sttRepo       repositories.SpeechToText
	ttsRepo       repositories.TextToSpeech
	ttsSampleRate int
	validator     *MessageValidator
	audioSessions atomic.Int32

	logger *zap.Logger
}

// NewHub creates a new WebSocket hub
func NewHub(
	registry *usecase.SessionRegistry,
	sttRepo repositories.SpeechToText,
	ttsRepo repositories.TextToSpeech,
	logger *zap.Logger,
) *Hub {
	sampleRate := defaultTTSSampleRate
	if sr, ok := ttsRepo.(sampleRater); ok && sr.SampleRate() > 0 {
		sampleRate = sr.SampleRate()
	}

	return &Hub{
		clients:       make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		stop:          make(chan struct{}),
		registry:      registry,
		sttRepo:       sttRepo,
		ttsRepo:       ttsRepo,
		ttsSampleRate: sampleRate,
		validator:     NewMessageValidator(),
		logger:        logger,
	}
}

// Run starts the hub's main loop. It returns after Shutdown.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			metrics.WebSocketClients.Inc()
			h.logger.Info("Client registered",
				zap.String("clientID", client.id),
				zap.String("sessionID", client.session.ID()))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				metrics.WebSocketClients.Dec()
			}
			h.mu.Unlock()
			client.close()
			h.logger.Info("Client unregistered", zap.String("clientID", client.id))

		case <-h.stop:
			h.mu.Lock()
			clients := h.clients
			h.clients = make(map[string]*Client)
			h.mu.Unlock()

			for _, client := range clients {
				metrics.WebSocketClients.Dec()
				client.close()
			}
			return
		}
	}
}

// Shutdown disconnects every client and stops Run
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientsForSession returns the ids of the clients attached to sessionID
func (h *Hub) ClientsForSession(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ids []string
	for id, client := range h.clients {
		if client.session.ID() == sessionID {
			ids = append(ids, id)
		}
	}
	return ids
}

// WriteData is one outbound frame
type WriteData struct {
	// MessageType is the type of the websocket message.
	// Expect websocket.TextMessage or websocket.BinaryMessage
	Type    int
	Payload []byte
}

// Client is a middleman between the websocket connection and a session.
type Client struct {
	id  string
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	session *usecase.Session
	logger  *zap.Logger

	recognizer  *usecase.Recognizer
	synthesizer *usecase.Synthesizer
	loudness    *audio.LoudnessEnhancer
	autoSpeak   atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	cleanup   []func()
}

// HandleWebSocketWithAuth upgrades the request and attaches the connection to
// sessionID, which the caller has already authorized
func HandleWebSocketWithAuth(hub *Hub, c echo.Context, sessionID string, logger *zap.Logger) error {
	session, err := hub.registry.Get(sessionID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(hub, conn, session, logger)
	select {
	case hub.register <- client:
	case <-hub.stop:
		client.close()
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

func newClient(hub *Hub, conn *websocket.Conn, session *usecase.Session, logger *zap.Logger) *Client {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	loudness := audio.NewLoudnessEnhancer(logger)
	loudness.Initialize(int(hub.audioSessions.Add(1)))

	recognizer := usecase.NewRecognizer(hub.sttRepo, logger)

	client := &Client{
		id:          id,
		hub:         hub,
		conn:        conn,
		send:        make(chan WriteData, 256),
		session:     session,
		logger:      logger.With(zap.String("clientID", id), zap.String("sessionID", session.ID())),
		recognizer:  recognizer,
		synthesizer: usecase.NewSynthesizer(hub.ttsRepo, loudness, recognizer, logger),
		loudness:    loudness,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	unsubscribeSpeech := recognizer.Subscribe(usecase.RecognizerHandlers{
		OnResult: client.onUtterance,
		OnError:  client.onRecognitionError,
		OnEnd:    client.onRecognitionEnd,
	})

	// the snapshot is queued before any event so the client starts from a
	// consistent state
	events, unsubscribeEvents := session.Subscribe()
	client.sendJSON(CreateSnapshotMessage(session.ID(), session.Snapshot()))
	go client.relayEvents(events)

	client.cleanup = []func(){unsubscribeEvents, unsubscribeSpeech}
	return client
}

// close releases everything the client holds. The session stays alive for
// reconnection until the registry reaps it.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		for _, fn := range c.cleanup {
			fn()
		}
		c.recognizer.Cancel()
		c.synthesizer.Stop()
		c.loudness.Release()
	})
}

// enqueue hands a frame to the write pump. It reports false once the client
// is closed.
func (c *Client) enqueue(data WriteData) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	case <-c.done:
		return false
	}
}

func (c *Client) sendJSON(v interface{}) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to encode message", zap.Error(err))
		return false
	}
	return c.enqueue(WriteData{Type: websocket.TextMessage, Payload: payload})
}

func (c *Client) sendError(code string, err error) {
	c.sendJSON(CreateErrorMessage(code, err.Error(), ""))
}

// readPump pumps messages from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stop:
			c.close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}

		c.session.Touch()

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.processBinaryAudioChunk(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.flush()
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes whatever is still queued
func (c *Client) flush() {
	for {
		select {
		case message := <-c.send:
			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

// relayEvents forwards session events until the subscription ends. The
// client is closed with it, since session_closed may have been dropped for a
// full buffer.
func (c *Client) relayEvents(events <-chan domain.Event) {
	defer c.close()

	for event := range events {
		if !c.sendJSON(event) {
			return
		}

		switch event.Type {
		case domain.EventTranslationRecorded:
			if c.autoSpeak.Load() && event.Translation != nil && !event.Translation.Failed {
				c.autoSpeakTranslation(*event.Translation)
			}
		case domain.EventSessionClosed:
			c.logger.Info("Session closed, disconnecting client")
			return
		}
	}
}

// autoSpeakTranslation speaks a translation in the language of the speaker
// it was made for
func (c *Client) autoSpeakTranslation(translation entities.Translation) {
	snapshot := c.session.Snapshot()
	msg, ok := snapshot.Message(translation.MessageID)
	if !ok {
		return
	}
	language := snapshot.Preferences.For(msg.Speaker.Other())
	go c.speak(translation.Text, language)
}

// processMessage processes incoming commands from the client
func (c *Client) processMessage(message []byte) {
	parsed, err := c.hub.validator.ValidateMessage(message)
	if err != nil {
		c.logger.Warn("Invalid message", zap.Error(err))
		c.sendError(ErrorCodeInvalidMessage, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	switch msg := parsed.(type) {
	case *SendTextMessage:
		_, err = c.session.AppendMessage(ctx, msg.Text, nil)
	case *SelectReplyMessage:
		_, err = c.session.SelectReply(ctx, msg.Index)
	case *SetLanguageMessage:
		err = c.session.SetLanguage(ctx, msg.ParsedSpeaker(), msg.Code)
	case *ListeningStartMessage:
		c.handleListeningStart(msg)
	case *SpeakMessage:
		language := msg.Language
		if language == "" {
			snapshot := c.session.Snapshot()
			language = snapshot.Preferences.For(snapshot.ActiveSpeaker)
		}
		go c.speak(msg.Text, language)
	case *SetGainMessage:
		active := c.loudness.SetGain(msg.GainDB)
		c.logger.Debug("Gain updated", zap.Int("gainDB", c.loudness.Gain()), zap.Bool("active", active))
	case *SetAutoSpeakMessage:
		c.autoSpeak.Store(msg.Enabled)
	case *PingMessage:
		c.sendJSON(CreatePongMessage(msg.Data))
	case *ControlMessage:
		switch msg.Type {
		case MessageTypeSummarize:
			err = c.session.Summarize(ctx)
		case MessageTypeReset:
			err = c.session.Reset(ctx)
		case MessageTypeListeningEnd:
			go c.recognizer.Stop()
		case MessageTypeStopSpeaking:
			c.synthesizer.Stop()
		}
	}

	if err != nil {
		c.reportCommandError(err)
	}
}

func (c *Client) reportCommandError(err error) {
	switch {
	case domain.IsValidation(err):
		c.sendError(ErrorCodeValidation, err)
	case errors.Is(err, domain.ErrSessionClosed):
		c.sendError(ErrorCodeSessionClosed, err)
	default:
		c.logger.Error("Command failed", zap.Error(err))
		c.sendError(ErrorCodeInternal, err)
	}
}

// processBinaryAudioChunk streams microphone audio to the open recognition
func (c *Client) processBinaryAudioChunk(data []byte) {
	if err := c.recognizer.Feed(data); err != nil {
		if errors.Is(err, usecase.ErrNotListening) {
			c.logger.Warn("Received binary audio chunk but not listening", zap.Int("size", len(data)))
			return
		}
		c.logger.Error("Failed to stream audio data", zap.Error(err))
		c.sendJSON(CreateSpeechErrorMessage("recognition", err))
		c.recognizer.Cancel()
	}
}

// handleListeningStart opens a recognition in the active speaker's language
func (c *Client) handleListeningStart(msg *ListeningStartMessage) {
	c.synthesizer.Stop()

	snapshot := c.session.Snapshot()
	language := snapshot.Preferences.For(snapshot.ActiveSpeaker)

	if err := c.recognizer.Start(c.ctx, language, msg.SampleRate, msg.Encoding); err != nil {
		c.logger.Error("Failed to initialize streaming transcription", zap.Error(err))
		c.sendJSON(CreateSpeechErrorMessage("recognition", err))
		return
	}

	c.logger.Info("Audio session started",
		zap.String("language", language),
		zap.Int("sampleRate", msg.SampleRate))

	c.sendJSON(&ListeningMessage{
		BaseMessage: newBase(MessageTypeListeningStarted),
		Language:    language,
	})
}

func (c *Client) onUtterance(u usecase.Utterance) {
	c.logger.Info("Transcription completed", zap.String("transcription", u.Text))

	ctx, cancel := context.WithTimeout(c.ctx, commandTimeout)
	defer cancel()

	wav := audio.WrapWAV(u.Audio, u.SampleRate)
	if _, err := c.session.AppendUtterance(ctx, u.Text, wav, "audio/wav"); err != nil {
		c.reportCommandError(err)
	}
}

func (c *Client) onRecognitionError(err error) {
	c.sendJSON(CreateSpeechErrorMessage("recognition", err))
}

func (c *Client) onRecognitionEnd() {
	c.sendJSON(&ListeningMessage{BaseMessage: newBase(MessageTypeListeningEnded)})
}

// speak streams synthesized audio as binary frames between speaking_start
// and speaking_end
func (c *Client) speak(text, language string) {
	c.sendJSON(&SpeakingMessage{
		BaseMessage: newBase(MessageTypeSpeakingStart),
		Text:        text,
		Language:    language,
		SampleRate:  c.hub.ttsSampleRate,
	})

	err := c.synthesizer.Speak(c.ctx, text, language, func(chunk []byte) error {
		if !c.enqueue(WriteData{Type: websocket.BinaryMessage, Payload: chunk}) {
			return context.Canceled
		}
		return nil
	})

	stopped := errors.Is(err, context.Canceled)
	if err != nil && !stopped {
		c.logger.Error("Failed to convert text to speech", zap.Error(err))
		c.sendJSON(CreateSpeechErrorMessage("synthesis", err))
	}

	c.sendJSON(&SpeakingMessage{
		BaseMessage: newBase(MessageTypeSpeakingEnd),
		Stopped:     stopped,
	})
}
