package cli

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/internal/api"
	"github.com/satriahrh/omnichat/server/internal/websocket"
)

const (
	audioChunkSize  = 3200
	audioChunkDelay = 100 * time.Millisecond
	wavHeaderSize   = 44
)

var (
	chatServer    string
	chatSaveAudio string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Hold a conversation with a running server from the terminal",
	Long: `Start a session on a running server and talk through it. Each typed
line is sent on the active speaker's turn. Lines starting with / are commands:

  /reply <1-3>        send a smart reply
  /lang <A|B> <code>  change a speaker's language
  /summary            summarize the conversation
  /reset              clear the conversation
  /speak <text>       synthesize text on the server
  /stop               stop speaking
  /gain <dB>          set the loudness gain
  /autospeak on|off   speak translations automatically
  /audio <file.wav>   send a recorded utterance
  /quit               leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatServer, "server", "s", "http://localhost:8080", "server base URL")
	chatCmd.Flags().StringVar(&chatSaveAudio, "save-audio", "", "directory to save synthesized audio to")
}

// errQuit ends the input loop
var errQuit = errors.New("quit")

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	session, err := createSession(chatServer)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session %s started. Type /quit to leave.\n", session.SessionID)

	wsURL, err := websocketURL(chatServer)
	if err != nil {
		return err
	}

	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+session.Token)

	conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	client := &chatClient{conn: conn, out: out, saveDir: chatSaveAudio}
	done := make(chan struct{})
	go func() {
		defer close(done)
		client.readLoop()
	}()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if err := client.handleLine(scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintf(out, "! %v\n", err)
		}

		select {
		case <-done:
			return nil
		default:
		}
	}

	err = conn.WriteMessage(gorillaws.CloseMessage, gorillaws.FormatCloseMessage(gorillaws.CloseNormalClosure, ""))
	if err != nil {
		logger.Debug("Failed to send close frame", zap.Error(err))
		return nil
	}
	select {
	case <-done:
	case <-time.After(time.Second):
	}
	return nil
}

func createSession(server string) (*api.CreateSessionResponse, error) {
	endpoint, err := url.JoinPath(server, "/api/v1/sessions")
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	resp, err := http.Post(endpoint, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("failed to create session: %s", strings.TrimSpace(string(body)))
	}

	var session api.CreateSessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("invalid session response: %w", err)
	}
	return &session, nil
}

// websocketURL turns the server base URL into its /ws endpoint
func websocketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}

	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String(), nil
}

// parseChatLine turns one input line into a command for the server. A nil
// command with a nil error means there is nothing to send.
func parseChatLine(line string) (interface{}, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	if !strings.HasPrefix(line, "/") {
		return &websocket.SendTextMessage{BaseMessage: base(websocket.MessageTypeSendText), Text: line}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "quit", "exit":
		return nil, errQuit

	case "reply":
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 || n > entities.MaxSmartReplies {
			return nil, fmt.Errorf("usage: /reply <1-%d>", entities.MaxSmartReplies)
		}
		return &websocket.SelectReplyMessage{BaseMessage: base(websocket.MessageTypeSelectReply), Index: n - 1}, nil

	case "lang":
		speaker, code, ok := strings.Cut(rest, " ")
		if !ok {
			return nil, errors.New("usage: /lang <A|B> <code>")
		}
		return &websocket.SetLanguageMessage{
			BaseMessage: base(websocket.MessageTypeSetLanguage),
			Speaker:     speaker,
			Code:        strings.TrimSpace(code),
		}, nil

	case "summary":
		return &websocket.ControlMessage{BaseMessage: base(websocket.MessageTypeSummarize)}, nil

	case "reset":
		return &websocket.ControlMessage{BaseMessage: base(websocket.MessageTypeReset)}, nil

	case "speak":
		if rest == "" {
			return nil, errors.New("usage: /speak <text>")
		}
		return &websocket.SpeakMessage{BaseMessage: base(websocket.MessageTypeSpeak), Text: rest}, nil

	case "stop":
		return &websocket.ControlMessage{BaseMessage: base(websocket.MessageTypeStopSpeaking)}, nil

	case "gain":
		db, err := strconv.Atoi(rest)
		if err != nil {
			return nil, errors.New("usage: /gain <dB>")
		}
		return &websocket.SetGainMessage{BaseMessage: base(websocket.MessageTypeSetGain), GainDB: db}, nil

	case "autospeak":
		switch strings.ToLower(rest) {
		case "on":
			return &websocket.SetAutoSpeakMessage{BaseMessage: base(websocket.MessageTypeSetAutoSpeak), Enabled: true}, nil
		case "off":
			return &websocket.SetAutoSpeakMessage{BaseMessage: base(websocket.MessageTypeSetAutoSpeak), Enabled: false}, nil
		}
		return nil, errors.New("usage: /autospeak on|off")

	case "audio":
		if rest == "" {
			return nil, errors.New("usage: /audio <file.wav>")
		}
		return audioFile(rest), nil
	}

	return nil, fmt.Errorf("unknown command /%s", name)
}

func base(t websocket.MessageType) websocket.BaseMessage {
	return websocket.BaseMessage{Type: t, Timestamp: time.Now().Format(time.RFC3339)}
}

// audioFile is the /audio command; it is streamed rather than sent as JSON
type audioFile string

// chatClient owns the connection of one terminal conversation
type chatClient struct {
	conn    *gorillaws.Conn
	out     io.Writer
	saveDir string

	writeMu sync.Mutex

	speech     *os.File
	speechSeen int
}

func (c *chatClient) handleLine(line string) error {
	command, err := parseChatLine(line)
	if err != nil || command == nil {
		return err
	}

	if path, ok := command.(audioFile); ok {
		return c.sendAudio(string(path))
	}
	return c.writeJSON(command)
}

func (c *chatClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *chatClient) writeBinary(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(gorillaws.BinaryMessage, data)
}

// sendAudio streams a recorded utterance the way a microphone would
func (c *chatClient) sendAudio(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read audio file: %w", err)
	}

	pcm, sampleRate := splitWAV(data)
	start := &websocket.ListeningStartMessage{
		BaseMessage: base(websocket.MessageTypeListeningStart),
		SampleRate:  sampleRate,
		Encoding:    "LINEAR16",
	}
	if err := c.writeJSON(start); err != nil {
		return err
	}

	for offset := 0; offset < len(pcm); offset += audioChunkSize {
		end := min(offset+audioChunkSize, len(pcm))
		if err := c.writeBinary(pcm[offset:end]); err != nil {
			return fmt.Errorf("failed to send audio chunk: %w", err)
		}
		time.Sleep(audioChunkDelay)
	}

	return c.writeJSON(&websocket.ControlMessage{BaseMessage: base(websocket.MessageTypeListeningEnd)})
}

// splitWAV strips a canonical RIFF header and reads its sample rate. Data
// without a header is taken as 16 kHz PCM.
func splitWAV(data []byte) ([]byte, int) {
	if len(data) >= wavHeaderSize && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WAVE" {
		rate := int(binary.LittleEndian.Uint32(data[24:28]))
		if rate > 0 {
			return data[wavHeaderSize:], rate
		}
	}
	return data, 16000
}

func (c *chatClient) readLoop() {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if !gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure) {
				fmt.Fprintf(c.out, "! connection closed: %v\n", err)
			}
			c.closeSpeech()
			return
		}

		if messageType == gorillaws.BinaryMessage {
			c.writeSpeech(data)
			continue
		}
		c.render(data)
	}
}

type frameType struct {
	Type string `json:"type"`
}

// render prints one server frame
func (c *chatClient) render(data []byte) {
	var frame frameType
	if err := json.Unmarshal(data, &frame); err != nil {
		fmt.Fprintf(c.out, "! unreadable frame: %v\n", err)
		return
	}

	switch websocket.MessageType(frame.Type) {
	case websocket.MessageTypeSnapshot:
		var msg websocket.SnapshotMessage
		if json.Unmarshal(data, &msg) == nil {
			c.renderSnapshot(msg.Snapshot)
		}
		return
	case websocket.MessageTypeError:
		var msg websocket.ErrorMessage
		if json.Unmarshal(data, &msg) == nil {
			fmt.Fprintf(c.out, "! %s: %s\n", msg.Code, msg.Message)
		}
		return
	case websocket.MessageTypeSpeechError:
		var msg websocket.SpeechErrorMessage
		if json.Unmarshal(data, &msg) == nil {
			fmt.Fprintf(c.out, "! %s failed: %s\n", msg.Stage, msg.Message)
		}
		return
	case websocket.MessageTypeListeningStarted:
		fmt.Fprintln(c.out, "~ listening")
		return
	case websocket.MessageTypeListeningEnded:
		fmt.Fprintln(c.out, "~ done listening")
		return
	case websocket.MessageTypeSpeakingStart:
		var msg websocket.SpeakingMessage
		if json.Unmarshal(data, &msg) == nil {
			c.openSpeech(msg.SampleRate)
		}
		return
	case websocket.MessageTypeSpeakingEnd:
		c.closeSpeech()
		return
	case websocket.MessageTypePong:
		return
	}

	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		fmt.Fprintf(c.out, "! unreadable event: %v\n", err)
		return
	}
	c.renderEvent(event)
}

func (c *chatClient) renderSnapshot(s entities.Snapshot) {
	fmt.Fprintf(c.out, "Languages: A=%s B=%s, %s speaks next\n",
		entities.LanguageName(s.Preferences.SpeakerA),
		entities.LanguageName(s.Preferences.SpeakerB),
		s.ActiveSpeaker)
	for _, msg := range s.Messages {
		c.renderMessage(msg)
		if tr, ok := s.TranslationFor(msg.ID); ok {
			c.renderTranslation(tr)
		}
	}
	if len(s.SmartReplies.Replies) > 0 {
		c.renderReplies(s.SmartReplies.Replies)
	}
}

func (c *chatClient) renderEvent(event domain.Event) {
	switch event.Type {
	case domain.EventMessageAppended:
		if event.Message != nil {
			c.renderMessage(*event.Message)
		}
	case domain.EventTranslationRecorded:
		if event.Translation != nil {
			c.renderTranslation(*event.Translation)
		}
	case domain.EventLanguageChanged:
		if event.Preferences != nil {
			fmt.Fprintf(c.out, "~ languages: A=%s B=%s\n",
				entities.LanguageName(event.Preferences.SpeakerA),
				entities.LanguageName(event.Preferences.SpeakerB))
		}
	case domain.EventRepliesLoading:
		fmt.Fprintln(c.out, "~ thinking of replies...")
	case domain.EventRepliesUpdated:
		if event.Replies != nil {
			c.renderReplies(event.Replies.Replies)
		}
	case domain.EventSummaryLoading:
		fmt.Fprintln(c.out, "~ summarizing...")
	case domain.EventSummaryReady:
		fmt.Fprintf(c.out, "Summary:\n%s\n", event.Summary)
	case domain.EventGatewayError:
		if event.Error != nil {
			fmt.Fprintf(c.out, "! %s failed (%s): %s\n", event.Error.Op, event.Error.Kind, event.Error.Message)
		}
	case domain.EventKeyRequired:
		fmt.Fprintln(c.out, "! a valid Gemini API key is required, run: omnichat key set <key>")
	case domain.EventSessionReset:
		fmt.Fprintln(c.out, "~ conversation cleared")
	case domain.EventSessionClosed:
		fmt.Fprintln(c.out, "~ session closed")
	}
}

func (c *chatClient) renderMessage(msg entities.Message) {
	emoji := ""
	if msg.Emotion != nil && msg.Emotion.Emoji != "" {
		emoji = " " + msg.Emotion.Emoji
	}
	fmt.Fprintf(c.out, "[%s]%s %s\n", msg.Speaker, emoji, msg.Text)
}

func (c *chatClient) renderTranslation(tr entities.Translation) {
	if tr.Failed {
		fmt.Fprintln(c.out, "    (translation failed)")
		return
	}
	fmt.Fprintf(c.out, "    -> %s\n", tr.Text)
}

func (c *chatClient) renderReplies(replies []string) {
	for i, reply := range replies {
		fmt.Fprintf(c.out, "  /reply %d  %s\n", i+1, reply)
	}
}

func (c *chatClient) openSpeech(sampleRate int) {
	c.closeSpeech()
	if c.saveDir == "" {
		return
	}

	if err := os.MkdirAll(c.saveDir, 0o755); err != nil {
		fmt.Fprintf(c.out, "! cannot save audio: %v\n", err)
		return
	}
	c.speechSeen++
	name := filepath.Join(c.saveDir, fmt.Sprintf("speech-%03d-%dhz.pcm", c.speechSeen, sampleRate))
	f, err := os.Create(name)
	if err != nil {
		fmt.Fprintf(c.out, "! cannot save audio: %v\n", err)
		return
	}
	c.speech = f
}

func (c *chatClient) writeSpeech(chunk []byte) {
	if c.speech == nil {
		return
	}
	if _, err := c.speech.Write(chunk); err != nil {
		fmt.Fprintf(c.out, "! cannot save audio: %v\n", err)
		c.closeSpeech()
	}
}

func (c *chatClient) closeSpeech() {
	if c.speech == nil {
		return
	}
	name := c.speech.Name()
	c.speech.Close()
	c.speech = nil
	fmt.Fprintf(c.out, "~ saved speech to %s\n", name)
}
