package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/omnichat/server/adapters/audio"
	"github.com/satriahrh/omnichat/server/adapters/llm"
	"github.com/satriahrh/omnichat/server/adapters/storage"
	"github.com/satriahrh/omnichat/server/adapters/stt"
	"github.com/satriahrh/omnichat/server/adapters/tts"
	"github.com/satriahrh/omnichat/server/domain"
	"github.com/satriahrh/omnichat/server/domain/entities"
	"github.com/satriahrh/omnichat/server/internal/api"
	"github.com/satriahrh/omnichat/server/internal/auth"
	"github.com/satriahrh/omnichat/server/internal/config"
	"github.com/satriahrh/omnichat/server/internal/websocket"
	"github.com/satriahrh/omnichat/server/usecase"
)

const testKey = "AIzaSyTestKey0123456789"

func useTestConfig(t *testing.T) {
	t.Helper()
	cfg = &config.Config{
		Storage: config.StorageConfig{
			Backend:    config.StoreSQLite,
			SQLitePath: filepath.Join(t.TempDir(), "omnichat.db"),
		},
		Gemini: config.GeminiSettings{Mock: true},
		Speech: config.SpeechConfig{Provider: config.SpeechMock},
	}
	logger = zap.NewNop()
}

func testCommand(in string) (*cobra.Command, *bytes.Buffer) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader(in))
	return cmd, &out
}

func TestNewServices_Backends(t *testing.T) {
	useTestConfig(t)

	svc, err := newServices(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &storage.SQLiteStore{}, svc.store)
	assert.Len(t, svc.closers, 1)
	svc.Close()
	assert.Empty(t, svc.closers)

	cfg.Storage.Backend = config.StoreMemory
	svc, err = newServices(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, svc.store)
	assert.Empty(t, svc.closers)

	cfg.Storage.Backend = "etcd"
	_, err = newServices(context.Background(), cfg, logger)
	assert.Error(t, err)
}

func TestNewServices_GeminiGateway(t *testing.T) {
	useTestConfig(t)
	cfg.Gemini.Mock = false

	svc, err := newServices(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer svc.Close()

	assert.IsType(t, &llm.GeminiGateway{}, svc.llm)
}

func TestSpeechProviders(t *testing.T) {
	logger := zap.NewNop()

	assert.IsType(t, &stt.MockSpeechToText{}, newSpeechToText(config.SpeechConfig{Provider: config.SpeechMock}, logger))
	assert.IsType(t, &stt.GoogleSpeechToText{}, newSpeechToText(config.SpeechConfig{Provider: config.SpeechGoogle}, logger))

	synth, err := newTextToSpeech(config.SpeechConfig{Provider: config.SpeechGoogle}, logger)
	require.NoError(t, err)
	assert.IsType(t, &tts.MockTextToSpeech{}, synth, "no Eleven Labs key falls back to the mock")

	synth, err = newTextToSpeech(config.SpeechConfig{
		Provider:   config.SpeechGoogle,
		ElevenLabs: tts.ElevenLabsConfig{APIKey: "xi-key"},
	}, logger)
	require.NoError(t, err)
	assert.IsType(t, &tts.ElevenLabsTTS{}, synth)
}

func TestKeyCommands(t *testing.T) {
	useTestConfig(t)

	cmd, out := testCommand("")
	err := runKeyCheck(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no API key configured")

	cmd, out = testCommand("")
	require.NoError(t, runKeySet(cmd, []string{testKey}))
	assert.Contains(t, out.String(), "saved")

	cmd, out = testCommand("")
	require.NoError(t, runKeyCheck(cmd, nil))
	assert.Contains(t, out.String(), "AIza")
	assert.NotContains(t, out.String(), testKey)

	cmd, out = testCommand("")
	require.NoError(t, runKeyRemove(cmd, nil))
	assert.Contains(t, out.String(), "removed")

	cmd, _ = testCommand("")
	assert.Error(t, runKeyCheck(cmd, nil))
}

func TestKeyToken(t *testing.T) {
	useTestConfig(t)

	cmd, _ := testCommand("")
	err := runKeyToken(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")

	cfg.Server.JWTSecret = "operator-secret"
	cmd, out := testCommand("")
	require.NoError(t, runKeyToken(cmd, nil))

	issuer, err := auth.NewIssuer("operator-secret", time.Hour)
	require.NoError(t, err)
	claims, err := issuer.ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, auth.RoleOperator, claims.Role)
}

func TestKeySet_InvalidFormat(t *testing.T) {
	useTestConfig(t)

	cmd, _ := testCommand("")
	err := runKeySet(cmd, []string{"not-a-key"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestDescribeKeyError(t *testing.T) {
	tests := []struct {
		kind domain.ErrorKind
		want string
	}{
		{domain.KindAuth, "rejected"},
		{domain.KindNotEnabled, "not enabled"},
		{domain.KindQuota, "quota"},
		{domain.KindUnknown, "could not verify"},
	}

	for _, tt := range tests {
		err := describeKeyError(&domain.GatewayError{Op: "check_key", Kind: tt.kind, Err: assert.AnError})
		assert.Contains(t, err.Error(), tt.want)
		assert.Equal(t, tt.kind, domain.KindOf(err))
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "AIza***************6789", maskKey(testKey))
	assert.Equal(t, "****", maskKey("abcd"))
}

func TestRunSpeak(t *testing.T) {
	useTestConfig(t)
	speakLanguage = "hi"
	speakOutput = filepath.Join(t.TempDir(), "out.wav")
	speakGain = 6
	speakWAV = true
	speakPlay = false

	cmd, out := testCommand("")
	require.NoError(t, runSpeak(cmd, []string{"namaste", "dosto"}))

	data, err := os.ReadFile(speakOutput)
	require.NoError(t, err)

	pcmBytes := 2 * 24000 * 150 / 1000 * 2
	assert.Len(t, data, 44+pcmBytes)
	assert.True(t, bytes.HasPrefix(data, []byte("RIFF")))
	assert.Contains(t, out.String(), "24000 Hz")
}

func TestRunSpeak_Validation(t *testing.T) {
	useTestConfig(t)
	speakLanguage = "xx"

	cmd, _ := testCommand("")
	err := runSpeak(cmd, []string{"hello"})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))

	speakLanguage = "en"
	err = runSpeak(cmd, []string{"  "})
	require.Error(t, err)
	assert.True(t, domain.IsValidation(err))
}

func TestParseChatLine(t *testing.T) {
	msg, err := parseChatLine("hello there")
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.(*websocket.SendTextMessage).Text)

	msg, err = parseChatLine("/reply 2")
	require.NoError(t, err)
	assert.Equal(t, 1, msg.(*websocket.SelectReplyMessage).Index)

	msg, err = parseChatLine("/lang b ta")
	require.NoError(t, err)
	lang := msg.(*websocket.SetLanguageMessage)
	assert.Equal(t, "b", lang.Speaker)
	assert.Equal(t, "ta", lang.Code)

	msg, err = parseChatLine("/autospeak on")
	require.NoError(t, err)
	assert.True(t, msg.(*websocket.SetAutoSpeakMessage).Enabled)

	msg, err = parseChatLine("/audio hello.wav")
	require.NoError(t, err)
	assert.Equal(t, audioFile("hello.wav"), msg)

	msg, err = parseChatLine("   ")
	assert.NoError(t, err)
	assert.Nil(t, msg)

	_, err = parseChatLine("/quit")
	assert.ErrorIs(t, err, errQuit)

	for _, bad := range []string{"/reply 4", "/reply x", "/lang A", "/gain loud", "/autospeak maybe", "/speak", "/dance"} {
		_, err := parseChatLine(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseChatLine_Validates(t *testing.T) {
	validator := &websocket.MessageValidator{}

	for _, line := range []string{"hi", "/reply 1", "/lang A hi", "/summary", "/reset", "/speak hi", "/stop", "/gain 10", "/autospeak off"} {
		msg, err := parseChatLine(line)
		require.NoError(t, err, line)

		data, err := json.Marshal(msg)
		require.NoError(t, err)

		_, err = validator.ValidateMessage(data)
		assert.NoError(t, err, line)
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":       "ws://localhost:8080/ws",
		"https://chat.example.com/":   "wss://chat.example.com/ws",
		"http://proxy.local/omnichat": "ws://proxy.local/omnichat/ws",
	}
	for in, want := range tests {
		got, err := websocketURL(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestSplitWAV(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}

	body, rate := splitWAV(audio.WrapWAV(pcm, 22050))
	assert.Equal(t, pcm, body)
	assert.Equal(t, 22050, rate)

	body, rate = splitWAV(pcm)
	assert.Equal(t, pcm, body)
	assert.Equal(t, 16000, rate)
}

func TestChatClient_Render(t *testing.T) {
	var out bytes.Buffer
	client := &chatClient{out: &out}

	msg, err := entities.NewMessage(entities.SpeakerA, "Hello", nil)
	require.NoError(t, err)

	frames := []interface{}{
		domain.Event{Type: domain.EventMessageAppended, Message: &msg},
		domain.Event{Type: domain.EventTranslationRecorded, Translation: &entities.Translation{MessageID: msg.ID, Text: "नमस्ते"}},
		domain.Event{Type: domain.EventRepliesUpdated, Replies: &entities.SmartReplySet{Replies: []string{"one", "two"}}},
		domain.Event{Type: domain.EventKeyRequired},
		websocket.CreateErrorMessage(websocket.ErrorCodeValidation, "text is empty", ""),
	}
	for _, frame := range frames {
		data, err := json.Marshal(frame)
		require.NoError(t, err)
		client.render(data)
	}

	text := out.String()
	assert.Contains(t, text, "[A] Hello")
	assert.Contains(t, text, "-> नमस्ते")
	assert.Contains(t, text, "/reply 2  two")
	assert.Contains(t, text, "omnichat key set")
	assert.Contains(t, text, "text is empty")
}

func TestChatClient_SavesSpeech(t *testing.T) {
	var out bytes.Buffer
	dir := t.TempDir()
	client := &chatClient{out: &out, saveDir: dir}

	start, _ := json.Marshal(websocket.SpeakingMessage{
		BaseMessage: base(websocket.MessageTypeSpeakingStart),
		SampleRate:  24000,
	})
	end, _ := json.Marshal(websocket.SpeakingMessage{BaseMessage: base(websocket.MessageTypeSpeakingEnd)})

	client.render(start)
	client.writeSpeech([]byte{1, 2, 3, 4})
	client.render(end)

	data, err := os.ReadFile(filepath.Join(dir, "speech-001-24000hz.pcm"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, data)
	assert.Contains(t, out.String(), "saved speech")
}

func TestRunChat(t *testing.T) {
	useTestConfig(t)
	nop := zap.NewNop()

	registry := usecase.NewSessionRegistry(llm.NewMockLanguageModel(), nil, usecase.SessionOptions{}, time.Hour, nop)
	defer registry.Stop()

	keys := usecase.NewKeyService(storage.NewMemoryStore(), "", nop)
	hub := websocket.NewHub(registry, stt.NewMockSpeechToText(nop), tts.NewMockTextToSpeech(nop), nop)
	go hub.Run()
	defer hub.Shutdown()

	issuer, err := auth.NewIssuer("secret", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	api.InitRoutes(e, registry, keys, hub, issuer, nop)
	server := httptest.NewServer(e)
	defer server.Close()

	chatServer = server.URL
	chatSaveAudio = ""

	cmd, out := testCommand("hello\n/quit\n")
	require.NoError(t, runChat(cmd, nil))

	assert.Contains(t, out.String(), "Session ")
	assert.Equal(t, 1, registry.Len(), "leaving the chat keeps the session until it is reaped")
}
