package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
	"github.com/zhouzirui/grimoire/backend/internal/service/conversation"
	"github.com/zhouzirui/grimoire/backend/internal/service/pipeline"
)

func boolPtr(v bool) *bool { return &v }

func TestApplyConfigUpdatesState(t *testing.T) {
	state := newConnectionState("conv", book.Book{Title: "Emma"})

	applyConfig(state, ConfigMessage{
		Language:   "en",
		Voice:      "Nova",
		Format:     "audio/webm",
		ASREnabled: boolPtr(false),
		TTSEnabled: boolPtr(false),
		StreamMode: boolPtr(false),
	})

	if state.language != "en" {
		t.Fatalf("expected language en, got %s", state.language)
	}
	if state.voice != "nova" {
		t.Fatalf("expected voice nova, got %s", state.voice)
	}
	if state.audioFormat != "webm" {
		t.Fatalf("expected webm, got %s", state.audioFormat)
	}
	if state.asrEnabled || state.ttsEnabled || state.streamMode {
		t.Fatalf("expected toggles disabled, got %+v", state)
	}

	applyConfig(state, ConfigMessage{Voice: "not-a-voice", Format: "tape"})
	if state.voice != "nova" || state.audioFormat != "webm" {
		t.Fatalf("unknown voice or format should be ignored, got %s %s", state.voice, state.audioFormat)
	}
}

type recordingRunner struct {
	mu     sync.Mutex
	texts  []pipeline.TextInput
	voices []pipeline.VoiceInput
}

func (r *recordingRunner) RunText(_ context.Context, in pipeline.TextInput) (*pipeline.TextResult, error) {
	r.mu.Lock()
	r.texts = append(r.texts, in)
	r.mu.Unlock()
	return &pipeline.TextResult{
		Answer:  "I am Emma.",
		Persona: &personamodel.Persona{IsFiction: true, Role: personamodel.RoleProtagonist, Name: "Emma", Gender: personamodel.GenderFemale},
	}, nil
}

func (r *recordingRunner) RunVoice(_ context.Context, in pipeline.VoiceInput) (*pipeline.VoiceResult, error) {
	r.mu.Lock()
	r.voices = append(r.voices, in)
	r.mu.Unlock()
	result := &pipeline.VoiceResult{Transcript: "Who are you?", Answer: "I am Emma."}
	if !in.SkipSynthesis {
		result.Audio = []byte("mp3")
		result.AudioMimeType = "audio/mpeg"
	}
	return result, nil
}

func dialConversation(t *testing.T, runner TurnRunner, store ConversationReader, conversationID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	r := chi.NewRouter()
	NewWebSocketHandler(runner, store, nil, nil).RegisterWebSocketRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/" + conversationID
	return websocket.DefaultDialer.Dial(url, nil)
}

type received struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func readMessage(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func send(t *testing.T, conn *websocket.Conn, msgType string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": msgType, "data": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketTextTurn(t *testing.T) {
	store := conversation.NewMemoryStore()
	conv, _ := store.Create(context.Background(), book.Book{Title: "Emma", Author: "Jane Austen"})
	runner := &recordingRunner{}

	conn, _, err := dialConversation(t, runner, store, conv.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if msg := readMessage(t, conn); msg.Type != "result" || msg.Data["type"] != "connected" {
		t.Fatalf("expected connected, got %+v", msg)
	}

	send(t, conn, "text", map[string]string{"text": "Who are you?"})
	msg := readMessage(t, conn)
	if msg.Data["type"] != "answer" || msg.Data["text"] != "I am Emma." {
		t.Fatalf("unexpected answer %+v", msg)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.texts) != 1 || runner.texts[0].ConversationID != conv.ID || runner.texts[0].Book.Title != "Emma" || runner.texts[0].History != nil {
		t.Fatalf("unexpected text input %+v", runner.texts)
	}
}

func TestWebSocketStreamsAudioUntilFinal(t *testing.T) {
	store := conversation.NewMemoryStore()
	conv, _ := store.Create(context.Background(), book.Book{Title: "Emma"})
	runner := &recordingRunner{}

	conn, _, err := dialConversation(t, runner, store, conv.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn)

	send(t, conn, "config", map[string]any{"ttsEnabled": false, "format": "webm"})
	if msg := readMessage(t, conn); msg.Data["type"] != "config" || msg.Data["tts"] != false {
		t.Fatalf("unexpected config ack %+v", msg)
	}

	send(t, conn, "audio", map[string]any{"audioData": []byte("part-one-"), "chunkIndex": 0})
	send(t, conn, "audio", map[string]any{"audioData": []byte("part-two"), "chunkIndex": 1, "isFinal": true})

	if msg := readMessage(t, conn); msg.Data["type"] != "transcript" || msg.Data["text"] != "Who are you?" {
		t.Fatalf("unexpected transcript %+v", msg)
	}
	if msg := readMessage(t, conn); msg.Data["type"] != "answer" {
		t.Fatalf("unexpected answer %+v", msg)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.voices) != 1 {
		t.Fatalf("expected one voice turn, got %d", len(runner.voices))
	}
	in := runner.voices[0]
	if string(in.Audio) != "part-one-part-two" || in.AudioFormat != "webm" || !in.SkipSynthesis {
		t.Fatalf("unexpected voice input %+v", in)
	}
}

type slowRunner struct {
	recordingRunner
	delay time.Duration
}

func (r *slowRunner) RunText(ctx context.Context, in pipeline.TextInput) (*pipeline.TextResult, error) {
	time.Sleep(r.delay)
	return r.recordingRunner.RunText(ctx, in)
}

func TestWebSocketSurvivesTurnLongerThanReadTimeout(t *testing.T) {
	store := conversation.NewMemoryStore()
	conv, _ := store.Create(context.Background(), book.Book{Title: "Emma"})
	runner := &slowRunner{delay: 500 * time.Millisecond}

	h := NewWebSocketHandler(runner, store, nil, nil)
	h.readTimeout = 200 * time.Millisecond
	r := chi.NewRouter()
	h.RegisterWebSocketRoutes(r)
	server := httptest.NewServer(r)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws/"+conv.ID, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn)

	for i := 0; i < 2; i++ {
		send(t, conn, "text", map[string]string{"text": "Who are you?"})
		if msg := readMessage(t, conn); msg.Data["type"] != "answer" {
			t.Fatalf("turn %d: unexpected message %+v", i, msg)
		}
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.texts) != 2 {
		t.Fatalf("expected two turns on one socket, got %d", len(runner.texts))
	}
}

func TestWebSocketUnknownConversation(t *testing.T) {
	_, resp, err := dialConversation(t, &recordingRunner{}, conversation.NewMemoryStore(), "missing")
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 response, got %+v", resp)
	}
}

func TestWebSocketUnsupportedMessage(t *testing.T) {
	store := conversation.NewMemoryStore()
	conv, _ := store.Create(context.Background(), book.Book{Title: "Emma"})

	conn, _, err := dialConversation(t, &recordingRunner{}, store, conv.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readMessage(t, conn)

	send(t, conn, "video", map[string]any{})
	if msg := readMessage(t, conn); msg.Type != "error" || msg.Data["error"] != "InvalidRequest" {
		t.Fatalf("expected InvalidRequest error, got %+v", msg)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://grimoire.app/"})

	req := httptest.NewRequest(http.MethodGet, "/ws/x", nil)
	req.Header.Set("Origin", "https://grimoire.app")
	if !check(req) {
		t.Fatal("listed origin should be accepted")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatal("unlisted origin should be rejected")
	}
	if !originChecker([]string{"*"})(req) {
		t.Fatal("wildcard should accept any origin")
	}
}
