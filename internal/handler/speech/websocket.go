package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/service/conversation"
	"github.com/zhouzirui/grimoire/backend/internal/service/pipeline"
	speechsvc "github.com/zhouzirui/grimoire/backend/internal/service/speech"
	"github.com/zhouzirui/grimoire/backend/pkg/utils"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
	// maxBufferedAudio caps a streamed clip before it is transcribed.
	maxBufferedAudio = 25 << 20
)

// TurnRunner runs text and voice turns for a socket.
type TurnRunner interface {
	RunText(ctx context.Context, in pipeline.TextInput) (*pipeline.TextResult, error)
	RunVoice(ctx context.Context, in pipeline.VoiceInput) (*pipeline.VoiceResult, error)
}

// WebSocketHandler WebSocket语音处理器
type WebSocketHandler struct {
	turns         TurnRunner
	conversations ConversationReader
	upgrader      websocket.Upgrader
	readTimeout   time.Duration
	logger        *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器。allowedOrigins 含 "*" 或为空时接受任意来源。
func NewWebSocketHandler(turns TurnRunner, conversations ConversationReader, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebSocketHandler{
		turns:         turns,
		conversations: conversations,
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		readTimeout: readTimeout,
		logger:      logger.Named("websocket"),
	}
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/{conversationID}", h.handleWebSocket)
}

type inboundMessage struct {
	Type           string          `json:"type"`
	ConversationID string          `json:"conversationId"`
	Data           json.RawMessage `json:"data"`
	Timestamp      int64           `json:"timestamp"`
}

// AudioMessage 音频消息，audioData 为 base64。
type AudioMessage struct {
	AudioData  []byte `json:"audioData"`
	Format     string `json:"format"`
	Language   string `json:"language"`
	IsFinal    bool   `json:"isFinal"`
	ChunkIndex int    `json:"chunkIndex"`
}

// TextMessage 文本消息
type TextMessage struct {
	Text string `json:"text"`
}

// ConfigMessage 配置消息
type ConfigMessage struct {
	Language   string `json:"language"`
	Voice      string `json:"voice"`
	Format     string `json:"format"`
	ASREnabled *bool  `json:"asrEnabled,omitempty"`
	TTSEnabled *bool  `json:"ttsEnabled,omitempty"`
	StreamMode *bool  `json:"streamMode,omitempty"`
}

type outgoingMessage struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId,omitempty"`
	Data           interface{} `json:"data,omitempty"`
	Timestamp      int64       `json:"timestamp"`
}

type connectionState struct {
	conversationID string
	book           book.Book
	language       string
	voice          string
	asrEnabled     bool
	ttsEnabled     bool
	streamMode     bool
	audioFormat    string
	buffer         bytes.Buffer
}

func newConnectionState(conversationID string, b book.Book) *connectionState {
	return &connectionState{
		conversationID: conversationID,
		book:           b,
		asrEnabled:     true,
		ttsEnabled:     true,
		streamMode:     true,
	}
}

// handleWebSocket 处理WebSocket连接
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")
	if h.turns == nil || h.conversations == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, string(pipeline.UpstreamUnavailable), "conversation turns are not configured")
		return
	}

	conv, err := h.conversations.Get(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			utils.RespondError(w, http.StatusNotFound, "ConversationNotFound", err.Error())
			return
		}
		h.logger.Error("load conversation failed", zap.String("conversationId", conversationID), zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, "InternalError", "failed to load conversation")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	logger := h.logger.With(zap.String("conversationId", conv.ID))
	logger.Info("connection opened", zap.String("title", conv.Book.Title))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxBufferedAudio * 2)
	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, conn)

	state := newConnectionState(conv.ID, conv.Book)
	h.sendResult(conn, state.conversationID, map[string]any{
		"type":  "connected",
		"title": conv.Book.Title,
		"turns": len(conv.Turns),
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read failed", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))

		var msg inboundMessage
		if err := sonic.Unmarshal(payload, &msg); err != nil {
			h.sendError(conn, "InvalidRequest", "invalid message")
			continue
		}
		if msg.ConversationID != "" && msg.ConversationID != state.conversationID {
			h.sendError(conn, "InvalidRequest", "conversation mismatch")
			continue
		}

		h.handleMessage(ctx, conn, state, &msg)
		// Pongs are not read while a turn runs, so the turn's duration must not count against the deadline.
		_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *WebSocketHandler) handleMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, msg *inboundMessage) {
	switch msg.Type {
	case "audio":
		h.handleAudioMessage(ctx, conn, state, msg.Data)
	case "text":
		h.handleTextMessage(ctx, conn, state, msg.Data)
	case "config":
		h.handleConfigMessage(conn, state, msg.Data)
	default:
		h.sendError(conn, "InvalidRequest", "unsupported message type: "+msg.Type)
	}
}

func (h *WebSocketHandler) handleTextMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var text TextMessage
	if err := sonic.Unmarshal(raw, &text); err != nil {
		h.sendError(conn, "InvalidRequest", "invalid text payload")
		return
	}
	if strings.TrimSpace(text.Text) == "" {
		h.sendError(conn, string(pipeline.MissingInput), "text is required")
		return
	}

	result, err := h.turns.RunText(ctx, pipeline.TextInput{
		ConversationID: state.conversationID,
		Book:           state.book,
		Question:       text.Text,
	})
	if err != nil {
		h.sendTurnError(conn, err)
		return
	}

	h.sendResult(conn, state.conversationID, map[string]any{
		"type":    "answer",
		"text":    result.Answer,
		"persona": result.Persona,
		"failure": result.Failure,
	})
}

func (h *WebSocketHandler) handleAudioMessage(ctx context.Context, conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	if !state.asrEnabled {
		h.sendResult(conn, state.conversationID, map[string]any{"type": "asr", "enabled": false})
		return
	}

	var audio AudioMessage
	if err := sonic.Unmarshal(raw, &audio); err != nil {
		h.sendError(conn, "InvalidRequest", "invalid audio payload")
		return
	}

	if state.buffer.Len()+len(audio.AudioData) > maxBufferedAudio {
		state.buffer.Reset()
		h.sendError(conn, "PayloadTooLarge", "audio clip exceeds the configured limit")
		return
	}
	state.buffer.Write(audio.AudioData)
	if format := speechsvc.NormalizeFormat(audio.Format); format != "" {
		state.audioFormat = format
	}
	if audio.Language != "" {
		state.language = audio.Language
	}

	if audio.IsFinal || !state.streamMode {
		h.processBufferedAudio(ctx, conn, state)
	}
}

func (h *WebSocketHandler) processBufferedAudio(ctx context.Context, conn *websocket.Conn, state *connectionState) {
	clip := append([]byte(nil), state.buffer.Bytes()...)
	state.buffer.Reset()
	if len(clip) == 0 {
		h.sendError(conn, string(pipeline.MissingInput), "no audio buffered")
		return
	}

	result, err := h.turns.RunVoice(ctx, pipeline.VoiceInput{
		ConversationID: state.conversationID,
		Book:           state.book,
		Audio:          clip,
		AudioFormat:    state.audioFormat,
		Language:       state.language,
		Voice:          state.voice,
		SkipSynthesis:  !state.ttsEnabled,
	})
	if err != nil {
		h.sendTurnError(conn, err)
		return
	}

	h.sendResult(conn, state.conversationID, map[string]any{
		"type":    "transcript",
		"text":    result.Transcript,
		"isFinal": true,
	})
	h.sendResult(conn, state.conversationID, map[string]any{
		"type":    "answer",
		"text":    result.Answer,
		"persona": result.Persona,
		"failure": result.Failure,
	})
	if len(result.Audio) > 0 {
		h.sendResult(conn, state.conversationID, map[string]any{
			"type":      "tts",
			"audioData": base64.StdEncoding.EncodeToString(result.Audio),
			"mimeType":  result.AudioMimeType,
			"isFinal":   true,
		})
	}
}

func (h *WebSocketHandler) handleConfigMessage(conn *websocket.Conn, state *connectionState, raw json.RawMessage) {
	var cfg ConfigMessage
	if err := sonic.Unmarshal(raw, &cfg); err != nil {
		h.sendError(conn, "InvalidRequest", "invalid config payload")
		return
	}

	applyConfig(state, cfg)

	h.sendResult(conn, state.conversationID, map[string]any{
		"type":       "config",
		"language":   state.language,
		"voice":      state.voice,
		"format":     state.audioFormat,
		"asr":        state.asrEnabled,
		"tts":        state.ttsEnabled,
		"streamMode": state.streamMode,
	})
}

// applyConfig ignores voices and formats the speech backend does not know.
func applyConfig(state *connectionState, cfg ConfigMessage) {
	if cfg.Language != "" {
		state.language = cfg.Language
	}
	if voice, ok := speechsvc.NormalizeVoice(cfg.Voice); ok {
		state.voice = voice
	}
	if format := speechsvc.NormalizeFormat(cfg.Format); format != "" {
		state.audioFormat = format
	}
	if cfg.ASREnabled != nil {
		state.asrEnabled = *cfg.ASREnabled
	}
	if cfg.TTSEnabled != nil {
		state.ttsEnabled = *cfg.TTSEnabled
	}
	if cfg.StreamMode != nil {
		state.streamMode = *cfg.StreamMode
	}
}

func (h *WebSocketHandler) sendTurnError(conn *websocket.Conn, err error) {
	if errors.Is(err, conversation.ErrNotFound) {
		h.sendError(conn, "ConversationNotFound", err.Error())
		return
	}
	kind := pipeline.KindOf(err)
	if kind == pipeline.FailureNone {
		h.logger.Error("turn failed", zap.Error(err))
		h.sendError(conn, "InternalError", err.Error())
		return
	}
	h.sendError(conn, string(kind), err.Error())
}

func (h *WebSocketHandler) sendResult(conn *websocket.Conn, conversationID string, data map[string]any) {
	h.write(conn, outgoingMessage{
		Type:           "result",
		ConversationID: conversationID,
		Data:           data,
		Timestamp:      time.Now().Unix(),
	})
}

func (h *WebSocketHandler) sendError(conn *websocket.Conn, kind, detail string) {
	h.write(conn, outgoingMessage{
		Type:      "error",
		Data:      utils.ErrorBody{Error: kind, Detail: detail},
		Timestamp: time.Now().Unix(),
	})
}

func (h *WebSocketHandler) write(conn *websocket.Conn, msg outgoingMessage) {
	payload, err := sonic.Marshal(msg)
	if err != nil {
		h.logger.Error("encode message failed", zap.Error(err))
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		h.logger.Warn("write message failed", zap.String("type", msg.Type), zap.Error(err))
	}
}

// pingLoop 定期发送ping消息。WriteControl 可与其他写操作并发调用。
func (h *WebSocketHandler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimSuffix(origin, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
