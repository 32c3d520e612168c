package grimoire

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
	"github.com/zhouzirui/grimoire/backend/internal/model/persona"
	"github.com/zhouzirui/grimoire/backend/internal/service/conversation"
	"github.com/zhouzirui/grimoire/backend/internal/service/identify"
	"github.com/zhouzirui/grimoire/backend/internal/service/pipeline"
	"github.com/zhouzirui/grimoire/backend/pkg/utils"
)

const (
	kindInvalidRequest = "InvalidRequest"
	kindNotFound       = "ConversationNotFound"
	kindInternal       = "InternalError"
)

// TurnRunner runs text and voice turns.
type TurnRunner interface {
	RunText(ctx context.Context, in pipeline.TextInput) (*pipeline.TextResult, error)
	RunVoice(ctx context.Context, in pipeline.VoiceInput) (*pipeline.VoiceResult, error)
}

// Identifier reads a cover photo.
type Identifier interface {
	Identify(ctx context.Context, imageBase64 string) (identify.Result, error)
}

// Handler serves the chat, voice and identify endpoints.
type Handler struct {
	turns      TurnRunner
	identifier Identifier
	logger     *zap.Logger
}

// New 创建处理器。turns 或 identifier 为 nil 时对应端点返回 503。
func New(turns TurnRunner, identifier Identifier, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		turns:      turns,
		identifier: identifier,
		logger:     logger.Named("grimoire"),
	}
}

// RegisterRoutes 注册对话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
	r.Post("/voice", h.handleVoice)
	r.Post("/identify", h.handleIdentify)
}

type chatRequest struct {
	BookTitle      string              `json:"bookTitle"`
	Author         string              `json:"author"`
	History        []chat.HistoryEntry `json:"history"`
	Question       string              `json:"question"`
	ConversationID string              `json:"conversationId"`
}

type chatResponse struct {
	Answer  string               `json:"answer"`
	Persona *persona.Persona     `json:"persona"`
	Failure pipeline.FailureKind `json:"failure,omitempty"`
}

// handleChat answers a typed question.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if h.turns == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, string(pipeline.UpstreamUnavailable), "text generation is not configured")
		return
	}

	var req chatRequest
	if !utils.DecodeRequest(w, r, &req) {
		return
	}

	result, err := h.turns.RunText(r.Context(), pipeline.TextInput{
		ConversationID: req.ConversationID,
		Book:           book.Book{Title: req.BookTitle, Author: req.Author},
		History:        req.History,
		Question:       req.Question,
	})
	if err != nil {
		h.respondTurnError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, chatResponse{
		Answer:  result.Answer,
		Persona: result.Persona,
		Failure: result.Failure,
	})
}

type voiceRequest struct {
	AudioBase64    string              `json:"audioBase64"`
	AudioFormat    string              `json:"audioFormat"`
	BookTitle      string              `json:"bookTitle"`
	Author         string              `json:"author"`
	History        []chat.HistoryEntry `json:"history"`
	ConversationID string              `json:"conversationId"`
}

type voiceResponse struct {
	Transcript    string               `json:"transcript"`
	Answer        string               `json:"answer"`
	Persona       *persona.Persona     `json:"persona"`
	AudioBase64   *string              `json:"audioBase64"`
	AudioMimeType *string              `json:"audioMimeType"`
	Failure       pipeline.FailureKind `json:"failure,omitempty"`
}

// handleVoice answers a recorded question.
func (h *Handler) handleVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if !utils.DecodeRequest(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.AudioBase64) == "" {
		utils.RespondError(w, http.StatusBadRequest, string(pipeline.MissingInput), "audioBase64 is required")
		return
	}
	if h.turns == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, string(pipeline.UpstreamUnavailable), "voice turns are not configured")
		return
	}

	audio, format, err := decodeAudio(req.AudioBase64)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, kindInvalidRequest, "audioBase64 is not valid base64")
		return
	}
	if req.AudioFormat != "" {
		format = req.AudioFormat
	}

	result, err := h.turns.RunVoice(r.Context(), pipeline.VoiceInput{
		ConversationID: req.ConversationID,
		Book:           book.Book{Title: req.BookTitle, Author: req.Author},
		History:        req.History,
		Audio:          audio,
		AudioFormat:    format,
	})
	if err != nil {
		h.respondTurnError(w, err)
		return
	}

	resp := voiceResponse{
		Transcript: result.Transcript,
		Answer:     result.Answer,
		Persona:    result.Persona,
		Failure:    result.Failure,
	}
	if len(result.Audio) > 0 {
		encoded := base64.StdEncoding.EncodeToString(result.Audio)
		mime := result.AudioMimeType
		resp.AudioBase64 = &encoded
		resp.AudioMimeType = &mime
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

type identifyRequest struct {
	ImageBase64 string `json:"imageBase64"`
}

// handleIdentify reads a cover photo into title and author.
func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if !utils.DecodeRequest(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.ImageBase64) == "" {
		utils.RespondJSON(w, http.StatusOK, identify.Result{})
		return
	}
	if h.identifier == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, string(pipeline.UpstreamUnavailable), "cover identification is not configured")
		return
	}

	result, err := h.identifier.Identify(r.Context(), req.ImageBase64)
	if err != nil {
		if errors.Is(err, identify.ErrInvalidImage) {
			utils.RespondError(w, http.StatusBadRequest, kindInvalidRequest, err.Error())
			return
		}
		h.logger.Error("identify failed", zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, string(pipeline.UpstreamUnavailable), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, result)
}

// respondTurnError maps pipeline failures onto HTTP statuses.
func (h *Handler) respondTurnError(w http.ResponseWriter, err error) {
	if errors.Is(err, conversation.ErrNotFound) {
		utils.RespondError(w, http.StatusNotFound, kindNotFound, err.Error())
		return
	}

	switch kind := pipeline.KindOf(err); kind {
	case pipeline.MissingInput:
		utils.RespondError(w, http.StatusBadRequest, string(kind), errorDetail(err))
	case pipeline.TranscriptionFailed:
		utils.RespondError(w, http.StatusBadGateway, string(kind), errorDetail(err))
	case pipeline.UpstreamUnavailable:
		utils.RespondError(w, http.StatusServiceUnavailable, string(kind), errorDetail(err))
	default:
		if errors.Is(err, context.Canceled) {
			h.logger.Info("client went away mid-turn", zap.Error(err))
			return
		}
		h.logger.Error("turn failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, kindInternal, err.Error())
	}
}

func errorDetail(err error) string {
	var pe *pipeline.Error
	if errors.As(err, &pe) && pe.Err != nil {
		return pe.Err.Error()
	}
	return err.Error()
}

// decodeAudio accepts bare base64 or a data URL, returning the bytes and any mime hint.
func decodeAudio(raw string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	hint := ""
	if strings.HasPrefix(raw, "data:") {
		meta, payload, ok := strings.Cut(raw, ",")
		if !ok {
			return nil, "", errors.New("malformed data url")
		}
		hint = strings.TrimSuffix(strings.TrimPrefix(meta, "data:"), ";base64")
		raw = payload
	}
	audio, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, "", err
	}
	return audio, hint, nil
}
