package speech

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
	"github.com/zhouzirui/grimoire/backend/internal/model/speech"
	"github.com/zhouzirui/grimoire/backend/internal/service/conversation"
	personaservice "github.com/zhouzirui/grimoire/backend/internal/service/persona"
	"github.com/zhouzirui/grimoire/backend/internal/service/pipeline"
	speechsvc "github.com/zhouzirui/grimoire/backend/internal/service/speech"
	"github.com/zhouzirui/grimoire/backend/pkg/utils"
)

// maxUploadBytes bounds the multipart form kept in memory.
const maxUploadBytes = 32 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	TranscribeAudio(ctx context.Context, req *speech.ASRRequest) (*speech.ASRResponse, error)
	SynthesizeSpeech(ctx context.Context, req *speech.TTSRequest) (*speech.TTSResponse, error)
}

// ConversationReader looks up the book a conversation is about.
type ConversationReader interface {
	Get(ctx context.Context, id string) (chat.Conversation, error)
}

// PersonaResolver picks the persona, and so the voice, for a book.
type PersonaResolver interface {
	Resolve(ctx context.Context, title, author string) (personaservice.Result, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc     SpeechService
	conversations ConversationReader
	personas      PersonaResolver
	logger        *zap.Logger
}

// New 创建语音处理器。conversations 与 personas 可为 nil，此时合成只使用请求中的声音。
func New(speechSvc SpeechService, conversations ConversationReader, personas PersonaResolver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		speechSvc:     speechSvc,
		conversations: conversations,
		personas:      personas,
		logger:        logger.Named("speech"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/speech", func(speechRouter chi.Router) {
		// ASR 端点
		speechRouter.Post("/transcribe", h.handleTranscribe)
		speechRouter.Post("/transcribe/{conversationID}", h.handleTranscribe)

		// TTS 端点
		speechRouter.Post("/synthesize", h.handleSynthesize)
		speechRouter.Post("/synthesize/{conversationID}", h.handleSynthesize)

		speechRouter.Get("/health", h.handleHealth)
	})
}

// handleTranscribe 处理语音转文本请求
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, string(pipeline.UpstreamUnavailable), "speech is not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "InvalidRequest", "failed to parse multipart form: "+err.Error())
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, string(pipeline.MissingInput), "audio file is required")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "InvalidRequest", "failed to read audio file")
		return
	}

	conversationID := chi.URLParam(r, "conversationID")
	if conversationID == "" {
		conversationID = r.FormValue("conversationId")
	}

	resp, err := h.speechSvc.TranscribeAudio(r.Context(), &speech.ASRRequest{
		ConversationID: conversationID,
		AudioData:      audio,
		Format:         inferAudioFormat(header.Filename, r.FormValue("format")),
		Language:       r.FormValue("language"),
	})
	if err != nil {
		if errors.Is(err, speechsvc.ErrEmptyAudio) {
			utils.RespondError(w, http.StatusBadRequest, string(pipeline.MissingInput), err.Error())
			return
		}
		h.logger.Error("transcription failed", zap.String("conversationId", conversationID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, string(pipeline.TranscriptionFailed), "speech recognition failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, resp)
}

// handleSynthesize 处理文本转语音请求。路径带会话时，未指定声音则按该书人物的性别选择。
func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if h.speechSvc == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, string(pipeline.UpstreamUnavailable), "speech is not configured")
		return
	}

	var req speech.TTSRequest
	if !utils.DecodeRequest(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		utils.RespondError(w, http.StatusBadRequest, string(pipeline.MissingInput), "text is required")
		return
	}

	if conversationID := chi.URLParam(r, "conversationID"); conversationID != "" {
		req.ConversationID = conversationID
		if strings.TrimSpace(req.Voice) == "" && req.Gender == "" {
			gender, err := h.genderForConversation(r.Context(), conversationID)
			if err != nil {
				if errors.Is(err, conversation.ErrNotFound) {
					utils.RespondError(w, http.StatusNotFound, "ConversationNotFound", err.Error())
					return
				}
				h.logger.Warn("voice lookup failed, using neutral voice", zap.String("conversationId", conversationID), zap.Error(err))
			}
			req.Gender = gender
		}
	}

	resp, err := h.speechSvc.SynthesizeSpeech(r.Context(), &req)
	if err != nil {
		h.logger.Error("synthesis failed", zap.String("conversationId", req.ConversationID), zap.Error(err))
		utils.RespondError(w, http.StatusBadGateway, string(pipeline.SynthesisFailed), "speech synthesis failed")
		return
	}

	mime := resp.MimeType
	if mime == "" {
		mime = speechsvc.MimeType(resp.Format)
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.AudioData)))
	w.Header().Set("Content-Disposition", "attachment; filename=speech."+resp.Format)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(resp.AudioData); err != nil {
		h.logger.Warn("failed to write audio response", zap.Error(err))
	}
}

func (h *Handler) genderForConversation(ctx context.Context, conversationID string) (personamodel.Gender, error) {
	if h.conversations == nil || h.personas == nil {
		return "", nil
	}
	conv, err := h.conversations.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	result, err := h.personas.Resolve(ctx, conv.Book.Title, conv.Book.Author)
	if err != nil {
		return "", err
	}
	return result.Persona.Gender, nil
}

// handleHealth 健康检查端点
func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if h.speechSvc == nil {
		status = "unavailable"
	}
	utils.RespondJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"service": "speech",
	})
}

// inferAudioFormat 从表单字段或文件名推断音频格式，交给服务端再按内容识别。
func inferAudioFormat(filename, explicit string) string {
	if format := speechsvc.NormalizeFormat(explicit); format != "" {
		return format
	}
	return speechsvc.NormalizeFormat(filepath.Ext(filename))
}
