package conversation

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
	conversationservice "github.com/zhouzirui/grimoire/backend/internal/service/conversation"
	"github.com/zhouzirui/grimoire/backend/pkg/utils"
)

const (
	kindNotFound = "ConversationNotFound"
	kindInternal = "InternalError"
)

// Store is the subset of the conversation log the handler needs.
type Store interface {
	Create(ctx context.Context, b book.Book) (chat.Conversation, error)
	Get(ctx context.Context, id string) (chat.Conversation, error)
	List(ctx context.Context) ([]chat.Conversation, error)
	UpdateCover(ctx context.Context, id, coverRef string) (chat.Conversation, error)
}

// Handler 会话管理的HTTP处理器
type Handler struct {
	store  Store
	logger *zap.Logger
}

// New 创建会话处理器
func New(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:  store,
		logger: logger.Named("conversation"),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{conversationID}", h.handleGet)
		r.Patch("/{conversationID}/cover", h.handleUpdateCover)
	})
}

// handleCreate opens a conversation for a book.
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title    string `json:"title"`
		Author   string `json:"author"`
		CoverRef string `json:"coverRef"`
	}
	if !utils.DecodeRequest(w, r, &payload) {
		return
	}

	conv, err := h.store.Create(r.Context(), book.Book{
		Title:    payload.Title,
		Author:   payload.Author,
		CoverRef: payload.CoverRef,
	})
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusCreated, conv)
}

// handleList returns every conversation, most recently active first.
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	conversations, err := h.store.List(r.Context())
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	if conversations == nil {
		conversations = []chat.Conversation{}
	}
	utils.RespondJSON(w, http.StatusOK, conversations)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	conv, err := h.store.Get(r.Context(), chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

// handleUpdateCover attaches a cover reference to the conversation's book.
func (h *Handler) handleUpdateCover(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CoverRef string `json:"coverRef"`
	}
	if !utils.DecodeRequest(w, r, &payload) {
		return
	}

	conv, err := h.store.UpdateCover(r.Context(), chi.URLParam(r, "conversationID"), payload.CoverRef)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, conv)
}

func (h *Handler) respondStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversationservice.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, kindNotFound, err.Error())
	case errors.Is(err, conversationservice.ErrTitleRequired):
		utils.RespondError(w, http.StatusBadRequest, "MissingInput", err.Error())
	default:
		h.logger.Error("conversation store failed", zap.Error(err))
		utils.RespondError(w, http.StatusInternalServerError, kindInternal, err.Error())
	}
}
