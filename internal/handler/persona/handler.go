package persona

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	personamodel "github.com/zhouzirui/grimoire/backend/internal/model/persona"
	personaservice "github.com/zhouzirui/grimoire/backend/internal/service/persona"
	"github.com/zhouzirui/grimoire/backend/pkg/utils"
)

// Resolver classifies a book into its persona.
type Resolver interface {
	Resolve(ctx context.Context, title, author string) (personaservice.Result, error)
}

// Handler persona服务的HTTP处理器
type Handler struct {
	resolver Resolver
	logger   *zap.Logger
}

// New 创建persona处理器
func New(resolver Resolver, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		resolver: resolver,
		logger:   logger.Named("persona"),
	}
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/persona", h.handleResolve)
}

type personaResponse struct {
	Persona personamodel.Persona `json:"persona"`
	Status  string               `json:"status"`
	Reason  string               `json:"reason,omitempty"`
	Cached  bool                 `json:"cached"`
}

// handleResolve 返回书籍对应的 persona；分类失败时退回默认 persona 并标记状态。
func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	author := strings.TrimSpace(r.URL.Query().Get("author"))
	if title == "" {
		utils.RespondError(w, http.StatusBadRequest, "MissingInput", "title query parameter is required")
		return
	}
	if h.resolver == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "UpstreamUnavailable", "persona classification is not configured")
		return
	}

	result, err := h.resolver.Resolve(r.Context(), title, author)
	if err != nil {
		h.logger.Warn("persona resolution failed", zap.String("title", title), zap.Error(err))
		result.Persona = personamodel.Default(title)
		result.Status = personaservice.StatusFailed
		result.Reason = err.Error()
	}

	utils.RespondJSON(w, http.StatusOK, personaResponse{
		Persona: result.Persona,
		Status:  result.Status.String(),
		Reason:  result.Reason,
		Cached:  result.Cached,
	})
}
