package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/zhouzirui/grimoire/backend/internal/config"
	conversationhandler "github.com/zhouzirui/grimoire/backend/internal/handler/conversation"
	"github.com/zhouzirui/grimoire/backend/internal/handler/grimoire"
	personahandler "github.com/zhouzirui/grimoire/backend/internal/handler/persona"
	speechhandler "github.com/zhouzirui/grimoire/backend/internal/handler/speech"
	middlewarePkg "github.com/zhouzirui/grimoire/backend/internal/middleware"
)

// Dependencies are the services the router exposes. A nil service turns its
// endpoints into 503 responses instead of removing them.
type Dependencies struct {
	Server        config.ServerConfig
	Turns         grimoire.TurnRunner
	Identifier    grimoire.Identifier
	Conversations conversationhandler.Store
	Speech        speechhandler.SpeechService
	Personas      speechhandler.PersonaResolver
	Logger        *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.Server.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/grimoire", func(api chi.Router) {
		if deps.Server.RateLimitPerMinute > 0 {
			api.Use(httprate.LimitByIP(deps.Server.RateLimitPerMinute, time.Minute))
		}
		if deps.Server.MaxBodyBytes > 0 {
			api.Use(middleware.RequestSize(deps.Server.MaxBodyBytes))
		}

		grimoire.New(deps.Turns, deps.Identifier, logger).RegisterRoutes(api)

		var personas personahandler.Resolver
		if deps.Personas != nil {
			personas = deps.Personas
		}
		personahandler.New(personas, logger).RegisterRoutes(api)

		var conversations speechhandler.ConversationReader
		if deps.Conversations != nil {
			conversationhandler.New(deps.Conversations, logger).RegisterRoutes(api)
			conversations = deps.Conversations
		}

		speechhandler.New(deps.Speech, conversations, deps.Personas, logger).RegisterRoutes(api)
		speechhandler.NewWebSocketHandler(deps.Turns, conversations, deps.Server.AllowedOrigins, logger).RegisterWebSocketRoutes(api)
	})

	return r
}
