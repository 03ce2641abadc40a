package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shaloml/cui/internal/broker/handler"
	"github.com/shaloml/cui/internal/infra"
	"github.com/shaloml/cui/internal/infra/auth"
	"go.uber.org/zap"
)

// BrokerServer wires the mediation wire contract onto a chi router.
//
// Route groups mirror the trust boundary: the agent-side protocol
// (notify/poll/cleanup) is reachable with the spawn-time environment
// alone, while the human-facing surface (decide, conversations) sits
// behind token validation.
type BrokerServer struct {
	router *chi.Mux
	logger *zap.Logger
	cfg    *infra.Config

	authValidator auth.TokenValidator

	mediationHandler    *handler.MediationHandler
	conversationHandler *handler.ConversationHandler
}

func NewBrokerServer(
	cfg *infra.Config,
	logger *zap.Logger,
	validator auth.TokenValidator,
	mediationH *handler.MediationHandler,
	conversationH *handler.ConversationHandler,
) *BrokerServer {
	s := &BrokerServer{
		router:              chi.NewRouter(),
		logger:              logger.Named("broker-api"),
		cfg:                 cfg,
		authValidator:       validator,
		mediationHandler:    mediationH,
		conversationHandler: conversationH,
	}

	s.routes()
	return s
}

func (s *BrokerServer) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	// Agent-facing protocol plus health. The agent holds only the broker
	// URL and its correlationId from the spawn environment.
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		r.Post("/mediate/notify", s.mediationHandler.Notify)
		r.Get("/mediate", s.mediationHandler.List)
		r.Get("/mediate/{id}", s.mediationHandler.Get)
		r.Delete("/mediate", s.mediationHandler.Cleanup)
	})

	// Human-facing surface: decisions and the merged conversation list.
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))

		r.Post("/mediate/{id}/decide", s.mediationHandler.Decide)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", s.conversationHandler.List)
			r.Post("/", s.conversationHandler.Upsert)
		})
	})
}

// requestLogger is a small zap-backed access log in place of chi's
// default stdlib logger.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	access := logger.Named("http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			access.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// ServeHTTP lets BrokerServer act as a standard http.Handler.
func (s *BrokerServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
