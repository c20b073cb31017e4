// Package server exposes the public chat pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-chat/internal/model"
	"github.com/sells-group/portfolio-chat/internal/pipeline"
)

// CallerHeader carries the authenticated user id set by the upstream auth layer.
const CallerHeader = "X-User-ID"

// maxBodyBytes bounds a chat request body.
const maxBodyBytes = 64 << 10

// ChatHandler runs one public chat turn.
type ChatHandler interface {
	HandlePublicChat(ctx context.Context, in pipeline.Input) (*pipeline.Result, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	AllowedOrigins []string
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Leave unset unless a proxy in front of the server rewrites them.
	TrustProxy bool
}

// Server holds the HTTP handlers.
type Server struct {
	chat   ChatHandler
	health Pinger
	opts   Options
}

// New creates a Server. health may be nil.
func New(chat ChatHandler, health Pinger, opts Options) *Server {
	return &Server{chat: chat, health: health, opts: opts}
}

// Router builds the chi router with global middleware and all routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	if s.opts.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", CallerHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat/{handle}", s.handleChatByHandle)
		r.Post("/agents/{agentID}/chat", s.handleChatByAgent)
	})

	return r
}

type chatRequest struct {
	Message   string           `json:"message"`
	SessionID string           `json:"sessionId"`
	History   []model.ChatTurn `json:"history"`
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *Server) handleChatByHandle(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, pipeline.Input{Handle: chi.URLParam(r, "handle")})
}

func (s *Server) handleChatByAgent(w http.ResponseWriter, r *http.Request) {
	s.serveChat(w, r, pipeline.Input{AgentID: chi.URLParam(r, "agentID")})
}

func (s *Server) serveChat(w http.ResponseWriter, r *http.Request, in pipeline.Input) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: pipeline.CodeInvalidRequest})
		return
	}

	in.Message = req.Message
	in.SessionID = req.SessionID
	in.History = req.History
	in.CallerIP = clientIP(r)
	in.CallerUserID = r.Header.Get(CallerHeader)

	res, err := s.chat.HandlePublicChat(r.Context(), in)
	if err != nil {
		var ce *pipeline.ChatError
		if errors.As(err, &ce) {
			writeJSON(w, ce.Status, errorResponse{Error: ce.Code})
			return
		}
		zap.L().Error("server: unexpected chat error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// clientIP returns the caller's host without the ephemeral source port so
// the IP rate-limit tier keys on the address alone.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			status["status"] = "degraded"
			status["store"] = "unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, status)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chiMiddleware.GetReqID(r.Context())),
		)
	})
}
