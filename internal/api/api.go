// Package api exposes the survey backend over HTTP: a health endpoint and a
// token-verified websocket session endpoint. All conversation logic lives in
// internal/conversation; this layer only decodes frames and routes them.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/daribar/surveybot/internal/conversation"
	"github.com/daribar/surveybot/internal/records"
)

// Opts holds server configuration values.
type Opts struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// Server is the HTTP/websocket transport in front of the conversation flow.
type Server struct {
	flow     *conversation.Flow
	repo     records.Repository
	verifier TokenVerifier
	upgrader websocket.Upgrader
	opts     Opts
	httpSrv  *http.Server
}

// NewServer creates the API server. The verifier gates every websocket session.
func NewServer(flow *conversation.Flow, repo records.Repository, verifier TokenVerifier, opts ...Option) *Server {
	cfg := Opts{Addr: ":8080", ShutdownTimeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Server.NewServer: creating API server", "addr", cfg.Addr)
	return &Server{
		flow:     flow,
		repo:     repo,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Clients are native mobile apps, not browsers.
				return true
			},
		},
		opts: cfg,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.sessionHandler).Methods(http.MethodGet)
	return r
}

// Run starts the HTTP server and blocks until the listener fails or ctx is
// cancelled, after which it shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.opts.Addr)
		errCh <- s.httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// bearerToken extracts the token from the Authorization header, falling back to
// the token query parameter for websocket clients that cannot set headers.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token != "" {
		return token
	}
	return r.URL.Query().Get("token")
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(jsonData); err != nil {
		slog.Error("Server.writeJSONResponse: failed to write response", "error", err)
	}
}
