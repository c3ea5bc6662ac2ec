// Package webui exposes the sync control plane over HTTP: status and
// progress for dashboards, MFA code submission for headless hosts, and the
// command endpoint the watch loop consumes.
package webui

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/tonimelisma/icloud-go/internal/syncer"
)

// defaultPushInterval is how often the websocket stream publishes a
// snapshot.
const defaultPushInterval = time.Second

// shutdownTimeout bounds draining in-flight requests on stop.
const shutdownTimeout = 5 * time.Second

// Server serves the control API for one running sync.
type Server struct {
	exchange *syncer.StatusExchange
	progress *syncer.Progress
	logger   *slog.Logger

	pushInterval time.Duration
}

// New builds a server over the shared status exchange and progress tracker.
func New(exchange *syncer.StatusExchange, progress *syncer.Progress, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	return &Server{
		exchange:     exchange,
		progress:     progress,
		logger:       logger,
		pushInterval: defaultPushInterval,
	}
}

// statusResponse is the shared shape of /status and the websocket stream.
type statusResponse struct {
	Status    syncer.Status   `json:"status"`
	LastError string          `json:"last_error,omitempty"`
	Progress  syncer.Snapshot `json:"progress"`
}

func (s *Server) status() statusResponse {
	return statusResponse{
		Status:    s.exchange.Status(),
		LastError: s.exchange.LastError(),
		Progress:  s.progress.Snapshot(),
	}
}

// Handler returns the routed control API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/status", s.handleStatus)
	r.Post("/mfa", s.handleMFA)
	r.Post("/command", s.handleCommand)
	r.Get("/ws", s.handleWS)

	return r
}

// Serve runs the API until the context ends.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(drainCtx)
	}()

	s.logger.Info("web ui listening", slog.String("addr", addr))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleMFA(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "body must be a JSON object with a non-empty code")
		return
	}

	if !s.exchange.SubmitCode(req.Code) {
		writeError(w, http.StatusConflict, "no security code is being waited on")
		return
	}

	s.logger.Info("security code submitted via web ui")
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "body must be a JSON object with a command")
		return
	}

	cmd := syncer.Command(req.Command)

	switch cmd {
	case syncer.CommandSync, syncer.CommandSyncAll, syncer.CommandStop:
	default:
		writeError(w, http.StatusBadRequest, "unknown command")
		return
	}

	if !s.exchange.Send(cmd) {
		writeError(w, http.StatusConflict, "a command is already pending")
		return
	}

	s.logger.Info("command queued via web ui", slog.String("command", req.Command))
	writeJSON(w, http.StatusAccepted, s.status())
}

// handleWS streams status snapshots until the client hangs up.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	defer conn.CloseNow()

	ctx := r.Context()
	ticker := time.NewTicker(s.pushInterval)
	defer ticker.Stop()

	for {
		if err := wsjson.Write(ctx, conn, s.status()); err != nil {
			return
		}

		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
