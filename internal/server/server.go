// Package server exposes the control surface over HTTP: pending permission
// requests, permission decisions, background shell inspection, and a
// server-sent-events feed of internal events.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/toolgate-ai/toolgate/internal/event"
	"github.com/toolgate-ai/toolgate/internal/logging"
	"github.com/toolgate-ai/toolgate/internal/permission"
	"github.com/toolgate-ai/toolgate/internal/shell"
)

// Server routes control requests to the arbiter and shell manager.
type Server struct {
	arbiter *permission.Arbiter
	shells  *shell.Manager
	log     zerolog.Logger

	httpServer *http.Server
}

// New builds the server for the given address.
func New(addr string, arbiter *permission.Arbiter, shells *shell.Manager) *Server {
	s := &Server{
		arbiter: arbiter,
		shells:  shells,
		log:     logging.For("server"),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/mode", s.handleGetMode)
	r.Post("/mode", s.handleSetMode)
	r.Get("/permissions", s.handleListPermissions)
	r.Post("/permissions/{id}", s.handleRespondPermission)
	r.Get("/shells", s.handleListShells)
	r.Get("/shells/{id}/output", s.handleShellOutput)
	r.Delete("/shells/{id}", s.handleKillShell)
	r.Get("/events", s.handleEvents)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGetMode(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"mode": string(s.arbiter.Context().Mode())})
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch permission.Mode(req.Mode) {
	case permission.ModeDefault, permission.ModeAcceptEdits, permission.ModePlan, permission.ModeBypassAll:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}
	s.arbiter.Context().SetMode(permission.Mode(req.Mode))
	writeJSON(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

type pendingPermission struct {
	ID            string `json:"id"`
	ToolName      string `json:"toolName"`
	CallID        string `json:"callID"`
	Command       string `json:"command,omitempty"`
	RenderedInput string `json:"renderedInput"`
}

func (s *Server) handleListPermissions(w http.ResponseWriter, _ *http.Request) {
	pending := s.arbiter.Pending()
	out := make([]pendingPermission, 0, len(pending))
	for _, p := range pending {
		out = append(out, pendingPermission{
			ID:            p.ID,
			ToolName:      p.ToolName,
			CallID:        p.CallID,
			Command:       p.Command,
			RenderedInput: p.RenderedInput,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type respondRequest struct {
	Decision string   `json:"decision"`
	Rules    []string `json:"rules,omitempty"`
}

func (s *Server) handleRespondPermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch permission.Decision(req.Decision) {
	case permission.DecisionAllow, permission.DecisionAllowAlways,
		permission.DecisionDeny, permission.DecisionDenyAlways,
		permission.DecisionBackground:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown decision %q", req.Decision))
		return
	}

	s.arbiter.Respond(id, permission.Decision(req.Decision), req.Rules...)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (s *Server) handleListShells(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.shells.List())
}

func (s *Server) handleShellOutput(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, err := s.shells.Output(id, r.URL.Query().Get("filter"))
	if err != nil {
		writeShellError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleKillShell(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.shells.Kill(id); err != nil {
		writeShellError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

// handleEvents streams every internal event to the client as SSE until the
// client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := make(chan event.Event, 64)
	unsubscribe := event.SubscribeAll(func(ev event.Event) {
		select {
		case events <- ev:
		default:
			// Slow consumer, drop rather than block publishers.
		}
	})
	defer unsubscribe()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev.Data)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}

func writeShellError(w http.ResponseWriter, err error) {
	var notFound *shell.NotFoundError
	if errors.As(err, &notFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
