// Package control exposes the Command Surface (C8) over a small local
// HTTP API so a running `serve` process can be driven by separate,
// short-lived CLI invocations. The State Store's single-writer bbolt
// file cannot be reopened by a second process while serve holds it, so
// status/pause/resume/step/interrupt/file-issue/inspect/comment/
// update-issue all go through this server instead of touching the
// store file directly.
package control

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/femtomc/noface/internal/command"
	"github.com/femtomc/noface/internal/errs"
	"github.com/femtomc/noface/internal/types"
)

// Server adapts a command.Surface to HTTP.
type Server struct {
	surface *command.Surface
	addr    string
	log     zerolog.Logger
	http    *http.Server
}

// NewServer returns a control Server bound to addr, not yet listening.
func NewServer(surface *command.Surface, addr string, log zerolog.Logger) *Server {
	s := &Server{surface: surface, addr: addr, log: log}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/status", s.handleStatus).Methods("GET")
	r.HandleFunc("/pause", s.handlePause).Methods("POST")
	r.HandleFunc("/resume", s.handleResume).Methods("POST")
	r.HandleFunc("/step", s.handleStep).Methods("POST")
	r.HandleFunc("/interrupt", s.handleInterrupt).Methods("POST")
	r.HandleFunc("/issues", s.handleFileIssue).Methods("POST")
	r.HandleFunc("/issues/{id}", s.handleInspect).Methods("GET")
	r.HandleFunc("/issues/{id}", s.handleUpdate).Methods("PUT")
	r.HandleFunc("/issues/{id}/comments", s.handleComment).Methods("POST")
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("control request")
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Message: err.Error()}
	if kind, ok := errs.KindOf(err); ok {
		body.Kind = string(kind)
		switch kind {
		case errs.KindNotFound:
			status = http.StatusNotFound
		case errs.KindAlreadyPaused, errs.KindNotPaused, errs.KindNotRunning:
			status = http.StatusConflict
		case errs.KindNoWorkers:
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.surface.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.surface.Pause(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.surface.Resume(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	if err := s.surface.Step(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if err := s.surface.Interrupt(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type fileIssueRequest struct {
	ID       string             `json:"id"`
	Content  types.IssueContent `json:"content"`
	Manifest *types.Manifest    `json:"manifest,omitempty"`
}

func (s *Server) handleFileIssue(w http.ResponseWriter, r *http.Request) {
	var req fileIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
		return
	}
	if err := s.surface.FileIssue(req.ID, req.Content, req.Manifest); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct{}{})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	issue, err := s.surface.InspectIssue(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

type commentRequest struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

func (s *Server) handleComment(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
		return
	}
	if err := s.surface.AddComment(id, req.Author, req.Body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

type updateRequest struct {
	Content  types.IssueContent `json:"content"`
	Manifest *types.Manifest    `json:"manifest,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Message: err.Error()})
		return
	}
	if err := s.surface.UpdateIssueContent(id, req.Content, req.Manifest); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}
