// Package api exposes the relay's control surface: submit, list and
// cancel transfers, recent history, and a health endpoint for the
// hosting platform.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/history"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/relay"
	"github.com/Sivaramanyt/mirror-leech-bot-sub000/internal/task"
)

type Server struct {
	addr   string
	engine *relay.Engine
	store  *history.Store // optional
}

func NewServer(port int, engine *relay.Engine, store *history.Store) *Server {
	return &Server{
		addr:   fmt.Sprintf(":%d", port),
		engine: engine,
		store:  store,
	}
}

func (s *Server) Start() error {
	logrus.WithField("addr", s.addr).Info("Control API listening")
	return http.ListenAndServe(s.addr, s.Handler())
}

// Handler returns the route table without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/transfers", s.handleList)
	mux.HandleFunc("POST /api/transfers", s.handleSubmit)
	mux.HandleFunc("DELETE /api/transfers/{owner}", s.handleCancel)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps := s.engine.Registry().Snapshots()
	if snaps == nil {
		snaps = []task.Snapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner int64  `json:"owner"`
		URL   string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Owner == 0 {
		http.Error(w, "owner is required", http.StatusBadRequest)
		return
	}
	if _, err := url.ParseRequestURI(body.URL); err != nil {
		http.Error(w, "invalid URL", http.StatusBadRequest)
		return
	}

	t, err := s.engine.Submit(body.Owner, body.URL)
	if err != nil {
		switch {
		case errors.Is(err, task.ErrAlreadyActive):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, task.ErrBusy):
			http.Error(w, err.Error(), http.StatusTooManyRequests)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, http.StatusAccepted, t.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	owner, err := strconv.ParseInt(r.PathValue("owner"), 10, 64)
	if err != nil {
		http.Error(w, "invalid owner", http.StatusBadRequest)
		return
	}
	if !s.engine.Cancel(owner) {
		http.Error(w, "no active transfer", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []history.Entry{})
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	entries, err := s.store.Recent(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
