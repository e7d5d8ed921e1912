package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pauljones0/free-games-bot/internal/models"
)

type publisher interface {
	PublishTitle(ctx context.Context, src models.Source, title string) (models.GiveawayRecord, error)
}

type recordLister interface {
	Snapshot() []models.GiveawayRecord
}

type cycleTrigger interface {
	Trigger()
}

// Server exposes the health check and the operator endpoints.
type Server struct {
	publisher publisher
	records   recordLister
	trigger   cycleTrigger
	token     string
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})
	mux.HandleFunc("POST /cycle", s.requireToken(s.CycleHandler))
	mux.HandleFunc("POST /publish", s.requireToken(s.PublishHandler))
	mux.HandleFunc("GET /ledger", s.requireToken(s.LedgerHandler))
	return mux
}

func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			http.Error(w, "manual endpoints are disabled", http.StatusNotFound)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// CycleHandler schedules a reconciliation cycle without waiting for it.
func (s *Server) CycleHandler(w http.ResponseWriter, r *http.Request) {
	s.trigger.Trigger()
	w.WriteHeader(http.StatusAccepted)
	fmt.Fprintln(w, "Cycle scheduled.")
}

// PublishHandler posts a title from the given source on an operator's request.
func (s *Server) PublishHandler(w http.ResponseWriter, r *http.Request) {
	src := models.Source(strings.ToLower(r.URL.Query().Get("source")))
	title := strings.TrimSpace(r.URL.Query().Get("title"))
	if src != models.SourceEpic && src != models.SourceSteam {
		http.Error(w, "source must be epic or steam", http.StatusBadRequest)
		return
	}
	if title == "" {
		http.Error(w, "title is required", http.StatusBadRequest)
		return
	}

	rec, err := s.publisher.PublishTitle(r.Context(), src, title)
	switch {
	case err == nil:
		slog.Info("Manual publish", "source", src, "title", rec.Title)
		writeJSON(w, http.StatusCreated, map[string]any{"result": "published", "record": rec})
	case errors.Is(err, models.ErrAlreadyPosted):
		writeJSON(w, http.StatusConflict, map[string]string{"result": "already posted"})
	case errors.Is(err, models.ErrOfferNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"result": "not found"})
	default:
		slog.Error("Manual publish failed", "source", src, "title", title, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"result": "failed", "error": err.Error()})
	}
}

// LedgerHandler lists the recorded giveaways.
func (s *Server) LedgerHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.records.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}
