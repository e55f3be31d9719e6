package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/clambin/smokeping/internal/check"
	"github.com/clambin/smokeping/internal/sender"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type EventSource interface {
	Events() []sender.Event
}

type TargetSource interface {
	Targets() []check.Target
}

type HealthSource interface {
	LastError() error
}

// Server exposes the check's metrics, its recent failure events and its health over HTTP.
type Server struct {
	Gatherer prometheus.Gatherer
	Events   EventSource
	Targets  TargetSource
	Health   HealthSource
	Logger   *slog.Logger
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/events", s.handleEvents)
	r.Get("/targets", s.handleTargets)
	r.Get("/healthz", s.handleHealth)
	return r
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	events := s.Events.Events()
	if events == nil {
		events = []sender.Event{}
	}
	s.writeJSON(w, events)
}

type target struct {
	Address string   `json:"addr"`
	Tags    []string `json:"tags"`
}

func (s *Server) handleTargets(w http.ResponseWriter, _ *http.Request) {
	targets := s.Targets.Targets()
	response := make([]target, len(targets))
	for i, t := range targets {
		response[i] = target{Address: t.Address, Tags: t.Tags}
	}
	s.writeJSON(w, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if err := s.Health.LastError(); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("failed to encode response", "err", err)
	}
}
