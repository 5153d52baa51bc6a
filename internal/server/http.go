// Package server hosts the daemon's local HTTP surface: the snapshot query
// and profile selection API, the WebSocket push feed for observer windows,
// and the Prometheus metrics endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/d2sherpa/sherpa/pkg/bungie"
	"github.com/d2sherpa/sherpa/pkg/cache"
	"github.com/d2sherpa/sherpa/pkg/poller"
)

// PlayerSearcher finds accounts by global display name and code.
type PlayerSearcher interface {
	SearchPlayer(ctx context.Context, name string, code int) ([]bungie.PlayerSearchResult, error)
}

// ProfileSelector owns the selected profile; selecting resets the poller.
type ProfileSelector interface {
	Select(p *bungie.Profile)
	Selected() *bungie.Profile
}

// Deps are the collaborators the HTTP surface exposes.
type Deps struct {
	Poller      *poller.Poller
	Broadcaster *poller.Broadcaster
	Searcher    PlayerSearcher
	Profiles    ProfileSelector
	Cache       *cache.Manager
	CacheStore  cache.Store
}

// HTTPServer is the daemon's local API server.
type HTTPServer struct {
	server *http.Server
	port   int
	deps   Deps
	log    *logrus.Entry
}

// NewHTTPServer creates the API server on the given port.
func NewHTTPServer(port int, deps Deps) *HTTPServer {
	return &HTTPServer{
		port: port,
		deps: deps,
		log:  logrus.WithField("component", "http"),
	}
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Get("/profile", s.handleGetProfile)
		r.Put("/profile", s.handleSetProfile)
		r.Delete("/profile", s.handleClearProfile)
		r.Get("/players/search", s.handleSearchPlayers)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Delete("/cache", s.handleClearCache)
	})

	return r
}

// Start begins serving in a background goroutine.
func (s *HTTPServer) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Infof("serving API at :%d", s.port)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Errorf("http server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSnapshot returns the poller's current snapshot. It never waits: a
// snapshot mid-update answers 503 rather than blocking the caller.
func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	status, ok := s.deps.Poller.Status()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "snapshot is being updated, try again",
		})
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *HTTPServer) handleGetProfile(w http.ResponseWriter, _ *http.Request) {
	p := s.deps.Profiles.Selected()
	if p == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no profile selected"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var p bungie.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid profile body"})
		return
	}
	if p.MembershipType == 0 || p.MembershipID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "membershipType and membershipId are required",
		})
		return
	}

	s.log.Infof("profile selected: %s", p.ID())
	s.deps.Profiles.Select(&p)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleClearProfile(w http.ResponseWriter, _ *http.Request) {
	s.deps.Profiles.Select(nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSearchPlayers(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	codeStr := r.URL.Query().Get("code")
	if name == "" || codeStr == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name and code are required"})
		return
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code must be numeric"})
		return
	}

	results, err := s.deps.Searcher.SearchPlayer(r.Context(), name, code)
	if err != nil {
		s.log.Warnf("player search failed: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *HTTPServer) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Cache.Stats())
}

func (s *HTTPServer) handleClearCache(w http.ResponseWriter, _ *http.Request) {
	s.deps.Cache.Clear()
	s.deps.Cache.SaveInBackground(s.deps.CacheStore)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("failed to encode response: %v", err)
	}
}
