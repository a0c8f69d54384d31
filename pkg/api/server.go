package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/LordVaderXIII/Appmanager/pkg/log"
	"github.com/LordVaderXIII/Appmanager/pkg/metrics"
	"github.com/LordVaderXIII/Appmanager/pkg/storage"
	"github.com/LordVaderXIII/Appmanager/pkg/types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SweepTrigger requests an immediate reconciliation sweep
type SweepTrigger interface {
	TriggerNow()
}

// Server exposes the JSON operations the dashboard consumes: repository
// registration and removal, settings, and the on-demand sweep trigger.
type Server struct {
	store   storage.Store
	trigger SweepTrigger
	logger  zerolog.Logger
	http    *http.Server
}

// NewServer creates the API server
func NewServer(store storage.Store, trigger SweepTrigger) *Server {
	return &Server{
		store:   store,
		trigger: trigger,
		logger:  log.WithComponent("api"),
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/repositories", s.listRepositories)
		r.Post("/repositories", s.registerRepository)
		r.Get("/repositories/{id}", s.getRepository)
		r.Delete("/repositories/{id}", s.removeRepository)
		r.Get("/repositories/{id}/failures", s.listFailures)
		r.Post("/sweep", s.triggerSweep)
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.updateSettings)
	})

	return r
}

// Start begins serving on addr
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info().Str("addr", addr).Msg("API listening")
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type repositoryView struct {
	ID            string           `json:"id"`
	URL           string           `json:"url"`
	Name          string           `json:"name"`
	Status        types.RepoStatus `json:"status"`
	LastErrorHash string           `json:"last_error_hash,omitempty"`
	ContainerName string           `json:"container_name,omitempty"`
	LastCheckedAt time.Time        `json:"last_checked_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

func viewOf(repo *types.Repository) repositoryView {
	return repositoryView{
		ID:            repo.ID,
		URL:           repo.URL,
		Name:          repo.Name,
		Status:        repo.Status,
		LastErrorHash: repo.LastErrorHash,
		ContainerName: repo.ContainerName,
		LastCheckedAt: repo.LastCheckedAt,
		CreatedAt:     repo.CreatedAt,
	}
}

func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	views := make([]repositoryView, 0, len(repos))
	for _, repo := range repos {
		views = append(views, viewOf(repo))
	}
	s.respond(w, http.StatusOK, views)
}

func (s *Server) registerRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		s.fail(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	if _, err := s.store.GetRepositoryByURL(req.URL); err == nil {
		s.fail(w, http.StatusConflict, errors.New("repository already tracked"))
		return
	}

	repo := &types.Repository{
		ID:        uuid.New().String(),
		URL:       req.URL,
		Status:    types.RepoStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.store.CreateRepository(repo); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}

	// Reconcile the new repository without waiting for the next tick
	s.trigger.TriggerNow()
	s.respond(w, http.StatusCreated, viewOf(repo))
}

func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.store.GetRepository(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, http.StatusNotFound, err)
		return
	}
	s.respond(w, http.StatusOK, viewOf(repo))
}

func (s *Server) removeRepository(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRepository(chi.URLParam(r, "id")); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listFailures(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListFailuresByRepository(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	s.respond(w, http.StatusOK, recs)
}

func (s *Server) triggerSweep(w http.ResponseWriter, r *http.Request) {
	s.trigger.TriggerNow()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	// Never echo secrets back out
	s.respond(w, http.StatusOK, map[string]interface{}{
		"remediation_api_key_set": settings.RemediationAPIKey != "",
		"git_username":            settings.GitUsername,
		"git_token_set":           settings.GitToken != "",
	})
}

func (s *Server) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RemediationAPIKey *string `json:"remediation_api_key"`
		GitUsername       *string `json:"git_username"`
		GitToken          *string `json:"git_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}

	settings, err := s.store.GetSettings()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	if req.RemediationAPIKey != nil {
		settings.RemediationAPIKey = *req.RemediationAPIKey
	}
	if req.GitUsername != nil {
		settings.GitUsername = *req.GitUsername
	}
	if req.GitToken != nil {
		settings.GitToken = *req.GitToken
	}
	settings.UpdatedAt = time.Now()

	if err := s.store.UpdateSettings(settings); err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, err error) {
	s.respond(w, status, map[string]string{"error": err.Error()})
}
