package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go-media-download/internal/database"
	"go-media-download/internal/extract"
	"go-media-download/internal/helpers"
	"go-media-download/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Server hosts the download backend API. Jobs are persisted in a Store
// and executed by an Extractor on background goroutines.
type Server struct {
	store        *database.Store
	extractor    extract.Extractor
	downloadsDir string
	router       chi.Router
}

// New wires a Server around a job store and an extractor.
func New(store *database.Store, extractor extract.Extractor, downloadsDir string) *Server {
	s := &Server{
		store:        store,
		extractor:    extractor,
		downloadsDir: downloadsDir,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/detect-platform", s.handleDetectPlatform)
		r.Post("/info", s.handleInfo)
		r.Post("/download", s.handleDownload)
		r.Get("/status/{id}", s.handleStatus)
		r.Get("/download-file/{id}", s.handleDownloadFile)
		r.Get("/supported-sites", s.handleSupportedSites)
	})

	s.router = r
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the server on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	log.Infof("Backend listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("Failed to encode response body")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}

// urlPayload is the {url} body shared by detect-platform and info.
type urlPayload struct {
	URL string `json:"url"`
}

func (s *Server) handleDetectPlatform(w http.ResponseWriter, r *http.Request) {
	var payload urlPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if payload.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}
	writeJSON(w, http.StatusOK, DetectPlatform(payload.URL))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var payload urlPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if payload.URL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	info, err := s.extractor.Info(r.Context(), payload.URL)
	if err != nil {
		log.WithError(err).Debugf("Info extraction failed for %s", payload.URL)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to get video info: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}
	// Unknown format/quality values fall back to defaults rather than
	// rejecting, matching the permissive submission contract.
	if req.Format == "" {
		req.Format = models.FormatVideo
	}
	if req.Quality == "" {
		req.Quality = models.QualityBest
	}

	if !helpers.CheckAndMakeDir(s.downloadsDir) {
		writeError(w, http.StatusInternalServerError, "Failed to start download: could not create downloads directory")
		return
	}

	id := uuid.New().String()
	if err := s.store.CreateJob(id, req.SourceURL); err != nil {
		log.WithError(err).Error("Failed to persist new job")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start download: %v", err))
		return
	}

	go s.runJob(id, req)

	log.Infof("Job %s accepted for %s", id, req.SourceURL)
	writeJSON(w, http.StatusOK, models.StartResponse{DownloadID: id, Status: "started"})
}

// runJob executes one extraction on its own goroutine, recording progress
// and the terminal outcome in the store.
func (s *Server) runJob(id string, req models.JobRequest) {
	ctx := context.Background()

	progress := func(percent, speed string) {
		if err := s.store.UpdateProgress(id, percent, speed); err != nil {
			log.WithError(err).Debugf("Failed to record progress for job %s", id)
		}
	}

	path, err := s.extractor.Download(ctx, req.SourceURL, id, s.downloadsDir, req, progress)
	if err != nil {
		log.WithError(err).Warnf("Job %s failed", id)
		if dbErr := s.store.MarkError(id, err.Error()); dbErr != nil {
			log.WithError(dbErr).Errorf("Failed to record error for job %s", id)
		}
		return
	}

	log.Infof("Job %s finished: %s", id, path)
	if err := s.store.MarkFinished(id, path); err != nil {
		log.WithError(err).Errorf("Failed to record completion for job %s", id)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(id)
	if errors.Is(err, database.ErrNotFound) {
		// Unknown ids get a 200 with a not_found status body.
		writeJSON(w, http.StatusOK, models.StatusResponse{Status: models.StatusNotFound})
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := models.StatusResponse{
		Status:   job.Status,
		Progress: job.Progress,
		Speed:    job.Speed,
		Error:    job.Error,
	}
	if job.Filepath != "" {
		resp.Filename = filepath.Base(job.Filepath)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(id)
	if errors.Is(err, database.ErrNotFound) || (err == nil && job.Status != models.StatusFinished) {
		writeError(w, http.StatusNotFound, "Download not finished or not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if _, statErr := os.Stat(job.Filepath); statErr != nil {
		writeError(w, http.StatusNotFound, "File not found")
		return
	}

	filename := filepath.Base(job.Filepath)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, job.Filepath)
}

func (s *Server) handleSupportedSites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, supportedSites)
}
