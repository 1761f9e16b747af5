package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/YK8349/X-favo-manager/internal/store"
	"github.com/YK8349/X-favo-manager/pkg/importer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// DefaultOrigins are the local frontend dev servers.
var DefaultOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

// maxUploadMemory bounds the in-memory part of a multipart upload.
const maxUploadMemory = 64 << 20

// DefaultMaxUploadBytes bounds a whole upload request body.
const DefaultMaxUploadBytes = 256 << 20

var errNotArchive = errors.New("not an MHTML archive")

// Server provides the HTTP API.
type Server struct {
	store    store.Store
	importer *importer.Importer
	port     int
	origins  []string

	// maxUpload bounds the request body of an upload, spilled parts included.
	maxUpload int64
	log       zerolog.Logger
}

// Options configure a Server.
type Options struct {
	Port           int
	AllowedOrigins []string
	MaxUploadBytes int64
}

// New creates a new HTTP server.
func New(s store.Store, im *importer.Importer, opts Options, log zerolog.Logger) *Server {
	if opts.Port == 0 {
		opts.Port = 8000
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = DefaultOrigins
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		store:     s,
		importer:  im,
		port:      opts.Port,
		origins:   opts.AllowedOrigins,
		maxUpload: opts.MaxUploadBytes,
		log:       log.With().Str("component", "server").Logger(),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/folders/", s.handleListFolders)
		r.Post("/folders/", s.handleCreateFolder)
		r.Get("/tags/", s.handleListTags)
		r.Get("/posts/", s.handleListPosts)
		r.Post("/posts/", s.handleCreatePost)
		r.Get("/posts/{id}", s.handleGetPost)
		r.Put("/posts/{id}/tags", s.handleReplaceTags)
		r.Post("/upload_mhtmls/", s.handleUpload)
	})
	return r
}

// ListenAndServe starts the HTTP server and shuts it down when ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	offset, limit := page(r)
	folders, err := s.store.ListFolders(r.Context(), offset, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	folder, err := s.store.CreateFolder(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, folder)
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	offset, limit := page(r)
	tags, err := s.store.ListTags(r.Context(), offset, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tags)
}

func (s *Server) handleListPosts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := store.ListOpts{Sort: q.Get("sort")}
	opts.Offset, opts.Limit = page(r)

	if v := q.Get("folder_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid folder_id"})
			return
		}
		opts.FolderID = &id
	}
	if v := q.Get("tag_names"); v != "" {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				opts.Tags = append(opts.Tags, name)
			}
		}
	}

	posts, err := s.store.ListPosts(r.Context(), opts)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (s *Server) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var req importer.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	p, created, err := s.importer.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, p)
}

func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	p, err := s.store.GetPost(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleReplaceTags(w http.ResponseWriter, r *http.Request) {
	id, ok := postID(w, r)
	if !ok {
		return
	}
	var req struct {
		TagNames []string `json:"tag_names"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	p, err := s.importer.ReplaceTags(r.Context(), id, req.TagNames)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{
				"error": fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart form"})
		return
	}
	defer r.MultipartForm.RemoveAll()
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "no files uploaded"})
		return
	}

	inputs := make([]importer.Input, len(files))
	for i, fh := range files {
		inputs[i] = importer.Input{
			Name: fh.Filename,
			Open: func() (io.ReadCloser, error) {
				if !importer.IsArchive(fh.Filename) {
					return nil, errNotArchive
				}
				return fh.Open()
			},
		}
	}

	var opts importer.Options
	if v := r.FormValue("folder"); v != "" {
		opts.Folder = v
	}
	for _, t := range r.MultipartForm.Value["tags"] {
		opts.Tags = append(opts.Tags, strings.Split(t, ",")...)
	}

	batch := s.importer.ImportBatch(r.Context(), inputs, opts)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("processed %d files", batch.Summary.Total()),
		"run_id":  batch.RunID,
		"results": batch.Summary,
		"details": batch.Details,
	})
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists), errors.Is(err, importer.ErrNoSourceID):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func postID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid post id"})
		return 0, false
	}
	return id, true
}

// page reads skip and limit query parameters.
func page(r *http.Request) (offset, limit int) {
	q := r.URL.Query()
	offset, _ = strconv.Atoi(q.Get("skip"))
	limit, _ = strconv.Atoi(q.Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	return max(offset, 0), limit
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
