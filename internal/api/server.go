package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nao1215/pdfcrawl/internal/config"
	"github.com/nao1215/pdfcrawl/internal/crawler"
	"github.com/nao1215/pdfcrawl/internal/model"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// Crawler is the controller surface used by the API. *crawler.Controller
// satisfies it.
type Crawler interface {
	Start(ctx context.Context, opts crawler.StartOptions) (*crawler.Run, error)
	Stop()
	Status() model.CrawlStatus
	Results() model.Results
	DownloadAll(ctx context.Context, dir string) ([]model.PDFRecord, error)
	DownloadURL(ctx context.Context, pdfURL, dir string) (model.PDFRecord, error)
}

// Server serves the JSON API.
type Server struct {
	crawler     Crawler
	logger      *slog.Logger
	downloadDir string
	maxDepth    int

	// served holds absolute paths of files this server downloaded outside
	// the default directory.
	mu     sync.RWMutex
	served map[string]bool
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDownloadDir sets the directory used when a request names none.
func WithDownloadDir(dir string) Option {
	return func(s *Server) {
		if dir != "" {
			s.downloadDir = dir
		}
	}
}

// WithDefaultDepth sets the max depth used when a start request names none.
func WithDefaultDepth(depth int) Option {
	return func(s *Server) {
		if depth >= 0 {
			s.maxDepth = depth
		}
	}
}

// New creates a Server driving c.
func New(c Crawler, opts ...Option) *Server {
	s := &Server{
		crawler:     c,
		logger:      slog.Default(),
		downloadDir: config.DefaultDownloadDir(),
		maxDepth:    config.DefaultMaxDepth,
		served:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	if abs, err := filepath.Abs(s.downloadDir); err == nil {
		s.downloadDir = abs
	}
	return s
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/start-crawl", s.handleStart)
	mux.HandleFunc("POST /api/stop-crawl", s.handleStop)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/results", s.handleResults)
	mux.HandleFunc("POST /api/download-pdf", s.handleDownloadPDF)
	mux.HandleFunc("POST /api/download-all", s.handleDownloadAll)
	mux.HandleFunc("GET /api/downloads/{file...}", s.handleServeFile)
	return s.logRequests(noCache(mux))
}

type startRequest struct {
	WebsiteURL   string `json:"website_url"`
	MaxDepth     *int   `json:"max_depth"`
	DownloadDir  string `json:"download_dir"`
	AutoDownload bool   `json:"auto_download"`
}

type startResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	RunID   string `json:"run_id"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.WebsiteURL == "" {
		writeError(w, http.StatusBadRequest, "Website URL is required")
		return
	}

	opts := crawler.StartOptions{
		SeedURL:      req.WebsiteURL,
		MaxDepth:     s.maxDepth,
		DownloadDir:  s.dirOrDefault(req.DownloadDir),
		AutoDownload: req.AutoDownload,
	}
	if req.MaxDepth != nil {
		opts.MaxDepth = *req.MaxDepth
	}

	run, err := s.crawler.Start(r.Context(), opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, crawler.ErrInvalidDepth) || errors.Is(err, crawler.ErrNoDownloadDir) {
			status = http.StatusBadRequest
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, startResponse{
		Message: "Crawling started",
		Status:  string(model.StateRunning),
		RunID:   run.ID(),
	})
}

type messageResponse struct {
	Message string `json:"message"`
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	if !s.crawler.Status().IsRunning {
		writeJSON(w, http.StatusOK, messageResponse{Message: "No crawler running"})
		return
	}
	s.crawler.Stop()
	writeJSON(w, http.StatusOK, messageResponse{Message: "Crawling stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.crawler.Status())
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.crawler.Results())
}

type downloadRequest struct {
	URL         string `json:"url"`
	DownloadDir string `json:"download_dir"`
}

type downloadResponse struct {
	Message  string          `json:"message"`
	Filename string          `json:"filename"`
	Filepath string          `json:"filepath"`
	Record   model.PDFRecord `json:"record"`
}

func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, "PDF URL is required")
		return
	}

	dir := s.dirOrDefault(req.DownloadDir)
	rec, err := s.crawler.DownloadURL(r.Context(), req.URL, dir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.remember(rec)

	switch rec.Status {
	case model.StatusDownloaded:
		writeJSON(w, http.StatusOK, downloadResponse{
			Message: "PDF downloaded successfully", Filename: filepath.Base(rec.LocalPath), Filepath: rec.LocalPath, Record: rec,
		})
	case model.StatusAlreadyExists:
		writeJSON(w, http.StatusOK, downloadResponse{
			Message: "PDF already downloaded", Filename: filepath.Base(rec.LocalPath), Filepath: rec.LocalPath, Record: rec,
		})
	default:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: rec.Error, Record: &rec})
	}
}

type downloadAllRequest struct {
	DownloadDir string `json:"download_dir"`
}

type downloadAllResponse struct {
	Message string            `json:"message"`
	Records []model.PDFRecord `json:"records"`
}

func (s *Server) handleDownloadAll(w http.ResponseWriter, r *http.Request) {
	var req downloadAllRequest
	if !s.decode(w, r, &req) {
		return
	}

	dir := s.dirOrDefault(req.DownloadDir)
	recs, err := s.crawler.DownloadAll(r.Context(), dir)
	switch {
	case errors.Is(err, crawler.ErrNoRun):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, rec := range recs {
		s.remember(rec)
	}

	if recs == nil {
		recs = []model.PDFRecord{}
	}
	ok := 0
	for _, rec := range recs {
		if rec.Status == model.StatusDownloaded || rec.Status == model.StatusAlreadyExists {
			ok++
		}
	}
	writeJSON(w, http.StatusOK, downloadAllResponse{
		Message: fmt.Sprintf("%d of %d PDFs downloaded", ok, len(recs)),
		Records: recs,
	})
}

func (s *Server) handleServeFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("file")
	if !fs.ValidPath(name) {
		writeError(w, http.StatusBadRequest, "invalid file name")
		return
	}

	dir := s.dirOrDefault(r.URL.Query().Get("dir"))
	if dir != s.downloadDir && !s.isServed(filepath.Join(dir, filepath.FromSlash(name))) {
		writeError(w, http.StatusForbidden, "file was not downloaded by pdfcrawl")
		return
	}
	if _, err := fs.Stat(os.DirFS(dir), name); err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filepath.Base(name)}))
	http.ServeFileFS(w, r, os.DirFS(dir), name)
}

// dirOrDefault returns the absolute form of dir, or of the default
// download directory when dir is empty.
func (s *Server) dirOrDefault(dir string) string {
	if dir == "" {
		return s.downloadDir
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// remember marks the file of rec as servable. Only files written by a
// download count: an already_exists outcome says nothing about who
// created the file.
func (s *Server) remember(rec model.PDFRecord) {
	if rec.Status != model.StatusDownloaded || rec.LocalPath == "" {
		return
	}
	abs, err := filepath.Abs(rec.LocalPath)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.served[abs] = true
	s.mu.Unlock()
}

// isServed reports whether path was downloaded through this server or by
// the auto-download of the latest run.
func (s *Server) isServed(path string) bool {
	s.mu.RLock()
	ok := s.served[path]
	s.mu.RUnlock()
	if ok || s.crawler == nil {
		return ok
	}

	for _, rec := range s.crawler.Results().PDFs {
		if rec.Status == model.StatusDownloaded && rec.LocalPath == path {
			return true
		}
	}
	return false
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
	return false
}

type errorResponse struct {
	Error  string           `json:"error"`
	Record *model.PDFRecord `json:"record,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}

// noCache disables caching so that polling clients always see fresh status.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", time.Since(start))
	})
}
