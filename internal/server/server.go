package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jo-hoe/medisnap/internal/analyzer"
	"github.com/jo-hoe/medisnap/internal/common"
	"github.com/jo-hoe/medisnap/internal/config"
	"github.com/jo-hoe/medisnap/internal/history"
	"github.com/jo-hoe/medisnap/internal/storage"
)

const (
	messageServerError  = "Server Error"
	messageUnauthorized = "Unauthorized"
	messageNotFound     = "Not Found"

	codeUnauthorized     = "unauthorized"
	codeAnalysisNotFound = "analysis_not_found"
	codeInternal         = "internal_error"
)

type Service struct {
	Log      *slog.Logger
	Cfg      *config.Config
	Uploader *storage.Uploader
	Analyzer *analyzer.Analyzer
	Store    history.Store // nil when history is disabled
}

// NewHTTPServer builds the http.Server with routes and middleware.
func NewHTTPServer(svc *Service) *http.Server {
	return &http.Server{
		Addr:         svc.Cfg.Server.Addr,
		Handler:      svc.Routes(),
		ReadTimeout:  svc.Cfg.Server.ReadTimeout,
		WriteTimeout: svc.Cfg.Server.WriteTimeout,
		IdleTimeout:  svc.Cfg.Server.IdleTimeout,
	}
}

// Routes returns the router serving the MediSnap API.
func (svc *Service) Routes() http.Handler {
	if svc.Log == nil {
		svc.Log = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(loggingMiddleware(svc.Log))
	r.Use(recoveryMiddleware(svc.Log))
	r.Use(cors.Handler(corsOptions(svc.Cfg.Server.CORSAllowedOrigins)))

	r.Get(common.PathRoot, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"msg": common.WelcomeMessage})
	})
	r.Get(common.PathHealthz, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(svc.withCommon)
		r.Post(common.PathAnalyze, svc.handleAnalyze)
		if svc.Store != nil {
			r.Get(common.PathAnalyses+"/{id}", svc.handleGetAnalysis)
		}
	})
	return r
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{common.HeaderAnalysisID},
		MaxAge:         300,
	}
}

func (svc *Service) withCommon(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Enforce API key if configured
		if key := strings.TrimSpace(svc.Cfg.Server.APIKey); key != "" {
			if r.Header.Get(common.HeaderAPIKey) != key {
				writeJSON(w, http.StatusUnauthorized, errorResponse{Message: messageUnauthorized, Error: codeUnauthorized})
				return
			}
		}
		// Enforce max body size
		if max := safeInt64(svc.Cfg.Server.MaxUploadSize); max > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, max)
		}
		next.ServeHTTP(w, r)
	})
}

type analyzeResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (svc *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if d := svc.Cfg.Server.RequestTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	log := svc.Log.With("request_id", middleware.GetReqID(ctx))

	max := safeInt64(svc.Cfg.Server.MaxUploadSize)
	if err := r.ParseMultipartForm(max); err != nil {
		code := analyzer.CodeUploadFailed
		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			code = analyzer.CodeUploadMissing
		}
		log.Error("parse upload", "err", err)
		svc.rejectUpload(w, "", code)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	files := r.MultipartForm.File[common.FormFieldImage]
	switch {
	case len(files) == 0:
		log.Error("upload missing", "field", common.FormFieldImage)
		svc.rejectUpload(w, "", analyzer.CodeUploadMissing)
		return
	case len(files) > 1:
		log.Error("more than one file uploaded", "field", common.FormFieldImage, "count", len(files))
		svc.rejectUpload(w, files[0].Filename, analyzer.CodeUploadFailed)
		return
	}

	upload, err := svc.Uploader.SaveMultipart(files[0], max)
	if err != nil {
		log.Error("store upload", "err", err)
		svc.rejectUpload(w, files[0].Filename, analyzer.CodeUploadFailed)
		return
	}
	log.Info("upload stored",
		"file", upload.Filename,
		"mime", upload.MimeType,
		"size", humanize.Bytes(uint64(upload.Size))) // #nosec G115 - sizes are never negative

	res, err := svc.Analyzer.Analyze(ctx, upload)
	if err != nil {
		code := analyzer.CodeUploadFailed
		if errors.Is(err, analyzer.ErrInference) {
			code = analyzer.InferenceCode(err)
		}
		log.Error("analysis failed", "err", err, "code", code)
		svc.serverError(w, code)
		return
	}

	if res.ID != "" {
		w.Header().Set(common.HeaderAnalysisID, res.ID)
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, Data: res.Data})
}

func (svc *Service) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := svc.Store.Get(id)
	if errors.Is(err, history.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: messageNotFound, Error: codeAnalysisNotFound})
		return
	}
	if err != nil {
		svc.Log.Error("get analysis", "id", id, "err", err)
		svc.serverError(w, codeInternal)
		return
	}
	writeJSON(w, http.StatusOK, analyzeResponse{Success: true, Data: a})
}

// rejectUpload answers an upload failure and records it in history when enabled.
func (svc *Service) rejectUpload(w http.ResponseWriter, filename, code string) {
	if id := svc.Analyzer.Reject(filename, code); id != "" {
		w.Header().Set(common.HeaderAnalysisID, id)
	}
	svc.serverError(w, code)
}

func (svc *Service) serverError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusInternalServerError, errorResponse{Message: messageServerError, Error: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", common.ContentTypeJSON)
	if status != 0 {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(v)
}

func safeInt64(u config.ByteSize) int64 {
	if u > config.ByteSize(math.MaxInt64) {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - safe cast after explicit upper-bound check
}

func loggingMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			log.Info("http",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", humanize.Bytes(uint64(ww.BytesWritten())), // #nosec G115 - byte counts are never negative
				"duration", time.Since(start).String(),
				"remote", r.RemoteAddr,
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func recoveryMiddleware(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.Error("panic", "recovered", rec, "path", r.URL.Path)
					writeJSON(w, http.StatusInternalServerError, errorResponse{Message: messageServerError, Error: codeInternal})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
