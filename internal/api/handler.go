package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/pdfsum/internal/pipeline"
	"github.com/kalambet/pdfsum/internal/storage"
)

const (
	maxUploadSize   = 200 << 20 // 200MB
	maxMemoryUpload = 32 << 20  // parts beyond this spill to temp files
)

// Runner is the part of the pipeline the API drives.
type Runner interface {
	Save(jobID string, r io.Reader) (string, error)
	Run(ctx context.Context, in pipeline.Input) (pipeline.Result, error)
	OutputPath(jobID string) string
}

// JobLister reads job bookkeeping rows.
type JobLister interface {
	GetJob(id string) (storage.Job, error)
	ListJobs(limit, offset int) ([]storage.Job, error)
}

// Deps holds the dependencies of the HTTP API. Defaults fills form fields
// the client leaves out.
type Deps struct {
	Pipeline Runner
	Jobs     JobLister
	Token    string
	Defaults pipeline.Options
}

// NewHandler returns the HTTP API. /health is always public; the other
// routes require the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Post("/summarize", handleSummarize(deps))
		r.Get("/download/{job_id}", handleDownload(deps))
		r.Get("/jobs", handleListJobs(deps))
		r.Get("/jobs/{job_id}", handleGetJob(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSummarize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		if err := r.ParseMultipartForm(maxMemoryUpload); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		opts, err := parseOptions(r, deps.Defaults)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		jobID := pipeline.NewJobID()
		path, err := deps.Pipeline.Save(jobID, file)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving upload: %v", err)
			return
		}
		slog.Info("upload saved", "job_id", jobID, "filename", header.Filename, "size", header.Size)

		res, err := deps.Pipeline.Run(r.Context(), pipeline.Input{
			JobID:    jobID,
			Filename: header.Filename,
			PDFPath:  path,
			Options:  opts,
		})
		w.Header().Set("X-Job-ID", jobID)
		if err != nil {
			kind := pipeline.Classify(err)
			httpError(w, statusForKind(kind), string(kind)+"_error", "%v", err)
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, res.Summary)
	}
}

func statusForKind(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindInput:
		return http.StatusBadRequest
	case pipeline.KindDependency, pipeline.KindModel:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseOptions reads the optional form fields, falling back to defaults.
func parseOptions(r *http.Request, defaults pipeline.Options) (pipeline.Options, error) {
	opts := defaults
	if v := r.FormValue("model"); v != "" {
		opts.Model = v
	}
	if v := r.FormValue("language"); v != "" {
		opts.Language = v
	}
	if v := r.FormValue("map_prompt"); v != "" {
		opts.MapPrompt = v
	}
	if v := r.FormValue("reduce_prompt"); v != "" {
		opts.ReducePrompt = v
	}
	if v := r.FormValue("chunk_chars"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return opts, fmt.Errorf("chunk_chars must be a positive integer, got %q", v)
		}
		opts.ChunkChars = n
	}
	if v := r.FormValue("overlap"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("overlap must be an integer, got %q", v)
		}
		// Negative overlap means no overlap, as in the chunker.
		opts.Overlap = max(n, 0)
	}
	return opts, nil
}

func handleDownload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "job_id")
		if _, err := uuid.Parse(jobID); err != nil {
			httpError(w, http.StatusNotFound, "not_found", "result not found")
			return
		}

		f, err := os.Open(deps.Pipeline.OutputPath(jobID))
		if errors.Is(err, os.ErrNotExist) {
			httpError(w, http.StatusNotFound, "not_found", "result not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "opening result: %v", err)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reading result: %v", err)
			return
		}

		name := jobID + ".txt"
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

func handleListJobs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		jobs, err := deps.Jobs.ListJobs(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list jobs: %v", err)
			return
		}
		if jobs == nil {
			jobs = []storage.Job{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(jobs)
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Jobs.GetJob(chi.URLParam(r, "job_id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(job)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
