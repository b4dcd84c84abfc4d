// Package pipeline runs one PDF through OCR, extraction, chunking, indexing
// and summarization, and records the outcome.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pdfsum/internal/chunker"
	"github.com/kalambet/pdfsum/internal/storage"
	"github.com/kalambet/pdfsum/internal/summarize"
)

// Boundary defaults for a summarization request.
const (
	DefaultChunkChars = 16000
	DefaultOverlap    = 400
	DefaultLanguage   = "pt-BR"
)

// TextExtractor guarantees a text layer and pulls the plain text out of a PDF.
type TextExtractor interface {
	EnsureSearchable(ctx context.Context, in, out string) error
	Text(path string) (string, error)
}

// Indexer stores the chunks of a job. Failures do not affect the summary.
type Indexer interface {
	IndexJob(ctx context.Context, jobID string, chunks []chunker.Chunk) (int, error)
}

// Summarizer produces the final summary from chunks.
type Summarizer interface {
	Summarize(ctx context.Context, chunks []chunker.Chunk, req summarize.Request) (summarize.FinalSummary, error)
}

// JobRecorder keeps the bookkeeping row of each job.
type JobRecorder interface {
	CreateJob(job storage.Job) error
	SetJobChunks(id string, n int) error
	CompleteJob(id, outputPath string) error
	FailJob(id, kind, errMsg string) error
}

// Options are the per-request knobs. Zero values select the defaults, except
// Overlap where zero is a valid value and a negative one selects the default.
type Options struct {
	Model        string
	ChunkChars   int
	Overlap      int
	Language     string
	MapPrompt    string
	ReducePrompt string
}

// Input describes one job. An empty JobID is replaced with a new UUID.
type Input struct {
	JobID    string
	Filename string
	PDFPath  string
	Options  Options
}

// Result is the outcome of a successful job.
type Result struct {
	JobID      string
	Summary    string
	Chunks     int
	OutputPath string
}

// Config wires a Coordinator. Index and Jobs are optional.
type Config struct {
	Extractor    TextExtractor
	Summarizer   Summarizer
	Index        Indexer
	Jobs         JobRecorder
	UploadDir    string
	OutputDir    string
	DefaultModel string
	ChunkChars   int
	Overlap      int
	Logger       *slog.Logger
}

// Coordinator sequences the stages of a job.
type Coordinator struct {
	cfg Config
}

// New creates a Coordinator. UploadDir and OutputDir are created if missing.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Extractor == nil || cfg.Summarizer == nil {
		return nil, fmt.Errorf("pipeline: extractor and summarizer are required")
	}
	if cfg.ChunkChars <= 0 {
		cfg.ChunkChars = DefaultChunkChars
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if dir == "" {
			return nil, fmt.Errorf("pipeline: upload and output directories are required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return &Coordinator{cfg: cfg}, nil
}

// NewJobID returns a fresh job identifier.
func NewJobID() string {
	return uuid.NewString()
}

// Save writes an uploaded document to <upload_dir>/<job_id>.pdf and returns its path.
func (c *Coordinator) Save(jobID string, r io.Reader) (string, error) {
	path := filepath.Join(c.cfg.UploadDir, jobID+".pdf")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("creating upload file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("saving upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing upload file: %w", err)
	}
	return path, nil
}

// OutputPath returns where the summary of jobID is stored.
func (c *Coordinator) OutputPath(jobID string) string {
	return filepath.Join(c.cfg.OutputDir, jobID+".txt")
}

// Run executes every stage for in. The summary file is written only when
// all stages succeed; on failure the job row records the error kind.
func (c *Coordinator) Run(ctx context.Context, in Input) (Result, error) {
	if in.JobID == "" {
		in.JobID = NewJobID()
	}
	opts := c.withDefaults(in.Options)
	log := c.cfg.Logger.With("job_id", in.JobID)
	start := time.Now()
	log.Info("job started", "model", opts.Model, "language", opts.Language)

	if c.cfg.Jobs != nil {
		if err := c.cfg.Jobs.CreateJob(storage.Job{ID: in.JobID, Filename: in.Filename, Model: opts.Model}); err != nil {
			return Result{}, fmt.Errorf("creating job record: %w", err)
		}
	}

	res, err := c.run(ctx, log, in, opts)
	if err != nil {
		kind := Classify(err)
		log.Error("job failed", "kind", kind, "error", err)
		if c.cfg.Jobs != nil {
			if ferr := c.cfg.Jobs.FailJob(in.JobID, string(kind), err.Error()); ferr != nil {
				log.Warn("recording job failure", "error", ferr)
			}
		}
		return Result{}, err
	}

	if c.cfg.Jobs != nil {
		if err := c.cfg.Jobs.CompleteJob(in.JobID, res.OutputPath); err != nil {
			log.Warn("recording job completion", "error", err)
		}
	}
	log.Info("job finished", "chunks", res.Chunks, "elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (c *Coordinator) run(ctx context.Context, log *slog.Logger, in Input, opts Options) (Result, error) {
	searchable := filepath.Join(c.cfg.UploadDir, in.JobID+".searchable.pdf")
	stage := time.Now()
	if err := c.cfg.Extractor.EnsureSearchable(ctx, in.PDFPath, searchable); err != nil {
		return Result{}, err
	}
	log.Info("ocr done", "elapsed", time.Since(stage).Round(time.Millisecond))

	stage = time.Now()
	text, err := c.cfg.Extractor.Text(searchable)
	if err != nil {
		return Result{}, err
	}
	log.Info("text extracted", "bytes", len(text), "elapsed", time.Since(stage).Round(time.Millisecond))

	if strings.TrimSpace(text) == "" {
		return Result{}, &InputError{Err: ErrEmptyText}
	}

	chunks := chunker.Split(text, opts.ChunkChars, opts.Overlap)
	log.Info("text chunked", "chunks", len(chunks), "chunk_chars", opts.ChunkChars, "overlap", opts.Overlap)
	if c.cfg.Jobs != nil {
		if err := c.cfg.Jobs.SetJobChunks(in.JobID, len(chunks)); err != nil {
			log.Warn("recording chunk count", "error", err)
		}
	}

	if c.cfg.Index != nil {
		if n, err := c.cfg.Index.IndexJob(ctx, in.JobID, chunks); err != nil {
			log.Warn("indexing chunks failed, continuing", "error", err)
		} else {
			log.Info("chunks indexed", "records", n)
		}
	}

	stage = time.Now()
	final, err := c.cfg.Summarizer.Summarize(ctx, chunks, summarize.Request{
		Model:        opts.Model,
		MapPrompt:    opts.MapPrompt,
		ReducePrompt: opts.ReducePrompt,
	})
	if err != nil {
		return Result{}, err
	}
	log.Info("summary generated", "partials", final.Partials, "elapsed", time.Since(stage).Round(time.Millisecond))

	summary := strings.TrimSpace(final.Text)
	out := c.OutputPath(in.JobID)
	if err := os.WriteFile(out, []byte(summary), 0o644); err != nil {
		return Result{}, fmt.Errorf("writing summary: %w", err)
	}

	return Result{JobID: in.JobID, Summary: summary, Chunks: len(chunks), OutputPath: out}, nil
}

func (c *Coordinator) withDefaults(o Options) Options {
	if o.Model == "" {
		o.Model = c.cfg.DefaultModel
	}
	if o.ChunkChars <= 0 {
		o.ChunkChars = c.cfg.ChunkChars
	}
	if o.Overlap < 0 {
		o.Overlap = c.cfg.Overlap
	}
	if o.Language == "" {
		o.Language = DefaultLanguage
	}
	return o
}
