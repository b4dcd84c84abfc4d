package main

import (
	"io"
	"log/slog"

	"github.com/kalambet/pdfsum/internal/config"
	"github.com/kalambet/pdfsum/internal/extract"
	"github.com/kalambet/pdfsum/internal/index"
	"github.com/kalambet/pdfsum/internal/llm"
	"github.com/kalambet/pdfsum/internal/ollama"
	"github.com/kalambet/pdfsum/internal/pipeline"
	"github.com/kalambet/pdfsum/internal/storage"
	"github.com/kalambet/pdfsum/internal/summarize"
)

// setupLogging installs the default slog handler at the configured level.
func setupLogging(cfg config.Config, w io.Writer) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
}

// buildPipeline wires the model client, summarizer, extractor and index
// around an open store. progress may be nil.
func buildPipeline(cfg config.Config, store *storage.Store, oc *ollama.Client, progress func(summarize.Progress)) (*pipeline.Coordinator, error) {
	chat := llm.New(oc, llm.Config{
		Capabilities: llm.DefaultCapabilities(),
		Retry: llm.RetryPolicy{
			MaxAttempts: cfg.Summarize.MaxRetries,
			Backoff:     llm.LinearBackoff(llm.DefaultBackoffStep),
		},
	})

	timeout := cfg.Summarize.JobTimeout
	if timeout == 0 {
		timeout = -1 // zero in config means no job deadline
	}
	sum := summarize.New(chat, summarize.Config{
		Concurrency: cfg.Summarize.Concurrency,
		Timeout:     timeout,
		Temperature: cfg.Summarize.Temperature,
		Progress:    progress,
	})

	var embedder index.BatchEmbedder
	if cfg.Ollama.EmbedModel != "" {
		embedder = index.NewEmbedder(oc, cfg.Ollama.EmbedModel).WithConcurrency(cfg.Summarize.Concurrency)
	}

	return pipeline.New(pipeline.Config{
		Extractor:    extract.New(cfg.OCR.Languages, nil),
		Summarizer:   sum,
		Index:        index.NewStore(store, embedder),
		Jobs:         store,
		UploadDir:    cfg.UploadDir(),
		OutputDir:    cfg.OutputDir(),
		DefaultModel: cfg.Ollama.Model,
		ChunkChars:   cfg.Summarize.ChunkChars,
		Overlap:      cfg.Summarize.Overlap,
	})
}

// defaultOptions are the request defaults taken from config.
func defaultOptions(cfg config.Config) pipeline.Options {
	return pipeline.Options{
		Model:      cfg.Ollama.Model,
		ChunkChars: cfg.Summarize.ChunkChars,
		Overlap:    cfg.Summarize.Overlap,
		Language:   pipeline.DefaultLanguage,
	}
}

// requiredModels lists the models the server needs pulled before start.
func requiredModels(cfg config.Config) []string {
	models := []string{cfg.Ollama.Model}
	if cfg.Ollama.EmbedModel != "" {
		models = append(models, cfg.Ollama.EmbedModel)
	}
	return models
}
