package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	Storage   StorageConfig
	Summarize SummarizeConfig
	OCR       OCRConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port  int
	Token string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
	// EmbedModel is optional; when empty, chunks are indexed without vectors.
	EmbedModel string
	Timeout    time.Duration
}

type StorageConfig struct {
	DataDir string
}

type SummarizeConfig struct {
	ChunkChars  int
	Overlap     int
	Concurrency int
	MaxRetries  int
	JobTimeout  time.Duration
	Temperature float64
}

type OCRConfig struct {
	Languages string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "qwen2.5:7b-instruct",
			Timeout: 120 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Summarize: SummarizeConfig{
			ChunkChars:  16000,
			Overlap:     400,
			Concurrency: 4,
			MaxRetries:  5,
			JobTimeout:  30 * time.Minute,
			Temperature: 0.1,
		},
		OCR: OCRConfig{
			Languages: "por+eng",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// UploadDir is where submitted PDFs and their searchable copies are kept.
func (c Config) UploadDir() string { return filepath.Join(c.Storage.DataDir, "uploads") }

// OutputDir is where finished summaries are written as <job_id>.txt.
func (c Config) OutputDir() string { return filepath.Join(c.Storage.DataDir, "outputs") }

// SlogLevel maps Log.Level to a slog level. Unknown values select info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration from the JSON file backend, a .env file in the
// working directory, and environment variables, in increasing precedence.
//
// The backend is a JSON file at $XDG_CONFIG_HOME/pdfsum/config.json.
// Variables from .env never replace ones already set in the environment.
// PDFSUM_* variables override everything; the unprefixed names DATA_DIR,
// DEFAULT_MODEL and OLLAMA_HOST are honored when the prefixed one is unset.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), ".env")
}

func loadWith(b ConfigBackend, dotenv string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", dotenv, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.Ollama.BaseURL == "":
		return fmt.Errorf("missing required config: ollama.base_url")
	case c.Ollama.Model == "":
		return fmt.Errorf("missing required config: ollama.model")
	case c.Summarize.ChunkChars <= 0:
		return fmt.Errorf("summarize.chunk_chars must be positive, got %d", c.Summarize.ChunkChars)
	case c.Summarize.Overlap < 0:
		return fmt.Errorf("summarize.overlap must not be negative, got %d", c.Summarize.Overlap)
	}
	return nil
}
