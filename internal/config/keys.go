package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	legacy  string // unprefixed env name, lower precedence than env
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "PDFSUM_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.token", typ: kString, env: "PDFSUM_SERVER_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Token },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PDFSUM_OLLAMA_BASE_URL", legacy: "OLLAMA_HOST",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.model", typ: kString, env: "PDFSUM_OLLAMA_MODEL", legacy: "DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.Model },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "PDFSUM_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "ollama.timeout", typ: kDuration, env: "PDFSUM_OLLAMA_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ollama.Timeout },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PDFSUM_STORAGE_DATA_DIR", legacy: "DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "summarize.chunk_chars", typ: kInt, env: "PDFSUM_SUMMARIZE_CHUNK_CHARS",
		apply:   func(cfg *Config, v any) { cfg.Summarize.ChunkChars = v.(int) },
		extract: func(cfg Config) any { return cfg.Summarize.ChunkChars },
	},
	{
		key: "summarize.overlap", typ: kInt, env: "PDFSUM_SUMMARIZE_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Summarize.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Summarize.Overlap },
	},
	{
		key: "summarize.concurrency", typ: kInt, env: "PDFSUM_SUMMARIZE_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Summarize.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Summarize.Concurrency },
	},
	{
		key: "summarize.max_retries", typ: kInt, env: "PDFSUM_SUMMARIZE_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Summarize.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Summarize.MaxRetries },
	},
	{
		key: "summarize.job_timeout", typ: kDuration, env: "PDFSUM_SUMMARIZE_JOB_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Summarize.JobTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Summarize.JobTimeout },
	},
	{
		key: "summarize.temperature", typ: kFloat, env: "PDFSUM_SUMMARIZE_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Summarize.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Summarize.Temperature },
	},
	{
		key: "ocr.languages", typ: kString, env: "PDFSUM_OCR_LANGUAGES",
		apply:   func(cfg *Config, v any) { cfg.OCR.Languages = v.(string) },
		extract: func(cfg Config) any { return cfg.OCR.Languages },
	},
	{
		key: "log.level", typ: kString, env: "PDFSUM_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// applyBackend reads every non-secret key from b. Unlike environment
// variables, a stored value that does not parse is an error.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok, err := b.Lookup(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name := s.env
		raw := os.Getenv(name)
		if raw == "" && s.legacy != "" {
			name = s.legacy
			raw = os.Getenv(name)
		}
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}
