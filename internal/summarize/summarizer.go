// Package summarize produces one executive summary from many text chunks with
// a map-reduce pass over a language model.
package summarize

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/pdfsum/internal/chunker"
	"github.com/kalambet/pdfsum/internal/llm"
)

const (
	DefaultMapPersona    = "Você é um assistente que resume com precisão técnica e em PT-BR."
	DefaultReducePersona = "Você é um assistente que consolida resumos em PT-BR de forma estruturada e objetiva."

	DefaultMapPrompt    = "Resuma objetivamente (bullet points, PT-BR) o trecho a seguir, preservando números, entidades e termos técnicos:"
	DefaultReducePrompt = "Junte os resumos em um único resumo executivo em PT-BR, com seções curtas e claras. Foque em objetivos, métricas, decisões e riscos."

	DefaultConcurrency = 4
	DefaultTimeout     = 30 * time.Minute
	DefaultTemperature = 0.1
)

// State is the position of a job in Idle → Mapping → Reducing → Done.
type State string

const (
	StateIdle     State = "idle"
	StateMapping  State = "mapping"
	StateReducing State = "reducing"
	StateDone     State = "done"
)

// Progress is reported after every state change and every finished map call.
type Progress struct {
	State State
	Done  int
	Total int
}

// PartialSummary is the map output for one chunk. Seq is 0-based.
type PartialSummary struct {
	Seq  int
	Text string
}

// FinalSummary is the consolidated result of a job.
type FinalSummary struct {
	Text     string
	Partials int
}

// Request carries the per-job model and prompts. Empty prompts select the defaults.
type Request struct {
	Model        string
	MapPrompt    string
	ReducePrompt string
}

// Config tunes a Summarizer. Zero values select defaults, except Temperature,
// which is sent as given, and Timeout, where a negative value disables the
// job deadline.
type Config struct {
	Concurrency   int
	Timeout       time.Duration
	Temperature   float64
	MapPersona    string
	ReducePersona string
	Logger        *slog.Logger
	Progress      func(Progress)
}

// Summarizer runs map-reduce jobs against a model client.
type Summarizer struct {
	chat llm.Chatter
	cfg  Config
}

// New creates a Summarizer that calls chat for every model request.
func New(chat llm.Chatter, cfg Config) *Summarizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MapPersona == "" {
		cfg.MapPersona = DefaultMapPersona
	}
	if cfg.ReducePersona == "" {
		cfg.ReducePersona = DefaultReducePersona
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Summarizer{chat: chat, cfg: cfg}
}

// Summarize maps every chunk to a partial summary, then reduces the labeled
// partials to one summary. The first map failure cancels the remaining map
// calls and no reduce call is made. Every error is a *FailedError.
func (s *Summarizer) Summarize(ctx context.Context, chunks []chunker.Chunk, req Request) (FinalSummary, error) {
	if len(chunks) == 0 {
		return FinalSummary{}, &FailedError{Phase: PhaseMap, Err: ErrNoChunks}
	}
	if req.MapPrompt == "" {
		req.MapPrompt = DefaultMapPrompt
	}
	if req.ReducePrompt == "" {
		req.ReducePrompt = DefaultReducePrompt
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	s.report(Progress{State: StateIdle, Total: len(chunks)})

	partials, err := s.mapChunks(ctx, chunks, req)
	if err != nil {
		return FinalSummary{}, err
	}

	s.report(Progress{State: StateReducing, Done: len(chunks), Total: len(chunks)})
	s.cfg.Logger.Info("reducing partial summaries", "model", req.Model, "partials", len(partials))

	final, err := s.chat.Chat(ctx, req.Model, []llm.Message{
		{Role: llm.RoleSystem, Content: s.cfg.ReducePersona},
		{Role: llm.RoleUser, Content: req.ReducePrompt + "\n\n" + LabelPartials(partials)},
	}, s.cfg.Temperature)
	if err != nil {
		s.cfg.Logger.Error("reduce call failed", "model", req.Model, "error", err)
		return FinalSummary{}, &FailedError{Phase: PhaseReduce, Err: err}
	}

	s.report(Progress{State: StateDone, Done: len(chunks), Total: len(chunks)})
	return FinalSummary{Text: strings.TrimSpace(final), Partials: len(partials)}, nil
}

// mapChunks summarizes chunks with at most cfg.Concurrency calls in flight.
// Results are stored by position, so output order never depends on which call
// finishes first.
func (s *Summarizer) mapChunks(ctx context.Context, chunks []chunker.Chunk, req Request) ([]PartialSummary, error) {
	total := len(chunks)
	partials := make([]PartialSummary, total)

	var mu sync.Mutex
	done := 0
	s.report(Progress{State: StateMapping, Total: total})

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, c := range chunks {
		if gCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return &FailedError{Phase: PhaseMap, Part: i + 1, Err: err}
			}
			s.cfg.Logger.Info("summarizing chunk", "part", i+1, "total", total)
			text, err := s.chat.Chat(gCtx, req.Model, []llm.Message{
				{Role: llm.RoleSystem, Content: s.cfg.MapPersona},
				{Role: llm.RoleUser, Content: MapInput(req.MapPrompt, c.Text)},
			}, s.cfg.Temperature)
			if err != nil {
				return &FailedError{Phase: PhaseMap, Part: i + 1, Err: err}
			}

			partials[i] = PartialSummary{Seq: i, Text: strings.TrimSpace(text)}

			mu.Lock()
			done++
			s.report(Progress{State: StateMapping, Done: done, Total: total})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.cfg.Logger.Error("map phase aborted", "model", req.Model, "error", err)
		return nil, err
	}
	// The loop may stop early on a cancelled parent context without any
	// goroutine reporting an error.
	if err := ctx.Err(); err != nil {
		return nil, &FailedError{Phase: PhaseMap, Err: err}
	}
	return partials, nil
}

func (s *Summarizer) report(p Progress) {
	if s.cfg.Progress != nil {
		s.cfg.Progress(p)
	}
}

// MapInput builds the user message for one chunk.
func MapInput(prompt, chunk string) string {
	return prompt + "\n\n---\n" + chunk + "\n---"
}

// Label returns the section heading for a 1-based part number.
func Label(part int) string {
	return fmt.Sprintf("## Part %d", part)
}

// LabelPartials joins partial summaries in ascending Seq order, each under
// its section heading, separated by blank lines.
func LabelPartials(partials []PartialSummary) string {
	sorted := slices.Clone(partials)
	slices.SortFunc(sorted, func(a, b PartialSummary) int { return cmp.Compare(a.Seq, b.Seq) })

	sections := make([]string, len(sorted))
	for i, p := range sorted {
		sections[i] = Label(p.Seq+1) + "\n" + p.Text
	}
	return strings.Join(sections, "\n\n")
}
