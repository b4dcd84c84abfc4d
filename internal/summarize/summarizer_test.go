package summarize

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/pdfsum/internal/chunker"
	"github.com/kalambet/pdfsum/internal/llm"
)

// stubChat echoes "summary-of-<chunk>" for map calls and records the reduce input.
type stubChat struct {
	mu          sync.Mutex
	delay       func(chunk string) time.Duration
	failOn      string
	reduceInput string
	reduceCalls int
	mapCalls    int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (s *stubChat) Chat(ctx context.Context, _ string, messages []llm.Message, _ float64) (string, error) {
	user := messages[len(messages)-1].Content
	if messages[0].Content == DefaultReducePersona {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.reduceCalls++
		s.reduceInput = user
		return "  final summary \n", nil
	}

	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxInFlight.Load()
		if n <= m || s.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	chunk := extractChunk(user)
	s.mu.Lock()
	s.mapCalls++
	s.mu.Unlock()

	if s.delay != nil {
		select {
		case <-time.After(s.delay(chunk)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if chunk == s.failOn {
		return "", &llm.ModelUnavailableError{Model: "m", Attempts: 5, Err: errors.New("boom")}
	}
	return " summary-of-" + chunk + " ", nil
}

func extractChunk(user string) string {
	start := strings.Index(user, "---\n") + len("---\n")
	end := strings.LastIndex(user, "\n---")
	return user[start:end]
}

func quietConfig() Config {
	return Config{
		Temperature: DefaultTemperature,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func chunksOf(texts ...string) []chunker.Chunk {
	out := make([]chunker.Chunk, len(texts))
	offset := 0
	for i, t := range texts {
		out[i] = chunker.Chunk{Text: t, Offset: offset, Seq: i}
		offset += len(t)
	}
	return out
}

func TestSummarize_OrderedReduceInput(t *testing.T) {
	// Later chunks finish first.
	stub := &stubChat{delay: func(chunk string) time.Duration {
		switch chunk {
		case "A":
			return 60 * time.Millisecond
		case "B":
			return 30 * time.Millisecond
		}
		return 0
	}}
	cfg := quietConfig()
	cfg.Concurrency = 3
	s := New(stub, cfg)

	got, err := s.Summarize(context.Background(), chunksOf("A", "B", "C"), Request{Model: "llama3"})
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got.Text != "final summary" {
		t.Errorf("Text = %q, want trimmed final", got.Text)
	}
	if got.Partials != 3 {
		t.Errorf("Partials = %d, want 3", got.Partials)
	}

	want := DefaultReducePrompt + "\n\n" +
		"## Part 1\nsummary-of-A\n\n" +
		"## Part 2\nsummary-of-B\n\n" +
		"## Part 3\nsummary-of-C"
	if stub.reduceInput != want {
		t.Errorf("reduce input =\n%q\nwant\n%q", stub.reduceInput, want)
	}
	if stub.reduceCalls != 1 {
		t.Errorf("reduce calls = %d, want 1", stub.reduceCalls)
	}
}

func TestSummarize_AbortsOnMapFailure(t *testing.T) {
	stub := &stubChat{failOn: "B"}
	cfg := quietConfig()
	cfg.Concurrency = 1
	s := New(stub, cfg)

	_, err := s.Summarize(context.Background(), chunksOf("A", "B", "C"), Request{Model: "llama3"})
	if !errors.Is(err, ErrSummarizationFailed) {
		t.Fatalf("error = %v, want ErrSummarizationFailed", err)
	}
	if !errors.Is(err, llm.ErrModelUnavailable) {
		t.Errorf("error = %v, want it to wrap ErrModelUnavailable", err)
	}
	var fe *FailedError
	if !errors.As(err, &fe) || fe.Phase != PhaseMap || fe.Part != 2 {
		t.Errorf("FailedError = %+v, want map phase part 2", fe)
	}
	if stub.reduceCalls != 0 {
		t.Errorf("reduce calls = %d, want 0", stub.reduceCalls)
	}
	if stub.mapCalls != 2 {
		t.Errorf("map calls = %d, want 2 (sequential run stops at the failure)", stub.mapCalls)
	}
}

func TestSummarize_FailureCancelsSiblings(t *testing.T) {
	stub := &stubChat{
		failOn: "B",
		delay: func(chunk string) time.Duration {
			if chunk == "B" {
				return 0
			}
			return 5 * time.Second
		},
	}
	cfg := quietConfig()
	cfg.Concurrency = 3
	s := New(stub, cfg)

	start := time.Now()
	_, err := s.Summarize(context.Background(), chunksOf("A", "B", "C"), Request{Model: "llama3"})
	if !errors.Is(err, ErrSummarizationFailed) {
		t.Fatalf("error = %v, want ErrSummarizationFailed", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("took %v, want in-flight siblings cancelled", elapsed)
	}
	if stub.reduceCalls != 0 {
		t.Errorf("reduce calls = %d, want 0", stub.reduceCalls)
	}
}

func TestSummarize_BoundedConcurrency(t *testing.T) {
	stub := &stubChat{delay: func(string) time.Duration { return 20 * time.Millisecond }}
	cfg := quietConfig()
	cfg.Concurrency = 2
	s := New(stub, cfg)

	texts := []string{"a", "b", "c", "d", "e", "f", "g"}
	if _, err := s.Summarize(context.Background(), chunksOf(texts...), Request{Model: "m"}); err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if m := stub.maxInFlight.Load(); m > 2 {
		t.Errorf("max in-flight = %d, want <= 2", m)
	}
	if stub.mapCalls != len(texts) {
		t.Errorf("map calls = %d, want %d", stub.mapCalls, len(texts))
	}
}

func TestSummarize_ReduceFailure(t *testing.T) {
	chat := chatFunc(func(_ context.Context, _ string, messages []llm.Message, _ float64) (string, error) {
		if messages[0].Content == DefaultReducePersona {
			return "", errors.New("reduce exploded")
		}
		return "partial", nil
	})
	s := New(chat, quietConfig())

	_, err := s.Summarize(context.Background(), chunksOf("A"), Request{Model: "m"})
	var fe *FailedError
	if !errors.As(err, &fe) || fe.Phase != PhaseReduce {
		t.Fatalf("error = %v, want reduce-phase FailedError", err)
	}
}

func TestSummarize_NoChunks(t *testing.T) {
	s := New(&stubChat{}, quietConfig())
	_, err := s.Summarize(context.Background(), nil, Request{Model: "m"})
	if !errors.Is(err, ErrNoChunks) || !errors.Is(err, ErrSummarizationFailed) {
		t.Fatalf("error = %v, want ErrNoChunks wrapped in FailedError", err)
	}
}

func TestSummarize_JobTimeout(t *testing.T) {
	stub := &stubChat{delay: func(string) time.Duration { return 5 * time.Second }}
	cfg := quietConfig()
	cfg.Timeout = 50 * time.Millisecond
	s := New(stub, cfg)

	_, err := s.Summarize(context.Background(), chunksOf("A", "B"), Request{Model: "m"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want DeadlineExceeded", err)
	}
}

func TestSummarize_MessagesAndProgress(t *testing.T) {
	var mu sync.Mutex
	var seen [][]llm.Message
	chat := chatFunc(func(_ context.Context, model string, messages []llm.Message, temp float64) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if model != "qwen2.5:7b-instruct" {
			t.Errorf("model = %q", model)
		}
		if temp != DefaultTemperature {
			t.Errorf("temperature = %v, want %v", temp, DefaultTemperature)
		}
		seen = append(seen, messages)
		return "ok", nil
	})

	var states []State
	cfg := quietConfig()
	cfg.Concurrency = 1
	cfg.Progress = func(p Progress) { states = append(states, p.State) }
	s := New(chat, cfg)

	req := Request{Model: "qwen2.5:7b-instruct", MapPrompt: "Summarize:", ReducePrompt: "Merge:"}
	if _, err := s.Summarize(context.Background(), chunksOf("texto"), req); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if len(seen) != 2 {
		t.Fatalf("calls = %d, want 2", len(seen))
	}
	mapMsgs := seen[0]
	if mapMsgs[0].Role != llm.RoleSystem || mapMsgs[0].Content != DefaultMapPersona {
		t.Errorf("map system message = %+v", mapMsgs[0])
	}
	if mapMsgs[1].Role != llm.RoleUser || mapMsgs[1].Content != "Summarize:\n\n---\ntexto\n---" {
		t.Errorf("map user message = %q", mapMsgs[1].Content)
	}
	if got := seen[1][1].Content; got != "Merge:\n\n## Part 1\nok" {
		t.Errorf("reduce user message = %q", got)
	}

	want := []State{StateIdle, StateMapping, StateMapping, StateReducing, StateDone}
	if len(states) != len(want) {
		t.Fatalf("states = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("states[%d] = %s, want %s", i, states[i], want[i])
		}
	}
}

func TestLabelPartials_SortsBySeq(t *testing.T) {
	got := LabelPartials([]PartialSummary{
		{Seq: 2, Text: "c"},
		{Seq: 0, Text: "a"},
		{Seq: 1, Text: "b"},
	})
	want := "## Part 1\na\n\n## Part 2\nb\n\n## Part 3\nc"
	if got != want {
		t.Errorf("LabelPartials = %q, want %q", got, want)
	}
}

type chatFunc func(ctx context.Context, model string, messages []llm.Message, temperature float64) (string, error)

func (f chatFunc) Chat(ctx context.Context, model string, messages []llm.Message, temperature float64) (string, error) {
	return f(ctx, model, messages, temperature)
}

// TestSummarize_ZeroTemperature verifies an explicit temperature of 0 is sent
// unchanged on both map and reduce calls.
func TestSummarize_ZeroTemperature(t *testing.T) {
	var mu sync.Mutex
	var temps []float64
	chat := chatFunc(func(_ context.Context, _ string, _ []llm.Message, temp float64) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		temps = append(temps, temp)
		return "ok", nil
	})

	cfg := quietConfig()
	cfg.Temperature = 0
	if _, err := New(chat, cfg).Summarize(context.Background(), chunksOf("texto"), Request{Model: "m"}); err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if len(temps) != 2 {
		t.Fatalf("calls = %d, want 2", len(temps))
	}
	for i, temp := range temps {
		if temp != 0 {
			t.Errorf("call %d temperature = %v, want 0", i, temp)
		}
	}
}
