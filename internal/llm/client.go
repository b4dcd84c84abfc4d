// Package llm sends conversations to the generative model backend, choosing
// between the chat and completion protocols and retrying transient failures.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/pdfsum/internal/ollama"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role
	Content string
}

// Chatter is the contract the summarizer depends on.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []Message, temperature float64) (string, error)
}

// Backend is the raw transport for both protocols. *ollama.Client satisfies it.
type Backend interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, temperature float64) (string, error)
	Generate(ctx context.Context, model, prompt string, temperature float64) (string, error)
}

// Config configures a Client. Zero values select defaults.
type Config struct {
	Capabilities *Capabilities
	Retry        RetryPolicy
	Logger       *slog.Logger
}

// Client implements Chatter on top of a Backend.
type Client struct {
	backend Backend
	caps    *Capabilities
	retry   RetryPolicy
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error
}

// Compile-time check that Client implements Chatter.
var _ Chatter = (*Client)(nil)

// New creates a Client for backend.
func New(backend Backend, cfg Config) *Client {
	if cfg.Capabilities == nil {
		cfg.Capabilities = DefaultCapabilities()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		backend: backend,
		caps:    cfg.Capabilities,
		retry:   cfg.Retry,
		logger:  cfg.Logger,
		sleep:   sleepContext,
	}
}

// attemptResult is the outcome of one attempt.
type attemptResult struct {
	text       string
	err        error
	downgraded bool
}

// Chat sends messages to model and returns the generated text.
//
// The first protocol comes from the capability table. A 404 on the chat path
// switches the rest of this call to the completion protocol, flattening the
// messages into one prompt, and the downgrade is remembered for the model.
// Other failures are retried per the retry policy. When every attempt fails
// the returned error is a *ModelUnavailableError.
func (c *Client) Chat(ctx context.Context, model string, messages []Message, temperature float64) (string, error) {
	proto := c.caps.Protocol(model)
	maxAttempts := c.retry.attempts()

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		res := c.attempt(ctx, model, messages, temperature, proto)
		if res.downgraded {
			proto = ProtocolCompletion
			c.caps.Record(model, ProtocolCompletion)
			c.logger.Info("chat protocol not available, using completion", "model", model)
		}
		if res.err == nil {
			if proto == ProtocolChat {
				c.caps.Record(model, ProtocolChat)
			}
			return res.text, nil
		}

		lastErr = res.err
		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}

		delay := c.retry.delay(attempt)
		c.logger.Warn("model call failed, retrying",
			"model", model,
			"protocol", proto.String(),
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"backoff", delay,
			"error", res.err,
		)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return "", &ModelUnavailableError{Model: model, Attempts: attempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, model string, messages []Message, temperature float64, proto Protocol) attemptResult {
	if proto == ProtocolChat {
		text, err := c.backend.Chat(ctx, model, toOllama(messages), temperature)
		if !ollama.IsNotFound(err) {
			if err != nil {
				return attemptResult{err: fmt.Errorf("chat: %w", err)}
			}
			return attemptResult{text: text}
		}
		res := c.generate(ctx, model, messages, temperature)
		res.downgraded = true
		return res
	}
	return c.generate(ctx, model, messages, temperature)
}

func (c *Client) generate(ctx context.Context, model string, messages []Message, temperature float64) attemptResult {
	text, err := c.backend.Generate(ctx, model, FlattenPrompt(messages), temperature)
	if err != nil {
		return attemptResult{err: fmt.Errorf("generate: %w", err)}
	}
	return attemptResult{text: text}
}

// FlattenPrompt joins message contents in order, separated by a blank line,
// for backends that only accept a single prompt.
func FlattenPrompt(messages []Message) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = m.Content
	}
	return strings.Join(parts, "\n\n")
}

func toOllama(messages []Message) []ollama.Message {
	out := make([]ollama.Message, len(messages))
	for i, m := range messages {
		out[i] = ollama.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
