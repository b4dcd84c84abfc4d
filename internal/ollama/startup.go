package ollama

import (
	"context"
	"fmt"
	"io"
	"time"
)

// EnsureReady checks that Ollama is running and the given models are available.
// It pulls missing models automatically with progress output written to w, then
// warms up the first model so the first map call doesn't pay the cold-load penalty.
// Empty model names are skipped. Returns a non-nil error if Ollama is unreachable.
func EnsureReady(ctx context.Context, c *Client, w io.Writer, models ...string) error {
	if !c.IsRunning(ctx) {
		return fmt.Errorf("Ollama is not running at %s. Start it with: ollama serve", c.baseURL)
	}

	var warm string
	for _, model := range models {
		if model == "" {
			continue
		}
		if warm == "" {
			warm = model
		}
		if c.HasModel(ctx, model) {
			fmt.Fprintf(w, "model %s: ready\n", model)
			continue
		}

		fmt.Fprintf(w, "model %s: pulling...\n", model)
		err := c.PullModel(ctx, model, func(p PullProgress) {
			if p.Total > 0 {
				pct := float64(p.Completed) / float64(p.Total) * 100
				fmt.Fprintf(w, "  %s %.0f%%\n", p.Status, pct)
			} else {
				fmt.Fprintf(w, "  %s\n", p.Status)
			}
		})
		if err != nil {
			return fmt.Errorf("pulling model %s: %w", model, err)
		}
		fmt.Fprintf(w, "model %s: ready\n", model)
	}

	if warm == "" {
		return nil
	}

	fmt.Fprintf(w, "model %s: warming up...\n", warm)
	warmCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := c.Generate(warmCtx, warm, "ping", 0); err != nil {
		fmt.Fprintf(w, "model %s: warm-up failed (non-fatal): %v\n", warm, err)
	} else {
		fmt.Fprintf(w, "model %s: warm\n", warm)
	}

	return nil
}
