// Package ollama is a small HTTP client for the Ollama generation, embedding
// and model management endpoints.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single generation request.
const DefaultTimeout = 120 * time.Second

// Message is one entry of a chat transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options carries sampling parameters sent with generation requests.
type Options struct {
	Temperature float64 `json:"temperature"`
}

// StatusError is returned when Ollama answers with a non-2xx status. Body
// holds the start of the response body, if any.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
}

// IsNotFound reports whether err is a 404 from Ollama.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Client talks to one Ollama server. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New creates a Client for baseURL. Each generation or embedding call is
// bounded by timeout; a non-positive value selects DefaultTimeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		// Deadlines come from the per-call context, never from the transport.
		http:    &http.Client{},
		timeout: timeout,
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Options  Options   `json:"options"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message *Message `json:"message"`
}

// Chat runs one non-streaming /api/chat call and returns the reply content.
// A response without a message yields "".
func (c *Client) Chat(ctx context.Context, model string, messages []Message, temperature float64) (string, error) {
	var out chatResponse
	req := chatRequest{Model: model, Messages: messages, Options: Options{Temperature: temperature}}
	if err := c.generation(ctx, "chat", "/api/chat", req, &out); err != nil {
		return "", err
	}
	if out.Message == nil {
		return "", nil
	}
	return out.Message.Content, nil
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Options Options `json:"options"`
	Stream  bool    `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate runs one non-streaming /api/generate call with a single prompt.
func (c *Client) Generate(ctx context.Context, model, prompt string, temperature float64) (string, error) {
	var out generateResponse
	req := generateRequest{Model: model, Prompt: prompt, Options: Options{Temperature: temperature}}
	if err := c.generation(ctx, "generate", "/api/generate", req, &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding of text under model.
func (c *Client) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	var out embedResponse
	if err := c.generation(ctx, "embed", "/api/embed", embedRequest{Model: model, Input: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("embed: no embeddings in response")
	}
	return out.Embeddings[0], nil
}

// generation is a POST round trip bounded by the client timeout.
func (c *Client) generation(ctx context.Context, op, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.roundTrip(ctx, op, http.MethodPost, path, in, out)
}

// roundTrip sends in (if non-nil) as JSON and decodes the reply into out.
func (c *Client) roundTrip(ctx context.Context, op, method, path string, in, out any) error {
	resp, err := c.send(ctx, op, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", op, err)
	}
	return nil
}

// send performs the request and checks the status. On success the caller
// owns the response body.
func (c *Client) send(ctx context.Context, op, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encoding %s request: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	return resp, nil
}
