package main

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/pdfsum/internal/config"
	"github.com/kalambet/pdfsum/internal/pipeline"
	"github.com/kalambet/pdfsum/internal/summarize"
)

type recordedRequest struct {
	Method      string
	Path        string
	Auth        string
	ContentType string
	Body        []byte
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

type cannedResponse struct {
	status  int
	body    string
	headers map[string]string
}

func newTestServer(t *testing.T, responses map[string]cannedResponse) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts.requests = append(ts.requests, recordedRequest{
			Method:      r.Method,
			Path:        r.URL.RequestURI(),
			Auth:        r.Header.Get("Authorization"),
			ContentType: r.Header.Get("Content-Type"),
			Body:        body,
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			for k, v := range resp.headers {
				w.Header().Set(k, v)
			}
			status := resp.status
			if status == 0 {
				status = http.StatusOK
			}
			w.WriteHeader(status)
			w.Write([]byte(resp.body))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// captureOutput redirects stdout/stderr writers for the duration of a test.
func captureOutput(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	oldOut, oldErr, oldColor := stdout, stderr, noColor
	stdout, stderr, noColor = out, errOut, true
	t.Cleanup(func() { stdout, stderr, noColor = oldOut, oldErr, oldColor })
	return out, errOut
}

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 body"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

var ctx = context.Background()

func TestSummarizeRemote(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /summarize": {body: "resumo executivo", headers: map[string]string{"X-Job-ID": "job-42"}},
	})
	out, errOut := captureOutput(t)

	opts := pipeline.Options{Model: "llama3", ChunkChars: 8000, Overlap: 0}
	if err := summarizeRemote(ctx, ts.client(), writeTempPDF(t), opts); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if strings.TrimSpace(out.String()) != "resumo executivo" {
		t.Errorf("stdout = %q", out.String())
	}
	if !strings.Contains(errOut.String(), "job-42") {
		t.Errorf("stderr = %q, want job id", errOut.String())
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}

	_, params, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		t.Fatalf("parsing content type: %v", err)
	}
	form, err := multipart.NewReader(bytes.NewReader(r.Body), params["boundary"]).ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("reading form: %v", err)
	}
	if got := form.Value["model"]; len(got) != 1 || got[0] != "llama3" {
		t.Errorf("model = %v", got)
	}
	if got := form.Value["chunk_chars"]; len(got) != 1 || got[0] != "8000" {
		t.Errorf("chunk_chars = %v", got)
	}
	if got := form.Value["overlap"]; len(got) != 1 || got[0] != "0" {
		t.Errorf("overlap = %v", got)
	}
	if _, ok := form.Value["map_prompt"]; ok {
		t.Error("empty map_prompt should not be sent")
	}
	if files := form.File["file"]; len(files) != 1 || files[0].Filename != "report.pdf" {
		t.Errorf("file parts = %v", files)
	}
}

func TestSummarizeRemote_DefaultOverlapOmitted(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /summarize": {body: "ok"},
	})
	captureOutput(t)

	if err := summarizeRemote(ctx, ts.client(), writeTempPDF(t), pipeline.Options{Overlap: -1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bytes.Contains(ts.requests[0].Body, []byte(`name="overlap"`)) {
		t.Error("overlap should be omitted when not set")
	}
}

func TestSummarizeRemote_ServerError(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"POST /summarize": {
			status:  http.StatusBadGateway,
			body:    `{"error":{"message":"model unavailable","type":"model_error"}}`,
			headers: map[string]string{"X-Job-ID": "job-7"},
		},
	})
	captureOutput(t)

	err := summarizeRemote(ctx, ts.client(), writeTempPDF(t), pipeline.Options{Overlap: -1})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"job-7", "502", "model unavailable"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error = %q, want it to contain %q", err.Error(), want)
		}
	}
}

func TestListJobs(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /jobs": {body: `[{"id":"job-1","filename":"a.pdf","status":"completed","chunk_count":3,"created_at":"2025-01-01T00:00:00Z","updated_at":"2025-01-01T00:00:00Z"}]`},
	})

	jobs, err := listJobs(ctx, ts.client(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "job-1" || jobs[0].ChunkCount != 3 {
		t.Errorf("jobs = %+v", jobs)
	}
	if ts.requests[0].Path != "/jobs?limit=5" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestAPIClient_NoTokenNoHeader(t *testing.T) {
	ts := newTestServer(t, map[string]cannedResponse{
		"GET /health": {body: `{"status":"ok"}`},
	})
	client := ts.client()
	client.token = ""

	resp, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if ts.requests[0].Auth != "" {
		t.Errorf("auth = %q, want empty", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"invalid or missing bearer token","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/jobs")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "bearer token") {
		t.Errorf("error = %q, want status and message", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := styled(ansiGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("styled with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = styled(ansiGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("styled with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestReportProgress(t *testing.T) {
	_, errOut := captureOutput(t)

	reportProgress(summarize.Progress{State: summarize.StateMapping, Total: 3})
	reportProgress(summarize.Progress{State: summarize.StateMapping, Done: 1, Total: 3})
	reportProgress(summarize.Progress{State: summarize.StateReducing, Done: 3, Total: 3})

	got := errOut.String()
	if strings.Count(got, "\n") != 2 {
		t.Errorf("output = %q, want two lines", got)
	}
	if !strings.Contains(got, "part 1/3") || !strings.Contains(got, "Consolidating 3") {
		t.Errorf("output = %q", got)
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 8000
	cfg.Ollama.Model = "qwen2.5:7b-instruct"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "8000" {
			found = true
		}
	}
	if !found {
		t.Error("expected to find server.port=8000 in ShowAll output")
	}
}

func TestDefaultOptionsAndModels(t *testing.T) {
	cfg := config.Config{}
	cfg.Ollama.Model = "qwen2.5:7b-instruct"
	cfg.Summarize.ChunkChars = 16000
	cfg.Summarize.Overlap = 400

	opts := defaultOptions(cfg)
	want := pipeline.Options{Model: "qwen2.5:7b-instruct", ChunkChars: 16000, Overlap: 400, Language: "pt-BR"}
	if opts != want {
		t.Errorf("defaultOptions = %+v, want %+v", opts, want)
	}

	if got := requiredModels(cfg); len(got) != 1 {
		t.Errorf("requiredModels = %v, want only the chat model", got)
	}
	cfg.Ollama.EmbedModel = "nomic-embed-text"
	if got := requiredModels(cfg); len(got) != 2 || got[1] != "nomic-embed-text" {
		t.Errorf("requiredModels = %v", got)
	}
}

func TestSummarizeCommand_MissingFile(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"summarize", filepath.Join(t.TempDir(), "nope.pdf")})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "nope.pdf") {
		t.Errorf("error = %q, want it to name the file", err.Error())
	}
}

func TestSummarizeCommand_RequiresArg(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"summarize"})
	if err := rootCmd.Execute(); err == nil {
		t.Fatal("expected error without file argument")
	}
}

func TestColorDisabledByDefault_NoColorEnv(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	if !colorDisabledByDefault() {
		t.Error("colorDisabledByDefault() = false with NO_COLOR set")
	}
}
