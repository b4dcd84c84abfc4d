package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/pdfsum/internal/config"
	"github.com/kalambet/pdfsum/internal/ollama"
	"github.com/kalambet/pdfsum/internal/pipeline"
	"github.com/kalambet/pdfsum/internal/storage"
	"github.com/kalambet/pdfsum/internal/summarize"
)

// --- summarize ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize <file.pdf>",
	Short: "Summarize a PDF and print the summary",
	Long: `Summarize a PDF and print the summary to stdout.

By default the pipeline runs in this process against the configured Ollama
server. With --remote the file is uploaded to a running "pdfsum serve".

Examples:
  pdfsum summarize report.pdf
  pdfsum summarize report.pdf --model llama3 --chunk-chars 8000 > summary.txt
  pdfsum summarize report.pdf --remote`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		opts := pipeline.Options{Overlap: -1}
		opts.Model, _ = cmd.Flags().GetString("model")
		opts.ChunkChars, _ = cmd.Flags().GetInt("chunk-chars")
		opts.MapPrompt, _ = cmd.Flags().GetString("map-prompt")
		opts.ReducePrompt, _ = cmd.Flags().GetString("reduce-prompt")
		opts.Language, _ = cmd.Flags().GetString("language")
		if cmd.Flags().Changed("overlap") {
			opts.Overlap, _ = cmd.Flags().GetInt("overlap")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if remote, _ := cmd.Flags().GetBool("remote"); remote {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			return summarizeRemote(ctx, client, path, opts)
		}
		return summarizeLocal(ctx, path, opts)
	},
}

func init() {
	summarizeCmd.Flags().String("model", "", "model name (default from config)")
	summarizeCmd.Flags().Int("chunk-chars", 0, "chunk size in characters (default from config)")
	summarizeCmd.Flags().Int("overlap", 0, "characters shared by consecutive chunks (default from config)")
	summarizeCmd.Flags().String("language", "", "summary language tag (default pt-BR)")
	summarizeCmd.Flags().String("map-prompt", "", "instruction for each chunk")
	summarizeCmd.Flags().String("reduce-prompt", "", "instruction for the consolidation step")
	summarizeCmd.Flags().Bool("remote", false, "upload to the running server instead of summarizing locally")
}

func summarizeLocal(ctx context.Context, path string, opts pipeline.Options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg, stderr)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	oc := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.Timeout)
	if !oc.IsRunning(ctx) {
		return fmt.Errorf("ollama is not reachable at %s", cfg.Ollama.BaseURL)
	}

	coord, err := buildPipeline(cfg, store, oc, reportProgress)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	jobID := pipeline.NewJobID()
	saved, err := coord.Save(jobID, f)
	if err != nil {
		return err
	}

	printStep("Summarizing %s (job %s)", filepath.Base(path), jobID)
	res, err := coord.Run(ctx, pipeline.Input{
		JobID:    jobID,
		Filename: filepath.Base(path),
		PDFPath:  saved,
		Options:  opts,
	})
	if err != nil {
		return fmt.Errorf("%s error: %w", pipeline.Classify(err), err)
	}

	fmt.Fprintln(stdout, res.Summary)
	printSuccess("Job %s: %d chunks, summary saved to %s", res.JobID, res.Chunks, res.OutputPath)
	return nil
}

func reportProgress(p summarize.Progress) {
	switch p.State {
	case summarize.StateMapping:
		if p.Done > 0 {
			printStep("Summarized part %d/%d", p.Done, p.Total)
		}
	case summarize.StateReducing:
		printStep("Consolidating %d partial summaries", p.Total)
	}
}

func summarizeRemote(ctx context.Context, client *apiClient, path string, opts pipeline.Options) error {
	fields := map[string]string{
		"model":         opts.Model,
		"language":      opts.Language,
		"map_prompt":    opts.MapPrompt,
		"reduce_prompt": opts.ReducePrompt,
	}
	if opts.ChunkChars > 0 {
		fields["chunk_chars"] = strconv.Itoa(opts.ChunkChars)
	}
	if opts.Overlap >= 0 {
		fields["overlap"] = strconv.Itoa(opts.Overlap)
	}

	printStep("Uploading %s", filepath.Base(path))
	resp, err := client.postFile(ctx, "/summarize", path, fields)
	if err != nil {
		return err
	}
	jobID := resp.Header.Get("X-Job-ID")
	summary, err := readText(resp)
	if err != nil {
		if jobID != "" {
			return fmt.Errorf("job %s: %w", jobID, err)
		}
		return err
	}

	fmt.Fprintln(stdout, summary)
	printSuccess("Job %s", jobID)
	return nil
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pdfsum system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	client := &apiClient{
		baseURL:    fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port),
		token:      cfg.Server.Token,
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	oc := ollama.New(cfg.Ollama.BaseURL, 2*time.Second)
	if oc.IsRunning(checkCtx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		for _, m := range requiredModels(cfg) {
			if oc.HasModel(checkCtx, m) {
				printStatus("Model", "%s (available)", m)
			} else {
				printStatus("Model", "%s (missing, pulled on serve)", m)
			}
		}
	} else {
		printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent summarization jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		jobs, err := listJobs(cmd.Context(), client, limit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			printWarning("no jobs yet")
			return nil
		}
		for _, j := range jobs {
			fmt.Fprintf(stdout, "%s  %-9s  %3d chunks  %s  %s\n",
				j.ID, j.Status, j.ChunkCount, j.CreatedAt.Local().Format("2006-01-02 15:04"), j.Filename)
		}
		return nil
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show a job as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var job storage.Job
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

var jobsDownloadCmd = &cobra.Command{
	Use:   "download <job_id>",
	Short: "Print the stored summary of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/download/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		text, err := readText(resp)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, text)
		return nil
	},
}

func listJobs(ctx context.Context, client *apiClient, limit int) ([]storage.Job, error) {
	resp, err := client.get(ctx, "/jobs?limit="+strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	var jobs []storage.Job
	if err := decodeJSON(resp, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func init() {
	jobsCmd.Flags().Int("limit", 20, "maximum number of jobs to list")
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsDownloadCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(stdout, "  %s = %s\n", styled(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List configuration keys that can be set",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, k := range config.ValidKeys() {
			fmt.Fprintln(stdout, k)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configKeysCmd)
}
