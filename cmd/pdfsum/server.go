package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/pdfsum/internal/api"
	"github.com/kalambet/pdfsum/internal/config"
	"github.com/kalambet/pdfsum/internal/ollama"
	"github.com/kalambet/pdfsum/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pdfsum HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		skipPull, _ := cmd.Flags().GetBool("skip-pull")
		return runServer(host, withMCP, skipPull)
	},
}

func init() {
	serveCmd.Flags().String("host", "127.0.0.1", "address to bind")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
	serveCmd.Flags().Bool("skip-pull", false, "do not pull missing models on start")
}

func runServer(host string, withMCP, skipPull bool) error {
	fmt.Fprintf(os.Stderr, "pdfsum version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check Ollama readiness.
	oc := ollama.New(cfg.Ollama.BaseURL, cfg.Ollama.Timeout)
	if skipPull {
		if !oc.IsRunning(ctx) {
			printWarning("Ollama is not reachable at %s; requests will fail until it is", cfg.Ollama.BaseURL)
		}
	} else if err := ollama.EnsureReady(ctx, oc, os.Stderr, requiredModels(cfg)...); err != nil {
		return err
	}

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	coord, err := buildPipeline(cfg, store, oc, nil)
	if err != nil {
		return err
	}

	handler := api.NewHandler(api.Deps{
		Pipeline: coord,
		Jobs:     store,
		Token:    cfg.Server.Token,
		Defaults: defaultOptions(cfg),
	})
	if cfg.Server.Token == "" {
		slog.Warn("server.token is not set; API routes are unauthenticated")
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Pipeline: coord,
			Jobs:     store,
			Defaults: defaultOptions(cfg),
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "pdfsum listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
