package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/pdfsum/internal/pipeline"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Pipeline Runner
	Jobs     JobLister
	Defaults pipeline.Options
}

// NewMCPServer creates an MCP server with the pdfsum tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"pdfsum",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("pdfsum summarizes local PDF files with a local model."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("summarize_pdf",
			mcp.WithDescription("Summarize a local PDF file and return the executive summary."),
			mcp.WithString("path", mcp.Description("Absolute path of the PDF file"), mcp.Required()),
			mcp.WithString("model", mcp.Description("Model name (defaults to the configured model)")),
			mcp.WithNumber("chunk_chars", mcp.Description("Chunk size in characters")),
			mcp.WithNumber("overlap", mcp.Description("Characters shared by consecutive chunks")),
		),
		mcpSummarizePDF(deps),
	)

	s.AddTool(
		mcp.NewTool("get_summary",
			mcp.WithDescription("Return the stored summary of a finished job."),
			mcp.WithString("job_id", mcp.Description("Job ID"), mcp.Required()),
		),
		mcpGetSummary(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"jobs://recent",
			"Recent Jobs",
			mcp.WithResourceDescription("Last 10 summarization jobs"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpSummarizePDF(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		path, err := req.RequireString("path")
		if err != nil {
			return mcpError("path is required"), nil
		}

		opts := deps.Defaults
		opts.Model = req.GetString("model", opts.Model)
		if n := req.GetInt("chunk_chars", 0); n > 0 {
			opts.ChunkChars = n
		}
		if n := req.GetInt("overlap", -1); n >= 0 {
			opts.Overlap = n
		}

		f, err := os.Open(path)
		if err != nil {
			return mcpError(fmt.Sprintf("cannot open %s: %v", path, err)), nil
		}
		defer f.Close()

		jobID := pipeline.NewJobID()
		saved, err := deps.Pipeline.Save(jobID, f)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to save input: %v", err)), nil
		}

		res, err := deps.Pipeline.Run(ctx, pipeline.Input{
			JobID:    jobID,
			Filename: filepath.Base(path),
			PDFPath:  saved,
			Options:  opts,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("job %s failed (%s): %v", jobID, pipeline.Classify(err), err)), nil
		}

		return mcpText(fmt.Sprintf("Job %s\n\n%s", res.JobID, res.Summary)), nil
	}
}

func mcpGetSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		jobID, err := req.RequireString("job_id")
		if err != nil {
			return mcpError("job_id is required"), nil
		}
		if filepath.Base(jobID) != jobID {
			return mcpError("invalid job_id"), nil
		}

		b, err := os.ReadFile(deps.Pipeline.OutputPath(jobID))
		if errors.Is(err, os.ErrNotExist) {
			return mcpError(fmt.Sprintf("no summary for job %s", jobID)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to read summary: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jobs, err := deps.Jobs.ListJobs(10, 0)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent jobs: %w", err)
		}

		type jobSummary struct {
			ID        string `json:"id"`
			Filename  string `json:"filename"`
			Status    string `json:"status"`
			Chunks    int    `json:"chunks"`
			CreatedAt string `json:"created_at"`
		}

		summaries := make([]jobSummary, len(jobs))
		for i, j := range jobs {
			summaries[i] = jobSummary{
				ID:        j.ID,
				Filename:  j.Filename,
				Status:    j.Status,
				Chunks:    j.ChunkCount,
				CreatedAt: j.CreatedAt.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal jobs: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
