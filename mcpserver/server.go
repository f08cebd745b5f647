package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/sandbox"
)

// Tool names
const (
	ToolRunSnippet       = "run_snippet"
	ToolStageFile        = "stage_file"
	ToolRemoveStagedFile = "remove_staged_file"
	ToolListStagedFiles  = "list_staged_files"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config    *config.Config
	logger    *zap.Logger
	executor  sandbox.Executor
	staging   sandbox.StagingArea
	mcpServer *server.MCPServer
}

// RunResult is the JSON document returned by the run_snippet tool
type RunResult struct {
	RunID        string `json:"run_id"`
	Stdout       string `json:"stdout"`
	Stderr       string `json:"stderr"`
	Outcome      string `json:"outcome"`
	ExitCode     uint32 `json:"exit_code"`
	FuelConsumed uint64 `json:"fuel_consumed"`
	PeakMemory   uint64 `json:"peak_memory"`
	Truncated    bool   `json:"truncated,omitempty"`
	Error        string `json:"error,omitempty"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.Executor, staging sandbox.StagingArea) (*MCPServer, error) {
	s := &MCPServer{
		config:   cfg,
		logger:   logger,
		executor: executor,
		staging:  staging,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int64("sandbox.memory_limit_mb", s.config.Sandbox.MemoryLimitMB),
		zap.Int64("sandbox.timeout_ms", s.config.Sandbox.TimeoutMS),
		zap.Int("sandbox.max_output_bytes", s.config.Sandbox.MaxOutputBytes),
		zap.Bool("sandbox.mount_staging", s.config.Sandbox.MountStaging),
		zap.String("staging.manifest", s.config.Staging.Manifest),
	)

	s.mcpServer = server.NewMCPServer("agentbox", "A WebAssembly sandbox for untrusted snippets")

	s.registerRunSnippetTool()
	s.registerStagingTools()

	return s, nil
}

func (s *MCPServer) registerRunSnippetTool() {
	tool := mcp.Tool{
		Name:        ToolRunSnippet,
		Description: "Run an untrusted snippet inside the WebAssembly sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Snippet handed to the guest on standard input",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunSnippet)
}

func (s *MCPServer) registerStagingTools() {
	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolStageFile,
		Description: "Write a file into the staging store, visible read-only to runs at /staging",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path inside the staging store",
				},
				"content": map[string]any{
					"type":        "string",
					"description": "File content",
				},
				"encoding": map[string]any{
					"type":        "string",
					"description": "Encoding of content",
					"enum":        []string{"text", "base64"},
				},
			},
			Required: []string{"path", "content"},
		},
	}, s.handleStageFile)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolRemoveStagedFile,
		Description: "Remove a file from the staging store",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path": map[string]any{
					"type":        "string",
					"description": "Relative path inside the staging store",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleRemoveStagedFile)

	s.mcpServer.AddTool(mcp.Tool{
		Name:        ToolListStagedFiles,
		Description: "List the files in the staging store",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
	}, s.handleListStagedFiles)
}

func (s *MCPServer) handleRunSnippet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("code parameter is required: %v", err)), nil
	}

	s.logger.Info("snippet execution requested", zap.Int("code_len", len(code)))

	result, err := s.executor.Execute(ctx, code)
	if err != nil {
		s.logger.Error("sandbox execution failed", zap.Error(err), zap.Int("code_len", len(code)))
		return mcp.NewToolResultError(fmt.Sprintf("Execution failed: %v", err)), nil
	}

	s.logger.Info("snippet execution completed",
		zap.String("run_id", result.RunID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	doc := RunResult{
		RunID:        result.RunID,
		Stdout:       result.Stdout,
		Stderr:       result.Stderr,
		Outcome:      string(result.Outcome),
		ExitCode:     result.ExitCode,
		FuelConsumed: result.FuelConsumed,
		PeakMemory:   result.PeakMemory,
		Truncated:    result.StdoutTruncated || result.StderrTruncated,
	}
	if result.Err != nil {
		doc.Error = result.Err.Error()
	}
	return jsonResult(doc)
}

func (s *MCPServer) handleStageFile(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("path parameter is required: %v", err)), nil
	}
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("content parameter is required: %v", err)), nil
	}

	data := []byte(content)
	switch encoding := request.GetString("encoding", "text"); encoding {
	case "text":
	case "base64":
		data, err = base64.StdEncoding.DecodeString(content)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to decode content: %v", err)), nil
		}
	default:
		return mcp.NewToolResultError(fmt.Sprintf("invalid encoding: %s, must be 'text' or 'base64'", encoding)), nil
	}

	if err := s.staging.Write(path, data); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("file staged", zap.String("path", path), zap.Int("size", len(data)))
	return mcp.NewToolResultText(fmt.Sprintf("staged %s (%d bytes)", path, len(data))), nil
}

func (s *MCPServer) handleRemoveStagedFile(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("path parameter is required: %v", err)), nil
	}

	if err := s.staging.Remove(path); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	s.logger.Info("staged file removed", zap.String("path", path))
	return mcp.NewToolResultText(fmt.Sprintf("removed %s", path)), nil
}

func (s *MCPServer) handleListStagedFiles(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.staging.Paths())
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
