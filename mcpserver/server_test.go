package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/agentbox/config"
	"github.com/isdmx/agentbox/sandbox"
	"github.com/isdmx/agentbox/staging"
)

// MockExecutor implements sandbox.Executor for testing
type MockExecutor struct {
	executeResult sandbox.ExecuteResult
	executeError  error
	lastCode      string
}

func (m *MockExecutor) Execute(_ context.Context, code string) (sandbox.ExecuteResult, error) {
	m.lastCode = code
	return m.executeResult, m.executeError
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Transport: "stdio",
			HTTPPort:  8080,
		},
		Sandbox: config.SandboxConfig{
			MemoryLimitMB:  512,
			TimeoutMS:      10000,
			MaxOutputBytes: 1 << 20,
		},
		Logging: config.LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	switch c := result.Content[0].(type) {
	case mcp.TextContent:
		return c.Text
	case *mcp.TextContent:
		return c.Text
	default:
		t.Fatalf("unexpected content type %T", result.Content[0])
		return ""
	}
}

func TestNewMCPServer(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := testConfig()
	mockExecutor := &MockExecutor{}
	store := staging.New()

	server, err := New(cfg, logger, mockExecutor, store)
	require.NoError(t, err)
	require.NotNil(t, server)
	assert.Equal(t, cfg, server.config)
	assert.Equal(t, logger, server.logger)
	assert.Equal(t, mockExecutor, server.executor)
	assert.NotNil(t, server.GetMCPServer())
}

func TestHandleRunSnippet(t *testing.T) {
	ctx := context.Background()

	t.Run("returns run document", func(t *testing.T) {
		mockExecutor := &MockExecutor{
			executeResult: sandbox.ExecuteResult{
				RunID:        "run-1",
				Stdout:       "Start Execution\nExecuting code: 1\nEnd Execution\n",
				Outcome:      sandbox.OutcomeCompleted,
				FuelConsumed: 42,
				PeakMemory:   65536,
			},
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor, staging.New())
		require.NoError(t, err)

		result, err := server.handleRunSnippet(ctx, callRequest(ToolRunSnippet, map[string]any{"code": "1"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)
		assert.Equal(t, "1", mockExecutor.lastCode)

		var doc RunResult
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &doc))
		assert.Equal(t, "run-1", doc.RunID)
		assert.Equal(t, "completed", doc.Outcome)
		assert.Equal(t, uint64(42), doc.FuelConsumed)
		assert.Empty(t, doc.Error)
	})

	t.Run("reports guest fault in document", func(t *testing.T) {
		mockExecutor := &MockExecutor{
			executeResult: sandbox.ExecuteResult{
				Outcome:  sandbox.OutcomeFaulted,
				ExitCode: 1,
				Stderr:   "memory limit exceeded\n",
				Err:      errors.New("exit 1"),
			},
		}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor, staging.New())
		require.NoError(t, err)

		result, err := server.handleRunSnippet(ctx, callRequest(ToolRunSnippet, map[string]any{"code": "x"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		var doc RunResult
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &doc))
		assert.Equal(t, "faulted", doc.Outcome)
		assert.Equal(t, uint32(1), doc.ExitCode)
		assert.Equal(t, "exit 1", doc.Error)
	})

	t.Run("setup failure is a tool error", func(t *testing.T) {
		mockExecutor := &MockExecutor{executeError: sandbox.ErrRuntime}
		server, err := New(testConfig(), zaptest.NewLogger(t), mockExecutor, staging.New())
		require.NoError(t, err)

		result, err := server.handleRunSnippet(ctx, callRequest(ToolRunSnippet, map[string]any{"code": "x"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "Execution failed")
	})

	t.Run("missing code", func(t *testing.T) {
		server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, staging.New())
		require.NoError(t, err)

		result, err := server.handleRunSnippet(ctx, callRequest(ToolRunSnippet, map[string]any{}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})
}

func TestStagingTools(t *testing.T) {
	ctx := context.Background()
	store := staging.New()
	server, err := New(testConfig(), zaptest.NewLogger(t), &MockExecutor{}, store)
	require.NoError(t, err)

	t.Run("stage text file", func(t *testing.T) {
		result, err := server.handleStageFile(ctx, callRequest(ToolStageFile, map[string]any{
			"path":    "data/input.txt",
			"content": "42",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		data, err := store.Read("data/input.txt")
		require.NoError(t, err)
		assert.Equal(t, "42", string(data))
	})

	t.Run("stage base64 file", func(t *testing.T) {
		result, err := server.handleStageFile(ctx, callRequest(ToolStageFile, map[string]any{
			"path":     "blob.bin",
			"content":  "AAEC",
			"encoding": "base64",
		}))
		require.NoError(t, err)
		assert.False(t, result.IsError)

		data, err := store.Read("blob.bin")
		require.NoError(t, err)
		assert.Equal(t, []byte{0, 1, 2}, data)
	})

	t.Run("invalid base64", func(t *testing.T) {
		result, err := server.handleStageFile(ctx, callRequest(ToolStageFile, map[string]any{
			"path":     "bad.bin",
			"content":  "!!!",
			"encoding": "base64",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("invalid encoding", func(t *testing.T) {
		result, err := server.handleStageFile(ctx, callRequest(ToolStageFile, map[string]any{
			"path":     "x.txt",
			"content":  "x",
			"encoding": "rot13",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		result, err := server.handleStageFile(ctx, callRequest(ToolStageFile, map[string]any{
			"path":    "../../etc/passwd",
			"content": "x",
		}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "invalid path")
	})

	t.Run("list", func(t *testing.T) {
		result, err := server.handleListStagedFiles(ctx, callRequest(ToolListStagedFiles, nil))
		require.NoError(t, err)

		var paths []string
		require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &paths))
		assert.Equal(t, []string{"blob.bin", "data/input.txt"}, paths)
	})

	t.Run("remove", func(t *testing.T) {
		result, err := server.handleRemoveStagedFile(ctx, callRequest(ToolRemoveStagedFile, map[string]any{"path": "blob.bin"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)
		assert.False(t, store.Exists("blob.bin"))

		result, err = server.handleRemoveStagedFile(ctx, callRequest(ToolRemoveStagedFile, map[string]any{"path": "blob.bin"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "not found")
	})
}
