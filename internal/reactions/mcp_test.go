package reactions

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/area/pkg/schema"
)

type mcpRecorder struct {
	mu   sync.Mutex
	args []string
}

func newMCPServer(t *testing.T) (*httptest.Server, *mcpRecorder) {
	t.Helper()
	rec := &mcpRecorder{}

	s := server.NewMCPServer("area-test", "1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.AddTool(mcp.NewTool("notify",
		mcp.WithDescription("Record a notification."),
		mcp.WithString("text", mcp.Required()),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		text, err := req.RequireString("text")
		if err != nil {
			return mcp.NewToolResultError("text is required"), nil
		}
		rec.mu.Lock()
		rec.args = append(rec.args, text)
		rec.mu.Unlock()
		return mcp.NewToolResultText("ok"), nil
	})
	s.AddTool(mcp.NewTool("broken",
		mcp.WithDescription("Always fails."),
	), func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultError("quota exceeded"), nil
	})

	srv := httptest.NewServer(server.NewStreamableHTTPServer(s))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestMCPToolCall_Success(t *testing.T) {
	srv, rec := newMCPServer(t)
	ex := NewMCPExecutor(MCPConfig{})

	err := ex.Execute(context.Background(), Invocation{Params: map[string]any{
		"server_url": srv.URL + "/mcp",
		"tool":       "notify",
		"arguments":  map[string]any{"text": "fired at 12:00"},
	}})
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"fired at 12:00"}, rec.args)
}

func TestMCPToolCall_ToolError(t *testing.T) {
	srv, _ := newMCPServer(t)
	ex := NewMCPExecutor(MCPConfig{})

	err := ex.Execute(context.Background(), Invocation{Params: map[string]any{
		"server_url": srv.URL + "/mcp",
		"tool":       "broken",
	}})
	areaErr := requireCode(t, err, schema.ErrCodeExecution)
	assert.Contains(t, areaErr.Message, "quota exceeded")
	assert.False(t, areaErr.IsTransient())
}

func TestMCPToolCall_UnknownTool(t *testing.T) {
	srv, _ := newMCPServer(t)
	ex := NewMCPExecutor(MCPConfig{})

	err := ex.Execute(context.Background(), Invocation{Params: map[string]any{
		"server_url": srv.URL + "/mcp",
		"tool":       "missing",
	}})
	areaErr := requireCode(t, err, schema.ErrCodeExecution)
	assert.Equal(t, "tools/call", areaErr.Details["step"])
}

func TestMCPToolCall_Unreachable(t *testing.T) {
	srv, _ := newMCPServer(t)
	addr := srv.URL + "/mcp"
	srv.Close()

	ex := NewMCPExecutor(MCPConfig{})
	err := ex.Execute(context.Background(), Invocation{Params: map[string]any{
		"server_url": addr,
		"tool":       "notify",
	}})
	requireCode(t, err, schema.ErrCodeUpstreamUnavailable)
}

func TestMCPToolCall_MissingParams(t *testing.T) {
	ex := NewMCPExecutor(MCPConfig{})
	err := ex.Execute(context.Background(), Invocation{Params: map[string]any{"tool": "notify"}})
	requireCode(t, err, schema.ErrCodeValidation)
}
