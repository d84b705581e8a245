package reactions

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/area/pkg/schema"
)

// MCPToolCall is the ReactionTypeId of the MCP tool invocation reaction.
const MCPToolCall = "MCP_TOOL_CALL"

const mcpParamsSchema = `{
  "type": "object",
  "required": ["server_url", "tool"],
  "properties": {
    "server_url": {"type": "string", "pattern": "^https?://"},
    "tool": {"type": "string", "minLength": 1},
    "arguments": {"type": "object"},
    "headers": {"type": "object", "additionalProperties": {"type": "string"}}
  }
}`

type mcpParams struct {
	ServerURL string            `json:"server_url"`
	Tool      string            `json:"tool"`
	Arguments map[string]any    `json:"arguments"`
	Headers   map[string]string `json:"headers"`
}

// MCPConfig configures the MCP_TOOL_CALL executor.
type MCPConfig struct {
	ClientName    string
	ClientVersion string
}

// MCPExecutor calls a tool on a remote MCP server over streamable HTTP.
// A session is opened per invocation.
type MCPExecutor struct {
	info mcp.Implementation
}

// NewMCPExecutor creates an MCPExecutor.
func NewMCPExecutor(cfg MCPConfig) *MCPExecutor {
	if cfg.ClientName == "" {
		cfg.ClientName = "area"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "dev"
	}
	return &MCPExecutor{info: mcp.Implementation{Name: cfg.ClientName, Version: cfg.ClientVersion}}
}

func (e *MCPExecutor) Name() string { return MCPToolCall }

func (e *MCPExecutor) Schema() Schema {
	return Schema{
		Description:  "Call a tool on an MCP server (streamable HTTP transport).",
		ParamsSchema: json.RawMessage(mcpParamsSchema),
	}
}

func (e *MCPExecutor) Execute(ctx context.Context, in Invocation) error {
	var p mcpParams
	if err := decodeParams(MCPToolCall, in.Params, &p); err != nil {
		return err
	}
	if p.ServerURL == "" || p.Tool == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: 'server_url' and 'tool' are required", MCPToolCall)
	}

	var opts []transport.StreamableHTTPCOption
	if len(p.Headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(p.Headers))
	}
	c, err := client.NewStreamableHttpClient(p.ServerURL, opts...)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: invalid server_url %q", MCPToolCall, p.ServerURL).WithCause(err)
	}
	defer c.Close()

	if err := c.Start(ctx); err != nil {
		return e.callError(ctx, "start", p, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = e.info
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return e.callError(ctx, "initialize", p, err)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = p.Tool
	callReq.Params.Arguments = p.Arguments
	res, err := c.CallTool(ctx, callReq)
	if err != nil {
		return e.callError(ctx, "tools/call", p, err)
	}

	if res.IsError {
		return schema.NewErrorf(schema.ErrCodeExecution, "%s: tool %q failed: %s", MCPToolCall, p.Tool, resultText(res)).
			WithDetails(map[string]any{"server_url": p.ServerURL, "tool": p.Tool})
	}
	return nil
}

// callError classifies a protocol step failure. Unreachable servers and
// 429/5xx answers are transient; JSON-RPC errors from a reachable server
// (unknown tool, bad arguments) are rejections.
func (e *MCPExecutor) callError(ctx context.Context, step string, p mcpParams, err error) *schema.AreaError {
	details := map[string]any{"server_url": p.ServerURL, "tool": p.Tool, "step": step}
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		return schema.NewErrorf(schema.ErrCodeTimeout, "%s: %s on %s timed out", MCPToolCall, step, p.ServerURL).
			WithCause(err).WithDetails(details)
	}
	if isUnreachable(err) {
		return schema.NewErrorf(schema.ErrCodeUpstreamUnavailable, "%s: %s on %s failed: %v", MCPToolCall, step, p.ServerURL, err).
			WithCause(err).WithDetails(details)
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s: %s rejected: %v", MCPToolCall, step, err).
		WithCause(err).WithDetails(details)
}

var statusPattern = regexp.MustCompile(`status (\d{3})`)

func isUnreachable(err error) bool {
	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return true
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code >= 500 || code == http.StatusTooManyRequests
	}
	return false
}

func resultText(res *mcp.CallToolResult) string {
	parts := make([]string, 0, len(res.Content))
	for _, c := range res.Content {
		if s := mcp.GetTextFromContent(c); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return "tool reported an error"
	}
	return truncate(strings.Join(parts, "; "), 512)
}
