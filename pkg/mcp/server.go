package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/area/internal/store"
	"github.com/rendis/area/pkg/schema"
)

// AreaStore is the part of the store the MCP tools read and write.
type AreaStore interface {
	GetArea(ctx context.Context, id string) (*schema.Area, error)
	ListAreas(ctx context.Context, filter store.AreaFilter) ([]*schema.Area, error)
	CreateArea(ctx context.Context, area *schema.Area) error
	SetAreaActive(ctx context.Context, id string, active bool) error
	ListExecutions(ctx context.Context, filter store.ExecutionFilter) ([]*store.ExecutionRecord, error)
}

// DefinitionValidator checks an area before area.create stores it.
type DefinitionValidator interface {
	ValidateDefinition(area *schema.Area) error
}

// Ticker runs a single scheduler tick.
type Ticker interface {
	RunOnce(ctx context.Context) ([]schema.ExecutionResult, error)
}

// AreaServerDeps holds the dependencies for creating an AreaServer.
type AreaServerDeps struct {
	Store     AreaStore
	Validator DefinitionValidator
	Ticker    Ticker
	Version   string
	Logger    *slog.Logger
}

// AreaServer wraps an MCP server with area management tools.
type AreaServer struct {
	store     AreaStore
	validator DefinitionValidator
	ticker    Ticker
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewAreaServer creates an AreaServer. area.tick is registered only when a
// Ticker is provided.
func NewAreaServer(deps AreaServerDeps) *AreaServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &AreaServer{
		store:     deps.Store,
		validator: deps.Validator,
		ticker:    deps.Ticker,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"area",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("AREA links a trigger Action to a list of Reactions. Use area.list and area.get to inspect areas, area.create to define one, area.toggle to enable or disable it, area.executions to read its history and area.tick to run the scheduler once."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *AreaServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *AreaServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *AreaServer) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: toggleTool(), Handler: s.handleToggle},
		{Tool: executionsTool(), Handler: s.handleExecutions},
	}
	if s.ticker != nil {
		tools = append(tools, server.ServerTool{Tool: tickTool(), Handler: s.handleTick})
	}
	return tools
}

// --- Tool definitions ---

func listTool() mcp.Tool {
	return mcp.NewTool("area.list",
		mcp.WithDescription("List areas"),
		mcp.WithString("user_id", mcp.Description("Only areas owned by this user")),
		mcp.WithBoolean("active", mcp.Description("Only active (true) or inactive (false) areas")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of areas (default 50)")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("area.get",
		mcp.WithDescription("Get an area with its action state and error log"),
		mcp.WithString("area_id", mcp.Required(), mcp.Description("ID of the area")),
	)
}

func createTool() mcp.Tool {
	return mcp.NewTool("area.create",
		mcp.WithDescription("Create an area linking one action to its reactions"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the area")),
		mcp.WithString("name", mcp.Required(), mcp.Description("Area name")),
		mcp.WithObject("action", mcp.Required(), mcp.Description("Trigger: {name, parameters}")),
		mcp.WithArray("reactions", mcp.Required(), mcp.Description("Reactions: [{name, parameters}], parameters may hold {{placeholders}}")),
		mcp.WithBoolean("is_active", mcp.Description("Start active (default true)")),
	)
}

func toggleTool() mcp.Tool {
	return mcp.NewTool("area.toggle",
		mcp.WithDescription("Enable or disable an area"),
		mcp.WithString("area_id", mcp.Required(), mcp.Description("ID of the area")),
		mcp.WithBoolean("active", mcp.Required(), mcp.Description("New activation state")),
	)
}

func executionsTool() mcp.Tool {
	return mcp.NewTool("area.executions",
		mcp.WithDescription("List the execution history of an area, newest first"),
		mcp.WithString("area_id", mcp.Required(), mcp.Description("ID of the area")),
		mcp.WithString("status",
			mcp.Enum(string(schema.ExecutionFired), string(schema.ExecutionFailed), string(schema.ExecutionPaused)),
			mcp.Description("Only executions with this status"),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records (default 50)")),
	)
}

func tickTool() mcp.Tool {
	return mcp.NewTool("area.tick",
		mcp.WithDescription("Run one scheduler tick over every active area and return the results"),
	)
}
