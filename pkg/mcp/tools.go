package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/area/internal/store"
	"github.com/rendis/area/pkg/schema"
)

const defaultLimit = 50

// handleList lists areas matching the optional filters.
func (s *AreaServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := store.AreaFilter{
		UserID: req.GetString("user_id", ""),
		Limit:  req.GetInt("limit", defaultLimit),
	}
	if v, ok := req.GetArguments()["active"].(bool); ok {
		filter.Active = &v
	}

	areas, err := s.store.ListAreas(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list areas failed: %v", err)), nil
	}
	if areas == nil {
		areas = []*schema.Area{}
	}
	return marshalResult(areas)
}

// handleGet returns one area.
func (s *AreaServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	areaID, err := req.RequireString("area_id")
	if err != nil {
		return mcp.NewToolResultError("area_id is required"), nil
	}
	area, getErr := s.store.GetArea(ctx, areaID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("area lookup failed: %v", getErr)), nil
	}
	return marshalResult(area)
}

// handleCreate validates and stores a new area.
func (s *AreaServer) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	args := req.GetArguments()
	var action schema.Action
	if err := remarshal(args["action"], &action); err != nil || args["action"] == nil {
		return mcp.NewToolResultError("action must be an object {name, parameters}"), nil
	}
	var reactions []schema.Reaction
	if err := remarshal(args["reactions"], &reactions); err != nil {
		return mcp.NewToolResultError("reactions must be an array of {name, parameters}"), nil
	}

	area := &schema.Area{
		Name:      name,
		UserID:    userID,
		IsActive:  req.GetBool("is_active", true),
		Action:    schema.Action{Name: action.Name, Parameters: action.Parameters},
		Reactions: reactions,
	}
	if s.validator != nil {
		if vErr := s.validator.ValidateDefinition(area); vErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid area: %v", vErr)), nil
		}
	}
	if createErr := s.store.CreateArea(ctx, area); createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create area: %v", createErr)), nil
	}

	s.logger.Info("area created via mcp",
		"area_id", area.ID,
		"action", area.Action.Name,
		"reactions", len(area.Reactions),
	)
	return marshalResult(map[string]any{
		"id":        area.ID,
		"name":      area.Name,
		"is_active": area.IsActive,
	})
}

// handleToggle flips an area's activation state.
func (s *AreaServer) handleToggle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	areaID, err := req.RequireString("area_id")
	if err != nil {
		return mcp.NewToolResultError("area_id is required"), nil
	}
	active, err := req.RequireBool("active")
	if err != nil {
		return mcp.NewToolResultError("active is required"), nil
	}
	if setErr := s.store.SetAreaActive(ctx, areaID, active); setErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("toggle failed: %v", setErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "area_id": areaID, "is_active": active})
}

// handleExecutions lists the history of one area.
func (s *AreaServer) handleExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	areaID, err := req.RequireString("area_id")
	if err != nil {
		return mcp.NewToolResultError("area_id is required"), nil
	}
	records, listErr := s.store.ListExecutions(ctx, store.ExecutionFilter{
		AreaID: areaID,
		Status: schema.ExecutionStatus(req.GetString("status", "")),
		Limit:  req.GetInt("limit", defaultLimit),
	})
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list executions failed: %v", listErr)), nil
	}
	if records == nil {
		records = []*store.ExecutionRecord{}
	}
	return marshalResult(records)
}

// handleTick runs the scheduler once. Results are returned even when the
// tick was aborted part way.
func (s *AreaServer) handleTick(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	results, err := s.ticker.RunOnce(ctx)
	if results == nil {
		results = []schema.ExecutionResult{}
	}
	if err != nil {
		return marshalResult(map[string]any{"results": results, "error": err.Error()})
	}
	return marshalResult(map[string]any{"results": results})
}

// remarshal converts a decoded JSON argument into a typed value.
func remarshal(in any, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
