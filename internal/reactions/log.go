package reactions

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/rendis/area/pkg/schema"
)

// TimerLog is the ReactionTypeId of the log reaction.
const TimerLog = "TIMER_LOG"

const logParamsSchema = `{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {"type": "string"},
    "level": {"type": "string", "enum": ["debug", "info", "warn", "error"], "default": "info"}
  }
}`

type logParams struct {
	Message string `json:"message"`
	Level   string `json:"level"`
}

// LogExecutor writes the interpolated message to a log sink.
type LogExecutor struct {
	logger *slog.Logger
}

// NewLogExecutor creates a LogExecutor writing to logger.
func NewLogExecutor(logger *slog.Logger) *LogExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExecutor{logger: logger}
}

func (e *LogExecutor) Name() string { return TimerLog }

func (e *LogExecutor) Schema() Schema {
	return Schema{
		Description:  "Write the interpolated message to the reaction log.",
		ParamsSchema: json.RawMessage(logParamsSchema),
	}
}

func (e *LogExecutor) Execute(ctx context.Context, in Invocation) error {
	var p logParams
	if err := decodeParams(TimerLog, in.Params, &p); err != nil {
		return err
	}
	if p.Message == "" {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s: missing required param 'message'", TimerLog)
	}

	e.logger.LogAttrs(ctx, logLevel(p.Level), p.Message,
		slog.String("area_id", in.AreaID),
		slog.String("reaction", TimerLog),
	)
	return nil
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
