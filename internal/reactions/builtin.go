package reactions

import (
	"log/slog"

	"github.com/rendis/area/internal/auth"
)

// BuiltinConfig carries the collaborators the built-in executors need.
type BuiltinConfig struct {
	Logger *slog.Logger
	HTTP   HTTPConfig
	MCP    MCPConfig
	Tokens auth.TokenSource
}

// RegisterBuiltins registers all built-in executors in the given registry.
// SERVICE_API is only registered when a token source is configured.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	all := []Executor{
		NewLogExecutor(cfg.Logger),
		NewHTTPRequestExecutor(cfg.HTTP),
		NewMCPExecutor(cfg.MCP),
	}
	if cfg.Tokens != nil {
		all = append(all, NewServiceExecutor(cfg.HTTP, cfg.Tokens))
	}

	for _, ex := range all {
		if err := reg.Register(ex); err != nil {
			return err
		}
	}
	return nil
}
