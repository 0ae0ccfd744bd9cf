// Package actions provides the built-in action handlers that schedulerd
// registers on startup.
package actions

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/staybook/schedulerd/internal/scheduler"
)

// Built-in action types.
const (
	TypeNoop    = "noop"
	TypeLog     = "log"
	TypeWebhook = "webhook"
)

// Register adds every built-in handler to registry.
func Register(registry *scheduler.Registry) {
	registry.Register(TypeNoop, Noop)
	registry.Register(TypeLog, Log)
	registry.Register(TypeWebhook, NewWebhook(nil).Handle)
}

// Noop does nothing. Useful for exercising recurrence rules.
func Noop(ctx context.Context, _ map[string]any) (any, error) {
	return nil, ctx.Err()
}

// Log writes action_config.message at action_config.level (default info),
// with action_config.fields attached.
func Log(_ context.Context, cfg map[string]any) (any, error) {
	message, _ := cfg["message"].(string)
	if message == "" {
		return nil, fmt.Errorf("log action requires a message")
	}

	level := zerolog.InfoLevel
	if raw, ok := cfg["level"].(string); ok && raw != "" {
		parsed, err := zerolog.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", raw, err)
		}
		level = parsed
	}

	event := log.WithLevel(level)
	if fields, ok := cfg["fields"].(map[string]any); ok {
		event = event.Fields(fields)
	}
	event.Msg(message)

	return map[string]any{"logged": true, "level": level.String()}, nil
}
