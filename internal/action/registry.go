// Package action maps named, schema-described actions to handlers so
// the LLM provider can request side effects through one typed dispatch
// interface, independent of any provider's wire format.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/xbghc/email-assistant/internal/ai"
	"github.com/xbghc/email-assistant/internal/model"
)

// Handler is one registered action. Handlers read and write only
// through the directory and the context log; they never touch the mail
// connection.
type Handler interface {
	Name() string
	Description() string

	// Schema is the JSON Schema for the handler's arguments, used both
	// for the provider-facing declaration and for local validation.
	Schema() json.RawMessage

	Execute(ctx context.Context, req model.ActionRequest) model.ActionResult
}

// Registry holds the registered actions in registration order.
type Registry struct {
	handlers map[string]Handler
	order    []string
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register adds a handler. Registering the same name twice replaces
// the earlier handler.
func (r *Registry) Register(h Handler) {
	if _, exists := r.handlers[h.Name()]; !exists {
		r.order = append(r.order, h.Name())
	}
	r.handlers[h.Name()] = h
}

// Declarations lists every registered action in provider-neutral form.
func (r *Registry) Declarations() []ai.ActionDecl {
	decls := make([]ai.ActionDecl, 0, len(r.order))
	for _, name := range r.order {
		h := r.handlers[name]
		decls = append(decls, ai.ActionDecl{
			Name:        h.Name(),
			Description: h.Description(),
			Schema:      h.Schema(),
		})
	}
	return decls
}

// Dispatch validates and executes one requested action. An unknown
// name or invalid arguments produce a failure result, never a panic or
// an error return.
func (r *Registry) Dispatch(ctx context.Context, call ai.ActionCall, userID string) model.ActionResult {
	h, ok := r.handlers[call.Name]
	if !ok {
		r.logger.Warn("unknown action requested", "action", call.Name)
		return model.Failure(fmt.Sprintf("unknown action %q", call.Name))
	}

	if err := validateArgs(h.Schema(), call.Args); err != nil {
		return model.Failure(fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
	}

	result := h.Execute(ctx, model.ActionRequest{
		Name:   call.Name,
		Args:   call.Args,
		UserID: userID,
	})
	r.logger.Info("action dispatched",
		"action", call.Name, "user", userID, "success", result.Success)
	return result
}

// schemaShape is the subset of JSON Schema the validator understands.
type schemaShape struct {
	Properties map[string]struct {
		Type string   `json:"type"`
		Enum []string `json:"enum"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// validateArgs checks required fields and primitive types against the
// handler schema before execution.
func validateArgs(schema json.RawMessage, args map[string]any) error {
	var shape schemaShape
	if err := json.Unmarshal(schema, &shape); err != nil {
		return fmt.Errorf("unusable schema: %w", err)
	}

	for _, required := range shape.Required {
		if _, ok := args[required]; !ok {
			return fmt.Errorf("missing required argument %q", required)
		}
	}

	for name, value := range args {
		prop, known := shape.Properties[name]
		if !known {
			continue
		}
		switch prop.Type {
		case "string":
			str, ok := value.(string)
			if !ok {
				return fmt.Errorf("argument %q must be a string", name)
			}
			if len(prop.Enum) > 0 && !containsString(prop.Enum, str) {
				return fmt.Errorf("argument %q must be one of %v", name, prop.Enum)
			}
		case "integer", "number":
			switch value.(type) {
			case float64, int, int64:
			default:
				return fmt.Errorf("argument %q must be a number", name)
			}
		case "boolean":
			if _, ok := value.(bool); !ok {
				return fmt.Errorf("argument %q must be a boolean", name)
			}
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, candidate := range list {
		if candidate == s {
			return true
		}
	}
	return false
}

// stringArg extracts an optional string argument.
func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg extracts an optional integer argument, tolerating the float64
// shape JSON decoding produces.
func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}
