// Package tools holds the static function dispatch table invoked by the
// session coordinator. Handlers know nothing about sessions.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownTool  = errors.New("unknown tool")
	ErrBadArguments = errors.New("malformed tool arguments")
)

// Handler executes one tool call. args is the raw JSON argument payload
// from the model; the result is serialized back as the function output.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Schema is the declared shape of one tool in the realtime session
// configuration.
type Schema struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type entry struct {
	schema  Schema
	handler Handler
}

// Registry maps tool names to handlers plus their declared schemas.
type Registry struct {
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. Re-registering a name replaces the prior entry.
func (r *Registry) Register(schema Schema, handler Handler) error {
	if schema.Name == "" {
		return errors.New("tool schema requires a name")
	}
	if handler == nil {
		return fmt.Errorf("tool %q requires a handler", schema.Name)
	}
	if schema.Type == "" {
		schema.Type = "function"
	}
	r.entries[schema.Name] = entry{schema: schema, handler: handler}
	return nil
}

// Schemas returns every registered schema, name-ordered.
func (r *Registry) Schemas() []Schema {
	out := make([]Schema, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke looks up the named handler by exact match, parses the argument
// payload, runs the handler, and serializes its result. A missing name or
// unparsable payload fails this one call attempt only.
func (r *Registry) Invoke(ctx context.Context, name, argumentsJSON string) (string, error) {
	e, ok := r.entries[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}

	args := json.RawMessage(argumentsJSON)
	if argumentsJSON == "" {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return "", fmt.Errorf("%w: %q", ErrBadArguments, name)
	}

	result, err := e.handler(ctx, args)
	if err != nil {
		return "", fmt.Errorf("tool %q: %w", name, err)
	}

	out, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("serialize %q result: %w", name, err)
	}
	return string(out), nil
}
