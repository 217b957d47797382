package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/ent0n29/trunkline/internal/claims"
)

// DefaultRegistry builds the table of built-in tools. Their schemas are
// always merged into the realtime session configuration.
func DefaultRegistry(claimStore claims.Store) *Registry {
	r := NewRegistry()

	_ = r.Register(Schema{
		Name:        "get_current_time",
		Description: "Returns the current date and time. Use it whenever the caller asks what time or day it is.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, func(_ context.Context, _ json.RawMessage) (any, error) {
		now := time.Now().UTC()
		return map[string]string{
			"time":    now.Format(time.RFC3339),
			"weekday": now.Weekday().String(),
		}, nil
	})

	_ = r.Register(Schema{
		Name:        "lookup_caller",
		Description: "Looks up the caller record for the current call, including who has claimed it.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"call_sid": map[string]any{
					"type":        "string",
					"description": "The call identifier to look up.",
				},
			},
			"required": []string{"call_sid"},
		},
	}, func(ctx context.Context, args json.RawMessage) (any, error) {
		if claimStore == nil {
			return nil, errors.New("caller lookup is not configured")
		}
		var in struct {
			CallSid string `json:"call_sid"`
		}
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		c, err := claimStore.Get(ctx, in.CallSid)
		if err != nil {
			return nil, err
		}
		return map[string]string{
			"call_sid":   c.CallSid,
			"from":       c.From,
			"status":     string(c.Status),
			"claimed_by": c.ClaimedBy,
		}, nil
	})

	return r
}
