package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ent0n29/trunkline/internal/claims"
)

func TestInvokeUnknownTool(t *testing.T) {
	r := NewRegistry()
	_, err := r.Invoke(context.Background(), "nope", "{}")
	if !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}
}

func TestInvokeMalformedArguments(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Schema{Name: "echo"}, func(_ context.Context, args json.RawMessage) (any, error) {
		return string(args), nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if _, err := r.Invoke(context.Background(), "echo", "{not json"); !errors.Is(err, ErrBadArguments) {
		t.Fatalf("err = %v, want ErrBadArguments", err)
	}
}

func TestInvokeSerializesResult(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Schema{Name: "add"}, func(_ context.Context, args json.RawMessage) (any, error) {
		var in struct{ A, B int }
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return map[string]int{"sum": in.A + in.B}, nil
	})

	out, err := r.Invoke(context.Background(), "add", `{"A":2,"B":3}`)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out != `{"sum":5}` {
		t.Fatalf("Invoke() = %q, want sum 5", out)
	}
}

func TestEmptyArgumentsDefaultToObject(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(Schema{Name: "ping"}, func(_ context.Context, args json.RawMessage) (any, error) {
		if string(args) != "{}" {
			t.Fatalf("args = %q, want {}", string(args))
		}
		return "pong", nil
	})
	if _, err := r.Invoke(context.Background(), "ping", ""); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
}

func TestDefaultRegistrySchemas(t *testing.T) {
	r := DefaultRegistry(claims.NewMemoryStore())
	schemas := r.Schemas()
	if len(schemas) != 2 {
		t.Fatalf("len(schemas) = %d, want 2", len(schemas))
	}
	if schemas[0].Name != "get_current_time" || schemas[1].Name != "lookup_caller" {
		t.Fatalf("unexpected schema order: %+v", schemas)
	}
	for _, s := range schemas {
		if s.Type != "function" {
			t.Fatalf("schema %q type = %q, want function", s.Name, s.Type)
		}
	}
}

func TestLookupCallerTool(t *testing.T) {
	store := claims.NewMemoryStore()
	ctx := context.Background()
	_, _ = store.Offer(ctx, "CA1", "+15550100")
	_, _ = store.Take(ctx, "CA1", "op-1")

	r := DefaultRegistry(store)
	out, err := r.Invoke(ctx, "lookup_caller", `{"call_sid":"CA1"}`)
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatal(err)
	}
	if got["from"] != "+15550100" || got["claimed_by"] != "op-1" {
		t.Fatalf("unexpected result: %v", got)
	}
}
