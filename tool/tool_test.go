package tool

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anyllm/anyllm/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Schema Derivation Tests --------------------

type sumArgs struct {
	A float64 `json:"a" description:"First addend"`
	B float64 `json:"b" description:"Second addend"`
	C *string `json:"c,omitempty" description:"Optional note"`
}

func TestToolSchemaFromArgs(t *testing.T) {
	sum := New("calculate_sum", "Calculate the sum of two numbers",
		func(_ context.Context, args sumArgs) (any, error) {
			return args.A + args.B, nil
		})

	schema := sum.Parameters()
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
	assert.Contains(t, props, "c")

	a := props["a"].(map[string]any)
	assert.Equal(t, "number", a["type"])
	assert.Equal(t, "First addend", a["description"])

	required, _ := schema["required"].([]string)
	assert.ElementsMatch(t, []string{"a", "b"}, required)
}

func TestStrictForcesAllRequired(t *testing.T) {
	sum := New("calculate_sum", "Sum",
		func(_ context.Context, args sumArgs) (any, error) { return nil, nil },
		Strict())

	schema := sum.Parameters()
	required, _ := schema["required"].([]string)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, required)
	assert.True(t, sum.IsStrict())
}

func TestStrictRecursesIntoArrayItems(t *testing.T) {
	type planArgs struct {
		Steps []struct {
			Action string `json:"action"`
			Note   string `json:"note,omitempty"`
		} `json:"steps"`
		Labels map[string]struct {
			Color string `json:"color,omitempty"`
		} `json:"labels,omitempty"`
	}

	plan := New("make_plan", "Plan",
		func(_ context.Context, args planArgs) (any, error) { return nil, nil },
		Strict())

	props := plan.Parameters()["properties"].(map[string]any)

	items := props["steps"].(map[string]any)["items"].(map[string]any)
	required, _ := items["required"].([]string)
	assert.ElementsMatch(t, []string{"action", "note"}, required)

	extra := props["labels"].(map[string]any)["additionalProperties"].(map[string]any)
	required, _ = extra["required"].([]string)
	assert.ElementsMatch(t, []string{"color"}, required)
}

// -------------------- Execution Tests --------------------

func TestExecuteSuccess(t *testing.T) {
	sum := New("calculate_sum", "Sum",
		func(_ context.Context, args sumArgs) (any, error) {
			return args.A + args.B, nil
		})

	out := sum.Execute(context.Background(), core.ToolCall{
		ID: "tc1", Name: "calculate_sum", Args: `{"a": 2, "b": 3}`,
	})
	assert.Equal(t, "tc1", out.ID)
	assert.Equal(t, "calculate_sum", out.Name)
	assert.Nil(t, out.Error)
	assert.Equal(t, 5.0, out.Result)
}

func TestExecuteCapturesImplementationError(t *testing.T) {
	type passArgs struct {
		Passphrase string `json:"passphrase"`
	}
	attempts := 0
	passphrase := New("passphrase_test_tool", "Check a passphrase",
		func(_ context.Context, args passArgs) (any, error) {
			attempts++
			if args.Passphrase != "portal 2" {
				return nil, fmt.Errorf("Incorrect passphrase: %q", args.Passphrase)
			}
			return "accepted", nil
		})

	out := passphrase.Execute(context.Background(), core.ToolCall{
		ID: "tc1", Name: "passphrase_test_tool", Args: `{"passphrase":"portal"}`,
	})
	require.NotNil(t, out.Error)
	assert.True(t, core.IsKind(out.Error, core.KindToolExecution))
	// The model still receives a textual result describing the failure.
	result, ok := out.Result.(string)
	require.True(t, ok)
	assert.Contains(t, result, "Incorrect passphrase")

	retry := passphrase.Execute(context.Background(), core.ToolCall{
		ID: "tc2", Name: "passphrase_test_tool", Args: `{"passphrase":"portal 2"}`,
	})
	assert.Nil(t, retry.Error)
	assert.Equal(t, "accepted", retry.Result)
	assert.Equal(t, 2, attempts)
}

func TestExecuteCapturesPanic(t *testing.T) {
	boom := New("boom", "Always panics",
		func(_ context.Context, _ struct{}) (any, error) {
			panic("kaboom")
		})

	out := boom.Execute(context.Background(), core.ToolCall{ID: "tc1", Name: "boom", Args: "{}"})
	require.NotNil(t, out.Error)
	assert.Contains(t, out.Result.(string), "kaboom")
}

func TestExecuteValidationFailure(t *testing.T) {
	sum := New("calculate_sum", "Sum",
		func(_ context.Context, args sumArgs) (any, error) {
			return args.A + args.B, nil
		})

	out := sum.Execute(context.Background(), core.ToolCall{
		ID: "tc1", Name: "calculate_sum", Args: `{"a": "two", "b": 3}`,
	})
	require.NotNil(t, out.Error)
	assert.True(t, core.IsKind(out.Error, core.KindToolExecution))
	assert.Contains(t, out.Result.(string), "validation failed")
}

func TestExecuteEmptyArgs(t *testing.T) {
	ping := New("ping", "No arguments",
		func(_ context.Context, _ struct{}) (any, error) { return "pong", nil })

	out := ping.Execute(context.Background(), core.ToolCall{ID: "tc1", Name: "ping"})
	assert.Nil(t, out.Error)
	assert.Equal(t, "pong", out.Result)
}

// -------------------- Context Tool Tests --------------------

type libraryDeps struct {
	byTitle map[string]string
}

func TestContextToolInjectsDeps(t *testing.T) {
	type lookupArgs struct {
		Title string `json:"title"`
	}
	lookup := NewContext("lookup_author", "Find the author of a book",
		func(_ context.Context, deps libraryDeps, args lookupArgs) (any, error) {
			author, ok := deps.byTitle[args.Title]
			if !ok {
				return nil, errors.New("unknown title")
			}
			return author, nil
		})

	// The dependency value never appears in the schema.
	props := lookup.Parameters()["properties"].(map[string]any)
	assert.Len(t, props, 1)
	assert.Contains(t, props, "title")

	bound := lookup.Bind(libraryDeps{byTitle: map[string]string{"Dune": "Frank Herbert"}})
	out := bound.Execute(context.Background(), core.ToolCall{
		ID: "tc1", Name: "lookup_author", Args: `{"title":"Dune"}`,
	})
	assert.Nil(t, out.Error)
	assert.Equal(t, "Frank Herbert", out.Result)
}

// -------------------- Registry Tests --------------------

func registryForTest() *Registry {
	type echoArgs struct {
		Value string `json:"value"`
	}
	echo := New("echo", "Echo the value",
		func(_ context.Context, args echoArgs) (any, error) {
			return args.Value, nil
		})
	slow := New("slow_echo", "Echo after a delay",
		func(ctx context.Context, args echoArgs) (any, error) {
			select {
			case <-time.After(20 * time.Millisecond):
				return args.Value, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		})
	return NewRegistry(echo, slow)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := registryForTest()
	out := reg.Execute(context.Background(), core.ToolCall{ID: "tc1", Name: "nope", Args: "{}"})
	require.NotNil(t, out.Error)
	assert.Contains(t, out.Result.(string), "no tool registered")
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	reg := registryForTest()
	calls := []core.ToolCall{
		{ID: "tc1", Name: "slow_echo", Args: `{"value":"first"}`},
		{ID: "tc2", Name: "echo", Args: `{"value":"second"}`},
		{ID: "tc3", Name: "slow_echo", Args: `{"value":"third"}`},
	}

	outputs := reg.ExecuteAll(context.Background(), calls)
	require.Len(t, outputs, len(calls))
	for i, out := range outputs {
		assert.Equal(t, calls[i].ID, out.ID)
	}
	assert.Equal(t, "first", outputs[0].Result)
	assert.Equal(t, "second", outputs[1].Result)
	assert.Equal(t, "third", outputs[2].Result)
}

func TestRetryFailedOnlyReexecutesFailures(t *testing.T) {
	var succeededRuns atomic.Int64
	type noArgs struct{}
	flaky := true

	tracked := New("tracked", "Succeeds always",
		func(_ context.Context, _ noArgs) (any, error) {
			succeededRuns.Add(1)
			return "ok", nil
		})
	sometimes := New("sometimes", "Fails on first attempt",
		func(_ context.Context, _ noArgs) (any, error) {
			if flaky {
				return nil, errors.New("transient")
			}
			return "recovered", nil
		})
	reg := NewRegistry(tracked, sometimes)

	calls := []core.ToolCall{
		{ID: "tc1", Name: "tracked", Args: "{}"},
		{ID: "tc2", Name: "sometimes", Args: "{}"},
	}
	first := reg.ExecuteAll(context.Background(), calls)
	require.Nil(t, first[0].Error)
	require.NotNil(t, first[1].Error)

	flaky = false
	second := reg.RetryFailed(context.Background(), calls, first)
	assert.Nil(t, second[1].Error)
	assert.Equal(t, "recovered", second[1].Result)
	// The succeeded sibling was not re-executed.
	assert.Equal(t, int64(1), succeededRuns.Load())
	assert.Equal(t, first[0], second[0])
}

// -------------------- Validation Tests --------------------

func TestValidateParameters(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x": map[string]any{"type": "integer"},
		},
		// Use []any to mirror a JSON decoded schema shape
		"required": []any{"x"},
	}

	assert.NoError(t, validateParameters(map[string]any{"x": 5}, schema))

	err := validateParameters(map[string]any{}, schema)
	require.Error(t, err)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "x", vErr.Field)

	err = validateParameters(map[string]any{"x": "not-int"}, schema)
	require.Error(t, err)
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Message, "expected type integer")
}
