package registry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Tool {
	return Tool{
		Name:        name,
		Description: "Echo the input back",
		Parameters: []Parameter{
			{Name: "text", Type: "string", Description: "Text to echo", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := New()

	err := reg.Register(echoTool("echo"))
	require.NoError(t, err)

	tool, ok := reg.Get("echo")
	require.True(t, ok)
	assert.Equal(t, "echo", tool.Name)
	assert.Equal(t, 1, reg.Len())
}

func TestRegisterDuplicateFails(t *testing.T) {
	reg := New()

	require.NoError(t, reg.Register(echoTool("echo")))

	err := reg.Register(echoTool("echo"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
	assert.Equal(t, 1, reg.Len())
}

func TestRegisterInvalidTool(t *testing.T) {
	reg := New()

	err := reg.Register(Tool{Description: "no name"})
	require.Error(t, err)

	err = reg.Register(Tool{Name: "x", Description: "no handler"})
	require.Error(t, err)

	err = reg.Register(Tool{
		Name:        "x",
		Description: "bad param type",
		Parameters:  []Parameter{{Name: "a", Type: "map"}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, nil
		},
	})
	require.Error(t, err)
}

func TestNamesSorted(t *testing.T) {
	reg := New()

	require.NoError(t, reg.Register(echoTool("zeta")))
	require.NoError(t, reg.Register(echoTool("alpha")))
	require.NoError(t, reg.Register(echoTool("mid")))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestDescriptorsSortedAndShaped(t *testing.T) {
	reg := New()

	require.NoError(t, reg.Register(echoTool("b_tool")))
	require.NoError(t, reg.Register(echoTool("a_tool")))

	descriptors := reg.Descriptors()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "a_tool", descriptors[0].Name)
	assert.Equal(t, "b_tool", descriptors[1].Name)

	schema := descriptors[0].InputSchema
	assert.Equal(t, "object", schema["type"])

	properties, ok := schema["properties"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, properties, "text")

	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"text"}, required)
}

func TestDispatchSuccess(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(echoTool("echo")))

	result := reg.Dispatch(context.Background(), "echo", map[string]interface{}{"text": "hello"})
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Content)
	assert.False(t, result.Truncated)
}

func TestDispatchUnknownTool(t *testing.T) {
	reg := New()

	result := reg.Dispatch(context.Background(), "nope", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "tool not found")
}

func TestDispatchValidationFailure(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(echoTool("echo")))

	// Missing the required "text" argument.
	result := reg.Dispatch(context.Background(), "echo", map[string]interface{}{})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "argument validation failed")

	// Wrong type for "text".
	result = reg.Dispatch(context.Background(), "echo", map[string]interface{}{"text": 42})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "argument validation failed")
}

func TestDispatchHandlerError(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Tool{
		Name:        "fail",
		Description: "Always fails",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}))

	result := reg.Dispatch(context.Background(), "fail", nil)
	assert.False(t, result.Success)
	assert.Equal(t, "boom", result.Error)
}

func TestDispatchPanicRecovered(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Tool{
		Name:        "panicker",
		Description: "Panics when called",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			panic("unexpected state")
		},
	}))

	result := reg.Dispatch(context.Background(), "panicker", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "tool panicked")
	assert.Contains(t, result.Error, "unexpected state")
}

func TestDispatchTimeout(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Tool{
		Name:        "slow",
		Description: "Sleeps longer than the deadline",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			select {
			case <-time.After(5 * time.Second):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := reg.Dispatch(ctx, "slow", nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
}

func TestDispatchAppliesDefaults(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Tool{
		Name:        "greet",
		Description: "Greets with an optional name",
		Parameters: []Parameter{
			{Name: "name", Type: "string", Description: "Who to greet", Default: "world"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return "hello " + args["name"].(string), nil
		},
	}))

	result := reg.Dispatch(context.Background(), "greet", nil)
	assert.True(t, result.Success)
	assert.Equal(t, "hello world", result.Content)

	result = reg.Dispatch(context.Background(), "greet", map[string]interface{}{"name": "gopher"})
	assert.True(t, result.Success)
	assert.Equal(t, "hello gopher", result.Content)
}

func TestDispatchMarshalsStructuredOutput(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Tool{
		Name:        "structured",
		Description: "Returns a map",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]int{"count": 3}, nil
		},
	}))

	result := reg.Dispatch(context.Background(), "structured", nil)
	assert.True(t, result.Success)
	assert.JSONEq(t, `{"count":3}`, result.Content)
}

func TestDispatchTruncatesLargeOutput(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register(Tool{
		Name:        "big",
		Description: "Returns oversized output",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return strings.Repeat("x", maxOutputBytes+500), nil
		},
	}))

	result := reg.Dispatch(context.Background(), "big", nil)
	assert.True(t, result.Success)
	assert.True(t, result.Truncated)
	assert.Contains(t, result.Content, "[output truncated]")
	assert.LessOrEqual(t, len(result.Content), maxOutputBytes+100)
}
