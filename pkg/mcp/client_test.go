package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers JSON-RPC requests on an in-process pipe pair. Handlers
// are keyed by method name and return the result payload.
type fakeServer struct {
	handlers map[string]func(params json.RawMessage) (interface{}, *rpcError)
}

func newFakeServer() *fakeServer {
	return &fakeServer{handlers: map[string]func(json.RawMessage) (interface{}, *rpcError){}}
}

func (s *fakeServer) handle(method string, fn func(params json.RawMessage) (interface{}, *rpcError)) {
	s.handlers[method] = fn
}

// serve reads requests from in and writes responses to out until in closes.
func (s *fakeServer) serve(in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req struct {
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
			ID     interface{}     `json:"id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if fn, ok := s.handlers[req.Method]; ok {
			result, rpcErr := fn(req.Params)
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
		} else {
			resp["error"] = &rpcError{Code: -32601, Message: "method not found"}
		}

		data, _ := json.Marshal(resp)
		fmt.Fprintf(out, "%s\n", data)
	}
}

// newTestClient wires a client to a fakeServer over io.Pipe.
func newTestClient(t *testing.T, server *fakeServer) *Client {
	t.Helper()

	clientIn, serverOut := io.Pipe() // server writes -> client reads
	serverIn, clientOut := io.Pipe() // client writes -> server reads

	go server.serve(serverIn, serverOut)

	client := newClientWithTransport("test", clientOut, clientIn)
	t.Cleanup(func() {
		clientOut.Close()
		serverOut.Close()
	})
	return client
}

func TestClientListTools(t *testing.T) {
	server := newFakeServer()
	server.handle("tools/list", func(params json.RawMessage) (interface{}, *rpcError) {
		return map[string]interface{}{
			"tools": []map[string]interface{}{
				{
					"name":        "get_weather",
					"description": "Fetch the weather",
					"inputSchema": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"city": map[string]interface{}{"type": "string", "description": "City name"},
						},
						"required": []string{"city"},
					},
				},
			},
		}, nil
	})

	client := newTestClient(t, server)

	tools, err := client.ListTools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_weather", tools[0].Name)
	assert.Equal(t, "Fetch the weather", tools[0].Description)
	assert.NotEmpty(t, tools[0].InputSchema)
}

func TestClientCallTool(t *testing.T) {
	server := newFakeServer()
	server.handle("tools/call", func(params json.RawMessage) (interface{}, *rpcError) {
		var call struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal(params, &call); err != nil {
			return nil, &rpcError{Code: -32602, Message: "bad params"}
		}
		return map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "sunny in " + call.Arguments["city"].(string)},
				{"type": "text", "text": "22 degrees"},
			},
			"isError": false,
		}, nil
	})

	client := newTestClient(t, server)

	content, isError, err := client.CallTool(context.Background(), "get_weather",
		map[string]interface{}{"city": "Lisbon"})
	require.NoError(t, err)
	assert.False(t, isError)
	assert.Equal(t, "sunny in Lisbon\n22 degrees", content)
}

func TestClientCallToolIsError(t *testing.T) {
	server := newFakeServer()
	server.handle("tools/call", func(params json.RawMessage) (interface{}, *rpcError) {
		return map[string]interface{}{
			"content": []map[string]interface{}{
				{"type": "text", "text": "city not found"},
			},
			"isError": true,
		}, nil
	})

	client := newTestClient(t, server)

	content, isError, err := client.CallTool(context.Background(), "get_weather", nil)
	require.NoError(t, err)
	assert.True(t, isError)
	assert.Equal(t, "city not found", content)
}

func TestClientRPCError(t *testing.T) {
	server := newFakeServer()
	server.handle("tools/list", func(params json.RawMessage) (interface{}, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: "server exploded"}
	})

	client := newTestClient(t, server)

	_, err := client.ListTools(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server exploded")
}

func TestClientListResources(t *testing.T) {
	server := newFakeServer()
	server.handle("resources/list", func(params json.RawMessage) (interface{}, *rpcError) {
		return map[string]interface{}{
			"resources": []map[string]interface{}{
				{"uri": "file:///notes.txt", "name": "notes"},
			},
		}, nil
	})

	client := newTestClient(t, server)

	resources, err := client.ListResources(context.Background())
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "file:///notes.txt", resources[0]["uri"])
}

func TestClientReadResource(t *testing.T) {
	server := newFakeServer()
	server.handle("resources/read", func(params json.RawMessage) (interface{}, *rpcError) {
		var p struct {
			URI string `json:"uri"`
		}
		require.NoError(t, json.Unmarshal(params, &p))
		return map[string]interface{}{
			"contents": []map[string]interface{}{
				{"uri": p.URI, "text": "hello"},
			},
		}, nil
	})

	client := newTestClient(t, server)

	result, err := client.ReadResource(context.Background(), "file:///notes.txt")
	require.NoError(t, err)
	assert.Contains(t, result, "contents")
}

func TestClientContextCancellation(t *testing.T) {
	// A server that never answers; the call must respect the caller's
	// context instead of hanging.
	server := newFakeServer()
	server.handle("tools/list", func(params json.RawMessage) (interface{}, *rpcError) {
		select {} // never returns
	})

	client := newTestClient(t, server)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.ListTools(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientCallWhenNotStarted(t *testing.T) {
	client := NewClient("idle", "some-command", nil, nil)

	_, err := client.ListTools(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
