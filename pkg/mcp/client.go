package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	protocolVersion = "2024-11-05"

	// requestTimeout bounds a single JSON-RPC round trip.
	requestTimeout = 10 * time.Second
)

// JSON-RPC 2.0 framing over newline-delimited stdio.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      interface{} `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ToolInfo is a tool descriptor as reported by a provider.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ResourceInfo is a resource listing entry as reported by a provider.
type ResourceInfo map[string]interface{}

// Client talks to one out-of-process tool provider over stdio JSON-RPC.
// The connection is long-lived and shared by every call routed to the
// provider during a run.
type Client struct {
	name    string
	command string
	args    []string
	env     map[string]string

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	nextID  int
	pending map[int]chan *rpcResponse
	started bool
}

// NewClient creates a client for a provider launched as command+args with the
// given extra environment variables.
func NewClient(name, command string, args []string, env map[string]string) *Client {
	return &Client{
		name:    name,
		command: command,
		args:    args,
		env:     env,
		pending: make(map[int]chan *rpcResponse),
	}
}

// newClientWithTransport wires a client to an existing byte stream pair.
// Used by tests to run the framing against an in-process fake server.
func newClientWithTransport(name string, stdin io.WriteCloser, stdout io.Reader) *Client {
	c := &Client{
		name:    name,
		stdin:   stdin,
		scanner: bufio.NewScanner(stdout),
		pending: make(map[int]chan *rpcResponse),
		started: true,
	}
	go c.listen()
	return c
}

// Name returns the configured provider name.
func (c *Client) Name() string {
	return c.name
}

// Start launches the provider process and performs the initialize handshake.
// Calling Start on a running client is a no-op.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}

	cmd := exec.Command(c.command, c.args...)
	cmd.Env = os.Environ()
	for k, v := range c.env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to start provider process: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.scanner = bufio.NewScanner(stdout)
	c.scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	c.started = true
	c.mu.Unlock()

	go c.listen()

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return fmt.Errorf("initialize handshake failed: %w", err)
	}

	log.Debug().Str("server", c.name).Msg("MCP provider connected")

	return nil
}

func (c *Client) listen() {
	for c.scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
			log.Warn().Str("server", c.name).Err(err).Msg("Failed to decode MCP response")
			continue
		}

		id, ok := resp.ID.(float64)
		if !ok {
			continue
		}

		c.mu.Lock()
		ch, exists := c.pending[int(id)]
		if exists {
			delete(c.pending, int(id))
		}
		c.mu.Unlock()

		if exists {
			ch <- &resp
		}
	}
}

func (c *Client) initialize(ctx context.Context) error {
	params := map[string]interface{}{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]interface{}{},
		"clientInfo": map[string]interface{}{
			"name":    "mini-agent",
			"version": "0.1.0",
		},
	}
	_, err := c.call(ctx, "initialize", params)
	return err
}

func (c *Client) call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return nil, fmt.Errorf("provider %s is not connected", c.name)
	}
	c.nextID++
	id := c.nextID
	ch := make(chan *rpcResponse, 1)
	c.pending[id] = ch
	stdin := c.stdin
	c.mu.Unlock()

	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to write request: %w", err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, fmt.Errorf("MCP error (%d): %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(requestTimeout):
		return nil, fmt.Errorf("MCP request timed out after %v", requestTimeout)
	}
}

// ListTools fetches the provider's tool descriptors.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	result, err := c.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Tools []ToolInfo `json:"tools"`
	}
	if err := json.Unmarshal(result, &listResult); err != nil {
		return nil, fmt.Errorf("failed to parse tools list: %w", err)
	}

	return listResult.Tools, nil
}

// CallTool invokes a provider tool. The returned flag reports whether the
// provider marked the result as an error.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, bool, error) {
	result, err := c.call(ctx, "tools/call", map[string]interface{}{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return "", false, err
	}

	var callResult struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	}
	if err := json.Unmarshal(result, &callResult); err != nil {
		return "", false, fmt.Errorf("failed to parse tool result: %w", err)
	}

	content := ""
	for i, item := range callResult.Content {
		if i > 0 {
			content += "\n"
		}
		content += item.Text
	}

	return content, callResult.IsError, nil
}

// ListResources fetches resource listings from the provider.
func (c *Client) ListResources(ctx context.Context) ([]ResourceInfo, error) {
	result, err := c.call(ctx, "resources/list", nil)
	if err != nil {
		return nil, err
	}

	var listResult struct {
		Resources []ResourceInfo `json:"resources"`
	}
	if err := json.Unmarshal(result, &listResult); err != nil {
		return nil, fmt.Errorf("failed to parse resources list: %w", err)
	}

	return listResult.Resources, nil
}

// ReadResource reads a specific resource from the provider.
func (c *Client) ReadResource(ctx context.Context, uri string) (map[string]interface{}, error) {
	result, err := c.call(ctx, "resources/read", map[string]interface{}{"uri": uri})
	if err != nil {
		return nil, err
	}

	var readResult map[string]interface{}
	if err := json.Unmarshal(result, &readResult); err != nil {
		return nil, fmt.Errorf("failed to parse resource: %w", err)
	}

	return readResult, nil
}

// Close tears down the provider connection and process.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false

	if c.stdin != nil {
		c.stdin.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil {
			return err
		}
		go c.cmd.Wait()
	}

	return nil
}
