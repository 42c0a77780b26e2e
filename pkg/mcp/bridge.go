package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/yann0001/mini-agent/pkg/registry"
)

// discoveryTimeout bounds the launch+handshake+tools/list sequence for one
// provider. A slow provider costs at most this much and never blocks the
// others, which are probed concurrently.
const discoveryTimeout = 8 * time.Second

// Bridge discovers tools exposed by configured external providers and
// registers them as ordinary registry tools. Provider failures isolate:
// a server that cannot start or list tools is logged and skipped, and agent
// startup continues with whatever providers survived.
type Bridge struct {
	reg    *registry.Registry
	logger zerolog.Logger

	mu      sync.Mutex
	clients []*Client
}

// NewBridge creates a bridge that registers discovered tools into reg.
func NewBridge(reg *registry.Registry, logger zerolog.Logger) *Bridge {
	return &Bridge{
		reg:    reg,
		logger: logger,
	}
}

// Connect probes every enabled provider concurrently, each under its own
// discovery timeout, and registers the tools of the ones that respond.
// Disabled providers are never launched.
func (b *Bridge) Connect(ctx context.Context, cfg Config) {
	var g errgroup.Group

	for name, server := range cfg.Servers {
		if server.Disabled {
			b.logger.Info().Str("server", name).Msg("Skipping disabled MCP server")
			continue
		}
		if server.Command == "" {
			b.logger.Warn().Str("server", name).Msg("MCP server has no command, skipping")
			continue
		}

		g.Go(func() error {
			b.probe(ctx, name, server)
			return nil
		})
	}

	// Probes report failures by logging and skipping, never by error.
	_ = g.Wait()
}

func (b *Bridge) probe(ctx context.Context, name string, server ServerConfig) {
	probeCtx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	client := NewClient(name, server.Command, server.Args, server.Env)

	if err := client.Start(probeCtx); err != nil {
		b.logger.Warn().Str("server", name).Err(err).Msg("MCP server failed to start, skipping")
		return
	}

	tools, err := client.ListTools(probeCtx)
	if err != nil {
		b.logger.Warn().Str("server", name).Err(err).Msg("MCP tool discovery failed, skipping")
		client.Close()
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	registered := b.registerTools(client, tools)
	b.registerResourceTools(client)
	b.clients = append(b.clients, client)

	b.logger.Info().
		Str("server", name).
		Int("tools", registered).
		Msg("MCP server connected")
}

// registerTools adapts discovered descriptors to registry tools. A name that
// collides with an already-registered tool gets a server prefix; a residual
// collision is skipped with a warning rather than failing startup.
func (b *Bridge) registerTools(client *Client, tools []ToolInfo) int {
	registered := 0

	for _, info := range tools {
		if info.Name == "" {
			continue
		}

		remoteName := info.Name
		localName := remoteName
		if _, exists := b.reg.Get(localName); exists {
			localName = fmt.Sprintf("%s_%s", client.Name(), remoteName)
		}

		tool := registry.Tool{
			Name:        localName,
			Description: info.Description,
			Parameters:  parseParameters(info.InputSchema),
			Handler:     b.callHandler(client, remoteName),
		}
		if tool.Description == "" {
			tool.Description = fmt.Sprintf("Tool %s from MCP server %s", remoteName, client.Name())
		}

		if err := b.reg.Register(tool); err != nil {
			b.logger.Warn().
				Str("server", client.Name()).
				Str("tool", localName).
				Err(err).
				Msg("Skipping MCP tool registration")
			continue
		}
		registered++
	}

	return registered
}

func (b *Bridge) callHandler(client *Client, remoteName string) registry.Handler {
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		content, isError, err := client.CallTool(ctx, remoteName, args)
		if err != nil {
			return nil, fmt.Errorf("MCP tool call failed: %w", err)
		}
		if isError {
			if content == "" {
				content = "tool returned error"
			}
			return nil, fmt.Errorf("%s", content)
		}
		return content, nil
	}
}

func (b *Bridge) registerResourceTools(client *Client) {
	serverName := client.Name()

	listTool := registry.Tool{
		Name:        fmt.Sprintf("mcp_%s_resources_list", serverName),
		Description: fmt.Sprintf("List resources exposed by MCP server %s", serverName),
		Handler: func(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
			return client.ListResources(ctx)
		},
	}
	if err := b.reg.Register(listTool); err != nil {
		b.logger.Warn().Str("server", serverName).Err(err).Msg("Skipping resources list tool")
	}

	readTool := registry.Tool{
		Name:        fmt.Sprintf("mcp_%s_resource_read", serverName),
		Description: fmt.Sprintf("Read a resource exposed by MCP server %s", serverName),
		Parameters: []registry.Parameter{{
			Name:        "uri",
			Type:        "string",
			Description: "Resource URI",
			Required:    true,
		}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			uri, _ := args["uri"].(string)
			if uri == "" {
				return nil, fmt.Errorf("uri parameter is required")
			}
			return client.ReadResource(ctx, uri)
		},
	}
	if err := b.reg.Register(readTool); err != nil {
		b.logger.Warn().Str("server", serverName).Err(err).Msg("Skipping resource read tool")
	}
}

// Close releases every connected provider. Safe on all exit paths, including
// a startup where some providers never connected.
func (b *Bridge) Close() {
	b.mu.Lock()
	clients := b.clients
	b.clients = nil
	b.mu.Unlock()

	for _, client := range clients {
		if err := client.Close(); err != nil {
			b.logger.Warn().Str("server", client.Name()).Err(err).Msg("Failed to close MCP client")
		}
	}
}

// Connected returns how many providers are currently connected.
func (b *Bridge) Connected() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.clients)
}

// parseParameters flattens a provider-reported JSON schema into registry
// parameters. Nested shapes beyond the top-level properties are not carried
// over; unknown types degrade to string.
func parseParameters(schema json.RawMessage) []registry.Parameter {
	if len(schema) == 0 {
		return nil
	}

	var schemaMap map[string]interface{}
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil
	}

	properties, ok := schemaMap["properties"].(map[string]interface{})
	if !ok {
		return nil
	}

	required := make(map[string]bool)
	if reqList, ok := schemaMap["required"].([]interface{}); ok {
		for _, r := range reqList {
			if name, ok := r.(string); ok {
				required[name] = true
			}
		}
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	params := make([]registry.Parameter, 0, len(properties))
	for name, propData := range properties {
		prop, ok := propData.(map[string]interface{})
		if !ok {
			continue
		}

		param := registry.Parameter{
			Name:     name,
			Type:     "string",
			Required: required[name],
		}
		if typeVal, ok := prop["type"].(string); ok && validTypes[typeVal] {
			param.Type = typeVal
		}
		if desc, ok := prop["description"].(string); ok {
			param.Description = desc
		}
		if defVal, ok := prop["default"]; ok {
			param.Default = defVal
		}
		params = append(params, param)
	}

	return params
}
