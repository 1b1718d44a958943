// Package provider manages the tool provider process: a per-request MCP
// server started from a command vector and spoken to over stdio.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolSchema describes one tool exposed by the provider process.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema json.RawMessage // JSON Schema object for the tool arguments
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Text    string
	IsError bool
}

// Process is a single tool provider process instance. It is exclusively
// owned by one request's orchestrator: never pooled, never shared.
//
// States: uninitialized -> started -> ready -> closing -> closed. Start
// failing to reach ready within the startup timeout is an infrastructure
// failure, not a retryable overload.
type Process struct {
	command      string
	args         []string
	startTimeout time.Duration
	logger       *slog.Logger

	mu     sync.Mutex
	client *client.Client
	ready  bool

	closeOnce sync.Once
	closeErr  error
}

// New describes a provider process without starting it.
func New(command string, args []string, startTimeout time.Duration, logger *slog.Logger) *Process {
	return &Process{
		command:      command,
		args:         args,
		startTimeout: startTimeout,
		logger:       logger,
	}
}

// Start launches the process and performs the MCP initialize handshake.
// The whole startup is bounded by the configured timeout.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return fmt.Errorf("tool provider already started")
	}

	c, err := client.NewStdioMCPClient(p.command, nil, p.args...)
	if err != nil {
		return fmt.Errorf("start tool provider %q: %w", p.command, err)
	}
	p.client = c

	initCtx, cancel := context.WithTimeout(ctx, p.startTimeout)
	defer cancel()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "voltiq-gateway", Version: "1.0.0"}

	if _, err := c.Initialize(initCtx, initReq); err != nil {
		// Failed handshake still leaves a child process behind
		p.closeLocked()
		return fmt.Errorf("initialize tool provider: %w", err)
	}

	p.ready = true
	p.logger.Debug("tool provider ready", "command", p.command)
	return nil
}

// Tools returns the provider's tool catalog. The provider must be ready.
func (p *Process) Tools(ctx context.Context) ([]ToolSchema, error) {
	c, err := p.readyClient()
	if err != nil {
		return nil, err
	}

	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}

	schemas := make([]ToolSchema, 0, len(result.Tools))
	for _, tool := range result.Tools {
		schema, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for tool %s: %w", tool.Name, err)
		}
		schemas = append(schemas, ToolSchema{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return schemas, nil
}

// Invoke runs one tool call and returns its textual result. Tool-level
// failures come back as IsError results; only transport failures are errors.
func (p *Process) Invoke(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	c, err := p.readyClient()
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	result, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("invoke tool %s: %w", name, err)
	}

	var texts []string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			texts = append(texts, tc.Text)
		}
	}

	return &ToolResult{
		Text:    strings.Join(texts, "\n\n"),
		IsError: result.IsError,
	}, nil
}

// Close terminates the provider process. It is idempotent and safe on an
// instance that never started; the orchestrator calls it on every exit path.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.closeErr = p.closeLocked()
	})
	return p.closeErr
}

func (p *Process) closeLocked() error {
	if p.client == nil {
		return nil
	}
	err := p.client.Close()
	p.client = nil
	p.ready = false
	if err != nil {
		return fmt.Errorf("close tool provider: %w", err)
	}
	return nil
}

func (p *Process) readyClient() (*client.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil || !p.ready {
		return nil, fmt.Errorf("tool provider is not ready")
	}
	return p.client, nil
}
