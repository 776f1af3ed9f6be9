package workbench

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	agenterrors "github.com/acauret/infrastructure-agent/errors"
	"github.com/acauret/infrastructure-agent/pkg/logging"
)

// Dialer establishes the live protocol connection behind a handle. The
// production implementation spawns an MCP stdio subprocess; tests substitute
// fakes.
type Dialer interface {
	Dial(ctx context.Context, spec Spec) (Conn, error)
}

// Capability describes one callable capability of a provider. Schema is the
// provider's JSON Schema for the capability's arguments, passed through to
// the model untouched.
type Capability struct {
	Name        string
	Description string
	Schema      map[string]any
}

// Conn is one live tool-provider connection.
type Conn interface {
	// Initialize runs the provider's initialization round trip.
	Initialize(ctx context.Context) error
	// ListCapabilities returns the provider's capabilities.
	ListCapabilities(ctx context.Context) ([]Capability, error)
	// Invoke calls a capability and returns its textual output.
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)
	// Close terminates the connection and the underlying subprocess.
	Close() error
}

// ToolError is returned when the provider reports an error response for an
// invocation.
type ToolError struct {
	Name    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("workbench tool %s: %s", e.Name, e.Message)
}

const terminateTimeout = 5 * time.Second

// MCPDialer launches MCP servers over the stdio transport.
type MCPDialer struct {
	logger *slog.Logger
}

// NewMCPDialer constructs the production dialer.
func NewMCPDialer(logger *slog.Logger) *MCPDialer {
	if logger == nil {
		logger = logging.WithComponent("workbench")
	}
	return &MCPDialer{logger: logger}
}

// Dial spawns the provider subprocess and performs the transport handshake.
func (d *MCPDialer) Dial(ctx context.Context, spec Spec) (Conn, error) {
	cmd := exec.Command(spec.Command, spec.Args...)
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Stderr = stderrWriter{logger: d.logger, kind: spec.Kind}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "infrastructure-agent",
		Version: "0.1.0",
	}, nil)

	transport := &sdkmcp.CommandTransport{
		Command:           cmd,
		TerminateDuration: terminateTimeout,
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("workbench: connect %s: %w", spec.Kind, err)
	}
	return &mcpConn{session: session}, nil
}

type mcpConn struct {
	session   *sdkmcp.ClientSession
	closeOnce sync.Once
	closeErr  error
}

func (c *mcpConn) Initialize(ctx context.Context) error {
	if c.session == nil {
		return agenterrors.ErrClientClosed
	}
	return c.session.Ping(ctx, nil)
}

func (c *mcpConn) ListCapabilities(ctx context.Context) ([]Capability, error) {
	if c.session == nil {
		return nil, agenterrors.ErrClientClosed
	}

	params := &sdkmcp.ListToolsParams{}
	var (
		cursor string
		caps   []Capability
	)
	for {
		if cursor != "" {
			params.Cursor = cursor
		}
		res, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, err
		}
		for _, t := range res.Tools {
			if t == nil {
				continue
			}
			caps = append(caps, Capability{
				Name:        t.Name,
				Description: t.Description,
				Schema:      schemaToMap(t.InputSchema),
			})
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	return caps, nil
}

func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}

func (c *mcpConn) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	if c.session == nil {
		return "", agenterrors.ErrClientClosed
	}

	result, err := c.session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	message := normalizeContent(result.Content)
	if result.IsError {
		if message == "" {
			message = "tool returned error without message"
		}
		return "", &ToolError{Name: name, Message: message}
	}
	return message, nil
}

func (c *mcpConn) Close() error {
	c.closeOnce.Do(func() {
		if c.session != nil {
			c.closeErr = c.session.Close()
		}
	})
	return c.closeErr
}

func normalizeContent(content []sdkmcp.Content) string {
	if len(content) == 0 {
		return ""
	}
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case *sdkmcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := c.MarshalJSON(); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

type stderrWriter struct {
	logger *slog.Logger
	kind   Kind
}

func (w stderrWriter) Write(p []byte) (int, error) {
	if w.logger != nil {
		msg := strings.TrimSpace(string(p))
		if msg != "" {
			w.logger.Debug("provider stderr", "kind", w.kind, "output", msg)
		}
	}
	return len(p), nil
}
