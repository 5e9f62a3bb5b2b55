// Package mcpdriver implements the browser driver against an MCP browser
// tool server, spawned as a subprocess and spoken to over stdio.
package mcpdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/eversale-agent/api/schemas"
	"github.com/xkilldash9x/eversale-agent/internal/config"
)

// Tool names the driver expects the server to expose.
const (
	toolNavigate     = "browser_navigate"
	toolReload       = "browser_reload"
	toolGetURL       = "browser_get_url"
	toolGetTitle     = "browser_get_title"
	toolGetContent   = "browser_get_content"
	toolQuery        = "browser_query"
	toolClick        = "browser_click"
	toolFill         = "browser_fill"
	toolPressKey     = "browser_press_key"
	toolBringToFront = "browser_bring_to_front"
)

// session is the slice of mcp.ClientSession the driver uses. Tests swap in
// an in-memory session.
type session interface {
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// Driver translates the browser capability interface into MCP tool calls.
type Driver struct {
	session session
	logger  *zap.Logger
}

var _ schemas.BrowserDriver = (*Driver)(nil)

var impl = &mcp.Implementation{Name: "eversale-agent", Version: "1.0.0"}

// New spawns the configured tool server and connects a client session.
func New(ctx context.Context, cfg config.MCPConfig, logger *zap.Logger) (*Driver, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcp backend selected but no server command configured")
	}

	cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
	client := mcp.NewClient(impl, nil)
	sess, err := client.Connect(ctx, &mcp.CommandTransport{Command: cmd}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MCP server %q: %w", cfg.Command, err)
	}

	logger.Info("Connected to MCP browser server",
		zap.String("command", cfg.Command),
		zap.Strings("args", cfg.Args),
	)
	return &Driver{session: sess, logger: logger.Named("mcp")}, nil
}

// NewWithSession wraps an existing session. Used by tests.
func NewWithSession(sess session, logger *zap.Logger) *Driver {
	return &Driver{session: sess, logger: logger.Named("mcp")}
}

// call invokes one tool and returns its text payload. Tool-level errors are
// surfaced as Go errors; "no match" replies map to schemas.ErrNoMatch.
func (d *Driver) call(ctx context.Context, name string, args map[string]any) (string, error) {
	result, err := d.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}
	if err := result.GetError(); err != nil {
		if isNoMatch(err.Error()) {
			return "", schemas.ErrNoMatch
		}
		return "", fmt.Errorf("%s: %w", name, err)
	}

	for _, content := range result.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			return tc.Text, nil
		}
	}
	return "", nil
}

func isNoMatch(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "no match") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no element")
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	_, err := d.call(ctx, toolNavigate, map[string]any{"url": url})
	return err
}

func (d *Driver) Reload(ctx context.Context) error {
	_, err := d.call(ctx, toolReload, nil)
	return err
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	return d.call(ctx, toolGetURL, nil)
}

func (d *Driver) Title(ctx context.Context) (string, error) {
	return d.call(ctx, toolGetTitle, nil)
}

func (d *Driver) Content(ctx context.Context) (string, error) {
	return d.call(ctx, toolGetContent, nil)
}

func (d *Driver) Query(ctx context.Context, selector string) (schemas.ElementHandle, error) {
	text, err := d.call(ctx, toolQuery, map[string]any{"selector": selector})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" || text == "null" {
		return nil, schemas.ErrNoMatch
	}

	var facts schemas.ElementFacts
	if err := json.Unmarshal([]byte(text), &facts); err != nil {
		d.logger.Debug("Query reply was not element facts JSON",
			zap.String("selector", selector), zap.Error(err))
		facts = schemas.ElementFacts{}
	}
	return &element{driver: d, selector: selector, facts: facts}, nil
}

func (d *Driver) Click(ctx context.Context, selector string) error {
	_, err := d.call(ctx, toolClick, map[string]any{"selector": selector})
	return err
}

func (d *Driver) Fill(ctx context.Context, selector, text string) error {
	_, err := d.call(ctx, toolFill, map[string]any{"selector": selector, "text": text})
	return err
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	_, err := d.call(ctx, toolPressKey, map[string]any{"key": key})
	return err
}

func (d *Driver) BringToFront(ctx context.Context) error {
	_, err := d.call(ctx, toolBringToFront, nil)
	return err
}

// Close shuts the session down, which terminates the spawned server.
func (d *Driver) Close(ctx context.Context) error {
	return d.session.Close()
}

type element struct {
	driver   *Driver
	selector string
	facts    schemas.ElementFacts
}

var _ schemas.ElementHandle = (*element)(nil)

func (e *element) Selector() string            { return e.selector }
func (e *element) Facts() schemas.ElementFacts { return e.facts }

func (e *element) Click(ctx context.Context) error {
	return e.driver.Click(ctx, e.selector)
}

func (e *element) Fill(ctx context.Context, text string) error {
	return e.driver.Fill(ctx, e.selector, text)
}
