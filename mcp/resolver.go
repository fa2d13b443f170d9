package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"concierge/config"
)

// ErrToolNotAuthorized is returned when a role asks for a tool outside its
// capability set. Distinct from provider failures, which come back as a
// ToolResult instead.
var ErrToolNotAuthorized = errors.New("tool not authorized for role")

// autoFillMarker is appended to a tool description whenever server-filled
// parameters were stripped from its schema, so the model does not ask the
// user for values the server supplies.
const autoFillMarker = " (Usage is tracked automatically.)"

// Dialer hands out connections to tool providers.
type Dialer interface {
	Get(ctx context.Context, cfg config.ToolProviderConfig) (Conn, error)
}

// Resolver proxies tool catalogs and tool calls for a role. Tool names are
// namespaced "provider.tool" on the way to the model and parsed back on the
// way in; allow/deny lists in the capability table use bare tool names.
type Resolver struct {
	registry *config.Registry
	dialer   Dialer
}

func NewResolver(registry *config.Registry, dialer Dialer) *Resolver {
	return &Resolver{
		registry: registry,
		dialer:   dialer,
	}
}

// ToolsForRole queries each of the role's providers for its live catalog,
// applies the role's deny/allow filters, and strips server-filled parameters
// from every schema before the model sees it.
func (r *Resolver) ToolsForRole(ctx context.Context, role config.Role) ([]mcptypes.Tool, error) {
	providers, err := r.registry.ForRole(role)
	if err != nil {
		return nil, err
	}

	var out []mcptypes.Tool
	for _, provider := range providers {
		conn, err := r.dialer.Get(ctx, provider)
		if err != nil {
			// A dead provider removes its tools from the turn but does not
			// fail the whole catalog.
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Resolver] Provider '%s' unavailable: %v", provider.Name, err)
			}
			continue
		}

		tools, err := conn.ListTools(ctx)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Resolver] ListTools failed for '%s': %v", provider.Name, err)
			}
			continue
		}

		for _, tool := range tools {
			if !provider.IsToolAllowed(tool.Name) {
				continue
			}
			filtered := stripAutoFillParams(tool, provider.AutoFill)
			filtered.Name = provider.Name + "." + tool.Name
			out = append(out, filtered)
		}
	}

	return out, nil
}

// CanRoleAccessTool re-checks the allow/deny filter for a namespaced tool
// name. Called again at execution time: a tool name echoed back by the model
// is never trusted on the strength of having been listed earlier.
func (r *Resolver) CanRoleAccessTool(role config.Role, namespacedName string) bool {
	providerName, toolName := splitToolName(namespacedName)
	if providerName == "" {
		return false
	}

	providers, err := r.registry.ForRole(role)
	if err != nil {
		return false
	}

	for _, provider := range providers {
		if provider.Name == providerName {
			return provider.IsToolAllowed(toolName)
		}
	}
	return false
}

// ExecuteTool forwards an authorized tool call to its provider, injecting
// fresh values for every server-filled parameter. Provider failures and
// timeouts come back as an unsuccessful ToolResult, never an error; only an
// authorization violation is an error.
func (r *Resolver) ExecuteTool(ctx context.Context, role config.Role, namespacedName string, args map[string]any) (*ToolResult, error) {
	if !r.CanRoleAccessTool(role, namespacedName) {
		return nil, fmt.Errorf("%w: %s for role %s", ErrToolNotAuthorized, namespacedName, role)
	}

	providerName, toolName := splitToolName(namespacedName)

	providers, err := r.registry.ForRole(role)
	if err != nil {
		return nil, err
	}

	var provider config.ToolProviderConfig
	for _, p := range providers {
		if p.Name == providerName {
			provider = p
			break
		}
	}

	conn, err := r.dialer.Get(ctx, provider)
	if err != nil {
		return &ToolResult{
			Success: false,
			Error:   fmt.Sprintf("provider %s unavailable: %v", providerName, err),
		}, nil
	}

	if args == nil {
		args = make(map[string]any)
	}
	for _, param := range provider.AutoFill {
		args[param] = uuid.NewString()
	}

	callCtx, cancel := context.WithTimeout(ctx, time.Duration(provider.Timeout())*time.Second)
	defer cancel()

	result, err := conn.CallTool(callCtx, toolName, args)
	if err != nil {
		res := &ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool %s failed: %v", namespacedName, err),
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			res.Reason = ReasonTimeout
			res.Error = fmt.Sprintf("tool %s timed out after %ds", namespacedName, provider.Timeout())
		}
		return res, nil
	}

	content := flattenContent(result)
	if result.IsError {
		return &ToolResult{
			Success: false,
			Error:   content,
		}, nil
	}

	return &ToolResult{
		Success: true,
		Content: content,
	}, nil
}

// Shutdown releases provider connections. Idempotent.
func (r *Resolver) Shutdown(ctx context.Context) error {
	if pool, ok := r.dialer.(*Pool); ok {
		return pool.Shutdown(ctx)
	}
	return nil
}

// stripAutoFillParams removes server-filled parameters from the schema the
// model sees and marks the description when anything was removed.
func stripAutoFillParams(tool mcptypes.Tool, autoFill []string) mcptypes.Tool {
	if len(autoFill) == 0 {
		return tool
	}

	stripped := false
	schema := tool.InputSchema

	if schema.Properties != nil {
		props := make(map[string]any, len(schema.Properties))
		for name, value := range schema.Properties {
			props[name] = value
		}
		for _, param := range autoFill {
			if _, ok := props[param]; ok {
				delete(props, param)
				stripped = true
			}
		}
		schema.Properties = props
	}

	if len(schema.Required) > 0 {
		required := make([]string, 0, len(schema.Required))
		for _, name := range schema.Required {
			removed := false
			for _, param := range autoFill {
				if name == param {
					removed = true
					stripped = true
					break
				}
			}
			if !removed {
				required = append(required, name)
			}
		}
		schema.Required = required
	}

	tool.InputSchema = schema
	if stripped && !strings.HasSuffix(tool.Description, autoFillMarker) {
		tool.Description += autoFillMarker
	}
	return tool
}

// flattenContent renders an MCP result's content items to a single string for
// the model. Text items are concatenated; anything else is JSON-encoded.
func flattenContent(result *mcptypes.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return "Tool executed successfully (no output)"
	}

	var parts []string
	allText := true
	for _, item := range result.Content {
		if text, ok := item.(mcptypes.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		allText = false
		break
	}
	if allText {
		return strings.Join(parts, "\n")
	}

	raw, err := json.Marshal(result.Content)
	if err != nil {
		return fmt.Sprintf("Tool result (marshal error): %v", err)
	}
	return string(raw)
}

func splitToolName(namespacedName string) (string, string) {
	idx := strings.Index(namespacedName, ".")
	if idx == -1 {
		return "", namespacedName
	}
	return namespacedName[:idx], namespacedName[idx+1:]
}
