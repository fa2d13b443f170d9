package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"concierge/config"
)

type fakeConn struct {
	tools    []mcptypes.Tool
	result   *mcptypes.CallToolResult
	callErr  error
	block    bool
	lastName string
	lastArgs map[string]any
	calls    int
}

func (f *fakeConn) ListTools(_ context.Context) ([]mcptypes.Tool, error) {
	return f.tools, nil
}

func (f *fakeConn) CallTool(ctx context.Context, name string, args map[string]any) (*mcptypes.CallToolResult, error) {
	f.calls++
	f.lastName = name
	f.lastArgs = args
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

type fakeDialer struct {
	conns map[string]*fakeConn
	errs  map[string]error
}

func (f *fakeDialer) Get(_ context.Context, cfg config.ToolProviderConfig) (Conn, error) {
	if err, ok := f.errs[cfg.Name]; ok {
		return nil, err
	}
	conn, ok := f.conns[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("no fake for provider %s", cfg.Name)
	}
	return conn, nil
}

func textResult(text string) *mcptypes.CallToolResult {
	return &mcptypes.CallToolResult{
		Content: []mcptypes.Content{mcptypes.TextContent{Type: "text", Text: text}},
	}
}

func roomsTool() mcptypes.Tool {
	return mcptypes.Tool{
		Name:        "list_rooms",
		Description: "List rooms and their status.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"floor":      map[string]any{"type": "integer"},
				"request_id": map[string]any{"type": "string"},
			},
			Required: []string{"floor", "request_id"},
		},
	}
}

func newTestResolver(table map[config.Role][]config.ToolProviderConfig, dialer Dialer) *Resolver {
	return NewResolver(config.NewRegistryFromTable(table), dialer)
}

func TestToolsForRoleFiltersAndNamespaces(t *testing.T) {
	conn := &fakeConn{tools: []mcptypes.Tool{
		{Name: "list_rooms", Description: "List rooms."},
		{Name: "delete_guest_record", Description: "Remove a guest record."},
	}}
	r := newTestResolver(map[config.Role][]config.ToolProviderConfig{
		config.RoleManager: {{Name: "hotel", Deny: []string{"delete_guest_record"}}},
	}, &fakeDialer{conns: map[string]*fakeConn{"hotel": conn}})

	tools, err := r.ToolsForRole(context.Background(), config.RoleManager)
	if err != nil {
		t.Fatalf("ToolsForRole error = %v", err)
	}

	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1 after deny filtering", len(tools))
	}
	if tools[0].Name != "hotel.list_rooms" {
		t.Errorf("tool name = %q, want namespaced %q", tools[0].Name, "hotel.list_rooms")
	}
}

func TestToolsForRoleStripsAutoFill(t *testing.T) {
	conn := &fakeConn{tools: []mcptypes.Tool{roomsTool()}}
	r := newTestResolver(map[config.Role][]config.ToolProviderConfig{
		config.RoleHousekeeping: {{Name: "rooms", AutoFill: []string{"request_id"}}},
	}, &fakeDialer{conns: map[string]*fakeConn{"rooms": conn}})

	tools, err := r.ToolsForRole(context.Background(), config.RoleHousekeeping)
	if err != nil {
		t.Fatalf("ToolsForRole error = %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("got %d tools, want 1", len(tools))
	}

	schema := tools[0].InputSchema
	if _, ok := schema.Properties["request_id"]; ok {
		t.Error("auto-fill parameter still present in schema properties")
	}
	if _, ok := schema.Properties["floor"]; !ok {
		t.Error("unrelated parameter removed from schema")
	}
	for _, name := range schema.Required {
		if name == "request_id" {
			t.Error("auto-fill parameter still listed as required")
		}
	}
	if !strings.HasSuffix(tools[0].Description, autoFillMarker) {
		t.Errorf("description %q missing auto-fill marker", tools[0].Description)
	}

	// The fake's own tool must be untouched; stripping works on a copy.
	if _, ok := conn.tools[0].InputSchema.Properties["request_id"]; !ok {
		t.Error("stripping mutated the provider's catalog")
	}
}

func TestToolsForRoleSkipsDeadProvider(t *testing.T) {
	live := &fakeConn{tools: []mcptypes.Tool{{Name: "report_issue"}}}
	r := newTestResolver(map[config.Role][]config.ToolProviderConfig{
		config.RoleMaintenance: {
			{Name: "rooms"},
			{Name: "billing"},
		},
	}, &fakeDialer{
		conns: map[string]*fakeConn{"rooms": live},
		errs:  map[string]error{"billing": errors.New("connection refused")},
	})

	tools, err := r.ToolsForRole(context.Background(), config.RoleMaintenance)
	if err != nil {
		t.Fatalf("ToolsForRole error = %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "rooms.report_issue" {
		t.Errorf("got %+v, want just the live provider's tool", tools)
	}
}

func TestExecuteToolAuthorization(t *testing.T) {
	conn := &fakeConn{result: textResult("ok")}
	r := newTestResolver(map[config.Role][]config.ToolProviderConfig{
		config.RoleGuest:   {{Name: "hotel", Allow: []string{"request_towels"}}},
		config.RoleManager: {{Name: "hotel"}},
	}, &fakeDialer{conns: map[string]*fakeConn{"hotel": conn}})

	tests := []struct {
		name string
		role config.Role
		tool string
		deny bool
	}{
		{"guest may call allowed tool", config.RoleGuest, "hotel.request_towels", false},
		{"guest denied unlisted tool", config.RoleGuest, "hotel.delete_guest_record", true},
		{"guest denied unknown provider", config.RoleGuest, "billing.refund", true},
		{"manager unrestricted on provider", config.RoleManager, "hotel.delete_guest_record", false},
		{"unnamespaced name rejected", config.RoleManager, "delete_guest_record", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ExecuteTool(context.Background(), tt.role, tt.tool, nil)
			if tt.deny {
				if !errors.Is(err, ErrToolNotAuthorized) {
					t.Errorf("error = %v, want ErrToolNotAuthorized", err)
				}
			} else if err != nil {
				t.Errorf("unexpected error = %v", err)
			}
		})
	}
}

func TestExecuteToolInjectsAutoFill(t *testing.T) {
	conn := &fakeConn{result: textResult("recorded")}
	r := newTestResolver(map[config.Role][]config.ToolProviderConfig{
		config.RoleGuest: {{Name: "hotel", AutoFill: []string{"request_id"}}},
	}, &fakeDialer{conns: map[string]*fakeConn{"hotel": conn}})

	res, err := r.ExecuteTool(context.Background(), config.RoleGuest, "hotel.request_towels", map[string]any{"count": 2})
	if err != nil {
		t.Fatalf("ExecuteTool error = %v", err)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}

	first, ok := conn.lastArgs["request_id"].(string)
	if !ok || first == "" {
		t.Fatalf("request_id not injected: args = %v", conn.lastArgs)
	}
	if conn.lastArgs["count"] != 2 {
		t.Errorf("caller argument lost: args = %v", conn.lastArgs)
	}

	// Each call gets a fresh value.
	if _, err := r.ExecuteTool(context.Background(), config.RoleGuest, "hotel.request_towels", nil); err != nil {
		t.Fatalf("second ExecuteTool error = %v", err)
	}
	second := conn.lastArgs["request_id"].(string)
	if second == first {
		t.Error("auto-fill value reused across calls")
	}
}

func TestExecuteToolTimeout(t *testing.T) {
	conn := &fakeConn{block: true}
	r := newTestResolver(map[config.Role][]config.ToolProviderConfig{
		config.RoleGuest: {{Name: "hotel", TimeoutSeconds: 1}},
	}, &fakeDialer{conns: map[string]*fakeConn{"hotel": conn}})

	res, err := r.ExecuteTool(context.Background(), config.RoleGuest, "hotel.request_towels", nil)
	if err != nil {
		t.Fatalf("ExecuteTool error = %v, want structured failure", err)
	}
	if res.Success {
		t.Fatal("timed-out call reported success")
	}
	if res.Reason != ReasonTimeout {
		t.Errorf("reason = %q, want %q", res.Reason, ReasonTimeout)
	}
}

func TestExecuteToolProviderFailure(t *testing.T) {
	conn := &fakeConn{callErr: errors.New("device unreachable")}
	r := newTestResolver(map[config.Role][]config.ToolProviderConfig{
		config.RoleMaintenance: {{Name: "rooms"}},
	}, &fakeDialer{conns: map[string]*fakeConn{"rooms": conn}})

	res, err := r.ExecuteTool(context.Background(), config.RoleMaintenance, "rooms.set_device_state", nil)
	if err != nil {
		t.Fatalf("ExecuteTool error = %v, want structured failure", err)
	}
	if res.Success || !strings.Contains(res.Error, "device unreachable") {
		t.Errorf("result = %+v, want failure carrying the provider error", res)
	}
}

func TestExecuteToolIsErrorResult(t *testing.T) {
	conn := &fakeConn{result: &mcptypes.CallToolResult{
		IsError: true,
		Content: []mcptypes.Content{mcptypes.TextContent{Type: "text", Text: "room not found"}},
	}}
	r := newTestResolver(map[config.Role][]config.ToolProviderConfig{
		config.RoleHousekeeping: {{Name: "rooms"}},
	}, &fakeDialer{conns: map[string]*fakeConn{"rooms": conn}})

	res, err := r.ExecuteTool(context.Background(), config.RoleHousekeeping, "rooms.set_room_status", nil)
	if err != nil {
		t.Fatalf("ExecuteTool error = %v", err)
	}
	if res.Success || res.Error != "room not found" {
		t.Errorf("result = %+v, want failure with provider message", res)
	}
}

func TestRenderToolList(t *testing.T) {
	tools := []mcptypes.Tool{
		{Name: "hotel.request_towels", Description: "Request extra towels."},
		{Name: "hotel.report_issue", Description: "Report a problem in a room."},
	}

	rendered := RenderToolList(tools)
	if !strings.Contains(rendered, "hotel.request_towels") || !strings.Contains(rendered, "Report a problem") {
		t.Errorf("rendered list missing entries:\n%s", rendered)
	}

	if got := RenderToolList(nil); got != "No tools are available." {
		t.Errorf("empty list rendered as %q", got)
	}
}
