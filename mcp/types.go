package mcp

import (
	"os/exec"

	"github.com/mark3labs/mcp-go/client"
)

// providerConn tracks one live tool provider connection. Process is nil for
// network transports.
type providerConn struct {
	Name    string
	Process *exec.Cmd
	Client  *client.Client
	Running bool
}

// ToolResult is the structured outcome of a tool call. Provider failures are
// reported here, never as a Go error, so a failed tool call cannot abort the
// conversation turn that requested it.
type ToolResult struct {
	Success bool   `json:"success"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Reason  string `json:"reason,omitempty"` // "TIMEOUT" when the call hit its deadline
}

// ReasonTimeout marks a tool call that exceeded its wall clock limit.
const ReasonTimeout = "TIMEOUT"
