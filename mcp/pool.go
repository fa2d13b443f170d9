package mcp

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"concierge/config"
)

// Conn is the slice of an MCP client the resolver needs. The pool hands out
// live connections; tests substitute fakes.
type Conn interface {
	ListTools(ctx context.Context) ([]mcptypes.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcptypes.CallToolResult, error)
}

// Pool owns the MCP client connections to tool providers, keyed by provider
// name. Connections are opened lazily on first use and reused across requests
// and roles; the role filter is applied by the resolver, not here.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]*providerConn
}

func NewPool() *Pool {
	return &Pool{
		conns: make(map[string]*providerConn),
	}
}

// Get returns a live connection for the provider, dialing it if needed.
func (p *Pool) Get(ctx context.Context, cfg config.ToolProviderConfig) (Conn, error) {
	p.mu.RLock()
	conn, ok := p.conns[cfg.Name]
	p.mu.RUnlock()

	if ok && conn.Running {
		return &clientConn{client: conn.Client}, nil
	}

	return p.dial(ctx, cfg)
}

func (p *Pool) dial(ctx context.Context, cfg config.ToolProviderConfig) (Conn, error) {
	var mcpClient *client.Client
	var capturedCmd *exec.Cmd
	var err error

	switch cfg.Transport {
	case "stdio", "":
		mcpClient, capturedCmd, err = p.dialStdio(cfg)
	case "sse":
		mcpClient, err = p.dialSSE(ctx, cfg)
	case "streamable-http":
		mcpClient, err = p.dialStreamableHTTP(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown transport %q for provider %s", cfg.Transport, cfg.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to provider %s: %w", cfg.Name, err)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: "2025-06-18",
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "concierge",
				Version: "1.0.0",
			},
		},
	}
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return nil, fmt.Errorf("failed to initialize provider %s: %w", cfg.Name, err)
	}

	p.mu.Lock()
	// Another request may have dialed the same provider concurrently; keep
	// the first connection and discard ours.
	if existing, ok := p.conns[cfg.Name]; ok && existing.Running {
		p.mu.Unlock()
		mcpClient.Close()
		if capturedCmd != nil && capturedCmd.Process != nil {
			capturedCmd.Process.Kill()
		}
		return &clientConn{client: existing.Client}, nil
	}
	p.conns[cfg.Name] = &providerConn{
		Name:    cfg.Name,
		Process: capturedCmd,
		Client:  mcpClient,
		Running: true,
	}
	p.mu.Unlock()

	if config.DebugLog != nil {
		config.DebugLog.Printf("[MCP] Connected to provider '%s' (transport: %s)", cfg.Name, cfg.Transport)
	}

	return &clientConn{client: mcpClient}, nil
}

func (p *Pool) dialStdio(cfg config.ToolProviderConfig) (*client.Client, *exec.Cmd, error) {
	if cfg.Command == "" {
		return nil, nil, fmt.Errorf("stdio provider has no command")
	}

	var capturedCmd *exec.Cmd
	cmdFunc := func(ctx context.Context, command string, env []string, args []string) (*exec.Cmd, error) {
		cmd := exec.CommandContext(ctx, command, args...)
		cmd.Env = env
		capturedCmd = cmd
		return cmd, nil
	}

	mcpClient, err := client.NewStdioMCPClientWithOptions(
		cfg.Command,
		os.Environ(),
		cfg.Args,
		transport.WithCommandFunc(cmdFunc),
	)
	if err != nil {
		return nil, nil, err
	}

	return mcpClient, capturedCmd, nil
}

func (p *Pool) dialSSE(ctx context.Context, cfg config.ToolProviderConfig) (*client.Client, error) {
	headers, err := config.OpenHeaders(cfg.Headers)
	if err != nil {
		return nil, err
	}

	var opts []transport.ClientOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHeaders(headers))
	}

	mcpClient, err := client.NewSSEMCPClient(cfg.ServerURL, opts...)
	if err != nil {
		return nil, err
	}

	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start SSE transport: %w", err)
	}

	return mcpClient, nil
}

func (p *Pool) dialStreamableHTTP(ctx context.Context, cfg config.ToolProviderConfig) (*client.Client, error) {
	headers, err := config.OpenHeaders(cfg.Headers)
	if err != nil {
		return nil, err
	}

	var opts []transport.StreamableHTTPCOption
	if len(headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(cfg.ServerURL, opts...)
	if err != nil {
		return nil, err
	}

	if err := mcpClient.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start HTTP transport: %w", err)
	}

	return mcpClient, nil
}

// Shutdown closes every connection in parallel and kills any local provider
// processes. Safe to call more than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	conns := make([]*providerConn, 0, len(p.conns))
	for _, conn := range p.conns {
		if conn.Running {
			conn.Running = false
			conns = append(conns, conn)
		}
	}
	p.conns = make(map[string]*providerConn)
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *providerConn) {
			defer wg.Done()
			closeConn(ctx, c)
		}(conn)
	}
	wg.Wait()

	return nil
}

func closeConn(ctx context.Context, conn *providerConn) {
	if conn.Client != nil {
		closeCtx, cancel := context.WithTimeout(ctx, 1*time.Second)
		defer cancel()

		closeDone := make(chan error, 1)
		go func() {
			closeDone <- conn.Client.Close()
		}()

		select {
		case <-closeDone:
		case <-closeCtx.Done():
			// Close is hanging; fall through to the kill below.
		}
	}

	if conn.Process != nil && conn.Process.Process != nil {
		if err := conn.Process.Process.Kill(); err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[MCP] Error killing process for '%s': %v", conn.Name, err)
			}
		}
	}
}

// clientConn adapts *client.Client to the Conn interface.
type clientConn struct {
	client *client.Client
}

func (c *clientConn) ListTools(ctx context.Context) ([]mcptypes.Tool, error) {
	result, err := c.client.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return result.Tools, nil
}

func (c *clientConn) CallTool(ctx context.Context, name string, args map[string]any) (*mcptypes.CallToolResult, error) {
	return c.client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
}
