package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"

	"concierge/chat"
)

// OllamaProvider streams conversation turns through a local Ollama server.
// Used for development against local models.
type OllamaProvider struct {
	client *api.Client
	model  string
}

// NewOllamaProvider creates an Ollama provider. baseURL defaults to the
// local server; model defaults to llama3.1.
func NewOllamaProvider(baseURL, model string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1:latest"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &OllamaProvider{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  model,
	}, nil
}

// ChatWithTools implements chat.Provider with streaming.
func (p *OllamaProvider) ChatWithTools(ctx context.Context, messages []chat.Message, tools []mcptypes.Tool, callback chat.StreamCallback) error {
	req := &api.ChatRequest{
		Model:    p.model,
		Messages: convertToOllamaMessages(messages),
		Tools:    ConvertToolsToOllamaFormat(tools),
		Stream:   func(b bool) *bool { return &b }(true),
	}

	respFunc := func(resp api.ChatResponse) error {
		if callback == nil {
			return nil
		}
		return callback(resp.Message.Content, convertOllamaToolCalls(resp.Message.ToolCalls))
	}

	if err := p.client.Chat(ctx, req, respFunc); err != nil {
		return fmt.Errorf("Ollama streaming error: %w", err)
	}
	return nil
}

// Ping checks the local server heartbeat.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("Ollama ping failed: %w", err)
	}
	return nil
}

func convertToOllamaMessages(messages []chat.Message) []api.Message {
	result := make([]api.Message, len(messages))
	for i, msg := range messages {
		result[i] = api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}

func convertOllamaToolCalls(calls []api.ToolCall) []chat.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	result := make([]chat.ToolCall, len(calls))
	for i, call := range calls {
		result[i] = chat.ToolCall{
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return result
}
