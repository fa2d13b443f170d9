// Package chat drives one tool-augmented streaming conversation turn: it
// validates the request, assembles prompt plus history, consumes the model
// stream, executes requested tools sequentially, and persists the finished
// transcript.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"concierge/config"
	"concierge/mcp"
	"concierge/prompt"
	"concierge/store"
)

// turnState tracks where a turn is in its lifecycle. Transitions are
// IDLE → VALIDATING → GENERATING → (TOOL_PENDING → GENERATING)* → DONE,
// with ERROR reachable from any state.
type turnState int

const (
	stateIdle turnState = iota
	stateValidating
	stateGenerating
	stateToolPending
	stateDone
	stateError
)

// ToolSource is the slice of the tool proxy resolver the orchestrator needs.
type ToolSource interface {
	ToolsForRole(ctx context.Context, role config.Role) ([]mcptypes.Tool, error)
	ExecuteTool(ctx context.Context, role config.Role, name string, args map[string]any) (*mcp.ToolResult, error)
}

// Orchestrator runs conversation turns. Safe for concurrent use across
// different conversations; overlapping turns on the same conversation are
// rejected by the store's turn reservation.
type Orchestrator struct {
	provider Provider
	tools    ToolSource
	prompts  *prompt.Assembler
	store    store.Store
	limiter  *RateLimiter

	maxMessageChars   int
	maxToolIterations int
}

func NewOrchestrator(provider Provider, tools ToolSource, prompts *prompt.Assembler, st store.Store, cfg config.ChatConfig) *Orchestrator {
	return &Orchestrator{
		provider:          provider,
		tools:             tools,
		prompts:           prompts,
		store:             st,
		limiter:           NewRateLimiter(cfg.RateLimitMax, time.Duration(cfg.RateLimitWindowS)*time.Second),
		maxMessageChars:   cfg.MaxMessageChars,
		maxToolIterations: cfg.MaxToolIterations,
	}
}

// TurnRequest is one validated-and-authenticated user message.
type TurnRequest struct {
	UserID         string
	Role           config.Role
	Message        string
	ConversationID string // empty starts a new conversation
	Room           string // optional room context for the prompt
}

// Turn is a validated request holding everything needed to stream the
// response. Created by Begin, consumed exactly once by Run.
type Turn struct {
	orc   *Orchestrator
	req   TurnRequest
	conv  *store.Conversation
	tools []mcptypes.Tool
	sys   string
	state turnState
}

// Begin performs the VALIDATING phase: input checks, rate limit, conversation
// load-or-create, and turn reservation. It does no streaming work, so a typed
// error from Begin means nothing has been emitted and nothing persisted, and
// the caller can still answer with a plain HTTP error.
func (o *Orchestrator) Begin(ctx context.Context, req TurnRequest) (*Turn, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, &ValidationError{Message: "message must not be empty"}
	}
	if len(req.Message) > o.maxMessageChars {
		return nil, &ValidationError{Message: fmt.Sprintf("message exceeds %d characters", o.maxMessageChars)}
	}
	if !config.IsValidRole(req.Role) {
		return nil, &AuthenticationError{Message: "session has no valid role"}
	}

	if !o.limiter.Allow(req.UserID) {
		return nil, &RateLimitError{Message: "too many requests, try again later"}
	}

	var conv *store.Conversation
	var err error
	if req.ConversationID != "" {
		conv, err = o.store.Get(req.ConversationID, req.UserID)
		if err != nil {
			return nil, &ConfigurationError{Cause: err}
		}
		if conv == nil {
			return nil, &ValidationError{Message: "invalid conversation id"}
		}
	} else {
		conv, err = o.store.Create(req.UserID, req.Role)
		if err != nil {
			return nil, &ConfigurationError{Cause: err}
		}
	}

	if err := o.store.BeginTurn(conv.ID); err != nil {
		if errors.Is(err, store.ErrTurnInProgress) {
			return nil, &ValidationError{Message: "a turn is already in progress for this conversation"}
		}
		return nil, &ConfigurationError{Cause: err}
	}

	tools, err := o.tools.ToolsForRole(ctx, req.Role)
	if err != nil {
		o.store.EndTurn(conv.ID)
		return nil, &ConfigurationError{Cause: err}
	}

	sys, err := o.assembleSystemPrompt(req, tools)
	if err != nil {
		o.store.EndTurn(conv.ID)
		return nil, &ConfigurationError{Cause: err}
	}

	return &Turn{
		orc:   o,
		req:   req,
		conv:  conv,
		tools: tools,
		sys:   sys,
		state: stateValidating,
	}, nil
}

func (o *Orchestrator) assembleSystemPrompt(req TurnRequest, tools []mcptypes.Tool) (string, error) {
	vars := map[string]string{
		"user_id":      req.UserID,
		"current_time": time.Now().UTC().Format(time.RFC3339),
		"tool_list":    mcp.RenderToolList(tools),
	}
	if req.Room != "" {
		vars["room"] = req.Room
	}
	return o.prompts.ForRoleWithVars(req.Role, vars)
}

// Run streams the turn to emit. Events arrive in strict causal order and end
// with exactly one done or error event, unless the client is already gone,
// in which case Run stops quietly. Partial assistant output is never
// persisted: the assistant message reaches the store only from the DONE state.
func (t *Turn) Run(ctx context.Context, emit EventSink) error {
	o := t.orc
	defer o.store.EndTurn(t.conv.ID)

	// The user message is complete at this point and is retained even if the
	// stream fails later.
	userMsg := store.Message{
		Role:      "user",
		Content:   t.req.Message,
		Timestamp: time.Now().UTC(),
	}
	if err := o.store.Append(t.conv.ID, userMsg); err != nil {
		return t.fail(emit, &ConfigurationError{Cause: err})
	}

	messages := t.wireHistory(userMsg)

	var assistant strings.Builder
	var toolUses []store.ToolUse

	t.state = stateGenerating
	for iteration := 0; ; iteration++ {
		if iteration >= o.maxToolIterations {
			return t.fail(emit, &UpstreamStreamError{Cause: fmt.Errorf("tool call limit (%d) exceeded", o.maxToolIterations)})
		}

		var segment strings.Builder
		var calls []ToolCall

		err := o.provider.ChatWithTools(ctx, messages, t.tools, func(chunk string, toolCalls []ToolCall) error {
			if chunk != "" {
				segment.WriteString(chunk)
				if err := emit(Event{Type: EventToken, Content: chunk}); err != nil {
					return err
				}
			}
			calls = append(calls, toolCalls...)
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				// Client is gone; nothing to emit and nothing to persist.
				t.state = stateError
				return ctx.Err()
			}
			return t.fail(emit, &UpstreamStreamError{Cause: err})
		}

		assistant.WriteString(segment.String())

		if len(calls) == 0 {
			break
		}

		// Feed the model its own words back before the tool results, so the
		// next round sees the turn as it actually unfolded.
		if segment.Len() > 0 {
			messages = append(messages, Message{Role: "assistant", Content: segment.String()})
		}

		t.state = stateToolPending
		for _, call := range calls {
			// Honor client cancellation between tool calls, never during
			// one: an abandoned in-flight call would leak provider state.
			if ctx.Err() != nil {
				t.state = stateError
				return ctx.Err()
			}

			if err := emit(Event{Type: EventToolUseStart, ToolName: call.Name}); err != nil {
				t.state = stateError
				return err
			}

			use := store.ToolUse{ToolName: call.Name, Status: store.ToolUsePending}
			outcome := t.executeTool(ctx, call)

			if outcome.Success {
				use.Status = store.ToolUseComplete
				use.Result = outcome.Content
				if err := emit(Event{Type: EventToolResult, ToolName: call.Name, Result: outcome.Content}); err != nil {
					t.state = stateError
					return err
				}
				messages = append(messages, Message{Role: "tool", Content: fmt.Sprintf("Result of %s: %s", call.Name, outcome.Content)})
			} else {
				use.Status = store.ToolUseError
				use.Error = outcome.Error
				if err := emit(Event{Type: EventToolError, ToolName: call.Name, Error: outcome.Error}); err != nil {
					t.state = stateError
					return err
				}
				messages = append(messages, Message{Role: "tool", Content: fmt.Sprintf("Error from %s: %s", call.Name, outcome.Error)})
			}
			toolUses = append(toolUses, use)
		}
		t.state = stateGenerating
	}

	t.state = stateDone

	assistantMsg := store.Message{
		Role:      "assistant",
		Content:   assistant.String(),
		Timestamp: time.Now().UTC(),
		ToolUses:  toolUses,
	}
	if err := o.store.Append(t.conv.ID, assistantMsg); err != nil {
		return t.fail(emit, &ConfigurationError{Cause: err})
	}

	return emit(Event{Type: EventDone, ConversationID: t.conv.ID})
}

// executeTool runs one tool call on a context detached from client
// cancellation: a disconnect mid-call lets the call finish under the
// resolver's own timeout instead of abandoning it. Authorization and
// resolver errors are folded into a failed outcome: a bad tool request
// from the model must not abort the stream.
func (t *Turn) executeTool(ctx context.Context, call ToolCall) *mcp.ToolResult {
	detached := context.WithoutCancel(ctx)
	result, err := t.orc.tools.ExecuteTool(detached, t.req.Role, call.Name, call.Arguments)
	if err != nil {
		return &mcp.ToolResult{
			Success: false,
			Error:   fmt.Sprintf("tool %s is not available: %v", call.Name, err),
		}
	}
	return result
}

// wireHistory converts the stored transcript plus the new user message into
// provider wire form. User messages carry their original timestamp as a
// prefix so the model has current-time grounding for every turn.
func (t *Turn) wireHistory(userMsg store.Message) []Message {
	messages := make([]Message, 0, len(t.conv.Messages)+2)
	messages = append(messages, Message{Role: "system", Content: t.sys})

	for _, msg := range t.conv.Messages {
		messages = append(messages, wireMessage(msg))
	}
	messages = append(messages, wireMessage(userMsg))
	return messages
}

func wireMessage(msg store.Message) Message {
	content := msg.Content
	if msg.Role == "user" {
		content = fmt.Sprintf("[%s] %s", msg.Timestamp.UTC().Format(time.RFC3339), msg.Content)
	}
	return Message{Role: msg.Role, Content: content}
}

// fail emits the single terminal error event and returns err. The sink error
// is ignored: the turn is already failing.
func (t *Turn) fail(emit EventSink, err error) error {
	t.state = stateError
	emit(Event{Type: EventError, Error: clientMessage(err)})
	return err
}

// clientMessage maps a turn-terminating error to the text shown to the
// client. Configuration faults deliberately collapse to a generic message.
func clientMessage(err error) string {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return cfgErr.Error()
	}
	var upErr *UpstreamStreamError
	if errors.As(err, &upErr) {
		return "the assistant connection was interrupted, please try again"
	}
	return err.Error()
}
