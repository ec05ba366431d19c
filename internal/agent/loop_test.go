package agent

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xonecas/symb-agent/internal/eventbus"
	"github.com/xonecas/symb-agent/internal/mcp"
	"github.com/xonecas/symb-agent/internal/message"
	"github.com/xonecas/symb-agent/internal/permission"
	"github.com/xonecas/symb-agent/internal/provider"
)

func echoTool() mcp.Tool {
	return mcp.Tool{
		Name:        "Echo",
		Description: "echoes its input argument back as the result",
		InputSchema: json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}}}`),
	}
}

func echoHandler(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error) {
	var in struct {
		Text string `json:"text"`
	}
	_ = json.Unmarshal(args, &in)
	return &mcp.ToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: in.Text}}}, nil
}

func userHistory(text string) []message.Message {
	return []message.Message{
		{Role: message.RoleUser, Parts: []message.Part{message.TextPart{Text: text}}, CreatedAt: time.Now()},
	}
}

func TestProcessTurnEndsImmediatelyWithoutTools(t *testing.T) {
	prov := provider.NewMock("mock", "all done")
	proxy := mcp.NewProxy(nil)
	gate := permission.New(nil)
	gate.NonInteractive = true
	bus := eventbus.New()
	defer bus.Close()
	go func() {
		for range bus.Events {
		}
	}()

	history := userHistory("say hello")
	updated, final, err := ProcessTurn(context.Background(), Options{
		Provider: prov,
		Proxy:    proxy,
		Tools:    nil,
		Gate:     gate,
		Bus:      bus,
	}, history)
	if err != nil {
		t.Fatalf("ProcessTurn returned error: %v", err)
	}
	if final.Text() != "all done" {
		t.Fatalf("expected final text %q, got %q", "all done", final.Text())
	}
	if len(updated) != len(history)+1 {
		t.Fatalf("expected history to grow by one assistant message, got %d entries", len(updated))
	}
	if final.Role != message.RoleAssistant {
		t.Fatalf("expected assistant role, got %v", final.Role)
	}
}

func TestProcessTurnDispatchesAllowedToolCall(t *testing.T) {
	prov := provider.NewMock("mock", "").WithResponses([][]provider.StreamEvent{
		{
			{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "call-1", ToolCallName: "Echo"},
			{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{"text":"ping"}`},
			{Type: provider.EventToolCallStop, ToolCallIndex: 0},
			{Type: provider.EventDone},
		},
		{
			{Type: provider.EventContentDelta, Content: "pong received"},
			{Type: provider.EventDone},
		},
	})

	proxy := mcp.NewProxy(nil)
	proxy.RegisterTool(echoTool(), echoHandler)

	gate := permission.New(nil)
	gate.NonInteractive = true
	bus := eventbus.New()
	defer bus.Close()
	go func() {
		for range bus.Events {
		}
	}()

	history := userHistory("ping the echo tool")
	updated, final, err := ProcessTurn(context.Background(), Options{
		Provider: prov,
		Proxy:    proxy,
		Tools:    []mcp.Tool{echoTool()},
		Gate:     gate,
		Bus:      bus,
	}, history)
	if err != nil {
		t.Fatalf("ProcessTurn returned error: %v", err)
	}
	if final.Text() != "pong received" {
		t.Fatalf("expected final text %q, got %q", "pong received", final.Text())
	}

	var toolMsg *message.Message
	for i := range updated {
		if updated[i].Role == message.RoleTool {
			toolMsg = &updated[i]
		}
	}
	if toolMsg == nil {
		t.Fatalf("expected a Role=Tool message in history, got none")
	}
	results := toolMsg.ToolResults()
	if len(results) != 1 || results[0].CallID != "call-1" {
		t.Fatalf("expected one tool result for call-1, got %+v", results)
	}
	if results[0].IsError {
		t.Fatalf("expected tool result to not be an error, got %q", results[0].Content)
	}
	if results[0].Content != "ping" {
		t.Fatalf("expected echoed content %q, got %q", "ping", results[0].Content)
	}
}

// denyAllPrompter always denies, simulating a user rejecting every tool
// call presented to them.
type denyAllPrompter struct{}

func (denyAllPrompter) Prompt(ctx context.Context, toolName, signature string) (permission.Decision, bool) {
	return permission.Deny, false
}

func TestProcessTurnToolCallDeniedByPermissionGate(t *testing.T) {
	prov := provider.NewMock("mock", "").WithToolCall("call-1", "Echo", `{"text":"ping"}`)

	proxy := mcp.NewProxy(nil)
	proxy.RegisterTool(echoTool(), echoHandler)

	gate := permission.New(denyAllPrompter{})
	bus := eventbus.New()
	defer bus.Close()
	go func() {
		for range bus.Events {
		}
	}()

	history := userHistory("ping the echo tool")
	updated, _, err := ProcessTurn(context.Background(), Options{
		Provider: prov,
		Proxy:    proxy,
		Tools:    []mcp.Tool{echoTool()},
		Gate:     gate,
		Bus:      bus,
		MaxTurns: 2,
	}, history)
	if err != ErrIterationCap {
		t.Fatalf("expected ErrIterationCap (the mock keeps re-requesting the same call), got %v", err)
	}

	var toolMsg *message.Message
	for i := range updated {
		if updated[i].Role == message.RoleTool {
			toolMsg = &updated[i]
			break
		}
	}
	if toolMsg == nil {
		t.Fatalf("expected a Role=Tool message recording the denial")
	}
	results := toolMsg.ToolResults()
	if len(results) != 1 || !results[0].IsError {
		t.Fatalf("expected a denied tool result, got %+v", results)
	}
	if results[0].Content != "Permission denied by user" {
		t.Fatalf("unexpected denial content: %q", results[0].Content)
	}
}

func TestProcessTurnIterationCapStopsRunawayToolLoop(t *testing.T) {
	// WithToolCall queues a single response replayed for every call,
	// so the assistant "requests" the same tool forever.
	prov := provider.NewMock("mock", "").WithToolCall("call-1", "Echo", `{"text":"ping"}`)

	proxy := mcp.NewProxy(nil)
	proxy.RegisterTool(echoTool(), echoHandler)

	gate := permission.New(nil)
	gate.NonInteractive = true
	bus := eventbus.New()
	defer bus.Close()
	go func() {
		for range bus.Events {
		}
	}()

	history := userHistory("loop forever")
	_, _, err := ProcessTurn(context.Background(), Options{
		Provider: prov,
		Proxy:    proxy,
		Tools:    []mcp.Tool{echoTool()},
		Gate:     gate,
		Bus:      bus,
		MaxTurns: 3,
	}, history)
	if err != ErrIterationCap {
		t.Fatalf("expected ErrIterationCap, got %v", err)
	}
}

func TestProcessTurnPropagatesContextCancellation(t *testing.T) {
	prov := provider.NewMock("mock", "unreachable")
	proxy := mcp.NewProxy(nil)
	gate := permission.New(nil)
	gate.NonInteractive = true
	bus := eventbus.New()
	defer bus.Close()
	go func() {
		for range bus.Events {
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	history := userHistory("should not run")
	updated, _, err := ProcessTurn(ctx, Options{
		Provider: prov,
		Proxy:    proxy,
		Gate:     gate,
		Bus:      bus,
	}, history)
	if err == nil {
		t.Fatalf("expected an error from an already-cancelled context")
	}
	if len(updated) != len(history) {
		t.Fatalf("expected history unchanged when context is pre-cancelled, got %d entries", len(updated))
	}
}
