package assembler

import (
	"testing"

	"github.com/xonecas/symb-agent/internal/eventbus"
	"github.com/xonecas/symb-agent/internal/message"
	"github.com/xonecas/symb-agent/internal/provider"
)

func feed(events []provider.StreamEvent) <-chan provider.StreamEvent {
	ch := make(chan provider.StreamEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func TestAssembleSimpleToolUse(t *testing.T) {
	ch := feed([]provider.StreamEvent{
		{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "c1", ToolCallName: "view"},
		{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{"path":"README.md"}`},
		{Type: provider.EventToolCallStop, ToolCallIndex: 0},
		{Type: provider.EventDone},
	})

	result, err := Assemble(ch, eventbus.New())
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.Reason != message.FinishToolUse {
		t.Fatalf("Reason = %v, want ToolUse", result.Reason)
	}
	calls := result.Message.ToolCalls()
	if len(calls) != 1 || calls[0].CallID != "c1" || calls[0].Name != "view" {
		t.Fatalf("ToolCalls = %+v", calls)
	}
	if string(calls[0].InputJSON) != `{"path":"README.md"}` {
		t.Fatalf("InputJSON = %s", calls[0].InputJSON)
	}
	if err := result.Message.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestAssembleTextOnlyEndTurn(t *testing.T) {
	ch := feed([]provider.StreamEvent{
		{Type: provider.EventContentDelta, Content: "Here is what it says…"},
		{Type: provider.EventDone},
	})

	result, err := Assemble(ch, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.Reason != message.FinishEndTurn {
		t.Fatalf("Reason = %v, want EndTurn", result.Reason)
	}
	if result.Message.Text() != "Here is what it says…" {
		t.Fatalf("Text() = %q", result.Message.Text())
	}
}

func TestAssembleStreamEndsWithoutComplete(t *testing.T) {
	ch := feed([]provider.StreamEvent{
		{Type: provider.EventContentDelta, Content: "partial"},
	})

	result, err := Assemble(ch, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if result.Reason != message.FinishError {
		t.Fatalf("Reason = %v, want Error for truncated stream", result.Reason)
	}
	if result.Message.Text() != "partial" {
		t.Fatalf("Text() = %q, want partial content preserved", result.Message.Text())
	}
}

func TestAssembleMultipleToolCallsOrdering(t *testing.T) {
	ch := feed([]provider.StreamEvent{
		{Type: provider.EventToolCallBegin, ToolCallIndex: 1, ToolCallID: "c2", ToolCallName: "grep"},
		{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "c1", ToolCallName: "view"},
		{Type: provider.EventToolCallDelta, ToolCallIndex: 1, ToolCallArgs: `{"pattern":"foo"}`},
		{Type: provider.EventToolCallDelta, ToolCallIndex: 0, ToolCallArgs: `{"path":"a.go"}`},
		{Type: provider.EventToolCallStop, ToolCallIndex: 1},
		{Type: provider.EventToolCallStop, ToolCallIndex: 0},
		{Type: provider.EventDone},
	})

	result, err := Assemble(ch, nil)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	calls := result.Message.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("want 2 calls, got %d", len(calls))
	}
	// Index order (0, then 1), regardless of which Begin event arrived first.
	if calls[0].CallID != "c1" || calls[1].CallID != "c2" {
		t.Fatalf("expected index order 0,1 regardless of arrival order, got %+v", calls)
	}
}

func TestAssembleUnclosedToolCallIsMalformed(t *testing.T) {
	ch := feed([]provider.StreamEvent{
		{Type: provider.EventToolCallBegin, ToolCallIndex: 0, ToolCallID: "c1", ToolCallName: "view"},
		{Type: provider.EventDone},
	})

	if _, err := Assemble(ch, nil); err == nil {
		t.Fatal("expected error for tool call never stopped")
	}
}

func TestAssembleErrorEventPropagates(t *testing.T) {
	wantErr := errMalformedWire
	ch := feed([]provider.StreamEvent{
		{Type: provider.EventError, Err: wantErr},
	})

	if _, err := Assemble(ch, nil); err == nil {
		t.Fatal("expected error")
	}
}
