package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestEmitBestEffortDropsWhenFull(t *testing.T) {
	b := &Bus{Events: make(chan AgentEvent, 1), Control: make(chan ControlEvent, 1)}
	b.EmitBestEffort(AgentEvent{Type: EventContentDelta, Content: "a"})
	// Second send must not block: the channel is already full and
	// EmitBestEffort drops rather than waiting.
	done := make(chan struct{})
	go func() {
		b.EmitBestEffort(AgentEvent{Type: EventContentDelta, Content: "b"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("EmitBestEffort blocked on a full channel")
	}

	evt := <-b.Events
	if evt.Content != "a" {
		t.Fatalf("expected the first event to survive, got %q", evt.Content)
	}
}

func TestEmitGuaranteedDeliversInOrder(t *testing.T) {
	b := New()
	defer b.Close()

	go func() {
		b.EmitGuaranteed(AgentEvent{Type: EventToolCallStart, ToolCallName: "Echo"})
		b.EmitGuaranteed(AgentEvent{Type: EventToolCallStop, ToolCallName: "Echo"})
	}()

	first := <-b.Events
	if first.Type != EventToolCallStart {
		t.Fatalf("expected EventToolCallStart first, got %v", first.Type)
	}
	second := <-b.Events
	if second.Type != EventToolCallStop {
		t.Fatalf("expected EventToolCallStop second, got %v", second.Type)
	}
}

func TestEmitGuaranteedCtxAbortsOnCancellation(t *testing.T) {
	b := &Bus{Events: make(chan AgentEvent), Control: make(chan ControlEvent)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if ok := b.EmitGuaranteedCtx(ctx, AgentEvent{Type: EventError}); ok {
		t.Fatalf("expected EmitGuaranteedCtx to report false on a cancelled context with no reader")
	}
}

func TestNilBusMethodsAreNoops(t *testing.T) {
	var b *Bus
	// None of these may panic: every producer call site in the agent
	// loop calls opts.Bus.EmitGuaranteed/EmitBestEffort unconditionally,
	// relying on a nil *Bus behaving as a no-op sink.
	b.EmitBestEffort(AgentEvent{Type: EventContentDelta})
	b.EmitGuaranteed(AgentEvent{Type: EventError})
	if ok := b.EmitGuaranteedCtx(context.Background(), AgentEvent{Type: EventComplete}); !ok {
		t.Fatalf("expected EmitGuaranteedCtx on a nil bus to report true (no-op success)")
	}
}
