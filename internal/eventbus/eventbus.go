// Package eventbus implements the bounded, single-producer/single-
// consumer channel the agent loop uses to push UI events, plus the
// reverse channel carrying permission responses and cancellation.
// Grounded in the teacher's internal/provider/openai_common.go
// trySend helper (ctx-cancellation-aware, non-blocking) and
// internal/llm/loop.go's DeltaCallback/UsageCallback forwarding,
// re-expressed as channel sends per spec's Event Bus contract.
package eventbus

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/symb-agent/internal/message"
)

// Capacity is the bounded channel size spec mandates for the Event Bus.
const Capacity = 256

// EventType identifies the kind of AgentEvent.
type EventType int

const (
	EventContentDelta EventType = iota
	EventReasoningDelta
	EventToolCallStart
	EventToolCallStop
	EventToolResult
	EventPermissionRequest
	EventUsageUpdate
	EventComplete
	EventError
)

// AgentEvent is a single item pushed to the front-end.
type AgentEvent struct {
	Type EventType

	Content string // ContentDelta / ReasoningDelta

	ToolCallID   string // ToolCallStart/Stop/Result/PermissionRequest
	ToolCallName string
	ToolResult   string
	ToolIsError  bool

	Usage message.Usage // UsageUpdate

	Reason message.FinishReason // Complete

	Err error // Error

	// PermissionRequest fields.
	PermissionSignature string
	ReplyCh             chan<- PermissionResponse
}

// PermissionResponse is one reply to a PermissionRequest event,
// delivered over the reverse channel.
type PermissionResponse struct {
	Decision PermissionDecision
}

// PermissionDecision is the user's answer to a permission prompt.
type PermissionDecision int

const (
	Deny PermissionDecision = iota
	Allow
	AllowAlways
)

// ControlEvent flows from front-end back to the agent loop: either a
// reply to a specific PermissionRequest, or a cancellation signal
// (modeled here as the shared context.Context the loop already holds
// rather than a bus message, per spec §4.8/§9 — cancellation uses a
// token, not a queued event).
type ControlEvent struct {
	PermissionResponse *PermissionResponse
}

// Bus is a bounded channel pair: Events flows loop → front-end,
// Control flows front-end → loop.
type Bus struct {
	Events  chan AgentEvent
	Control chan ControlEvent
}

// New creates a Bus with the spec-mandated capacity.
func New() *Bus {
	return &Bus{
		Events:  make(chan AgentEvent, Capacity),
		Control: make(chan ControlEvent, Capacity),
	}
}

// EmitBestEffort sends evt without blocking; if the bus is full the
// event is dropped (only ever used for the coalescing ContentDelta/
// ReasoningDelta event types per spec §4.1).
func (b *Bus) EmitBestEffort(evt AgentEvent) {
	if b == nil {
		return
	}
	select {
	case b.Events <- evt:
	default:
		log.Debug().Int("type", int(evt.Type)).Msg("eventbus: dropped best-effort event, bus full")
	}
}

// EmitGuaranteed blocks until evt is delivered (EmitGuaranteedCtx is
// the variant that gives up when a context ends). Used for ToolCallStart/Stop/ToolResult/PermissionRequest/
// UsageUpdate/Complete/Error, which are coalescing points that must
// never be silently dropped.
func (b *Bus) EmitGuaranteed(evt AgentEvent) {
	if b == nil {
		return
	}
	b.Events <- evt
}

// EmitGuaranteedCtx is EmitGuaranteed but aborts if ctx is cancelled
// first, returning false in that case.
func (b *Bus) EmitGuaranteedCtx(ctx context.Context, evt AgentEvent) bool {
	if b == nil {
		return true
	}
	select {
	case b.Events <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close closes both channels. Only the producer (the agent loop) may
// call Close.
func (b *Bus) Close() {
	close(b.Events)
	close(b.Control)
}
