// Package assembler folds a provider's wire-event stream into one
// assistant message, a finish reason, and token usage. It is a pure
// fold with no internal task: it must not buffer the whole response,
// memory stays proportional to the current message (spec's streaming
// suspension design note).
package assembler

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/xonecas/symb-agent/internal/eventbus"
	"github.com/xonecas/symb-agent/internal/message"
	"github.com/xonecas/symb-agent/internal/provider"
)

// Result is the outcome of folding one wire-event stream.
type Result struct {
	Message message.Message
	Reason  message.FinishReason
	Usage   message.Usage
}

// toolCallBuffer accumulates one tool call's streamed JSON arguments,
// keyed by its wire index, mirroring the teacher's toolCallAccumulator
// in internal/llm/loop.go generalized to per-index Begin/Delta/Stop.
type toolCallBuffer struct {
	callID string
	name   string
	args   string
	closed bool
}

// Assemble consumes ch until a Complete/Done/Error event or the
// channel closes, forwarding every delta to bus (best effort for
// content/reasoning deltas, guaranteed for tool-call start/stop). It
// never blocks the provider on bus backpressure beyond bus's bounded
// capacity.
func Assemble(ch <-chan provider.StreamEvent, bus *eventbus.Bus) (Result, error) {
	var textBuf, reasoningBuf string
	order := make([]int, 0, 4)
	buffers := make(map[int]*toolCallBuffer)
	var usage message.Usage
	reason := message.FinishError
	sawTerminal := false

	bufferFor := func(idx int) *toolCallBuffer {
		b, ok := buffers[idx]
		if !ok {
			b = &toolCallBuffer{}
			buffers[idx] = b
			order = append(order, idx)
		}
		return b
	}

	for evt := range ch {
		switch evt.Type {
		case provider.EventContentDelta:
			textBuf += evt.Content
			bus.EmitBestEffort(eventbus.AgentEvent{Type: eventbus.EventContentDelta, Content: evt.Content})
		case provider.EventReasoningDelta:
			reasoningBuf += evt.Content
			bus.EmitBestEffort(eventbus.AgentEvent{Type: eventbus.EventReasoningDelta, Content: evt.Content})
		case provider.EventToolCallBegin:
			b := bufferFor(evt.ToolCallIndex)
			b.callID = evt.ToolCallID
			b.name = evt.ToolCallName
			bus.EmitGuaranteed(eventbus.AgentEvent{
				Type: eventbus.EventToolCallStart, ToolCallID: evt.ToolCallID, ToolCallName: evt.ToolCallName,
			})
		case provider.EventToolCallDelta:
			b := bufferFor(evt.ToolCallIndex)
			b.args += evt.ToolCallArgs
		case provider.EventToolCallStop:
			b, ok := buffers[evt.ToolCallIndex]
			if !ok {
				return Result{}, fmt.Errorf("assembler: tool_call_stop for unseen index %d: %w", evt.ToolCallIndex, errMalformedWire)
			}
			b.closed = true
			bus.EmitGuaranteed(eventbus.AgentEvent{Type: eventbus.EventToolCallStop, ToolCallID: b.callID})
		case provider.EventUsage:
			if evt.InputTokens > usage.InputTokens {
				usage.InputTokens = evt.InputTokens
			}
			if evt.OutputTokens > usage.OutputTokens {
				usage.OutputTokens = evt.OutputTokens
			}
			bus.EmitGuaranteed(eventbus.AgentEvent{Type: eventbus.EventUsageUpdate, Usage: usage})
		case provider.EventError:
			return Result{}, evt.Err
		case provider.EventDone:
			sawTerminal = true
			reason = inferReason(order, buffers)
		}
		if sawTerminal {
			break
		}
	}

	if !sawTerminal {
		// Stream closed without a terminal event: synthesize Error per
		// spec's boundary behavior for a malformed/truncated stream.
		reason = message.FinishError
	}

	// Finalize in provider-declared index order, not arrival order: two
	// tool calls may begin out of sequence if the provider streams
	// Begin events interleaved across indices.
	sort.Ints(order)

	if sawTerminal {
		for _, idx := range order {
			if !buffers[idx].closed {
				return Result{}, fmt.Errorf("assembler: tool call index %d never received tool_call_stop: %w", idx, errMalformedWire)
			}
		}
	}

	parts := make([]message.Part, 0, len(order)+3)
	if textBuf != "" {
		parts = append(parts, message.TextPart{Text: textBuf})
	}
	if reasoningBuf != "" {
		parts = append(parts, message.ReasoningPart{Text: reasoningBuf})
	}
	for _, idx := range order {
		b := buffers[idx]
		if !json.Valid([]byte(b.args)) {
			return Result{}, fmt.Errorf("assembler: tool call %q has invalid JSON arguments: %w", b.callID, errMalformedWire)
		}
		parts = append(parts, message.ToolCallPart{
			CallID:    b.callID,
			Name:      b.name,
			InputJSON: json.RawMessage(b.args),
		})
	}
	parts = append(parts, message.FinishPart{Reason: reason, Timestamp: time.Now()})

	msg := message.Message{
		Role:      message.RoleAssistant,
		Parts:     parts,
		Usage:     &usage,
		CreatedAt: time.Now(),
	}

	return Result{Message: msg, Reason: reason, Usage: usage}, nil
}

func inferReason(order []int, buffers map[int]*toolCallBuffer) message.FinishReason {
	if len(order) > 0 {
		return message.FinishToolUse
	}
	return message.FinishEndTurn
}

var errMalformedWire = fmt.Errorf("malformed wire stream")
