package contextwindow

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xonecas/symb-agent/internal/message"
)

func textMsg(role message.Role, text string) message.Message {
	return message.Message{Role: role, Parts: []message.Part{message.TextPart{Text: text}}, CreatedAt: time.Now()}
}

func endTurnMsg(text string) message.Message {
	return message.Message{
		Role: message.RoleAssistant,
		Parts: []message.Part{
			message.TextPart{Text: text},
			message.FinishPart{Reason: message.FinishEndTurn, Timestamp: time.Now()},
		},
		CreatedAt: time.Now(),
	}
}

func toolCallPair(callID string) (message.Message, message.Message) {
	assistant := message.Message{
		Role: message.RoleAssistant,
		Parts: []message.Part{
			message.ToolCallPart{CallID: callID, Name: "Read", InputJSON: json.RawMessage(`{"path":"x"}`)},
		},
		CreatedAt: time.Now(),
	}
	toolMsg := message.Message{
		Role:      message.RoleTool,
		Parts:     []message.Part{message.ToolResultPart{CallID: callID, Content: "contents"}},
		CreatedAt: time.Now(),
	}
	return assistant, toolMsg
}

func TestTrimIdentityWithinBudget(t *testing.T) {
	history := []message.Message{
		textMsg(message.RoleSystem, "you are an agent"),
		textMsg(message.RoleUser, "read README"),
		endTurnMsg("done"),
	}
	out := Trim(history, 200_000)
	if len(out) != len(history) {
		t.Fatalf("expected identity trim, got %d messages (want %d)", len(out), len(history))
	}
}

func TestTrimPreservesAnchorsAndDropsOrphanPairs(t *testing.T) {
	history := []message.Message{
		textMsg(message.RoleSystem, "system prompt"),
		textMsg(message.RoleUser, "first task "+strings.Repeat("x", 40)),
	}
	// Pad the middle with many completed turns so a tight budget forces drops.
	for i := 0; i < 40; i++ {
		assistant, toolMsg := toolCallPair("c" + string(rune('a'+i%26)))
		history = append(history, assistant, toolMsg, endTurnMsg(strings.Repeat("y", 200)))
	}
	// Current in-progress turn: a fresh user message with no EndTurn yet.
	history = append(history, textMsg(message.RoleUser, "current request"))

	out := Trim(history, 2_000)

	if out[0].Role != message.RoleSystem {
		t.Fatalf("expected system prompt anchor preserved, got %v", out[0].Role)
	}
	if !strings.Contains(out[1].Text(), "first task") {
		t.Fatalf("expected first user message anchor preserved, got %v", out[1])
	}
	if out[len(out)-1].Text() != "current request" {
		t.Fatalf("expected in-progress turn preserved, got %v", out[len(out)-1])
	}

	// No orphaned tool-result: every ToolResultPart's CallID must have a
	// matching ToolCallPart somewhere still present in out.
	calls := make(map[string]bool)
	for _, m := range out {
		for _, tc := range m.ToolCalls() {
			calls[tc.CallID] = true
		}
	}
	for _, m := range out {
		for _, tr := range m.ToolResults() {
			if !calls[tr.CallID] {
				t.Fatalf("orphaned tool result for call %q survived trimming", tr.CallID)
			}
		}
	}
	if len(out) >= len(history) {
		t.Fatalf("expected trimming to actually drop messages, kept %d of %d", len(out), len(history))
	}
}

func TestEstimateTokensCountsPartsNotJustText(t *testing.T) {
	plain := textMsg(message.RoleUser, strings.Repeat("a", 400))
	assistant, toolMsg := toolCallPair("c1")
	if EstimateTokens(plain) <= PerMessageOverhead {
		t.Fatalf("expected text to contribute tokens beyond overhead")
	}
	if EstimateTokens(assistant) <= PerMessageOverhead {
		t.Fatalf("expected tool call input to contribute tokens")
	}
	if EstimateTokens(toolMsg) <= PerMessageOverhead {
		t.Fatalf("expected tool result content to contribute tokens")
	}
}
