package message

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		ID:   "m1",
		Role: RoleAssistant,
		Parts: []Part{
			TextPart{Text: "here is "},
			ReasoningPart{Text: "thinking..."},
			ToolCallPart{CallID: "c1", Name: "view", InputJSON: json.RawMessage(`{"path":"README.md"}`)},
			FinishPart{Reason: FinishToolUse, Timestamp: time.Now().UTC().Round(time.Second)},
		},
		Model:     "gpt-4",
		Usage:     &Usage{InputTokens: 10, OutputTokens: 20},
		CreatedAt: time.Now().UTC().Round(time.Second),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if got.ID != msg.ID || got.Role != msg.Role || len(got.Parts) != len(msg.Parts) {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.Text() != "here is " {
		t.Errorf("Text() = %q, want %q", got.Text(), "here is ")
	}
	calls := got.ToolCalls()
	if len(calls) != 1 || calls[0].CallID != "c1" || calls[0].Name != "view" {
		t.Errorf("ToolCalls() = %+v", calls)
	}
	finish, ok := got.Finish()
	if !ok || finish.Reason != FinishToolUse {
		t.Errorf("Finish() = %+v, %v", finish, ok)
	}
}

func TestMessageValidateOrphanedToolResult(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			ToolResultPart{CallID: "missing", Content: "oops"},
		},
	}
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error for orphaned tool_result")
	}
}

func TestMessageValidateToolUseRequiresCall(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			TextPart{Text: "no calls here"},
			FinishPart{Reason: FinishToolUse},
		},
	}
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error: tool_use finish reason with no tool_call parts")
	}
}

func TestMessageValidateEndTurnRejectsToolCall(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			ToolCallPart{CallID: "c1", Name: "view"},
			FinishPart{Reason: FinishEndTurn},
		},
	}
	if err := msg.Validate(); err == nil {
		t.Fatal("expected error: end_turn finish reason with tool_call parts present")
	}
}

func TestMessageValidateHappyPath(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			ToolCallPart{CallID: "c1", Name: "view"},
			FinishPart{Reason: FinishToolUse},
		},
	}
	if err := msg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFinishReasonContinues(t *testing.T) {
	cases := map[FinishReason]bool{
		FinishToolUse:   true,
		FinishEndTurn:   false,
		FinishMaxTokens: false,
		FinishCancelled: false,
		FinishError:     false,
	}
	for reason, want := range cases {
		if got := reason.Continues(); got != want {
			t.Errorf("%s.Continues() = %v, want %v", reason, got, want)
		}
	}
}
