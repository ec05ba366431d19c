package store

import (
	"encoding/json"

	"github.com/xonecas/symb-agent/internal/message"
)

// toolResultMeta is the wire shape stashed in a tool-role
// SessionMessage's ToolCalls column, the one field that row otherwise
// leaves idle. ToProviderMessages fails to decode it as a tool-call array
// and leaves ToolCalls empty, so old readers are unaffected;
// FromAgentMessages/ToAgentMessages round-trip IsError
// through it instead of adding a schema column.
type toolResultMeta struct {
	IsError bool `json:"is_error"`
}

// FromAgentMessages flattens the tagged-part message.Message history
// the agent loop operates on into the store's row-per-message shape.
// An assistant message's tool calls are serialized into one row
// (mirroring provider.Message.ToolCalls); each ToolResultPart in a tool
// message becomes its own row, since SessionMessage carries a single
// ToolCallID per row. FinishPart is loop-only bookkeeping and is not
// persisted.
func FromAgentMessages(msgs []message.Message) []SessionMessage {
	out := make([]SessionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case message.RoleTool:
			for _, tr := range m.ToolResults() {
				meta, _ := json.Marshal(toolResultMeta{IsError: tr.IsError})
				out = append(out, SessionMessage{
					Role:       string(message.RoleTool),
					Content:    tr.Content,
					ToolCalls:  meta,
					ToolCallID: tr.CallID,
					CreatedAt:  m.CreatedAt,
				})
			}
		default:
			sm := SessionMessage{
				Role:      string(m.Role),
				Content:   m.Text(),
				CreatedAt: m.CreatedAt,
			}
			for _, p := range m.Parts {
				if r, ok := p.(message.ReasoningPart); ok {
					sm.Reasoning = r.Text
				}
			}
			if calls := m.ToolCalls(); len(calls) > 0 {
				wire := make([]providerStyleToolCall, len(calls))
				for i, tc := range calls {
					wire[i] = providerStyleToolCall{ID: tc.CallID, Name: tc.Name, Arguments: tc.InputJSON}
				}
				if data, err := json.Marshal(wire); err == nil {
					sm.ToolCalls = data
				}
			}
			if m.Usage != nil {
				sm.InputTokens = m.Usage.InputTokens
				sm.OutputTokens = m.Usage.OutputTokens
			}
			out = append(out, sm)
		}
	}
	return out
}

// providerStyleToolCall mirrors provider.ToolCall's wire shape so
// FromAgentMessages/ToAgentMessages stay compatible with rows written
// by the provider.Message-based TUI path.
type providerStyleToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToAgentMessages reconstructs a message.Message history from stored
// rows, the inverse of FromAgentMessages. Tool-result rows sharing a
// CreatedAt and adjacent position are not re-merged into one tool
// message; each keeps its own message.Message since the loop only ever
// appends one ToolResultPart per dispatched call and re-reading a
// single-part tool message is equivalent for resumption purposes.
func ToAgentMessages(msgs []SessionMessage) []message.Message {
	out := make([]message.Message, 0, len(msgs))
	for _, sm := range msgs {
		role := message.Role(sm.Role)
		var parts []message.Part

		switch role {
		case message.RoleTool:
			var meta toolResultMeta
			_ = json.Unmarshal(sm.ToolCalls, &meta)
			parts = append(parts, message.ToolResultPart{
				CallID:  sm.ToolCallID,
				Content: sm.Content,
				IsError: meta.IsError,
			})
		default:
			if sm.Content != "" {
				parts = append(parts, message.TextPart{Text: sm.Content})
			}
			if sm.Reasoning != "" {
				parts = append(parts, message.ReasoningPart{Text: sm.Reasoning})
			}
			if len(sm.ToolCalls) > 0 {
				var wire []providerStyleToolCall
				if err := json.Unmarshal(sm.ToolCalls, &wire); err == nil {
					for _, tc := range wire {
						parts = append(parts, message.ToolCallPart{
							CallID:    tc.ID,
							Name:      tc.Name,
							InputJSON: tc.Arguments,
						})
					}
				}
			}
		}

		var usage *message.Usage
		if sm.InputTokens != 0 || sm.OutputTokens != 0 {
			usage = &message.Usage{InputTokens: sm.InputTokens, OutputTokens: sm.OutputTokens}
		}

		out = append(out, message.Message{
			Role:      role,
			Parts:     parts,
			Usage:     usage,
			CreatedAt: sm.CreatedAt,
		})
	}
	return out
}
