// Package contextwindow trims conversation history to fit a model's
// input token budget while preserving the anchors the agent loop needs
// to keep working: the system prompt, the first user message of the
// session, and every message since the most recent EndTurn. Grounded
// in the teacher's token-accounting convention — provider.ChatResponse's
// InputTokens/OutputTokens fields and the 4-characters-per-token
// approximation referenced throughout internal/llm's comments — but the
// trimming pass itself is a fresh construction: no teacher file performs
// history trimming, since the teacher relies on provider-side context
// windows instead.
package contextwindow

import (
	"github.com/rs/zerolog/log"
	"github.com/xonecas/symb-agent/internal/message"
)

// CharsPerToken is the teacher's rough token estimator: 4 characters of
// text approximate one token. Good enough for a trimming heuristic; the
// real count comes back from the provider's Usage report after the call.
const CharsPerToken = 4

// PerMessageOverhead approximates the extra tokens role framing and
// part-boundary metadata add on top of raw text length.
const PerMessageOverhead = 4

// SafetyMargin reserves this fraction of the budget so the trimmed
// history plus the model's next completion doesn't overrun B.
const SafetyMargin = 0.20

// EstimateTokens approximates a message's token cost from its content
// parts: text, reasoning, and tool call/result payloads all count;
// Finish markers and image parts are counted at a flat overhead since
// their token cost is provider-specific and usually small relative to
// text.
func EstimateTokens(m message.Message) int {
	total := PerMessageOverhead
	for _, p := range m.Parts {
		switch v := p.(type) {
		case message.TextPart:
			total += len(v.Text) / CharsPerToken
		case message.ReasoningPart:
			total += len(v.Text) / CharsPerToken
		case message.ToolCallPart:
			total += (len(v.Name) + len(v.InputJSON)) / CharsPerToken
		case message.ToolResultPart:
			total += len(v.Content) / CharsPerToken
		case message.ImagePart, message.ImageURLPart:
			total += 256 // flat estimate; real multimodal cost is provider-specific
		}
	}
	return total
}

func estimateTotal(history []message.Message) int {
	total := 0
	for _, m := range history {
		total += EstimateTokens(m)
	}
	return total
}

// Trim drops the oldest non-anchor messages from history until the
// estimated token cost fits within budget minus its SafetyMargin,
// preserving:
//
//  1. every message up to and including the first user message
//     (system prompt anchor plus the task anchor), and
//  2. every message since the most recent message whose Finish part
//     carries FinishEndTurn (the turn currently in progress).
//
// When a dropped assistant message carries ToolCallParts, the matching
// tool-result message immediately following it is dropped in the same
// pass, so no ToolResultPart is ever left without its ToolCallPart in
// the surviving history (spec's orphan-pair invariant). Trimming a
// history already within budget is the identity function.
func Trim(history []message.Message, budget int) []message.Message {
	if budget <= 0 || len(history) == 0 {
		return history
	}

	effectiveBudget := int(float64(budget) * (1 - SafetyMargin))
	if estimateTotal(history) <= effectiveBudget {
		return history
	}

	frontAnchor := frontAnchorEnd(history)
	turnAnchor := turnAnchorStart(history)
	if turnAnchor < frontAnchor {
		turnAnchor = frontAnchor
	}

	kept := make([]bool, len(history))
	for i := 0; i < frontAnchor; i++ {
		kept[i] = true
	}
	for i := turnAnchor; i < len(history); i++ {
		kept[i] = true
	}

	// Droppable middle region, oldest first.
	droppable := make([]int, 0, len(history))
	for i := frontAnchor; i < turnAnchor; i++ {
		droppable = append(droppable, i)
	}

	current := estimateTotal(history)
	for _, i := range droppable {
		kept[i] = true // tentatively still present until we decide to drop
	}

	dropped := 0
	for _, i := range droppable {
		if current <= effectiveBudget {
			break
		}
		if !kept[i] {
			continue
		}
		kept[i] = false
		current -= EstimateTokens(history[i])
		dropped++

		// Drop the orphaned tool-result pair in lockstep: if i is an
		// assistant message with tool calls, its immediate successor
		// (the Role=Tool reply) must go too.
		if history[i].Role == message.RoleAssistant && len(history[i].ToolCalls()) > 0 {
			if j := i + 1; j < len(history) && history[j].Role == message.RoleTool && kept[j] {
				kept[j] = false
				current -= EstimateTokens(history[j])
			}
		}
	}

	if dropped == 0 {
		return history
	}

	out := make([]message.Message, 0, len(history)-dropped)
	for i, k := range kept {
		if k {
			out = append(out, history[i])
		}
	}
	log.Debug().Int("dropped", dropped).Int("kept", len(out)).Int("budget", budget).Msg("contextwindow: trimmed history")
	return out
}

// frontAnchorEnd returns the index just past the first user message
// (inclusive of any system messages preceding it), i.e. the boundary
// before which nothing is ever dropped.
func frontAnchorEnd(history []message.Message) int {
	for i, m := range history {
		if m.Role == message.RoleUser {
			return i + 1
		}
	}
	return len(history)
}

// turnAnchorStart returns the index of the first message in the
// current in-progress turn: the message right after the most recent
// FinishEndTurn marker, or 0 if no turn has ever completed.
func turnAnchorStart(history []message.Message) int {
	for i := len(history) - 1; i >= 0; i-- {
		if f, ok := history[i].Finish(); ok && f.Reason == message.FinishEndTurn {
			return i + 1
		}
	}
	return 0
}
