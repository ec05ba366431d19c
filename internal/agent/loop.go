// Package agent implements the turn-by-turn orchestration loop: one
// provider call, stream assembly, permission-gated tool dispatch, and
// repeat until the assistant stops asking for tools or the iteration
// cap is hit. Adapted from internal/llm/loop.go's ProcessTurn, rebuilt
// around the message/assembler/eventbus packages in place of the
// teacher's flat provider.Message history and callback-based
// forwarding.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/symb-agent/internal/assembler"
	"github.com/xonecas/symb-agent/internal/contextwindow"
	"github.com/xonecas/symb-agent/internal/cost"
	"github.com/xonecas/symb-agent/internal/eventbus"
	"github.com/xonecas/symb-agent/internal/mcp"
	"github.com/xonecas/symb-agent/internal/message"
	"github.com/xonecas/symb-agent/internal/permission"
	"github.com/xonecas/symb-agent/internal/provider"
)

// IterationCap is the hard stop on provider round-trips within one turn.
// Reaching it while the assistant still wants tools ends the turn with
// an error rather than issuing a 51st call or running the 50th round's
// tool calls.
const IterationCap = 50

// reminderInterval mirrors the teacher's injectRecitation cadence: a
// periodic nudge keeping the model anchored on its plan during long
// tool-calling stretches. Orthogonal to every invariant below.
const reminderInterval = 10

// DefaultRequiresPermission is the built-in tool policy: read-only
// discovery tools never prompt, anything that mutates state or runs
// arbitrary commands does.
var DefaultRequiresPermission = map[string]bool{
	"Read": false, "Ls": false, "Grep": false, "Glob": false,
	"Edit": true, "Write": true, "Shell": true, "SubAgent": true,

	// Coordination substrate tools (§4.6): task_get/task_list/check_inbox
	// are read-only discovery, the rest mutate shared team state.
	"task_get": false, "task_list": false, "check_inbox": false,
	"team_create": true, "team_delete": true, "spawn_agent": true,
	"task_create": true, "task_update": true, "send_message": true,
}

// Options configures one call to ProcessTurn.
type Options struct {
	Provider provider.Provider
	Proxy    *mcp.Proxy
	Tools    []mcp.Tool
	Gate     *permission.Gate
	Bus      *eventbus.Bus

	// RequiresPermission overrides DefaultRequiresPermission per tool
	// name; a tool absent from both maps is treated as requiring
	// permission (fail closed).
	RequiresPermission map[string]bool

	// Scratchpad, when non-nil, supplies the agent's current plan for
	// injectRecitation; falls back to echoing the first user message.
	Scratchpad func() string

	// MaxTurns defaults to IterationCap when zero.
	MaxTurns int

	// ContextBudget is the active model's input token budget, consulted
	// by the Context Window Manager (C7) before every provider call. A
	// zero value disables trimming (the full history is always sent).
	ContextBudget int

	// ModelID and Cost, when both set, record this turn's token usage
	// against the Cost Accountant (C8) after every provider response.
	ModelID string
	Cost    *cost.Accountant
}

func (o *Options) requiresPermission(tool string) bool {
	if o.RequiresPermission != nil {
		if v, ok := o.RequiresPermission[tool]; ok {
			return v
		}
	}
	if v, ok := DefaultRequiresPermission[tool]; ok {
		return v
	}
	return true
}

// ErrIterationCap is returned when the loop stops at MaxTurns with the
// assistant still requesting tools.
var ErrIterationCap = errors.New("agent: iteration cap reached with pending tool calls")

// ProcessTurn runs the six-step cycle (build request, stream, assemble,
// gate, dispatch, repeat) against history until the assistant's finish
// reason is EndTurn, an error occurs, or MaxTurns round-trips are spent.
// It returns the updated history (including every assistant/tool
// message appended along the way) and the final assistant message.
func ProcessTurn(ctx context.Context, opts Options, history []message.Message) ([]message.Message, message.Message, error) {
	maxTurns := opts.MaxTurns
	if maxTurns == 0 {
		maxTurns = IterationCap
	}

	providerTools := toolsToProvider(opts.Tools)

	var final message.Message
	for round := 0; round < maxTurns; round++ {
		if err := ctx.Err(); err != nil {
			return history, final, err
		}

		injectRecitation(history, opts.Scratchpad, round)

		trimmed := contextwindow.Trim(history, opts.ContextBudget)

		ch, err := chatStreamWithRetry(ctx, opts.Provider, toProviderMessages(trimmed), providerTools)
		if err != nil {
			opts.Bus.EmitGuaranteed(eventbus.AgentEvent{Type: eventbus.EventError, Err: err})
			return history, final, fmt.Errorf("agent: provider stream failed: %w", err)
		}

		result, err := assembler.Assemble(ch, opts.Bus)
		if err != nil {
			opts.Bus.EmitGuaranteed(eventbus.AgentEvent{Type: eventbus.EventError, Err: err})
			return history, final, fmt.Errorf("agent: stream assembly failed: %w", err)
		}

		final = result.Message
		history = append(history, result.Message)
		opts.Bus.EmitGuaranteed(eventbus.AgentEvent{Type: eventbus.EventComplete, Reason: result.Reason, Usage: result.Usage})

		if opts.Cost != nil {
			opts.Cost.Record(opts.ModelID, result.Usage.InputTokens, result.Usage.OutputTokens)
		}

		if result.Reason == message.FinishError {
			return history, final, fmt.Errorf("agent: assistant stream ended with FinishReason::Error")
		}

		calls := result.Message.ToolCalls()
		if len(calls) == 0 {
			return history, final, nil
		}

		if round == maxTurns-1 {
			opts.Bus.EmitGuaranteed(eventbus.AgentEvent{Type: eventbus.EventError, Err: ErrIterationCap})
			return history, final, ErrIterationCap
		}

		if err := ctx.Err(); err != nil {
			return history, final, err
		}

		toolMsg := dispatchToolCalls(ctx, opts, calls)
		history = append(history, toolMsg)
	}

	return history, final, nil
}

// dispatchToolCalls executes each tool call (permission-gated) and
// folds the results into one Role=Tool message, one ToolResultPart per
// call, matching message.Validate's orphan-check expectations.
func dispatchToolCalls(ctx context.Context, opts Options, calls []message.ToolCallPart) message.Message {
	parts := make([]message.Part, 0, len(calls))
	for _, tc := range calls {
		if err := ctx.Err(); err != nil {
			parts = append(parts, message.ToolResultPart{CallID: tc.CallID, Content: err.Error(), IsError: true})
			continue
		}

		required := opts.requiresPermission(tc.Name)
		signature := toolSignature(tc.Name, tc.InputJSON)

		if required {
			decision := opts.Gate.Check(ctx, tc.Name, signature, required)
			if decision != permission.Allow {
				parts = append(parts, message.ToolResultPart{
					CallID: tc.CallID, Content: "Permission denied by user", IsError: true,
				})
				continue
			}
		}

		opts.Bus.EmitGuaranteed(eventbus.AgentEvent{Type: eventbus.EventToolCallStart, ToolCallID: tc.CallID, ToolCallName: tc.Name})

		result, err := opts.Proxy.CallTool(ctx, tc.Name, tc.InputJSON)
		var content string
		var isErr bool
		switch {
		case err != nil:
			content, isErr = fmt.Sprintf("Error: %v", err), true
		case result.IsError:
			content, isErr = extractText(result.Content), true
		default:
			content, isErr = extractText(result.Content), false
		}

		opts.Bus.EmitGuaranteed(eventbus.AgentEvent{
			Type: eventbus.EventToolResult, ToolCallID: tc.CallID, ToolResult: content, ToolIsError: isErr,
		})
		parts = append(parts, message.ToolResultPart{CallID: tc.CallID, Content: content, IsError: isErr})
	}

	return message.Message{Role: message.RoleTool, Parts: parts, CreatedAt: time.Now()}
}

// toolSignature derives the salient argument the Permission Gate keys
// its always-allow cache on: the command string for Shell, the full
// argument JSON for everything else.
func toolSignature(toolName string, argsJSON json.RawMessage) string {
	if toolName == "Shell" {
		var args struct {
			Command string `json:"command"`
		}
		if json.Unmarshal(argsJSON, &args) == nil && args.Command != "" {
			return args.Command
		}
	}
	return string(argsJSON)
}

func extractText(blocks []mcp.ContentBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func toolsToProvider(tools []mcp.Tool) []provider.Tool {
	out := make([]provider.Tool, len(tools))
	for i, t := range tools {
		out[i] = provider.Tool{Name: t.Name, Description: t.Description, Parameters: t.InputSchema}
	}
	return out
}

// toProviderMessages flattens the part-based history into the
// provider package's flat Message shape. A Role=Tool message splits
// into one provider.Message per ToolResultPart.
func toProviderMessages(history []message.Message) []provider.Message {
	out := make([]provider.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case message.RoleTool:
			for _, p := range m.Parts {
				if tr, ok := p.(message.ToolResultPart); ok {
					out = append(out, provider.Message{
						Role: "tool", Content: tr.Content, ToolCallID: tr.CallID, CreatedAt: m.CreatedAt,
					})
				}
			}
		case message.RoleAssistant:
			pm := provider.Message{Role: "assistant", Content: m.Text(), CreatedAt: m.CreatedAt}
			for _, p := range m.Parts {
				if rp, ok := p.(message.ReasoningPart); ok {
					pm.Reasoning += rp.Text
				}
			}
			for _, tc := range m.ToolCalls() {
				pm.ToolCalls = append(pm.ToolCalls, provider.ToolCall{ID: tc.CallID, Name: tc.Name, Arguments: tc.InputJSON})
			}
			if m.Usage != nil {
				pm.InputTokens, pm.OutputTokens = m.Usage.InputTokens, m.Usage.OutputTokens
			}
			out = append(out, pm)
		default:
			out = append(out, provider.Message{Role: string(m.Role), Content: m.Text(), CreatedAt: m.CreatedAt})
		}
	}
	return out
}

// injectRecitation appends a <system-reminder> to the last tool
// message's final ToolResultPart every reminderInterval rounds,
// verbatim in spirit from internal/llm/loop.go.
func injectRecitation(history []message.Message, scratchpad func() string, round int) {
	if round == 0 || round%reminderInterval != 0 {
		return
	}

	var reminder string
	if scratchpad != nil {
		reminder = scratchpad()
	}
	if reminder == "" {
		for _, m := range history {
			if m.Role == message.RoleUser {
				reminder = "The user's request: " + m.Text()
				break
			}
		}
	}
	if reminder == "" {
		return
	}

	const tag = "\n\n<system-reminder>\n"
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != message.RoleTool || len(history[i].Parts) == 0 {
			continue
		}
		last := len(history[i].Parts) - 1
		tr, ok := history[i].Parts[last].(message.ToolResultPart)
		if !ok {
			continue
		}
		if idx := strings.Index(tr.Content, tag); idx >= 0 {
			tr.Content = tr.Content[:idx]
		}
		tr.Content += tag + reminder + "\n</system-reminder>"
		history[i].Parts[last] = tr
		return
	}
}

// --- rate-limit retry -------------------------------------------------

// retryDelays is the exponential backoff schedule: base 1s, doubling,
// capped at 3 attempts, per spec. Diverges from mcp/proxy.go's fixed
// {2s, 5s, 10s} schedule.
var retryDelays = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

var retryAfterRegex = regexp.MustCompile(`Retry-After:\s*(\d+)`)
var tryAgainRegex = regexp.MustCompile(`Try again in (\d+) seconds?`)

// parseRetryAfter extracts a server-suggested retry delay from an error
// message, mirroring mcp/proxy.go's unexported helper of the same name
// (not importable across packages, so re-grounded here verbatim).
func parseRetryAfter(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	msg := err.Error()
	if m := retryAfterRegex.FindStringSubmatch(msg); len(m) > 1 {
		if s, perr := strconv.Atoi(m[1]); perr == nil {
			return time.Duration(s) * time.Second, true
		}
	}
	if m := tryAgainRegex.FindStringSubmatch(msg); len(m) > 1 {
		if s, perr := strconv.Atoi(m[1]); perr == nil {
			return time.Duration(s) * time.Second, true
		}
	}
	return 0, false
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "Rate limited") || strings.Contains(msg, "rate limit")
}

// chatStreamWithRetry calls Provider.ChatStream, retrying only on
// rate-limit errors with exponential backoff honoring a server-supplied
// Retry-After hint (capped at 30s for safety).
func chatStreamWithRetry(ctx context.Context, prov provider.Provider, history []provider.Message, tools []provider.Tool) (<-chan provider.StreamEvent, error) {
	var lastErr error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		if attempt > 0 {
			delay := retryDelays[attempt-1]
			if ra, ok := parseRetryAfter(lastErr); ok {
				if ra > 30*time.Second {
					ra = 30 * time.Second
				}
				delay = ra
			}
			log.Warn().Str("provider", prov.Name()).Int("attempt", attempt).Dur("delay", delay).Err(lastErr).Msg("agent: rate limited, retrying")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ch, err := prov.ChatStream(ctx, history, tools)
		if err == nil {
			return ch, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if !isRateLimited(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("agent: rate limited after %d attempts: %w", len(retryDelays)+1, lastErr)
}
