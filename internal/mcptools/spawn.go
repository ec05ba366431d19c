package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xonecas/symb-agent/internal/agent"
	"github.com/xonecas/symb-agent/internal/coordination"
	"github.com/xonecas/symb-agent/internal/eventbus"
	"github.com/xonecas/symb-agent/internal/mcp"
	"github.com/xonecas/symb-agent/internal/message"
	"github.com/xonecas/symb-agent/internal/permission"
	"github.com/xonecas/symb-agent/internal/provider"
)

// SpawnAgentArgs represents arguments for the spawn_agent tool.
type SpawnAgentArgs struct {
	Team          string `json:"team"`
	AgentName     string `json:"agent_name"`
	Role          string `json:"role"`
	InitialPrompt string `json:"initial_prompt"`
}

// NewSpawnAgentTool creates the spawn_agent tool definition.
func NewSpawnAgentTool() mcp.Tool {
	return mcp.Tool{
		Name: "spawn_agent",
		Description: `Spawns a new, independent agent loop bound to a team: it gets its own inbox and ` +
			`runs in the background against the same working directory, model, and tool catalogue. Use this ` +
			`to delegate a sub-task to a peer agent that can coordinate back via send_message/check_inbox/ ` +
			`task_update, unlike SubAgent which blocks for a single nested reply.`,
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"team":           {"type": "string", "description": "Team the new agent joins."},
				"agent_name":     {"type": "string", "description": "Unique name for the new agent within the team."},
				"role":           {"type": "string", "description": "Short description of the agent's responsibility."},
				"initial_prompt": {"type": "string", "description": "The task given to the new agent as its first user message."}
			},
			"required": ["team", "agent_name", "initial_prompt"]
		}`),
	}
}

// SpawnAgentHandler implements spawn_agent: it registers the new member,
// staggers concurrent launches per spec.md §4.6, and runs a full
// internal/agent.ProcessTurn loop in a background goroutine against the
// same provider, tool proxy, and tool catalogue as its caller. The
// spawned loop gets a non-interactive Permission Gate and an Event Bus
// drained to a headless zerolog sink, matching "each spawned agent gets
// its own bus attached to a headless log sink by default" (spec.md
// §5). Grounded in internal/mcptools/subagent.go's isolated-proxy spawn
// pattern, generalized from an in-process blocking call to a
// background task bound to the coordination substrate instead of a
// direct function return.
type SpawnAgentHandler struct {
	root     string
	provider provider.Provider
	proxy    *mcp.Proxy
	tools    []mcp.Tool
	stagger  *coordination.Stagger

	// MaxTurns bounds a spawned agent's iteration count; defaults to
	// agent.IterationCap when zero.
	MaxTurns int
}

// NewSpawnAgentHandler creates a handler sharing the parent loop's
// provider, proxy, and tool catalogue.
func NewSpawnAgentHandler(root string, prov provider.Provider, proxy *mcp.Proxy, tools []mcp.Tool) *SpawnAgentHandler {
	return &SpawnAgentHandler{
		root:     root,
		provider: prov,
		proxy:    proxy,
		tools:    tools,
		stagger:  coordination.NewStagger(),
	}
}

// Handle implements the mcp.ToolHandler interface.
func (h *SpawnAgentHandler) Handle(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
	var args SpawnAgentArgs
	if err := json.Unmarshal(arguments, &args); err != nil {
		return toolError("Invalid arguments: %v", err), nil
	}
	if args.Team == "" || args.AgentName == "" || args.InitialPrompt == "" {
		return toolError("team, agent_name, and initial_prompt are required"), nil
	}

	if _, err := coordination.GetTeam(h.root, args.Team); err != nil {
		return coordErrorResult(err), nil
	}
	if err := coordination.AddMember(h.root, args.Team, coordination.Member{
		AgentName: args.AgentName, Role: args.Role, Status: coordination.MemberIdle,
	}); err != nil {
		return coordErrorResult(err), nil
	}

	delay := h.stagger.Next(time.Now())

	go h.run(args, delay)

	return toolText(fmt.Sprintf(
		"Spawned agent %q on team %q (launching in %s); it will coordinate via send_message/check_inbox/task_update.",
		args.AgentName, args.Team, delay,
	)), nil
}

// run launches the spawned agent's loop after its stagger delay. It
// runs detached from the caller's context: a spawned agent is an
// independent task per spec.md §4.2/§5, not cancelled by its parent's
// cancellation token.
func (h *SpawnAgentHandler) run(args SpawnAgentArgs, delay time.Duration) {
	time.Sleep(delay)

	ctx := coordination.WithIdentity(context.Background(), coordination.Identity{
		Team: args.Team, Agent: args.AgentName,
	})

	bus := eventbus.New()
	go drainToLog(args.AgentName, bus)

	history := []message.Message{
		{Role: message.RoleSystem, Parts: []message.Part{message.TextPart{Text: buildSpawnedAgentSystemPrompt(args)}}, CreatedAt: time.Now()},
		{Role: message.RoleUser, Parts: []message.Part{message.TextPart{Text: args.InitialPrompt}}, CreatedAt: time.Now()},
	}

	opts := agent.Options{
		Provider: h.provider,
		Proxy:    h.proxy,
		Tools:    h.tools,
		Gate:     permission.New(nil),
		Bus:      bus,
		MaxTurns: h.MaxTurns,
	}
	opts.Gate.NonInteractive = true

	log.Info().Str("team", args.Team).Str("agent", args.AgentName).Msg("coordination: spawned agent starting")

	_, final, err := agent.ProcessTurn(ctx, opts, history)
	bus.Close()

	if err != nil {
		log.Warn().Str("team", args.Team).Str("agent", args.AgentName).Err(err).Msg("coordination: spawned agent ended with error")
		return
	}
	log.Info().Str("team", args.Team).Str("agent", args.AgentName).Str("summary", final.Text()).Msg("coordination: spawned agent finished")
}

func buildSpawnedAgentSystemPrompt(args SpawnAgentArgs) string {
	return fmt.Sprintf(
		"You are agent %q on team %q, role: %s. You were spawned to work independently "+
			"on the task below. Use send_message to report progress or ask questions, "+
			"task_create/task_update to track work on the shared board, and check_inbox "+
			"to read replies.", args.AgentName, args.Team, args.Role,
	)
}

// drainToLog is the "headless log sink" default bus consumer for a
// spawned agent: it has no front-end, so its events are simply logged
// until the bus closes.
func drainToLog(agentName string, bus *eventbus.Bus) {
	for evt := range bus.Events {
		switch evt.Type {
		case eventbus.EventToolCallStart:
			log.Debug().Str("agent", agentName).Str("tool", evt.ToolCallName).Msg("coordination: tool call start")
		case eventbus.EventToolResult:
			log.Debug().Str("agent", agentName).Bool("is_error", evt.ToolIsError).Msg("coordination: tool result")
		case eventbus.EventError:
			log.Warn().Str("agent", agentName).Err(evt.Err).Msg("coordination: agent event error")
		case eventbus.EventComplete:
			log.Debug().Str("agent", agentName).Str("reason", string(evt.Reason)).Msg("coordination: turn complete")
		}
	}
}
