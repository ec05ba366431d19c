package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xonecas/symb-agent/internal/coordination"
	"github.com/xonecas/symb-agent/internal/mcp"
)

// CoordinationTools returns the team/task/inbox tool definitions spec.md
// §4.6 names, bound against root (the coordination substrate's data
// directory, typically coordination.Root()). spawn_agent is registered
// separately by NewSpawnAgentHandler, which needs access to the
// provider, tool catalogue, and the agent loop itself.
func CoordinationTools(root string) []mcp.ToolRegistration {
	return []mcp.ToolRegistration{
		{Tool: newTeamCreateTool(), Handler: makeTeamCreateHandler(root)},
		{Tool: newTeamDeleteTool(), Handler: makeTeamDeleteHandler(root)},
		{Tool: newTaskCreateTool(), Handler: makeTaskCreateHandler(root)},
		{Tool: newTaskGetTool(), Handler: makeTaskGetHandler(root)},
		{Tool: newTaskListTool(), Handler: makeTaskListHandler(root)},
		{Tool: newTaskUpdateTool(), Handler: makeTaskUpdateHandler(root)},
		{Tool: newSendMessageTool(), Handler: makeSendMessageHandler(root)},
		{Tool: newCheckInboxTool(), Handler: makeCheckInboxHandler(root)},
	}
}

// requireIdentity extracts the caller's team identity from ctx, failing
// when there is none (the root agent has no team identity). Only
// send_message and check_inbox call it; the team_* and task_* tools
// run without an identity, so the root agent can use them too.
func requireIdentity(ctx context.Context) (coordination.Identity, *mcp.ToolResult) {
	id, ok := coordination.FromContext(ctx)
	if !ok {
		return coordination.Identity{}, toolError("this agent has no team identity; send_message and check_inbox are only available to spawned team members")
	}
	return id, nil
}

func coordErrorResult(err error) *mcp.ToolResult {
	return toolError("%v", err)
}

// --- team_create -------------------------------------------------------

type teamCreateArgs struct {
	Name string `json:"name"`
}

func newTeamCreateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "team_create",
		Description: "Creates a new team with an empty member roster. Fails if a team with this name already exists.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Team name, used as its directory name on disk."}
			},
			"required": ["name"]
		}`),
	}
}

func makeTeamCreateHandler(root string) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args teamCreateArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Name == "" {
			return toolError("name is required"), nil
		}
		if _, err := coordination.CreateTeam(root, args.Name); err != nil {
			return coordErrorResult(err), nil
		}
		return toolText(fmt.Sprintf("Team %q created", args.Name)), nil
	}
}

// --- team_delete -------------------------------------------------------

type teamDeleteArgs struct {
	Name string `json:"name"`
}

func newTeamDeleteTool() mcp.Tool {
	return mcp.Tool{
		Name:        "team_delete",
		Description: "Dissolves a team: deletes its roster, every member's inbox, and its task board.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"name": {"type": "string", "description": "Team name to delete."}
			},
			"required": ["name"]
		}`),
	}
}

func makeTeamDeleteHandler(root string) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args teamDeleteArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if err := coordination.DeleteTeam(root, args.Name); err != nil {
			return coordErrorResult(err), nil
		}
		return toolText(fmt.Sprintf("Team %q deleted", args.Name)), nil
	}
}

// --- task_create ---------------------------------------------------------

type taskCreateArgs struct {
	Team        string `json:"team"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Assignee    string `json:"assignee"`
}

func newTaskCreateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "task_create",
		Description: "Creates a new task on a team's task board, returning its monotonically allocated id.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"team":        {"type": "string", "description": "Team the task belongs to."},
				"title":       {"type": "string", "description": "Short task title."},
				"description": {"type": "string", "description": "Task details."},
				"assignee":    {"type": "string", "description": "Agent name responsible for this task."}
			},
			"required": ["team", "title"]
		}`),
	}
}

func makeTaskCreateHandler(root string) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args taskCreateArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		if args.Team == "" || args.Title == "" {
			return toolError("team and title are required"), nil
		}
		task, err := coordination.CreateTask(root, args.Team, args.Title, args.Description, args.Assignee)
		if err != nil {
			return coordErrorResult(err), nil
		}
		return toolText(fmt.Sprintf("Created task #%d: %s", task.ID, task.Title)), nil
	}
}

// --- task_get / task_list ------------------------------------------------

type taskGetArgs struct {
	Team string `json:"team"`
	ID   int    `json:"id"`
}

func newTaskGetTool() mcp.Tool {
	return mcp.Tool{
		Name:        "task_get",
		Description: "Fetches a single task by id.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"team": {"type": "string"},
				"id":   {"type": "integer"}
			},
			"required": ["team", "id"]
		}`),
	}
}

func makeTaskGetHandler(root string) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args taskGetArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		task, err := coordination.GetTask(root, args.Team, args.ID)
		if err != nil {
			return coordErrorResult(err), nil
		}
		return toolText(formatTask(*task)), nil
	}
}

type taskListArgs struct {
	Team   string `json:"team"`
	Status string `json:"status,omitempty"`
}

func newTaskListTool() mcp.Tool {
	return mcp.Tool{
		Name:        "task_list",
		Description: "Lists a team's tasks, optionally filtered by status (pending, in_progress, done, blocked).",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"team":   {"type": "string"},
				"status": {"type": "string", "enum": ["pending", "in_progress", "done", "blocked"]}
			},
			"required": ["team"]
		}`),
	}
}

func makeTaskListHandler(root string) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args taskListArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		tasks, err := coordination.ListTasks(root, args.Team, coordination.TaskStatus(args.Status))
		if err != nil {
			return coordErrorResult(err), nil
		}
		if len(tasks) == 0 {
			return toolText("No tasks found"), nil
		}
		var b strings.Builder
		for _, t := range tasks {
			b.WriteString(formatTask(t))
			b.WriteString("\n")
		}
		return toolText(strings.TrimRight(b.String(), "\n")), nil
	}
}

func formatTask(t coordination.Task) string {
	return fmt.Sprintf("#%d [%s] %s (assignee: %s)", t.ID, t.Status, t.Title, t.Assignee)
}

// --- task_update -----------------------------------------------------------

type taskUpdateArgs struct {
	Team        string  `json:"team"`
	ID          int     `json:"id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
	Status      *string `json:"status,omitempty"`
}

func newTaskUpdateTool() mcp.Tool {
	return mcp.Tool{
		Name:        "task_update",
		Description: "Patches the given fields of an existing task; omitted fields are left unchanged.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"team":        {"type": "string"},
				"id":          {"type": "integer"},
				"title":       {"type": "string"},
				"description": {"type": "string"},
				"assignee":    {"type": "string"},
				"status":      {"type": "string", "enum": ["pending", "in_progress", "done", "blocked"]}
			},
			"required": ["team", "id"]
		}`),
	}
}

func makeTaskUpdateHandler(root string) mcp.ToolHandler {
	return func(_ context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		var args taskUpdateArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		fields := coordination.TaskFields{
			Title:       args.Title,
			Description: args.Description,
			Assignee:    args.Assignee,
		}
		if args.Status != nil {
			s := coordination.TaskStatus(*args.Status)
			fields.Status = &s
		}
		task, err := coordination.UpdateTask(root, args.Team, args.ID, fields)
		if err != nil {
			return coordErrorResult(err), nil
		}
		return toolText(fmt.Sprintf("Updated %s", formatTask(*task))), nil
	}
}

// --- send_message / check_inbox -------------------------------------------

type sendMessageArgs struct {
	Team    string `json:"team"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func newSendMessageTool() mcp.Tool {
	return mcp.Tool{
		Name:        "send_message",
		Description: "Sends a message to another team member's inbox. Requires the calling agent to have a team identity.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"team":    {"type": "string", "description": "Team name; defaults to the caller's own team if omitted."},
				"to":      {"type": "string", "description": "Recipient agent name."},
				"subject": {"type": "string"},
				"body":    {"type": "string"}
			},
			"required": ["to", "body"]
		}`),
	}
}

func makeSendMessageHandler(root string) mcp.ToolHandler {
	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		id, errResult := requireIdentity(ctx)
		if errResult != nil {
			return errResult, nil
		}
		var args sendMessageArgs
		if err := json.Unmarshal(arguments, &args); err != nil {
			return toolError("Invalid arguments: %v", err), nil
		}
		team := args.Team
		if team == "" {
			team = id.Team
		}
		if args.To == "" {
			return toolError("to is required"), nil
		}
		if err := coordination.SendMessage(root, team, id.Agent, args.To, args.Subject, args.Body); err != nil {
			return coordErrorResult(err), nil
		}
		return toolText(fmt.Sprintf("Message sent to %s", args.To)), nil
	}
}

type checkInboxArgs struct {
	MarkRead bool `json:"mark_read,omitempty"`
}

func newCheckInboxTool() mcp.Tool {
	return mcp.Tool{
		Name:        "check_inbox",
		Description: "Returns unread messages addressed to the calling agent. Requires a team identity.",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"properties": {
				"mark_read": {"type": "boolean", "description": "If true, flips returned envelopes to read."}
			}
		}`),
	}
}

func makeCheckInboxHandler(root string) mcp.ToolHandler {
	return func(ctx context.Context, arguments json.RawMessage) (*mcp.ToolResult, error) {
		id, errResult := requireIdentity(ctx)
		if errResult != nil {
			return errResult, nil
		}
		var args checkInboxArgs
		if len(arguments) > 0 {
			if err := json.Unmarshal(arguments, &args); err != nil {
				return toolError("Invalid arguments: %v", err), nil
			}
		}
		envelopes, err := coordination.CheckInbox(root, id.Team, id.Agent, args.MarkRead)
		if err != nil {
			return coordErrorResult(err), nil
		}
		if len(envelopes) == 0 {
			return toolText("No unread messages"), nil
		}
		var b strings.Builder
		for _, e := range envelopes {
			fmt.Fprintf(&b, "[%s] from %s: %s\n%s\n\n", e.Timestamp.Format("15:04:05"), e.From, e.Subject, e.Body)
		}
		return toolText(strings.TrimRight(b.String(), "\n")), nil
	}
}
