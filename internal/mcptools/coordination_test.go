package mcptools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/xonecas/symb-agent/internal/coordination"
)

func TestCoordinationToolsRegistersEightTools(t *testing.T) {
	root := t.TempDir()
	regs := CoordinationTools(root)
	if len(regs) != 8 {
		t.Fatalf("expected 8 tool registrations, got %d", len(regs))
	}
	seen := make(map[string]bool)
	for _, r := range regs {
		seen[r.Tool.Name] = true
	}
	for _, name := range []string{
		"team_create", "team_delete", "task_create", "task_get",
		"task_list", "task_update", "send_message", "check_inbox",
	} {
		if !seen[name] {
			t.Errorf("missing tool registration for %q", name)
		}
	}
}

func findHandler(t *testing.T, root, name string) func(context.Context, json.RawMessage) (string, bool) {
	t.Helper()
	for _, r := range CoordinationTools(root) {
		if r.Tool.Name == name {
			h := r.Handler
			return func(ctx context.Context, args json.RawMessage) (string, bool) {
				res, err := h(ctx, args)
				if err != nil {
					t.Fatalf("%s: handler error: %v", name, err)
				}
				text := ""
				if len(res.Content) > 0 {
					text = res.Content[0].Text
				}
				return text, res.IsError
			}
		}
	}
	t.Fatalf("no handler registered for tool %q", name)
	return nil
}

func marshalArgs(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal args: %v", err)
	}
	return data
}

func TestTeamCreateThenTaskLifecycle(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	teamCreate := findHandler(t, root, "team_create")
	if _, isErr := teamCreate(ctx, marshalArgs(t, map[string]string{"name": "rovers"})); isErr {
		t.Fatalf("team_create failed")
	}

	taskCreate := findHandler(t, root, "task_create")
	out, isErr := taskCreate(ctx, marshalArgs(t, map[string]string{
		"team": "rovers", "title": "scout sector 7", "assignee": "pathfinder",
	}))
	if isErr {
		t.Fatalf("task_create failed: %s", out)
	}

	taskList := findHandler(t, root, "task_list")
	out, isErr = taskList(ctx, marshalArgs(t, map[string]string{"team": "rovers"}))
	if isErr || out == "No tasks found" {
		t.Fatalf("task_list unexpected result: %q isErr=%v", out, isErr)
	}

	taskUpdate := findHandler(t, root, "task_update")
	out, isErr = taskUpdate(ctx, marshalArgs(t, map[string]interface{}{
		"team": "rovers", "id": 1, "status": "done",
	}))
	if isErr {
		t.Fatalf("task_update failed: %s", out)
	}

	taskGet := findHandler(t, root, "task_get")
	out, isErr = taskGet(ctx, marshalArgs(t, map[string]interface{}{"team": "rovers", "id": 1}))
	if isErr {
		t.Fatalf("task_get failed: %s", out)
	}
}

func TestSendMessageRequiresIdentity(t *testing.T) {
	root := t.TempDir()
	send := findHandler(t, root, "send_message")
	out, isErr := send(context.Background(), marshalArgs(t, map[string]string{"to": "x", "body": "hi"}))
	if !isErr {
		t.Fatalf("expected error without identity, got %q", out)
	}
}

func TestSendMessageAndCheckInboxRoundTrip(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	teamCreate := findHandler(t, root, "team_create")
	teamCreate(ctx, marshalArgs(t, map[string]string{"name": "rovers"}))

	if err := coordination.AddMember(root, "rovers", coordination.Member{AgentName: "scout", Role: "scout"}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := coordination.AddMember(root, "rovers", coordination.Member{AgentName: "base", Role: "base"}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}

	senderCtx := coordination.WithIdentity(ctx, coordination.Identity{Team: "rovers", Agent: "base"})
	send := findHandler(t, root, "send_message")
	if _, isErr := send(senderCtx, marshalArgs(t, map[string]string{"to": "scout", "subject": "go", "body": "head north"})); isErr {
		t.Fatalf("send_message failed")
	}

	recipientCtx := coordination.WithIdentity(ctx, coordination.Identity{Team: "rovers", Agent: "scout"})
	checkInbox := findHandler(t, root, "check_inbox")
	out, isErr := checkInbox(recipientCtx, marshalArgs(t, map[string]bool{"mark_read": true}))
	if isErr {
		t.Fatalf("check_inbox failed: %s", out)
	}
	if out == "No unread messages" {
		t.Fatalf("expected a message in scout's inbox, got %q", out)
	}

	out, isErr = checkInbox(recipientCtx, marshalArgs(t, map[string]bool{}))
	if isErr {
		t.Fatalf("check_inbox second call failed: %s", out)
	}
	if out != "No unread messages" {
		t.Fatalf("expected inbox drained after mark_read, got %q", out)
	}
}
