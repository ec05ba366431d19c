package coordination

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestCreateTeamRejectsDuplicate(t *testing.T) {
	root := t.TempDir()
	if _, err := CreateTeam(root, "alpha"); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if _, err := CreateTeam(root, "alpha"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDeleteTeamRemovesTasksToo(t *testing.T) {
	root := t.TempDir()
	if _, err := CreateTeam(root, "alpha"); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}
	if _, err := CreateTask(root, "alpha", "t1", "d", "bob"); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if err := DeleteTeam(root, "alpha"); err != nil {
		t.Fatalf("DeleteTeam: %v", err)
	}
	if _, err := GetTeam(root, "alpha"); !errors.Is(err, ErrNoSuchTeam) {
		t.Fatalf("expected ErrNoSuchTeam after delete, got %v", err)
	}
	if tasks, err := ListTasks(root, "alpha", ""); err != nil || len(tasks) != 0 {
		t.Fatalf("expected no tasks after team delete, got %v err %v", tasks, err)
	}
}

func TestTaskIDsMonotonicUnderConcurrency(t *testing.T) {
	root := t.TempDir()
	if _, err := CreateTeam(root, "alpha"); err != nil {
		t.Fatalf("CreateTeam: %v", err)
	}

	const n = 20
	ids := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := CreateTask(root, "alpha", "t", "d", "bob")
			if err != nil {
				t.Errorf("CreateTask: %v", err)
				return
			}
			ids[i] = task.ID
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool)
	for _, id := range ids {
		if id == 0 {
			t.Fatalf("task never got an id")
		}
		if seen[id] {
			t.Fatalf("duplicate task id %d", id)
		}
		seen[id] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[i] {
			t.Fatalf("missing task id %d; ids issued form a gap", i)
		}
	}

	tasks, err := ListTasks(root, "alpha", "")
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != n {
		t.Fatalf("expected %d tasks on disk, found %d", n, len(tasks))
	}
}

func TestUpdateTaskIdempotent(t *testing.T) {
	root := t.TempDir()
	CreateTeam(root, "alpha")
	task, err := CreateTask(root, "alpha", "t1", "d", "bob")
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	status := TaskDone
	fields := TaskFields{Status: &status}
	first, err := UpdateTask(root, "alpha", task.ID, fields)
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	second, err := UpdateTask(root, "alpha", task.ID, fields)
	if err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if first.Status != TaskDone || second.Status != TaskDone {
		t.Fatalf("expected status Done after idempotent updates, got %v / %v", first.Status, second.Status)
	}
}

func TestSendMessageFailsForNonMember(t *testing.T) {
	root := t.TempDir()
	CreateTeam(root, "alpha")
	err := SendMessage(root, "alpha", "root", "ghost", "hi", "body")
	if !errors.Is(err, ErrNoSuchInbox) {
		t.Fatalf("expected ErrNoSuchInbox, got %v", err)
	}
}

func TestInboxOrderPreservedAndMarkRead(t *testing.T) {
	root := t.TempDir()
	CreateTeam(root, "alpha")
	AddMember(root, "alpha", Member{AgentName: "bob", Role: "worker", Status: MemberIdle})

	for _, subj := range []string{"one", "two", "three"} {
		if err := SendMessage(root, "alpha", "root", "bob", subj, "body-"+subj); err != nil {
			t.Fatalf("SendMessage(%s): %v", subj, err)
		}
	}

	unread, err := CheckInbox(root, "alpha", "bob", false)
	if err != nil {
		t.Fatalf("CheckInbox: %v", err)
	}
	if len(unread) != 3 {
		t.Fatalf("expected 3 unread envelopes, got %d", len(unread))
	}
	order := []string{unread[0].Subject, unread[1].Subject, unread[2].Subject}
	want := []string{"one", "two", "three"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("inbox order = %v, want %v", order, want)
		}
	}

	if _, err := CheckInbox(root, "alpha", "bob", true); err != nil {
		t.Fatalf("CheckInbox(markRead): %v", err)
	}
	unreadAfter, err := CheckInbox(root, "alpha", "bob", false)
	if err != nil {
		t.Fatalf("CheckInbox after mark-read: %v", err)
	}
	if len(unreadAfter) != 0 {
		t.Fatalf("expected 0 unread after mark-read, got %d", len(unreadAfter))
	}
}

func TestStaggerIncreasesWithinWindow(t *testing.T) {
	s := NewStagger()
	base := time.Now()
	d1 := s.Next(base)
	d2 := s.Next(base.Add(100 * time.Millisecond))
	d3 := s.Next(base.Add(200 * time.Millisecond))
	if !(d1 < d2 && d2 < d3) {
		t.Fatalf("expected increasing delays within a window, got %v %v %v", d1, d2, d3)
	}

	// A spawn after the window has elapsed resets to the base delay.
	d4 := s.Next(base.Add(2 * time.Second))
	if d4 != staggerStep {
		t.Fatalf("expected reset to base delay %v after window elapses, got %v", staggerStep, d4)
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Fatalf("expected no identity on a bare context")
	}
	ctx = WithIdentity(ctx, Identity{Team: "alpha", Agent: "bob"})
	id, ok := FromContext(ctx)
	if !ok || id.Team != "alpha" || id.Agent != "bob" {
		t.Fatalf("FromContext = %+v, %v, want alpha/bob true", id, ok)
	}
}
