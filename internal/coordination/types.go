// Package coordination implements the file-backed substrate multiple
// concurrent agent loops use to cooperate: named teams, per-agent
// inboxes, and monotonically-identified task boards, all persisted as
// plain JSON files under a root directory (spec.md §3/§4.6). No teacher
// file implements this — the teacher persists everything to a single
// SQLite database — so this package is a fresh construction in the
// teacher's idiom: the atomic write-temp-fsync-rename discipline and
// busy-retry-with-backoff pattern generalized from
// internal/store/session.go's transactional writes, now expressed over
// loose files with github.com/gofrs/flock sidecar locks in place of
// SQL transactions.
package coordination

import "time"

// MemberStatus is a team member's current activity state.
type MemberStatus string

const (
	MemberIdle    MemberStatus = "idle"
	MemberActive  MemberStatus = "active"
	MemberStopped MemberStatus = "stopped"
)

// Member is one agent's entry in a Team's roster.
type Member struct {
	AgentName string       `json:"agent_name"`
	Role      string       `json:"role"`
	Status    MemberStatus `json:"status"`
}

// Team is the persisted shape of <root>/teams/<team>/config.json.
type Team struct {
	Name    string    `json:"name"`
	Members []Member  `json:"members"`
	Created time.Time `json:"created"`
}

// Envelope is one message in an agent's inbox file, appended in send
// order and never reordered.
type Envelope struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
}

// inbox is the persisted shape of one agent's inbox file: an ordered
// array of envelopes, append-only except for the read-flag rewrite
// check_inbox(mark_read=true) performs.
type inbox struct {
	Envelopes []Envelope `json:"envelopes"`
}

// TaskStatus is a Task's lifecycle state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskBlocked    TaskStatus = "blocked"
)

// Task is the persisted shape of <root>/tasks/<team>/<id>.json.
type Task struct {
	ID          int        `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Assignee    string     `json:"assignee"`
	Status      TaskStatus `json:"status"`
	Created     time.Time  `json:"created"`
	Updated     time.Time  `json:"updated"`
}

// counter is the persisted shape of <root>/tasks/<team>/counter.json,
// the monotonic per-team task-id allocator.
type counter struct {
	Next int `json:"next"`
}

// TaskFields patches a subset of a Task's mutable fields; nil fields
// are left unchanged, matching task_update's
// partial-patch contract in spec.md §4.6.
type TaskFields struct {
	Title       *string
	Description *string
	Assignee    *string
	Status      *TaskStatus
}

func (f TaskFields) apply(t *Task) {
	if f.Title != nil {
		t.Title = *f.Title
	}
	if f.Description != nil {
		t.Description = *f.Description
	}
	if f.Assignee != nil {
		t.Assignee = *f.Assignee
	}
	if f.Status != nil {
		t.Status = *f.Status
	}
}
