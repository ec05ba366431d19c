package coordination

import "errors"

// Sentinel errors for each coordination failure mode spec.md §7's
// CoordinationConflict error kind names: lockfile timeout, duplicate
// team name, missing inbox/team/task.
var (
	ErrAlreadyExists = errors.New("coordination: already exists")
	ErrNoSuchTeam    = errors.New("coordination: no such team")
	ErrNoSuchInbox   = errors.New("coordination: no such inbox")
	ErrNoSuchTask    = errors.New("coordination: no such task")
	ErrLockTimeout   = errors.New("coordination: lock acquisition timed out")
	ErrNoIdentity    = errors.New("coordination: caller has no team identity")
)
