package coordination

import (
	"fmt"
	"os"
	"time"
)

// SendMessage appends an envelope to the recipient's inbox file under
// its sidecar lock. Fails with ErrNoSuchInbox if the recipient is not a
// team member (no inbox file was ever created for it).
func SendMessage(root, team, from, to, subject, body string) error {
	if !IsMember(root, team, to) {
		return fmt.Errorf("%w: %q is not a member of team %q", ErrNoSuchInbox, to, team)
	}

	path := inboxPath(root, team, to)
	return withLock(path, func() error {
		var box inbox
		if err := readJSON(path, &box); err != nil && !os.IsNotExist(err) {
			return err
		}
		box.Envelopes = append(box.Envelopes, Envelope{
			From: from, To: to, Timestamp: time.Now(),
			Subject: subject, Body: body, Read: false,
		})
		return writeAtomic(path, box)
	})
}

// CheckInbox returns the unread envelopes for agent. If markRead is
// true, those entries are flipped to read and the inbox is rewritten
// under the same sidecar lock SendMessage uses, closing the race
// spec.md §9 flags between a concurrent send and a mark-read rewrite.
func CheckInbox(root, team, agent string, markRead bool) ([]Envelope, error) {
	path := inboxPath(root, team, agent)

	var unread []Envelope
	err := withLock(path, func() error {
		var box inbox
		if err := readJSON(path, &box); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: %q has no inbox in team %q", ErrNoSuchInbox, agent, team)
			}
			return err
		}

		for i, env := range box.Envelopes {
			if !env.Read {
				unread = append(unread, env)
				if markRead {
					box.Envelopes[i].Read = true
				}
			}
		}

		if !markRead {
			return nil
		}
		return writeAtomic(path, box)
	})
	if err != nil {
		return nil, err
	}
	return unread, nil
}
