package coordination

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// CreateTeam creates teams/<team>/config.json with an empty member
// list. Fails with ErrAlreadyExists if the team already exists.
func CreateTeam(root, name string) (*Team, error) {
	path := teamConfigPath(root, name)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: team %q", ErrAlreadyExists, name)
	}

	team := &Team{Name: name, Members: []Member{}, Created: time.Now()}
	if err := writeAtomic(path, team); err != nil {
		return nil, err
	}
	log.Info().Str("team", name).Msg("coordination: team created")
	return team, nil
}

// GetTeam loads a team's config, returning ErrNoSuchTeam if absent.
func GetTeam(root, name string) (*Team, error) {
	var team Team
	if err := readJSON(teamConfigPath(root, name), &team); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: team %q", ErrNoSuchTeam, name)
		}
		return nil, err
	}
	return &team, nil
}

// DeleteTeam recursively deletes teams/<team>/ and tasks/<team>/.
func DeleteTeam(root, name string) error {
	if _, err := GetTeam(root, name); err != nil {
		return err
	}
	if err := os.RemoveAll(teamDir(root, name)); err != nil {
		return fmt.Errorf("coordination: delete team dir: %w", err)
	}
	if err := os.RemoveAll(tasksDir(root, name)); err != nil {
		return fmt.Errorf("coordination: delete tasks dir: %w", err)
	}
	log.Info().Str("team", name).Msg("coordination: team deleted")
	return nil
}

// AddMember records a new roster entry (or updates the status of an
// existing one) and creates that member's empty inbox file. No lock is
// taken on config.json. spawn_agent calls AddMember when the tool call
// is handled, before the Nth-spawn staggering delay (see spawn.go), so
// the staggering delays only the launch and does not order these writes.
func AddMember(root, teamName string, member Member) error {
	team, err := GetTeam(root, teamName)
	if err != nil {
		return err
	}

	replaced := false
	for i, m := range team.Members {
		if m.AgentName == member.AgentName {
			team.Members[i] = member
			replaced = true
			break
		}
	}
	if !replaced {
		team.Members = append(team.Members, member)
	}

	if err := writeAtomic(teamConfigPath(root, teamName), team); err != nil {
		return err
	}
	return ensureInbox(root, teamName, member.AgentName)
}

// IsMember reports whether agent belongs to team.
func IsMember(root, teamName, agent string) bool {
	team, err := GetTeam(root, teamName)
	if err != nil {
		return false
	}
	for _, m := range team.Members {
		if m.AgentName == agent {
			return true
		}
	}
	return false
}

func ensureInbox(root, team, agent string) error {
	path := inboxPath(root, team, agent)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return writeAtomic(path, inbox{Envelopes: []Envelope{}})
}
