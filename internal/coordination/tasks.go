package coordination

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
)

// CreateTask atomically bumps the team's counter.json under its
// sidecar lockfile (read-modify-write, per spec.md §3) and writes
// tasks/<team>/<id>.json. Returns the newly allocated Task.
func CreateTask(root, team, title, description, assignee string) (*Task, error) {
	if _, err := GetTeam(root, team); err != nil {
		return nil, err
	}

	var task Task
	cPath := counterPath(root, team)
	err := withLock(cPath, func() error {
		var c counter
		if err := readJSON(cPath, &c); err != nil && !os.IsNotExist(err) {
			return err
		}
		c.Next++ // counter.json starts absent => c.Next zero-valued => first id is 1

		now := time.Now()
		task = Task{
			ID:          c.Next,
			Title:       title,
			Description: description,
			Assignee:    assignee,
			Status:      TaskPending,
			Created:     now,
			Updated:     now,
		}

		if err := writeAtomic(taskPath(root, team, task.ID), task); err != nil {
			return err
		}
		return writeAtomic(cPath, c)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("team", team).Int("task_id", task.ID).Msg("coordination: task created")
	return &task, nil
}

// GetTask loads one task by id.
func GetTask(root, team string, id int) (*Task, error) {
	var task Task
	if err := readJSON(taskPath(root, team, id), &task); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: task %d", ErrNoSuchTask, id)
		}
		return nil, err
	}
	return &task, nil
}

// ListTasks returns every task for a team, optionally filtered by
// status, ordered by id ascending.
func ListTasks(root, team string, status TaskStatus) ([]Task, error) {
	dir := tasksDir(root, team)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var tasks []Task
	for _, e := range entries {
		if e.IsDir() || e.Name() == "counter.json" || e.Name() == "counter.json.lock" {
			continue
		}
		var t Task
		if err := readJSON(dir+"/"+e.Name(), &t); err != nil {
			// Readers tolerate a file momentarily vanishing during rename.
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// UpdateTask reads the task, patches the given fields, and rewrites it
// via temp-file + atomic rename. Applying the same fields twice is
// idempotent: the second call patches identical values and only the
// Updated timestamp moves.
func UpdateTask(root, team string, id int, fields TaskFields) (*Task, error) {
	path := taskPath(root, team, id)
	var task Task
	err := withLock(path, func() error {
		if err := readJSON(path, &task); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("%w: task %d", ErrNoSuchTask, id)
			}
			return err
		}
		fields.apply(&task)
		task.Updated = time.Now()
		return writeAtomic(path, task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}
