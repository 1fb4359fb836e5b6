package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task status values.
const (
	TaskStatusPending = "pending"
	TaskStatusDone    = "done"
)

// SaveProjectTasks persists an accepted plan's tasks for a project in
// one transaction, replacing any pending tasks already recorded.
func (s *Store) SaveProjectTasks(ctx context.Context, projectID string, tasks []TaskRecord) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(
		`DELETE FROM project_tasks WHERE project_id = ? AND status = ?`),
		projectID, TaskStatusPending); err != nil {
		return fmt.Errorf("failed to clear pending tasks: %w", err)
	}

	now := time.Now().UTC()
	for _, task := range tasks {
		dependsJSON, err := json.Marshal(task.DependsOn)
		if err != nil {
			return fmt.Errorf("failed to encode dependencies: %w", err)
		}
		id := task.ID
		if id == "" {
			id = uuid.New().String()
		}
		status := task.Status
		if status == "" {
			status = TaskStatusPending
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`
INSERT INTO project_tasks (id, project_id, task_type, description, agent_name, depends_on, scope, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			id, projectID, task.TaskType, task.Description, task.AgentName,
			string(dependsJSON), task.Scope, status, now); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tasks: %w", err)
	}
	return nil
}

// ListProjectTasks returns a project's tasks oldest first.
func (s *Store) ListProjectTasks(ctx context.Context, projectID string) ([]TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT id, project_id, task_type, description, agent_name, depends_on, scope, status, created_at
FROM project_tasks WHERE project_id = ? ORDER BY created_at`),
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]TaskRecord, 0)
	for rows.Next() {
		var t TaskRecord
		var dependsJSON string
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.TaskType, &t.Description,
			&t.AgentName, &dependsJSON, &t.Scope, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		if dependsJSON != "" {
			if err := json.Unmarshal([]byte(dependsJSON), &t.DependsOn); err != nil {
				return nil, fmt.Errorf("failed to decode dependencies: %w", err)
			}
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
