package server

import (
	"time"

	"todoline/internal/domain"
	"todoline/internal/list"
)

// Request payloads

type CreateTaskRequest struct {
	Label       string `json:"label" minLength:"1" maxLength:"100" example:"Buy milk"`
	Description string `json:"description,omitempty" maxLength:"1000"`
	Position    string `json:"position,omitempty" enum:"prepend,append" doc:"Where to insert the task; defaults to the configured list.insert"`
}

type UpdateTaskRequest struct {
	Label       *string `json:"label,omitempty" maxLength:"100"`
	Description *string `json:"description,omitempty" maxLength:"1000"`
	Completed   *bool   `json:"completed,omitempty"`
}

func (r UpdateTaskRequest) patch() domain.TaskPatch {
	return domain.TaskPatch{Label: r.Label, Description: r.Description, Completed: r.Completed}
}

type MoveTaskRequest struct {
	To    string `json:"to,omitempty" enum:"top,bottom,up,down"`
	Index *int   `json:"index,omitempty" minimum:"0" doc:"0-based position within the task's group"`
}

type DeleteTasksRequest struct {
	IDs []string `json:"ids" minItems:"1"`
}

// Response payloads

type TaskGroupsResponse struct {
	Active    []domain.Task `json:"active"`
	Completed []domain.Task `json:"completed"`
}

type TaskListResponse struct {
	Items   []domain.Task      `json:"items"`
	Groups  TaskGroupsResponse `json:"groups"`
	CanUndo bool               `json:"can_undo"`
	CanRedo bool               `json:"can_redo"`
}

// MutationResponse reports the outcome of a change. Unknown ids are not an
// error: they yield changed=false.
type MutationResponse struct {
	Changed bool         `json:"changed"`
	Count   int          `json:"count,omitempty"`
	Task    *domain.Task `json:"task,omitempty"`
}

type SnapshotResponse struct {
	ID        string        `json:"id"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
	Current   bool          `json:"current"`
	Tasks     []domain.Task `json:"tasks"`
}

type HistoryResponse struct {
	Items   []SnapshotResponse `json:"items"`
	Index   int                `json:"index"`
	CanUndo bool               `json:"can_undo"`
	CanRedo bool               `json:"can_redo"`
}

type ImportResponse struct {
	Mode     string `json:"mode"`
	Imported int    `json:"imported"`
}

func snapshotResponses(snaps []list.Snapshot[domain.Task], index int) []SnapshotResponse {
	out := make([]SnapshotResponse, 0, len(snaps))
	for i, s := range snaps {
		tasks := s.Value
		if tasks == nil {
			tasks = []domain.Task{}
		}
		out = append(out, SnapshotResponse{
			ID:        s.ID,
			Message:   s.Message,
			CreatedAt: s.CreatedAt,
			Current:   i == index,
			Tasks:     tasks,
		})
	}
	return out
}

func nonNil(tasks []domain.Task) []domain.Task {
	if tasks == nil {
		return []domain.Task{}
	}
	return tasks
}
