package server

import (
	"taskline/internal/domain"
	"taskline/internal/events"
)

// Request payloads. A zero or missing id creates; any other id updates.

type TaskRequest struct {
	ID          int              `json:"id,omitempty" minimum:"0"`
	Name        string           `json:"name" minLength:"1"`
	Description string           `json:"description,omitempty"`
	Status      domain.Status    `json:"status,omitempty" enum:"NEW,IN_PROGRESS,DONE"`
	Schedule    *domain.Schedule `json:"schedule,omitempty"`
}

func (r TaskRequest) task() domain.Task {
	return domain.Task{ID: r.ID, Name: r.Name, Description: r.Description, Status: r.Status, Schedule: r.Schedule}
}

type SubtaskRequest struct {
	ID          int              `json:"id,omitempty" minimum:"0"`
	EpicID      int              `json:"epic_id" minimum:"1"`
	Name        string           `json:"name" minLength:"1"`
	Description string           `json:"description,omitempty"`
	Status      domain.Status    `json:"status,omitempty" enum:"NEW,IN_PROGRESS,DONE"`
	Schedule    *domain.Schedule `json:"schedule,omitempty"`
}

func (r SubtaskRequest) subtask() domain.Subtask {
	return domain.Subtask{ID: r.ID, EpicID: r.EpicID, Name: r.Name, Description: r.Description, Status: r.Status, Schedule: r.Schedule}
}

// EpicRequest carries only the editable fields; status and span are derived.
type EpicRequest struct {
	ID          int    `json:"id,omitempty" minimum:"0"`
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

func (r EpicRequest) epic() domain.Epic {
	return domain.Epic{ID: r.ID, Name: r.Name, Description: r.Description}
}

// Response payloads

type idPath struct {
	ID int `path:"id" minimum:"1"`
}

type taskBody struct {
	Body domain.Task `json:"body"`
}

type taskListBody struct {
	Body []domain.Task `json:"body"`
}

type epicBody struct {
	Body domain.Epic `json:"body"`
}

type epicListBody struct {
	Body []domain.Epic `json:"body"`
}

type subtaskBody struct {
	Body domain.Subtask `json:"body"`
}

type subtaskListBody struct {
	Body []domain.Subtask `json:"body"`
}

type itemListBody struct {
	Body []domain.Item `json:"body"`
}

type eventListBody struct {
	Body []events.Event `json:"body"`
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
