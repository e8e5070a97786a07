package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type Kind string

const (
	KindTask    Kind = "TASK"
	KindEpic    Kind = "EPIC"
	KindSubtask Kind = "SUBTASK"
)

// ParseKind accepts the upper-case tag used in files and the API.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToUpper(strings.TrimSpace(s))); k {
	case KindTask, KindEpic, KindSubtask:
		return k, nil
	}
	return "", fmt.Errorf("unknown task type %q", s)
}

type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(strings.ToUpper(strings.TrimSpace(s))); st {
	case StatusNew, StatusInProgress, StatusDone:
		return st, nil
	}
	return "", fmt.Errorf("invalid status %q", s)
}

// Schedule is a half-open window [Start, Start+Minutes).
type Schedule struct {
	Start   time.Time `json:"start_time"`
	Minutes int       `json:"duration" minimum:"0"`
}

func (s Schedule) Duration() time.Duration {
	return time.Duration(s.Minutes) * time.Minute
}

func (s Schedule) End() time.Time {
	return s.Start.Add(s.Duration())
}

// Overlaps reports whether the two windows intersect. Windows that only touch
// at a boundary do not overlap.
func (s Schedule) Overlaps(o Schedule) bool {
	return s.Start.Before(o.End()) && o.Start.Before(s.End())
}

// Span is the time span derived for an epic. Minutes is the summed work of
// all subtasks while End is the latest subtask end; the two are independent
// because subtasks need not be contiguous.
type Span struct {
	Start   time.Time `json:"start_time"`
	Minutes int       `json:"duration"`
	End     time.Time `json:"end_time"`
}

type Task struct {
	ID          int       `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status" enum:"NEW,IN_PROGRESS,DONE"`
	Schedule    *Schedule `json:"schedule,omitempty"`
}

func (t Task) Clone() Task {
	t.Schedule = cloneSchedule(t.Schedule)
	return t
}

type Subtask struct {
	ID          int       `json:"id"`
	EpicID      int       `json:"epic_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status" enum:"NEW,IN_PROGRESS,DONE"`
	Schedule    *Schedule `json:"schedule,omitempty"`
}

func (s Subtask) Clone() Subtask {
	s.Schedule = cloneSchedule(s.Schedule)
	return s
}

// Epic status and span are always derived from its subtasks.
type Epic struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Status      Status `json:"status" enum:"NEW,IN_PROGRESS,DONE"`
	Span        *Span  `json:"span,omitempty"`
	SubtaskIDs  []int  `json:"subtask_ids"`
}

func (e Epic) Clone() Epic {
	if e.Span != nil {
		span := *e.Span
		e.Span = &span
	}
	e.SubtaskIDs = slices.Clone(e.SubtaskIDs)
	if e.SubtaskIDs == nil {
		e.SubtaskIDs = []int{}
	}
	return e
}

func cloneSchedule(s *Schedule) *Schedule {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Entity is implemented by Task, Epic and Subtask only.
type Entity interface {
	EntityID() int
	Kind() Kind
	isEntity()
}

func (t Task) EntityID() int    { return t.ID }
func (e Epic) EntityID() int    { return e.ID }
func (s Subtask) EntityID() int { return s.ID }

func (Task) Kind() Kind    { return KindTask }
func (Epic) Kind() Kind    { return KindEpic }
func (Subtask) Kind() Kind { return KindSubtask }

func (Task) isEntity()    {}
func (Epic) isEntity()    {}
func (Subtask) isEntity() {}

// Ref identifies a stored entity without holding it.
type Ref struct {
	ID   int
	Kind Kind
}

func RefOf(e Entity) Ref {
	return Ref{ID: e.EntityID(), Kind: e.Kind()}
}

// Mutation describes a committed change, handed to persistence sinks.
type Mutation struct {
	Type     string `json:"type"`
	Kind     Kind   `json:"kind,omitempty"`
	EntityID int    `json:"entity_id,omitempty"`
}
