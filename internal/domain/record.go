package domain

import (
	"errors"
	"fmt"
	"time"
)

// RecordHeader is the column order of the flat record.
var RecordHeader = []string{"id", "type", "name", "status", "description", "epic", "duration", "startTime"}

// Record is the flat field form of any entity. EpicID is 0 for tasks and
// epics; Start is nil when the entity has no schedule.
type Record struct {
	ID          int        `json:"id"`
	Type        Kind       `json:"type" enum:"TASK,EPIC,SUBTASK"`
	Name        string     `json:"name"`
	Status      Status     `json:"status" enum:"NEW,IN_PROGRESS,DONE"`
	Description string     `json:"description,omitempty"`
	EpicID      int        `json:"epic"`
	Minutes     int        `json:"duration"`
	Start       *time.Time `json:"start_time,omitempty"`
}

func ToRecord(e Entity) Record {
	switch v := e.(type) {
	case Task:
		r := Record{ID: v.ID, Type: KindTask, Name: v.Name, Status: v.Status, Description: v.Description}
		r.setSchedule(v.Schedule)
		return r
	case Subtask:
		r := Record{ID: v.ID, Type: KindSubtask, Name: v.Name, Status: v.Status, Description: v.Description, EpicID: v.EpicID}
		r.setSchedule(v.Schedule)
		return r
	case Epic:
		r := Record{ID: v.ID, Type: KindEpic, Name: v.Name, Status: v.Status, Description: v.Description}
		if v.Span != nil {
			start := v.Span.Start
			r.Start = &start
			r.Minutes = v.Span.Minutes
		}
		return r
	}
	panic(fmt.Sprintf("domain: unexpected entity %T", e))
}

func (r *Record) setSchedule(s *Schedule) {
	if s == nil {
		return
	}
	start := s.Start
	r.Start = &start
	r.Minutes = s.Minutes
}

func (r Record) schedule() *Schedule {
	if r.Start == nil {
		return nil
	}
	return &Schedule{Start: *r.Start, Minutes: r.Minutes}
}

// Entity converts the record back. Epic status and span are not restored
// from the record; they are derived again once subtasks are attached.
func (r Record) Entity() (Entity, error) {
	if r.ID <= 0 {
		return nil, fmt.Errorf("record id %d must be positive", r.ID)
	}
	if r.Minutes < 0 {
		return nil, fmt.Errorf("record %d: negative duration", r.ID)
	}
	switch r.Type {
	case KindTask:
		st, err := ParseStatus(string(r.Status))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
		return Task{ID: r.ID, Name: r.Name, Description: r.Description, Status: st, Schedule: r.schedule()}, nil
	case KindSubtask:
		if r.EpicID <= 0 {
			return nil, fmt.Errorf("record %d: subtask without epic", r.ID)
		}
		st, err := ParseStatus(string(r.Status))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", r.ID, err)
		}
		return Subtask{ID: r.ID, EpicID: r.EpicID, Name: r.Name, Description: r.Description, Status: st, Schedule: r.schedule()}, nil
	case KindEpic:
		return Epic{ID: r.ID, Name: r.Name, Description: r.Description, Status: StatusNew, SubtaskIDs: []int{}}, nil
	case "":
		return nil, errors.New("record type is empty")
	}
	return nil, fmt.Errorf("record %d: unknown type %q", r.ID, r.Type)
}
