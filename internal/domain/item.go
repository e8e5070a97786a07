package domain

// Item is the tagged wire form used where kinds are mixed, such as the
// history and prioritized listings.
type Item struct {
	Type        Kind      `json:"type" enum:"TASK,EPIC,SUBTASK"`
	ID          int       `json:"id"`
	EpicID      int       `json:"epic_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status" enum:"NEW,IN_PROGRESS,DONE"`
	Schedule    *Schedule `json:"schedule,omitempty"`
	Span        *Span     `json:"span,omitempty"`
	SubtaskIDs  []int     `json:"subtask_ids,omitempty"`
}

func ItemOf(e Entity) Item {
	switch v := e.(type) {
	case Task:
		return Item{Type: KindTask, ID: v.ID, Name: v.Name, Description: v.Description, Status: v.Status, Schedule: v.Schedule}
	case Subtask:
		return Item{Type: KindSubtask, ID: v.ID, EpicID: v.EpicID, Name: v.Name, Description: v.Description, Status: v.Status, Schedule: v.Schedule}
	case Epic:
		return Item{Type: KindEpic, ID: v.ID, Name: v.Name, Description: v.Description, Status: v.Status, Span: v.Span, SubtaskIDs: v.SubtaskIDs}
	}
	return Item{}
}

func Items(es []Entity) []Item {
	out := make([]Item, 0, len(es))
	for _, e := range es {
		out = append(out, ItemOf(e))
	}
	return out
}

// Entity returns the concrete value, or nil for an unknown type.
func (it Item) Entity() Entity {
	switch it.Type {
	case KindTask:
		return Task{ID: it.ID, Name: it.Name, Description: it.Description, Status: it.Status, Schedule: it.Schedule}
	case KindSubtask:
		return Subtask{ID: it.ID, EpicID: it.EpicID, Name: it.Name, Description: it.Description, Status: it.Status, Schedule: it.Schedule}
	case KindEpic:
		ids := it.SubtaskIDs
		if ids == nil {
			ids = []int{}
		}
		return Epic{ID: it.ID, Name: it.Name, Description: it.Description, Status: it.Status, Span: it.Span, SubtaskIDs: ids}
	}
	return nil
}
