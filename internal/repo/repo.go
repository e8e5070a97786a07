package repo

import (
	"errors"
	"fmt"
	"slices"

	"taskline/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type cloner[T any] interface {
	Clone() T
}

// table keeps one entity variant keyed by id, remembering insertion order.
type table[T cloner[T]] struct {
	rows  map[int]*T
	order []int
}

func newTable[T cloner[T]]() table[T] {
	return table[T]{rows: make(map[int]*T)}
}

func (t *table[T]) get(id int) (*T, bool) {
	row, ok := t.rows[id]
	return row, ok
}

func (t *table[T]) put(id int, row *T) {
	t.rows[id] = row
	t.order = append(t.order, id)
}

func (t *table[T]) remove(id int) (*T, bool) {
	row, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	delete(t.rows, id)
	if i := slices.Index(t.order, id); i >= 0 {
		t.order = slices.Delete(t.order, i, i+1)
	}
	return row, true
}

func (t *table[T]) list() []T {
	out := make([]T, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, (*t.rows[id]).Clone())
	}
	return out
}

func (t *table[T]) ids() []int {
	return slices.Clone(t.order)
}

func (t *table[T]) clear() {
	t.rows = make(map[int]*T)
	t.order = nil
}

// Repo is the in-memory entity store. Ids are unique across tasks, epics and
// subtasks and come from one counter. Repo does no locking; the engine holds
// a lock around every call.
type Repo struct {
	seq      int
	tasks    table[domain.Task]
	epics    table[domain.Epic]
	subtasks table[domain.Subtask]
}

// New returns an empty store whose first assigned id is seed+1.
func New(seed int) *Repo {
	if seed < 0 {
		seed = 0
	}
	return &Repo{
		seq:      seed,
		tasks:    newTable[domain.Task](),
		epics:    newTable[domain.Epic](),
		subtasks: newTable[domain.Subtask](),
	}
}

// NextID reserves the next id.
func (r *Repo) NextID() int {
	r.seq++
	return r.seq
}

// Seq returns the last id handed out or observed.
func (r *Repo) Seq() int {
	return r.seq
}

func (r *Repo) observe(id int) {
	if id > r.seq {
		r.seq = id
	}
}

// Exists reports whether any variant holds id.
func (r *Repo) Exists(id int) bool {
	_, k := r.KindOf(id)
	return k
}

// KindOf returns the variant stored under id.
func (r *Repo) KindOf(id int) (domain.Kind, bool) {
	if _, ok := r.tasks.get(id); ok {
		return domain.KindTask, true
	}
	if _, ok := r.epics.get(id); ok {
		return domain.KindEpic, true
	}
	if _, ok := r.subtasks.get(id); ok {
		return domain.KindSubtask, true
	}
	return "", false
}

func (r *Repo) checkFree(id int) error {
	if id <= 0 {
		return fmt.Errorf("id %d must be assigned before insert", id)
	}
	if k, ok := r.KindOf(id); ok {
		return fmt.Errorf("%s %d: %w", kindLabel(k), id, ErrAlreadyExists)
	}
	return nil
}

// InsertTask stores t under its id. The id must already be assigned.
func (r *Repo) InsertTask(t domain.Task) (*domain.Task, error) {
	if err := r.checkFree(t.ID); err != nil {
		return nil, err
	}
	row := t.Clone()
	r.tasks.put(t.ID, &row)
	r.observe(t.ID)
	return &row, nil
}

func (r *Repo) InsertEpic(e domain.Epic) (*domain.Epic, error) {
	if err := r.checkFree(e.ID); err != nil {
		return nil, err
	}
	row := e.Clone()
	r.epics.put(e.ID, &row)
	r.observe(e.ID)
	return &row, nil
}

// InsertSubtask stores s and appends it to its epic's child list.
func (r *Repo) InsertSubtask(s domain.Subtask) (*domain.Subtask, error) {
	if err := r.checkFree(s.ID); err != nil {
		return nil, err
	}
	epic, ok := r.epics.get(s.EpicID)
	if !ok {
		return nil, fmt.Errorf("epic %d: %w", s.EpicID, ErrNotFound)
	}
	row := s.Clone()
	r.subtasks.put(s.ID, &row)
	if !slices.Contains(epic.SubtaskIDs, s.ID) {
		epic.SubtaskIDs = append(epic.SubtaskIDs, s.ID)
	}
	r.observe(s.ID)
	return &row, nil
}

// GetTask returns the stored record. Callers must not retain it past the
// lock that guards the store.
func (r *Repo) GetTask(id int) (*domain.Task, error) {
	if t, ok := r.tasks.get(id); ok {
		return t, nil
	}
	return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
}

func (r *Repo) GetEpic(id int) (*domain.Epic, error) {
	if e, ok := r.epics.get(id); ok {
		return e, nil
	}
	return nil, fmt.Errorf("epic %d: %w", id, ErrNotFound)
}

func (r *Repo) GetSubtask(id int) (*domain.Subtask, error) {
	if s, ok := r.subtasks.get(id); ok {
		return s, nil
	}
	return nil, fmt.Errorf("subtask %d: %w", id, ErrNotFound)
}

// UpdateTask copies the mutable fields of t onto the stored record and
// returns it.
func (r *Repo) UpdateTask(t domain.Task) (*domain.Task, error) {
	saved, err := r.GetTask(t.ID)
	if err != nil {
		return nil, err
	}
	saved.Name = t.Name
	saved.Description = t.Description
	saved.Status = t.Status
	saved.Schedule = t.Clone().Schedule
	return saved, nil
}

// UpdateEpic copies name and description only.
func (r *Repo) UpdateEpic(e domain.Epic) (*domain.Epic, error) {
	saved, err := r.GetEpic(e.ID)
	if err != nil {
		return nil, err
	}
	saved.Name = e.Name
	saved.Description = e.Description
	return saved, nil
}

// UpdateSubtask copies name, description, status and schedule. The owning
// epic never changes.
func (r *Repo) UpdateSubtask(s domain.Subtask) (*domain.Subtask, error) {
	saved, err := r.GetSubtask(s.ID)
	if err != nil {
		return nil, err
	}
	saved.Name = s.Name
	saved.Description = s.Description
	saved.Status = s.Status
	saved.Schedule = s.Clone().Schedule
	return saved, nil
}

func (r *Repo) DeleteTask(id int) (domain.Task, error) {
	t, ok := r.tasks.remove(id)
	if !ok {
		return domain.Task{}, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return *t, nil
}

// DeleteEpic removes the epic and every subtask it owns. The removed
// subtasks are returned in child order.
func (r *Repo) DeleteEpic(id int) (domain.Epic, []domain.Subtask, error) {
	e, ok := r.epics.remove(id)
	if !ok {
		return domain.Epic{}, nil, fmt.Errorf("epic %d: %w", id, ErrNotFound)
	}
	removed := make([]domain.Subtask, 0, len(e.SubtaskIDs))
	for _, sid := range e.SubtaskIDs {
		if s, ok := r.subtasks.remove(sid); ok {
			removed = append(removed, *s)
		}
	}
	return *e, removed, nil
}

// DeleteSubtask removes the subtask and unlinks it from its epic.
func (r *Repo) DeleteSubtask(id int) (domain.Subtask, error) {
	s, ok := r.subtasks.remove(id)
	if !ok {
		return domain.Subtask{}, fmt.Errorf("subtask %d: %w", id, ErrNotFound)
	}
	if e, ok := r.epics.get(s.EpicID); ok {
		if i := slices.Index(e.SubtaskIDs, id); i >= 0 {
			e.SubtaskIDs = slices.Delete(e.SubtaskIDs, i, i+1)
		}
	}
	return *s, nil
}

// ListTasks returns copies in insertion order.
func (r *Repo) ListTasks() []domain.Task       { return r.tasks.list() }
func (r *Repo) ListEpics() []domain.Epic       { return r.epics.list() }
func (r *Repo) ListSubtasks() []domain.Subtask { return r.subtasks.list() }

func (r *Repo) TaskIDs() []int    { return r.tasks.ids() }
func (r *Repo) EpicIDs() []int    { return r.epics.ids() }
func (r *Repo) SubtaskIDs() []int { return r.subtasks.ids() }

// Subtasks returns the subtasks of an epic in its stored child order.
func (r *Repo) Subtasks(epicID int) ([]domain.Subtask, error) {
	e, err := r.GetEpic(epicID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Subtask, 0, len(e.SubtaskIDs))
	for _, sid := range e.SubtaskIDs {
		s, ok := r.subtasks.get(sid)
		if !ok {
			return nil, fmt.Errorf("epic %d lists subtask %d: %w", epicID, sid, ErrNotFound)
		}
		out = append(out, s.Clone())
	}
	return out, nil
}

func (r *Repo) ClearTasks() {
	r.tasks.clear()
}

// ClearEpics removes all epics and, with them, all subtasks.
func (r *Repo) ClearEpics() {
	r.epics.clear()
	r.subtasks.clear()
}

// ClearSubtasks removes all subtasks and empties every epic's child list.
func (r *Repo) ClearSubtasks() {
	r.subtasks.clear()
	for _, id := range r.epics.order {
		r.epics.rows[id].SubtaskIDs = []int{}
	}
}

func kindLabel(k domain.Kind) string {
	switch k {
	case domain.KindEpic:
		return "epic"
	case domain.KindSubtask:
		return "subtask"
	default:
		return "task"
	}
}
