package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"taskline/internal/domain"
	"taskline/internal/history"
	"taskline/internal/repo"
	"taskline/internal/schedule"
)

var (
	ErrScheduleConflict = errors.New("schedule conflict")
	ErrInvalid          = errors.New("invalid input")
)

// Sink mirrors the full record set after every committed mutation.
type Sink interface {
	Save(ctx context.Context, m domain.Mutation, records []domain.Record) error
}

type Options struct {
	// HistoryLimit caps the view history; zero keeps every distinct entity.
	HistoryLimit int
	// IDSeed is the last id considered taken; the first new entity gets IDSeed+1.
	IDSeed int
	Sink   Sink
	Logger *slog.Logger
}

// Engine is the task manager. All methods are safe for concurrent use: a
// single lock makes every validate-then-write sequence atomic.
type Engine struct {
	mu      sync.RWMutex
	opts    Options
	repo    *repo.Repo
	history *history.Tracker[domain.Ref]
	index   *schedule.Index
	logger  *slog.Logger
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		opts:    opts,
		repo:    repo.New(opts.IDSeed),
		history: history.New[domain.Ref](opts.HistoryLimit),
		index:   schedule.New(),
		logger:  logger,
	}
}

func (e *Engine) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID != 0 {
		return domain.Task{}, fmt.Errorf("%w: new task must not carry id %d", ErrInvalid, t.ID)
	}
	if err := normalize(&t.Name, &t.Status, t.Schedule); err != nil {
		return domain.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.checkSchedule(0, t.Schedule); err != nil {
		return domain.Task{}, err
	}
	t.ID = e.repo.NextID()
	saved, err := e.repo.InsertTask(t)
	if err != nil {
		return domain.Task{}, err
	}
	e.indexSchedule(saved.ID, domain.KindTask, saved.Schedule)
	return saved.Clone(), e.persist(ctx, "task.created", domain.KindTask, saved.ID)
}

func (e *Engine) CreateEpic(ctx context.Context, ep domain.Epic) (domain.Epic, error) {
	if ep.ID != 0 {
		return domain.Epic{}, fmt.Errorf("%w: new epic must not carry id %d", ErrInvalid, ep.ID)
	}
	ep.Name = strings.TrimSpace(ep.Name)
	if ep.Name == "" {
		return domain.Epic{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ep.ID = e.repo.NextID()
	ep.SubtaskIDs = nil
	ep.Span = nil
	saved, err := e.repo.InsertEpic(ep)
	if err != nil {
		return domain.Epic{}, err
	}
	e.refreshEpic(saved.ID)
	return saved.Clone(), e.persist(ctx, "epic.created", domain.KindEpic, saved.ID)
}

func (e *Engine) CreateSubtask(ctx context.Context, s domain.Subtask) (domain.Subtask, error) {
	if s.ID != 0 {
		return domain.Subtask{}, fmt.Errorf("%w: new subtask must not carry id %d", ErrInvalid, s.ID)
	}
	if err := normalize(&s.Name, &s.Status, s.Schedule); err != nil {
		return domain.Subtask{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.repo.GetEpic(s.EpicID); err != nil {
		return domain.Subtask{}, err
	}
	if err := e.checkSchedule(0, s.Schedule); err != nil {
		return domain.Subtask{}, err
	}
	s.ID = e.repo.NextID()
	saved, err := e.repo.InsertSubtask(s)
	if err != nil {
		return domain.Subtask{}, err
	}
	e.indexSchedule(saved.ID, domain.KindSubtask, saved.Schedule)
	e.refreshEpic(saved.EpicID)
	return saved.Clone(), e.persist(ctx, "subtask.created", domain.KindSubtask, saved.ID)
}

// GetTask returns the task and records the view in history.
func (e *Engine) GetTask(ctx context.Context, id int) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.repo.GetTask(id)
	if err != nil {
		return domain.Task{}, err
	}
	e.history.Record(id, domain.Ref{ID: id, Kind: domain.KindTask})
	return t.Clone(), nil
}

func (e *Engine) GetEpic(ctx context.Context, id int) (domain.Epic, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ep, err := e.repo.GetEpic(id)
	if err != nil {
		return domain.Epic{}, err
	}
	e.history.Record(id, domain.Ref{ID: id, Kind: domain.KindEpic})
	return ep.Clone(), nil
}

func (e *Engine) GetSubtask(ctx context.Context, id int) (domain.Subtask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.repo.GetSubtask(id)
	if err != nil {
		return domain.Subtask{}, err
	}
	e.history.Record(id, domain.Ref{ID: id, Kind: domain.KindSubtask})
	return s.Clone(), nil
}

// Get looks up an entity of any kind and records the view.
func (e *Engine) Get(ctx context.Context, id int) (domain.Entity, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	kind, ok := e.repo.KindOf(id)
	if !ok {
		return nil, fmt.Errorf("entity %d: %w", id, repo.ErrNotFound)
	}
	ref := domain.Ref{ID: id, Kind: kind}
	ent, _ := e.lookup(ref)
	e.history.Record(id, ref)
	return ent, nil
}

// UpdateTask overwrites name, description, status and schedule. An empty
// status keeps the stored one.
func (e *Engine) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if err := normalizeUpdate(&t.Name, &t.Status, t.Schedule); err != nil {
		return domain.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.repo.GetTask(t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := e.checkSchedule(t.ID, t.Schedule); err != nil {
		return domain.Task{}, err
	}
	if t.Status == "" {
		t.Status = cur.Status
	}
	saved, err := e.repo.UpdateTask(t)
	if err != nil {
		return domain.Task{}, err
	}
	e.indexSchedule(saved.ID, domain.KindTask, saved.Schedule)
	return saved.Clone(), e.persist(ctx, "task.updated", domain.KindTask, saved.ID)
}

// UpdateEpic changes name and description; status and span stay derived.
func (e *Engine) UpdateEpic(ctx context.Context, ep domain.Epic) (domain.Epic, error) {
	ep.Name = strings.TrimSpace(ep.Name)
	if ep.Name == "" {
		return domain.Epic{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	saved, err := e.repo.UpdateEpic(ep)
	if err != nil {
		return domain.Epic{}, err
	}
	return saved.Clone(), e.persist(ctx, "epic.updated", domain.KindEpic, saved.ID)
}

func (e *Engine) UpdateSubtask(ctx context.Context, s domain.Subtask) (domain.Subtask, error) {
	if err := normalizeUpdate(&s.Name, &s.Status, s.Schedule); err != nil {
		return domain.Subtask{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.repo.GetSubtask(s.ID)
	if err != nil {
		return domain.Subtask{}, err
	}
	if err := e.checkSchedule(s.ID, s.Schedule); err != nil {
		return domain.Subtask{}, err
	}
	if s.Status == "" {
		s.Status = cur.Status
	}
	saved, err := e.repo.UpdateSubtask(s)
	if err != nil {
		return domain.Subtask{}, err
	}
	e.indexSchedule(saved.ID, domain.KindSubtask, saved.Schedule)
	e.refreshEpic(saved.EpicID)
	return saved.Clone(), e.persist(ctx, "subtask.updated", domain.KindSubtask, saved.ID)
}

func (e *Engine) DeleteTask(ctx context.Context, id int) (domain.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, err := e.repo.DeleteTask(id)
	if err != nil {
		return domain.Task{}, err
	}
	e.forget(id)
	return t, e.persist(ctx, "task.deleted", domain.KindTask, id)
}

// DeleteEpic removes the epic together with all of its subtasks.
func (e *Engine) DeleteEpic(ctx context.Context, id int) (domain.Epic, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ep, removed, err := e.repo.DeleteEpic(id)
	if err != nil {
		return domain.Epic{}, err
	}
	e.forget(id)
	for _, s := range removed {
		e.forget(s.ID)
	}
	return ep, e.persist(ctx, "epic.deleted", domain.KindEpic, id)
}

func (e *Engine) DeleteSubtask(ctx context.Context, id int) (domain.Subtask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.repo.DeleteSubtask(id)
	if err != nil {
		return domain.Subtask{}, err
	}
	e.forget(id)
	e.refreshEpic(s.EpicID)
	return s, e.persist(ctx, "subtask.deleted", domain.KindSubtask, id)
}

func (e *Engine) ClearTasks(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.repo.TaskIDs() {
		e.forget(id)
	}
	e.repo.ClearTasks()
	return e.persist(ctx, "tasks.cleared", domain.KindTask, 0)
}

// ClearEpics removes every epic and every subtask.
func (e *Engine) ClearEpics(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.repo.EpicIDs() {
		e.forget(id)
	}
	for _, id := range e.repo.SubtaskIDs() {
		e.forget(id)
	}
	e.repo.ClearEpics()
	return e.persist(ctx, "epics.cleared", domain.KindEpic, 0)
}

// ClearSubtasks removes every subtask and resets each epic to its empty state.
func (e *Engine) ClearSubtasks(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, id := range e.repo.SubtaskIDs() {
		e.forget(id)
	}
	e.repo.ClearSubtasks()
	for _, id := range e.repo.EpicIDs() {
		e.refreshEpic(id)
	}
	return e.persist(ctx, "subtasks.cleared", domain.KindSubtask, 0)
}

func (e *Engine) ListTasks(ctx context.Context) []domain.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.ListTasks()
}

func (e *Engine) ListEpics(ctx context.Context) []domain.Epic {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.ListEpics()
}

func (e *Engine) ListSubtasks(ctx context.Context) []domain.Subtask {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.ListSubtasks()
}

// EpicSubtasks returns the epic's subtasks in stored child order.
func (e *Engine) EpicSubtasks(ctx context.Context, epicID int) ([]domain.Subtask, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.repo.Subtasks(epicID)
}

// History returns viewed entities from least to most recently viewed.
func (e *Engine) History(ctx context.Context) []domain.Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	refs := e.history.Snapshot()
	out := make([]domain.Entity, 0, len(refs))
	for _, ref := range refs {
		if ent, ok := e.lookup(ref); ok {
			out = append(out, ent)
		}
	}
	return out
}

// Prioritized returns every scheduled task and subtask ordered by start.
func (e *Engine) Prioritized(ctx context.Context) []domain.Entity {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := e.index.Snapshot()
	out := make([]domain.Entity, 0, len(entries))
	for _, en := range entries {
		if ent, ok := e.lookup(domain.Ref{ID: en.ID, Kind: en.Kind}); ok {
			out = append(out, ent)
		}
	}
	return out
}

// Records returns the flat form of every entity: tasks, then epics, then
// subtasks, each in insertion order.
func (e *Engine) Records(ctx context.Context) []domain.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.records()
}

func (e *Engine) records() []domain.Record {
	var out []domain.Record
	for _, t := range e.repo.ListTasks() {
		out = append(out, domain.ToRecord(t))
	}
	for _, ep := range e.repo.ListEpics() {
		out = append(out, domain.ToRecord(ep))
	}
	for _, s := range e.repo.ListSubtasks() {
		out = append(out, domain.ToRecord(s))
	}
	return out
}

// Restore replaces the whole state with records that carry their own ids,
// as read back from a mirror. Epics and tasks are applied before subtasks.
// Nothing changes unless every record applies; duplicate ids fail with
// repo.ErrAlreadyExists and overlapping schedules with ErrScheduleConflict.
// History starts empty and the id counter resumes after the largest id.
func (e *Engine) Restore(ctx context.Context, records []domain.Record) error {
	r := repo.New(e.opts.IDSeed)
	ix := schedule.New()
	var subtasks []domain.Subtask
	for _, rec := range records {
		ent, err := rec.Entity()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		switch v := ent.(type) {
		case domain.Task:
			if err := restoreSchedule(ix, v.ID, domain.KindTask, v.Schedule); err != nil {
				return err
			}
			if _, err := r.InsertTask(v); err != nil {
				return err
			}
		case domain.Epic:
			if _, err := r.InsertEpic(v); err != nil {
				return err
			}
		case domain.Subtask:
			subtasks = append(subtasks, v)
		}
	}
	for _, s := range subtasks {
		if err := restoreSchedule(ix, s.ID, domain.KindSubtask, s.Schedule); err != nil {
			return err
		}
		if _, err := r.InsertSubtask(s); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.repo = r
	e.index = ix
	e.history.Reset()
	for _, id := range r.EpicIDs() {
		e.refreshEpic(id)
	}
	e.logger.Info("state restored", "records", len(records), "next_id", r.Seq()+1)
	return nil
}

func restoreSchedule(ix *schedule.Index, id int, kind domain.Kind, s *domain.Schedule) error {
	if s == nil {
		return nil
	}
	if _, dup := ix.Get(id); dup {
		return fmt.Errorf("%s %d: %w", strings.ToLower(string(kind)), id, repo.ErrAlreadyExists)
	}
	cand := schedule.Entry{ID: id, Kind: kind, Window: *s}
	if other, ok := ix.Conflict(cand); ok {
		return conflictError(id, other)
	}
	ix.Insert(cand)
	return nil
}

func (e *Engine) checkSchedule(id int, s *domain.Schedule) error {
	if s == nil {
		return nil
	}
	if other, ok := e.index.Conflict(schedule.Entry{ID: id, Window: *s}); ok {
		return conflictError(id, other)
	}
	return nil
}

func conflictError(id int, other schedule.Entry) error {
	if id == 0 {
		return fmt.Errorf("%w: overlaps %s %d", ErrScheduleConflict, strings.ToLower(string(other.Kind)), other.ID)
	}
	return fmt.Errorf("%w: %d overlaps %s %d", ErrScheduleConflict, id, strings.ToLower(string(other.Kind)), other.ID)
}

func (e *Engine) indexSchedule(id int, kind domain.Kind, s *domain.Schedule) {
	if s == nil {
		e.index.Remove(id)
		return
	}
	e.index.Insert(schedule.Entry{ID: id, Kind: kind, Window: *s})
}

func (e *Engine) forget(id int) {
	e.history.Forget(id)
	e.index.Remove(id)
}

// refreshEpic recomputes the derived fields of an epic from its subtasks.
func (e *Engine) refreshEpic(id int) {
	ep, err := e.repo.GetEpic(id)
	if err != nil {
		return
	}
	subs, err := e.repo.Subtasks(id)
	if err != nil {
		e.logger.Error("epic children out of sync", "epic", id, "error", err)
		return
	}
	ep.Status, ep.Span = Aggregate(subs)
}

func (e *Engine) lookup(ref domain.Ref) (domain.Entity, bool) {
	switch ref.Kind {
	case domain.KindTask:
		if t, err := e.repo.GetTask(ref.ID); err == nil {
			return t.Clone(), true
		}
	case domain.KindEpic:
		if ep, err := e.repo.GetEpic(ref.ID); err == nil {
			return ep.Clone(), true
		}
	case domain.KindSubtask:
		if s, err := e.repo.GetSubtask(ref.ID); err == nil {
			return s.Clone(), true
		}
	}
	return nil, false
}

// persist hands the committed state to the sink. The in-memory change stays
// in place when the sink fails; the error is returned to the caller.
func (e *Engine) persist(ctx context.Context, typ string, kind domain.Kind, id int) error {
	if e.opts.Sink == nil {
		return nil
	}
	m := domain.Mutation{Type: typ, Kind: kind, EntityID: id}
	if err := e.opts.Sink.Save(ctx, m, e.records()); err != nil {
		e.logger.Error("mirror save failed", "mutation", typ, "id", id, "error", err)
		return fmt.Errorf("persist %s: %w", typ, err)
	}
	return nil
}

func normalize(name *string, status *domain.Status, s *domain.Schedule) error {
	if *status == "" {
		*status = domain.StatusNew
	}
	return normalizeUpdate(name, status, s)
}

func normalizeUpdate(name *string, status *domain.Status, s *domain.Schedule) error {
	*name = strings.TrimSpace(*name)
	if *name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if *status != "" {
		st, err := domain.ParseStatus(string(*status))
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		*status = st
	}
	if s != nil && s.Minutes < 0 {
		return fmt.Errorf("%w: duration must not be negative", ErrInvalid)
	}
	return nil
}
