package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/repo"
)

type recordingSink struct {
	mutations []domain.Mutation
	last      []domain.Record
	fail      error
}

func (s *recordingSink) Save(_ context.Context, m domain.Mutation, records []domain.Record) error {
	if s.fail != nil {
		return s.fail
	}
	s.mutations = append(s.mutations, m)
	s.last = records
	return nil
}

type testEnv struct {
	Engine *engine.Engine
	Sink   *recordingSink
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	sink := &recordingSink{}
	eng := engine.New(engine.Options{
		Sink:   sink,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return testEnv{Engine: eng, Sink: sink, Ctx: context.Background()}
}

var ten = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func at(offset time.Duration, minutes int) *domain.Schedule {
	return &domain.Schedule{Start: ten.Add(offset), Minutes: minutes}
}

func historyIDs(ents []domain.Entity) []int {
	ids := make([]int, 0, len(ents))
	for _, e := range ents {
		ids = append(ids, e.EntityID())
	}
	return ids
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	env := newTestEnv(t)
	task, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "write report"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	epic, err := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "move house", Status: domain.StatusDone})
	if err != nil {
		t.Fatalf("create epic: %v", err)
	}
	sub, err := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: epic.ID, Name: "pack"})
	if err != nil {
		t.Fatalf("create subtask: %v", err)
	}
	if task.ID != 1 || epic.ID != 2 || sub.ID != 3 {
		t.Fatalf("ids = %d %d %d", task.ID, epic.ID, sub.ID)
	}
	if task.Status != domain.StatusNew || epic.Status != domain.StatusNew {
		t.Fatalf("defaults not applied: task=%s epic=%s", task.Status, epic.Status)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, domain.Task{ID: 7, Name: "preset"}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for preset id, got %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "  "}); !errors.Is(err, engine.ErrInvalid) {
		t.Fatalf("expected ErrInvalid for empty name, got %v", err)
	}
	if _, err := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: 99, Name: "orphan"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing epic, got %v", err)
	}
	if len(env.Sink.mutations) != 3 {
		t.Fatalf("sink saw %d mutations, want 3", len(env.Sink.mutations))
	}
}

func TestGetRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	t1, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "a"})
	t2, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "b"})
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "c"})
	s, _ := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "d"})

	if len(env.Engine.History(env.Ctx)) != 0 {
		t.Fatalf("create must not record history")
	}
	mustGet := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	_, err := env.Engine.GetTask(env.Ctx, t1.ID)
	mustGet(err)
	_, err = env.Engine.GetEpic(env.Ctx, ep.ID)
	mustGet(err)
	_, err = env.Engine.GetSubtask(env.Ctx, s.ID)
	mustGet(err)
	_, err = env.Engine.GetTask(env.Ctx, t2.ID)
	mustGet(err)
	_, err = env.Engine.GetTask(env.Ctx, t1.ID)
	mustGet(err)

	want := []int{ep.ID, s.ID, t2.ID, t1.ID}
	if got := historyIDs(env.Engine.History(env.Ctx)); !slices.Equal(got, want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	if _, err := env.Engine.GetTask(env.Ctx, 404); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, ep.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("epic id looked up as task should be ErrNotFound, got %v", err)
	}
	ent, err := env.Engine.Get(env.Ctx, ep.ID)
	if err != nil || ent.Kind() != domain.KindEpic {
		t.Fatalf("Get = %v, %v", ent, err)
	}
	if got := historyIDs(env.Engine.History(env.Ctx)); got[len(got)-1] != ep.ID {
		t.Fatalf("Get did not move epic to the end: %v", got)
	}
}

func TestHistoryReflectsCurrentState(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "old"})
	_, _ = env.Engine.GetTask(env.Ctx, task.ID)
	task.Name = "new"
	if _, err := env.Engine.UpdateTask(env.Ctx, task); err != nil {
		t.Fatal(err)
	}
	h := env.Engine.History(env.Ctx)
	if len(h) != 1 || h[0].(domain.Task).Name != "new" {
		t.Fatalf("history = %+v", h)
	}
}

func TestEpicStatusFollowsSubtasks(t *testing.T) {
	env := newTestEnv(t)
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	s1, _ := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "S1"})
	s2, _ := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "S2"})

	status := func() domain.Status {
		t.Helper()
		got, err := env.Engine.GetEpic(env.Ctx, ep.ID)
		if err != nil {
			t.Fatal(err)
		}
		return got.Status
	}
	if got := status(); got != domain.StatusNew {
		t.Fatalf("status = %s, want NEW", got)
	}
	s1.Status = domain.StatusInProgress
	if _, err := env.Engine.UpdateSubtask(env.Ctx, s1); err != nil {
		t.Fatal(err)
	}
	if got := status(); got != domain.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS", got)
	}
	s1.Status = domain.StatusDone
	_, _ = env.Engine.UpdateSubtask(env.Ctx, s1)
	if got := status(); got != domain.StatusInProgress {
		t.Fatalf("status = %s, want IN_PROGRESS with NEW and DONE", got)
	}
	s2.Status = domain.StatusDone
	_, _ = env.Engine.UpdateSubtask(env.Ctx, s2)
	if got := status(); got != domain.StatusDone {
		t.Fatalf("status = %s, want DONE", got)
	}
	if _, err := env.Engine.DeleteSubtask(env.Ctx, s1.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DeleteSubtask(env.Ctx, s2.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetEpic(env.Ctx, ep.ID)
	if got.Status != domain.StatusNew || got.Span != nil || len(got.SubtaskIDs) != 0 {
		t.Fatalf("empty epic = %+v", got)
	}
}

func TestUpdateEpicIgnoresDerivedFields(t *testing.T) {
	env := newTestEnv(t)
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	_, _ = env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "S", Status: domain.StatusDone})
	got, err := env.Engine.UpdateEpic(env.Ctx, domain.Epic{ID: ep.ID, Name: "E2", Description: "d", Status: domain.StatusNew})
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "E2" || got.Description != "d" || got.Status != domain.StatusDone || len(got.SubtaskIDs) != 1 {
		t.Fatalf("epic = %+v", got)
	}
	if _, err := env.Engine.UpdateEpic(env.Ctx, domain.Epic{ID: 99, Name: "x"}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEpicSpan(t *testing.T) {
	env := newTestEnv(t)
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	for _, sc := range []*domain.Schedule{at(0, 15), at(30*time.Minute, 35)} {
		if _, err := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "s", Schedule: sc}); err != nil {
			t.Fatal(err)
		}
	}
	late, err := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "late", Schedule: at(24*time.Hour, 115)})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetEpic(env.Ctx, ep.ID)
	if got.Span == nil || !got.Span.Start.Equal(ten) || got.Span.Minutes != 165 {
		t.Fatalf("span = %+v", got.Span)
	}
	if want := ten.Add(24*time.Hour + 115*time.Minute); !got.Span.End.Equal(want) {
		t.Fatalf("end = %v, want %v", got.Span.End, want)
	}
	if _, err := env.Engine.DeleteSubtask(env.Ctx, late.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.GetEpic(env.Ctx, ep.ID)
	if want := ten.Add(65 * time.Minute); !got.Span.End.Equal(want) || got.Span.Minutes != 50 {
		t.Fatalf("span after delete = %+v", got.Span)
	}
}

func TestScheduleConflicts(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "first", Schedule: at(0, 30)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "same start", Schedule: at(0, 10)}); !errors.Is(err, engine.ErrScheduleConflict) {
		t.Fatalf("expected ErrScheduleConflict, got %v", err)
	}
	touching, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "touching", Schedule: at(30*time.Minute, 30)})
	if err != nil {
		t.Fatalf("boundary-touching window rejected: %v", err)
	}
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	if _, err := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "s", Schedule: at(45*time.Minute, 5)}); !errors.Is(err, engine.ErrScheduleConflict) {
		t.Fatalf("subtask overlapping task should conflict, got %v", err)
	}
	// same window again is not a conflict with itself
	first.Name = "first renamed"
	if _, err := env.Engine.UpdateTask(env.Ctx, first); err != nil {
		t.Fatalf("self conflict: %v", err)
	}
	// unscheduled entries never conflict
	if _, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "whenever"}); err != nil {
		t.Fatal(err)
	}
	// moving onto the neighbour fails and changes nothing
	moved := touching
	moved.Name = "moved"
	moved.Schedule = at(10*time.Minute, 30)
	if _, err := env.Engine.UpdateTask(env.Ctx, moved); !errors.Is(err, engine.ErrScheduleConflict) {
		t.Fatalf("expected ErrScheduleConflict, got %v", err)
	}
	stored, _ := env.Engine.GetTask(env.Ctx, touching.ID)
	if stored.Name != "touching" || !stored.Schedule.Start.Equal(ten.Add(30*time.Minute)) {
		t.Fatalf("failed update mutated state: %+v", stored)
	}
}

func TestFailedMutationLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	held, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "held", Schedule: at(0, 60)})
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	_, _ = env.Engine.GetTask(env.Ctx, held.ID)
	before := env.Engine.Records(env.Ctx)
	beforeHistory := historyIDs(env.Engine.History(env.Ctx))
	beforePrio := historyIDs(env.Engine.Prioritized(env.Ctx))
	saves := len(env.Sink.mutations)

	_, err := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "clash", Schedule: at(30*time.Minute, 60)})
	if !errors.Is(err, engine.ErrScheduleConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if after := env.Engine.Records(env.Ctx); !slices.EqualFunc(before, after, recordsEqual) {
		t.Fatalf("records changed:\n%+v\n%+v", before, after)
	}
	if got := historyIDs(env.Engine.History(env.Ctx)); !slices.Equal(got, beforeHistory) {
		t.Fatalf("history changed: %v", got)
	}
	if got := historyIDs(env.Engine.Prioritized(env.Ctx)); !slices.Equal(got, beforePrio) {
		t.Fatalf("prioritized changed: %v", got)
	}
	if len(env.Sink.mutations) != saves {
		t.Fatalf("failed mutation reached the sink")
	}
	next, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "next"})
	if next.ID != ep.ID+1 {
		t.Fatalf("failed create consumed an id: got %d", next.ID)
	}
}

func recordsEqual(a, b domain.Record) bool {
	if a.ID != b.ID || a.Type != b.Type || a.Name != b.Name || a.Status != b.Status || a.EpicID != b.EpicID || a.Minutes != b.Minutes {
		return false
	}
	if (a.Start == nil) != (b.Start == nil) {
		return false
	}
	return a.Start == nil || a.Start.Equal(*b.Start)
}

func TestDeleteEpicCascades(t *testing.T) {
	env := newTestEnv(t)
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	s1, _ := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "s1", Schedule: at(0, 10)})
	s2, _ := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "s2", Schedule: at(time.Hour, 10)})
	other, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "other"})
	for _, id := range []int{s1.ID, ep.ID, other.ID, s2.ID} {
		if _, err := env.Engine.Get(env.Ctx, id); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.DeleteEpic(env.Ctx, ep.ID); err != nil {
		t.Fatal(err)
	}
	for _, id := range []int{ep.ID, s1.ID, s2.ID} {
		if _, err := env.Engine.Get(env.Ctx, id); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("id %d still reachable: %v", id, err)
		}
	}
	if got := historyIDs(env.Engine.History(env.Ctx)); !slices.Equal(got, []int{other.ID}) {
		t.Fatalf("history = %v", got)
	}
	if len(env.Engine.Prioritized(env.Ctx)) != 0 || len(env.Engine.ListSubtasks(env.Ctx)) != 0 {
		t.Fatalf("subtasks left behind")
	}
	// the freed window can be taken again
	if _, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "reuse", Schedule: at(0, 10)}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DeleteEpic(env.Ctx, ep.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteForgetsHistoryAndSchedule(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "t", Schedule: at(0, 10)})
	_, _ = env.Engine.GetTask(env.Ctx, task.ID)
	removed, err := env.Engine.DeleteTask(env.Ctx, task.ID)
	if err != nil || removed.ID != task.ID {
		t.Fatalf("delete = %+v, %v", removed, err)
	}
	if len(env.Engine.History(env.Ctx)) != 0 || len(env.Engine.Prioritized(env.Ctx)) != 0 {
		t.Fatalf("deleted task still tracked")
	}
	if _, err := env.Engine.DeleteTask(env.Ctx, task.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPrioritizedOrdersByStart(t *testing.T) {
	env := newTestEnv(t)
	late, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "late", Schedule: at(3*time.Hour, 10)})
	_, _ = env.Engine.CreateTask(env.Ctx, domain.Task{Name: "unscheduled"})
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	early, _ := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "early", Schedule: at(0, 10)})
	mid, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "mid", Schedule: at(time.Hour, 10)})

	want := []int{early.ID, mid.ID, late.ID}
	if got := historyIDs(env.Engine.Prioritized(env.Ctx)); !slices.Equal(got, want) {
		t.Fatalf("prioritized = %v, want %v", got, want)
	}
	// dropping the schedule removes it from the ordering
	mid.Schedule = nil
	if _, err := env.Engine.UpdateTask(env.Ctx, mid); err != nil {
		t.Fatal(err)
	}
	if got := historyIDs(env.Engine.Prioritized(env.Ctx)); !slices.Equal(got, []int{early.ID, late.ID}) {
		t.Fatalf("prioritized = %v", got)
	}
}

func TestEpicSubtasksInChildOrder(t *testing.T) {
	env := newTestEnv(t)
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	var ids []int
	for _, name := range []string{"c", "a", "b"} {
		s, _ := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: name})
		ids = append(ids, s.ID)
	}
	subs, err := env.Engine.EpicSubtasks(env.Ctx, ep.ID)
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for _, s := range subs {
		got = append(got, s.ID)
	}
	if !slices.Equal(got, ids) {
		t.Fatalf("children = %v, want %v", got, ids)
	}
	if _, err := env.Engine.EpicSubtasks(env.Ctx, 999); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClearOperations(t *testing.T) {
	env := newTestEnv(t)
	task, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "t", Schedule: at(0, 10)})
	ep, _ := env.Engine.CreateEpic(env.Ctx, domain.Epic{Name: "E"})
	s, _ := env.Engine.CreateSubtask(env.Ctx, domain.Subtask{EpicID: ep.ID, Name: "s", Status: domain.StatusDone, Schedule: at(time.Hour, 10)})
	_, _ = env.Engine.GetTask(env.Ctx, task.ID)
	_, _ = env.Engine.GetSubtask(env.Ctx, s.ID)

	if err := env.Engine.ClearSubtasks(env.Ctx); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetEpic(env.Ctx, ep.ID)
	if got.Status != domain.StatusNew || got.Span != nil || len(got.SubtaskIDs) != 0 {
		t.Fatalf("epic after subtask clear = %+v", got)
	}
	if ids := historyIDs(env.Engine.History(env.Ctx)); !slices.Equal(ids, []int{task.ID, ep.ID}) {
		t.Fatalf("history = %v", ids)
	}
	if err := env.Engine.ClearTasks(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if len(env.Engine.Prioritized(env.Ctx)) != 0 {
		t.Fatalf("schedule not cleared")
	}
	if err := env.Engine.ClearEpics(env.Ctx); err != nil {
		t.Fatal(err)
	}
	if len(env.Engine.History(env.Ctx)) != 0 || len(env.Engine.Records(env.Ctx)) != 0 {
		t.Fatalf("state not empty")
	}
}

func TestRestore(t *testing.T) {
	env := newTestEnv(t)
	start := ten
	records := []domain.Record{
		{ID: 4, Type: domain.KindSubtask, Name: "s", Status: domain.StatusDone, EpicID: 2, Minutes: 15, Start: &start},
		{ID: 1, Type: domain.KindTask, Name: "t", Status: domain.StatusNew},
		{ID: 2, Type: domain.KindEpic, Name: "e", Status: domain.StatusNew},
	}
	if err := env.Engine.Restore(env.Ctx, records); err != nil {
		t.Fatalf("restore: %v", err)
	}
	ep, err := env.Engine.GetEpic(env.Ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ep.Status != domain.StatusDone || ep.Span == nil || ep.Span.Minutes != 15 || !slices.Equal(ep.SubtaskIDs, []int{4}) {
		t.Fatalf("epic = %+v", ep)
	}
	next, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "next"})
	if next.ID != 5 {
		t.Fatalf("id counter did not resume: %d", next.ID)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "clash", Schedule: at(5*time.Minute, 1)}); !errors.Is(err, engine.ErrScheduleConflict) {
		t.Fatalf("restored schedule not indexed: %v", err)
	}
}

func TestRestoreRejectsBadInputWithoutChanges(t *testing.T) {
	env := newTestEnv(t)
	keep, _ := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "keep"})
	start := ten
	cases := []struct {
		name    string
		records []domain.Record
		want    error
	}{
		{name: "duplicate id", want: repo.ErrAlreadyExists, records: []domain.Record{
			{ID: 1, Type: domain.KindTask, Name: "a", Status: domain.StatusNew},
			{ID: 1, Type: domain.KindEpic, Name: "b"},
		}},
		{name: "missing epic", want: repo.ErrNotFound, records: []domain.Record{
			{ID: 3, Type: domain.KindSubtask, Name: "s", Status: domain.StatusNew, EpicID: 9},
		}},
		{name: "overlap", want: engine.ErrScheduleConflict, records: []domain.Record{
			{ID: 1, Type: domain.KindTask, Name: "a", Status: domain.StatusNew, Minutes: 30, Start: &start},
			{ID: 2, Type: domain.KindTask, Name: "b", Status: domain.StatusNew, Minutes: 30, Start: &start},
		}},
		{name: "unknown type", want: engine.ErrInvalid, records: []domain.Record{
			{ID: 1, Type: "STORY", Name: "a"},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := env.Engine.Restore(env.Ctx, tc.records); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			tasks := env.Engine.ListTasks(env.Ctx)
			if len(tasks) != 1 || tasks[0].ID != keep.ID {
				t.Fatalf("state changed: %+v", tasks)
			}
		})
	}
}

func TestSinkFailureIsReported(t *testing.T) {
	env := newTestEnv(t)
	env.Sink.fail = errors.New("disk full")
	_, err := env.Engine.CreateTask(env.Ctx, domain.Task{Name: "t"})
	if err == nil || !errors.Is(err, env.Sink.fail) {
		t.Fatalf("expected sink error, got %v", err)
	}
}

func TestConcurrentCreatesNeverOverlap(t *testing.T) {
	env := newTestEnv(t)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every pair of consecutive workers fights over the same window
			_, _ = env.Engine.CreateTask(env.Ctx, domain.Task{Name: "t", Schedule: at(time.Duration(i/2)*time.Hour, 30)})
			_ = env.Engine.Prioritized(env.Ctx)
		}(i)
	}
	wg.Wait()
	if got := len(env.Engine.Prioritized(env.Ctx)); got != 16 {
		t.Fatalf("scheduled = %d, want 16", got)
	}
}
