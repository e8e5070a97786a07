package engine_test

import (
	"testing"
	"time"

	"taskline/internal/domain"
	"taskline/internal/engine"
)

func sub(status domain.Status, start time.Time, minutes int) domain.Subtask {
	return domain.Subtask{Status: status, Schedule: &domain.Schedule{Start: start, Minutes: minutes}}
}

func TestAggregateStatus(t *testing.T) {
	n, p, d := domain.StatusNew, domain.StatusInProgress, domain.StatusDone
	cases := []struct {
		name     string
		statuses []domain.Status
		want     domain.Status
	}{
		{name: "none", statuses: nil, want: n},
		{name: "all new", statuses: []domain.Status{n, n}, want: n},
		{name: "all done", statuses: []domain.Status{d, d, d}, want: d},
		{name: "all in progress", statuses: []domain.Status{p, p}, want: p},
		{name: "new and done", statuses: []domain.Status{n, d}, want: p},
		{name: "one in progress", statuses: []domain.Status{n, p}, want: p},
		{name: "done then new", statuses: []domain.Status{d, n, d}, want: p},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var subs []domain.Subtask
			for _, st := range tc.statuses {
				subs = append(subs, domain.Subtask{Status: st})
			}
			got, span := engine.Aggregate(subs)
			if got != tc.want {
				t.Fatalf("status = %s, want %s", got, tc.want)
			}
			if span != nil {
				t.Fatalf("unscheduled subtasks produced span %+v", span)
			}
		})
	}
}

func TestAggregateSpanSumsDurationAndTakesLatestEnd(t *testing.T) {
	ten := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	subs := []domain.Subtask{
		sub(domain.StatusNew, ten, 15),
		sub(domain.StatusNew, ten.Add(30*time.Minute), 35),
		sub(domain.StatusNew, ten.Add(24*time.Hour), 115),
	}
	status, span := engine.Aggregate(subs)
	if status != domain.StatusNew {
		t.Fatalf("status = %s", status)
	}
	if span == nil {
		t.Fatal("expected span")
	}
	if !span.Start.Equal(ten) {
		t.Fatalf("start = %v", span.Start)
	}
	if span.Minutes != 165 {
		t.Fatalf("minutes = %d, want 165", span.Minutes)
	}
	wantEnd := ten.Add(24*time.Hour + 115*time.Minute)
	if !span.End.Equal(wantEnd) {
		t.Fatalf("end = %v, want %v", span.End, wantEnd)
	}

	_, span = engine.Aggregate(subs[:2])
	if want := ten.Add(65 * time.Minute); !span.End.Equal(want) {
		t.Fatalf("end after dropping latest = %v, want %v", span.End, want)
	}
	if span.Minutes != 50 {
		t.Fatalf("minutes = %d, want 50", span.Minutes)
	}
}

func TestAggregateIgnoresUnscheduledSubtasksInSpan(t *testing.T) {
	ten := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	subs := []domain.Subtask{
		{Status: domain.StatusDone},
		sub(domain.StatusDone, ten, 20),
	}
	status, span := engine.Aggregate(subs)
	if status != domain.StatusDone || span == nil || span.Minutes != 20 || !span.Start.Equal(ten) {
		t.Fatalf("status=%s span=%+v", status, span)
	}
}

func TestAggregateIsIdempotent(t *testing.T) {
	ten := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	subs := []domain.Subtask{sub(domain.StatusDone, ten, 10), sub(domain.StatusNew, ten.Add(time.Hour), 10)}
	s1, span1 := engine.Aggregate(subs)
	s2, span2 := engine.Aggregate(subs)
	if s1 != s2 || *span1 != *span2 {
		t.Fatalf("aggregate not idempotent: %s %+v vs %s %+v", s1, span1, s2, span2)
	}
}
