package engine

import "taskline/internal/domain"

// Aggregate derives an epic's status and span from its subtasks.
//
// No subtasks, or all NEW, gives NEW; all DONE gives DONE; anything else is
// IN_PROGRESS. The span starts at the earliest subtask start, ends at the
// latest subtask end, and its duration is the sum of subtask durations.
// Subtasks without a schedule do not contribute to the span; if none has
// one the span is nil.
func Aggregate(subtasks []domain.Subtask) (domain.Status, *domain.Span) {
	if len(subtasks) == 0 {
		return domain.StatusNew, nil
	}
	allNew, allDone := true, true
	var span *domain.Span
	for _, s := range subtasks {
		allNew = allNew && s.Status == domain.StatusNew
		allDone = allDone && s.Status == domain.StatusDone
		if s.Schedule == nil {
			continue
		}
		end := s.Schedule.End()
		if span == nil {
			span = &domain.Span{Start: s.Schedule.Start, Minutes: s.Schedule.Minutes, End: end}
			continue
		}
		if s.Schedule.Start.Before(span.Start) {
			span.Start = s.Schedule.Start
		}
		if end.After(span.End) {
			span.End = end
		}
		span.Minutes += s.Schedule.Minutes
	}
	switch {
	case allNew:
		return domain.StatusNew, span
	case allDone:
		return domain.StatusDone, span
	default:
		return domain.StatusInProgress, span
	}
}
