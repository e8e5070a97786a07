package csvfile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"taskline/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "tasks.csv")
	return New(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := newTestStore(t)
	records, err := s.Load(context.Background())
	if err != nil || len(records) != 0 {
		t.Fatalf("records=%v err=%v", records, err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	want := []domain.Record{
		{ID: 1, Type: domain.KindTask, Name: "buy milk, bread", Status: domain.StatusNew, Description: "said \"now\""},
		{ID: 2, Type: domain.KindEpic, Name: "trip", Status: domain.StatusInProgress, Minutes: 45, Start: &start},
		{ID: 3, Type: domain.KindSubtask, Name: "tickets", Status: domain.StatusDone, EpicID: 2, Minutes: 45, Start: &start},
	}
	if err := s.Save(ctx, domain.Mutation{Type: "test"}, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d records", len(got))
	}
	for i := range want {
		w, g := want[i], got[i]
		if g.ID != w.ID || g.Type != w.Type || g.Name != w.Name || g.Status != w.Status ||
			g.Description != w.Description || g.EpicID != w.EpicID || g.Minutes != w.Minutes {
			t.Fatalf("record %d = %+v, want %+v", i, g, w)
		}
		if (w.Start == nil) != (g.Start == nil) || (w.Start != nil && !w.Start.Equal(*g.Start)) {
			t.Fatalf("record %d start = %v, want %v", i, g.Start, w.Start)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	start := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	var b strings.Builder
	err := Encode(&b, []domain.Record{
		{ID: 1, Type: domain.KindTask, Name: "a", Status: domain.StatusNew},
		{ID: 3, Type: domain.KindSubtask, Name: "s", Status: domain.StatusDone, EpicID: 2, Minutes: 15, Start: &start},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "id,type,name,status,description,epic,duration,startTime\n" +
		"1,TASK,a,NEW,,,,\n" +
		"3,SUBTASK,s,DONE,,2,15,2024-05-02T09:30:00Z\n"
	if b.String() != want {
		t.Fatalf("encoded:\n%s\nwant:\n%s", b.String(), want)
	}
}

func TestDecodeAcceptsLocalTimestamps(t *testing.T) {
	in := "id,type,name,status,description,epic,duration,startTime\n" +
		"4,TASK,a,NEW,,,30,2024-05-02T09:30:00\n"
	got, err := Decode(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Start == nil || !got[0].Start.Equal(time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)) || got[0].Minutes != 30 {
		t.Fatalf("record = %+v", got[0])
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	header := "id,type,name,status,description,epic,duration,startTime\n"
	cases := map[string]string{
		"bad header":  "id,name\n",
		"bad id":      header + "x,TASK,a,NEW,,,,\n",
		"bad type":    header + "1,STORY,a,NEW,,,,\n",
		"short row":   header + "1,TASK,a\n",
		"bad epic":    header + "1,SUBTASK,a,NEW,,e,,\n",
		"bad time":    header + "1,TASK,a,NEW,,,10,yesterday\n",
		"bad minutes": header + "1,TASK,a,NEW,,,ten,2024-05-02T09:30:00Z\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(strings.NewReader(in)); !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestSaveHonoursHeldLock(t *testing.T) {
	s := newTestStore(t)
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	other := New(s.Path(), nil)
	if ok, err := other.lock.TryLock(); !ok || err != nil {
		t.Fatalf("could not take lock: %v", err)
	}
	defer other.lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if err := s.Save(ctx, domain.Mutation{Type: "test"}, nil); err == nil {
		t.Fatalf("save succeeded while another store held the lock")
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Fatalf("file written despite lock: %v", err)
	}
}
