// Package csvfile mirrors the task state into a single CSV file.
//
// The file starts with domain.RecordHeader followed by one row per entity:
// tasks, then epics, then subtasks. Every save rewrites the whole file
// through an atomic rename while holding an exclusive lock on a sibling
// ".lock" file, so concurrent tl processes never observe a torn file.
package csvfile

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/natefinch/atomic"

	"taskline/internal/domain"
)

const lockRetry = 50 * time.Millisecond

// localLayout is accepted on load for files written without a zone offset.
const localLayout = "2006-01-02T15:04:05"

var ErrMalformed = errors.New("malformed csv")

type Store struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger
}

func New(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, lock: flock.New(path + ".lock"), logger: logger}
}

func (s *Store) Path() string { return s.path }

// Load reads every record. A missing file is an empty state.
func (s *Store) Load(ctx context.Context) ([]domain.Record, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, err
	}
	if _, err := s.lock.TryRLockContext(ctx, lockRetry); err != nil {
		return nil, fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	records, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	s.logger.Debug("csv loaded", "path", s.path, "records", len(records))
	return records, nil
}

// Save replaces the file with records. The mutation is only logged; the
// file always holds the full state.
func (s *Store) Save(ctx context.Context, m domain.Mutation, records []domain.Record) error {
	var buf bytes.Buffer
	if err := Encode(&buf, records); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if _, err := s.lock.TryLockContext(ctx, lockRetry); err != nil {
		return fmt.Errorf("lock %s: %w", s.path, err)
	}
	defer s.lock.Unlock()

	if err := atomic.WriteFile(s.path, &buf); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.logger.Debug("csv saved", "path", s.path, "mutation", m.Type, "records", len(records))
	return nil
}

// Encode writes the header and one row per record.
func Encode(w io.Writer, records []domain.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.RecordHeader); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Decode parses the header and rows written by Encode. Blank lines are
// skipped; any other deviation is reported with its line number.
func Decode(r io.Reader) ([]domain.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(domain.RecordHeader)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !slices.Equal(header, domain.RecordHeader) {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrMalformed, strings.Join(header, ","))
	}
	var out []domain.Record
	for {
		fields, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		line, _ := cr.FieldPos(0)
		rec, err := parseRow(fields)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformed, line, err)
		}
		out = append(out, rec)
	}
}

func row(r domain.Record) []string {
	fields := []string{strconv.Itoa(r.ID), string(r.Type), r.Name, string(r.Status), r.Description, "", "", ""}
	if r.EpicID != 0 {
		fields[5] = strconv.Itoa(r.EpicID)
	}
	if r.Start != nil {
		fields[6] = strconv.Itoa(r.Minutes)
		fields[7] = r.Start.Format(time.RFC3339)
	}
	return fields
}

func parseRow(f []string) (domain.Record, error) {
	var rec domain.Record
	id, err := strconv.Atoi(f[0])
	if err != nil {
		return rec, fmt.Errorf("id %q: %v", f[0], err)
	}
	kind, err := domain.ParseKind(f[1])
	if err != nil {
		return rec, err
	}
	rec = domain.Record{ID: id, Type: kind, Name: f[2], Status: domain.Status(f[3]), Description: f[4]}
	if f[5] != "" {
		if rec.EpicID, err = strconv.Atoi(f[5]); err != nil {
			return rec, fmt.Errorf("epic %q: %v", f[5], err)
		}
	}
	if f[7] == "" {
		return rec, nil
	}
	start, err := parseTime(f[7])
	if err != nil {
		return rec, err
	}
	rec.Start = &start
	if f[6] != "" {
		if rec.Minutes, err = strconv.Atoi(f[6]); err != nil {
			return rec, fmt.Errorf("duration %q: %v", f[6], err)
		}
	}
	return rec, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("start time %q: %v", s, err)
	}
	return t, nil
}
