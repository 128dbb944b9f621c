// Package snapshot keeps local copies of the last calendar snapshot so the
// registry can still be built when the calendar API is unreachable.
//
// Layout under Dir:
//
//	latest.json               rewritten after every successful live fetch
//	weekly_YYYY-MM-DD.json    first fetch of each Sunday
//	monthly_YYYY-MM-DD.json   first fetch of each 1st of the month
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	appLog "rinocal/internal/log"
	"rinocal/internal/model"
	"rinocal/internal/registry"
)

const latestFile = "latest.json"

// ErrNoSnapshot is returned when neither latest.json nor the archive exist.
var ErrNoSnapshot = errors.New("no local snapshot available")

// Store reads and writes snapshot files.
type Store struct {
	Dir string
	// ArchiveFile is a static, read-only last resort (optional).
	ArchiveFile string
	// Location decides which calendar day a save falls on.
	Location *time.Location
}

// Save writes latest.json and, on Sundays and the 1st of the month, a
// dated copy unless one exists already for that day.
func (s *Store) Save(events []model.RawEvent, now time.Time) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: create dir: %w", err)
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	if err := writeAtomic(filepath.Join(s.Dir, latestFile), data); err != nil {
		return err
	}

	name := PeriodicName(now.In(s.location()))
	if name == "" {
		return nil
	}
	path := filepath.Join(s.Dir, name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := writeAtomic(path, data); err != nil {
		return err
	}
	appLog.Info("snapshot backup created", "file", name, "events", len(events))
	return nil
}

// PeriodicName returns the dated backup name for t, or "" on ordinary
// days. Monthly wins when the 1st is a Sunday.
func PeriodicName(t time.Time) string {
	day := t.Format(time.DateOnly)
	switch {
	case t.Day() == 1:
		return "monthly_" + day + ".json"
	case t.Weekday() == time.Sunday:
		return "weekly_" + day + ".json"
	default:
		return ""
	}
}

// Events implements registry.EventSource from latest.json, then the archive.
func (s *Store) Events(_ context.Context, since time.Time) ([]model.RawEvent, error) {
	candidates := []string{filepath.Join(s.Dir, latestFile)}
	if s.ArchiveFile != "" {
		candidates = append(candidates, s.ArchiveFile)
	}

	for _, path := range candidates {
		events, err := readEvents(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				appLog.Error("snapshot read failed", err, "file", path)
			}
			continue
		}
		appLog.Info("serving events from local snapshot", "file", path, "events", len(events))
		return filterSince(events, since), nil
	}
	return nil, ErrNoSnapshot
}

func readEvents(path string) ([]model.RawEvent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var events []model.RawEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return events, nil
}

func filterSince(events []model.RawEvent, since time.Time) []model.RawEvent {
	if since.IsZero() {
		return events
	}
	out := events[:0:0]
	for _, ev := range events {
		// Malformed entries pass through; the builder counts them.
		if ev.Start.IsZero() || !ev.Start.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

func (s *Store) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: create temp: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}

// Recorder wraps a live source and saves every successful snapshot.
type Recorder struct {
	Source registry.EventSource
	Store  *Store
	Now    func() time.Time
}

// Events implements registry.EventSource. A failed save is logged only.
func (r *Recorder) Events(ctx context.Context, since time.Time) ([]model.RawEvent, error) {
	events, err := r.Source.Events(ctx, since)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	if err := r.Store.Save(events, now()); err != nil {
		appLog.Error("snapshot save failed", err)
	}
	return events, nil
}
