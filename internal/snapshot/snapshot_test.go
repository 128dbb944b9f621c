package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rinocal/internal/model"
)

func ev(id string, day int) model.RawEvent {
	start := time.Date(2025, 1, day, 9, 0, 0, 0, time.UTC)
	return model.RawEvent{ID: id, Title: "k1 Ahmet Yılmaz", Start: start, End: start.Add(15 * time.Minute)}
}

func TestPeriodicName(t *testing.T) {
	assert.Equal(t, "weekly_2025-01-05.json", PeriodicName(time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)))
	assert.Equal(t, "monthly_2025-01-01.json", PeriodicName(time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)))
	// 2025-06-01 is a Sunday.
	assert.Equal(t, "monthly_2025-06-01.json", PeriodicName(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)))
	assert.Empty(t, PeriodicName(time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)))
}

func TestSaveWritesLatestAndBackups(t *testing.T) {
	dir := t.TempDir()
	s := &Store{Dir: dir, Location: time.UTC}
	sunday := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save([]model.RawEvent{ev("a", 2)}, sunday))
	assert.FileExists(t, filepath.Join(dir, "latest.json"))
	assert.FileExists(t, filepath.Join(dir, "weekly_2025-01-05.json"))

	// A second save the same day refreshes latest only.
	require.NoError(t, s.Save([]model.RawEvent{ev("a", 2), ev("b", 3)}, sunday.Add(time.Hour)))
	weekly, err := readEvents(filepath.Join(dir, "weekly_2025-01-05.json"))
	require.NoError(t, err)
	assert.Len(t, weekly, 1)
	latest, err := readEvents(filepath.Join(dir, "latest.json"))
	require.NoError(t, err)
	assert.Len(t, latest, 2)

	require.NoError(t, s.Save(nil, time.Date(2025, 1, 8, 10, 0, 0, 0, time.UTC)))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestEventsPrefersLatestThenArchive(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(t.TempDir(), "archived_events.json")
	require.NoError(t, os.WriteFile(archive, []byte(`[{"id":"old","title":"🔪 Eski Hasta","start":"2024-05-01T08:00:00Z","end":"2024-05-01T11:00:00Z"}]`), 0o600))

	s := &Store{Dir: dir, ArchiveFile: archive}
	evs, err := s.Events(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "old", evs[0].ID)

	require.NoError(t, s.Save([]model.RawEvent{ev("a", 2), ev("b", 10)}, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)))
	evs, err = s.Events(context.Background(), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "b", evs[0].ID)
}

func TestEventsWithoutSnapshot(t *testing.T) {
	s := &Store{Dir: t.TempDir()}
	_, err := s.Events(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

type liveStub struct {
	events []model.RawEvent
	err    error
}

func (l liveStub) Events(context.Context, time.Time) ([]model.RawEvent, error) {
	return l.events, l.err
}

func TestRecorder(t *testing.T) {
	dir := t.TempDir()
	store := &Store{Dir: dir, Location: time.UTC}
	fixed := func() time.Time { return time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC) }

	r := &Recorder{Source: liveStub{events: []model.RawEvent{ev("a", 2)}}, Store: store, Now: fixed}
	evs, err := r.Events(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, evs, 1)
	assert.FileExists(t, filepath.Join(dir, "latest.json"))

	failing := &Recorder{Source: liveStub{err: errors.New("offline")}, Store: store, Now: fixed}
	_, err = failing.Events(context.Background(), time.Time{})
	assert.Error(t, err)

	saved, err := store.Events(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}
