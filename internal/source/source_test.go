package source

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"rinocal/internal/model"
	"rinocal/internal/registry"
)

type stubEvents struct {
	events []model.RawEvent
	err    error
	calls  int
}

func (s *stubEvents) Events(context.Context, time.Time) ([]model.RawEvent, error) {
	s.calls++
	return s.events, s.err
}

func TestFallbackServesFirstHealthySource(t *testing.T) {
	live := &stubEvents{err: errors.New("quota exceeded")}
	backup := &stubEvents{events: []model.RawEvent{{ID: "a"}}}
	never := &stubEvents{}

	f := &Fallback{Sources: []Named{{"google", live}, {"snapshot", backup}, {"archive", never}}}
	evs, err := f.Events(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Len(t, evs, 1)
	assert.Equal(t, "snapshot", f.Served())
	assert.Equal(t, 0, never.calls)
}

func TestFallbackAllFail(t *testing.T) {
	f := &Fallback{Sources: []Named{
		{"google", &stubEvents{err: errors.New("a")}},
		{"snapshot", &stubEvents{err: errors.New("b")}},
	}}
	_, err := f.Events(context.Background(), time.Time{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google: a")
	assert.Contains(t, err.Error(), "snapshot: b")
	assert.Empty(t, f.Served())

	_, err = (&Fallback{}).Events(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestPanelArrayPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PatientDBPath, r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"name":"Ahmet Yılmaz","date":"2025-01-01","hospital":"BHT"},
			{"name":"Ayşe Kaya","surgeryDate":"2024-11-05","hospital":{"id":3}},
			{"name":"","date":"2025-01-01"},
			{"name":"Bozuk Tarih","date":"yarın"}
		]`)
	}))
	defer srv.Close()

	seeds, err := NewPanel(srv.URL + "/").Patients(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 2)
	assert.Equal(t, "Ahmet Yılmaz", seeds[0].Name)
	assert.Equal(t, "2025-01-01", seeds[0].SurgeryDate.String())
	assert.Equal(t, "BHT", seeds[0].Hospital)
	assert.Equal(t, "2024-11-05", seeds[1].SurgeryDate.String())
	assert.Empty(t, seeds[1].Hospital)
}

func TestPanelObjectPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"patients": []map[string]any{
				{"name": "Fatma Demir", "surgeryDate": "2024-12-10", "controls": []any{}},
			},
			"conflicts": []any{},
		})
	}))
	defer srv.Close()

	seeds, err := NewPanel(srv.URL).Patients(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "Fatma Demir", seeds[0].Name)
}

func TestPanelErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewPanel(srv.URL).Patients(context.Background())
	assert.Error(t, err)
}

func TestSeedFile(t *testing.T) {
	dir := t.TempDir()

	yml := filepath.Join(dir, "seeds.yaml")
	require.NoError(t, os.WriteFile(yml, []byte(`
- name: Ahmet Yılmaz
  date: "2025-01-01"
  hospital: ICH
- name: Eksik Tarih
`), 0o600))
	seeds, err := SeedFile{Path: yml}.Patients(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "ICH", seeds[0].Hospital)

	js := filepath.Join(dir, "seeds.json")
	require.NoError(t, os.WriteFile(js, []byte(`[{"name":"Ayşe Kaya","date":"2024-11-05"}]`), 0o600))
	seeds, err = SeedFile{Path: js}.Patients(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "Ayşe Kaya", seeds[0].Name)

	_, err = SeedFile{Path: filepath.Join(dir, "missing.yaml")}.Patients(context.Background())
	assert.Error(t, err)
}

func TestRegistryPatients(t *testing.T) {
	start := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	svc := &registry.Service{
		Builder: registry.NewBuilder(time.UTC),
		Events: &stubEvents{events: []model.RawEvent{{
			ID: "s1", Title: "🔪 Ahmet Yılmaz", Color: model.ColorSurgery,
			Start: start, End: start.Add(3 * time.Hour),
		}}},
	}
	seeds, err := RegistryPatients{Service: svc}.Patients(context.Background())
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, "2025-01-01", seeds[0].SurgeryDate.String())
}

func newTestGoogle(t *testing.T, h http.HandlerFunc) *Google {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	svc, err := calendar.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	return NewGoogleWithService(svc, "practice", time.UTC)
}

func TestGoogleEventsPaginates(t *testing.T) {
	var tokens []string
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/calendars/practice/events"), r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("singleEvents"))
		assert.Equal(t, "startTime", q.Get("orderBy"))
		assert.Equal(t, "2500", q.Get("maxResults"))
		tokens = append(tokens, q.Get("pageToken"))

		w.Header().Set("Content-Type", "application/json")
		if q.Get("pageToken") == "" {
			_, _ = io.WriteString(w, `{"items":[
				{"id":"a","summary":"🔪 Ahmet Yılmaz","colorId":"4","location":"BHT",
				 "start":{"dateTime":"2025-01-01T10:00:00+03:00"},"end":{"dateTime":"2025-01-01T13:00:00+03:00"}}
			],"nextPageToken":"p2"}`)
			return
		}
		_, _ = io.WriteString(w, `{"items":[
			{"id":"b","summary":"İzin","start":{"date":"2025-01-05"},"end":{"date":"2025-01-06"}},
			{"id":"c","summary":"bozuk","start":{}}
		]}`)
	})

	evs, err := g.Events(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, []string{"", "p2"}, tokens)
	require.Len(t, evs, 3)

	assert.Equal(t, "4", evs[0].Color)
	assert.Equal(t, 7, evs[0].Start.Hour())
	assert.False(t, evs[0].AllDay)

	assert.True(t, evs[1].AllDay)
	assert.Equal(t, "2025-01-05", model.DateOf(evs[1].Start, time.UTC).String())

	assert.ErrorIs(t, evs[2].Validate(), model.ErrMalformedEvent)
}

func TestGoogleUpdateDescription(t *testing.T) {
	var got map[string]any
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/practice/events/evt1"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"evt1"}`)
	})

	require.NoError(t, g.UpdateDescription(context.Background(), "evt1", "yeni not"))
	assert.Equal(t, map[string]any{"description": "yeni not"}, got)
}

func TestGoogleListError(t *testing.T) {
	g := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"forbidden"}}`, http.StatusForbidden)
	})
	_, err := g.Events(context.Background(), time.Now())
	assert.Error(t, err)
}
