package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rinocal/internal/model"
)

var ist = mustLoad("Europe/Istanbul")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func ev(id, title, color, day string, minutes int) model.RawEvent {
	d := model.MustParseDate(day)
	start := time.Date(d.Year(), d.Month(), d.Day(), 10, 0, 0, 0, ist)
	return model.RawEvent{
		ID:    id,
		Title: title,
		Color: color,
		Start: start,
		End:   start.Add(time.Duration(minutes) * time.Minute),
	}
}

func newTestBuilder(now string) *Builder {
	b := NewBuilder(ist)
	n := model.MustParseDate(now)
	b.Now = func() time.Time { return time.Date(n.Year(), n.Month(), n.Day(), 12, 0, 0, 0, ist) }
	return b
}

func sampleEvents() []model.RawEvent {
	return []model.RawEvent{
		ev("1", "m Ahmet Yılmaz", "", "2025-01-05", 30),
		ev("2", "08:30 🔪 Ahmet Yılmaz / rino", model.ColorSurgery, "2025-01-10", 180),
		ev("3", "k1 Ahmet Yılmaz", "", "2025-01-17", 15),
		ev("4", "1m Ahmet Yılmaz", "", "2025-02-10", 15),
		ev("5", "AHMET YILMAZ pansuman", "", "2025-02-10", 15),
		ev("6", "3m Ahmet Yılmaz", model.ColorCancelled, "2025-04-10", 15),
		ev("7", "6m Ahmet Yilmaz", "", "2025-07-10", 15),
		ev("8", "🔪 Zeynep Ak", "", "2025-03-01", 120),
		ev("9", "k Zeynep Ak", "", "2025-03-03", 15),
		ev("10", "🔪 Mert", "", "2025-03-02", 120),
	}
}

func TestBuildRegistry(t *testing.T) {
	b := newTestBuilder("2025-05-01")
	res := b.Build(sampleEvents(), nil)

	require.Len(t, res.Patients, 2)
	assert.Empty(t, res.Conflicts)
	assert.Zero(t, res.Skipped)

	zeynep, ahmet := res.Patients[0], res.Patients[1]
	assert.Equal(t, "Zeynep Ak", zeynep.Name)
	assert.Equal(t, "2025-03-01", zeynep.SurgeryDate.String())
	require.Len(t, zeynep.Controls, 1)
	assert.Equal(t, "2d", zeynep.Controls[0].Label)

	assert.Equal(t, "Ahmet Yılmaz", ahmet.Name)
	assert.Equal(t, "2025-01-10", ahmet.SurgeryDate.String())
	assert.Equal(t, DefaultHospital, ahmet.Hospital)

	want := []struct {
		date   string
		status model.ControlStatus
		label  string
		title  string
	}{
		{"2025-01-17", model.StatusAttended, "1w", "k1 Ahmet Yılmaz"},
		{"2025-02-10", model.StatusAttended, "1m", "1m Ahmet Yılmaz"},
		{"2025-04-10", model.StatusCancelled, "3m", "3m Ahmet Yılmaz"},
		{"2025-07-10", model.StatusPlanned, "6m", "6m Ahmet Yilmaz"},
	}
	require.Len(t, ahmet.Controls, len(want))
	for i, w := range want {
		c := ahmet.Controls[i]
		assert.Equal(t, w.date, c.Date.String(), "control %d", i)
		assert.Equal(t, w.status, c.Status, "control %d", i)
		assert.Equal(t, w.label, c.Label, "control %d", i)
		assert.Equal(t, w.title, c.Title, "control %d", i)
	}
}

func TestBuildInvariants(t *testing.T) {
	res := newTestBuilder("2025-05-01").Build(sampleEvents(), nil)
	for i, p := range res.Patients {
		if i > 0 {
			assert.False(t, p.SurgeryDate.After(res.Patients[i-1].SurgeryDate), "patients must be newest first")
		}
		for j, c := range p.Controls {
			assert.True(t, c.Date.After(p.SurgeryDate), "%s control on surgery day or before", p.Name)
			if j > 0 {
				assert.True(t, c.Date.After(p.Controls[j-1].Date), "%s controls not ascending/unique", p.Name)
			}
		}
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	b := newTestBuilder("2025-05-01")
	events := sampleEvents()
	first := b.Build(events, nil)
	second := b.Build(events, nil)
	assert.Equal(t, first, second)
	assert.Equal(t, sampleEvents(), events, "input must not be modified")
}

func TestBuildSkipsMalformedEvents(t *testing.T) {
	events := append(sampleEvents(), model.RawEvent{ID: "bad", Title: "🔪 Elif Şahin"})
	res := newTestBuilder("2025-05-01").Build(events, nil)
	assert.Equal(t, 1, res.Skipped)
	assert.Len(t, res.Patients, 2)
}

func TestBuildReportsDuplicateSeeds(t *testing.T) {
	events := append(sampleEvents(), ev("11", "🔪 Ahmet Yılmaz revizyon", "", "2025-06-01", 120))
	res := newTestBuilder("2025-07-01").Build(events, nil)

	require.Len(t, res.Conflicts, 1)
	c := res.Conflicts[0]
	assert.Equal(t, "Ahmet Yılmaz", c.Name)
	assert.Equal(t, "2025-01-10", c.KeptDate.String())
	assert.Equal(t, "2025-06-01", c.IgnoredDate.String())
	assert.Equal(t, "11", c.EventID)

	require.Len(t, res.Patients, 2)
	assert.Equal(t, "2025-01-10", res.Patients[1].SurgeryDate.String())
}

func TestBuildSameDaySeedIsNotAConflict(t *testing.T) {
	events := []model.RawEvent{
		ev("1", "🔪 Can Aydın", "", "2025-01-10", 120),
		ev("2", "Can Aydın rino", "", "2025-01-10", 120),
	}
	res := newTestBuilder("2025-02-01").Build(events, nil)
	assert.Empty(t, res.Conflicts)
	require.Len(t, res.Patients, 1)
	assert.Empty(t, res.Patients[0].Controls)
}

func TestBuildWithSeeds(t *testing.T) {
	seeds := []model.Seed{
		{Name: "Ahmet Yılmaz", SurgeryDate: model.MustParseDate("2025-01-01")},
		{Name: "Fatma Demir", SurgeryDate: model.MustParseDate("2025-02-01"), Hospital: "BHT"},
	}
	events := []model.RawEvent{
		ev("1", "k1 Ahmet Yilmaz", "", "2025-02-01", 15),
		ev("2", "1.5m Fatma Demir", "", "2025-03-15", 15),
		ev("3", "🔪 Selin Ak", "", "2025-02-20", 120),
	}

	t.Run("supplement", func(t *testing.T) {
		res := newTestBuilder("2025-04-01").Build(events, seeds)
		require.Len(t, res.Patients, 3)
		assert.Equal(t, "Selin Ak", res.Patients[0].Name)
		assert.Equal(t, "Fatma Demir", res.Patients[1].Name)
		assert.Equal(t, "BHT", res.Patients[1].Hospital)
		require.Len(t, res.Patients[1].Controls, 1)
		assert.Equal(t, "1m", res.Patients[1].Controls[0].Label)

		ahmet := res.Patients[2]
		assert.Equal(t, DefaultHospital, ahmet.Hospital)
		require.Len(t, ahmet.Controls, 1)
		assert.Equal(t, "1m", ahmet.Controls[0].Label)
	})

	t.Run("substitute", func(t *testing.T) {
		b := newTestBuilder("2025-04-01")
		b.Mode = SeedSubstitute
		res := b.Build(events, seeds)
		require.Len(t, res.Patients, 2)
		assert.Equal(t, "Fatma Demir", res.Patients[0].Name)
		assert.Equal(t, "Ahmet Yılmaz", res.Patients[1].Name)
	})

	// Seeds are converted, never shared with the result.
	assert.Equal(t, "Ahmet Yılmaz", seeds[0].Name)
}

func TestIsSurgerySeed(t *testing.T) {
	tests := []struct {
		title string
		color string
		want  bool
	}{
		{"Ayşe Kaya rino", "", true},
		{"op Ayşe Kaya", "", true},
		{"Ayşe Kaya", model.ColorSurgery, true},
		{"🔪 Ayşe Kaya", "", true},
		{"Ayşe Kaya septum", "", true},
		{"Ayşe Kaya", "", false},
		{"k2 Ayşe Kaya rino", "", false},
		{"kontrol Ayşe Kaya rino", "", false},
		{"Ayşe Kaya botoks", model.ColorSurgery, false},
		{"🔪 kontrol Ayşe Kaya dolgu", "", true},
	}
	for _, tt := range tests {
		got := IsSurgerySeed(model.RawEvent{Title: tt.title, Color: tt.color})
		assert.Equal(t, tt.want, got, tt.title)
	}
}

func TestSeedName(t *testing.T) {
	tests := []struct {
		title string
		want  string
		ok    bool
	}{
		{"08:30 🔪 Ahmet Yılmaz / rino", "Ahmet Yılmaz", true},
		{"9.00🔪Ahmet Yılmaz|bht", "Ahmet Yılmaz", true},
		{"op Deniz Koç (yaş 30) / revizyon", "Deniz Koç", true},
		{"OP AYŞE KAYA kostal rino", "Ayşe Kaya", true},
		{"🔪 Mert / rino", "", false},
		{"rino", "", false},
	}
	for _, tt := range tests {
		got, ok := SeedName(tt.title)
		assert.Equal(t, tt.ok, ok, tt.title)
		assert.Equal(t, tt.want, got, tt.title)
	}
}

func TestHospital(t *testing.T) {
	tests := []struct {
		title, location, want string
	}{
		{"🔪 Ali Veli", "BHT Clinic", "BHT"},
		{"🔪 Ali Veli bht", "", "BHT"},
		{"🔪 Ali Veli", "Medipol Bağcılar", "Bağcılar"},
		{"🔪 Ali Veli BAĞCILAR", "", "Bağcılar"},
		{"🔪 Ali Veli", "ICH", "ICH"},
		{"🔪 Ali Veli", "Medistanbul", "Medistanbul"},
		{"🔪 Ali Veli", "", DefaultHospital},
	}
	for _, tt := range tests {
		got := Hospital(model.RawEvent{Title: tt.title, Location: tt.location}, DefaultHospital)
		assert.Equal(t, tt.want, got, "%s @ %s", tt.title, tt.location)
	}
}

type stubEvents struct {
	events []model.RawEvent
	err    error
}

func (s stubEvents) Events(context.Context, time.Time) ([]model.RawEvent, error) {
	return s.events, s.err
}

type stubPatients struct {
	seeds []model.Seed
	err   error
}

func (s stubPatients) Patients(context.Context) ([]model.Seed, error) {
	return s.seeds, s.err
}

func TestServiceLoad(t *testing.T) {
	svc := &Service{
		Builder:  newTestBuilder("2025-05-01"),
		Events:   stubEvents{events: sampleEvents()},
		Patients: stubPatients{seeds: []model.Seed{{Name: "Elif Şahin", SurgeryDate: model.MustParseDate("2025-04-01")}}},
	}
	res, events, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, len(sampleEvents()))
	assert.Len(t, res.Patients, 3)
	assert.Equal(t, "Elif Şahin", res.Patients[0].Name)
}

func TestServiceLoadAbortsOnUpstreamFailure(t *testing.T) {
	boom := errors.New("connection refused")

	svc := &Service{
		Builder:  newTestBuilder("2025-05-01"),
		Events:   stubEvents{events: sampleEvents()},
		Patients: stubPatients{err: boom},
	}
	res, _, err := svc.Load(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstreamFetch)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, res.Patients)

	svc.Events = stubEvents{err: boom}
	svc.Patients = nil
	_, _, err = svc.Load(context.Background())
	assert.ErrorIs(t, err, ErrUpstreamFetch)
}

func TestServiceLoadSubstituteNeedsSeeds(t *testing.T) {
	b := newTestBuilder("2025-05-01")
	b.Mode = SeedSubstitute
	svc := &Service{Builder: b, Events: stubEvents{events: sampleEvents()}}

	res, _, err := svc.Load(context.Background())
	require.ErrorIs(t, err, ErrNoSeeds)
	assert.Nil(t, res.Patients)

	svc.Patients = stubPatients{}
	_, _, err = svc.Load(context.Background())
	require.ErrorIs(t, err, ErrNoSeeds)

	svc.Patients = stubPatients{seeds: []model.Seed{{Name: "Elif Şahin", SurgeryDate: model.MustParseDate("2025-04-01")}}}
	res, _, err = svc.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Patients, 1)
	assert.Equal(t, "Elif Şahin", res.Patients[0].Name)
}

type servedEvents struct{ stubEvents }

func (servedEvents) Served() string { return "snapshot" }

func TestServiceServed(t *testing.T) {
	svc := &Service{Builder: newTestBuilder("2025-05-01"), Events: stubEvents{}}
	assert.Empty(t, svc.Served())

	svc.Events = servedEvents{}
	assert.Equal(t, "snapshot", svc.Served())
}
