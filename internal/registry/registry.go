// Package registry builds the patient registry from calendar events: surgery
// events seed patient records, later events mentioning a patient become
// control visits.
package registry

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"rinocal/internal/classify"
	appLog "rinocal/internal/log"
	"rinocal/internal/model"
	"rinocal/internal/names"
)

// DefaultHospital is used when no hospital keyword matches.
const DefaultHospital = "Asya"

// SeedMode controls how patient-source seeds combine with calendar seeds.
type SeedMode string

const (
	// SeedSupplement inserts source seeds first, then adds calendar seeds
	// for names the source does not know.
	SeedSupplement SeedMode = "supplement"
	// SeedSubstitute uses only source seeds; surgery extraction is skipped.
	SeedSubstitute SeedMode = "substitute"
)

var (
	procedureRe  = regexp.MustCompile(`(?i)rino|revizyon|otoplasti|blef|tiplasti|septorin|septum|^op\s`)
	excludeRe    = regexp.MustCompile(`(?i)^k\d|^kontrol|botoks|dolgu`)
	leadClockRe  = regexp.MustCompile(`^\d{1,2}[:.]\d{2}\s*(` + names.SurgeryGlyph + `)?`)
	leadOpRe     = regexp.MustCompile(`(?i)^op\s+`)
	nameSplitSet = "/|"
)

// hospitalRule maps keywords found in an event's location or title to a
// hospital name. Rules are checked in order.
type hospitalRule struct {
	hospital string
	location []string
	title    []string
}

var hospitalRules = []hospitalRule{
	{hospital: "BHT", location: []string{"bht"}, title: []string{"bht"}},
	{hospital: "Bağcılar", location: []string{"bagcilar", "medipol"}, title: []string{"bagcilar"}},
	{hospital: "ICH", location: []string{"ich"}, title: []string{"ich"}},
	{hospital: "Medistanbul", location: []string{"medistanbul"}, title: []string{"medistanbul"}},
}

// Builder turns an event snapshot into an ordered patient list.
type Builder struct {
	// Location is the practice timezone used to derive event dates.
	Location *time.Location
	// DefaultHospital overrides the package default when set.
	DefaultHospital string
	// Now returns the reference time for planned/attended status.
	Now func() time.Time
	// Mode decides how seeds passed to Build are used.
	Mode SeedMode
}

// Conflict records a surgery seed that was not merged because a patient with
// the same canonical name already existed.
type Conflict struct {
	Name        string     `json:"name"`
	KeptDate    model.Date `json:"keptDate"`
	IgnoredDate model.Date `json:"ignoredDate"`
	EventID     string     `json:"eventId,omitempty"`
}

// Result is the outcome of a registry build.
type Result struct {
	Patients  []*model.PatientRecord
	Conflicts []Conflict
	// Skipped counts malformed events left out of the build.
	Skipped int
}

// NewBuilder returns a Builder for loc using the wall clock.
func NewBuilder(loc *time.Location) *Builder {
	return &Builder{Location: loc, Now: time.Now, Mode: SeedSupplement}
}

// Build runs surgery extraction, control correlation and ordering over
// events. seeds may be nil. Build does not modify its inputs and returns
// structurally identical results for identical inputs.
func (b *Builder) Build(events []model.RawEvent, seeds []model.Seed) Result {
	loc := b.location()
	var res Result

	valid := make([]model.RawEvent, 0, len(events))
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			appLog.Debug("registry: skipping event", "id", ev.ID, "title", ev.Title, "reason", err.Error())
			res.Skipped++
			continue
		}
		valid = append(valid, ev)
	}

	idx := newIndex()
	for _, s := range seeds {
		if strings.TrimSpace(s.Name) == "" || s.SurgeryDate.IsZero() {
			continue
		}
		rec := s.Record()
		if rec.Hospital == "" {
			rec.Hospital = b.defaultHospital()
		}
		if c, dup := idx.add(rec); dup {
			res.Conflicts = append(res.Conflicts, c)
		}
	}

	if b.Mode != SeedSubstitute {
		for _, ev := range valid {
			rec, ok := b.surgerySeed(ev, loc)
			if !ok {
				continue
			}
			if c, dup := idx.add(rec); dup {
				c.EventID = ev.ID
				res.Conflicts = append(res.Conflicts, c)
			}
		}
	}

	today := model.DateOf(b.now(), loc)
	for _, ev := range valid {
		b.correlate(ev, idx, today, loc)
	}

	res.Patients = idx.sorted()
	for _, c := range res.Conflicts {
		appLog.Warn("registry: duplicate surgery seed not merged",
			"name", c.Name,
			"kept_date", c.KeptDate.String(),
			"ignored_date", c.IgnoredDate.String(),
		)
	}
	return res
}

// IsSurgerySeed reports whether ev should create a patient record. The
// surgery glyph always wins over the control/cosmetic exclusions.
func IsSurgerySeed(ev model.RawEvent) bool {
	hasGlyph := strings.Contains(ev.Title, names.SurgeryGlyph)
	strong := ev.Color == model.ColorSurgery || hasGlyph || procedureRe.MatchString(ev.Title)
	if !strong {
		return false
	}
	return hasGlyph || !excludeRe.MatchString(ev.Title)
}

// SeedName extracts the canonical patient name from a surgery title. The
// second result is false when fewer than two name tokens remain.
func SeedName(title string) (string, bool) {
	clean := leadClockRe.ReplaceAllString(title, "")
	clean = leadOpRe.ReplaceAllString(strings.TrimSpace(clean), "")
	if i := strings.IndexAny(clean, nameSplitSet); i >= 0 {
		clean = clean[:i]
	}
	name := names.Normalize(strings.TrimSpace(clean))
	if names.TokenCount(name) < 2 {
		return "", false
	}
	return name, true
}

// Hospital infers the hospital of a surgery event, falling back to def.
func Hospital(ev model.RawEvent, def string) string {
	loc := names.Fold(ev.Location)
	title := names.Fold(ev.Title)
	for _, r := range hospitalRules {
		if containsAny(loc, r.location) || containsAny(title, r.title) {
			return r.hospital
		}
	}
	return def
}

func (b *Builder) surgerySeed(ev model.RawEvent, loc *time.Location) (*model.PatientRecord, bool) {
	if !IsSurgerySeed(ev) {
		return nil, false
	}
	name, ok := SeedName(ev.Title)
	if !ok {
		return nil, false
	}
	return &model.PatientRecord{
		Name:        name,
		SurgeryDate: ev.Day(loc),
		Hospital:    Hospital(ev, b.defaultHospital()),
		Controls:    []model.ControlRecord{},
	}, true
}

func (b *Builder) correlate(ev model.RawEvent, idx *index, today model.Date, loc *time.Location) {
	title := names.Fold(ev.Title)
	date := ev.Day(loc)

	for _, key := range idx.order {
		p := idx.byKey[key]
		if !strings.Contains(title, key) || !date.After(p.SurgeryDate) {
			continue
		}
		if hasControlOn(p, date) {
			continue
		}

		status := model.StatusAttended
		switch {
		case classify.IsCancelledColor(ev.Color):
			status = model.StatusCancelled
		case date.After(today):
			status = model.StatusPlanned
		}

		p.Controls = append(p.Controls, model.ControlRecord{
			Date:   date,
			Status: status,
			Title:  ev.Title,
			Label:  ControlLabel(p.SurgeryDate, date),
		})
	}
}

func hasControlOn(p *model.PatientRecord, d model.Date) bool {
	for _, c := range p.Controls {
		if c.Date.Equal(d) {
			return true
		}
	}
	return false
}

func (b *Builder) location() *time.Location {
	if b.Location == nil {
		return time.Local
	}
	return b.Location
}

func (b *Builder) defaultHospital() string {
	if b.DefaultHospital == "" {
		return DefaultHospital
	}
	return b.DefaultHospital
}

func (b *Builder) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

// index keeps patients keyed by folded name in first-seen order.
type index struct {
	byKey map[string]*model.PatientRecord
	order []string
}

func newIndex() *index {
	return &index{byKey: make(map[string]*model.PatientRecord)}
}

func (x *index) add(rec *model.PatientRecord) (Conflict, bool) {
	key := names.Fold(rec.Name)
	if existing, ok := x.byKey[key]; ok {
		if existing.SurgeryDate.Equal(rec.SurgeryDate) {
			return Conflict{}, false
		}
		return Conflict{Name: existing.Name, KeptDate: existing.SurgeryDate, IgnoredDate: rec.SurgeryDate}, true
	}
	x.byKey[key] = rec
	x.order = append(x.order, key)
	return Conflict{}, false
}

func (x *index) sorted() []*model.PatientRecord {
	out := make([]*model.PatientRecord, 0, len(x.order))
	for _, key := range x.order {
		p := x.byKey[key]
		sort.SliceStable(p.Controls, func(i, j int) bool {
			return p.Controls[i].Date.Before(p.Controls[j].Date)
		})
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].SurgeryDate.Equal(out[j].SurgeryDate) {
			return out[i].SurgeryDate.After(out[j].SurgeryDate)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
