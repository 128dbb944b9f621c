// Package updater runs the daily job that writes a status note into the
// description of every control visit scheduled for today.
package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rinocal/internal/describe"
	"rinocal/internal/fuzzy"
	appLog "rinocal/internal/log"
	"rinocal/internal/model"
	"rinocal/internal/names"
	"rinocal/internal/registry"
	"rinocal/internal/source"
)

// ErrEmptyPatientDB aborts a run; without patients no visit can be matched.
var ErrEmptyPatientDB = errors.New("patient database is empty")

// Update statuses.
const (
	StatusUpdated   = "updated"
	StatusUnchanged = "unchanged"
	StatusDryRun    = "dry-run"
	StatusFailed    = "failed"
)

// Update describes what happened to one visit.
type Update struct {
	EventID string `json:"eventId"`
	Event   string `json:"event"`
	Patient string `json:"patient,omitempty"`
	Outcome string `json:"outcome"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Report is the result of one run.
type Report struct {
	Success       bool     `json:"success"`
	Date          string   `json:"date"`
	Source        string   `json:"source"`
	Calendar      string   `json:"calendar,omitempty"`
	Processed     int      `json:"processed"`
	PatientDBSize int      `json:"patientDBSize"`
	Updates       []Update `json:"updates"`
}

// Job wires the collaborators of a run.
type Job struct {
	Events   registry.EventSource
	Writer   source.EventWriter
	Patients registry.PatientSource
	// SourceName labels Patients in the report.
	SourceName string
	Matcher    fuzzy.Matcher
	Location   *time.Location
	// Since bounds the event fetch; earlier controls are looked up in it.
	Since  time.Time
	Now    func() time.Time
	DryRun bool

	// mu serializes runs started by the scheduler and the HTTP trigger.
	mu sync.Mutex
}

// Run processes today's visits in the practice timezone. Fetch failures and
// an empty patient database abort the run; a failed patch is recorded and
// the run continues.
func (j *Job) Run(ctx context.Context) (Report, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	loc := j.location()
	today := model.DateOf(j.now(), loc)
	report := Report{Date: today.String(), Source: j.SourceName, Updates: []Update{}}

	seeds, err := j.Patients.Patients(ctx)
	if err != nil {
		return report, fmt.Errorf("%w: patient db: %w", registry.ErrUpstreamFetch, err)
	}
	if len(seeds) == 0 {
		return report, ErrEmptyPatientDB
	}
	report.PatientDBSize = len(seeds)
	db := make([]*model.PatientRecord, 0, len(seeds))
	for _, s := range seeds {
		db = append(db, s.Record())
	}
	appLog.Info("updater: patient db loaded", "source", j.SourceName, "patients", len(db))

	events, err := j.Events.Events(ctx, j.Since)
	if err != nil {
		return report, fmt.Errorf("%w: calendar events: %w", registry.ErrUpstreamFetch, err)
	}
	if s, ok := j.Events.(interface{ Served() string }); ok {
		report.Calendar = s.Served()
	}

	for _, ev := range events {
		if ev.Start.IsZero() || !ev.Day(loc).Equal(today) {
			continue
		}
		report.Processed++
		if u, ok := j.process(ctx, ev, events, db, today, loc); ok {
			report.Updates = append(report.Updates, u)
		}
	}

	report.Success = true
	appLog.Info("updater: run finished",
		"date", report.Date,
		"processed", report.Processed,
		"updates", len(report.Updates),
	)
	return report, nil
}

func (j *Job) process(ctx context.Context, ev model.RawEvent, all []model.RawEvent, db []*model.PatientRecord, today model.Date, loc *time.Location) (Update, bool) {
	if skipTitle(ev.Title) {
		return Update{}, false
	}
	_, name, ok := describe.ParseControlTitle(ev.Title)
	if !ok {
		return Update{}, false
	}

	matches := fuzzy.All(j.Matcher, name, db, func(p *model.PatientRecord) string { return p.Name })
	outcome := describe.OutcomeOf(matches)
	note, ok := describe.Synthesize(matches, describe.Context{
		VisitDate:     today,
		PriorControls: describe.PriorControls(all, ev, name, loc),
		Location:      loc,
	})
	if !ok {
		appLog.Info("updater: no patient matched", "event", ev.Title)
		return Update{}, false
	}

	u := Update{EventID: ev.ID, Event: ev.Title, Outcome: outcome.String()}
	if outcome == describe.SingleMatch {
		u.Patient = matches[0].Name
	}

	merged := describe.Merge(ev.Description, note)
	switch {
	case merged == ev.Description:
		u.Status = StatusUnchanged
	case j.DryRun || j.Writer == nil:
		u.Status = StatusDryRun
	default:
		if err := j.Writer.UpdateDescription(ctx, ev.ID, merged); err != nil {
			appLog.Error("updater: description patch failed", err, "event_id", ev.ID)
			u.Status = StatusFailed
			u.Error = err.Error()
		} else {
			u.Status = StatusUpdated
		}
	}
	return u, true
}

func skipTitle(title string) bool {
	t := names.Fold(title)
	return strings.Contains(t, "ameliyat") || strings.Contains(t, "ilk muayene")
}

func (j *Job) location() *time.Location {
	if j.Location == nil {
		return time.Local
	}
	return j.Location
}

func (j *Job) now() time.Time {
	if j.Now == nil {
		return time.Now()
	}
	return j.Now()
}
