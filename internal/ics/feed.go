package ics

import (
	"context"
	"fmt"
	"sort"
	"time"

	appLog "rinocal/internal/log"
	"rinocal/internal/model"
)

// DefaultHorizon is how far past today recurring events are expanded.
const DefaultHorizon = 365 * 24 * time.Hour

// Feed reads events from published iCal feeds. It is the read-only
// alternative to the calendar API when no service account is configured.
type Feed struct {
	Fetcher  *Fetcher
	Sources  []Source
	Location *time.Location
	Horizon  time.Duration
	Now      func() time.Time
}

// Events fetches every source and returns single instances starting at or
// after since, ordered by start time. A failing source fails the whole read
// so the registry is never built from a partial calendar.
func (f *Feed) Events(ctx context.Context, since time.Time) ([]model.RawEvent, error) {
	if len(f.Sources) == 0 {
		return nil, fmt.Errorf("ics: no feeds configured")
	}
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	horizon := f.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}

	var parsed []ParsedEvent
	for _, src := range f.Sources {
		res, err := f.Fetcher.Fetch(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("ics: fetch %s: %w", src.ID, err)
		}
		evs, err := ParseICS(src, res.Body)
		if err != nil {
			return nil, fmt.Errorf("ics: parse %s: %w", src.ID, err)
		}
		parsed = append(parsed, evs...)
	}

	res, err := ExpandOccurrences(parsed, ExpandConfig{
		Location:   loc,
		RangeStart: since,
		RangeEnd:   now().Add(horizon),
	})
	if err != nil {
		return nil, err
	}

	out := res.Events[:0]
	for _, ev := range res.Events {
		if ev.Start.Before(since) {
			continue
		}
		out = append(out, ev)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	appLog.Info("ics feed loaded", "sources", len(f.Sources), "events", len(out))
	return out, nil
}
