package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "rinocal/internal/log"
	"rinocal/internal/model"
)

// ErrUpstreamFetch marks a failed fetch from the calendar or patient source.
// A registry is never built from partial input.
var ErrUpstreamFetch = errors.New("upstream fetch failed")

// ErrNoSeeds means substitute mode has no patient seeds to build from.
var ErrNoSeeds = errors.New("substitute mode has no patient seeds")

// EventSource delivers a calendar snapshot starting at since.
type EventSource interface {
	Events(ctx context.Context, since time.Time) ([]model.RawEvent, error)
}

// PatientSource delivers patient seed records.
type PatientSource interface {
	Patients(ctx context.Context) ([]model.Seed, error)
}

// Service fetches a fresh snapshot and builds the registry from it.
type Service struct {
	Builder *Builder
	Events  EventSource
	// Patients is optional in supplement mode; without it only calendar
	// seeds are used. Substitute mode requires it.
	Patients PatientSource
	// Since is the lower bound passed to the event source.
	Since time.Time
}

// Load fetches events (and seeds, when configured) and builds the registry.
// Any fetch failure aborts the whole build, as does substitute mode without
// seeds.
func (s *Service) Load(ctx context.Context) (Result, []model.RawEvent, error) {
	substitute := s.Builder.Mode == SeedSubstitute
	if substitute && s.Patients == nil {
		return Result{}, nil, fmt.Errorf("%w: no patient source configured", ErrNoSeeds)
	}

	events, err := s.Events.Events(ctx, s.Since)
	if err != nil {
		return Result{}, nil, fmt.Errorf("%w: calendar events: %w", ErrUpstreamFetch, err)
	}

	var seeds []model.Seed
	if s.Patients != nil {
		seeds, err = s.Patients.Patients(ctx)
		if err != nil {
			return Result{}, nil, fmt.Errorf("%w: patient source: %w", ErrUpstreamFetch, err)
		}
	}
	if substitute && len(seeds) == 0 {
		return Result{}, nil, fmt.Errorf("%w: patient source returned none", ErrNoSeeds)
	}

	res := s.Builder.Build(events, seeds)
	appLog.Info("registry built",
		"events", len(events),
		"seeds", len(seeds),
		"patients", len(res.Patients),
		"conflicts", len(res.Conflicts),
		"skipped", res.Skipped,
	)
	return res, events, nil
}

// Served names the event source behind the last Load when Events is a
// fallback chain, and is empty otherwise.
func (s *Service) Served() string {
	if sv, ok := s.Events.(interface{ Served() string }); ok {
		return sv.Served()
	}
	return ""
}
