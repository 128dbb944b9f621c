// Package source holds the collaborators that deliver calendar events and
// patient seeds: the Google Calendar API, the panel's patient-db endpoint,
// local seed files and a fallback chain over event sources.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appLog "rinocal/internal/log"
	"rinocal/internal/model"
	"rinocal/internal/registry"
)

// EventWriter writes a description back to a calendar event.
type EventWriter interface {
	UpdateDescription(ctx context.Context, eventID, text string) error
}

// ErrNoSource is returned by a Fallback with no sources.
var ErrNoSource = errors.New("no event source configured")

// Named labels an event source for logs and job reports.
type Named struct {
	Name   string
	Source registry.EventSource
}

// Fallback tries each source in order and returns the first snapshot that
// loads. The caller decides the order; a typical chain is the live
// calendar followed by the local snapshot store.
type Fallback struct {
	Sources []Named

	mu     sync.Mutex
	served string
}

// Events implements registry.EventSource.
func (f *Fallback) Events(ctx context.Context, since time.Time) ([]model.RawEvent, error) {
	if len(f.Sources) == 0 {
		return nil, ErrNoSource
	}

	var errs []error
	for _, s := range f.Sources {
		events, err := s.Source.Events(ctx, since)
		if err != nil {
			appLog.Warn("event source failed, trying next", "source", s.Name, "error", err.Error())
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		f.setServed(s.Name)
		if len(errs) > 0 {
			appLog.Info("events served by fallback source", "source", s.Name, "events", len(events))
		}
		return events, nil
	}
	f.setServed("")
	return nil, errors.Join(errs...)
}

// Served names the source that answered the last successful Events call.
func (f *Fallback) Served() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.served
}

func (f *Fallback) setServed(name string) {
	f.mu.Lock()
	f.served = name
	f.mu.Unlock()
}
