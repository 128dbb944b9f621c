package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	appLog "rinocal/internal/log"
	"rinocal/internal/model"
)

const pageSize = 2500

// Google reads and patches events through the Calendar v3 API.
type Google struct {
	svc        *calendar.Service
	calendarID string
	loc        *time.Location
}

// NewGoogle authenticates with a service account key file.
func NewGoogle(ctx context.Context, calendarID, credentialsFile string, loc *time.Location) (*Google, error) {
	if credentialsFile == "" {
		return nil, errors.New("google: credentials file is empty")
	}
	svc, err := calendar.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(calendar.CalendarEventsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("google: create calendar service: %w", err)
	}
	return NewGoogleWithService(svc, calendarID, loc), nil
}

// NewGoogleWithService wraps an existing service.
func NewGoogleWithService(svc *calendar.Service, calendarID string, loc *time.Location) *Google {
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	return &Google{svc: svc, calendarID: calendarID, loc: loc}
}

// Events lists single instances starting at since, following page tokens.
func (g *Google) Events(ctx context.Context, since time.Time) ([]model.RawEvent, error) {
	var out []model.RawEvent
	pageToken := ""
	pages := 0

	for {
		call := g.svc.Events.List(g.calendarID).
			TimeMin(since.Format(time.RFC3339)).
			MaxResults(pageSize).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		res, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("google: list events: %w", err)
		}
		pages++
		for _, item := range res.Items {
			out = append(out, g.convert(item))
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}

	appLog.Info("google calendar fetched", "calendar", g.calendarID, "pages", pages, "events", len(out))
	return out, nil
}

// UpdateDescription patches only the description of an event.
func (g *Google) UpdateDescription(ctx context.Context, eventID, text string) error {
	_, err := g.svc.Events.Patch(g.calendarID, eventID, &calendar.Event{Description: text}).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("google: patch event %s: %w", eventID, err)
	}
	return nil
}

// convert maps an API event. Unparseable times stay zero so the registry
// builder counts the event as malformed.
func (g *Google) convert(item *calendar.Event) model.RawEvent {
	ev := model.RawEvent{
		ID:          item.Id,
		Title:       item.Summary,
		Color:       item.ColorId,
		Location:    item.Location,
		Description: item.Description,
	}
	ev.Start, ev.AllDay = g.eventTime(item.Start)
	ev.End, _ = g.eventTime(item.End)
	return ev
}

func (g *Google) eventTime(t *calendar.EventDateTime) (time.Time, bool) {
	if t == nil {
		return time.Time{}, false
	}
	if t.DateTime != "" {
		v, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			appLog.Debug("google event time unparseable", "value", t.DateTime)
			return time.Time{}, false
		}
		return v.In(g.loc), false
	}
	if t.Date != "" {
		v, err := time.ParseInLocation(time.DateOnly, t.Date, g.loc)
		if err != nil {
			appLog.Debug("google event date unparseable", "value", t.Date)
			return time.Time{}, true
		}
		return v, true
	}
	return time.Time{}, false
}
