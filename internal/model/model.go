package model

import (
	"errors"
	"time"
)

// ErrMalformedEvent is returned by RawEvent.Validate for events that cannot
// take part in classification or registry building.
var ErrMalformedEvent = errors.New("malformed event")

// Category is the outcome of event classification.
type Category string

const (
	CategorySurgery     Category = "surgery"
	CategoryCheckup     Category = "checkup"
	CategoryAppointment Category = "appointment"
	CategoryBlocked     Category = "blocked"
	CategoryIgnore      Category = "ignore"
)

// Categories lists every category in cascade order.
var Categories = []Category{
	CategoryIgnore,
	CategoryBlocked,
	CategorySurgery,
	CategoryCheckup,
	CategoryAppointment,
}

// ControlStatus describes the state of a follow-up visit.
type ControlStatus string

const (
	StatusAttended  ControlStatus = "attended"
	StatusCancelled ControlStatus = "cancelled"
	StatusPlanned   ControlStatus = "planned"
)

// Reserved calendar color tokens. Google Calendar exposes colors as ids;
// some sources (backups, ICS COLOR) carry the hex value instead.
const (
	ColorSurgery      = "4"
	ColorCancelled    = "11"
	ColorCancelledHex = "#dc2127"
)

// ColorHex maps Google Calendar event color ids to their hex values.
var ColorHex = map[string]string{
	"1": "#a4bdfc", "2": "#46a67a", "3": "#dbadff", "4": "#ff887c",
	"5": "#fbd75b", "6": "#ffb878", "7": "#46d6db", "8": "#e1e1e1",
	"9": "#5484ed", "10": "#3d8b3d", "11": "#dc2127",
}

// RawEvent is a single concrete calendar event as delivered by a calendar
// source. Recurring events are already expanded into instances.
type RawEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Color       string    `json:"color,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Validate reports ErrMalformedEvent when the event lacks a start or end.
func (e RawEvent) Validate() error {
	if e.Start.IsZero() || e.End.IsZero() {
		return ErrMalformedEvent
	}
	return nil
}

// Day returns the civil date the event starts on in loc.
func (e RawEvent) Day(loc *time.Location) Date {
	return DateOf(e.Start, loc)
}

// ControlRecord is one post-operative follow-up visit of a patient.
type ControlRecord struct {
	Date   Date          `json:"date"`
	Status ControlStatus `json:"status"`
	Title  string        `json:"title"`
	Label  string        `json:"label"`
}

// PatientRecord is a registry entry created from a surgery seed.
type PatientRecord struct {
	Name        string          `json:"name"`
	SurgeryDate Date            `json:"surgeryDate"`
	Hospital    string          `json:"hospital,omitempty"`
	Controls    []ControlRecord `json:"controls"`
}

// Seed is a patient record delivered by a patient source.
type Seed struct {
	Name        string `json:"name" yaml:"name"`
	SurgeryDate Date   `json:"date" yaml:"date"`
	Hospital    string `json:"hospital,omitempty" yaml:"hospital,omitempty"`
}

// Record converts the seed into a registry record without controls.
func (s Seed) Record() *PatientRecord {
	return &PatientRecord{
		Name:        s.Name,
		SurgeryDate: s.SurgeryDate,
		Hospital:    s.Hospital,
		Controls:    []ControlRecord{},
	}
}
