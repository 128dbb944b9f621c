// Package classify assigns a category to a calendar event from its title,
// color and duration. It is the single home of the title rule cascade; all
// other packages call Classify instead of matching titles themselves.
package classify

import (
	"regexp"
	"strings"
	"time"

	"rinocal/internal/model"
	"rinocal/internal/names"
)

// SurgeryMinDuration is the event length from which an untagged event is
// treated as an operation.
const SurgeryMinDuration = 60 * time.Minute

// Keyword sets. Entries are matched against folded titles, so they are
// written in folded form (no diacritics, ı as i).
var (
	ignorePrefixes = []string{"ipt", "ert", "iptal", "ertelendi", "bilgi", "ℹ"}
	ignorePhrases  = []string{"hasta gorebiliriz", "hasta gorme", "hasta gorelim", "cikis", "yok", "gitmem", "vizite"}
	blockedWords   = []string{"xxx", "izin", "kongre", "toplanti", "off", "yokum", "cumartesi", "pazar"}
)

const (
	kwSurgery     = "ameliyat"
	kwSurgeryEn   = "surgery"
	kwExamination = "muayene"
	kwControl     = "kontrol"
	kwOnline      = "online"
	kwExam        = "exam"
)

var (
	clockPrefixRe   = regexp.MustCompile(`^\d{1,2}[:.]\d{2}`)
	controlMarkerRe = regexp.MustCompile(`^[kK]\d*(\s|$)`)
	monthMarkerRe   = regexp.MustCompile(`^\d+([.,]\d+)?m\s`)
	letterMarkerRe  = regexp.MustCompile(`^[mM]\s`)
	opPrefixRe      = regexp.MustCompile(`(?i)^op\s`)
)

// Classify maps an event to a category. It never fails: anything not caught
// by an earlier rule is an appointment. Zero start or end times mean the
// duration is unknown.
func Classify(title, color string, start, end time.Time) model.Category {
	folded := names.Fold(title)

	switch {
	case isIgnored(folded, color):
		return model.CategoryIgnore
	case containsAny(folded, blockedWords):
		return model.CategoryBlocked
	}

	if cat, ok := surgeryRule(title, folded, start, end); ok {
		return cat
	}

	if controlMarkerRe.MatchString(title) ||
		monthMarkerRe.MatchString(folded) ||
		strings.Contains(folded, kwControl) {
		return model.CategoryCheckup
	}

	// Appointment markers; same result as the default.
	if letterMarkerRe.MatchString(title) ||
		opPrefixRe.MatchString(title) ||
		containsAny(folded, []string{kwOnline, kwExamination, kwExam}) {
		return model.CategoryAppointment
	}

	return model.CategoryAppointment
}

// IsCancelledColor reports whether color is the reserved red token.
func IsCancelledColor(color string) bool {
	return color == model.ColorCancelled || strings.EqualFold(color, model.ColorCancelledHex)
}

func isIgnored(folded, color string) bool {
	if IsCancelledColor(color) {
		return true
	}
	for _, p := range ignorePrefixes {
		if strings.HasPrefix(folded, p) {
			return true
		}
	}
	return containsAny(folded, ignorePhrases)
}

// surgeryRule returns the category decided by the surgery stage, if any. A
// clock-time title mentioning an examination is decided here as an
// appointment.
func surgeryRule(title, folded string, start, end time.Time) (model.Category, bool) {
	if strings.Contains(title, names.SurgeryGlyph) ||
		strings.Contains(folded, kwSurgery) ||
		strings.Contains(folded, kwSurgeryEn) {
		return model.CategorySurgery, true
	}

	if clockPrefixRe.MatchString(title) {
		if strings.Contains(folded, kwExamination) {
			return model.CategoryAppointment, true
		}
		return model.CategorySurgery, true
	}

	if !start.IsZero() && !end.IsZero() && end.Sub(start) >= SurgeryMinDuration {
		if !strings.Contains(folded, kwControl) && !strings.Contains(folded, kwExamination) {
			return model.CategorySurgery, true
		}
	}

	return "", false
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
