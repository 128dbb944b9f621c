// Package describe renders the status note written into a control visit's
// calendar description and merges it into existing text without disturbing
// what staff wrote by hand.
package describe

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"rinocal/internal/fuzzy"
	"rinocal/internal/model"
)

// Markers delimit the automated block inside a description.
const (
	StartMarker = "[otomatik-not]"
	EndMarker   = "[/otomatik-not]"
)

// PriorMaxDistance is the edit distance within which an earlier control
// title is considered the same patient.
const PriorMaxDistance = 2

const (
	signature  = "Bu bilgiler otomasyon tarafından oluşturulmuştur."
	disclaimer = "Hasta otomatik olarak seçilmedi; lütfen doğru kaydı kontrol edin."
	noneText   = "Yok"
	bullet     = "👉🏻"
)

// Outcome classifies a match result.
type Outcome int

const (
	NoMatch Outcome = iota
	SingleMatch
	Ambiguous
)

func (o Outcome) String() string {
	switch o {
	case SingleMatch:
		return "single"
	case Ambiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// OutcomeOf returns the outcome for a set of matched patients.
func OutcomeOf(matches []*model.PatientRecord) Outcome {
	switch len(matches) {
	case 0:
		return NoMatch
	case 1:
		return SingleMatch
	default:
		return Ambiguous
	}
}

// Context carries what the note needs besides the matched patients.
type Context struct {
	VisitDate model.Date
	// PriorControls are earlier control events, most recent first.
	PriorControls []model.RawEvent
	// Location is used to date PriorControls.
	Location *time.Location
}

var controlTitleRe = regexp.MustCompile(`^([kK]\d*|\d+(?:[.,]\d+)?[mM])\s+(.+)$`)

// ParseControlTitle splits a control title such as "k1 Ahmet Yılmaz" or
// "1.5m Fatma Demir" into its marker and the patient name.
func ParseControlTitle(title string) (marker, name string, ok bool) {
	m := controlTitleRe.FindStringSubmatch(strings.TrimSpace(title))
	if m == nil {
		return "", "", false
	}
	name = strings.TrimSpace(m[2])
	if name == "" {
		return "", "", false
	}
	return m[1], name, true
}

// Synthesize renders the automated block for the match outcome. It returns
// false when nothing should be written.
func Synthesize(matches []*model.PatientRecord, c Context) (string, bool) {
	var body string
	switch OutcomeOf(matches) {
	case NoMatch:
		return "", false
	case SingleMatch:
		body = statusNote(matches[0], c)
	default:
		body = disambiguationNote(matches)
	}
	return StartMarker + "\n" + body + "\n" + EndMarker, true
}

func statusNote(p *model.PatientRecord, c Context) string {
	prev := noneText
	if len(c.PriorControls) > 0 {
		d := c.PriorControls[0].Day(c.Location)
		prev = fmt.Sprintf("%s (%s)", FormatDate(d), Elapsed(p.SurgeryDate, d))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Hastanın ameliyat tarihi: %s\n", bullet, FormatDate(p.SurgeryDate))
	fmt.Fprintf(&b, "%s Kontrol süresi: %s\n", bullet, Elapsed(p.SurgeryDate, c.VisitDate))
	fmt.Fprintf(&b, "%s Bir önceki kontrol zamanı: %s\n", bullet, prev)
	b.WriteString("\n")
	b.WriteString(signature)
	return b.String()
}

func disambiguationNote(matches []*model.PatientRecord) string {
	var b strings.Builder
	b.WriteString("⚠️ Birden fazla hasta eşleşti:\n")
	for i, p := range matches {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, FormatDate(p.SurgeryDate), p.Name)
	}
	b.WriteString("\n")
	b.WriteString(disclaimer)
	return b.String()
}

// PriorControls returns control events for the same patient dated strictly
// before the visit, most recent first. name is the patient name taken from
// the visit title.
func PriorControls(events []model.RawEvent, visit model.RawEvent, name string, loc *time.Location) []model.RawEvent {
	visitDay := visit.Day(loc)
	key := fuzzy.Key(name)

	var out []model.RawEvent
	for _, ev := range events {
		if (visit.ID != "" && ev.ID == visit.ID) || ev.Start.IsZero() {
			continue
		}
		if !ev.Day(loc).Before(visitDay) {
			continue
		}
		_, other, ok := ParseControlTitle(ev.Title)
		if !ok {
			continue
		}
		if fuzzy.Distance(fuzzy.Key(other), key) <= PriorMaxDistance {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.After(out[j].Start)
	})
	return out
}

// Merge replaces any automated block in text with block. Text outside the
// markers is kept; what stood before and after the old block is joined with
// a blank line and the new block is appended. A start marker without an end
// marker is treated as a block running to the end of the text.
func Merge(text, block string) string {
	base := Strip(text)
	if base == "" {
		return block
	}
	return base + "\n\n" + block
}

// Strip removes every automated block from text.
func Strip(text string) string {
	for strings.Contains(text, StartMarker) {
		text = stripOne(text)
	}
	return strings.TrimSpace(text)
}

func stripOne(text string) string {
	start := strings.Index(text, StartMarker)

	before := strings.TrimSpace(text[:start])
	after := ""
	rest := text[start+len(StartMarker):]
	if end := strings.Index(rest, EndMarker); end >= 0 {
		after = strings.TrimSpace(rest[end+len(EndMarker):])
	}

	switch {
	case before == "":
		return after
	case after == "":
		return before
	default:
		return before + "\n\n" + after
	}
}
