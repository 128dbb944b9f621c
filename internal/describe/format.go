package describe

import (
	"fmt"

	"github.com/goodsign/monday"

	"rinocal/internal/model"
)

const dateLayout = "02 January 2006"

// FormatDate renders d as "02 Ocak 2025".
func FormatDate(d model.Date) string {
	if d.IsZero() {
		return noneText
	}
	return monday.Format(d.Time(), dateLayout, monday.LocaleTrTR)
}

// Elapsed describes the time from surgery to d in whole months ("3 ay"), or
// in days ("12 gün") when less than a month has passed.
func Elapsed(surgery, d model.Date) string {
	if months := fullMonths(surgery, d); months > 0 {
		return fmt.Sprintf("%d ay", months)
	}
	return fmt.Sprintf("%d gün", surgery.DaysUntil(d))
}

// fullMonths counts completed calendar months between from and to.
func fullMonths(from, to model.Date) int {
	if to.Before(from) {
		return -fullMonths(to, from)
	}
	m := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		m--
	}
	return m
}
