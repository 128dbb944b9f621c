package registry

import (
	"math"
	"strconv"

	"rinocal/internal/model"
)

// InvalidLabel is returned for a control dated before its surgery.
const InvalidLabel = "?"

// ControlLabel summarizes the time between surgery and a control visit as
// days (under a week), weeks (up to 25 days) or months.
func ControlLabel(surgery, control model.Date) string {
	d := surgery.DaysUntil(control)
	switch {
	case d < 0:
		return InvalidLabel
	case d < 7:
		return strconv.Itoa(d) + "d"
	case d <= 25:
		return strconv.Itoa(int(math.Round(float64(d)/7))) + "w"
	default:
		return strconv.Itoa(int(math.Round(float64(d)/30))) + "m"
	}
}
