// Package dates produces the Danish day labels used in prompts and messages.
//
// The bot always works with the next 7 days starting today, in the configured
// time zone. Labels come in two variants: with an embedded date ("Man 01/09")
// for the assistant prompt, and bare weekday ("Man") for the outbound SMS.
package dates

import (
	"fmt"
	"time"
)

// WindowDays is the number of days covered by one forecast window.
const WindowDays = 7

// daDays maps time.Weekday (Sunday=0) to Danish three-letter day names.
var daDays = [7]string{"Søn", "Man", "Tir", "Ons", "Tor", "Fre", "Lør"}

// DayName returns the Danish short name for a weekday.
func DayName(d time.Weekday) string {
	return daDays[d]
}

// LabelsWithDates returns labels for the next 7 days starting at now,
// weekday plus day/month, e.g. "Man 01/09".
func LabelsWithDates(now time.Time) []string {
	labels := make([]string, WindowDays)
	for i := 0; i < WindowDays; i++ {
		d := now.AddDate(0, 0, i)
		labels[i] = fmt.Sprintf("%s %s", daDays[d.Weekday()], d.Format("02/01"))
	}
	return labels
}

// LabelsWithoutDates returns bare weekday labels for the next 7 days
// starting at now, e.g. "Man".
func LabelsWithoutDates(now time.Time) []string {
	labels := make([]string, WindowDays)
	for i := 0; i < WindowDays; i++ {
		labels[i] = daDays[now.AddDate(0, 0, i).Weekday()]
	}
	return labels
}
