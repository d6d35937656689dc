package services

import (
	"time"

	"github.com/dadmatch/dadmatch/internal/database"
)

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// DayName returns the English weekday name for a 0..6 Sunday-first index.
func DayName(dayOfWeek int) string {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return ""
	}
	return dayNames[dayOfWeek]
}

// TimeSlotDisplay returns a human label for a time slot bucket.
func TimeSlotDisplay(slot database.TimeSlot) string {
	switch slot {
	case database.SlotMorning:
		return "Morning (8:00 - 12:00)"
	case database.SlotAfternoon:
		return "Afternoon (12:00 - 17:00)"
	case database.SlotEvening:
		return "Evening (17:00 - 21:00)"
	case database.SlotAllDay:
		return "All day"
	}
	return string(slot)
}

// NextOccurrence returns the next calendar date (midnight, in from's
// location) falling on the given weekday. A slot on today's weekday refers
// to next week, since the current day is already underway.
func NextOccurrence(dayOfWeek int, from time.Time) time.Time {
	if dayOfWeek < 0 || dayOfWeek > 6 {
		return time.Time{}
	}

	daysAhead := (dayOfWeek - int(from.Weekday()) + 7) % 7
	if daysAhead == 0 {
		daysAhead = 7
	}

	next := from.AddDate(0, 0, daysAhead)
	return time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, from.Location())
}
