package reminder

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency is how often a reminder is meant to repeat. The zero value means
// the user never picked one.
type Frequency string

const (
	FrequencyUnset   Frequency = ""
	FrequencyOnce    Frequency = "Once"
	FrequencyDaily   Frequency = "Daily"
	FrequencyWeekly  Frequency = "Weekly"
	FrequencyMonthly Frequency = "Monthly"
)

// ParseFrequency accepts the frequency names case-insensitively. An empty
// string yields FrequencyUnset.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return FrequencyUnset, nil
	case "once":
		return FrequencyOnce, nil
	case "daily":
		return FrequencyDaily, nil
	case "weekly":
		return FrequencyWeekly, nil
	case "monthly":
		return FrequencyMonthly, nil
	default:
		return FrequencyUnset, fmt.Errorf("unknown frequency %q", s)
	}
}

// Repeats reports whether the creation-time notification repeats. Anything
// other than Once repeats, including an unset frequency.
func (f Frequency) Repeats() bool {
	return f != FrequencyOnce
}

// MarshalJSON writes unset frequencies as null, matching blobs written by the app.
func (f Frequency) MarshalJSON() ([]byte, error) {
	if f == FrequencyUnset {
		return []byte("null"), nil
	}
	return json.Marshal(string(f))
}

// Reminder is the only persisted entity. Field names match the stored blob.
type Reminder struct {
	ID          string     `json:"id"`
	Description string     `json:"description"`
	Time        time.Time  `json:"time"`
	Message     string     `json:"message"`
	Frequency   Frequency  `json:"frequency"`
	LastFiredAt *time.Time `json:"lastFiredAt,omitempty"`
}

// Due reports whether the reminder's time is at or before now.
func (r Reminder) Due(now time.Time) bool {
	return !r.Time.After(now)
}

// NewID derives an id from the creation instant.
func NewID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// MessageFor builds the notification body shown for a description.
func MessageFor(description string) string {
	return "Reminder for " + description
}

// Combine takes the calendar day of date and the hour and minute of clock.
// Whatever day clock carries is ignored. Seconds are zeroed.
func Combine(date, clock time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	date = date.In(loc)
	clock = clock.In(loc)
	return time.Date(date.Year(), date.Month(), date.Day(), clock.Hour(), clock.Minute(), 0, 0, loc)
}

// SortByTimeDesc orders reminders latest first, the order the list view shows.
// The input slice is not modified.
func SortByTimeDesc(reminders []Reminder) []Reminder {
	sorted := make([]Reminder, len(reminders))
	copy(sorted, reminders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.After(sorted[j].Time)
	})
	return sorted
}

func uniqueID(reminders []Reminder, id string) string {
	taken := make(map[string]struct{}, len(reminders))
	for _, r := range reminders {
		taken[r.ID] = struct{}{}
	}
	if _, ok := taken[id]; !ok {
		return id
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}
