// Package usage implements the read-only electricity usage query tools.
//
// All queries operate on an immutable Dataset snapshot, so concurrent
// invocations never share mutable state. Malformed records are skipped with
// a logged warning, never treated as fatal.
package usage

import (
	"errors"
	"log/slog"
	"regexp"
	"sort"
)

// ErrBadArgument reports a malformed tool argument. The tool server turns it
// into a descriptive tool error result rather than a process failure.
var ErrBadArgument = errors.New("invalid argument")

// dateKey matches the "MM/DD" date keys used throughout the dataset.
var dateKey = regexp.MustCompile(`^(\d{2})/\d{2}$`)

// Sample is a single timestamped measurement within one day.
type Sample struct {
	Time  string  `json:"time"`  // "HH:mm"
	Usage float64 `json:"usage"` // kW
}

// Day holds all samples recorded for one date key.
type Day struct {
	Date    string   `json:"date"` // "MM/DD"
	Samples []Sample `json:"usageData"`
}

// Dataset is an immutable snapshot of usage days, safe for concurrent reads.
type Dataset struct {
	days   []Day
	logger *slog.Logger
}

// NewDataset builds a snapshot from the given days. Days with a malformed
// date key are dropped here so queries only ever see well-formed dates;
// sample-level validation stays in the queries, matching where each warning
// is most useful.
func NewDataset(days []Day, logger *slog.Logger) *Dataset {
	if logger == nil {
		logger = slog.Default()
	}

	valid := make([]Day, 0, len(days))
	for _, day := range days {
		if !dateKey.MatchString(day.Date) {
			logger.Warn("skipping day with invalid date format", "date", day.Date)
			continue
		}
		valid = append(valid, day)
	}

	sort.Slice(valid, func(i, j int) bool { return valid[i].Date < valid[j].Date })

	return &Dataset{days: valid, logger: logger}
}

// Len returns the number of valid days in the snapshot.
func (d *Dataset) Len() int {
	return len(d.days)
}

// day returns the samples for one date key, or nil if the date is absent.
func (d *Dataset) day(date string) *Day {
	i := sort.Search(len(d.days), func(i int) bool { return d.days[i].Date >= date })
	if i < len(d.days) && d.days[i].Date == date {
		return &d.days[i]
	}
	return nil
}

// monthOf returns the MM component of a valid date key.
func monthOf(date string) string {
	return dateKey.FindStringSubmatch(date)[1]
}

// round2 reproduces the dataset's two-decimal rounding convention.
func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}
