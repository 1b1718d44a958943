package usage

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// HighUsageThreshold is the contract capacity in kW. HighUsage returns
// records strictly above it.
const HighUsageThreshold = 2000.0

var (
	monthArg = regexp.MustCompile(`^\d{2}$`)
	timeArg  = regexp.MustCompile(`^\d{2}:\d{2}$`)
)

// DailyByMonth sums usage per day for every date key in the given two-digit
// month. Rows are sorted ascending by date. Zero matching days yields an
// explicit no-data Text, not an error.
func (d *Dataset) DailyByMonth(month string) (Result, error) {
	if !monthArg.MatchString(month) {
		return nil, fmt.Errorf("%w: month must be two digits, e.g. \"04\"", ErrBadArgument)
	}

	totals := make(map[string]float64)
	for _, day := range d.days {
		if monthOf(day.Date) != month {
			continue
		}
		totals[day.Date] = round2(totals[day.Date] + d.sumSamples(day))
	}

	if len(totals) == 0 {
		return &Text{Message: fmt.Sprintf("No usage data found for month %s.", month)}, nil
	}

	dates := make([]string, 0, len(totals))
	for date := range totals {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	rows := make([]Row, 0, len(dates))
	lines := make([]string, 0, len(dates)+1)
	lines = append(lines, fmt.Sprintf("Daily usage for month %s:", month))
	for _, date := range dates {
		rows = append(rows, Row{Key: date, Values: []float64{totals[date]}})
		lines = append(lines, fmt.Sprintf("%s: %.2f kWh", date, totals[date]))
	}

	return &Table{
		Summary:    strings.Join(lines, "\n"),
		KeyName:    "date",
		ValueNames: []string{"usage"},
		Rows:       rows,
	}, nil
}

// YearlySummary accumulates total usage per month across the whole dataset.
// All twelve months are pre-seeded to zero, so callers always receive a
// complete chronological 12-row series plus a grand total - even for an
// empty dataset.
func (d *Dataset) YearlySummary() Result {
	months := make(map[string]float64, 12)
	for m := 1; m <= 12; m++ {
		months[fmt.Sprintf("%02d", m)] = 0
	}

	for _, day := range d.days {
		months[monthOf(day.Date)] += d.sumSamples(day)
	}

	var total float64
	rows := make([]Row, 0, 12)
	lines := []string{"Monthly usage:"}
	for m := 1; m <= 12; m++ {
		key := fmt.Sprintf("%02d", m)
		value := round2(months[key])
		total += months[key]
		rows = append(rows, Row{Key: key, Values: []float64{value}})
		lines = append(lines, fmt.Sprintf("%s: %.2f kW", key, value))
	}
	lines = append(lines, fmt.Sprintf("\nYearly total: %.2f kW", round2(total)))

	return &Table{
		Summary:    strings.Join(lines, "\n"),
		KeyName:    "month",
		ValueNames: []string{"totalUsage"},
		Rows:       rows,
		Chart:      &Chart{Kind: "BarChart", XKey: "month", Label: "totalUsage"},
	}
}

// HighUsage returns every individual sample whose value exceeds the fixed
// contract threshold, tagged with its date and time of day. The boundary is
// exclusive: a sample at exactly the threshold is not reported.
func (d *Dataset) HighUsage() Result {
	if len(d.days) == 0 {
		return &Text{Message: "No usage data found."}
	}

	var rows []Row
	lines := []string{"High usage records:"}
	for _, day := range d.days {
		for _, sample := range day.Samples {
			if math.IsNaN(sample.Usage) {
				d.logger.Warn("skipping invalid usage sample", "date", day.Date, "time", sample.Time)
				continue
			}
			if sample.Usage > HighUsageThreshold {
				value := round2(sample.Usage)
				rows = append(rows, Row{
					Key:    day.Date + " " + sample.Time,
					Values: []float64{value},
				})
				lines = append(lines, fmt.Sprintf("%s %s: %.2f kWh", day.Date, sample.Time, value))
			}
		}
	}

	if len(rows) == 0 {
		return &Text{Message: fmt.Sprintf("No records exceed %.0f kW.", HighUsageThreshold)}
	}

	return &Table{
		Summary:    strings.Join(lines, "\n"),
		KeyName:    "record",
		ValueNames: []string{"usage"},
		Rows:       rows,
	}
}

// TimeRange filters one date's samples into an inclusive [start, end]
// time-of-day window, matching the lexical "HH:mm" comparison used by the
// rest of the dataset, and returns the samples plus the window sum.
func (d *Dataset) TimeRange(date, start, end string) (Result, error) {
	if !dateKey.MatchString(date) {
		return nil, fmt.Errorf("%w: date must look like \"04/01\"", ErrBadArgument)
	}
	if !timeArg.MatchString(start) || !timeArg.MatchString(end) {
		return nil, fmt.Errorf("%w: times must look like \"08:00\"", ErrBadArgument)
	}

	day := d.day(date)
	if day == nil {
		return &Text{Message: fmt.Sprintf("No usage data found for %s.", date)}, nil
	}

	var rows []Row
	var total float64
	lines := []string{
		fmt.Sprintf("Date: %s", date),
		fmt.Sprintf("Time range: %s - %s", start, end),
		"Usage:",
	}
	for _, sample := range day.Samples {
		if sample.Time < start || sample.Time > end {
			continue
		}
		rows = append(rows, Row{Key: sample.Time, Values: []float64{sample.Usage}})
		lines = append(lines, fmt.Sprintf("%s: %g kWh", sample.Time, sample.Usage))
		total += sample.Usage
	}

	if len(rows) == 0 {
		return &Text{Message: fmt.Sprintf("No usage data found for %s between %s and %s.", date, start, end)}, nil
	}

	lines = append(lines, fmt.Sprintf("\nTotal usage: %.2f kWh", round2(total)))
	return &Table{
		Summary:    strings.Join(lines, "\n"),
		KeyName:    "time",
		ValueNames: []string{"usage"},
		Rows:       rows,
	}, nil
}

// sumSamples totals a day's samples, skipping malformed ones with a warning.
func (d *Dataset) sumSamples(day Day) float64 {
	var total float64
	for _, sample := range day.Samples {
		if math.IsNaN(sample.Usage) {
			d.logger.Warn("skipping invalid usage sample", "date", day.Date, "time", sample.Time)
			continue
		}
		total += sample.Usage
	}
	return total
}

// sortKeys orders comparison axis keys: numerically when every key is a
// number (day-of-month), by hour/minute for "HH:mm" keys, lexically
// otherwise.
func sortKeys(keys []string, keyName string) {
	switch keyName {
	case "day":
		sort.Slice(keys, func(i, j int) bool {
			a, _ := strconv.Atoi(keys[i])
			b, _ := strconv.Atoi(keys[j])
			return a < b
		})
	case "time":
		sort.Slice(keys, func(i, j int) bool {
			return timeMinutes(keys[i]) < timeMinutes(keys[j])
		})
	default:
		sort.Strings(keys)
	}
}

func timeMinutes(t string) int {
	parts := strings.SplitN(t, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	return h*60 + m
}
