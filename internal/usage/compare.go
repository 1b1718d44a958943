package usage

import (
	"fmt"
	"strings"
)

// CompareKind selects how the two periods of a comparison are interpreted.
type CompareKind string

const (
	CompareMonth     CompareKind = "month"     // periods are "MM"
	CompareDate      CompareKind = "date"      // periods are "MM/DD"
	CompareTimeRange CompareKind = "timeRange" // periods are "MM/DD HH:mm-HH:mm"
)

// period is one resolved side of a comparison: a keyed series plus its total.
type period struct {
	label  string
	total  float64
	series map[string]float64
}

// Compare resolves two periods of the same kind, aligns them on a shared key
// axis (day-of-month for month comparisons, time-of-day otherwise; missing
// keys default to zero), and reports the delta and percentage change between
// the totals. Either side resolving to no data yields an "insufficient data"
// Text, never an error.
func (d *Dataset) Compare(kind CompareKind, first, second string) (Result, error) {
	a, err := d.resolvePeriod(kind, first)
	if err != nil {
		return nil, err
	}
	b, err := d.resolvePeriod(kind, second)
	if err != nil {
		return nil, err
	}

	if a == nil || b == nil {
		return &Text{Message: "Insufficient data for comparison. Please check that both periods are correct."}, nil
	}

	keyName := "time"
	if kind == CompareMonth {
		keyName = "day"
	}

	keySet := make(map[string]struct{})
	for k := range a.series {
		keySet[k] = struct{}{}
	}
	for k := range b.series {
		keySet[k] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sortKeys(keys, keyName)

	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, Row{Key: k, Values: []float64{a.series[k], b.series[k]}})
	}

	difference := round2(b.total - a.total)
	var percent float64
	if a.total != 0 {
		percent = round2(difference / a.total * 100)
	}

	lines := []string{
		"Comparison result:",
		fmt.Sprintf("First period: %s", a.label),
		fmt.Sprintf("Total usage: %.2f kW", a.total),
		fmt.Sprintf("\nSecond period: %s", b.label),
		fmt.Sprintf("Total usage: %.2f kW", b.total),
		"\nDifference analysis:",
		fmt.Sprintf("Usage difference: %+.2f kW", difference),
		fmt.Sprintf("Percentage change: %+.2f%%", percent),
	}

	return &Table{
		Summary:    strings.Join(lines, "\n"),
		KeyName:    keyName,
		ValueNames: []string{a.label, b.label},
		Rows:       rows,
		Chart:      &Chart{Kind: "Compare-LineChart", XKey: keyName, Label: "usage"},
	}, nil
}

// resolvePeriod turns one period spec into a keyed series. A nil period with
// nil error means "no data".
func (d *Dataset) resolvePeriod(kind CompareKind, spec string) (*period, error) {
	switch kind {
	case CompareMonth:
		if !monthArg.MatchString(spec) {
			return nil, fmt.Errorf("%w: month period must look like \"10\"", ErrBadArgument)
		}
		return d.monthPeriod(spec), nil

	case CompareDate:
		if !dateKey.MatchString(spec) {
			return nil, fmt.Errorf("%w: date period must look like \"10/01\"", ErrBadArgument)
		}
		return d.windowPeriod(spec, "00:00", "23:45", spec), nil

	case CompareTimeRange:
		date, start, end, err := parseTimeRangeSpec(spec)
		if err != nil {
			return nil, err
		}
		label := fmt.Sprintf("%s %s-%s", date, start, end)
		return d.windowPeriod(date, start, end, label), nil

	default:
		return nil, fmt.Errorf("%w: comparison type must be month, date or timeRange", ErrBadArgument)
	}
}

// monthPeriod aggregates per-day totals across one month, keyed by
// day-of-month (reusing the daily-by-month aggregation policy).
func (d *Dataset) monthPeriod(month string) *period {
	series := make(map[string]float64)
	var total float64
	found := false

	for _, day := range d.days {
		if monthOf(day.Date) != month {
			continue
		}
		found = true
		sum := round2(d.sumSamples(day))
		dayKey := strings.SplitN(day.Date, "/", 2)[1]
		series[dayKey] += sum
		total += sum
	}

	if !found {
		return nil
	}
	return &period{
		label:  fmt.Sprintf("month %s", month),
		total:  round2(total),
		series: series,
	}
}

// windowPeriod collects the samples of one date inside an inclusive
// time-of-day window, keyed by time.
func (d *Dataset) windowPeriod(date, start, end, label string) *period {
	day := d.day(date)
	if day == nil {
		return nil
	}

	series := make(map[string]float64)
	var total float64
	for _, sample := range day.Samples {
		if sample.Time < start || sample.Time > end {
			continue
		}
		series[sample.Time] = sample.Usage
		total += sample.Usage
	}

	if len(series) == 0 {
		return nil
	}
	return &period{label: label, total: round2(total), series: series}
}

// parseTimeRangeSpec splits "MM/DD HH:mm-HH:mm" into its parts.
func parseTimeRangeSpec(spec string) (date, start, end string, err error) {
	fields := strings.SplitN(spec, " ", 2)
	if len(fields) != 2 {
		return "", "", "", fmt.Errorf("%w: time range period must look like \"10/01 08:00-10:00\"", ErrBadArgument)
	}
	times := strings.SplitN(fields[1], "-", 2)
	if len(times) != 2 {
		return "", "", "", fmt.Errorf("%w: time range period must look like \"10/01 08:00-10:00\"", ErrBadArgument)
	}
	date, start, end = fields[0], times[0], times[1]
	if !dateKey.MatchString(date) || !timeArg.MatchString(start) || !timeArg.MatchString(end) {
		return "", "", "", fmt.Errorf("%w: time range period must look like \"10/01 08:00-10:00\"", ErrBadArgument)
	}
	return date, start, end, nil
}
