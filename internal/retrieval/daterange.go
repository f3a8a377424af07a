package retrieval

import (
	"strings"
	"time"

	"github.com/felixgeelhaar/larder/internal/entry"
)

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether the YYYY-MM-DD date lies inside the range.
// Unparseable dates are outside every range.
func (r DateRange) Contains(date string) bool {
	d, err := entry.ParseDate(date)
	if err != nil {
		return false
	}
	return !d.Before(entry.Truncate(r.Start)) && !d.After(entry.Truncate(r.End))
}

func (r DateRange) String() string {
	return r.Start.Format(entry.DateLayout) + ".." + r.End.Format(entry.DateLayout)
}

type phraseRule struct {
	phrases []string
	span    func(today time.Time) DateRange
}

// Rules are tried in order and the first match wins. Longer phrases come
// first so "last week" resolves to the previous Monday..Sunday and "past
// month" to the last 30 days, rather than both collapsing into the current
// week or month through the bare "week" and "month" phrases.
var phraseRules = []phraseRule{
	{[]string{"today"}, func(today time.Time) DateRange {
		return DateRange{today, today}
	}},
	{[]string{"yesterday"}, func(today time.Time) DateRange {
		y := today.AddDate(0, 0, -1)
		return DateRange{y, y}
	}},
	{[]string{"last week"}, func(today time.Time) DateRange {
		end := weekStart(today).AddDate(0, 0, -1)
		return DateRange{end.AddDate(0, 0, -6), end}
	}},
	{[]string{"past week", "last 7 days"}, func(today time.Time) DateRange {
		return DateRange{today.AddDate(0, 0, -7), today}
	}},
	{[]string{"this week", "week"}, func(today time.Time) DateRange {
		return DateRange{weekStart(today), today}
	}},
	{[]string{"past month", "last 30 days"}, func(today time.Time) DateRange {
		return DateRange{today.AddDate(0, 0, -30), today}
	}},
	{[]string{"this month", "month"}, func(today time.Time) DateRange {
		return DateRange{today.AddDate(0, 0, 1-today.Day()), today}
	}},
}

// ParseDateRange finds a relative date phrase in text and resolves it
// against now. Matching is a case-insensitive substring test.
func ParseDateRange(text string, now time.Time) (DateRange, bool) {
	lower := strings.ToLower(text)
	today := entry.Truncate(now)
	for _, rule := range phraseRules {
		for _, p := range rule.phrases {
			if strings.Contains(lower, p) {
				return rule.span(today), true
			}
		}
	}
	return DateRange{}, false
}

// weekStart returns the Monday on or before day.
func weekStart(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
