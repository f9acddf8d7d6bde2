package intent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	lastNDaysRe = regexp.MustCompile(`(?i)(?:last|past)\s+(\d+)\s+days?`)
	daysAgoRe   = regexp.MustCompile(`(?i)(\d+)\s+days?\s+ago`)
)

// ExtractTimeRange resolves a relative time expression in text to an
// absolute window anchored at now. The caller's clock is the only time
// source; a model's notion of "now" is never trusted. Returns false when
// no expression is present.
func ExtractTimeRange(text string, now time.Time) (TimeRange, bool) {
	lower := strings.ToLower(text)

	if m := lastNDaysRe.FindStringSubmatch(lower); m != nil {
		days, err := strconv.Atoi(m[1])
		if err == nil && days > 0 {
			return TimeRange{
				Start: now.AddDate(0, 0, -days),
				End:   now,
				Label: "last " + m[1] + " days",
			}, true
		}
	}
	if m := daysAgoRe.FindStringSubmatch(lower); m != nil {
		days, err := strconv.Atoi(m[1])
		if err == nil && days > 0 {
			day := now.AddDate(0, 0, -days)
			return TimeRange{
				Start: startOfDay(day),
				End:   endOfDay(day),
				Label: m[1] + " days ago",
			}, true
		}
	}

	switch {
	case strings.Contains(lower, "this week"):
		return TimeRange{Start: startOfDay(startOfWeek(now)), End: now, Label: "this week"}, true
	case strings.Contains(lower, "last week"):
		start := startOfDay(startOfWeek(now).AddDate(0, 0, -7))
		return TimeRange{Start: start, End: endOfDay(start.AddDate(0, 0, 6)), Label: "last week"}, true
	case strings.Contains(lower, "this month"):
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return TimeRange{Start: start, End: now, Label: "this month"}, true
	case strings.Contains(lower, "yesterday"):
		day := now.AddDate(0, 0, -1)
		return TimeRange{Start: startOfDay(day), End: endOfDay(day), Label: "yesterday"}, true
	case strings.Contains(lower, "today"):
		return TimeRange{Start: startOfDay(now), End: now, Label: "today"}, true
	}
	return TimeRange{}, false
}

// startOfWeek is the Monday of now's week.
func startOfWeek(now time.Time) time.Time {
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday belongs to the preceding Monday's week
	}
	return now.AddDate(0, 0, -(weekday - 1))
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, t.Location())
}
