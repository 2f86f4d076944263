package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Every extracted time normalizes to one UTC timestamp. Relative
// expressions ("in twenty minutes") resolve against the call's completion
// time, never against wall-clock processing time; bare clock times ("8 pm")
// resolve to their next occurrence after it.

var absoluteLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

var (
	relativeExpr = regexp.MustCompile(`(?i)\bin\s+(?:about\s+|around\s+)?([a-z0-9\- ]+?)\s*(minutes?|mins?|hours?|hrs?)\b`)
	halfHourExpr = regexp.MustCompile(`(?i)\bin\s+half\s+an?\s+hour\b`)
	oneHourExpr  = regexp.MustCompile(`(?i)\bin\s+an?\s+hour\b`)
	stampExpr    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:?\d{2})?\b`)
	amPmExpr     = regexp.MustCompile(`(?i)\b(\d{1,2})(?:[:.](\d{2}))?\s*([ap])\.?m\.?\b`)
	clock24Expr  = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\b`)

	amPmOnly    = regexp.MustCompile(`(?i)^\s*(\d{1,2})(?:[:.](\d{2}))?\s*([ap])\.?m\.?\s*$`)
	clock24Only = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)
)

// ParseTimeValue parses a structured time value: an absolute timestamp, a
// bare clock time, or (as a last resort) any expression FindTime would
// accept in free text.
func ParseTimeValue(s string, ref time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	ref = ref.UTC()

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	if m := amPmOnly.FindStringSubmatch(s); m != nil {
		return clockAfter(m[1], m[2], m[3], ref, false)
	}
	if m := clock24Only.FindStringSubmatch(s); m != nil {
		return clockAfter(m[1], m[2], "", ref, false)
	}
	return FindTime(s, ref)
}

// FindTime scans free text for the first resolvable time expression.
// Relative expressions win over absolute stamps, which win over clock
// times; within a category the leftmost parseable match wins.
func FindTime(text string, ref time.Time) (time.Time, bool) {
	ref = ref.UTC()
	lower := strings.ToLower(text)

	if halfHourExpr.MatchString(text) {
		return ref.Add(30 * time.Minute), true
	}
	for _, m := range relativeExpr.FindAllStringSubmatch(text, -1) {
		n, ok := parseCount(m[1])
		if !ok {
			continue
		}
		if strings.HasPrefix(strings.ToLower(m[2]), "h") {
			return ref.Add(time.Duration(n) * time.Hour), true
		}
		return ref.Add(time.Duration(n) * time.Minute), true
	}
	if oneHourExpr.MatchString(text) {
		return ref.Add(time.Hour), true
	}

	for _, m := range stampExpr.FindAllString(text, -1) {
		for _, layout := range absoluteLayouts {
			if t, err := time.Parse(layout, m); err == nil {
				return t.UTC(), true
			}
		}
	}

	tomorrow := strings.Contains(lower, "tomorrow")
	if m := amPmExpr.FindStringSubmatch(text); m != nil {
		if t, ok := clockAfter(m[1], m[2], m[3], ref, tomorrow); ok {
			return t, true
		}
	}
	if m := clock24Expr.FindStringSubmatch(text); m != nil {
		if t, ok := clockAfter(m[1], m[2], "", ref, tomorrow); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// clockAfter resolves a wall-clock reading to its next occurrence after
// ref. A "tomorrow" mention pushes a same-day resolution one day out.
func clockAfter(hourStr, minStr, meridiem string, ref time.Time, tomorrow bool) (time.Time, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return time.Time{}, false
	}
	minute := 0
	if minStr != "" {
		if minute, err = strconv.Atoi(minStr); err != nil {
			return time.Time{}, false
		}
	}
	switch strings.ToLower(meridiem) {
	case "a":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		hour = hour % 12
	case "p":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		hour = hour%12 + 12
	default:
		if hour > 23 {
			return time.Time{}, false
		}
	}
	if minute > 59 {
		return time.Time{}, false
	}

	t := time.Date(ref.Year(), ref.Month(), ref.Day(), hour, minute, 0, 0, time.UTC)
	if !t.After(ref) {
		t = t.Add(24 * time.Hour)
	} else if tomorrow {
		t = t.Add(24 * time.Hour)
	}
	return t, true
}

var numberWords = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "sixty": 60,
}

// parseCount reads a small count written as digits ("20"), a single word
// ("twenty"), or a tens-units pair ("twenty five", "twenty-five").
func parseCount(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", " ")))
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		n, ok := numberWords[fields[0]]
		return n, ok
	case 2:
		tens, ok := numberWords[fields[0]]
		if !ok || tens < 20 || tens%10 != 0 {
			return 0, false
		}
		units, ok := numberWords[fields[1]]
		if !ok || units > 9 {
			return 0, false
		}
		return tens + units, true
	}
	return 0, false
}
