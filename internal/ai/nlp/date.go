package nlp

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var genitiveMonths = map[string]time.Month{
	"января":   time.January,
	"февраля":  time.February,
	"марта":    time.March,
	"апреля":   time.April,
	"мая":      time.May,
	"июня":     time.June,
	"июля":     time.July,
	"августа":  time.August,
	"сентября": time.September,
	"октября":  time.October,
	"ноября":   time.November,
	"декабря":  time.December,
}

var (
	isoDateRe     = regexp.MustCompile(`(\d{4})-(\d{1,2})-(\d{1,2})`)
	numericDateRe = regexp.MustCompile(`(\d{1,2})[./-](\d{1,2})[./-](\d{2,4})`)
	wordDateRe    = regexp.MustCompile(`(?i)(\d{1,2})\s+(января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)(?:\s+(\d{4}))?`)
	inDaysRe      = regexp.MustCompile(`(?i)через\s+(\d{1,3})\s+дн(?:ей|я|и|ь)`)
	inWeeksRe     = regexp.MustCompile(`(?i)через\s+(\d{1,2})\s+недел(?:ю|и|ь)`)
	// "послезавтра" must be tried before "завтра".
	relativeDayRe = regexp.MustCompile(`(?i)послезавтра|завтра|сегодня`)
)

type dateMatcher struct {
	re    *regexp.Regexp
	parse func(m []string, now time.Time) (time.Time, bool)
}

var dateMatchers = []dateMatcher{
	{isoDateRe, func(m []string, now time.Time) (time.Time, bool) {
		return calendarDate(atoi(m[1]), atoi(m[2]), atoi(m[3]), now.Location())
	}},
	{numericDateRe, func(m []string, now time.Time) (time.Time, bool) {
		year := atoi(m[3])
		switch len(m[3]) {
		case 2:
			year += 2000
		case 4:
		default:
			return time.Time{}, false
		}
		return calendarDate(year, atoi(m[2]), atoi(m[1]), now.Location())
	}},
	{wordDateRe, func(m []string, now time.Time) (time.Time, bool) {
		year := now.Year()
		if m[3] != "" {
			year = atoi(m[3])
		}
		return calendarDate(year, int(genitiveMonths[strings.ToLower(m[2])]), atoi(m[1]), now.Location())
	}},
	{inDaysRe, func(m []string, now time.Time) (time.Time, bool) {
		return midnight(now).AddDate(0, 0, atoi(m[1])), true
	}},
	{inWeeksRe, func(m []string, now time.Time) (time.Time, bool) {
		return midnight(now).AddDate(0, 0, 7*atoi(m[1])), true
	}},
	{relativeDayRe, func(m []string, now time.Time) (time.Time, bool) {
		switch strings.ToLower(m[0]) {
		case "завтра":
			return midnight(now).AddDate(0, 0, 1), true
		case "послезавтра":
			return midnight(now).AddDate(0, 0, 2), true
		default:
			return midnight(now), true
		}
	}},
}

// ExtractDate finds the first date expression in text. Results are at
// midnight in now's location; impossible dates such as 31.02 are skipped.
func ExtractDate(text string, now time.Time) (time.Time, bool) {
	d, _, ok := findDate(text, now)
	return d, ok
}

// ParseDate parses text that consists of a single date expression.
func ParseDate(text string, now time.Time) (time.Time, bool) {
	trimmed := strings.TrimSpace(text)
	d, loc, ok := findDate(trimmed, now)
	if !ok || loc[0] != 0 || loc[1] != len(trimmed) {
		return time.Time{}, false
	}
	return d, true
}

// AtHour returns date's calendar day in loc at hour:00.
func AtHour(date time.Time, hour int, loc *time.Location) time.Time {
	if loc == nil {
		loc = date.Location()
	}
	y, m, d := date.In(loc).Date()
	return time.Date(y, m, d, hour, 0, 0, 0, loc)
}

func findDate(text string, now time.Time) (time.Time, [2]int, bool) {
	for _, dm := range dateMatchers {
		for _, idx := range dm.re.FindAllStringSubmatchIndex(text, -1) {
			m := submatches(text, idx)
			if d, ok := dm.parse(m, now); ok {
				return d, [2]int{idx[0], idx[1]}, true
			}
		}
	}
	return time.Time{}, [2]int{}, false
}

// stripDates removes every date expression from text.
func stripDates(text string) string {
	for _, dm := range dateMatchers {
		text = dm.re.ReplaceAllString(text, " ")
	}
	return text
}

func submatches(text string, idx []int) []string {
	m := make([]string, len(idx)/2)
	for i := range m {
		if idx[2*i] >= 0 {
			m[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return m
}

func calendarDate(year, month, day int, loc *time.Location) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

func midnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location())
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
