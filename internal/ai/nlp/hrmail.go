package nlp

import (
	"regexp"
	"strings"
	"time"
)

// HRNotice is a dismissal extracted from an HR e-mail. SAM is set only when
// the mail names the account explicitly; otherwise FIO has to be resolved
// against the directory.
type HRNotice struct {
	FIO  string
	SAM  string
	Date time.Time
}

var (
	dismissalRe = regexp.MustCompile(`(?i)увол|последний\s+рабочий\s+день`)
	samRe       = regexp.MustCompile(`(?i)sam\s*[:=]\s*([a-z0-9_.\-]+)`)
	// Runs of capitalised Cyrillic words; stop words are trimmed afterwards.
	capitalRunRe = regexp.MustCompile(`[А-ЯЁ][а-яё]+(?:[ \t]+[А-ЯЁ][а-яё]+)+`)
)

// Sentence openers that can precede a name in a capitalised run.
var fioStopPrefixes = []string{
	"увол", "просьба", "прошу", "сотрудник", "уважаем", "последн", "добр",
	"коллег", "здравствуй", "приказ", "дата", "тема",
}

// ParseHRMail extracts a dismissal notice from an e-mail subject and body.
// The text must mention a dismissal and a date, and name the employee either
// by "sam: login" or by a two or three word full name.
func ParseHRMail(subject, body string, now time.Time) (HRNotice, bool) {
	text := subject + "\n" + body
	if !dismissalRe.MatchString(text) {
		return HRNotice{}, false
	}

	date, ok := ExtractDate(text, now)
	if !ok {
		return HRNotice{}, false
	}

	notice := HRNotice{Date: date, FIO: findFIO(text)}
	if m := samRe.FindStringSubmatch(text); m != nil {
		notice.SAM = strings.ToLower(m[1])
	}
	if notice.SAM == "" && notice.FIO == "" {
		return HRNotice{}, false
	}
	return notice, true
}

func findFIO(text string) string {
	for _, run := range capitalRunRe.FindAllString(text, -1) {
		words := strings.Fields(run)
		for len(words) > 0 && isStopWord(words[0]) {
			words = words[1:]
		}
		if len(words) > 3 {
			words = words[:3]
		}
		if len(words) >= 2 {
			return strings.Join(words, " ")
		}
	}
	return ""
}

func isStopWord(word string) bool {
	lower := strings.ToLower(word)
	for _, p := range fioStopPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}
