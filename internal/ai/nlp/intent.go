package nlp

import (
	"regexp"
	"strings"
)

// Intent is the action a free-text request asks for.
type Intent string

const (
	IntentNone           Intent = ""
	IntentResetPassword  Intent = "reset_password"
	IntentDisableAccount Intent = "disable_account"
)

var (
	resetPhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)смени\s+пароль`),
		regexp.MustCompile(`(?i)сброс(?:ь|ить)\s+пароль`),
		regexp.MustCompile(`(?i)reset\s+pass(?:word)?`),
	}
	disablePhrases = []*regexp.Regexp{
		regexp.MustCompile(`(?i)заблокируй`),
		regexp.MustCompile(`(?i)отключи`),
		regexp.MustCompile(`(?i)disable\s+account`),
		regexp.MustCompile(`(?i)увол(?:ена|ен|ить)`),
	}
)

// Prepositions left dangling once a date is cut out of the name,
// as in "заблокируй Иванова с 01.09.2025".
var danglingWords = map[string]bool{
	"с": true, "c": true, "на": true, "до": true, "от": true, "в": true, "со": true,
}

// DetectIntent classifies text. Password resets take precedence.
func DetectIntent(text string) Intent {
	for _, re := range resetPhrases {
		if re.MatchString(text) {
			return IntentResetPassword
		}
	}
	for _, re := range disablePhrases {
		if re.MatchString(text) {
			return IntentDisableAccount
		}
	}
	return IntentNone
}

// ExtractNameQuery returns what follows the first intent phrase found in
// text, with date expressions removed. It is empty when no name is left.
func ExtractNameQuery(text string) string {
	for _, re := range intentPhrases() {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		rest := text[loc[1]:]
		if rest == "" || !startsWithSpace(rest) {
			continue
		}
		return cleanName(stripDates(rest))
	}
	return ""
}

func startsWithSpace(s string) bool {
	return strings.TrimLeft(s, " \t\r\n") != s
}

func cleanName(s string) string {
	words := strings.Fields(strings.Trim(s, " \t\r\n,.;:!?"))
	for len(words) > 0 && danglingWords[strings.ToLower(words[len(words)-1])] {
		words = words[:len(words)-1]
	}
	for len(words) > 0 && danglingWords[strings.ToLower(words[0])] {
		words = words[1:]
	}
	return strings.Trim(strings.Join(words, " "), ",.;:!?")
}

// RemoveDates strips date expressions and dangling prepositions from text,
// leaving whatever names it contained.
func RemoveDates(text string) string {
	return cleanName(stripDates(text))
}

// NameQuery is ExtractNameQuery with a fallback for names written before
// the intent phrase, as in "Сидоров уволен с 01.09.2025".
func NameQuery(text string) string {
	if q := ExtractNameQuery(text); q != "" {
		return q
	}
	rest := text
	for _, re := range intentPhrases() {
		rest = re.ReplaceAllString(rest, " ")
	}
	return RemoveDates(rest)
}

func intentPhrases() []*regexp.Regexp {
	return append(append([]*regexp.Regexp{}, resetPhrases...), disablePhrases...)
}
