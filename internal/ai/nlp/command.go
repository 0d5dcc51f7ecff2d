// Package nlp turns chat messages and HR e-mails into bot actions: typed
// commands and reply-button labels, free-text intents, target names and
// Russian date expressions.
package nlp

import (
	"strings"
)

// Canonical command names produced by ParseCommand.
const (
	CommandReset   = "reset"
	CommandDisable = "disable"
	CommandJobs    = "jobs"
	CommandAdmin   = "admin"
)

type alias struct {
	phrase  string
	command string
}

// Longer phrases come first so "reset password" wins over "reset".
var aliases = []alias{
	{"reset password", CommandReset},
	{"schedule block", CommandDisable},
	{"admin menu", CommandAdmin},
	{"list jobs", CommandJobs},
	{"disable", CommandDisable},
	{"reset", CommandReset},
	{"block", CommandDisable},
	{"admin", CommandAdmin},
	{"jobs", CommandJobs},
}

// ParseCommand maps typed text or a reply-button label to a canonical
// command and its whitespace separated arguments. Unknown text yields an
// empty command and the text itself as the only argument.
func ParseCommand(text string) (string, []string) {
	trimmed := strings.TrimSpace(text)
	for _, a := range aliases {
		if len(trimmed) < len(a.phrase) || !strings.EqualFold(trimmed[:len(a.phrase)], a.phrase) {
			continue
		}
		args := strings.Fields(trimmed[len(a.phrase):])
		if args == nil {
			args = []string{}
		}
		return a.command, args
	}
	return "", []string{text}
}
