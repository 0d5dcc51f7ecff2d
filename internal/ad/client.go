// Package ad talks to Active Directory through PowerShell, either on the
// local host or over WinRM.
package ad

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"admin-activead/internal/metrics"

	"github.com/rs/zerolog/log"
)

// maxSearchResults caps how many directory entries are ranked per search.
const maxSearchResults = 100

// User is the subset of an AD account the bot works with.
type User struct {
	SamAccountName    string `json:"SamAccountName"`
	DisplayName       string `json:"DisplayName"`
	DistinguishedName string `json:"DistinguishedName"`
	Enabled           bool   `json:"Enabled"`
}

// Label is how a user is shown on buttons and matched by fuzzy search.
func (u User) Label() string {
	if u.DisplayName == "" {
		return u.SamAccountName
	}
	return u.DisplayName + " (" + u.SamAccountName + ")"
}

// Client runs the bot's AD operations through a Runner.
type Client struct {
	runner     Runner
	searchBase string
	timeout    time.Duration
	metrics    *metrics.Metrics
}

// New returns a client. A zero timeout means scripts run until ctx ends.
func New(runner Runner, searchBase string, timeout time.Duration, m *metrics.Metrics) *Client {
	return &Client{runner: runner, searchBase: searchBase, timeout: timeout, metrics: m}
}

// SearchCandidates finds accounts matching a free-form name and returns at
// most limit of them, best match first.
func (c *Client) SearchCandidates(ctx context.Context, query string, limit int) ([]User, error) {
	stems := searchStems(query)
	if len(stems) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(stems)*3)
	for _, s := range stems {
		for _, attr := range []string{"DisplayName", "SamAccountName", "Name"} {
			clauses = append(clauses, fmt.Sprintf("(%s -like '*%s*')", attr, s))
		}
	}
	filter := strings.Join(clauses, " -or ")

	script := fmt.Sprintf(`Import-Module ActiveDirectory;
Get-ADUser -Filter '%s' -SearchBase '%s' -Properties DisplayName,Enabled |
  Select-Object -First %d SamAccountName, DisplayName, DistinguishedName, Enabled |
  ConvertTo-Json -Compress`, PSEscape(filter), PSEscape(c.searchBase), maxSearchResults)

	out, err := c.run(ctx, "search", script)
	if err != nil {
		return nil, err
	}

	users, err := decodeUsers(out)
	if err != nil {
		return nil, err
	}

	ranked := rankCandidates(query, users, limit)
	log.Debug().
		Str("query", query).
		Int("found", len(users)).
		Int("ranked", len(ranked)).
		Msg("AD search")
	return ranked, nil
}

// ResetPassword sets a new password for sam, optionally forcing a change at
// next logon.
func (c *Client) ResetPassword(ctx context.Context, sam, password string, forceChange bool) error {
	var sb strings.Builder
	sb.WriteString("Import-Module ActiveDirectory;\n")
	fmt.Fprintf(&sb, "$sam = '%s';\n", PSEscape(sam))
	fmt.Fprintf(&sb, "$pwd = ConvertTo-SecureString '%s' -AsPlainText -Force;\n", PSEscape(password))
	sb.WriteString("Set-ADAccountPassword -Identity $sam -Reset -NewPassword $pwd;\n")
	if forceChange {
		sb.WriteString("Set-ADUser -Identity $sam -ChangePasswordAtLogon $true;\n")
	}
	sb.WriteString(`Write-Output "OK"`)

	if _, err := c.run(ctx, "reset", sb.String()); err != nil {
		return fmt.Errorf("reset password for %s: %w", sam, err)
	}
	log.Info().Str("sam", sam).Bool("force_change", forceChange).Msg("AD password reset")
	return nil
}

// DisableAccount disables the account sam.
func (c *Client) DisableAccount(ctx context.Context, sam string) error {
	script := fmt.Sprintf("Import-Module ActiveDirectory;\nDisable-ADAccount -Identity '%s';\nWrite-Output \"OK\"", PSEscape(sam))
	if _, err := c.run(ctx, "disable", script); err != nil {
		return fmt.Errorf("disable account %s: %w", sam, err)
	}
	log.Info().Str("sam", sam).Msg("AD account disabled")
	return nil
}

func (c *Client) run(ctx context.Context, op, script string) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	out, err := c.runner.Run(ctx, script)
	c.metrics.ObserveAD(op, started, err)
	if err != nil {
		log.Error().Err(err).Str("op", op).Dur("took", time.Since(started)).Msg("AD script failed")
		return "", err
	}
	return out, nil
}

// decodeUsers accepts ConvertTo-Json output, which is a bare object for a
// single result and an array otherwise.
func decodeUsers(raw string) ([]User, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "\ufeff"))
	if raw == "" {
		return nil, nil
	}

	var users []User
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &users); err != nil {
			return nil, fmt.Errorf("decode AD users: %w", err)
		}
	} else {
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("decode AD user: %w", err)
		}
		users = []User{u}
	}

	if len(users) > maxSearchResults {
		users = users[:maxSearchResults]
	}
	return users, nil
}

// searchStems reduces the words of query to filter-safe stems. Long words
// lose their last two letters so that inflected Russian names ("Устиновой")
// still match the nominative form in the directory.
func searchStems(query string) []string {
	var stems []string
	for _, word := range strings.Fields(query) {
		word = strings.Map(func(r rune) rune {
			if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_' {
				return r
			}
			return -1
		}, word)
		n := utf8.RuneCountInString(word)
		if n < 2 {
			continue
		}
		if n > 4 {
			runes := []rune(word)
			word = string(runes[:n-2])
		}
		stems = append(stems, word)
	}
	return stems
}
