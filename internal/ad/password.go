package ad

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	upperChars   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerChars   = "abcdefghijklmnopqrstuvwxyz"
	digitChars   = "0123456789"
	specialChars = "!@#$%^&*"

	minPasswordLength     = 9
	defaultPasswordLength = 12
)

// GeneratePassword returns a random password that satisfies the default AD
// complexity policy: at least one upper-case letter, lower-case letter,
// digit and special character. Lengths below 9 fall back to 12.
func GeneratePassword(length int) (string, error) {
	if length < minPasswordLength {
		length = defaultPasswordLength
	}

	pool := upperChars + lowerChars + digitChars + specialChars
	out := make([]byte, 0, length)
	for _, set := range []string{upperChars, lowerChars, digitChars, specialChars} {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}
	for len(out) < length {
		c, err := pick(pool)
		if err != nil {
			return "", err
		}
		out = append(out, c)
	}

	for i := len(out) - 1; i > 0; i-- {
		j, err := randInt(i + 1)
		if err != nil {
			return "", err
		}
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

// PSEscape makes s safe inside a single-quoted PowerShell string.
func PSEscape(s string) string {
	return strings.NewReplacer("`", "``", "'", "''").Replace(s)
}

func pick(set string) (byte, error) {
	i, err := randInt(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

func randInt(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("read random: %w", err)
	}
	return int(v.Int64()), nil
}
