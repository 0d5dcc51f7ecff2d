package ad

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

const (
	minCandidateScore = 0.55
	subsequenceBonus  = 0.1
)

type scored struct {
	user  User
	score float64
	exact bool
}

// rankCandidates orders users by similarity to query. Each query word is
// compared with every word of the user's label and the best ratio counts;
// labels that also contain the query as a subsequence get a bonus. A user
// whose login equals the query always comes first.
func rankCandidates(query string, users []User, limit int) []User {
	q := strings.ToLower(strings.TrimSpace(query))
	qWords := nameWords(q)
	if len(qWords) == 0 || len(users) == 0 {
		return nil
	}

	labels := make([]string, len(users))
	for i, u := range users {
		labels[i] = strings.ToLower(u.Label())
	}
	bonus := make(map[int]bool)
	for _, m := range fuzzy.Find(q, labels) {
		bonus[m.Index] = true
	}

	var ranked []scored
	for i, u := range users {
		s := scored{user: u, exact: strings.EqualFold(u.SamAccountName, q)}
		s.score = wordSimilarity(qWords, nameWords(labels[i]))
		if bonus[i] {
			s.score += subsequenceBonus
		}
		if !s.exact && s.score < minCandidateScore {
			continue
		}
		ranked = append(ranked, s)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].exact != ranked[j].exact {
			return ranked[i].exact
		}
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].user.DisplayName < ranked[j].user.DisplayName
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]User, len(ranked))
	for i, s := range ranked {
		out[i] = s.user
	}
	return out
}

func wordSimilarity(query, label []string) float64 {
	if len(label) == 0 {
		return 0
	}
	total := 0.0
	for _, qw := range query {
		best := 0.0
		for _, lw := range label {
			r := levenshtein.RatioForStrings([]rune(qw), []rune(lw), levenshtein.DefaultOptions)
			if r > best {
				best = r
			}
		}
		total += best
	}
	return total / float64(len(query))
}

func nameWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-')
	})
}
