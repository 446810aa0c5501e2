package util

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize decomposes to NFD, strips combining marks and any other non-ASCII
// rune, turns punctuation into spaces, collapses whitespace and lowercases.
// The result only holds [a-z0-9_] and single spaces.
func Normalize(input string) string {
	// transform chains keep state, so one is built per call.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	s, _, err := transform.String(stripMarks, input)
	if err != nil {
		s = norm.NFD.String(input)
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r > unicode.MaxASCII && !unicode.IsSpace(r):
			// dropped without a separator, like an ascii/ignore encode
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func Tokenize(input string) []string {
	return strings.Fields(Normalize(input))
}

func SortedTokens(input string) string {
	tokens := Tokenize(input)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// TokenSortRatio is an order-invariant similarity in [0,100]: both strings are
// tokenized, sorted and re-joined, then compared with 2*LCS/(len(a)+len(b)).
func TokenSortRatio(a, b string) int {
	sa := SortedTokens(a)
	sb := SortedTokens(b)
	if sa == "" || sb == "" {
		return 0
	}
	if sa == sb {
		return 100
	}
	lcs := lcsLength(sa, sb)
	return int(math.Round(200 * float64(lcs) / float64(len(sa)+len(sb))))
}

func lcsLength(a, b string) int {
	if len(a) < len(b) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				cur[j] = prev[j-1] + 1
			case prev[j] >= cur[j-1]:
				cur[j] = prev[j]
			default:
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// TokenOverlap returns the sorted, de-duplicated tokens of input that appear in
// candidate, and those that do not.
func TokenOverlap(input, candidate string) (matched, missing []string) {
	have := map[string]struct{}{}
	for _, t := range Tokenize(candidate) {
		have[t] = struct{}{}
	}
	seen := map[string]struct{}{}
	matched = []string{}
	missing = []string{}
	for _, t := range Tokenize(input) {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := have[t]; ok {
			matched = append(matched, t)
		} else {
			missing = append(missing, t)
		}
	}
	sort.Strings(matched)
	sort.Strings(missing)
	return matched, missing
}

func IntPtr(v int) *int { return &v }
