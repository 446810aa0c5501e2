package util

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var normalizedShape = regexp.MustCompile(`^([a-z0-9_]+( [a-z0-9_]+)*)?$`)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{name: "accents", input: "Crème Brûlée  Rosé", want: "creme brulee rose"},
		{name: "punctuation", input: "Red-Roses, 60cm (x25)", want: "red roses 60cm x25"},
		{name: "underscore kept", input: "grade_a", want: "grade_a"},
		{name: "symbols only", input: "¿¡ -- !! ??", want: ""},
		{name: "empty", input: "", want: ""},
		{name: "tabs and newlines", input: "\tRED\n\nroses premium ", want: "red roses premium"},
		{name: "non ascii letter dropped", input: "straße", want: "strae"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.input))
		})
	}
}

func TestNormalizeIdempotentAndASCII(t *testing.T) {
	inputs := []string{
		"Flowers ROSES red Premium",
		"Ñandú  café—crème",
		"   ",
		"a.b.c",
		"日本語 roses",
		"Grade A/B   (Special) ***",
		"ç̧̧ combining",
	}
	for _, in := range inputs {
		once := Normalize(in)
		require.Equal(t, once, Normalize(once), "input %q", in)
		require.Regexp(t, normalizedShape, once, "input %q", in)
	}
}

func TestTokenSortRatio(t *testing.T) {
	assert.Equal(t, 100, TokenSortRatio("roses red premium flowers", "flowers roses red premium"))
	assert.Equal(t, 94, TokenSortRatio("red roses", "red rose"))
	assert.Equal(t, 0, TokenSortRatio("", "red roses"))
	assert.Equal(t, 0, TokenSortRatio("red", ""))
	assert.Less(t, TokenSortRatio("tulips yellow", "roses red premium"), 60)
}

func TestTokenOverlap(t *testing.T) {
	matched, missing := TokenOverlap("red roses premium red", "flowers roses red")
	assert.Equal(t, []string{"red", "roses"}, matched)
	assert.Equal(t, []string{"premium"}, missing)

	matched, missing = TokenOverlap("", "roses")
	assert.Empty(t, matched)
	assert.Empty(t, missing)
}
