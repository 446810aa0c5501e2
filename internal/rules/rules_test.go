package rules

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reconcile/internal"
)

func TestApplySynonyms(t *testing.T) {
	text, applied := ApplySynonyms("rosas red premium Rosas", map[string]string{"ROSAS": "roses", "premium": "select grade"})
	assert.Equal(t, "roses red select grade roses", text)
	assert.Equal(t, []internal.AppliedSynonym{
		{Original: "rosas", Replacement: "roses"},
		{Original: "premium", Replacement: "select grade"},
		{Original: "Rosas", Replacement: "roses"},
	}, applied)
}

func TestApplySynonymsMultiWordNotRetokenized(t *testing.T) {
	text, applied := ApplySynonyms("a b", map[string]string{"a": "b c", "b": "x"})
	assert.Equal(t, "b c x", text)
	assert.Len(t, applied, 2)
}

func TestRemoveBlacklist(t *testing.T) {
	cases := []struct {
		name        string
		text        string
		phrases     []string
		wantText    string
		wantRemoved []string
	}{
		{name: "word boundary", text: "the color is nice", phrases: []string{"or"}, wantText: "the color is nice", wantRemoved: []string{}},
		{name: "longest first", text: "roses grade a red", phrases: []string{"grade", "grade a"}, wantText: "roses red", wantRemoved: []string{"grade a"}},
		{name: "case insensitive", text: "red AND white roses", phrases: []string{"and", "or", "the"}, wantText: "red white roses", wantRemoved: []string{"and"}},
		{name: "repeated occurrences", text: "and roses and and tulips", phrases: []string{"and"}, wantText: "roses tulips", wantRemoved: []string{"and"}},
		{name: "duplicates are no-ops", text: "red roses", phrases: []string{"red", "Red", "red"}, wantText: "roses", wantRemoved: []string{"red"}},
		{name: "stable tie-break", text: "aa bb cc", phrases: []string{"bb", "aa"}, wantText: "cc", wantRemoved: []string{"bb", "aa"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, removed := RemoveBlacklist(tc.text, tc.phrases)
			assert.Equal(t, tc.wantText, text)
			assert.Equal(t, tc.wantRemoved, removed)
		})
	}
}

func TestCompiledDeterministic(t *testing.T) {
	set := internal.RuleSet{
		Synonyms:  map[string]string{"rosas": "roses", "rojo": "red"},
		Blacklist: []string{"and", "the", "box of"},
	}
	c := Compile(set)
	assert.Equal(t, 2, c.SynonymCount())
	assert.Equal(t, 3, c.BlacklistSize())
	text1, applied1, removed1 := c.Apply("the box of rosas and rojo tulips")
	text2, applied2, removed2 := Compile(set).Apply("the box of rosas and rojo tulips")

	assert.Equal(t, "roses red tulips", text1)
	assert.Equal(t, text1, text2)
	assert.Equal(t, applied1, applied2)
	assert.Equal(t, removed1, removed2)
	assert.Equal(t, []string{"box of", "and", "the"}, removed1)
}

func TestParseAction(t *testing.T) {
	rule, err := ParseAction(internal.ActionSynonym, "Rosas = roses")
	require.NoError(t, err)
	assert.Equal(t, internal.Rule{Action: internal.ActionSynonym, Original: "rosas", Replacement: "roses"}, rule)

	rule, err = ParseAction(internal.ActionSynonym, "rojo:red")
	require.NoError(t, err)
	assert.Equal(t, "rojo", rule.Original)

	rule, err = ParseAction("BLACKLIST", " Premium ")
	require.NoError(t, err)
	assert.Equal(t, internal.Rule{Action: internal.ActionBlacklist, Original: "premium"}, rule)

	_, err = ParseAction(internal.ActionSynonym, "rosas>roses")
	assert.True(t, internal.IsKind(err, internal.KindValidation))

	_, err = ParseAction(internal.ActionSynonym, "nope")
	assert.True(t, internal.IsKind(err, internal.KindValidation))

	_, err = ParseAction("rename", "x")
	assert.True(t, internal.IsKind(err, internal.KindValidation))
}

func TestMerge(t *testing.T) {
	base := internal.RuleSet{Synonyms: map[string]string{"a": "b"}, Blacklist: []string{"x"}}
	out := Merge(base, internal.Rule{Action: internal.ActionSynonym, Original: "a", Replacement: "c"})
	assert.Equal(t, "c", out.Synonyms["a"])
	assert.Equal(t, "b", base.Synonyms["a"])

	out = Merge(out, internal.Rule{Action: internal.ActionBlacklist, Original: "X"})
	assert.Equal(t, []string{"x"}, out.Blacklist)
	out = Merge(out, internal.Rule{Action: internal.ActionBlacklist, Original: "premium"})
	assert.Equal(t, []string{"x", "premium"}, out.Blacklist)
}

type memStore struct {
	sets map[internal.Tenant]internal.RuleSet
}

func (m *memStore) GetRules(_ context.Context, tenant internal.Tenant) (internal.RuleSet, error) {
	return m.sets[tenant], nil
}

func (m *memStore) UpsertRule(_ context.Context, tenant internal.Tenant, rule internal.Rule) error {
	m.sets[tenant] = Merge(m.sets[tenant], rule)
	return nil
}

func TestExportImportAcrossTenants(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			store := &memStore{sets: map[internal.Tenant]internal.RuleSet{
				"acme": {Synonyms: map[string]string{"rosas": "roses"}, Blacklist: []string{"and", "the"}},
			}}
			var buf bytes.Buffer
			require.NoError(t, Export(context.Background(), store, "acme", &buf, format))

			n, err := Import(context.Background(), store, "globex", &buf, format)
			require.NoError(t, err)
			assert.Equal(t, 3, n)
			assert.Equal(t, store.sets["acme"].Synonyms, store.sets["globex"].Synonyms)
			assert.Equal(t, []string{"and", "the"}, store.sets["globex"].Blacklist)
		})
	}
}

func TestDecodeDictionaryJSON(t *testing.T) {
	in := `{"synonyms": {"ROSAS": "roses", "": "x"}, "blacklist": {"input": ["and", " "]}}`
	set, err := DecodeDictionary(strings.NewReader(in), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"rosas": "roses"}, set.Synonyms)
	assert.Equal(t, []string{"and"}, set.Blacklist)

	_, err = DecodeDictionary(strings.NewReader("{"), FormatJSON)
	assert.True(t, internal.IsKind(err, internal.KindValidation))
}

func TestDecodeDictionaryFoldsCaseVariants(t *testing.T) {
	for i := 0; i < 20; i++ {
		in := `{"synonyms": {"Rose": "rosa", "rose": "rose", "ROSE": "ROSA", "Lirio": "lily", "LIRIO": "lilium"}}`
		set, err := DecodeDictionary(strings.NewReader(in), FormatJSON)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{"rose": "rose", "lirio": "lilium"}, set.Synonyms)
	}
}

func TestFormatFromPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFromPath("rules.YML"))
	assert.Equal(t, FormatJSON, FormatFromPath("rules.json"))
}
