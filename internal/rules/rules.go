// Package rules holds the tenant rewrite rules applied to normalized text:
// word synonyms and blacklisted phrases.
package rules

import (
	"regexp"
	"sort"
	"strings"

	"reconcile/internal"
	"reconcile/internal/util"
)

type blacklistPhrase struct {
	phrase string
	re     *regexp.Regexp
}

// Compiled is a rule set prepared once per run. It is read-only after Compile
// and safe to share between goroutines.
type Compiled struct {
	synonyms  map[string]string
	blacklist []blacklistPhrase
}

func Compile(set internal.RuleSet) *Compiled {
	c := &Compiled{synonyms: make(map[string]string, len(set.Synonyms))}
	for orig, repl := range set.Synonyms {
		key := strings.ToLower(strings.TrimSpace(orig))
		repl = strings.TrimSpace(repl)
		if key == "" || repl == "" {
			continue
		}
		c.synonyms[key] = repl
	}

	seen := map[string]struct{}{}
	for _, raw := range set.Blacklist {
		phrase := util.Normalize(raw)
		if phrase == "" {
			continue
		}
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}
		c.blacklist = append(c.blacklist, blacklistPhrase{phrase: phrase, re: phrasePattern(phrase)})
	}
	sort.SliceStable(c.blacklist, func(i, j int) bool {
		return len(c.blacklist[i].phrase) > len(c.blacklist[j].phrase)
	})
	return c
}

func phrasePattern(phrase string) *regexp.Regexp {
	words := strings.Fields(phrase)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?i)\b` + strings.Join(words, `\s+`) + `\b`)
}

// Apply runs synonyms then the blacklist over already normalized text.
func (c *Compiled) Apply(text string) (string, []internal.AppliedSynonym, []string) {
	rewritten, applied := c.ApplySynonyms(text)
	filtered, removed := c.RemoveBlacklist(rewritten)
	return filtered, applied, removed
}

func (c *Compiled) ApplySynonyms(text string) (string, []internal.AppliedSynonym) {
	tokens := strings.Fields(text)
	applied := []internal.AppliedSynonym{}
	if len(c.synonyms) == 0 {
		return strings.Join(tokens, " "), applied
	}
	for i, tok := range tokens {
		repl, ok := c.synonyms[strings.ToLower(tok)]
		if !ok {
			continue
		}
		applied = append(applied, internal.AppliedSynonym{Original: tok, Replacement: repl})
		tokens[i] = repl
	}
	return strings.Join(tokens, " "), applied
}

func (c *Compiled) RemoveBlacklist(text string) (string, []string) {
	removed := []string{}
	for _, bp := range c.blacklist {
		if !bp.re.MatchString(text) {
			continue
		}
		text = bp.re.ReplaceAllString(text, " ")
		removed = append(removed, bp.phrase)
	}
	return strings.Join(strings.Fields(text), " "), removed
}

func (c *Compiled) BlacklistSize() int {
	return len(c.blacklist)
}

func (c *Compiled) SynonymCount() int {
	return len(c.synonyms)
}

func ApplySynonyms(text string, synonyms map[string]string) (string, []internal.AppliedSynonym) {
	return Compile(internal.RuleSet{Synonyms: synonyms}).ApplySynonyms(text)
}

func RemoveBlacklist(text string, phrases []string) (string, []string) {
	return Compile(internal.RuleSet{Blacklist: phrases}).RemoveBlacklist(text)
}
