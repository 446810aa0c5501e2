package rules

import (
	"strings"

	"reconcile/internal"
	"reconcile/internal/util"
)

// ParseAction turns a reviewer's pending action on a row into a rule.
// Synonym payloads are "original=replacement" ("original:replacement" also works);
// blacklist payloads are the phrase itself.
func ParseAction(action internal.RuleAction, word string) (internal.Rule, error) {
	word = strings.TrimSpace(word)
	switch internal.RuleAction(strings.ToLower(strings.TrimSpace(string(action)))) {
	case internal.ActionBlacklist:
		phrase := util.Normalize(word)
		if phrase == "" {
			return internal.Rule{}, internal.ValidationError(0, "blacklist word is empty")
		}
		return internal.Rule{Action: internal.ActionBlacklist, Original: phrase}, nil
	case internal.ActionSynonym:
		sep := strings.IndexAny(word, "=:")
		if sep < 0 {
			return internal.Rule{}, internal.ValidationError(0, "synonym word %q must look like original=replacement", word)
		}
		orig := strings.ToLower(strings.TrimSpace(word[:sep]))
		repl := strings.TrimSpace(word[sep+1:])
		if orig == "" || repl == "" || strings.ContainsAny(orig, " \t") {
			return internal.Rule{}, internal.ValidationError(0, "synonym word %q must map one word to a replacement", word)
		}
		return internal.Rule{Action: internal.ActionSynonym, Original: orig, Replacement: repl}, nil
	case internal.ActionNone:
		return internal.Rule{}, internal.ValidationError(0, "no pending action")
	default:
		return internal.Rule{}, internal.ValidationError(0, "unsupported action %q", action)
	}
}

// Merge returns a copy of set with rule applied. Synonyms are last-write-wins
// per original word; blacklist duplicates are no-ops.
func Merge(set internal.RuleSet, rule internal.Rule) internal.RuleSet {
	out := internal.RuleSet{
		Synonyms:  make(map[string]string, len(set.Synonyms)+1),
		Blacklist: append([]string(nil), set.Blacklist...),
	}
	for k, v := range set.Synonyms {
		out.Synonyms[k] = v
	}
	switch rule.Action {
	case internal.ActionSynonym:
		out.Synonyms[strings.ToLower(rule.Original)] = rule.Replacement
	case internal.ActionBlacklist:
		for _, p := range out.Blacklist {
			if strings.EqualFold(p, rule.Original) {
				return out
			}
		}
		out.Blacklist = append(out.Blacklist, rule.Original)
	}
	return out
}
