package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"reconcile/internal"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Dictionary is the on-disk rule shape:
// {"synonyms": {"orig": "repl"}, "blacklist": {"input": ["phrase"]}}.
type Dictionary struct {
	Synonyms  map[string]string `json:"synonyms" yaml:"synonyms"`
	Blacklist struct {
		Input []string `json:"input" yaml:"input"`
	} `json:"blacklist" yaml:"blacklist"`
}

type Store interface {
	GetRules(ctx context.Context, tenant internal.Tenant) (internal.RuleSet, error)
	UpsertRule(ctx context.Context, tenant internal.Tenant, rule internal.Rule) error
}

func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

func DecodeDictionary(r io.Reader, format Format) (internal.RuleSet, error) {
	var d Dictionary
	var err error
	switch format {
	case FormatYAML:
		err = yaml.NewDecoder(r).Decode(&d)
	case FormatJSON:
		err = json.NewDecoder(r).Decode(&d)
	default:
		return internal.RuleSet{}, fmt.Errorf("unsupported rule format: %s", format)
	}
	if err != nil && err != io.EOF {
		return internal.RuleSet{}, internal.ValidationError(0, "decode rule dictionary: %v", err)
	}

	// keys that fold together: the lowercase spelling wins, otherwise the
	// first in sorted order
	origs := make([]string, 0, len(d.Synonyms))
	for orig := range d.Synonyms {
		origs = append(origs, orig)
	}
	sort.Strings(origs)
	set := internal.RuleSet{Synonyms: map[string]string{}}
	exact := map[string]bool{}
	for _, orig := range origs {
		repl := strings.TrimSpace(d.Synonyms[orig])
		key := strings.ToLower(strings.TrimSpace(orig))
		if key == "" || repl == "" || exact[key] {
			continue
		}
		if _, taken := set.Synonyms[key]; taken && strings.TrimSpace(orig) != key {
			continue
		}
		set.Synonyms[key] = repl
		exact[key] = strings.TrimSpace(orig) == key
	}
	for _, p := range d.Blacklist.Input {
		if strings.TrimSpace(p) != "" {
			set.Blacklist = append(set.Blacklist, strings.TrimSpace(p))
		}
	}
	return set, nil
}

func EncodeDictionary(w io.Writer, set internal.RuleSet, format Format) error {
	d := Dictionary{Synonyms: map[string]string{}}
	for k, v := range set.Synonyms {
		d.Synonyms[k] = v
	}
	d.Blacklist.Input = append([]string{}, set.Blacklist...)

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(d); err != nil {
			return err
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(d)
	default:
		return fmt.Errorf("unsupported rule format: %s", format)
	}
}

// Export writes one tenant's rules as a dictionary. It is the only way rules
// leave a tenant.
func Export(ctx context.Context, store Store, tenant internal.Tenant, w io.Writer, format Format) error {
	set, err := store.GetRules(ctx, tenant)
	if err != nil {
		return fmt.Errorf("load rules for %s: %w", tenant, err)
	}
	return EncodeDictionary(w, set, format)
}

// Import upserts every rule of a dictionary into tenant and reports how many
// rules were written.
func Import(ctx context.Context, store Store, tenant internal.Tenant, r io.Reader, format Format) (int, error) {
	set, err := DecodeDictionary(r, format)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, len(set.Synonyms))
	for k := range set.Synonyms {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	written := 0
	for _, k := range keys {
		rule := internal.Rule{Action: internal.ActionSynonym, Original: k, Replacement: set.Synonyms[k]}
		if err := store.UpsertRule(ctx, tenant, rule); err != nil {
			return written, fmt.Errorf("upsert synonym %q: %w", k, err)
		}
		written++
	}
	for _, p := range set.Blacklist {
		rule := internal.Rule{Action: internal.ActionBlacklist, Original: p}
		if err := store.UpsertRule(ctx, tenant, rule); err != nil {
			return written, fmt.Errorf("upsert blacklist %q: %w", p, err)
		}
		written++
	}
	return written, nil
}
