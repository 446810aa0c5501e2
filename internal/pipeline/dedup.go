package pipeline

import (
	"strings"

	"reconcile/internal"
)

func dedupKey(r internal.RawRecord) string {
	return strings.ToLower(strings.TrimSpace(r.Description())) + "|" + strings.ToLower(strings.TrimSpace(r.Vendor()))
}

// Dedup marks the first occurrence of each (description, vendor) pair in the
// batch PENDING and every later one DUPLICATE. Prior runs are not consulted.
func Dedup(records []internal.RawRecord) []internal.DedupStatus {
	seen := make(map[string]struct{}, len(records))
	out := make([]internal.DedupStatus, len(records))
	for i, r := range records {
		key := dedupKey(r)
		if _, dup := seen[key]; dup {
			out[i] = internal.DedupDuplicate
			continue
		}
		seen[key] = struct{}{}
		out[i] = internal.DedupPending
	}
	return out
}
