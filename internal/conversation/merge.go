package conversation

import "github.com/quillhq/quill/internal/provider"

// MergeSources folds a chunk's sources into the accumulated set. Sources are
// keyed by URI: the first occurrence wins (including its title) and keeps its
// position, so citation numbering shown to the user never shifts as later
// chunks arrive. Reapplying a chunk is a no-op.
func MergeSources(existing, incoming []provider.Source) []provider.Source {
	if len(incoming) == 0 {
		return existing
	}

	seen := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		seen[s.URI] = struct{}{}
	}

	out := existing
	for _, s := range incoming {
		if s.URI == "" {
			continue
		}
		if _, dup := seen[s.URI]; dup {
			continue
		}
		seen[s.URI] = struct{}{}
		out = append(out, s)
	}
	return out
}

// MergeCitations folds a chunk's citations into the accumulated set, keyed by
// the (startIndex, uri) pair the backend produces. Duplicate keys are no-ops;
// first-seen order is preserved.
func MergeCitations(existing, incoming []provider.Citation) []provider.Citation {
	if len(incoming) == 0 {
		return existing
	}

	seen := make(map[provider.CitationKey]struct{}, len(existing))
	for _, c := range existing {
		seen[c.Key()] = struct{}{}
	}

	out := existing
	for _, c := range incoming {
		if c.URI == "" {
			continue
		}
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}
