package link

import (
	"fmt"
	"sort"
)

// Group is a contiguous run of same-kind links produced by GroupByKind.
type Group struct {
	Kind  Kind
	Links []*Link
}

// GroupByKind drops nil links, stably sorts the rest by kind name and emits
// one group per kind. Emission order is deterministic (alphabetic by kind
// name), not input order; within a group the original relative order holds.
func GroupByKind(links []*Link) []Group {
	kept := make([]*Link, 0, len(links))
	for _, l := range links {
		if l != nil {
			kept = append(kept, l)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Kind.String() < kept[j].Kind.String()
	})

	var groups []Group
	for _, l := range kept {
		if n := len(groups); n > 0 && groups[n-1].Kind == l.Kind {
			groups[n-1].Links = append(groups[n-1].Links, l)
			continue
		}
		groups = append(groups, Group{Kind: l.Kind, Links: []*Link{l}})
	}
	return groups
}

// Chunk splits items into fixed-size chunks, the last one possibly shorter.
func Chunk[T any](items []T, size int) ([][]T, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be at least 1, got %d", size)
	}
	var chunks [][]T
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end:end])
	}
	return chunks, nil
}
