// Package compose projects flat membership rows into the grouped, ordered
// structures the presentation layer consumes. Everything here is pure: no
// I/O, same input always yields the same output.
package compose

import (
	"sort"

	"stepform/api/internal/store"
)

// GroupBucket is a group together with its member questions in membership
// sort order.
type GroupBucket struct {
	Group     store.Group      `json:"group"`
	Questions []store.Question `json:"questions"`
}

// Composition is the resolved structure of one questionnaire.
type Composition struct {
	Groups    []GroupBucket    `json:"groups"`
	Ungrouped []store.Question `json:"ungrouped"`
	Flat      []store.Question `json:"flat"`
}

// Resolve buckets membership rows by group in a single pass. Buckets are
// created in first-seen order and stable-sorted by group sort order (ties by
// group id) afterwards; row order inside a bucket and inside the ungrouped
// list is preserved as delivered by the store's canonical query.
func Resolve(rows []store.MembershipRow) Composition {
	composition := Composition{
		Groups:    []GroupBucket{},
		Ungrouped: []store.Question{},
		Flat:      []store.Question{},
	}
	bucketIndex := make(map[int64]int)

	for _, row := range rows {
		composition.Flat = append(composition.Flat, row.Question)

		if row.Group == nil {
			composition.Ungrouped = append(composition.Ungrouped, row.Question)
			continue
		}

		index, seen := bucketIndex[row.Group.ID]
		if !seen {
			index = len(composition.Groups)
			bucketIndex[row.Group.ID] = index
			composition.Groups = append(composition.Groups, GroupBucket{Group: *row.Group})
		}
		composition.Groups[index].Questions = append(composition.Groups[index].Questions, row.Question)
	}

	sort.SliceStable(composition.Groups, func(i, j int) bool {
		a, b := composition.Groups[i].Group, composition.Groups[j].Group
		if a.SortOrder != b.SortOrder {
			return a.SortOrder < b.SortOrder
		}
		return a.ID < b.ID
	})

	return composition
}
