package compose

import (
	"reflect"
	"testing"

	"stepform/api/internal/store"
)

func groupRef(g store.Group) *store.Group { return &g }

func row(questionID int64, group *store.Group, sortOrder int) store.MembershipRow {
	item := store.MembershipRow{
		Membership: store.Membership{
			QuestionnaireID: 1,
			QuestionID:      questionID,
			SortOrder:       sortOrder,
		},
		Question: store.Question{ID: questionID, Text: "q", Type: "text"},
		Group:    group,
	}
	if group != nil {
		item.GroupID = &group.ID
	}
	return item
}

func questionIDs(questions []store.Question) []int64 {
	ids := make([]int64, 0, len(questions))
	for _, q := range questions {
		ids = append(ids, q.ID)
	}
	return ids
}

func TestResolveEmpty(t *testing.T) {
	composition := Resolve(nil)
	if len(composition.Groups) != 0 || len(composition.Ungrouped) != 0 || len(composition.Flat) != 0 {
		t.Fatalf("expected empty composition, got %+v", composition)
	}
}

func TestResolveBucketsAndFlat(t *testing.T) {
	contact := store.Group{ID: 10, Name: "Contact", SortOrder: 0, IsActive: true}
	details := store.Group{ID: 11, Name: "Details", SortOrder: 1, IsActive: true}

	rows := []store.MembershipRow{
		row(1, groupRef(contact), 0),
		row(2, groupRef(contact), 1),
		row(3, groupRef(details), 0),
		row(4, nil, 0),
	}

	composition := Resolve(rows)

	if len(composition.Flat) != 4 {
		t.Fatalf("expected 4 flat questions, got %d", len(composition.Flat))
	}
	if len(composition.Groups) != 2 {
		t.Fatalf("expected 2 group buckets, got %d", len(composition.Groups))
	}
	if got := questionIDs(composition.Groups[0].Questions); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("expected contact bucket [1 2], got %v", got)
	}
	if got := questionIDs(composition.Groups[1].Questions); !reflect.DeepEqual(got, []int64{3}) {
		t.Fatalf("expected details bucket [3], got %v", got)
	}
	if got := questionIDs(composition.Ungrouped); !reflect.DeepEqual(got, []int64{4}) {
		t.Fatalf("expected ungrouped [4], got %v", got)
	}
}

func TestResolveSortsBucketsByGroupSortOrder(t *testing.T) {
	// Rows arrive with the later group first; the resolver must reorder the
	// buckets without touching the order inside each bucket.
	second := store.Group{ID: 20, Name: "Second", SortOrder: 5, IsActive: true}
	first := store.Group{ID: 21, Name: "First", SortOrder: 1, IsActive: true}

	rows := []store.MembershipRow{
		row(1, groupRef(second), 0),
		row(2, groupRef(first), 0),
		row(3, groupRef(first), 1),
	}

	composition := Resolve(rows)
	if composition.Groups[0].Group.ID != first.ID {
		t.Fatalf("expected group %d first, got %d", first.ID, composition.Groups[0].Group.ID)
	}
	if got := questionIDs(composition.Groups[0].Questions); !reflect.DeepEqual(got, []int64{2, 3}) {
		t.Fatalf("bucket order changed: %v", got)
	}
}

func TestResolveBreaksSortOrderTiesByGroupID(t *testing.T) {
	b := store.Group{ID: 31, Name: "B", SortOrder: 2, IsActive: true}
	a := store.Group{ID: 30, Name: "A", SortOrder: 2, IsActive: true}

	composition := Resolve([]store.MembershipRow{
		row(1, groupRef(b), 0),
		row(2, groupRef(a), 0),
	})

	if composition.Groups[0].Group.ID != 30 || composition.Groups[1].Group.ID != 31 {
		t.Fatalf("expected tie broken by group id ascending, got %d then %d",
			composition.Groups[0].Group.ID, composition.Groups[1].Group.ID)
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	g := store.Group{ID: 40, Name: "G", SortOrder: 0, IsActive: true}
	rows := []store.MembershipRow{
		row(1, groupRef(g), 0),
		row(2, nil, 0),
		row(3, groupRef(g), 1),
	}
	first := Resolve(rows)
	second := Resolve(rows)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("resolve is not deterministic")
	}
}
