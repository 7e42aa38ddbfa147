package skel

import "testing"

func newIntEntries() *EntriesMap[int, string] {
	return NewEntriesMap[int, string](intCmp, intEncoder{})
}

func TestEntriesMapSplitAt(t *testing.T) {
	m := newIntEntries()
	for i := 1; i <= 7; i++ {
		m.Put(i, v(i))
	}
	right := m.SplitAt(3)

	if m.Size() != 3 {
		t.Fatalf("left half size = %d, want 3", m.Size())
	}
	if right.Size() != 4 {
		t.Fatalf("right half size = %d, want 4", right.Size())
	}
	for i := 1; i <= 3; i++ {
		if val, ok := m.Get(i); !ok || val != v(i) {
			t.Fatalf("left.Get(%d) = (%q, %v), want (%q, true)", i, val, ok, v(i))
		}
	}
	for i := 4; i <= 7; i++ {
		if val, ok := right.Get(i); !ok || val != v(i) {
			t.Fatalf("right.Get(%d) = (%q, %v), want (%q, true)", i, val, ok, v(i))
		}
	}
}

func TestEntriesMapMerge(t *testing.T) {
	left := newIntEntries()
	for i := 1; i <= 3; i++ {
		left.Put(i, v(i))
	}
	right := newIntEntries()
	for i := 4; i <= 6; i++ {
		right.Put(i, v(i))
	}

	left.Merge(right)
	if left.Size() != 6 {
		t.Fatalf("merged size = %d, want 6", left.Size())
	}
	var got []int
	left.Ascend(func(k int, val string) bool {
		got = append(got, k)
		return true
	})
	for i, k := range got {
		if k != i+1 {
			t.Fatalf("merged[%d] = %d, want %d", i, k, i+1)
		}
	}
}

func TestEntriesMapRangeBetween(t *testing.T) {
	m := newIntEntries()
	for i := 1; i <= 10; i++ {
		m.Put(i, v(i))
	}
	var got []int
	m.RangeBetween(Finite(2), Finite(6), func(k int, val string) bool {
		got = append(got, k)
		return true
	})
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("RangeBetween(2,6) = %v, want %v", got, want)
	}
	for i, k := range got {
		if k != want[i] {
			t.Fatalf("RangeBetween(2,6)[%d] = %d, want %d", i, k, want[i])
		}
	}
}
