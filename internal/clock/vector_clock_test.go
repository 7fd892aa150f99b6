package clock

import "testing"

func TestIncrementIsMonotonic(t *testing.T) {
	c := New()
	c.Increment("a")
	c.Increment("a")
	if c["a"] != 2 {
		t.Fatalf("got %d, want 2", c["a"])
	}
}

func TestCompareEqual(t *testing.T) {
	a := Clock{"a": 1, "b": 2}
	b := Clock{"a": 1, "b": 2}
	if got := a.Compare(b); got != Equal {
		t.Fatalf("got %s, want equal", got)
	}
}

func TestCompareBeforeAfter(t *testing.T) {
	older := Clock{"a": 1}
	newer := Clock{"a": 2}
	if got := older.Compare(newer); got != Before {
		t.Fatalf("got %s, want before", got)
	}
	if got := newer.Compare(older); got != After {
		t.Fatalf("got %s, want after", got)
	}
}

func TestCompareConcurrent(t *testing.T) {
	a := Clock{"a": 2}
	b := Clock{"b": 3}
	if got := a.Compare(b); got != Concurrent {
		t.Fatalf("got %s, want concurrent", got)
	}
	if got := b.Compare(a); got != Concurrent {
		t.Fatalf("got %s, want concurrent", got)
	}
}

func TestCompareMissingKeyTreatedAsZero(t *testing.T) {
	a := Clock{"a": 1}
	b := Clock{"a": 1, "b": 0}
	if got := a.Compare(b); got != Equal {
		t.Fatalf("got %s, want equal (zero counters don't count)", got)
	}
}

func TestHappensBefore(t *testing.T) {
	older := Clock{"a": 1}
	newer := Clock{"a": 2}
	if !older.HappensBefore(newer) {
		t.Fatal("expected older to happen before newer")
	}
	if newer.HappensBefore(older) {
		t.Fatal("did not expect newer to happen before older")
	}
	if !older.HappensBefore(older.Copy()) {
		t.Fatal("a clock happens-before an equal copy of itself")
	}
}

func TestMergeTakesMaxPerPeer(t *testing.T) {
	a := Clock{"a": 2, "b": 1}
	b := Clock{"a": 1, "b": 3, "c": 1}
	merged := a.Merge(b)
	want := Clock{"a": 2, "b": 3, "c": 1}
	if len(merged) != len(want) {
		t.Fatalf("got %d keys, want %d", len(merged), len(want))
	}
	for k, v := range want {
		if merged[k] != v {
			t.Fatalf("merged[%s] = %d, want %d", k, merged[k], v)
		}
	}
}

func TestCopyIsIndependent(t *testing.T) {
	a := Clock{"a": 1}
	b := a.Copy()
	b.Increment("a")
	if a["a"] != 1 {
		t.Fatalf("original clock mutated via copy: got %d, want 1", a["a"])
	}
}
