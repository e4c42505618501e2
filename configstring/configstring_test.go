package configstring

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"
)

func checkInvariants(t *testing.T, tbl *Table, want map[int]string) {
	t.Helper()

	last := 0
	highest := 0
	for i := 0; i < tbl.Len(); i++ {
		off := tbl.Offset(i)
		s, ok := want[i]
		if !ok {
			if off != 0 {
				t.Fatalf("index %d: offset %d for unset string", i, off)
			}
			continue
		}
		if off <= last {
			t.Fatalf("index %d: offset %d not above %d", i, off, last)
		}
		if end := off + len(s); tbl.Data()[end] != 0 {
			t.Fatalf("index %d: missing terminator", i)
		}
		if got := tbl.Get(i); got != s {
			t.Fatalf("index %d: got %q, want %q", i, got, s)
		}
		last = off
		highest = i + 1
	}
	if tbl.Highest() != highest {
		t.Fatalf("highest = %d, want %d", tbl.Highest(), highest)
	}

	size := 1
	for _, s := range want {
		size += len(s) + 1
	}
	if tbl.Size() != size {
		t.Fatalf("size = %d, want %d (not compact)", tbl.Size(), size)
	}
}

func TestRandomSetClear(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tbl := New(64, MaxChars)
	want := map[int]string{}

	for n := 0; n < 5000; n++ {
		i := rng.Intn(64)
		var s string
		if rng.Intn(3) != 0 {
			s = fmt.Sprintf("%d-%x", n, rng.Int63n(1<<uint(rng.Intn(60)+1)))
		}
		if err := tbl.Set(i, s); err != nil {
			t.Fatal(err)
		}
		if s == "" {
			delete(want, i)
		} else {
			want[i] = s
		}
		checkInvariants(t, tbl, want)
	}
}

func TestHighestShrinks(t *testing.T) {
	tbl := New(16, MaxChars)
	tbl.Set(3, "a")
	tbl.Set(9, "b")
	tbl.Set(12, "c")
	if tbl.Highest() != 13 {
		t.Fatalf("highest = %d", tbl.Highest())
	}
	tbl.Set(12, "")
	tbl.Set(9, "")
	if tbl.Highest() != 4 {
		t.Fatalf("highest = %d, want 4", tbl.Highest())
	}
}

func TestLimits(t *testing.T) {
	tbl := New(4, 8)
	if err := tbl.Set(4, "x"); !errors.Is(err, ErrIndex) {
		t.Fatalf("got %v, want ErrIndex", err)
	}
	if err := tbl.Set(0, "abcdef"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Set(1, "gh"); !errors.Is(err, ErrFull) {
		t.Fatalf("got %v, want ErrFull", err)
	}
	if tbl.Get(1) != "" || tbl.Get(0) != "abcdef" {
		t.Fatal("failed set mutated the table")
	}
	// shrinking in place fits again
	if err := tbl.Set(0, "a"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Set(1, "gh"); err != nil {
		t.Fatal(err)
	}
}

func TestEachStops(t *testing.T) {
	tbl := New(8, MaxChars)
	tbl.Set(1, "x")
	tbl.Set(5, "y")
	var seen []int
	tbl.Each(func(i int, s string) bool {
		seen = append(seen, i)
		return false
	})
	if len(seen) != 1 || seen[0] != 1 {
		t.Fatalf("seen = %v", seen)
	}
}
