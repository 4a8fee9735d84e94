package slicest

import (
	"errors"
	"strconv"
	"testing"
)

func TestMap(t *testing.T) {
	got := Map([]int{1, 2, 3}, strconv.Itoa)
	want := []string{"1", "2", "3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Map[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMapX(t *testing.T) {
	boom := errors.New("boom")
	_, err := MapX([]int{1, 2, 3}, func(n int) (int, error) {
		if n == 2 {
			return 0, boom
		}
		return n * 10, nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected error from MapX, got %v", err)
	}
}

func TestReversed(t *testing.T) {
	in := []string{"a", "b", "c"}
	got := Reversed(in)
	want := []string{"c", "b", "a"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Reversed[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if in[0] != "a" {
		t.Error("Reversed must not modify its input")
	}
}

func TestFilter(t *testing.T) {
	got := Filter([]int{1, 2, 3, 4}, func(n int) bool { return n%2 == 0 })
	if len(got) != 2 || got[0] != 2 || got[1] != 4 {
		t.Errorf("Filter = %v, want [2 4]", got)
	}
}
