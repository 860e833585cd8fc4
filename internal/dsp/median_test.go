package dsp

import (
	"math/rand"
	"sort"
	"testing"
)

func TestMedianSmootherScenario(t *testing.T) {
	t.Parallel()
	m := NewMedianSmoother(3)
	steps := []struct{ in, want float64 }{
		{5, 5},
		{1, 3},
		{9, 5},
		{3, 3},
	}
	for i, s := range steps {
		if got := m.Push(s.in); got != s.want {
			t.Fatalf("step %d: push %v returned %v, want %v", i, s.in, got, s.want)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("buffer grew beyond window: %d", m.Len())
	}
}

func TestMedianSmootherMatchesSortedTail(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewSource(7))
	for _, window := range []int{1, 2, 5, 8} {
		m := NewMedianSmoother(window)
		var pushed []float64
		for i := 0; i < 200; i++ {
			v := rng.Float64()*200 - 100
			pushed = append(pushed, v)
			got := m.Push(v)

			tail := append([]float64(nil), pushed[max(0, len(pushed)-window):]...)
			sort.Float64s(tail)
			var want float64
			if n := len(tail); n%2 == 1 {
				want = tail[n/2]
			} else {
				want = (tail[n/2-1] + tail[n/2]) / 2
			}
			if got != want {
				t.Fatalf("window %d step %d: got %v want %v", window, i, got, want)
			}
		}
	}
}

func TestMedianSmootherReset(t *testing.T) {
	t.Parallel()
	m := NewMedianSmoother(0)
	if m.Window() != 1 {
		t.Fatalf("expected minimum window 1, got %d", m.Window())
	}
	m.Push(4)
	m.Reset()
	if m.Len() != 0 {
		t.Fatalf("expected empty buffer after reset")
	}
	if got := m.Push(7); got != 7 {
		t.Fatalf("expected 7, got %v", got)
	}
}
