package worker

import "testing"

func TestProgressGateBuckets(t *testing.T) {
	g := newProgressGate(10)
	steps := []struct {
		percent float64
		want    bool
	}{
		{0, true},
		{4, false},
		{10, true},
		{19.9, false},
		{55, true},
		{30, false},
		{100, true},
		{100, false},
	}
	for i, step := range steps {
		if got := g.admit(step.percent); got != step.want {
			t.Fatalf("step %d (%v): got %v want %v", i, step.percent, got, step.want)
		}
	}
}

func TestProgressGateDefaultBucket(t *testing.T) {
	for _, size := range []float64{0, -3} {
		if g := newProgressGate(size); g.bucket != 5 {
			t.Fatalf("bucket for %v = %v, want 5", size, g.bucket)
		}
	}
}
