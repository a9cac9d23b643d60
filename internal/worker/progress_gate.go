package worker

import "sync"

// progressGate thins handler progress callbacks down to one persisted update
// per bucket. The first report and completion always pass.
type progressGate struct {
	mu     sync.Mutex
	bucket float64
	last   int
	done   bool
}

func newProgressGate(bucket float64) *progressGate {
	if bucket <= 0 {
		bucket = 5
	}
	return &progressGate{bucket: bucket, last: -1}
}

// admit reports whether percent (already clamped to 0..100) should be persisted.
func (g *progressGate) admit(percent float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.done {
		return false
	}
	if percent >= 100 {
		g.done = true
		return true
	}
	b := int(percent / g.bucket)
	if b <= g.last {
		return false
	}
	g.last = b
	return true
}
