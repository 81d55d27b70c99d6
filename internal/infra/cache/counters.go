package cache

import "sync/atomic"

// Counter names a cache call counter.
type Counter int

const (
	CounterTotal Counter = iota
	CounterSuccess
	CounterFailed
	CounterFallback
	CounterHit
	CounterMiss
	counterCount
)

func (c Counter) String() string {
	switch c {
	case CounterTotal:
		return "total"
	case CounterSuccess:
		return "success"
	case CounterFailed:
		return "failed"
	case CounterFallback:
		return "fallback"
	case CounterHit:
		return "hit"
	case CounterMiss:
		return "miss"
	default:
		return "unknown"
	}
}

// Counters exposes only atomic increments and reads.
type Counters interface {
	Inc(Counter)
	Load(Counter) int64
}

type atomicCounters struct {
	values [counterCount]atomic.Int64
}

// NewCounters returns a lock-free counter set.
func NewCounters() Counters {
	return &atomicCounters{}
}

func (c *atomicCounters) Inc(name Counter) {
	if name < 0 || name >= counterCount {
		return
	}
	c.values[name].Add(1)
}

func (c *atomicCounters) Load(name Counter) int64 {
	if name < 0 || name >= counterCount {
		return 0
	}
	return c.values[name].Load()
}
