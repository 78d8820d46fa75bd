package caption

import (
	"slices"
	"sync"
	"time"
)

type latency struct {
	at time.Time
	ms int64
}

// StatsSnapshot aggregates the latencies currently inside the window.
type StatsSnapshot struct {
	Count int     `json:"count"`
	MinMs int64   `json:"min_ms"`
	MaxMs int64   `json:"max_ms"`
	AvgMs float64 `json:"avg_ms"`
	P50Ms float64 `json:"p50_ms"`
	P95Ms float64 `json:"p95_ms"`
	P99Ms float64 `json:"p99_ms"`
}

// LLMStats keeps caption call latencies for a rolling window.
type LLMStats struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	recent []latency
}

func NewLLMStats(window time.Duration) *LLMStats {
	if window <= 0 {
		window = time.Hour
	}
	return &LLMStats{window: window, now: time.Now}
}

// Record adds one call duration in milliseconds. Negative values count as zero.
func (s *LLMStats) Record(ms int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.expire(now)
	s.recent = append(s.recent, latency{at: now, ms: max(ms, 0)})
}

func (s *LLMStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	s.expire(s.now())
	values := make([]int64, len(s.recent))
	for i, l := range s.recent {
		values[i] = l.ms
	}
	s.mu.Unlock()

	if len(values) == 0 {
		return StatsSnapshot{}
	}
	slices.Sort(values)

	var sum int64
	for _, v := range values {
		sum += v
	}
	return StatsSnapshot{
		Count: len(values),
		MinMs: values[0],
		MaxMs: values[len(values)-1],
		AvgMs: float64(sum) / float64(len(values)),
		P50Ms: interpolate(values, 50),
		P95Ms: interpolate(values, 95),
		P99Ms: interpolate(values, 99),
	}
}

// expire drops samples older than the window. Samples are appended in time
// order so the survivors are always a suffix.
func (s *LLMStats) expire(now time.Time) {
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(s.recent) && s.recent[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		s.recent = slices.Delete(s.recent, 0, i)
	}
}

// interpolate returns the pct percentile of sorted using linear interpolation
// between the closest ranks.
func interpolate(sorted []int64, pct float64) float64 {
	switch {
	case len(sorted) == 0:
		return 0
	case pct <= 0:
		return float64(sorted[0])
	case pct >= 100:
		return float64(sorted[len(sorted)-1])
	}
	rank := float64(len(sorted)-1) * pct / 100
	lo := int(rank)
	if lo+1 >= len(sorted) {
		return float64(sorted[lo])
	}
	frac := rank - float64(lo)
	return float64(sorted[lo]) + (float64(sorted[lo+1])-float64(sorted[lo]))*frac
}
