package jobs

import "time"

// statsWindow is the number of recent completions kept for the rolling
// average.
const statsWindow = 100

// Stats is a point-in-time aggregate view of a scheduler.
type Stats struct {
	Delayed   int `json:"delayed"`
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`

	// TotalProcessed and TotalFailed are lifetime counters; they include
	// jobs evicted after finishing.
	TotalProcessed uint64 `json:"total_processed"`
	TotalFailed    uint64 `json:"total_failed"`

	// AvgProcessingTime averages first-start to completion over the most
	// recent completed jobs (statsWindow samples).
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
}

// statsState is guarded by Scheduler.mu together with the job table, so a
// settled job and its counter update can never be observed apart.
type statsState struct {
	totalProcessed uint64
	totalFailed    uint64
	samples        []time.Duration
}

func (st *statsState) addSample(d time.Duration) {
	if d < 0 {
		d = 0
	}
	st.samples = append(st.samples, d)
	if len(st.samples) > statsWindow {
		st.samples = st.samples[len(st.samples)-statsWindow:]
	}
}

func (st *statsState) avg() time.Duration {
	if len(st.samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range st.samples {
		sum += d
	}
	return sum / time.Duration(len(st.samples))
}

// Stats returns current per-status counts, lifetime totals, and the rolling
// average processing time.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	out := Stats{
		TotalProcessed:    s.stats.totalProcessed,
		TotalFailed:       s.stats.totalFailed,
		AvgProcessingTime: s.stats.avg(),
	}
	for _, rec := range s.jobs {
		switch rec.status {
		case StatusDelayed:
			out.Delayed++
		case StatusWaiting:
			out.Waiting++
		case StatusActive:
			out.Active++
		case StatusCompleted:
			out.Completed++
		case StatusFailed:
			out.Failed++
		}
	}
	s.mu.Unlock()
	return out
}
