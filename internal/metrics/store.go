package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Store maintains in-memory counters and gauges for auditor telemetry.
type Store struct {
	attemptsTotal  atomic.Uint64
	attemptsFailed atomic.Uint64
	recordsWritten atomic.Uint64
	recordFailures atomic.Uint64
	urlsCompleted  atomic.Uint64
	suspensions    atomic.Uint64
	state          atomic.Value // string

	histMu       sync.Mutex
	attemptedURL atomic.Value // string
	durations    *hdrhistogram.Histogram
}

// NewStore constructs a Store with zeroed metrics. Attempt durations are
// tracked in milliseconds, from 1ms up to 30 minutes, 3 significant figures.
func NewStore() *Store {
	s := &Store{
		durations: hdrhistogram.New(1, int64(30*time.Minute/time.Millisecond), 3),
	}
	s.state.Store("idle")
	s.attemptedURL.Store("")
	return s
}

// Snapshot captures the current metric values in a plain struct.
type Snapshot struct {
	AttemptsTotal      uint64
	AttemptsFailed     uint64
	RecordsWritten     uint64
	RecordFailures     uint64
	URLsCompleted      uint64
	Suspensions        uint64
	State              string
	LastURL            string
	AttemptDurationP50 float64
	AttemptDurationP95 float64
	AttemptDurationP99 float64
	AttemptDurationAvg float64
}

// Snapshot returns a point-in-time copy of the metrics.
func (s *Store) Snapshot() Snapshot {
	state, _ := s.state.Load().(string)
	lastURL, _ := s.attemptedURL.Load().(string)

	s.histMu.Lock()
	p50 := float64(s.durations.ValueAtQuantile(50))
	p95 := float64(s.durations.ValueAtQuantile(95))
	p99 := float64(s.durations.ValueAtQuantile(99))
	avg := s.durations.Mean()
	s.histMu.Unlock()

	return Snapshot{
		AttemptsTotal:      s.attemptsTotal.Load(),
		AttemptsFailed:     s.attemptsFailed.Load(),
		RecordsWritten:     s.recordsWritten.Load(),
		RecordFailures:     s.recordFailures.Load(),
		URLsCompleted:      s.urlsCompleted.Load(),
		Suspensions:        s.suspensions.Load(),
		State:              state,
		LastURL:            lastURL,
		AttemptDurationP50: p50,
		AttemptDurationP95: p95,
		AttemptDurationP99: p99,
		AttemptDurationAvg: avg,
	}
}

// ObserveAttempt records one finished audit attempt.
func (s *Store) ObserveAttempt(url string, d time.Duration, err error) {
	s.attemptsTotal.Add(1)
	if err != nil {
		s.attemptsFailed.Add(1)
	}
	s.attemptedURL.Store(url)

	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	s.histMu.Lock()
	_ = s.durations.RecordValue(ms)
	s.histMu.Unlock()
}

// IncRecordsWritten counts one record handed to the sinks.
func (s *Store) IncRecordsWritten() {
	s.recordsWritten.Add(1)
}

// IncRecordFailures counts one failed sink write.
func (s *Store) IncRecordFailures() {
	s.recordFailures.Add(1)
}

// IncURLsCompleted counts one fully processed URL.
func (s *Store) IncURLsCompleted() {
	s.urlsCompleted.Add(1)
}

// IncSuspensions counts one transition into the suspended state.
func (s *Store) IncSuspensions() {
	s.suspensions.Add(1)
}

// ObserveState records the scheduler's current state name.
func (s *Store) ObserveState(state string) {
	s.state.Store(state)
}

// WritePrometheus renders the current metrics using the Prometheus text format.
func (s *Store) WritePrometheus(w io.Writer) error {
	snap := s.Snapshot()
	lines := []string{
		"# HELP lh_audit_attempts_total Total audit attempts executed.",
		"# TYPE lh_audit_attempts_total counter",
		fmt.Sprintf("lh_audit_attempts_total %d", snap.AttemptsTotal),
		"# HELP lh_audit_attempts_failed_total Audit attempts that produced no sample.",
		"# TYPE lh_audit_attempts_failed_total counter",
		fmt.Sprintf("lh_audit_attempts_failed_total %d", snap.AttemptsFailed),
		"# HELP lh_audit_records_written_total Run records handed to the sinks.",
		"# TYPE lh_audit_records_written_total counter",
		fmt.Sprintf("lh_audit_records_written_total %d", snap.RecordsWritten),
		"# HELP lh_audit_record_failures_total Sink writes that failed.",
		"# TYPE lh_audit_record_failures_total counter",
		fmt.Sprintf("lh_audit_record_failures_total %d", snap.RecordFailures),
		"# HELP lh_audit_urls_completed_total URLs fully processed (all attempts plus aggregation).",
		"# TYPE lh_audit_urls_completed_total counter",
		fmt.Sprintf("lh_audit_urls_completed_total %d", snap.URLsCompleted),
		"# HELP lh_audit_suspensions_total Times the scheduler suspended outside the run window.",
		"# TYPE lh_audit_suspensions_total counter",
		fmt.Sprintf("lh_audit_suspensions_total %d", snap.Suspensions),
		"# HELP lh_audit_scheduler_state_info Current scheduler state.",
		"# TYPE lh_audit_scheduler_state_info gauge",
		fmt.Sprintf("lh_audit_scheduler_state_info{state=%q} 1", snap.State),
		"# HELP lh_audit_attempt_duration_ms Audit attempt duration distribution in milliseconds.",
		"# TYPE lh_audit_attempt_duration_ms gauge",
		fmt.Sprintf("lh_audit_attempt_duration_ms{quantile=%q} %g", "0.5", snap.AttemptDurationP50),
		fmt.Sprintf("lh_audit_attempt_duration_ms{quantile=%q} %g", "0.95", snap.AttemptDurationP95),
		fmt.Sprintf("lh_audit_attempt_duration_ms{quantile=%q} %g", "0.99", snap.AttemptDurationP99),
		fmt.Sprintf("lh_audit_attempt_duration_ms_avg %g", snap.AttemptDurationAvg),
		"",
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewHTTPHandler returns an http.Handler that serves Prometheus formatted metrics.
func NewHTTPHandler(store *Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		if r.Method == http.MethodHead {
			return
		}
		if err := store.WritePrometheus(w); err != nil {
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
		}
	})
}
