package scheduler

import (
	"context"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dpetryk/lh-bulk-audit/internal/runner"
	"github.com/dpetryk/lh-bulk-audit/internal/sample"
)

// State names the scheduler's position in its lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateSuspended  State = "suspended"
	StateDone       State = "done"
)

const defaultPollInterval = time.Minute

// WindowPolicy gates every scheduling decision. It is consulted with a
// fresh clock reading each time; the answer is never cached.
type WindowPolicy interface {
	Allows(now time.Time) bool
}

// Sink persists run records. See the sink package for implementations.
type Sink interface {
	Record(rec sample.RunRecord) error
}

// ArtifactStore is the raw-report side channel behind the keep-artifacts flag.
type ArtifactStore interface {
	Save(runID string, raw []byte) (string, error)
}

// Recorder receives scheduler telemetry.
type Recorder interface {
	ObserveAttempt(url string, d time.Duration, err error)
	IncRecordsWritten()
	IncURLsCompleted()
	IncSuspensions()
	ObserveState(state string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(string, time.Duration, error) {}
func (nopRecorder) IncRecordsWritten()                          {}
func (nopRecorder) IncURLsCompleted()                           {}
func (nopRecorder) IncSuspensions()                             {}
func (nopRecorder) ObserveState(string)                         {}

// Status is an observable snapshot of the state machine: the state plus the
// cursor, the index of the URL being (or about to be) processed.
type Status struct {
	State  State
	Cursor int
}

// Scheduler walks the URL list exactly once, in order. Per URL it runs
// sample.AttemptsPerURL sequential audit attempts, aggregates the successes
// into a geometric-mean record, and advances. When the window policy
// forbids execution it suspends at the current cursor, polls the policy on
// a fixed cadence, and resumes at the same cursor. Attempts never overlap:
// concurrent audits would contend for load and skew each other's numbers.
type Scheduler struct {
	urls    []string
	policy  WindowPolicy
	runner  runner.Runner
	sink    Sink
	logger  *log.Logger
	metrics Recorder

	pollInterval  time.Duration
	limiter       *rate.Limiter
	keepArtifacts bool
	artifacts     ArtifactStore
	now           func() time.Time

	mu     sync.Mutex
	status Status
}

type Option func(*Scheduler)

func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPollInterval sets the cadence of the suspended-state window re-check.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

// WithRateLimit paces audit attempts to at most r per second.
func WithRateLimit(r float64) Option {
	return func(s *Scheduler) {
		if r > 0 {
			s.limiter = rate.NewLimiter(rate.Limit(r), 1)
		}
	}
}

// WithArtifacts enables the raw-report side channel.
func WithArtifacts(store ArtifactStore) Option {
	return func(s *Scheduler) {
		if store != nil {
			s.artifacts = store
			s.keepArtifacts = true
		}
	}
}

func WithMetrics(rec Recorder) Option {
	return func(s *Scheduler) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(urls []string, policy WindowPolicy, run runner.Runner, out Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		urls:         append([]string(nil), urls...),
		policy:       policy,
		runner:       run,
		sink:         out,
		logger:       log.New(io.Discard, "", 0),
		metrics:      nopRecorder{},
		pollInterval: defaultPollInterval,
		now:          time.Now,
		status:       Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns the current state and cursor.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scheduler) setStatus(state State, cursor int) {
	s.mu.Lock()
	s.status = Status{State: state, Cursor: cursor}
	s.mu.Unlock()
	s.metrics.ObserveState(string(state))
}

// Run drives the state machine to completion or context cancellation.
// It processes each URL exactly once; a suspension resumes at the same
// cursor without skipping or repeating.
func (s *Scheduler) Run(ctx context.Context) error {
	for cursor := 0; cursor < len(s.urls); cursor++ {
		url := s.urls[cursor]
		s.setStatus(StateProcessing, cursor)

		if !s.policy.Allows(s.now()) {
			if err := s.suspend(ctx, cursor); err != nil {
				return err
			}
			s.setStatus(StateProcessing, cursor)
		}

		if err := s.processURL(ctx, url); err != nil {
			return err
		}
		s.metrics.IncURLsCompleted()
	}
	s.setStatus(StateDone, len(s.urls))
	s.logger.Printf("run complete: %d urls processed", len(s.urls))
	return nil
}

// suspend parks the machine at the given cursor and polls the window policy
// once per pollInterval. The ticker belongs to this suspension instance and
// is stopped exactly once, on resume or cancellation, so a stale re-check
// can never fire into an already-resumed run.
func (s *Scheduler) suspend(ctx context.Context, cursor int) error {
	s.setStatus(StateSuspended, cursor)
	s.metrics.IncSuspensions()
	s.logger.Printf("outside run window, suspended at url %d/%d", cursor+1, len(s.urls))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if s.policy.Allows(s.now()) {
				s.logger.Printf("run window open, resuming at url %d/%d", cursor+1, len(s.urls))
				return nil
			}
		}
	}
}

// processURL runs the fixed attempt batch for one URL and persists the
// outcome. Attempt failures shrink the batch; they are not retried.
func (s *Scheduler) processURL(ctx context.Context, url string) error {
	samples := make([]sample.MetricSample, 0, sample.AttemptsPerURL)

	for attempt := 1; attempt <= sample.AttemptsPerURL; attempt++ {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		started := time.Now()
		ms, meta, err := s.runner.RunOnce(ctx, url)
		s.metrics.ObserveAttempt(url, time.Since(started), err)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Printf("attempt %d/%d failed for %s: %v", attempt, sample.AttemptsPerURL, url, err)
			continue
		}

		samples = append(samples, ms)
		if s.keepArtifacts && len(meta.Raw) > 0 {
			if _, err := s.artifacts.Save(meta.RunID, meta.Raw); err != nil {
				s.logger.Printf("keep artifact for %s: %v", url, err)
			}
		}
		s.record(sample.RunRecord{
			URL:       url,
			Kind:      sample.KindPartial,
			RunID:     meta.RunID,
			Timestamp: s.now().UTC(),
			Sample:    ms,
		})
	}

	agg, ok := sample.GeometricMean(samples)
	if !ok {
		// Every attempt failed: one error record, no score.
		s.logger.Printf("all %d attempts failed for %s", sample.AttemptsPerURL, url)
		s.record(sample.RunRecord{
			URL:       url,
			Kind:      sample.KindError,
			Timestamp: s.now().UTC(),
		})
		return nil
	}

	s.record(sample.RunRecord{
		URL:       url,
		Kind:      sample.KindAggregate,
		Timestamp: s.now().UTC(),
		Sample:    agg,
	})
	s.logger.Printf("aggregated %d/%d samples for %s (performance=%.3f)",
		len(samples), sample.AttemptsPerURL, url, agg.Performance)
	return nil
}

func (s *Scheduler) record(rec sample.RunRecord) {
	if err := s.sink.Record(rec); err != nil {
		s.logger.Printf("record %s for %s failed: %v", rec.Kind, rec.URL, err)
		return
	}
	s.metrics.IncRecordsWritten()
}
