package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dpetryk/lh-bulk-audit/internal/runner"
	"github.com/dpetryk/lh-bulk-audit/internal/sample"
)

type policyFunc func(time.Time) bool

func (f policyFunc) Allows(now time.Time) bool { return f(now) }

var alwaysOpen = policyFunc(func(time.Time) bool { return true })

// scriptedRunner serves per-URL results in order; a nil sample means the
// attempt fails.
type scriptedRunner struct {
	mu      sync.Mutex
	scripts map[string][]*sample.MetricSample
	calls   []string
	nextID  int
}

func (r *scriptedRunner) RunOnce(ctx context.Context, url string) (sample.MetricSample, runner.RunMeta, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, url)

	script := r.scripts[url]
	if len(script) == 0 {
		return sample.MetricSample{}, runner.RunMeta{}, fmt.Errorf("no script for %s", url)
	}
	next := script[0]
	r.scripts[url] = script[1:]
	if next == nil {
		return sample.MetricSample{}, runner.RunMeta{}, errors.New("target unreachable")
	}
	r.nextID++
	meta := runner.RunMeta{RunID: fmt.Sprintf("run-%d", r.nextID), Raw: []byte("{}")}
	return *next, meta, nil
}

type captureSink struct {
	mu      sync.Mutex
	records []sample.RunRecord
	err     error
}

func (s *captureSink) Record(rec sample.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *captureSink) byKind(kind sample.Kind) []sample.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sample.RunRecord
	for _, rec := range s.records {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out
}

type captureRecorder struct {
	mu          sync.Mutex
	states      []string
	suspensions int
	attempts    int
}

func (r *captureRecorder) ObserveAttempt(string, time.Duration, error) {
	r.mu.Lock()
	r.attempts++
	r.mu.Unlock()
}
func (r *captureRecorder) IncRecordsWritten() {}
func (r *captureRecorder) IncURLsCompleted()  {}
func (r *captureRecorder) IncSuspensions() {
	r.mu.Lock()
	r.suspensions++
	r.mu.Unlock()
}
func (r *captureRecorder) ObserveState(state string) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func goodSample(score float64) *sample.MetricSample {
	return &sample.MetricSample{
		Performance:          score,
		FirstContentfulPaint: sample.Timed{Seconds: 1.2, Score: score},
		SpeedIndex:           sample.Timed{Seconds: 2.4, Score: score},
		Interactive:          sample.Timed{Seconds: 3.1, Score: score},
		FirstMeaningfulPaint: sample.Timed{Seconds: 1.5, Score: score},
		FirstCPUIdle:         sample.Timed{Seconds: 2.9, Score: score},
		TotalByteWeight:      250000,
	}
}

func TestRunEndToEnd(t *testing.T) {
	run := &scriptedRunner{scripts: map[string][]*sample.MetricSample{
		"a.example": {goodSample(0.9), goodSample(0.9), goodSample(0.9)},
		"b.example": {nil, nil, nil},
	}}
	out := &captureSink{}
	s := New([]string{"a.example", "b.example"}, alwaysOpen, run, out)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := s.Status(); got.State != StateDone || got.Cursor != 2 {
		t.Fatalf("expected Done at end of list, got %+v", got)
	}

	partials := out.byKind(sample.KindPartial)
	if len(partials) != 3 {
		t.Fatalf("expected 3 partials, got %d", len(partials))
	}
	for _, rec := range partials {
		if rec.URL != "a.example" {
			t.Fatalf("partial for wrong url: %s", rec.URL)
		}
		if rec.RunID == "" {
			t.Fatalf("partial missing run id")
		}
	}

	aggs := out.byKind(sample.KindAggregate)
	if len(aggs) != 1 || aggs[0].URL != "a.example" {
		t.Fatalf("expected 1 aggregate for a.example, got %+v", aggs)
	}
	if got := aggs[0].Sample.Performance; got < 0.9-1e-9 || got > 0.9+1e-9 {
		t.Fatalf("aggregate of identical samples should equal the sample, got %v", got)
	}

	errs := out.byKind(sample.KindError)
	if len(errs) != 1 || errs[0].URL != "b.example" {
		t.Fatalf("expected 1 error record for b.example, got %+v", errs)
	}
	if errs[0].Sample != (sample.MetricSample{}) {
		t.Fatalf("error record must carry no payload")
	}
}

func TestRunAggregatesPartialBatch(t *testing.T) {
	run := &scriptedRunner{scripts: map[string][]*sample.MetricSample{
		"a.example": {goodSample(0.5), nil, goodSample(0.8)},
	}}
	out := &captureSink{}
	s := New([]string{"a.example"}, alwaysOpen, run, out)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(out.byKind(sample.KindPartial)); got != 2 {
		t.Fatalf("expected 2 partials, got %d", got)
	}
	aggs := out.byKind(sample.KindAggregate)
	if len(aggs) != 1 {
		t.Fatalf("expected aggregate despite one failed attempt")
	}
	if len(out.byKind(sample.KindError)) != 0 {
		t.Fatalf("no error record when some attempts succeed")
	}
}

func TestSuspendResumesAtSameCursor(t *testing.T) {
	run := &scriptedRunner{scripts: map[string][]*sample.MetricSample{
		"a.example": {goodSample(0.9), goodSample(0.9), goodSample(0.9)},
		"b.example": {goodSample(0.7), goodSample(0.7), goodSample(0.7)},
		"c.example": {goodSample(0.6), goodSample(0.6), goodSample(0.6)},
	}}
	out := &captureSink{}
	rec := &captureRecorder{}

	// The policy sees one check per URL plus one per suspension poll:
	// open for a.example, closed when b.example comes up, reopening after
	// two polls, open for the rest.
	var mu sync.Mutex
	checks := 0
	policy := policyFunc(func(time.Time) bool {
		mu.Lock()
		defer mu.Unlock()
		checks++
		return checks == 1 || checks > 4
	})

	s := New([]string{"a.example", "b.example", "c.example"}, policy, run, out,
		WithPollInterval(time.Millisecond), WithMetrics(rec))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// b.example was neither skipped nor repeated: each URL exactly 3 attempts,
	// in list order.
	run.mu.Lock()
	calls := append([]string(nil), run.calls...)
	run.mu.Unlock()
	want := []string{
		"a.example", "a.example", "a.example",
		"b.example", "b.example", "b.example",
		"c.example", "c.example", "c.example",
	}
	if len(calls) != len(want) {
		t.Fatalf("attempt count: got %d want %d (%v)", len(calls), len(want), calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("attempt %d: got %s want %s", i, calls[i], want[i])
		}
	}

	rec.mu.Lock()
	suspensions := rec.suspensions
	states := append([]string(nil), rec.states...)
	rec.mu.Unlock()
	if suspensions != 1 {
		t.Fatalf("expected exactly 1 suspension, got %d", suspensions)
	}
	sawSuspended := false
	for _, st := range states {
		if st == string(StateSuspended) {
			sawSuspended = true
		}
	}
	if !sawSuspended {
		t.Fatalf("suspended state never observed: %v", states)
	}
	if states[len(states)-1] != string(StateDone) {
		t.Fatalf("final state: %v", states[len(states)-1])
	}
}

func TestRunCancelledWhileSuspended(t *testing.T) {
	run := &scriptedRunner{scripts: map[string][]*sample.MetricSample{}}
	s := New([]string{"a.example"}, policyFunc(func(time.Time) bool { return false }), run, &captureSink{},
		WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := s.Status(); got.State != StateSuspended || got.Cursor != 0 {
		t.Fatalf("expected to stop suspended at cursor 0, got %+v", got)
	}
	run.mu.Lock()
	attempts := len(run.calls)
	run.mu.Unlock()
	if attempts != 0 {
		t.Fatalf("no attempts may run outside the window, got %d", attempts)
	}
}

func TestSinkFailureDoesNotAbort(t *testing.T) {
	run := &scriptedRunner{scripts: map[string][]*sample.MetricSample{
		"a.example": {goodSample(0.9), goodSample(0.9), goodSample(0.9)},
	}}
	out := &captureSink{err: errors.New("disk full")}
	s := New([]string{"a.example"}, alwaysOpen, run, out)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run must survive sink failures: %v", err)
	}
	if got := s.Status().State; got != StateDone {
		t.Fatalf("expected Done, got %v", got)
	}
}

type captureArtifacts struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func (a *captureArtifacts) Save(runID string, raw []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.saved == nil {
		a.saved = map[string][]byte{}
	}
	a.saved[runID] = raw
	return "/tmp/" + runID, nil
}

func TestArtifactsSavedWhenEnabled(t *testing.T) {
	run := &scriptedRunner{scripts: map[string][]*sample.MetricSample{
		"a.example": {goodSample(0.9), nil, goodSample(0.8)},
	}}
	store := &captureArtifacts{}
	s := New([]string{"a.example"}, alwaysOpen, run, &captureSink{}, WithArtifacts(store))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	store.mu.Lock()
	saved := len(store.saved)
	store.mu.Unlock()
	if saved != 2 {
		t.Fatalf("expected one artifact per successful attempt, got %d", saved)
	}
}
