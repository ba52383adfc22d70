package driver

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/journal"
	"github.com/lambdazy/crowdom-sub001/internal/signals"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

var errBroken = errors.New("store unreachable")

// fakeLoop is done after steps iterations, or fails at iteration failAt.
type fakeLoop struct {
	name   string
	steps  int
	failAt int
	// block makes Run wait for cancellation.
	block bool
	// started is closed when Run begins; Run waits for after first.
	started chan struct{}
	after   chan struct{}
	rec     classification.Recorder

	mu         sync.Mutex
	setups     int
	iterations int
}

func (f *fakeLoop) Name() string { return f.name }

func (f *fakeLoop) Setup(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setups++
	return nil
}

func (f *fakeLoop) Iterate(ctx context.Context) (bool, error) {
	f.mu.Lock()
	f.iterations++
	n := f.iterations
	f.mu.Unlock()
	if f.failAt > 0 && n >= f.failAt {
		return false, errBroken
	}
	done := n >= f.steps
	if f.rec != nil {
		if err := f.rec.Record(ctx, models.IterationReport{Loop: "classification", PoolID: f.name, Iteration: n, Closed: done}); err != nil {
			return false, err
		}
	}
	return done, nil
}

func (f *fakeLoop) Run(ctx context.Context) error {
	if f.started != nil {
		close(f.started)
	}
	if f.after != nil {
		<-f.after
	}
	if err := f.Setup(ctx); err != nil {
		return err
	}
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	for {
		done, err := f.Iterate(ctx)
		if err != nil || done {
			return err
		}
	}
}

func (f *fakeLoop) counts() (setups, iterations int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.setups, f.iterations
}

func job(l *fakeLoop) Job {
	return Job{
		Kind:  "classification",
		Pools: []string{l.name},
		Build: func(rec classification.Recorder) (Loop, error) {
			l.rec = rec
			return l, nil
		},
	}
}

func setupJournal(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		j.Close()
	})
	return j
}

// statuses returns the journaled status of every run, keyed by pool.
func statuses(t *testing.T, j *journal.Journal) map[string]journal.Run {
	t.Helper()
	runs, err := j.Runs(context.Background(), 100)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	out := make(map[string]journal.Run)
	for _, r := range runs {
		out[r.Pools[0]] = r
	}
	return out
}

func TestRunAll_Journals(t *testing.T) {
	j := setupJournal(t)
	a := &fakeLoop{name: "a", steps: 3}
	b := &fakeLoop{name: "b", steps: 1}

	if err := New(j).RunAll(context.Background(), []Job{job(a), job(b)}); err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	runs := statuses(t, j)
	for _, name := range []string{"a", "b"} {
		if runs[name].Status != journal.StatusCompleted {
			t.Errorf("run %s: status %q", name, runs[name].Status)
		}
	}
	its, err := j.Iterations(context.Background(), runs["a"].ID)
	if err != nil {
		t.Fatalf("Iterations: %v", err)
	}
	if len(its) != 3 || !its[2].Closed {
		t.Errorf("expected 3 recorded iterations ending closed, got %+v", its)
	}
}

func TestRunAll_FailureCancelsOthers(t *testing.T) {
	j := setupJournal(t)
	waiting := &fakeLoop{name: "waiting", block: true, started: make(chan struct{})}
	broken := &fakeLoop{name: "broken", steps: 5, failAt: 1, after: waiting.started}

	err := New(j).RunAll(context.Background(), []Job{job(waiting), job(broken)})
	if !errors.Is(err, errBroken) {
		t.Fatalf("expected the failing loop's error, got %v", err)
	}

	runs := statuses(t, j)
	if runs["broken"].Status != journal.StatusFailed || runs["broken"].Error == "" {
		t.Errorf("broken run = %+v", runs["broken"])
	}
	if runs["waiting"].Status != journal.StatusCanceled {
		t.Errorf("waiting run = %+v", runs["waiting"])
	}
}

func TestRunAll_BuildError(t *testing.T) {
	j := setupJournal(t)
	bad := Job{Kind: "feedback", Pools: []string{"m"}, Build: func(classification.Recorder) (Loop, error) {
		return nil, models.ErrConfiguration
	}}
	if err := New(j).RunAll(context.Background(), []Job{bad}); !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if runs := statuses(t, j); runs["m"].Status != journal.StatusFailed {
		t.Errorf("run = %+v", runs["m"])
	}
}

// gauge tracks how many loops run at once.
type gauge struct {
	cur, peak atomic.Int32
}

type gaugedLoop struct {
	*fakeLoop
	g *gauge
}

func (l gaugedLoop) Run(ctx context.Context) error {
	n := l.g.cur.Add(1)
	defer l.g.cur.Add(-1)
	for {
		p := l.g.peak.Load()
		if n <= p || l.g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return l.fakeLoop.Run(ctx)
}

func TestRunAll_Parallelism(t *testing.T) {
	g := &gauge{}
	var jobs []Job
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		l := gaugedLoop{&fakeLoop{name: name, steps: 1}, g}
		jobs = append(jobs, Job{Kind: "classification", Pools: []string{name}, Build: func(classification.Recorder) (Loop, error) {
			return l, nil
		}})
	}
	if err := New(nil, WithParallelism(2)).RunAll(context.Background(), jobs); err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if p := g.peak.Load(); p < 1 || p > 2 {
		t.Errorf("peak concurrency = %d, want at most 2", p)
	}
}

// every fires at a fixed sub-second interval.
type every time.Duration

func (e every) Next(t time.Time) time.Time { return t.Add(time.Duration(e)) }

func TestRunScheduled(t *testing.T) {
	j := setupJournal(t)
	fast := &fakeLoop{name: "fast", steps: 2}
	slow := &fakeLoop{name: "slow", steps: 4}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := New(j).RunScheduled(ctx, every(5*time.Millisecond), []Job{job(fast), job(slow)}); err != nil {
		t.Fatalf("RunScheduled: %v", err)
	}

	for _, l := range []*fakeLoop{fast, slow} {
		setups, its := l.counts()
		if setups != 1 || its != l.steps {
			t.Errorf("%s: %d setups, %d iterations", l.name, setups, its)
		}
	}
	runs := statuses(t, j)
	if runs["fast"].Status != journal.StatusCompleted || runs["slow"].Status != journal.StatusCompleted {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRunScheduled_FailureUnschedulesOnlyThatLoop(t *testing.T) {
	j := setupJournal(t)
	broken := &fakeLoop{name: "broken", steps: 10, failAt: 2}
	healthy := &fakeLoop{name: "healthy", steps: 5}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := New(j).RunScheduled(ctx, every(5*time.Millisecond), []Job{job(broken), job(healthy)})
	if !errors.Is(err, errBroken) {
		t.Fatalf("expected errBroken, got %v", err)
	}
	if _, its := broken.counts(); its != 2 {
		t.Errorf("broken loop stepped %d times after failing", its)
	}
	if _, its := healthy.counts(); its != 5 {
		t.Errorf("healthy loop stepped %d times", its)
	}
	runs := statuses(t, j)
	if runs["broken"].Status != journal.StatusFailed || runs["healthy"].Status != journal.StatusCompleted {
		t.Errorf("runs = %+v", runs)
	}
}

func TestRunScheduled_Stop(t *testing.T) {
	j := setupJournal(t)
	pause := signals.NewPauseController()
	pause.Stop()
	l := &fakeLoop{name: "a", steps: 100}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := New(j, WithPauseController(pause)).RunScheduled(ctx, every(5*time.Millisecond), []Job{job(l)})
	if !errors.Is(err, signals.ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if _, its := l.counts(); its != 0 {
		t.Errorf("stopped loop stepped %d times", its)
	}
	if runs := statuses(t, j); runs["a"].Status != journal.StatusCanceled {
		t.Errorf("run = %+v", runs["a"])
	}
}

func TestSchedule_InvalidSpec(t *testing.T) {
	err := New(nil).Schedule(context.Background(), "every minute", nil)
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if _, err := ParseSchedule("@every 1m"); err != nil {
		t.Errorf("ParseSchedule: %v", err)
	}
}

func TestStatus(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, journal.StatusCompleted},
		{context.Canceled, journal.StatusCanceled},
		{signals.ErrStopped, journal.StatusCanceled},
		{classification.ErrIterationLimit, journal.StatusFailed},
		{errBroken, journal.StatusFailed},
	}
	for _, tc := range tests {
		if got := Status(tc.err); got != tc.want {
			t.Errorf("Status(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
