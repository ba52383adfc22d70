package feedback

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/aggregation"
	"github.com/lambdazy/crowdom-sub001/internal/classification"
	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/internal/overlap"
	"github.com/lambdazy/crowdom-sub001/internal/store"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

var base = time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC)

func checked(ok bool, conf float64) *models.SolutionEvaluation {
	return &models.SolutionEvaluation{OK: ok, Confidence: conf}
}

func TestFindFinalized_Precedence(t *testing.T) {
	th := Thresholds{Quality: 0.9, AssignmentAccuracy: 0.8, MinChecked: 3, MaxAttempts: 2}

	attempts := map[string][]Attempt{
		// a confident OK wins although its submission is inaccurate
		"quality": {{Verdict: models.VerdictOK, Evaluation: checked(true, 0.95), AssignmentAccuracy: 0.3, AssignmentChecked: 5}},
		// no confident OK, but the owning submission is trusted
		"accuracy": {{Verdict: models.VerdictOK, Evaluation: checked(true, 0.7), AssignmentAccuracy: 0.9, AssignmentChecked: 4}},
		// pending checks count as well once the submission is trusted
		"accuracy-unknown": {{Verdict: models.VerdictUnknown, AssignmentAccuracy: 0.85, AssignmentChecked: 3}},
		// below both thresholds, at the attempt limit
		"attempts": {
			{Verdict: models.VerdictOK, Evaluation: checked(true, 0.6), AssignmentAccuracy: 0.5, AssignmentChecked: 4},
			{Verdict: models.VerdictBad, Evaluation: checked(false, 0.9), AssignmentAccuracy: 0.2, AssignmentChecked: 4},
		},
		// trusted submission, but too few of its solutions were checked
		"few-checks": {{Verdict: models.VerdictUnknown, AssignmentAccuracy: 1, AssignmentChecked: 2}},
		// a bad solution never finalizes by its submission's accuracy
		"bad": {{Verdict: models.VerdictBad, Evaluation: checked(false, 1), AssignmentAccuracy: 0.9, AssignmentChecked: 5}},
		// accuracy must exceed the threshold, not reach it
		"equal": {{Verdict: models.VerdictOK, Evaluation: checked(true, 0.5), AssignmentAccuracy: 0.8, AssignmentChecked: 5}},
		"none":  nil,
	}
	want := map[string]Finalization{
		"quality":          FinalizedByQuality,
		"accuracy":         FinalizedByAssignmentAccuracy,
		"accuracy-unknown": FinalizedByAssignmentAccuracy,
		"attempts":         FinalizedByMaxAttempts,
		"few-checks":       NotFinalized,
		"bad":              NotFinalized,
		"equal":            NotFinalized,
		"none":             NotFinalized,
	}

	got := FindFinalized(attempts, th)
	for task, w := range want {
		if got[task] != w {
			t.Errorf("%s: got %q, want %q", task, got[task], w)
		}
	}
}

func TestSortAttempts(t *testing.T) {
	as := []Attempt{
		{WorkerID: "bad", Verdict: models.VerdictBad, AssignmentAccuracy: 1, SubmittedAt: base},
		{WorkerID: "unknown", Verdict: models.VerdictUnknown, AssignmentAccuracy: 0.9, SubmittedAt: base},
		{WorkerID: "ok-late", Verdict: models.VerdictOK, AssignmentAccuracy: 0.7, SubmittedAt: base.Add(time.Hour)},
		{WorkerID: "ok-low", Verdict: models.VerdictOK, AssignmentAccuracy: 0.5, SubmittedAt: base},
		{WorkerID: "ok-early", Verdict: models.VerdictOK, AssignmentAccuracy: 0.7, SubmittedAt: base},
	}
	SortAttempts(as)
	var order []string
	for _, a := range as {
		order = append(order, a.WorkerID)
	}
	want := []string{"ok-early", "ok-late", "ok-low", "unknown", "bad"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

// fixture is a markup pool of two tasks checked by a pool with overlap 2.
type fixture struct {
	st     *store.Memory
	loop   *Loop
	hello  models.Task
	bye    models.Task
	golden models.ControlTask
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		st:    store.NewMemory(),
		hello: models.NewTask("translate", "hello"),
		bye:   models.NewTask("translate", "bye"),
	}
	f.golden = models.ControlTask{
		Task:   models.Solution{Task: models.NewTask("translate", "cat"), Answer: "chat"}.CheckTask(),
		Answer: models.LabelOK,
		Weight: 1,
	}
	for _, p := range []string{"markup", "check"} {
		if err := f.st.CreatePool(ctx, p); err != nil {
			t.Fatalf("CreatePool: %v", err)
		}
	}

	markupCtl, err := control.NewBuilder().AddStaticReward(0.5).Build()
	if err != nil {
		t.Fatalf("markup control: %v", err)
	}
	checkCtl, err := control.NewBuilder().AddStaticReward(0.5).Build()
	if err != nil {
		t.Fatalf("check control: %v", err)
	}
	cfg := Config{
		Markup: MarkupConfig{
			PoolID:      "markup",
			Tasks:       []models.Task{f.hello, f.bye},
			Control:     markupCtl,
			MinAccuracy: 0.5,
		},
		Check: classification.Config{
			PoolID:       "check",
			ControlTasks: []models.ControlTask{f.golden},
			Labels:       []string{models.LabelOK, models.LabelBad},
			Control:      checkCtl,
			Overlap:      overlap.Static{Overlap: 2},
			Aggregation:  aggregation.MajorityVote{},
			MinAccuracy:  0.5,
		},
		Thresholds: Thresholds{Quality: 0.9, AssignmentAccuracy: 0.8, MinChecked: 2, MaxAttempts: 2},
		Bonus:      &control.DynamicReward{MinBonus: 0.1, MaxBonus: 0.3, Granularity: 3},
	}
	f.loop, err = New(f.st, cfg, classification.WithClock(func() time.Time { return base }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := f.loop.Setup(ctx); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	return f
}

func (f *fixture) add(t *testing.T, pool, worker string, at time.Time, items ...models.Item) {
	t.Helper()
	_, err := f.st.AddSubmission(context.Background(), models.Submission{
		PoolID: pool, WorkerID: worker, Items: items, StartedAt: at, SubmittedAt: at.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("AddSubmission: %v", err)
	}
}

type verdict struct {
	sol   models.Solution
	label string
}

// verdicts has two checkers label the solutions and answer the control task correctly.
func (f *fixture) verdicts(t *testing.T, at time.Time, vs ...verdict) {
	t.Helper()
	var items []models.Item
	for _, v := range vs {
		items = append(items, models.Item{Task: v.sol.CheckTask(), Answer: v.label})
	}
	items = append(items, models.Item{Task: f.golden.Task, Answer: models.LabelOK})
	f.add(t, "check", "checker-1", at, items...)
	f.add(t, "check", "checker-2", at.Add(time.Second), items...)
}

func (f *fixture) step(t *testing.T) Report {
	t.Helper()
	rep, err := f.loop.Step(context.Background())
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	return rep
}

func TestLoop_MarkupCheckCycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	goodHello := models.Solution{Task: f.hello, Answer: "bonjour"}
	badBye := models.Solution{Task: f.bye, Answer: "merci"}
	goodBye := models.Solution{Task: f.bye, Answer: "au revoir"}

	// 1: first attempt on both tasks goes to the check pool
	f.add(t, "markup", "m1", base,
		models.Item{Task: f.hello, Answer: goodHello.Answer},
		models.Item{Task: f.bye, Answer: badBye.Answer})
	rep := f.step(t)
	if rep.Markup.Fetched != 1 || rep.Markup.Accepted != 0 || rep.Closed {
		t.Fatalf("iteration 1 = %+v", rep)
	}
	checkTasks, _ := f.st.PoolTasks(ctx, "check")
	if len(checkTasks) != 3 {
		t.Fatalf("expected 2 check tasks plus the control task, got %d", len(checkTasks))
	}

	// 2: checkers confirm hello and refute bye
	f.verdicts(t, base.Add(time.Hour), verdict{goodHello, models.LabelOK}, verdict{badBye, models.LabelBad})
	rep = f.step(t)
	if rep.Check.Accepted != 2 {
		t.Errorf("expected both checkers accepted, got %+v", rep.Check)
	}
	if rep.Markup.Accepted != 1 || rep.Markup.Bonuses != 1 {
		t.Errorf("expected m1 accepted with a bonus, got %+v", rep.Markup)
	}
	if rep.Markup.Finalized != 1 || rep.Markup.Raised != 1 || rep.Closed {
		t.Errorf("expected hello finalized and another bye attempt, got %+v", rep.Markup)
	}

	// 3: second attempt on bye
	f.add(t, "markup", "m2", base.Add(2*time.Hour), models.Item{Task: f.bye, Answer: goodBye.Answer})
	rep = f.step(t)
	if rep.Closed {
		t.Fatalf("closed before the second attempt was checked")
	}

	// 4: checkers confirm it
	f.verdicts(t, base.Add(3*time.Hour), verdict{goodBye, models.LabelOK})
	rep = f.step(t)
	if rep.Markup.Accepted != 1 || !rep.Closed {
		t.Errorf("iteration 4 = %+v", rep)
	}

	results, err := f.loop.Results(ctx)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(results))
	}
	for _, r := range results {
		if r.Finalization != FinalizedByQuality {
			t.Errorf("task %v finalized by %q", r.Task.Inputs, r.Finalization)
		}
	}
	best, ok := results[1].Best()
	if !ok || best.Solution.Answer != goodBye.Answer || best.Verdict != models.VerdictOK {
		t.Errorf("best bye solution = %+v", best)
	}
	if len(results[1].Solutions) != 2 || results[1].Solutions[1].Verdict != models.VerdictBad {
		t.Errorf("bye solutions = %+v", results[1].Solutions)
	}

	bonuses, _ := f.st.Bonuses(ctx)
	amounts := make(map[string]float64)
	for _, b := range bonuses {
		amounts[b.WorkerID] += b.Amount
	}
	// m1 scored 0.5, the middle band; m2 scored 1.0, the top band
	if math.Abs(amounts["m1"]-0.2) > 1e-9 || math.Abs(amounts["m2"]-0.3) > 1e-9 || len(bonuses) != 2 {
		t.Errorf("bonuses = %+v", bonuses)
	}
}

func TestLoop_MaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bad1 := models.Solution{Task: f.hello, Answer: "hola"}
	bad2 := models.Solution{Task: f.hello, Answer: "ciao"}

	f.add(t, "markup", "m1", base, models.Item{Task: f.hello, Answer: bad1.Answer}, models.Item{Task: f.bye, Answer: "au revoir"})
	f.step(t)
	f.verdicts(t, base.Add(time.Hour), verdict{bad1, models.LabelBad}, verdict{models.Solution{Task: f.bye, Answer: "au revoir"}, models.LabelOK})
	rep := f.step(t)
	if rep.Markup.Raised != 1 {
		t.Fatalf("expected a second hello attempt, got %+v", rep.Markup)
	}

	f.add(t, "markup", "m2", base.Add(2*time.Hour), models.Item{Task: f.hello, Answer: bad2.Answer})
	f.step(t)
	f.verdicts(t, base.Add(3*time.Hour), verdict{bad2, models.LabelBad})
	rep = f.step(t)
	if rep.Markup.Raised != 0 || rep.Markup.Rejected != 1 || !rep.Closed {
		t.Errorf("expected hello given up after two attempts, got %+v", rep.Markup)
	}

	results, err := f.loop.Results(ctx)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if results[0].Finalization != FinalizedByMaxAttempts {
		t.Errorf("hello finalized by %q", results[0].Finalization)
	}
	for _, a := range results[0].Solutions {
		if a.Verdict != models.VerdictBad {
			t.Errorf("unexpected verdict %+v", a)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	f := newFixture(t)
	valid := f.loop.cfg

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"same pools", func(c *Config) { c.Check.PoolID = c.Markup.PoolID }},
		{"no markup pool", func(c *Config) { c.Markup.PoolID = "" }},
		{"zero quality", func(c *Config) { c.Thresholds.Quality = 0 }},
		{"no attempts", func(c *Config) { c.Thresholds.MaxAttempts = 0 }},
		{"bad bonus", func(c *Config) { c.Bonus = &control.DynamicReward{MinBonus: 0.3, MaxBonus: 0.1} }},
		{"bad check pool", func(c *Config) { c.Check.Overlap = nil }},
		{"double bonus", func(c *Config) {
			ctl, _ := control.NewBuilder().AddDynamicReward(control.DynamicReward{MinBonus: 0.1, MaxBonus: 0.2}).Build()
			c.Markup.Control = ctl
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestLoop_CheckTasksResentAfterStoreFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	hello := models.Solution{Task: f.hello, Answer: "bonjour"}
	bye := models.Solution{Task: f.bye, Answer: "au revoir"}
	f.add(t, "markup", "m1", base,
		models.Item{Task: f.hello, Answer: hello.Answer},
		models.Item{Task: f.bye, Answer: bye.Answer})

	f.st.Fail = func(op string) error {
		if op == "add tasks" {
			return errors.New("connection reset")
		}
		return nil
	}
	if _, err := f.loop.Step(ctx); !errors.Is(err, models.ErrRemoteStore) {
		t.Fatalf("expected ErrRemoteStore, got %v", err)
	}
	f.st.Fail = nil

	f.step(t)
	tasks, err := f.st.PoolTasks(ctx, "check")
	if err != nil {
		t.Fatalf("PoolTasks: %v", err)
	}
	ids := make(map[string]bool)
	for _, pt := range tasks {
		ids[pt.Task.ID()] = true
	}
	if !ids[hello.CheckTask().ID()] || !ids[bye.CheckTask().ID()] {
		t.Fatalf("check tasks missing after retry: %d tasks in the check pool", len(tasks))
	}

	f.verdicts(t, base.Add(time.Hour), verdict{hello, models.LabelOK}, verdict{bye, models.LabelOK})
	rep := f.step(t)
	if rep.Markup.Accepted != 1 || !rep.Closed {
		t.Errorf("expected m1 accepted and the workflow done, got %+v", rep)
	}
}

// lateStore lands a markup submission between the loop's fetch and its pool check.
type lateStore struct {
	*store.Memory
	late *models.Submission
}

func (s *lateStore) IsPoolClosed(ctx context.Context, poolID string) (bool, error) {
	if s.late != nil && poolID == s.late.PoolID {
		sub := *s.late
		s.late = nil
		if _, err := s.Memory.AddSubmission(ctx, sub); err != nil {
			return false, err
		}
	}
	return s.Memory.IsPoolClosed(ctx, poolID)
}

func TestLoop_LateMarkupSubmissionKeepsWorkflowOpen(t *testing.T) {
	f := newFixture(t)
	st := &lateStore{Memory: f.st}
	loop, err := New(st, f.loop.cfg, classification.WithClock(func() time.Time { return base }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.loop = loop

	hello := models.Solution{Task: f.hello, Answer: "bonjour"}
	bye := models.Solution{Task: f.bye, Answer: "au revoir"}
	f.add(t, "markup", "m1", base, models.Item{Task: f.hello, Answer: hello.Answer})
	f.step(t)
	f.verdicts(t, base.Add(time.Hour), verdict{hello, models.LabelOK})
	f.step(t)

	// bye's first attempt lands while the loop is checking whether markup closed
	st.late = &models.Submission{
		PoolID: "markup", WorkerID: "m2", StartedAt: base.Add(2 * time.Hour), SubmittedAt: base.Add(2*time.Hour + time.Minute),
		Items: []models.Item{{Task: f.bye, Answer: bye.Answer}},
	}
	if rep := f.step(t); rep.Closed {
		t.Fatalf("closed with an unchecked markup submission: %+v", rep)
	}

	f.step(t)
	f.verdicts(t, base.Add(3*time.Hour), verdict{bye, models.LabelOK})
	rep := f.step(t)
	if rep.Markup.Accepted != 1 || !rep.Closed {
		t.Errorf("expected m2 accepted and the workflow done, got %+v", rep)
	}
}
