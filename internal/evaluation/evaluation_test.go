package evaluation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lambdazy/crowdom-sub001/internal/aggregation"
	"github.com/lambdazy/crowdom-sub001/internal/control"
	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

type fakeStore struct {
	statuses     map[string]models.SubmissionStatus
	restrictions []models.Restriction
	bonuses      []models.Bonus
	failBonus    bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: make(map[string]models.SubmissionStatus)}
}

func (s *fakeStore) SetSubmissionStatus(_ context.Context, id string, status models.SubmissionStatus, _ string) error {
	s.statuses[id] = status
	return nil
}

func (s *fakeStore) ApplyWorkerRestriction(_ context.Context, r models.Restriction) error {
	s.restrictions = append(s.restrictions, r)
	return nil
}

func (s *fakeStore) IssueBonus(_ context.Context, b models.Bonus) error {
	if s.failBonus {
		return models.ErrRemoteStore
	}
	s.bonuses = append(s.bonuses, b)
	return nil
}

var (
	ctlA     = models.ControlTask{Task: models.NewTask("a"), Answer: "cat", Weight: 1}
	ctlB     = models.ControlTask{Task: models.NewTask("b"), Answer: "dog", Weight: 3}
	realTask = models.NewTask("r")
)

func newStrategy() *ControlTaskStrategy {
	return NewControlTaskStrategy([]models.ControlTask{ctlA, ctlB}, []models.Task{realTask})
}

// sub builds a submitted submission from (task, answer) pairs.
func sub(id, worker string, pairs ...any) models.Submission {
	s := models.Submission{
		PoolID:      "pool",
		WorkerID:    worker,
		Status:      models.StatusSubmitted,
		StartedAt:   time.Unix(0, 0),
		SubmittedAt: time.Unix(60, 0),
	}
	if id != "" {
		s.RemoteID = models.StringPtr(id)
	}
	for i := 0; i < len(pairs); i += 2 {
		s.Items = append(s.Items, models.Item{Task: pairs[i].(models.Task), Answer: pairs[i+1].(string)})
	}
	return s
}

func TestControlTaskStrategy_Evaluate(t *testing.T) {
	s := sub("a1", "w1", ctlA.Task, "cat", realTask, "x", ctlB.Task, "cat", ctlA.Task, "")
	s.Items[3].Skipped = true

	ev, err := newStrategy().Evaluate(s)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if ev.Checked != 2 || ev.Correct != 1 || ev.Total != 3 {
		t.Errorf("unexpected counts %+v", ev)
	}
	if len(ev.Incorrect) != 1 || ev.Incorrect[0] != 2 {
		t.Errorf("Incorrect = %v, want [2]", ev.Incorrect)
	}
	if got := ev.Accuracy(); got != 0.25 {
		t.Errorf("weighted accuracy = %v, want 0.25", got)
	}
}

func TestControlTaskStrategy_Inconsistencies(t *testing.T) {
	tests := []struct {
		name     string
		strategy *ControlTaskStrategy
		sub      models.Submission
	}{
		{"unknown task", newStrategy(), sub("a1", "w1", models.NewTask("zzz"), "cat")},
		{"zero weight", NewControlTaskStrategy([]models.ControlTask{{Task: models.NewTask("c"), Answer: "x"}}, nil),
			sub("a1", "w1", models.NewTask("c"), "x")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.strategy.Evaluate(tc.sub); !errors.Is(err, models.ErrDataInconsistency) {
				t.Fatalf("expected data inconsistency, got %v", err)
			}
		})
	}
}

func TestCheckStrategy_Evaluate(t *testing.T) {
	good := models.Solution{Task: models.NewTask("img1"), Answer: "cat"}
	bad := models.Solution{Task: models.NewTask("img2"), Answer: "dog"}
	strategy := CheckStrategy{Evaluations: map[string]models.SolutionEvaluation{
		good.ID(): {OK: true, Confidence: 1},
		bad.ID():  {OK: false, Confidence: 0.8},
	}}

	s := sub("m1", "w1", good.Task, good.Answer, bad.Task, bad.Answer, models.NewTask("img3"), "cow")
	ev, err := strategy.Evaluate(s)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if ev.Checked != 2 || ev.Correct != 1 || ev.Total != 3 || ev.Accuracy() != 0.5 {
		t.Errorf("unexpected evaluation %+v", ev)
	}
}

func TestWorkerWeights(t *testing.T) {
	subs := []models.Submission{
		sub("1", "w1", ctlA.Task, "cat", ctlB.Task, "dog"),
		sub("2", "w1", ctlA.Task, "dog", ctlB.Task, "cat"),
		sub("3", "w2", ctlA.Task, "cat", ctlB.Task, "cat"),
		sub("4", "w2", ctlA.Task, "cat", ctlB.Task, "dog"),
		sub("5", "w3", realTask, "x"),
	}
	subs[1].Status = models.StatusRejected

	weights, err := WorkerWeights(subs, newStrategy())
	if err != nil {
		t.Fatalf("WorkerWeights failed: %v", err)
	}
	want := map[string]float64{"w1": 0.5, "w2": 0.75}
	if len(weights) != len(want) {
		t.Fatalf("weights = %v, want %v", weights, want)
	}
	for w, v := range want {
		if weights[w] != v {
			t.Errorf("weight of %s = %v, want %v", w, weights[w], v)
		}
	}
}

func TestEvaluateAndApply(t *testing.T) {
	ctl, err := control.NewBuilder().AddStaticReward(0.5).AddControlTaskControl(2, 0, 1).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	store := newFakeStore()
	subs := []models.Submission{
		sub("good", "w1", ctlA.Task, "cat", ctlB.Task, "dog"),
		sub("bad", "w2", ctlA.Task, "dog", ctlB.Task, "cat"),
		sub("broken", "w3", models.NewTask("unknown"), "x"),
		sub("", "model", ctlA.Task, "cat", realTask, "x"),
		sub("unchecked", "w4", realTask, "x"),
	}

	results, err := EvaluateAndApply(context.Background(), store, subs, newStrategy(), ctl, 0)
	if err != nil {
		t.Fatalf("EvaluateAndApply failed: %v", err)
	}
	if len(results) != len(subs) {
		t.Fatalf("expected %d results, got %d", len(subs), len(results))
	}

	wantStatus := []models.SubmissionStatus{
		models.StatusAccepted, models.StatusRejected, models.StatusSubmitted, models.StatusAccepted, models.StatusAccepted,
	}
	for i, r := range results {
		if r.Status != wantStatus[i] {
			t.Errorf("%s: status %s, want %s", r.Submission.Key(), r.Status, wantStatus[i])
		}
	}
	if !errors.Is(results[2].Err, models.ErrDataInconsistency) {
		t.Errorf("expected broken submission to be skipped, got %v", results[2].Err)
	}
	if !errors.Is(Inconsistencies(results), models.ErrDataInconsistency) {
		t.Errorf("Inconsistencies did not surface the skipped submission")
	}

	if len(store.statuses) != 3 || store.statuses["bad"] != models.StatusRejected {
		t.Errorf("unexpected store statuses %v", store.statuses)
	}
	if len(store.restrictions) != 1 || store.restrictions[0].WorkerID != "w2" {
		t.Errorf("expected w2 to be blocked, got %+v", store.restrictions)
	}
	if len(results[1].Restrictions()) != 1 {
		t.Errorf("result did not report the restriction")
	}
}

func TestEvaluateAndApply_MinAccuracyFallback(t *testing.T) {
	block := control.Control{Rules: []control.Rule{{
		Predicate: control.Accuracy(control.LessThan, 0.3),
		Action:    control.Block{Scope: models.ScopePool},
	}}}
	store := newFakeStore()
	subs := []models.Submission{
		sub("half", "w1", ctlA.Task, "cat", ctlB.Task, "cat"),
		sub("full", "w2", ctlA.Task, "cat", ctlB.Task, "dog"),
	}

	results, err := EvaluateAndApply(context.Background(), store, subs, NewControlTaskStrategy(
		[]models.ControlTask{ctlA, {Task: ctlB.Task, Answer: ctlB.Answer, Weight: 1}}, nil), block, 0.6)
	if err != nil {
		t.Fatalf("EvaluateAndApply failed: %v", err)
	}
	if results[0].Status != models.StatusRejected || results[1].Status != models.StatusAccepted {
		t.Errorf("fallback statuses = %s, %s", results[0].Status, results[1].Status)
	}
	if len(store.restrictions) != 0 {
		t.Errorf("accuracy 0.5 should not be blocked")
	}
}

func TestEvaluateAndApply_Bonuses(t *testing.T) {
	ctl, err := control.NewBuilder().AddDynamicReward(control.DynamicReward{
		MinBonus: 0.1, MaxBonus: 0.3, MinAccuracyForAccept: 0.5,
	}).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	store := newFakeStore()
	subs := []models.Submission{
		sub("top", "w1", ctlA.Task, "cat", ctlB.Task, "dog"),
		sub("low", "w2", ctlA.Task, "dog", ctlB.Task, "cat"),
	}
	results, err := EvaluateAndApply(context.Background(), store, subs, newStrategy(), ctl, 0)
	if err != nil {
		t.Fatalf("EvaluateAndApply failed: %v", err)
	}
	if len(store.bonuses) != 1 || store.bonuses[0].SubmissionID != "top" || store.bonuses[0].Amount != 0.3 {
		t.Fatalf("unexpected bonuses %+v", store.bonuses)
	}
	if len(results[0].Bonuses) != 1 || len(results[1].Bonuses) != 0 {
		t.Errorf("bonuses not reported per result")
	}

	store.failBonus = true
	subs[0].RemoteID = models.StringPtr("top2")
	if _, err := EvaluateAndApply(context.Background(), store, subs[:1], newStrategy(), ctl, 0); !errors.Is(err, models.ErrRemoteStore) {
		t.Errorf("expected remote store error, got %v", err)
	}
}

func TestSolutionFromVotes(t *testing.T) {
	votes := []models.Vote{{Label: models.LabelOK, WorkerID: "a"}, {Label: models.LabelOK, WorkerID: "b"}, {Label: models.LabelBad, WorkerID: "c"}}
	d := aggregation.MajorityVote{}.Aggregate(map[string][]models.Vote{"t": votes}, nil)["t"]
	se := SolutionFromVotes(votes, d)
	if !se.OK || se.Confidence < 0.66 || se.Confidence > 0.67 || len(se.Votes) != 3 {
		t.Errorf("unexpected evaluation %+v", se)
	}
}
