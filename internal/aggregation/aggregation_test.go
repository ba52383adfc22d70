package aggregation

import (
	"errors"
	"math"
	"testing"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func votes(labels ...string) []models.Vote {
	out := make([]models.Vote, len(labels))
	for i, l := range labels {
		out[i] = models.Vote{Label: l, WorkerID: string(rune('a' + i))}
	}
	return out
}

func TestMajorityVote(t *testing.T) {
	got := MajorityVote{}.Aggregate(map[string][]models.Vote{
		"t1": votes("cat", "cat", "dog", "cat"),
		"t2": nil,
	}, nil)

	if _, ok := got["t2"]; ok {
		t.Errorf("task without votes should have no distribution")
	}
	label, p := got["t1"].Top()
	if label != "cat" || !approx(p, 0.75) {
		t.Errorf("Top() = %s %v, want cat 0.75", label, p)
	}
}

func TestDistribution_TopTieBreak(t *testing.T) {
	label, p := Distribution{"dog": 0.5, "cat": 0.5}.Top()
	if label != "cat" || p != 0.5 {
		t.Errorf("Top() = %s %v, want cat 0.5", label, p)
	}
	if label, _ := (Distribution{}).Top(); label != "" {
		t.Errorf("empty distribution should have no top label")
	}
}

func TestWeightedMajority(t *testing.T) {
	weights := map[string]float64{"a": 0.9, "b": 0.2, "c": 0.2}
	got := WeightedMajority{DefaultWeight: 0.5}.Aggregate(map[string][]models.Vote{
		"t1": votes("cat", "dog", "dog"),
	}, weights)

	label, p := got["t1"].Top()
	if label != "cat" || !approx(p, 0.9/1.3) {
		t.Errorf("Top() = %s %v, want cat %v", label, p, 0.9/1.3)
	}
}

func TestMaxLikelihood(t *testing.T) {
	alg := MaxLikelihood{Labels: []string{"cat", "dog"}, DefaultWeight: 0.5}

	t.Run("reliable minority wins", func(t *testing.T) {
		weights := map[string]float64{"a": 0.95, "b": 0.6, "c": 0.6}
		got := alg.Aggregate(map[string][]models.Vote{"t1": votes("cat", "dog", "dog")}, weights)
		label, _ := got["t1"].Top()
		if label != "cat" {
			t.Errorf("expected cat, got %s", label)
		}
	})

	t.Run("two agreeing workers", func(t *testing.T) {
		weights := map[string]float64{"a": 0.8, "b": 0.8}
		got := alg.Aggregate(map[string][]models.Vote{"t1": votes("dog", "dog")}, weights)
		// 0.8*0.8 / (0.8*0.8 + 0.2*0.2)
		want := 0.64 / 0.68
		if p := got["t1"]["dog"]; !approx(p, want) {
			t.Errorf("P(dog) = %v, want %v", p, want)
		}
	})

	t.Run("sums to one", func(t *testing.T) {
		got := alg.Aggregate(map[string][]models.Vote{"t1": votes("cat", "dog", "bird")}, nil)
		total := 0.0
		for _, p := range got["t1"] {
			total += p
		}
		if !approx(total, 1) || len(got["t1"]) != 3 {
			t.Errorf("distribution %v does not cover all labels", got["t1"])
		}
	})
}

func TestDawidSkene_DownweightsSpammer(t *testing.T) {
	// Workers a and b agree everywhere; c always disagrees with them.
	pool := map[string][]models.Vote{}
	for i, truth := range []string{"cat", "dog", "cat", "dog", "cat"} {
		other := "dog"
		if truth == "dog" {
			other = "cat"
		}
		pool[string(rune('0'+i))] = []models.Vote{
			{Label: truth, WorkerID: "a"},
			{Label: truth, WorkerID: "b"},
			{Label: other, WorkerID: "c"},
		}
	}

	got := DawidSkene{Labels: []string{"cat", "dog"}, Iterations: 10}.Aggregate(pool, nil)
	if len(got) != len(pool) {
		t.Fatalf("expected %d distributions, got %d", len(pool), len(got))
	}
	for task, vs := range pool {
		label, p := got[task].Top()
		if label != vs[0].Label || p < 0.9 {
			t.Errorf("task %s: Top() = %s %v, want %s with high confidence", task, label, p, vs[0].Label)
		}
	}
}

func TestNew(t *testing.T) {
	for _, name := range []string{"", "majority", "weighted", "max_likelihood", "dawid_skene"} {
		if _, err := New(name, nil); err != nil {
			t.Errorf("New(%q) failed: %v", name, err)
		}
	}
	if _, err := New("median", nil); !errors.Is(err, models.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
