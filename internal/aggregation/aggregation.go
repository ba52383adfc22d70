// Package aggregation combines several workers' labels for a task into a
// probability distribution over labels.
package aggregation

import (
	"fmt"
	"math"
	"sort"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// weightEpsilon keeps likelihood terms away from log(0).
const weightEpsilon = 1e-3

// Distribution maps a label to its probability.
type Distribution map[string]float64

// Top returns the most probable label. Ties go to the lexicographically smaller label.
func (d Distribution) Top() (string, float64) {
	best, bestP := "", -1.0
	for _, l := range sortedKeys(d) {
		if d[l] > bestP {
			best, bestP = l, d[l]
		}
	}
	if bestP < 0 {
		return "", 0
	}
	return best, bestP
}

// Algorithm aggregates the votes of every task of a pool at once.
// votes is keyed by task ID; weights maps worker ID to reliability in [0, 1].
type Algorithm interface {
	Name() string
	Aggregate(votes map[string][]models.Vote, weights map[string]float64) map[string]Distribution
}

// New returns the algorithm registered under name.
func New(name string, labels []string) (Algorithm, error) {
	switch name {
	case "", "majority":
		return MajorityVote{}, nil
	case "weighted":
		return WeightedMajority{DefaultWeight: 0.5}, nil
	case "max_likelihood":
		return MaxLikelihood{Labels: labels, DefaultWeight: 0.5}, nil
	case "dawid_skene":
		return DawidSkene{Labels: labels, Iterations: 20}, nil
	default:
		return nil, fmt.Errorf("%w: unknown aggregation %q", models.ErrConfiguration, name)
	}
}

// MajorityVote gives each label the share of votes it received.
type MajorityVote struct{}

func (MajorityVote) Name() string { return "majority" }

func (MajorityVote) Aggregate(votes map[string][]models.Vote, _ map[string]float64) map[string]Distribution {
	out := make(map[string]Distribution, len(votes))
	for task, vs := range votes {
		if len(vs) == 0 {
			continue
		}
		d := make(Distribution)
		for _, v := range vs {
			d[v.Label]++
		}
		for l := range d {
			d[l] /= float64(len(vs))
		}
		out[task] = d
	}
	return out
}

// WeightedMajority gives each label the share of worker weight it received.
type WeightedMajority struct {
	DefaultWeight float64
}

func (WeightedMajority) Name() string { return "weighted" }

func (a WeightedMajority) Aggregate(votes map[string][]models.Vote, weights map[string]float64) map[string]Distribution {
	out := make(map[string]Distribution, len(votes))
	for task, vs := range votes {
		d := make(Distribution)
		total := 0.0
		for _, v := range vs {
			w := weightOf(weights, v.WorkerID, a.DefaultWeight)
			d[v.Label] += w
			total += w
		}
		if total == 0 {
			if len(vs) > 0 {
				out[task] = MajorityVote{}.Aggregate(map[string][]models.Vote{task: vs}, nil)[task]
			}
			continue
		}
		for l := range d {
			d[l] /= total
		}
		out[task] = d
	}
	return out
}

// MaxLikelihood treats a worker of weight w as answering correctly with
// probability w and picking any other label uniformly otherwise.
type MaxLikelihood struct {
	// Labels is the full label set; voted labels are added to it.
	Labels        []string
	DefaultWeight float64
}

func (MaxLikelihood) Name() string { return "max_likelihood" }

func (a MaxLikelihood) Aggregate(votes map[string][]models.Vote, weights map[string]float64) map[string]Distribution {
	labels := labelSet(a.Labels, votes)
	out := make(map[string]Distribution, len(votes))
	for task, vs := range votes {
		if len(vs) == 0 {
			continue
		}
		accuracy := make([]float64, len(vs))
		for i, v := range vs {
			accuracy[i] = weightOf(weights, v.WorkerID, a.DefaultWeight)
		}
		out[task] = posterior(labels, vs, accuracy, nil)
	}
	return out
}

// DawidSkene estimates one accuracy per worker and label priors with EM over the
// whole pool, starting from a weighted majority vote.
type DawidSkene struct {
	Labels     []string
	Iterations int
}

func (DawidSkene) Name() string { return "dawid_skene" }

func (a DawidSkene) Aggregate(votes map[string][]models.Vote, weights map[string]float64) map[string]Distribution {
	labels := labelSet(a.Labels, votes)
	post := WeightedMajority{DefaultWeight: 0.5}.Aggregate(votes, weights)
	iterations := a.Iterations
	if iterations <= 0 {
		iterations = 20
	}

	for it := 0; it < iterations; it++ {
		// M-step: worker accuracy and label priors from current posteriors.
		hits := make(map[string]float64)
		seen := make(map[string]float64)
		prior := make(map[string]float64, len(labels))
		for _, l := range labels {
			prior[l] = 1
		}
		for task, vs := range votes {
			for _, v := range vs {
				hits[v.WorkerID] += post[task][v.Label]
				seen[v.WorkerID]++
			}
			for l, p := range post[task] {
				prior[l] += p
			}
		}
		// E-step
		next := make(map[string]Distribution, len(votes))
		for task, vs := range votes {
			if len(vs) == 0 {
				continue
			}
			accuracy := make([]float64, len(vs))
			for i, v := range vs {
				// Laplace smoothing keeps single-vote workers away from certainty.
				accuracy[i] = (hits[v.WorkerID] + 1) / (seen[v.WorkerID] + 2)
			}
			next[task] = posterior(labels, vs, accuracy, prior)
		}
		post = next
	}
	return post
}

// posterior computes P(label | votes) under the one-coin worker model.
func posterior(labels []string, vs []models.Vote, accuracy []float64, prior map[string]float64) Distribution {
	k := float64(len(labels))
	logs := make(map[string]float64, len(labels))
	maxLog := math.Inf(-1)
	for _, l := range labels {
		lp := 0.0
		if prior != nil {
			lp = math.Log(prior[l])
		}
		for i, v := range vs {
			w := clamp(accuracy[i])
			if k <= 1 {
				continue
			}
			if v.Label == l {
				lp += math.Log(w)
			} else {
				lp += math.Log((1 - w) / (k - 1))
			}
		}
		logs[l] = lp
		if lp > maxLog {
			maxLog = lp
		}
	}
	d := make(Distribution, len(labels))
	total := 0.0
	for l, lp := range logs {
		p := math.Exp(lp - maxLog)
		d[l] = p
		total += p
	}
	for l := range d {
		d[l] /= total
	}
	return d
}

func weightOf(weights map[string]float64, worker string, def float64) float64 {
	if w, ok := weights[worker]; ok {
		return w
	}
	return def
}

func clamp(w float64) float64 {
	return math.Min(math.Max(w, weightEpsilon), 1-weightEpsilon)
}

func labelSet(known []string, votes map[string][]models.Vote) []string {
	set := make(map[string]float64)
	for _, l := range known {
		set[l] = 0
	}
	for _, vs := range votes {
		for _, v := range vs {
			set[v.Label] = 0
		}
	}
	return sortedKeys(set)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
