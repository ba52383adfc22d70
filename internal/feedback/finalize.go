package feedback

import (
	"sort"
	"time"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Finalization is why a markup task needs no further attempts.
type Finalization string

const (
	NotFinalized                  Finalization = ""
	FinalizedByQuality            Finalization = "quality"
	FinalizedByAssignmentAccuracy Finalization = "assignment_accuracy"
	FinalizedByMaxAttempts        Finalization = "max_attempts"
)

// Attempt is one markup solution together with what the check pool and the
// owning submission say about it.
type Attempt struct {
	Solution      models.Solution
	WorkerID      string
	SubmissionKey string
	SubmittedAt   time.Time
	Verdict       models.Verdict
	// Evaluation is nil while the solution is unchecked.
	Evaluation *models.SolutionEvaluation
	// AssignmentAccuracy is the owning submission's accuracy over its checked solutions.
	AssignmentAccuracy float64
	AssignmentChecked  int
}

// FindFinalized decides, per task ID, whether further attempts are needed.
// A confident OK check wins over a trusted submission, which wins over the
// attempt limit. Tasks that are not finalized map to NotFinalized.
func FindFinalized(attempts map[string][]Attempt, t Thresholds) map[string]Finalization {
	out := make(map[string]Finalization, len(attempts))
	for task, as := range attempts {
		out[task] = finalization(as, t)
	}
	return out
}

func finalization(as []Attempt, t Thresholds) Finalization {
	for _, a := range as {
		if a.Verdict == models.VerdictOK && a.Evaluation != nil && a.Evaluation.Confidence >= t.Quality {
			return FinalizedByQuality
		}
	}
	minChecked := max(1, t.MinChecked)
	for _, a := range as {
		if a.Verdict != models.VerdictBad && a.AssignmentChecked >= minChecked && a.AssignmentAccuracy > t.AssignmentAccuracy {
			return FinalizedByAssignmentAccuracy
		}
	}
	if len(as) >= t.MaxAttempts {
		return FinalizedByMaxAttempts
	}
	return NotFinalized
}

// SortAttempts orders candidate solutions best first: by verdict
// (OK, UNKNOWN, BAD), then by owning submission accuracy, then by submission time.
func SortAttempts(as []Attempt) {
	sort.SliceStable(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if ra, rb := a.Verdict.Rank(), b.Verdict.Rank(); ra != rb {
			return ra > rb
		}
		if a.AssignmentAccuracy != b.AssignmentAccuracy {
			return a.AssignmentAccuracy > b.AssignmentAccuracy
		}
		if !a.SubmittedAt.Equal(b.SubmittedAt) {
			return a.SubmittedAt.Before(b.SubmittedAt)
		}
		return a.WorkerID < b.WorkerID
	})
}
