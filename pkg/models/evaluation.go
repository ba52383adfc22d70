package models

// AssignmentEvaluation is the scoring result for one submission.
type AssignmentEvaluation struct {
	// Checked is the number of items whose correctness could be determined.
	Checked int `json:"checked"`
	// Correct is the number of checked items that were correct.
	Correct int `json:"correct"`
	// Total is the number of answered items.
	Total int `json:"total"`
	// Incorrect holds the item indexes that were checked and found wrong.
	Incorrect []int `json:"incorrect,omitempty"`
	// WeightedChecked and WeightedCorrect scale each checked item by its correctness weight.
	WeightedChecked float64 `json:"weighted_checked"`
	WeightedCorrect float64 `json:"weighted_correct"`
}

// Accuracy returns the weighted share of correct checked items.
// A submission with nothing checkable is considered fully accurate.
func (e AssignmentEvaluation) Accuracy() float64 {
	if e.Checked == 0 || e.WeightedChecked == 0 {
		return 1.0
	}
	return e.WeightedCorrect / e.WeightedChecked
}

// Vote is one worker's label for a task.
type Vote struct {
	Label    string `json:"label"`
	WorkerID string `json:"worker_id"`
}

// SolutionEvaluation is the check-pool verdict on one markup solution.
type SolutionEvaluation struct {
	OK bool `json:"ok"`
	// Confidence is the aggregated probability of the winning verdict.
	Confidence float64 `json:"confidence"`
	Votes      []Vote  `json:"votes"`
}

// Verdict summarises what the check pool concluded about a solution.
type Verdict string

const (
	VerdictOK      Verdict = "OK"
	VerdictBad     Verdict = "BAD"
	VerdictUnknown Verdict = "UNKNOWN"
)

// Rank orders verdicts for picking the best solution: OK > UNKNOWN > BAD.
func (v Verdict) Rank() int {
	switch v {
	case VerdictOK:
		return 2
	case VerdictUnknown:
		return 1
	default:
		return 0
	}
}

// Check-pool labels.
const (
	LabelOK  = "ok"
	LabelBad = "bad"
)
