package models

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Task is an immutable tuple of input values identifying one unit of work.
type Task struct {
	// Inputs are the ordered input values shown to a worker.
	Inputs []string `json:"inputs" yaml:"inputs"`
}

// NewTask creates a task from its input values.
func NewTask(inputs ...string) Task {
	cp := make([]string, len(inputs))
	copy(cp, inputs)
	return Task{Inputs: cp}
}

// ID returns the stable identity of the task.
// Inputs are length-prefixed so ("ab", "c") and ("a", "bc") hash differently.
func (t Task) ID() string {
	return hashFields(t.Inputs)
}

// ControlTask is a task with a known correct answer mixed into real work.
type ControlTask struct {
	Task `yaml:",inline"`
	// Answer is the known correct answer.
	Answer string `json:"answer" yaml:"answer"`
	// Weight is the correctness weight of this control task; must be positive.
	Weight float64 `json:"weight" yaml:"weight"`
}

// Solution is one worker's answer to one task.
type Solution struct {
	Task   Task   `json:"task"`
	Answer string `json:"answer"`
}

// CheckTask returns the task shown to check-pool workers verifying this solution.
func (s Solution) CheckTask() Task {
	inputs := make([]string, 0, len(s.Task.Inputs)+1)
	inputs = append(inputs, s.Task.Inputs...)
	inputs = append(inputs, s.Answer)
	return Task{Inputs: inputs}
}

// ID returns the stable identity of the solution. It equals the ID of its check task.
func (s Solution) ID() string {
	return s.CheckTask().ID()
}

// SolutionFromCheckTask reverses CheckTask.
func SolutionFromCheckTask(t Task) (Solution, bool) {
	if len(t.Inputs) < 2 {
		return Solution{}, false
	}
	n := len(t.Inputs) - 1
	return Solution{Task: NewTask(t.Inputs[:n]...), Answer: t.Inputs[n]}, true
}

func hashFields(fields []string) string {
	h := sha256.New()
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(fields)))
	h.Write(lenBuf[:])
	for _, f := range fields {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(f)))
		h.Write(lenBuf[:])
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
