package control

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// ActionKind identifies an action variant.
type ActionKind string

const (
	ActionBlock  ActionKind = "block"
	ActionBonus  ActionKind = "bonus"
	ActionStatus ActionKind = "status"
)

// currencyPrecision is the number of decimals the platform pays in.
const currencyPrecision = 2

// Mutator is the part of the remote store actions write to.
type Mutator interface {
	SetSubmissionStatus(ctx context.Context, id string, status models.SubmissionStatus, comment string) error
	ApplyWorkerRestriction(ctx context.Context, r models.Restriction) error
}

// Env is what actions need to perform side effects.
type Env struct {
	Store Mutator
	// Now is the reference time for restriction expiry; zero means time.Now().
	Now time.Time
}

func (e Env) now() time.Time {
	if e.Now.IsZero() {
		return time.Now()
	}
	return e.Now
}

// Action is a closed set of variants: Block, Bonus and SetStatus.
type Action interface {
	ActionKind() ActionKind
	isAction()
}

// Block restricts the submitting worker.
type Block struct {
	Scope   models.Scope
	Comment string
	// Duration of the restriction; zero blocks permanently.
	Duration time.Duration
}

func (Block) ActionKind() ActionKind { return ActionBlock }
func (Block) isAction()              {}

// Bonus grants an extra payment for the submission.
type Bonus struct {
	Amount float64
}

func (Bonus) ActionKind() ActionKind { return ActionBonus }
func (Bonus) isAction()              {}

// SetStatus moves the submission to Status with an optional public comment.
type SetStatus struct {
	Status  models.SubmissionStatus
	Comment string
}

func (SetStatus) ActionKind() ActionKind { return ActionStatus }
func (SetStatus) isAction()              {}

// Outcome is what an action set or produced.
type Outcome struct {
	Kind        ActionKind
	Status      models.SubmissionStatus
	Restriction *models.Restriction
	Bonus       *models.Bonus
	// Issued is true when the store was called.
	Issued bool
}

// Perform executes the action for a submission snapshot.
// The snapshot is not modified; a status change is reported in the outcome.
func Perform(ctx context.Context, a Action, env Env, sub models.Submission) (Outcome, error) {
	switch v := a.(type) {
	case Block:
		return performBlock(ctx, v, env, sub)
	case Bonus:
		amount := math.Round(v.Amount*math.Pow10(currencyPrecision)) / math.Pow10(currencyPrecision)
		return Outcome{
			Kind: ActionBonus,
			Bonus: &models.Bonus{
				ID:           uuid.New().String(),
				WorkerID:     sub.WorkerID,
				SubmissionID: sub.Key(),
				Amount:       amount,
			},
		}, nil
	case SetStatus:
		return performSetStatus(ctx, v, env, sub)
	default:
		return Outcome{}, fmt.Errorf("%w: action %T", ErrUnknownVariant, a)
	}
}

func performBlock(ctx context.Context, b Block, env Env, sub models.Submission) (Outcome, error) {
	r := models.Restriction{
		ID:       uuid.New().String(),
		Scope:    b.Scope,
		WorkerID: sub.WorkerID,
		PoolID:   sub.PoolID,
		Comment:  b.Comment,
	}
	if b.Duration > 0 {
		exp := env.now().Add(b.Duration)
		r.ExpiresAt = &exp
	}
	out := Outcome{Kind: ActionBlock, Restriction: &r}
	if !sub.Addressable() || sub.Status.Terminal() {
		return out, nil
	}
	if err := env.Store.ApplyWorkerRestriction(ctx, r); err != nil {
		return out, fmt.Errorf("restrict worker %s: %w", sub.WorkerID, err)
	}
	out.Issued = true
	return out, nil
}

func performSetStatus(ctx context.Context, s SetStatus, env Env, sub models.Submission) (Outcome, error) {
	out := Outcome{Kind: ActionStatus, Status: s.Status}
	if !sub.Addressable() {
		return out, nil
	}
	if sub.Status.Terminal() {
		out.Status = sub.Status
		return out, nil
	}
	if err := env.Store.SetSubmissionStatus(ctx, *sub.RemoteID, s.Status, s.Comment); err != nil {
		return out, fmt.Errorf("set status of %s: %w", *sub.RemoteID, err)
	}
	out.Issued = true
	return out, nil
}
