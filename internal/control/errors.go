package control

import (
	"fmt"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// Configuration errors. All wrap models.ErrConfiguration.
var (
	ErrEmptyExpression     = fmt.Errorf("%w: expression has no predicates", models.ErrConfiguration)
	ErrNestedExpression    = fmt.Errorf("%w: nested expressions are not supported", models.ErrConfiguration)
	ErrMixedPredicates     = fmt.Errorf("%w: expression predicates must share one kind", models.ErrConfiguration)
	ErrRewardConflict      = fmt.Errorf("%w: only one of static or dynamic reward may be configured", models.ErrConfiguration)
	ErrRewardMissing       = fmt.Errorf("%w: reward policy is not configured", models.ErrConfiguration)
	ErrPhaseRepeated       = fmt.Errorf("%w: builder phase configured more than once", models.ErrConfiguration)
	ErrInvalidBonus        = fmt.Errorf("%w: bonus bounds must be positive and ordered", models.ErrConfiguration)
	ErrInvalidThreshold    = fmt.Errorf("%w: threshold out of range", models.ErrConfiguration)
	ErrUnsortedSpeedTiers  = fmt.Errorf("%w: speed control ratios must be positive and strictly ascending", models.ErrConfiguration)
	ErrMissingDurationHint = fmt.Errorf("%w: duration predicate needs a positive duration hint", models.ErrConfiguration)
	ErrUnknownVariant      = fmt.Errorf("%w: unknown rule variant", models.ErrConfiguration)
)
