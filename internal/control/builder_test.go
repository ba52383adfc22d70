package control

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/lambdazy/crowdom-sub001/pkg/models"
)

// statusFor evaluates the status rules of c for an accuracy.
func statusFor(t *testing.T, c Control, accuracy float64) []models.SubmissionStatus {
	t.Helper()
	var out []models.SubmissionStatus
	for _, r := range c.FilterRules(KindAccuracy, ActionStatus) {
		ok, err := Evaluate(r.Predicate, Context{Accuracy: accuracy})
		if err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		if ok {
			out = append(out, r.Action.(SetStatus).Status)
		}
	}
	return out
}

func TestBuilder_StaticRewardIsExhaustive(t *testing.T) {
	const threshold = 0.6
	c, err := NewBuilder().AddStaticReward(threshold).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for i := 0; i <= 100; i++ {
		acc := float64(i) / 100
		got := statusFor(t, c, acc)
		if len(got) != 1 {
			t.Fatalf("accuracy %v: expected exactly one status, got %v", acc, got)
		}
		want := models.StatusRejected
		if acc >= threshold {
			want = models.StatusAccepted
		}
		if got[0] != want {
			t.Errorf("accuracy %v: got %s, want %s", acc, got[0], want)
		}
	}
}

func TestBuilder_DynamicRewardBands(t *testing.T) {
	tests := []struct {
		name   string
		reward DynamicReward
	}{
		{"default granularity", DynamicReward{MinBonus: 0.01, MaxBonus: 0.05}},
		{"shifted start", DynamicReward{MinBonus: 0.02, MaxBonus: 0.1, MinAccuracyForBonus: 0.4, Granularity: 4}},
		{"two bands", DynamicReward{MinBonus: 0.5, MaxBonus: 0.5, MinAccuracyForBonus: 0.5, Granularity: 2}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewBuilder().AddDynamicReward(tc.reward).Build()
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			bonuses := c.FilterRules(KindAccuracy, ActionBonus)
			g := tc.reward.Granularity
			if g == 0 {
				g = DefaultGranularity
			}
			if len(bonuses) != g {
				t.Fatalf("expected %d bonus rules, got %d", g, len(bonuses))
			}

			lo := tc.reward.MinAccuracyForBonus
			prevAmount := 0.0
			for i, r := range bonuses {
				amount := r.Action.(Bonus).Amount
				if amount < prevAmount {
					t.Errorf("band %d: bonus %v decreased from %v", i, amount, prevAmount)
				}
				prevAmount = amount

				switch p := r.Predicate.(type) {
				case Expression:
					members := p.Members()
					if members[0].Value != lo {
						t.Errorf("band %d starts at %v, want %v (gap or overlap)", i, members[0].Value, lo)
					}
					lo = members[1].Value
				case Threshold:
					if i != len(bonuses)-1 {
						t.Errorf("band %d is open-ended but not last", i)
					}
					if p.Value != lo || p.Cmp != GreaterOrEqual {
						t.Errorf("last band %v, want >= %v", p, lo)
					}
				}
			}
			if math.Abs(prevAmount-tc.reward.MaxBonus) > 1e-9 {
				t.Errorf("last band pays %v, want %v", prevAmount, tc.reward.MaxBonus)
			}

			// every accuracy in range hits exactly one band
			for i := 0; i <= 50; i++ {
				acc := tc.reward.MinAccuracyForBonus + (1-tc.reward.MinAccuracyForBonus)*float64(i)/50
				hits := 0
				for _, r := range bonuses {
					if ok, _ := Evaluate(r.Predicate, Context{Accuracy: acc}); ok {
						hits++
					}
				}
				if hits != 1 {
					t.Errorf("accuracy %v hits %d bands", acc, hits)
				}
			}
		})
	}
}

func TestBuilder_DynamicRewardSingleBand(t *testing.T) {
	rules, err := BonusTiers(DynamicReward{MinBonus: 0.3, MaxBonus: 0.9, Granularity: 1})
	if err != nil {
		t.Fatalf("BonusTiers failed: %v", err)
	}
	if len(rules) != 1 || rules[0].Action.(Bonus).Amount != 0.3 {
		t.Fatalf("expected flat min bonus, got %+v", rules)
	}
}

func TestBuilder_ControlTaskControl(t *testing.T) {
	t.Run("no hard block", func(t *testing.T) {
		c, err := NewBuilder().AddStaticReward(0.5).AddControlTaskControl(10, 0, 2).Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		blocks := c.FilterRules(KindAccuracy, ActionBlock)
		if len(blocks) != 1 {
			t.Fatalf("expected exactly one block rule, got %d", len(blocks))
		}
		expr, ok := blocks[0].Predicate.(Expression)
		if !ok {
			t.Fatalf("expected banded predicate, got %T", blocks[0].Predicate)
		}
		m := expr.Members()
		if m[0] != Accuracy(GreaterOrEqual, 0) || m[1] != Accuracy(LessThan, 0.2) {
			t.Errorf("unexpected band %v", m)
		}
	})

	t.Run("hard and soft", func(t *testing.T) {
		c, err := NewBuilder().AddStaticReward(0.5).AddControlTaskControl(10, 2, 5).Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		blocks := c.FilterRules(KindAccuracy, ActionBlock)
		if len(blocks) != 2 {
			t.Fatalf("expected two block rules, got %d", len(blocks))
		}
		if blocks[0].Predicate != Predicate(Accuracy(LessThan, 0.2)) {
			t.Errorf("hard block predicate = %v", blocks[0].Predicate)
		}
		m := blocks[1].Predicate.(Expression).Members()
		if m[0] != Accuracy(GreaterOrEqual, 0.2) || m[1] != Accuracy(LessThan, 0.5) {
			t.Errorf("soft band = %v", m)
		}
		if blocks[0].Action.(Block).Duration <= blocks[1].Action.(Block).Duration {
			t.Errorf("hard block should outlast soft block")
		}
	})
}

func TestBuilder_SpeedTiers(t *testing.T) {
	c, err := NewBuilder().AddStaticReward(0.5).AddSpeedControl(0.1, 0.3).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	hint := 100 * time.Second

	tests := []struct {
		duration   time.Duration
		wantBlocks int
		wantReject bool
	}{
		{5 * time.Second, 1, true},
		{10 * time.Second, 1, true},
		{20 * time.Second, 1, false},
		{30 * time.Second, 1, false},
		{31 * time.Second, 0, false},
	}

	for _, tc := range tests {
		mc := Context{Duration: tc.duration, DurationHint: hint}
		blocks, rejects := 0, false
		for _, r := range c.Only(KindDuration).Rules {
			ok, err := Evaluate(r.Predicate, mc)
			if err != nil {
				t.Fatalf("Evaluate failed: %v", err)
			}
			if !ok {
				continue
			}
			switch r.Action.(type) {
			case Block:
				blocks++
			case SetStatus:
				rejects = true
			}
		}
		if blocks != tc.wantBlocks || rejects != tc.wantReject {
			t.Errorf("duration %v: blocks=%d reject=%v, want %d/%v", tc.duration, blocks, rejects, tc.wantBlocks, tc.wantReject)
		}
	}
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name  string
		build func() (Control, error)
		want  error
	}{
		{"static and dynamic", func() (Control, error) {
			return NewBuilder().AddStaticReward(0.5).AddDynamicReward(DynamicReward{MinBonus: 0.1, MaxBonus: 0.2}).Build()
		}, ErrRewardConflict},
		{"dynamic and static", func() (Control, error) {
			return NewBuilder().AddDynamicReward(DynamicReward{MinBonus: 0.1, MaxBonus: 0.2}).AddStaticReward(0.5).Build()
		}, ErrRewardConflict},
		{"no reward", func() (Control, error) {
			return NewBuilder().AddSpeedControl(0.1, 0.3).Build()
		}, ErrRewardMissing},
		{"non-positive bonus", func() (Control, error) {
			return NewBuilder().AddDynamicReward(DynamicReward{MinBonus: 0, MaxBonus: 0.2}).Build()
		}, ErrInvalidBonus},
		{"inverted bonus", func() (Control, error) {
			return NewBuilder().AddDynamicReward(DynamicReward{MinBonus: 0.3, MaxBonus: 0.2}).Build()
		}, ErrInvalidBonus},
		{"unsorted tiers", func() (Control, error) {
			return NewBuilder().AddStaticReward(0.5).AddSpeedControl(0.3, 0.1).Build()
		}, ErrUnsortedSpeedTiers},
		{"speed twice", func() (Control, error) {
			return NewBuilder().AddStaticReward(0.5).AddSpeedControl(0.1, 0.3).AddSpeedControl(0.1, 0.3).Build()
		}, ErrPhaseRepeated},
		{"soft below hard", func() (Control, error) {
			return NewBuilder().AddStaticReward(0.5).AddControlTaskControl(10, 5, 2).Build()
		}, ErrInvalidThreshold},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.build()
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("expected configuration error class, got %v", err)
			}
		})
	}
}
