// Package score computes the points awarded for a single answer.
package score

import (
	"github.com/shopspring/decimal"
)

const (
	BasePoints = 100

	// MaxTimeBonus is awarded for an instant answer and decays linearly to zero over TimeBonusWindowMs.
	MaxTimeBonus      = 50
	TimeBonusWindowMs = 6000

	StreakStep     = 10
	MaxStreakBonus = 50

	// MaxPoints is the most a single answer can be worth.
	MaxPoints = BasePoints + MaxTimeBonus + MaxStreakBonus
)

// Breakdown is the itemized result of scoring an answer.
type Breakdown struct {
	Base        int
	TimeBonus   int
	StreakBonus int
	Total       int
}

// Points scores an answer. streak is the streak including this answer, so the first correct
// answer of a run is scored with streak 1.
func Points(correct bool, latencyMs int64, streak int) Breakdown {
	if !correct {
		return Breakdown{}
	}

	b := Breakdown{
		Base:        BasePoints,
		TimeBonus:   TimeBonus(latencyMs),
		StreakBonus: StreakBonus(streak),
	}
	b.Total = b.Base + b.TimeBonus + b.StreakBonus

	return b
}

// TimeBonus is floor(MaxTimeBonus * (1 - latency/TimeBonusWindowMs)), clamped at zero.
func TimeBonus(latencyMs int64) int {
	if latencyMs < 0 {
		latencyMs = 0
	}
	if latencyMs >= TimeBonusWindowMs {
		return 0
	}

	// the exact bonus is a multiple of 1/120, so rounding the quotient cannot move it across an integer
	elapsed := decimal.NewFromInt(latencyMs).Div(decimal.NewFromInt(TimeBonusWindowMs))
	bonus := decimal.NewFromInt(MaxTimeBonus).Mul(decimal.NewFromInt(1).Sub(elapsed))

	return int(bonus.Floor().IntPart())
}

func StreakBonus(streak int) int {
	if streak <= 0 {
		return 0
	}

	return min(MaxStreakBonus, streak*StreakStep)
}

// Streak returns the streak after an answer. prior holds the correctness of the earlier
// answers of the session, newest first.
func Streak(prior []bool, correct bool) int {
	if !correct {
		return 0
	}

	n := 1
	for _, c := range prior {
		if !c {
			break
		}
		n++
	}

	return n
}
