package lifecycle

import (
	"math"
	"time"

	"github.com/rcliao/memstore/internal/model"
)

// DecayFunc scores how alive a memory is at now. Conforming functions are
// non-increasing in time since last access, non-decreasing in strength,
// and bounded to [0, 1].
type DecayFunc func(m *model.Memory, now time.Time) float64

// minStrength keeps a zero-strength memory from decaying instantly.
const minStrength = 0.1

// ExponentialDecay halves the score every base*strength since last access:
//
//	score = 2^(-elapsed / (base * max(strength, 0.1)))
//
// A memory touched in the future relative to now scores 1.
func ExponentialDecay(base time.Duration) DecayFunc {
	return func(m *model.Memory, now time.Time) float64 {
		elapsed := now.Sub(m.LastAccess)
		if elapsed <= 0 {
			return 1
		}
		halfLife := base.Seconds() * math.Max(m.Strength, minStrength)
		if halfLife <= 0 {
			return 0
		}
		return math.Exp2(-elapsed.Seconds() / halfLife)
	}
}

// reinforce applies one access to strength, capped at max. At the cap an
// access only refreshes last access.
func reinforce(strength, step, max float64) float64 {
	return math.Min(max, strength+step)
}

// ReviewPriority is high for weak, rarely used memories and falls as they
// become established. Bounded to (0, 1].
func ReviewPriority(m *model.Memory) float64 {
	return 1 / (1 + math.Max(m.Strength, 0)*math.Log2(2+float64(m.AccessCount)))
}
