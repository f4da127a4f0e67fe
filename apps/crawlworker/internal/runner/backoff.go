package runner

import (
	"math"
	"math/rand"
	"time"
)

// fullJitterBackoff implements the exact formula required by spec §4.3:
//
//	delay = random_uniform(0, min(max_delay, base_delay * 2^(n-1)))
//
// This is deliberately distinct from pkg/retry.ExponentialBackoff's
// multiplicative +/-20% jitter: that formula jitters *around* a midpoint
// and never returns near-zero delays, whereas full jitter must be able to
// return anything in [0, cap], including values very close to zero, to
// avoid synchronized retry storms across many tenants' runners.
func fullJitterBackoff(attempt int, base, maxDelay time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delayCap := float64(base) * math.Pow(2, float64(attempt-1))
	if delayCap > float64(maxDelay) {
		delayCap = float64(maxDelay)
	}
	if delayCap <= 0 {
		return 0
	}
	return time.Duration(rand.Float64() * delayCap)
}
