// Package backoff computes the exponential retry delay used by the
// resolver (spec §4.5, §4.7 P4). It is pure and dependency-free: no
// clock, no I/O, just the formula.
package backoff

import "time"

// Delay returns the wall-clock delay to apply after the n-th consecutive
// failure: min(2^n * base, cap). A zero or negative cap means uncapped.
// n must be >= 1; n <= 0 returns 0.
func Delay(n int, base time.Duration, cap_ time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	// Guard against overflow for pathologically large n: once the shift
	// count exceeds the width of a duration's backing int64, any
	// configured cap is already far smaller than the uncapped value.
	if n >= 63 {
		if cap_ > 0 {
			return cap_
		}
		return time.Duration(1<<62) * time.Nanosecond
	}
	d := base << uint(n)
	if cap_ > 0 && d > cap_ {
		return cap_
	}
	if d < 0 || d>>uint(n) != base { // overflowed int64
		if cap_ > 0 {
			return cap_
		}
		return time.Duration(1<<62) * time.Nanosecond
	}
	return d
}
