package util

import "math"

// SafeInt64Diff computes u1-u2 clamped into int64; underflow and values past
// MaxInt64 read as zero rather than wrapping.
func SafeInt64Diff(u1, u2 uint64) int64 {
	if u1 < u2 {
		return 0
	}
	if diff := u1 - u2; diff <= math.MaxInt64 {
		return int64(diff)
	}
	return 0
}

// SafeUint64 clamps negatives to zero.
func SafeUint64(value int64) uint64 {
	if value < 0 {
		return 0
	}
	return uint64(value)
}
