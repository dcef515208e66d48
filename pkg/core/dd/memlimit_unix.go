//go:build linux || darwin

package dd

import (
	"math"

	"golang.org/x/sys/unix"
)

// DefaultMemoryThreshold returns 90% of the address-space limit of the
// process, or 0 when it is unlimited.
func DefaultMemoryThreshold() uint64 {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_AS, &rl); err != nil {
		return 0
	}
	if rl.Cur == 0 || rl.Cur >= math.MaxInt64 {
		return 0
	}
	return rl.Cur / 10 * 9
}
