//go:build !linux && !darwin

package dd

// DefaultMemoryThreshold is 0 (monitor disabled) where address-space
// limits cannot be queried.
func DefaultMemoryThreshold() uint64 { return 0 }
