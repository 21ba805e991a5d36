//go:build !darwin

package coreaudio

// HintRealtimePriority is a no-op off darwin; there is no platform unit to
// prioritize since Open already refuses to run here.
func HintRealtimePriority() {}
