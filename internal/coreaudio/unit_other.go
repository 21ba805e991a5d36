//go:build !darwin

package coreaudio

// Open on non-darwin platforms always fails: AUHAL is a macOS-only API. The
// stub exists so internal/stream and pkg/hostapi cross-compile and their
// non-hardware-dependent logic stays testable on any GOOS.
func Open(params OpenParams, dispatcher Dispatcher) (Unit, error) {
	return nil, ErrUnsupportedPlatform
}
