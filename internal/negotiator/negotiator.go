// Package negotiator holds the pure, hardware-independent arithmetic behind
// the device/format negotiator (component C2 of the runtime): choosing a
// frames-per-buffer target and a device sample rate within device-reported
// ranges. It is kept free of cgo so it can be unit tested without real
// CoreAudio hardware; internal/coreaudio calls into it and then applies the
// result via AudioUnit property calls.
package negotiator

import "errors"

// Unspecified mirrors the host-API sentinel for "let the negotiator pick".
const Unspecified = 0

// ErrInvalidRange is returned when a device reports min > max.
var ErrInvalidRange = errors.New("negotiator: invalid device frame range")

// FrameRange is the device-reported [min, max] frames-per-buffer range.
type FrameRange struct {
	Min int
	Max int
}

// ChooseFramesPerBuffer implements §4.2 step 4: if requested is
// Unspecified, compute target = max(64, suggestedLatency*sampleRate/2),
// then clamp it: if target <= 64, floor it against the device minimum;
// otherwise clamp it against min(max, 1024). A requested value that is not
// Unspecified is clamped into the device range unchanged.
func ChooseFramesPerBuffer(requested int, suggestedLatencySeconds float64, sampleRate float64, r FrameRange) (int, error) {
	if r.Min <= 0 || r.Max < r.Min {
		return 0, ErrInvalidRange
	}

	if requested != Unspecified {
		return clamp(requested, r.Min, r.Max), nil
	}

	target := int(suggestedLatencySeconds * sampleRate / 2)
	if target < 64 {
		target = 64
	}

	if target <= 64 {
		if target < r.Min {
			target = r.Min
		}
		return clamp(target, r.Min, r.Max), nil
	}

	upperBound := r.Max
	if upperBound > 1024 {
		upperBound = 1024
	}
	return clamp(target, r.Min, upperBound), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// SampleRateChoice reports whether device reconfiguration is allowed and,
// if so, whether an exact match is mandatory.
type SampleRateChoice struct {
	ChangeDeviceParameters   bool
	FailIfConversionRequired bool
}

// ErrConversionRequired is returned when FailIfConversionRequired is set
// and no device rate exactly matches the requested rate.
var ErrConversionRequired = errors.New("negotiator: sample rate conversion required but disallowed")

// ChooseSampleRate implements §4.2 step 5. When ChangeDeviceParameters is
// unset, the device's current rate is left untouched (callers should pass
// it through as both currentRate and the only entry in available).
// Otherwise the rate in available closest to requested is selected, or,
// if FailIfConversionRequired is set, an exact match is required.
func ChooseSampleRate(requested float64, currentRate float64, available []float64, choice SampleRateChoice) (float64, error) {
	if !choice.ChangeDeviceParameters {
		return currentRate, nil
	}

	var best float64
	bestDelta := -1.0
	exact := false
	for _, rate := range available {
		delta := rate - requested
		if delta < 0 {
			delta = -delta
		}
		if delta == 0 {
			exact = true
		}
		if bestDelta < 0 || delta < bestDelta {
			bestDelta = delta
			best = rate
		}
	}

	if choice.FailIfConversionRequired && !exact {
		return 0, ErrConversionRequired
	}
	if bestDelta < 0 {
		return currentRate, nil
	}
	return best, nil
}

// NeedsSampleRateConverter reports whether the negotiated device-side rate
// differs from the rate the client declared, per §4.2 step 6.
func NeedsSampleRateConverter(deviceRate, clientRate float64) bool {
	return deviceRate != clientRate
}
