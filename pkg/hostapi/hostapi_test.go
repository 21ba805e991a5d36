package hostapi

import (
	"errors"
	"testing"

	"github.com/colinmarsh/auhalstream/internal/negotiator"
	"github.com/colinmarsh/auhalstream/internal/resample"
	"github.com/colinmarsh/auhalstream/internal/stream"
)

func TestStreamInfoFlagsQualityRoundTrip(t *testing.T) {
	cases := []struct {
		level int
		want  resample.Quality
	}{
		{QualityLow, resample.QualityLow},
		{QualityMedium, resample.QualityMedium},
		{QualityHigh, resample.QualityHigh},
	}
	for _, c := range cases {
		f := FlagPlayNice.WithQuality(c.level)
		if got := f.resampleQuality(); got != c.want {
			t.Errorf("level %d: resampleQuality() = %v, want %v", c.level, got, c.want)
		}
		if f&FlagPlayNice == 0 {
			t.Errorf("level %d: WithQuality clobbered unrelated bits", c.level)
		}
	}
}

func TestStreamInfoFlagsUnsetQualityIsMax(t *testing.T) {
	var f StreamInfoFlags
	if got := f.resampleQuality(); got != resample.QualityMax {
		t.Errorf("zero-value flags resampleQuality() = %v, want QualityMax", got)
	}
}

func TestStreamInfoFlagsNamedBitsDoNotOverlapQualityField(t *testing.T) {
	named := FlagPlayNice | FlagChangeDeviceParameters | FlagFailIfConversionRequired | FlagHogDevice
	if named&qualityMask != 0 {
		t.Errorf("named flag bits overlap the quality field: %#x", named&qualityMask)
	}
}

func TestErrorCodeString(t *testing.T) {
	if got := InvalidChannelCount.String(); got != "InvalidChannelCount" {
		t.Errorf("String() = %q", got)
	}
	if got := ErrorCode(999).String(); got != "Unknown" {
		t.Errorf("String() for out-of-range code = %q, want Unknown", got)
	}
}

func TestErrorUnwrapAndMessage(t *testing.T) {
	cause := errors.New("boom")
	err := newError(InvalidDevice, cause)

	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true")
	}
	var he *Error
	if !errors.As(err, &he) {
		t.Fatalf("errors.As failed to recover *Error")
	}
	if he.Code != InvalidDevice {
		t.Errorf("Code = %v, want InvalidDevice", he.Code)
	}
	if err.Error() != "InvalidDevice: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestMapStreamErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"channel count", stream.ErrInvalidChannelCount, InvalidChannelCount},
		{"no endpoints", stream.ErrNoEndpoints, InvalidDevice},
		{"conversion required", negotiator.ErrConversionRequired, InvalidSampleRate},
		{"invalid range", negotiator.ErrInvalidRange, InvalidSampleRate},
		{"unmatched", errors.New("something else"), UnanticipatedHostError},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mapped := mapStreamError(c.err)
			var he *Error
			if !errors.As(mapped, &he) {
				t.Fatalf("mapStreamError did not return *Error")
			}
			if he.Code != c.want {
				t.Errorf("Code = %v, want %v", he.Code, c.want)
			}
			if !errors.Is(mapped, c.err) {
				t.Errorf("mapped error lost the original cause for errors.Is")
			}
		})
	}
}

func TestHostAPIDeviceTableLifecycle(t *testing.T) {
	var h HostAPI

	if _, err := h.DeviceInfoAt(0); err == nil {
		t.Errorf("DeviceInfoAt before Initialize should fail, got nil error")
	}

	if err := h.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	if _, err := h.DeviceInfoAt(h.DeviceCount()); err == nil {
		t.Errorf("DeviceInfoAt(count) should be out of range")
	}
	if _, err := h.DeviceInfoAt(-1); err == nil {
		t.Errorf("DeviceInfoAt(-1) should be out of range")
	}

	devices := h.Devices()
	if len(devices) != h.DeviceCount() {
		t.Errorf("Devices() returned %d entries, DeviceCount() = %d", len(devices), h.DeviceCount())
	}

	h.Terminate()
	if h.DeviceCount() != 0 {
		t.Errorf("DeviceCount() after Terminate = %d, want 0", h.DeviceCount())
	}
}

func TestOpenRejectsInvalidParameters(t *testing.T) {
	var h HostAPI

	if _, err := h.Open(OpenParams{}); err == nil {
		t.Errorf("Open with neither Input nor Output should fail")
	}

	if _, err := h.Open(OpenParams{
		Output:     &StreamParameters{ChannelCount: 0},
		SampleRate: 48000,
	}); err == nil {
		t.Errorf("Open with zero ChannelCount should fail")
	}

	if _, err := h.Open(OpenParams{
		Output:     &StreamParameters{ChannelCount: 2},
		SampleRate: 0,
	}); err == nil {
		t.Errorf("Open with non-positive SampleRate should fail")
	}
}
