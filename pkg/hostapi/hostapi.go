// Package hostapi is the surface exposed to the host-API dispatcher (§6):
// device enumeration, StreamParameters/stream-info flag decoding, the
// error-code taxonomy, and Open/Close/Start/Stop/Abort/Read/Write wired
// straight through to internal/stream. A process-wide HostAPI value holds
// the device table built at Initialize and torn down at Terminate (§9
// "the only process-wide state is the host-API singleton holding the
// device table"), the same shape as PaMacCore_Initialize/Terminate in the
// reference implementation.
package hostapi

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/colinmarsh/auhalstream/internal/coreaudio"
	"github.com/colinmarsh/auhalstream/internal/negotiator"
	"github.com/colinmarsh/auhalstream/internal/resample"
	"github.com/colinmarsh/auhalstream/internal/stream"
	"github.com/colinmarsh/auhalstream/pkg/bufferprocessor"
)

// ErrorCode is the taxonomy from §6: failures reported by Initialize,
// DeviceInfoAt and Open are mapped onto one of these rather than returned
// as a bare Go error, so a CLI or another language binding can switch on a
// stable value. The Stream methods return internal/stream's errors
// unmapped.
type ErrorCode int

const (
	NoError ErrorCode = iota
	InsufficientMemory
	InvalidDevice
	InvalidChannelCount
	InvalidFlag
	SampleFormatNotSupported
	InvalidSampleRate
	UnanticipatedHostError
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NoError"
	case InsufficientMemory:
		return "InsufficientMemory"
	case InvalidDevice:
		return "InvalidDevice"
	case InvalidChannelCount:
		return "InvalidChannelCount"
	case InvalidFlag:
		return "InvalidFlag"
	case SampleFormatNotSupported:
		return "SampleFormatNotSupported"
	case InvalidSampleRate:
		return "InvalidSampleRate"
	case UnanticipatedHostError:
		return "UnanticipatedHostError"
	default:
		return "Unknown"
	}
}

// Error carries one ErrorCode plus the underlying cause, satisfying the
// error interface so callers that only want a Go error can still use it
// with errors.Is/As, while callers that want the taxonomy can read Code.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code ErrorCode, err error) *Error {
	return &Error{Code: code, Err: err}
}

// DeviceInfo is the host-API's public view of one device-table entry.
type DeviceInfo = coreaudio.DeviceInfo

// StreamInfoFlags is the `hostApiSpecificStreamInfo.flags` bitset consumed
// from StreamParameters (§6): bit 0 PlayNice (default, reserved for parity
// with the reference bitset — this backend has no "nice" vs. "aggressive"
// scheduling distinction of its own, so it is accepted and ignored), bit 1
// ChangeDeviceParameters, bit 2 FailIfConversionRequired, bit 3 HogDevice
// (accepted; Open does not act on it), and a 3-bit quality field in bits 4-6 (unset, i.e. 0, means Max per §6).
type StreamInfoFlags uint32

const (
	FlagPlayNice StreamInfoFlags = 1 << iota
	FlagChangeDeviceParameters
	FlagFailIfConversionRequired
	FlagHogDevice

	qualityShift = 4
	qualityMask  = 0x7 << qualityShift
)

const (
	QualityLow    = 1
	QualityMedium = 2
	QualityHigh   = 3
	QualityMin    = 4
	// QualityMax is the zero value of the 3-bit field (§6 "unset => Max").
	QualityMax = 0
)

// WithQuality returns flags with the 3-bit quality field set to level
// (0-7; 0 is Max and 1-4 are the other levels named above, 5-7 behave as
// Max).
func (f StreamInfoFlags) WithQuality(level int) StreamInfoFlags {
	f &^= qualityMask
	return f | StreamInfoFlags(level&0x7)<<qualityShift
}

func (f StreamInfoFlags) quality() int {
	return int(f&qualityMask) >> qualityShift
}

// resampleQuality maps the 3-bit field onto internal/resample's discrete
// quality scale; unset (0, Max) deliberately resolves to the best quality
// level rather than to QualityMin, per §6.
func (f StreamInfoFlags) resampleQuality() resample.Quality {
	switch f.quality() {
	case QualityMin:
		return resample.QualityMin
	case QualityLow:
		return resample.QualityLow
	case QualityMedium:
		return resample.QualityMedium
	case QualityHigh:
		return resample.QualityHigh
	case QualityMax:
		return resample.QualityMax
	default:
		return resample.QualityMax
	}
}

// StreamParameters describes one endpoint (input or output) the way the
// host-API dispatcher hands it to Open (§6): a device, a channel count, the
// client's declared sample format, a suggested latency, and the stream-info
// flags. There is no host-format field: the host format is always float32
// packed PCM, the only host format this backend's realtime path ever
// produces (§3 invariant 4). HogDevice is accepted but Open does not act
// on it.
type StreamParameters struct {
	Device           coreaudio.DeviceID
	ChannelCount     int
	SampleFormat     bufferprocessor.SampleFormat
	SuggestedLatency float64
	Flags            StreamInfoFlags
	HogDevice        bool
}

// OpenParams is everything Open needs beyond the per-endpoint
// StreamParameters: the requested sample rate, frames-per-buffer (or
// negotiator.Unspecified), and the client callback (nil selects the
// blocking-I/O facade).
type OpenParams struct {
	Input  *StreamParameters // nil for an output-only (simplex render) stream
	Output *StreamParameters // nil for an input-only (simplex capture) stream

	SampleRate            float64
	FramesPerBuffer       int
	FramesPerUserCallback int

	UserCallback bufferprocessor.UserCallback
	UserData     any
}

// HostAPI is the process-wide singleton holding the device table (§9); the
// zero value is not ready to use, call Initialize first.
type HostAPI struct {
	mu      sync.Mutex
	devices []DeviceInfo
	ready   bool
}

// Initialize gathers the device table, the one piece of process-wide state
// this backend keeps (§9). Calling Initialize twice without an intervening
// Terminate re-gathers the table rather than erroring, matching
// PaMacCore_Initialize's idempotent-refresh behaviour.
func (h *HostAPI) Initialize() error {
	devices, err := coreaudio.ListDevices()
	if err != nil && !errors.Is(err, coreaudio.ErrUnsupportedPlatform) {
		return newError(UnanticipatedHostError, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = devices
	h.ready = true
	return nil
}

// Terminate releases the device table. Safe to call on an unready or
// already-terminated HostAPI.
func (h *HostAPI) Terminate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.devices = nil
	h.ready = false
}

func (h *HostAPI) DeviceCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.devices)
}

// DeviceInfoAt returns the device-table entry at index, or InvalidDevice if
// index is out of range.
func (h *HostAPI) DeviceInfoAt(index int) (DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.devices) {
		return DeviceInfo{}, newError(InvalidDevice, fmt.Errorf("hostapi: device index %d out of range [0,%d)", index, len(h.devices)))
	}
	return h.devices[index], nil
}

func (h *HostAPI) Devices() []DeviceInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]DeviceInfo, len(h.devices))
	copy(out, h.devices)
	return out
}

// Stream wraps *stream.Stream with a generated identifier (§ ambient stack
// "identifiers tag long-lived objects") for log correlation.
type Stream struct {
	ID uuid.UUID
	s  *stream.Stream
}

// Open validates p and opens the underlying stream. The negotiator is given
// a fixed frames-per-buffer range of 1..65536 and the device's default
// sample rate as its only available rate; the device's own buffer-size
// range is not queried. Parameter-validation errors
// are returned synchronously as taxonomy (a); platform errors during unit
// setup are (b), already wrapped with source line and platform code by
// internal/coreaudio.
func (h *HostAPI) Open(p OpenParams) (*Stream, error) {
	if p.Input == nil && p.Output == nil {
		return nil, newError(InvalidDevice, stream.ErrNoEndpoints)
	}
	if p.Input != nil && p.Input.ChannelCount <= 0 {
		return nil, newError(InvalidChannelCount, stream.ErrInvalidChannelCount)
	}
	if p.Output != nil && p.Output.ChannelCount <= 0 {
		return nil, newError(InvalidChannelCount, stream.ErrInvalidChannelCount)
	}
	if p.SampleRate <= 0 {
		return nil, newError(InvalidSampleRate, fmt.Errorf("hostapi: sample rate must be positive, got %v", p.SampleRate))
	}
	if !bufferprocessor.ValidSampleFormat(formatOf(p.Input)) || !bufferprocessor.ValidSampleFormat(formatOf(p.Output)) {
		return nil, newError(SampleFormatNotSupported, errors.New("hostapi: unsupported client sample format"))
	}

	// The device that drives the sample-rate negotiation is whichever
	// endpoint is present; in same-device duplex both point at the same
	// table entry anyway.
	rateDevice := p.Output
	if rateDevice == nil {
		rateDevice = p.Input
	}
	device, err := h.deviceInfo(rateDevice.Device)
	if err != nil {
		return nil, newError(InvalidDevice, err)
	}

	if p.Input != nil {
		if inDevice, err := h.deviceInfo(p.Input.Device); err == nil && p.Input.ChannelCount > inDevice.MaxInputChannels {
			return nil, newError(InvalidChannelCount, fmt.Errorf("hostapi: input channel count %d exceeds device max %d", p.Input.ChannelCount, inDevice.MaxInputChannels))
		}
	}
	if p.Output != nil {
		if outDevice, err := h.deviceInfo(p.Output.Device); err == nil && p.Output.ChannelCount > outDevice.MaxOutputChannels {
			return nil, newError(InvalidChannelCount, fmt.Errorf("hostapi: output channel count %d exceeds device max %d", p.Output.ChannelCount, outDevice.MaxOutputChannels))
		}
	}

	sp := stream.Params{
		SampleRate:              p.SampleRate,
		FramesPerBuffer:         p.FramesPerBuffer,
		FramesPerUserCallback:   p.FramesPerUserCallback,
		SuggestedLatencySeconds: suggestedLatency(p.Input, p.Output),
		DeviceFrameRange:        negotiator.FrameRange{Min: 1, Max: 1 << 16},
		DeviceCurrentRate:       device.DefaultSampleRate,
		DeviceAvailableRates:    []float64{device.DefaultSampleRate},
		UserCallback:            p.UserCallback,
		UserData:                p.UserData,
		InHostFormat:            bufferprocessor.FormatFloat32,
		OutHostFormat:           bufferprocessor.FormatFloat32,
	}

	if p.Input != nil {
		sp.HasInput = true
		sp.InputDevice = p.Input.Device
		sp.InChannels = p.Input.ChannelCount
		sp.InClientFormat = p.Input.SampleFormat
		sp.ChangeDeviceParameters = p.Input.Flags&FlagChangeDeviceParameters != 0
		sp.FailIfConversionRequired = p.Input.Flags&FlagFailIfConversionRequired != 0
		sp.Quality = p.Input.Flags.resampleQuality()
	}
	if p.Output != nil {
		sp.HasOutput = true
		sp.OutputDevice = p.Output.Device
		sp.OutChannels = p.Output.ChannelCount
		sp.OutClientFormat = p.Output.SampleFormat
	}

	s, err := stream.Open(sp)
	if err != nil {
		return nil, mapStreamError(err)
	}

	return &Stream{ID: uuid.New(), s: s}, nil
}

// deviceInfo looks up id in the device table gathered at Initialize, so Open
// can negotiate against the device's real reported rate and channel maxima
// rather than trusting whatever the caller asked for (§4.6 "reject
// out-of-range channel counts"; SRC engagement depends on the real nominal
// rate reaching the negotiator).
func (h *HostAPI) deviceInfo(id coreaudio.DeviceID) (DeviceInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, d := range h.devices {
		if d.ID == id {
			return d, nil
		}
	}
	return DeviceInfo{}, fmt.Errorf("hostapi: device %d not found in device table", id)
}

func formatOf(p *StreamParameters) bufferprocessor.SampleFormat {
	if p == nil {
		return bufferprocessor.FormatFloat32
	}
	return p.SampleFormat
}

func suggestedLatency(in, out *StreamParameters) float64 {
	latency := 0.0
	if in != nil && in.SuggestedLatency > latency {
		latency = in.SuggestedLatency
	}
	if out != nil && out.SuggestedLatency > latency {
		latency = out.SuggestedLatency
	}
	return latency
}

// mapStreamError maps the sentinel errors internal/stream.Open can return
// onto the §6 taxonomy; anything else (platform setup failures, which
// already carry their own structured type) is reported as
// UnanticipatedHostError per §7(b).
func mapStreamError(err error) error {
	switch {
	case errors.Is(err, stream.ErrInvalidChannelCount):
		return newError(InvalidChannelCount, err)
	case errors.Is(err, stream.ErrNoEndpoints):
		return newError(InvalidDevice, err)
	case errors.Is(err, negotiator.ErrConversionRequired):
		return newError(InvalidSampleRate, err)
	case errors.Is(err, negotiator.ErrInvalidRange):
		return newError(InvalidSampleRate, err)
	default:
		// Platform setup failures already carry internal/coreaudio's
		// PlatformError (source line + OSStatus); everything else not
		// matched above also has no more specific taxonomy entry (§7(b)).
		return newError(UnanticipatedHostError, err)
	}
}

func (s *Stream) Start() error { return s.s.Start() }
func (s *Stream) Stop() error  { return s.s.Stop() }
func (s *Stream) Abort() error { return s.s.Abort() }
func (s *Stream) Close() error { return s.s.Close() }

func (s *Stream) IsStopped() bool { return s.s.IsStopped() }
func (s *Stream) IsActive() bool  { return s.s.IsActive() }

func (s *Stream) GetStreamTime() float64    { return s.s.GetStreamTime() }
func (s *Stream) GetStreamCpuLoad() float64 { return s.s.GetStreamCpuLoad() }
func (s *Stream) GetInputLatency() float64  { return s.s.GetInputLatency() }
func (s *Stream) GetOutputLatency() float64 { return s.s.GetOutputLatency() }

func (s *Stream) Read(dst []float32) (int, error)  { return s.s.Read(dst) }
func (s *Stream) Write(src []float32) (int, error) { return s.s.Write(src) }
func (s *Stream) GetReadAvailable() int            { return s.s.GetReadAvailable() }
func (s *Stream) GetWriteAvailable() int           { return s.s.GetWriteAvailable() }
