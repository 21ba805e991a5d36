// Package coreaudio wraps the AUHAL (Audio Unit HAL) plumbing described in
// §4.2 and §4.5 of the runtime spec (component C2): device discovery,
// AudioComponent/AudioUnit instantiation, stream-format and buffer-size
// negotiation, and installation of the realtime render/input callback. The
// platform-facing half (unit_darwin.go) only builds on darwin; everywhere
// else Open returns ErrUnsupportedPlatform so the rest of the module stays
// cross-compilable, matching the darwin/linux split other backends in this
// codebase use for hardware-specific code.
package coreaudio

import (
	"errors"
	"fmt"
)

// Bus mirrors AUHAL's two-element element/bus numbering: 0 is output, 1 is
// input, independent of whether the unit is operating in simplex or duplex.
type Bus int

const (
	BusOutput Bus = 0
	BusInput  Bus = 1
)

// DeviceID is an opaque platform device identifier (AudioDeviceID on
// darwin). The zero value names no device; the defaults are resolved with
// DefaultInputDevice/DefaultOutputDevice.
type DeviceID uint32

// Timestamp mirrors the fields of AudioTimeStamp that the realtime callback
// dispatcher (internal/stream, component C5) needs to compute the
// input/output buffer ADC/DAC times described in §4.5.
type Timestamp struct {
	SampleTime float64
	HostTime   uint64
	Valid      bool
}

// OpenParams is everything the negotiator (internal/negotiator) has already
// resolved before asking the platform layer to instantiate and configure an
// AUHAL unit: concrete device IDs, channel counts, the chosen sample rate,
// and the negotiated frames-per-buffer. Open() does not re-derive any of
// these; it only applies them. The darwin Open does not read the values
// back from the device: its Granted echoes the requested FramesPerBuffer
// and SampleRate.
type OpenParams struct {
	InputDevice  DeviceID
	OutputDevice DeviceID
	HasInput     bool
	HasOutput    bool

	InChannels  int
	OutChannels int

	SampleRate      float64
	FramesPerBuffer int

	HogDevice                bool
	ChangeDeviceParameters   bool
	FailIfConversionRequired bool
}

// Granted is what Open reports it committed the device to. The darwin Open
// fills FramesPerBuffer and SampleRate with the requested values, without
// reading them back from the device, and leaves InputLatency and
// OutputLatency zero.
type Granted struct {
	FramesPerBuffer int
	SampleRate      float64
	InputLatency    float64
	OutputLatency   float64
}

// RenderEvent is one realtime callback invocation, already decoded by the
// platform trampoline into the four shapes §4.5 dispatches on:
//
//   - Bus == BusInput, Input != nil, Output == nil: a capture-only
//     invocation (Case C/D) — Input is freshly rendered from the device.
//   - Bus == BusOutput, Input != nil, Output != nil: same-device duplex
//     with no separate capture cycle (Case A) — the platform layer already
//     pulled Input from the shared unit's input element this cycle.
//   - Bus == BusOutput, Input == nil, Output != nil: render with a
//     separate input unit or an active SRC (Case B) — the dispatcher must
//     source input itself (ring buffer / SRC pull).
//
// Input and Output alias pre-allocated scratch owned by the Unit; the
// dispatcher must not retain them past the call.
type RenderEvent struct {
	Bus       Bus
	Timestamp Timestamp
	Frames    int
	Channels  int // channel count of Bus (input channels on BusInput, output channels on BusOutput)
	Input     []float32
	Output    []float32
}

// Dispatcher is implemented by internal/stream.Stream and invoked from the
// cgo render-callback trampoline on the realtime thread (component C5). It
// must not allocate, block, or call back into Go's scheduler in ways that
// can be preempted for unbounded time.
type Dispatcher interface {
	Render(event RenderEvent) error
}

// Unit is the control-thread handle to a configured, possibly-running AUHAL
// instance; stream.Stream's Open/Close/Start/Stop orchestration (C6) drives
// it exclusively through this interface so it can be exercised in tests with
// a fake that never touches cgo.
type Unit interface {
	// Start begins I/O; the platform will start invoking Dispatcher.Render
	// on the realtime thread.
	Start() error
	// Stop halts I/O synchronously: once it returns, no further Render
	// calls will arrive until Start is called again.
	Stop() error
	// Reset clears any accumulated device-side buffering for bus without
	// tearing the unit down (used by Stop once the unit has stopped).
	Reset(bus Bus) error
	// Dispose releases the underlying AudioComponentInstance. The Unit must
	// not be used afterward.
	Dispose() error
	// CurrentTime returns the device's current sample time and host time in
	// seconds, used to seed stream timing (§4.5).
	CurrentTime() (sampleTime float64, hostSeconds float64, ok bool)
	// Granted reports what Open actually committed the device to.
	Granted() Granted
}

// DeviceInfo describes one entry of the process-wide device table gathered
// at hostapi.Initialize time (§9 "the host-API singleton holding the device
// table"), grounded on pa_mac_core.c's InitializeDeviceInfo/GetChannelInfo.
type DeviceInfo struct {
	ID                DeviceID
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64

	// Latency defaults follow GetChannelInfo's fallback-then-refine shape:
	// a reasonable constant (10ms/100ms) unless the device reports its own
	// buffer-frame latency, in which case low/high are derived from it.
	DefaultLowInputLatency   float64
	DefaultHighInputLatency  float64
	DefaultLowOutputLatency  float64
	DefaultHighOutputLatency float64
}

// ErrUnsupportedPlatform is returned by Open on any non-darwin GOOS; the
// AUHAL backend only exists on macOS.
var ErrUnsupportedPlatform = errors.New("coreaudio: AUHAL backend is only available on darwin")

// PlatformError wraps a non-zero OSStatus with the call site that produced
// it (non-darwin builds return the sentinel above directly), matching the "typed
// error with platform code and source line" requirement from §6's error
// taxonomy.
type PlatformError struct {
	Op     string // e.g. "AudioUnitSetProperty(kAudioUnitProperty_StreamFormat)"
	Status int32  // raw OSStatus
	Source string // file:line of the call site, via runtime.Caller
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s: OSStatus %d at %s", e.Op, e.Status, e.Source)
}
