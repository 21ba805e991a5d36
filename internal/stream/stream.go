// Package stream implements the stream object and state machine (component
// C4), the Open/Close orchestrator (C6), and the realtime I/O callback
// (C5, in callback.go) described in §3, §4.4, §4.5, and §4.6 of the runtime
// spec. It binds together the ring buffer (internal/ringbuffer), the
// negotiator (internal/negotiator), the sample-rate converter
// (internal/resample), the buffer processor (pkg/bufferprocessor), and the
// platform audio unit (internal/coreaudio) into one open/start/stop/close
// lifecycle.
package stream

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/colinmarsh/auhalstream/internal/coreaudio"
	"github.com/colinmarsh/auhalstream/internal/negotiator"
	"github.com/colinmarsh/auhalstream/internal/resample"
	"github.com/colinmarsh/auhalstream/internal/ringbuffer"
	"github.com/colinmarsh/auhalstream/pkg/bufferprocessor"
)

// XrunFlags mirrors the bitset described in §3 ("xrunFlags") and §6's
// BeginBufferProcessing contract.
type XrunFlags = bufferprocessor.XrunFlags

const (
	InputUnderflow  = bufferprocessor.InputUnderflow
	InputOverflow   = bufferprocessor.InputOverflow
	OutputUnderflow = bufferprocessor.OutputUnderflow
	OutputOverflow  = bufferprocessor.OutputOverflow
)

var (
	// ErrInvalidChannelCount is a parameter-validation error returned
	// synchronously from Open (§7(a)).
	ErrInvalidChannelCount = errors.New("stream: invalid channel count")
	// ErrNoEndpoints is returned when neither input nor output is requested.
	ErrNoEndpoints = errors.New("stream: neither input nor output requested")
	// ErrAlreadyActive guards Start against a second call while ACTIVE.
	ErrAlreadyActive = errors.New("stream: already active")
	// ErrNotActive guards Stop/Abort against a call while neither ACTIVE
	// nor CALLBACK_STOPPED.
	ErrNotActive = errors.New("stream: not active")
)

// Params is everything Open needs, already resolved by the caller (device
// enumeration, negotiable ranges) except what §4.2 says the negotiator
// itself must choose (frames-per-buffer and sample rate when left
// unspecified).
type Params struct {
	InputDevice  coreaudio.DeviceID
	OutputDevice coreaudio.DeviceID
	HasInput     bool
	HasOutput    bool
	InChannels   int
	OutChannels  int

	InClientFormat, InHostFormat   bufferprocessor.SampleFormat
	OutClientFormat, OutHostFormat bufferprocessor.SampleFormat

	SampleRate              float64
	FramesPerBuffer         int // negotiator.Unspecified to let the negotiator pick
	SuggestedLatencySeconds float64
	DeviceFrameRange        negotiator.FrameRange
	DeviceCurrentRate       float64
	DeviceAvailableRates    []float64

	ChangeDeviceParameters   bool
	FailIfConversionRequired bool
	Quality                  resample.Quality

	FramesPerUserCallback int
	UserCallback          bufferprocessor.UserCallback
	UserData              any
}

// Stream is one open audio session (§3 "Stream"). Exported fields are never
// exposed; all access goes through the methods below so that realtime and
// control-thread access stay disciplined per §5.
type Stream struct {
	mu sync.Mutex // serializes control-plane calls; never held by the realtime callback

	unit      coreaudio.Unit
	processor bufferprocessor.Processor
	converter *resample.Converter // input-side SRC, nil unless needed

	inputRing    *ringbuffer.RingBuffer
	inputScratch []float32
	srcScratch   []float32 // pre-allocated decode scratch for the SRC supplier

	sameDevice bool
	hasInput   bool
	hasOutput  bool

	inChannels, outChannels               int
	inputFramesPerBuffer, outputFramesPerBuffer int
	sampleRate                             float64

	inputLatency, outputLatency float64

	state     stateBox
	xrunFlags atomic.Uint32
	timing    *timing
	cpuLoad   *cpuLoadMeter

	currentTimeBits atomic.Uint64 // bits of last-observed currentTime, for GetStreamTime

	blocking *blockingFacade

	processorInitialized bool
	closed               bool
}

// Open validates params, resolves frames-per-buffer and sample rate,
// instantiates the platform audio unit, and allocates every realtime
// resource up front (§4.6). On any failure every partially acquired
// resource is released before returning, and the returned *Stream is nil.
func Open(p Params) (*Stream, error) {
	if !p.HasInput && !p.HasOutput {
		return nil, ErrNoEndpoints
	}
	if p.HasInput && p.InChannels <= 0 {
		return nil, ErrInvalidChannelCount
	}
	if p.HasOutput && p.OutChannels <= 0 {
		return nil, ErrInvalidChannelCount
	}

	framesPerBuffer, err := negotiator.ChooseFramesPerBuffer(
		p.FramesPerBuffer, p.SuggestedLatencySeconds, p.SampleRate, p.DeviceFrameRange)
	if err != nil {
		return nil, fmt.Errorf("stream: negotiate frames per buffer: %w", err)
	}

	deviceRate, err := negotiator.ChooseSampleRate(p.SampleRate, p.DeviceCurrentRate, p.DeviceAvailableRates,
		negotiator.SampleRateChoice{
			ChangeDeviceParameters:   p.ChangeDeviceParameters,
			FailIfConversionRequired: p.FailIfConversionRequired,
		})
	if err != nil {
		return nil, fmt.Errorf("stream: negotiate sample rate: %w", err)
	}

	needsSRC := p.HasInput && negotiator.NeedsSampleRateConverter(deviceRate, p.SampleRate)
	sameDevice := p.HasInput && p.HasOutput && p.InputDevice == p.OutputDevice

	s := &Stream{
		sameDevice:            sameDevice,
		hasInput:              p.HasInput,
		hasOutput:             p.HasOutput,
		inChannels:            p.InChannels,
		outChannels:           p.OutChannels,
		inputFramesPerBuffer:  framesPerBuffer,
		outputFramesPerBuffer: framesPerBuffer,
		sampleRate:            p.SampleRate,
		timing:                newTiming(p.SampleRate),
		cpuLoad:               newCPULoadMeter(p.SampleRate),
	}

	unit, err := coreaudio.Open(coreaudio.OpenParams{
		InputDevice:              p.InputDevice,
		OutputDevice:             p.OutputDevice,
		HasInput:                 p.HasInput,
		HasOutput:                p.HasOutput,
		InChannels:               p.InChannels,
		OutChannels:              p.OutChannels,
		SampleRate:               deviceRate,
		FramesPerBuffer:          framesPerBuffer,
		ChangeDeviceParameters:   p.ChangeDeviceParameters,
		FailIfConversionRequired: p.FailIfConversionRequired,
	}, s)
	if err != nil {
		return nil, fmt.Errorf("stream: open audio unit: %w", err)
	}
	s.unit = unit

	granted := unit.Granted()
	if granted.FramesPerBuffer > 0 {
		s.inputFramesPerBuffer = granted.FramesPerBuffer
		s.outputFramesPerBuffer = granted.FramesPerBuffer
	}
	s.inputLatency = granted.InputLatency
	s.outputLatency = granted.OutputLatency

	maxChannels := s.outChannels
	if s.inChannels > maxChannels {
		maxChannels = s.inChannels
	}
	maxFrames := s.inputFramesPerBuffer
	if s.outputFramesPerBuffer > maxFrames {
		maxFrames = s.outputFramesPerBuffer
	}
	s.inputScratch = make([]float32, maxFrames*maxChannels)

	// The ring is only needed to bridge a capture callback to a *later*
	// render callback (separate-device duplex) or to feed the SRC (§3
	// invariant 2). Same-device duplex (Case A) and SRC-free simplex
	// capture (Case D) both skip it.
	needsRing := p.HasInput && ((p.HasOutput && !sameDevice) || needsSRC)
	if needsRing {
		ringBytes := s.inputFramesPerBuffer * s.inChannels * 4 * 4
		ring, err := ringbuffer.New(ringBytes)
		if err != nil {
			unit.Dispose()
			return nil, fmt.Errorf("stream: allocate ring buffer: %w", err)
		}
		ring.PreAdvance()
		s.inputRing = ring
	}

	if needsSRC {
		s.converter = resample.NewConverter(p.InChannels, deviceRate, p.SampleRate, p.Quality, s.inputFramesPerBuffer)
		s.srcScratch = make([]float32, s.inputFramesPerBuffer*p.InChannels)
	}

	hostBufferMode := bufferprocessor.HostBufferBounded
	if needsSRC {
		hostBufferMode = bufferprocessor.HostBufferUnknown
	}

	// Blocking mode (no client callback): the facade only ever moves float32
	// samples across Read/Write, so the client format it presents to the
	// processor is pinned to float32 regardless of what was requested — §6
	// only specifies the facade's hook point, not its wire format.
	inClientFormat, outClientFormat := p.InClientFormat, p.OutClientFormat
	userCallback := p.UserCallback
	if p.UserCallback == nil {
		s.blocking = newBlockingFacade(p.InChannels, p.OutChannels, maxFrames)
		inClientFormat, outClientFormat = bufferprocessor.FormatFloat32, bufferprocessor.FormatFloat32
		userCallback = s.blocking.bridge
	}

	s.processor = bufferprocessor.NewDefaultProcessor()
	if err := s.processor.Initialize(
		p.InChannels, inClientFormat, p.InHostFormat,
		p.OutChannels, outClientFormat, p.OutHostFormat,
		p.SampleRate,
		p.FramesPerUserCallback,
		maxFrames,
		hostBufferMode,
		userCallback,
		p.UserData,
	); err != nil {
		unit.Dispose()
		return nil, fmt.Errorf("stream: initialize buffer processor: %w", err)
	}
	s.processorInitialized = true

	s.state.store(Stopped)
	return s, nil
}

// Start implements §4.4's Start order: reset the processor, reset the SRC
// if any, flip to ACTIVE, then start input before output.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.load() != Stopped {
		return ErrAlreadyActive
	}

	s.processor.Reset()
	if s.converter != nil {
		s.converter.Reset()
	}
	s.timing.clear()
	s.cpuLoad.reset()
	s.xrunFlags.Store(0)

	s.state.store(Active)
	coreaudio.HintRealtimePriority()
	if err := s.unit.Start(); err != nil {
		s.state.store(Stopped)
		return fmt.Errorf("stream: start: %w", err)
	}
	return nil
}

// Stop implements §4.4's Stop order, which Abort reuses verbatim since the
// platform offers no faster teardown path (§4.4, §5 "Cancellation").
func (s *Stream) Stop() error {
	return s.stopLocked(false)
}

func (s *Stream) Abort() error {
	return s.stopLocked(true)
}

func (s *Stream) stopLocked(abort bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.state.load()
	if cur != Active && cur != CallbackStopped {
		return ErrNotActive
	}

	s.state.store(Stopping)

	// §5 "Suspension": Stop blocks until the blocking-facade write buffer
	// has drained. Only meaningful (and only safe) while the realtime
	// callback is still the one running the unit and pulling from
	// blocking.out — once cur was already CallbackStopped, the callback
	// stopped the unit itself and nothing will ever drain the ring again.
	if s.blocking != nil && cur == Active {
		s.blocking.drainOutput()
	}

	if err := s.unit.Stop(); err != nil {
		return fmt.Errorf("stream: stop: %w", err)
	}
	if s.hasOutput {
		s.unit.Reset(coreaudio.BusOutput)
	}
	if s.hasInput {
		s.unit.Reset(coreaudio.BusInput)
	}
	if s.inputRing != nil {
		s.inputRing.PreAdvance()
	}
	if s.blocking != nil {
		s.blocking.reset()
	}
	s.state.store(Stopped)
	return nil
}

// Close releases every resource Open allocated, tolerating nulls so it is
// safe to call after a partially failed Open cleanup has already run
// (§4.6 "Close is idempotent against partial Open failures").
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if s.state.load() == Active {
		s.unit.Stop()
	}

	if s.unit != nil {
		s.unit.Dispose()
	}
	s.inputRing = nil
	s.converter = nil
	s.inputScratch = nil
	s.blocking = nil

	if s.processorInitialized {
		s.processor.Terminate()
	}

	s.closed = true
	return nil
}

func (s *Stream) IsStopped() bool {
	return s.state.load() == Stopped
}

func (s *Stream) IsActive() bool {
	return s.state.load() == Active
}

// GetStreamTime returns the last currentTime the realtime callback
// observed, normalised relative to startTime (§4.5 "Timing").
func (s *Stream) GetStreamTime() float64 {
	return floatFromBits(s.currentTimeBits.Load())
}

func (s *Stream) GetStreamCpuLoad() float64 {
	return s.cpuLoad.value()
}

func (s *Stream) GetInputLatency() float64  { return s.inputLatency }
func (s *Stream) GetOutputLatency() float64 { return s.outputLatency }

// Read/Write/GetReadAvailable/GetWriteAvailable are the blocking-I/O facade
// hook point (§6); they are only usable when Open was called without a
// client callback.
func (s *Stream) Read(dst []float32) (int, error) {
	if s.blocking == nil {
		return 0, errors.New("stream: blocking Read unavailable: stream uses a callback")
	}
	return s.blocking.read(dst)
}

func (s *Stream) Write(src []float32) (int, error) {
	if s.blocking == nil {
		return 0, errors.New("stream: blocking Write unavailable: stream uses a callback")
	}
	return s.blocking.write(src)
}

func (s *Stream) GetReadAvailable() int {
	if s.blocking == nil {
		return 0
	}
	return s.blocking.readAvailable()
}

func (s *Stream) GetWriteAvailable() int {
	if s.blocking == nil {
		return 0
	}
	return s.blocking.writeAvailable()
}
