// Package bufferprocessor is the external collaborator described in §6 of
// the runtime spec: it converts between the client's declared sample
// format/interleave/frames-per-callback and the host-side packed
// interleaved float32 layout the realtime callback always works in. The
// stream runtime treats it as a black box reached through the Processor
// interface; this package also supplies the concrete default
// implementation used outside of tests.
package bufferprocessor

import "github.com/go-audio/audio"

// SampleFormat enumerates the client-visible PCM encodings this module
// supports. Custom, non-PCM formats are out of scope (spec §1 Non-goals).
type SampleFormat int

const (
	FormatFloat32 SampleFormat = iota
	FormatInt32
	FormatInt24
	FormatInt16
	FormatInt8
	FormatUint8
)

// HostBufferSizeMode tells the processor whether maxHostFrames is a hard
// bound (no SRC in play) or merely advisory (an SRC may hand back a
// variable number of frames per pull).
type HostBufferSizeMode int

const (
	HostBufferBounded HostBufferSizeMode = iota
	HostBufferUnknown
)

// XrunFlags is the bitset of over/underflow conditions observed since the
// last BeginBufferProcessing call.
type XrunFlags uint32

const (
	InputUnderflow XrunFlags = 1 << iota
	InputOverflow
	OutputUnderflow
	OutputOverflow
)

// TimeInfo carries the stream-relative timestamps computed by the realtime
// callback (§4.5 "Timing").
type TimeInfo struct {
	InputBufferAdcTime  float64
	OutputBufferDacTime float64
	CurrentTime         float64
}

// CallbackResult is the value the client's callback returns to tell the
// runtime whether to keep scheduling.
type CallbackResult int

const (
	Continue CallbackResult = iota
	Complete
	Abort
)

// UserCallback is the client-supplied function, operating entirely in the
// client's declared format: output/input are always a single interleaved
// slice of the client sample type (Int24 as packed little-endian 3-byte
// samples in a []byte); there is no slice-of-channel-slices form.
// Processor performs the conversion to/from the packed host float32 layout
// before and after invoking it.
type UserCallback func(output, input any, frameCount int, timeInfo TimeInfo, flags XrunFlags, userData any) CallbackResult

// Processor is the buffer-processor interface consumed by the realtime
// callback (component C7 of the runtime spec, §6). Every method here is
// called from the realtime thread except Initialize/Reset/Terminate, which
// run from the control thread while the stream is not ACTIVE.
type Processor interface {
	Initialize(
		inChannels int, inClientFormat, inHostFormat SampleFormat,
		outChannels int, outClientFormat, outHostFormat SampleFormat,
		sampleRate float64,
		framesPerUserCallback int,
		maxHostFrames int,
		hostBufferSizeMode HostBufferSizeMode,
		userCallback UserCallback,
		userData any,
	) error

	BeginBufferProcessing(timeInfo TimeInfo, flags XrunFlags)

	SetInputFrameCount(n int)
	SetInterleavedInputChannels(firstChannel int, data []float32, numChannels int)
	Set2ndInputFrameCount(n int)
	Set2ndInterleavedInputChannels(firstChannel int, data []float32, numChannels int)

	SetOutputFrameCount(n int)
	SetInterleavedOutputChannels(firstChannel int, data []float32, numChannels int)

	// EndBufferProcessing queues the frames established by Set*FrameCount,
	// invokes the user callback zero or more times (once per
	// framesPerUserCallback chunk that is ready), doing the format
	// conversion both directions, and reports how many frames were
	// actually processed plus the client's continue/stop decision.
	EndBufferProcessing() (framesProcessed int, result CallbackResult)

	Reset()
	Terminate()

	GetInputLatency() float64
	GetOutputLatency() float64
}

// audioFormat is a small, honest use of go-audio/audio's Format type: it
// carries {NumChannels, SampleRate} alongside a SampleFormat the way the
// go-audio ecosystem expects, without pulling its full PCM buffer machinery
// into the realtime path (that machinery allocates, which the realtime
// path must never do).
type audioFormat struct {
	format      *audio.Format
	sampleFmt   SampleFormat
	bytesPerRaw int
}

func newAudioFormat(numChannels int, sampleRate float64, sampleFmt SampleFormat) audioFormat {
	return audioFormat{
		format: &audio.Format{
			NumChannels: numChannels,
			SampleRate:  int(sampleRate),
		},
		sampleFmt:   sampleFmt,
		bytesPerRaw: bytesPerSample(sampleFmt),
	}
}

func bytesPerSample(f SampleFormat) int {
	switch f {
	case FormatFloat32, FormatInt32:
		return 4
	case FormatInt24:
		return 3
	case FormatInt16:
		return 2
	case FormatInt8, FormatUint8:
		return 1
	default:
		return 4
	}
}
