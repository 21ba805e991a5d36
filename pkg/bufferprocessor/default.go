package bufferprocessor

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/colinmarsh/auhalstream/internal/ringbuffer"
)

// ErrCustomFormatUnsupported is returned by Initialize for any SampleFormat
// outside the fixed PCM set this module understands (spec §1 Non-goals:
// custom, non-PCM sample formats are out of scope).
var ErrCustomFormatUnsupported = errors.New("bufferprocessor: custom sample formats are not supported")

// DefaultProcessor is the concrete Processor used outside of tests. It
// accumulates host-format (interleaved float32) frames across realtime
// callback invocations into a byte ring buffer reused from
// internal/ringbuffer, drains framesPerUserCallback-sized chunks to the
// client callback after converting to the client's declared format, and
// does the inverse conversion on the way back out.
type DefaultProcessor struct {
	inChannels, outChannels        int
	inClientFormat, inHostFormat   SampleFormat
	outClientFormat, outHostFormat SampleFormat
	sampleRate                     float64
	framesPerUserCallback          int
	maxHostFrames                  int
	hostBufferSizeMode             HostBufferSizeMode
	userCallback                   UserCallback
	userData                       any

	inRing  *ringbuffer.RingBuffer // accumulates host-format input awaiting a full client frame
	outRing *ringbuffer.RingBuffer // accumulates host-format output awaiting drain to the device

	clientInBuf  []float32 // scratch, sized framesPerUserCallback*inChannels
	clientOutBuf []float32 // scratch, sized framesPerUserCallback*outChannels
	convScratch  []byte    // scratch for byte<->float32 conversion

	// Pre-allocated once at Initialize, in the client's declared type, and
	// reused (contents overwritten in place) on every realtime callback so
	// EndBufferProcessing never allocates.
	clientInTyped  any
	clientOutTyped any

	// per-bracket state, valid only between BeginBufferProcessing and
	// EndBufferProcessing
	timeInfo  TimeInfo
	flags     XrunFlags
	hasInput  bool
	hasOutput bool

	inFrameCount  int
	inData        []float32
	inFirstChan   int
	in2FrameCount int
	in2Data       []float32
	in2FirstChan  int

	outFrameCount int
	outData       []float32
	outFirstChan  int

	inputLatency, outputLatency float64

	inFormat, outFormat audioFormat
}

// NewDefaultProcessor constructs an unconfigured processor; call Initialize
// before using it.
func NewDefaultProcessor() *DefaultProcessor {
	return &DefaultProcessor{}
}

func validSampleFormat(f SampleFormat) bool {
	switch f {
	case FormatFloat32, FormatInt32, FormatInt24, FormatInt16, FormatInt8, FormatUint8:
		return true
	default:
		return false
	}
}

// ValidSampleFormat reports whether f is one of the fixed PCM encodings this
// module understands (§1 Non-goals: custom, non-PCM formats are excluded).
// Exported so callers validating parameters ahead of Initialize (e.g.
// pkg/hostapi's Open) don't have to duplicate the switch.
func ValidSampleFormat(f SampleFormat) bool {
	return validSampleFormat(f)
}

func (p *DefaultProcessor) Initialize(
	inChannels int, inClientFormat, inHostFormat SampleFormat,
	outChannels int, outClientFormat, outHostFormat SampleFormat,
	sampleRate float64,
	framesPerUserCallback int,
	maxHostFrames int,
	hostBufferSizeMode HostBufferSizeMode,
	userCallback UserCallback,
	userData any,
) error {
	if !validSampleFormat(inClientFormat) || !validSampleFormat(outClientFormat) {
		return ErrCustomFormatUnsupported
	}
	if inHostFormat != FormatFloat32 && inChannels > 0 {
		return ErrCustomFormatUnsupported
	}
	if outHostFormat != FormatFloat32 && outChannels > 0 {
		return ErrCustomFormatUnsupported
	}

	p.inChannels, p.outChannels = inChannels, outChannels
	p.inClientFormat, p.inHostFormat = inClientFormat, inHostFormat
	p.outClientFormat, p.outHostFormat = outClientFormat, outHostFormat
	p.sampleRate = sampleRate
	p.framesPerUserCallback = framesPerUserCallback
	p.maxHostFrames = maxHostFrames
	p.hostBufferSizeMode = hostBufferSizeMode
	p.userCallback = userCallback
	p.userData = userData
	p.inFormat = newAudioFormat(inChannels, sampleRate, inClientFormat)
	p.outFormat = newAudioFormat(outChannels, sampleRate, outClientFormat)

	// Ring capacity: enough to hold several callback's worth of frames even
	// when the host buffer size is "unknown" (an SRC may deliver irregular
	// chunk sizes), so drains rarely starve.
	slack := 4
	if hostBufferSizeMode == HostBufferUnknown {
		slack = 8
	}
	capFrames := framesPerUserCallback
	if maxHostFrames > capFrames {
		capFrames = maxHostFrames
	}
	capFrames *= slack

	if inChannels > 0 {
		rb, err := ringbuffer.New(capFrames * inChannels * 4)
		if err != nil {
			return err
		}
		p.inRing = rb
		p.clientInBuf = make([]float32, framesPerUserCallback*inChannels)
		p.clientInTyped = allocateClientFormat(inClientFormat, framesPerUserCallback*inChannels)
	}
	if outChannels > 0 {
		rb, err := ringbuffer.New(capFrames * outChannels * 4)
		if err != nil {
			return err
		}
		p.outRing = rb
		p.clientOutBuf = make([]float32, framesPerUserCallback*outChannels)
		p.clientOutTyped = allocateClientFormat(outClientFormat, framesPerUserCallback*outChannels)
	}

	scratchFrames := framesPerUserCallback
	if maxHostFrames > scratchFrames {
		scratchFrames = maxHostFrames
	}
	maxChannels := inChannels
	if outChannels > maxChannels {
		maxChannels = outChannels
	}
	p.convScratch = make([]byte, scratchFrames*maxChannels*4)

	return nil
}

func (p *DefaultProcessor) Reset() {
	if p.inRing != nil {
		p.inRing.Flush()
	}
	if p.outRing != nil {
		p.outRing.Flush()
	}
	p.hasInput, p.hasOutput = false, false
}

func (p *DefaultProcessor) Terminate() {
	p.inRing = nil
	p.outRing = nil
	p.clientInBuf = nil
	p.clientOutBuf = nil
	p.convScratch = nil
}

func (p *DefaultProcessor) GetInputLatency() float64  { return p.inputLatency }
func (p *DefaultProcessor) GetOutputLatency() float64 { return p.outputLatency }

// InputFormat and OutputFormat expose the negotiated client-side format for
// diagnostics and logging.
func (p *DefaultProcessor) InputFormat() (channels int, sampleRate int, bytesPerSample int) {
	return p.inFormat.format.NumChannels, p.inFormat.format.SampleRate, p.inFormat.bytesPerRaw
}

func (p *DefaultProcessor) OutputFormat() (channels int, sampleRate int, bytesPerSample int) {
	return p.outFormat.format.NumChannels, p.outFormat.format.SampleRate, p.outFormat.bytesPerRaw
}

// SetInputLatency and SetOutputLatency are not part of the Processor
// interface. Nothing in this module calls them, so GetInputLatency and
// GetOutputLatency report 0 unless a caller holding a *DefaultProcessor
// sets the values.
func (p *DefaultProcessor) SetInputLatency(v float64)  { p.inputLatency = v }
func (p *DefaultProcessor) SetOutputLatency(v float64) { p.outputLatency = v }

func (p *DefaultProcessor) BeginBufferProcessing(timeInfo TimeInfo, flags XrunFlags) {
	p.timeInfo = timeInfo
	p.flags = flags
	p.hasInput, p.hasOutput = false, false
	p.inFrameCount, p.in2FrameCount, p.outFrameCount = 0, 0, 0
}

func (p *DefaultProcessor) SetInputFrameCount(n int) {
	p.inFrameCount = n
	p.hasInput = true
}

func (p *DefaultProcessor) SetInterleavedInputChannels(firstChannel int, data []float32, numChannels int) {
	p.inData = data
	p.inFirstChan = firstChannel
	p.hasInput = true
}

func (p *DefaultProcessor) Set2ndInputFrameCount(n int) {
	p.in2FrameCount = n
}

func (p *DefaultProcessor) Set2ndInterleavedInputChannels(firstChannel int, data []float32, numChannels int) {
	p.in2Data = data
	p.in2FirstChan = firstChannel
}

func (p *DefaultProcessor) SetOutputFrameCount(n int) {
	p.outFrameCount = n
	p.hasOutput = true
}

func (p *DefaultProcessor) SetInterleavedOutputChannels(firstChannel int, data []float32, numChannels int) {
	p.outData = data
	p.outFirstChan = firstChannel
	p.hasOutput = true
}

// EndBufferProcessing drains queued input into the client callback,
// re-encodes its output, and writes host-format samples into the buffer
// handed over via SetInterleavedOutputChannels. See §4.5 for the four
// dispatch cases that feed this.
func (p *DefaultProcessor) EndBufferProcessing() (framesProcessed int, result CallbackResult) {
	result = Continue

	if p.hasInput && p.inRing != nil {
		p.pushInput(p.inData, p.inFrameCount)
		if p.in2FrameCount > 0 {
			p.pushInput(p.in2Data, p.in2FrameCount)
		}
	}

	for p.readyForCallback() {
		out := p.invokeUserCallback()
		if out != Continue {
			result = out
			break
		}
	}

	if p.hasOutput && p.outRing != nil {
		framesProcessed = p.drainOutput(p.outData, p.outFrameCount)
	} else if p.hasInput {
		framesProcessed = p.inFrameCount + p.in2FrameCount
	}

	return framesProcessed, result
}

// readyForCallback reports whether enough data (or, for output-only
// streams, enough room) is queued to run one more user callback.
func (p *DefaultProcessor) readyForCallback() bool {
	if p.inChannels > 0 {
		if p.inRing == nil {
			return false
		}
		needed := p.framesPerUserCallback * p.inChannels * 4
		return p.inRing.ReadAvailable() >= needed
	}
	// Output-only (render-only / capture-only-with-no-counterpart): drive
	// exactly one callback per bracket when output room is requested.
	if p.outChannels > 0 && p.hasOutput {
		needed := p.framesPerUserCallback * p.outChannels * 4
		return p.outRing != nil && p.outRing.WriteAvailable() >= needed
	}
	return false
}

func (p *DefaultProcessor) invokeUserCallback() CallbackResult {
	var clientIn any
	if p.inChannels > 0 {
		p.popInput(p.clientInBuf)
		convertFromHostInto(p.clientInBuf, p.clientInTyped, p.inClientFormat)
		clientIn = p.clientInTyped
	}

	var clientOut any
	if p.outChannels > 0 {
		clientOut = p.clientOutTyped
	}

	result := Continue
	if p.userCallback != nil {
		result = p.userCallback(clientOut, clientIn, p.framesPerUserCallback, p.timeInfo, p.flags, p.userData)
	}

	if p.outChannels > 0 {
		convertToHost(clientOut, p.outClientFormat, p.clientOutBuf)
		p.pushOutput(p.clientOutBuf)
	}
	return result
}

func (p *DefaultProcessor) pushInput(data []float32, frames int) {
	if frames <= 0 || len(data) == 0 {
		return
	}
	n := frames * p.inChannels
	if n > len(data) {
		n = len(data)
	}
	buf := p.byteScratch(n)
	floatsToBytes(data[:n], buf)
	p.inRing.WriteBytes(buf)
}

func (p *DefaultProcessor) popInput(dst []float32) {
	n := len(dst)
	buf := p.byteScratch(n)
	b1, b2 := p.inRing.GetReadRegions(n * 4)
	copy(buf, b1)
	copy(buf[len(b1):], b2)
	got := (len(b1) + len(b2)) / 4
	bytesToFloats(buf[:got*4], dst[:got])
	for i := got; i < n; i++ {
		dst[i] = 0
	}
	p.inRing.AdvanceReadIndex(got * 4)
}

func (p *DefaultProcessor) pushOutput(data []float32) {
	buf := p.byteScratch(len(data))
	floatsToBytes(data, buf)
	p.outRing.WriteBytes(buf)
}

// drainOutput copies up to frames*outChannels host samples into dst,
// zero-filling any shortfall (an output underflow the caller should flag).
func (p *DefaultProcessor) drainOutput(dst []float32, frames int) int {
	n := frames * p.outChannels
	if n > len(dst) {
		n = len(dst)
	}
	buf := p.byteScratch(n)
	b1, b2 := p.outRing.GetReadRegions(n * 4)
	copy(buf, b1)
	copy(buf[len(b1):], b2)
	got := (len(b1) + len(b2)) / 4
	bytesToFloats(buf[:got*4], dst[:got])
	for i := got; i < n; i++ {
		dst[i] = 0
	}
	p.outRing.AdvanceReadIndex(got * 4)
	// The destination span is always fully populated (real samples or, on
	// a shortfall, zero-fill), so the full frame count was "processed" from
	// the device's point of view even when an underflow occurred upstream.
	return frames
}

func (p *DefaultProcessor) byteScratch(floatCount int) []byte {
	need := floatCount * 4
	if need > len(p.convScratch) {
		// maxHostFrames*maxChannels*4 at Initialize should make this
		// unreachable on the realtime path; grow defensively for
		// non-realtime (test) callers only.
		p.convScratch = make([]byte, need)
	}
	return p.convScratch[:need]
}

func floatsToBytes(src []float32, dst []byte) {
	for i, v := range src {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(v))
	}
}

func bytesToFloats(src []byte, dst []float32) {
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:]))
	}
}

// int24Max is the largest magnitude representable in signed 24-bit PCM
// (2^23 - 1), the scaling factor int24ToFloat/floatToInt24 convert against.
const int24Max = 1<<23 - 1

// convertFromHostInto reinterprets packed float32 host samples as the
// client's declared format, writing in place into a buffer pre-allocated
// at Initialize so no allocation occurs on the realtime path. Int24 has no
// native Go integer type, so it is represented client-side as tightly
// packed little-endian 3-byte samples ([]byte, len == 3*frameCount),
// matching the reference implementation's paInt24 wire layout. Since
// []byte and []uint8 are the same Go type, format tells Int24 and Uint8
// apart.
func convertFromHostInto(host []float32, dst any, format SampleFormat) {
	switch v := dst.(type) {
	case []float32:
		copy(v, host)
	case []int16:
		for i := range v {
			if i < len(host) {
				v[i] = int16(clampFloat(host[i]) * 32767)
			}
		}
	case []int32:
		for i := range v {
			if i < len(host) {
				v[i] = int32(clampFloat(host[i]) * 2147483647)
			}
		}
	case []int8:
		for i := range v {
			if i < len(host) {
				v[i] = int8(clampFloat(host[i]) * 127)
			}
		}
	case []uint8:
		if format == FormatInt24 {
			n := len(v) / 3
			for i := 0; i < n; i++ {
				if i >= len(host) {
					break
				}
				putInt24(v[i*3:], floatToInt24(host[i]))
			}
			return
		}
		for i := range v {
			if i < len(host) {
				v[i] = uint8((clampFloat(host[i])*0.5 + 0.5) * 255)
			}
		}
	}
}

func allocateClientFormat(format SampleFormat, n int) any {
	switch format {
	case FormatFloat32:
		return make([]float32, n)
	case FormatInt32:
		return make([]int32, n)
	case FormatInt24:
		return make([]byte, n*3)
	case FormatInt16:
		return make([]int16, n)
	case FormatInt8:
		return make([]int8, n)
	case FormatUint8:
		return make([]uint8, n)
	default:
		return make([]float32, n)
	}
}

// convertToHost converts the client's output buffer back into host-format
// (packed float32) samples in dst. A []byte client is packed 3-byte Int24
// when format is FormatInt24 and one-byte Uint8 otherwise (see
// convertFromHostInto).
func convertToHost(client any, format SampleFormat, dst []float32) {
	switch v := client.(type) {
	case []float32:
		copy(dst, v)
	case []int16:
		for i := range dst {
			if i < len(v) {
				dst[i] = float32(v[i]) / 32767
			}
		}
	case []int32:
		for i := range dst {
			if i < len(v) {
				dst[i] = float32(v[i]) / 2147483647
			}
		}
	case []int8:
		for i := range dst {
			if i < len(v) {
				dst[i] = float32(v[i]) / 127
			}
		}
	case []uint8:
		if format == FormatInt24 {
			n := len(v) / 3
			for i := range dst {
				if i < n {
					dst[i] = int24ToFloat(getInt24(v[i*3:]))
				} else {
					dst[i] = 0
				}
			}
			break
		}
		for i := range dst {
			if i < len(v) {
				dst[i] = (float32(v[i])/255 - 0.5) * 2
			}
		}
	default:
		for i := range dst {
			dst[i] = 0
		}
	}
}

// putInt24 writes a signed 24-bit value into the first 3 bytes of dst,
// little-endian, the packing PortAudio's paInt24 uses on the wire.
func putInt24(dst []byte, v int32) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
	dst[2] = byte(v >> 16)
}

// getInt24 reads a little-endian signed 24-bit value back out of src,
// sign-extending bit 23 into a Go int32.
func getInt24(src []byte) int32 {
	v := int32(src[0]) | int32(src[1])<<8 | int32(src[2])<<16
	if v&(1<<23) != 0 {
		v |= ^int32(0) << 24
	}
	return v
}

func floatToInt24(f float32) int32 {
	return int32(clampFloat(f) * int24Max)
}

func int24ToFloat(v int32) float32 {
	return float32(v) / int24Max
}

func clampFloat(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
