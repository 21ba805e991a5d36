package stream

import (
	"unsafe"

	"github.com/colinmarsh/auhalstream/internal/coreaudio"
	"github.com/colinmarsh/auhalstream/internal/resample"
	"github.com/colinmarsh/auhalstream/pkg/bufferprocessor"
)

// Render implements coreaudio.Dispatcher. It runs on the platform's realtime
// audio thread (component C5, §4.5): no allocation, no locking, no blocking
// syscalls, no logging. event.Input/event.Output alias pre-allocated
// scratch the Unit owns; nothing here may retain them past the call.
func (s *Stream) Render(event coreaudio.RenderEvent) error {
	started := s.cpuLoad.begin()
	now := s.timing.normalize(event.Timestamp.SampleTime)
	s.currentTimeBits.Store(bitsFromFloat(now))

	var result bufferprocessor.CallbackResult

	switch {
	case event.Bus == coreaudio.BusInput:
		if s.inputRing != nil {
			s.renderCapture(event)
			if !s.hasOutput {
				// Simplex capture with an SRC in play: nothing else will
				// ever run Case B for this stream, so drain the ring
				// through the converter right here (§4.5 "Capture +
				// simplex + SRC" variant).
				_, result = s.drainSimplexSRC()
				s.handleResult(result)
			}
		} else {
			_, result = s.simplexCapture(event)
			s.handleResult(result)
		}
		s.cpuLoad.end(started, event.Frames)
		return nil

	case event.Input != nil:
		// Case A: same-device duplex, no SRC.
		_, result = s.renderCaseA(event)

	default:
		// Case B: separate input unit or SRC active.
		_, result = s.renderCaseB(event)
	}

	s.handleResult(result)
	s.cpuLoad.end(started, event.Frames)
	return nil
}

// renderCapture is Case C: write a freshly captured block into the ring
// buffer for a later render cycle to consume (duplex-different-device, or
// an SRC is in play). Used whenever s.inputRing != nil.
func (s *Stream) renderCapture(event coreaudio.RenderEvent) {
	if s.inputRing == nil {
		return
	}
	raw := float32SliceAsBytes(event.Input)
	n := s.inputRing.WriteBytes(raw)
	if n < len(raw) {
		s.xrunFlags.Or(uint32(InputOverflow))
	}
}

// simplexCapture is Case D: no ring at all, input-only stream, no SRC. The
// captured block is handed straight to the buffer processor.
func (s *Stream) simplexCapture(event coreaudio.RenderEvent) (int, bufferprocessor.CallbackResult) {
	flags := bufferprocessor.XrunFlags(s.xrunFlags.Swap(0))
	s.processor.BeginBufferProcessing(bufferprocessor.TimeInfo{
		InputBufferAdcTime: s.GetStreamTime(),
		CurrentTime:        s.GetStreamTime(),
	}, flags)
	s.processor.SetInputFrameCount(event.Frames)
	s.processor.SetInterleavedInputChannels(0, event.Input, event.Channels)
	return s.processor.EndBufferProcessing()
}

// renderCaseA handles the lowest-latency same-unit duplex path: input was
// already pulled for this cycle by the platform layer.
func (s *Stream) renderCaseA(event coreaudio.RenderEvent) (int, bufferprocessor.CallbackResult) {
	flags := bufferprocessor.XrunFlags(s.xrunFlags.Swap(0))
	s.processor.BeginBufferProcessing(bufferprocessor.TimeInfo{
		InputBufferAdcTime:  s.GetStreamTime(),
		OutputBufferDacTime: s.GetStreamTime(),
		CurrentTime:         s.GetStreamTime(),
	}, flags)
	s.processor.SetInputFrameCount(event.Frames)
	s.processor.SetInterleavedInputChannels(0, event.Input, s.inChannels)
	s.processor.SetOutputFrameCount(event.Frames)
	s.processor.SetInterleavedOutputChannels(0, event.Output, s.outChannels)
	return s.processor.EndBufferProcessing()
}

// renderCaseB handles render with a separate input unit or an active SRC:
// the client's output must be produced now, while input was captured on a
// previous invocation and sits in inputRing (or is pulled live via the SRC).
func (s *Stream) renderCaseB(event coreaudio.RenderEvent) (int, bufferprocessor.CallbackResult) {
	flags := bufferprocessor.XrunFlags(s.xrunFlags.Swap(0))
	cur := s.state.load()
	if cur == Stopping || cur == CallbackStopped {
		// Spurious xruns during teardown are not meaningful.
		flags = 0
	}

	s.processor.BeginBufferProcessing(bufferprocessor.TimeInfo{
		OutputBufferDacTime: s.GetStreamTime(),
		CurrentTime:         s.GetStreamTime(),
	}, flags)
	s.processor.SetOutputFrameCount(event.Frames)
	s.processor.SetInterleavedOutputChannels(0, event.Output, s.outChannels)

	if !s.hasInput {
		return s.processor.EndBufferProcessing()
	}

	if s.converter != nil {
		s.renderCaseBWithSRC(event)
		return s.processor.EndBufferProcessing()
	}
	return s.renderCaseBWithoutSRC(event)
}

// renderCaseBWithSRC pulls exactly frames*inChannels samples through the
// SRC from the ring (§4.5 Case B "With SRC").
func (s *Stream) renderCaseBWithSRC(event coreaudio.RenderEvent) {
	dst := s.inputScratch[:event.Frames*s.inChannels]
	status := s.converter.Pull(s.ringSupplier(), dst, event.Frames)
	if status == resample.Empty {
		s.xrunFlags.Or(uint32(InputUnderflow))
	}
	s.processor.SetInputFrameCount(event.Frames)
	s.processor.SetInterleavedInputChannels(0, dst, s.inChannels)
}

// ringSupplier adapts inputRing to the resample.Supplier shape, decoding
// ring bytes into the stream's pre-allocated srcScratch.
func (s *Stream) ringSupplier() resample.Supplier {
	return func(requested int) ([]float32, resample.Status) {
		p1, p2 := s.inputRing.GetReadRegions(requested * s.inChannels * 4)
		if len(p1) == 0 && len(p2) == 0 {
			return nil, resample.Empty
		}
		n := bytesToFloat32Into(s.srcScratch, p1, p2)
		s.inputRing.AdvanceReadIndex(len(p1) + len(p2))
		return s.srcScratch[:n], resample.OK
	}
}

// drainSimplexSRC pulls fixed-size chunks through the SRC until the ring
// runs dry, invoking the buffer processor once per chunk (§4.5 "Capture +
// simplex + SRC" variant of Case C then D).
func (s *Stream) drainSimplexSRC() (int, bufferprocessor.CallbackResult) {
	chunk := s.inputFramesPerBuffer
	dst := s.inputScratch[:chunk*s.inChannels]
	result := bufferprocessor.Continue
	framesProcessed := 0

	for {
		status := s.converter.Pull(s.ringSupplier(), dst, chunk)
		if status == resample.Empty {
			break
		}
		flags := bufferprocessor.XrunFlags(s.xrunFlags.Swap(0))
		s.processor.BeginBufferProcessing(bufferprocessor.TimeInfo{
			InputBufferAdcTime: s.GetStreamTime(),
			CurrentTime:        s.GetStreamTime(),
		}, flags)
		s.processor.SetInputFrameCount(chunk)
		s.processor.SetInterleavedInputChannels(0, dst, s.inChannels)
		framesProcessed, result = s.processor.EndBufferProcessing()
		if result != bufferprocessor.Continue {
			break
		}
	}
	return framesProcessed, result
}

// renderCaseBWithoutSRC reads from the ring via GetReadRegions, handling the
// three subcases from §4.5 Case B "Without SRC".
func (s *Stream) renderCaseBWithoutSRC(event coreaudio.RenderEvent) (int, bufferprocessor.CallbackResult) {
	need := event.Frames * s.inChannels * 4
	p1, p2 := s.inputRing.GetReadRegions(need)
	total := len(p1) + len(p2)

	switch {
	case total >= need && len(p2) == 0:
		// Subcase 1: everything in one contiguous region.
		n := bytesToFloat32Into(s.inputScratch, p1, nil)
		s.processor.SetInputFrameCount(event.Frames)
		s.processor.SetInterleavedInputChannels(0, s.inputScratch[:n], s.inChannels)
		s.inputRing.AdvanceReadIndex(len(p1))
		return s.processor.EndBufferProcessing()

	case total < need:
		// Subcase 2: underflow; copy what exists, zero-fill the tail.
		dst := s.inputScratch[:event.Frames*s.inChannels]
		n := bytesToFloat32Into(dst, p1, p2)
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
		s.xrunFlags.Or(uint32(InputUnderflow))
		s.processor.SetInputFrameCount(event.Frames)
		s.processor.SetInterleavedInputChannels(0, dst, s.inChannels)
		s.inputRing.AdvanceReadIndex(total)
		return s.processor.EndBufferProcessing()

	default:
		// Subcase 3: exactly frames split across two regions; two-span
		// processor call.
		n1 := len(p1) / 4 / s.inChannels
		n2 := event.Frames - n1
		span1 := s.inputScratch[:n1*s.inChannels]
		span2 := s.inputScratch[n1*s.inChannels : event.Frames*s.inChannels]
		bytesToFloat32Into(span1, p1, nil)
		bytesToFloat32Into(span2, p2, nil)

		s.processor.SetInputFrameCount(n1)
		s.processor.SetInterleavedInputChannels(0, span1, s.inChannels)
		s.processor.Set2ndInputFrameCount(n2)
		s.processor.Set2ndInterleavedInputChannels(0, span2, s.inChannels)
		s.inputRing.AdvanceReadIndex(need)
		return s.processor.EndBufferProcessing()
	}
}

// handleResult implements §4.5's post-EndBufferProcessing inspection:
// Complete/Abort clear isTimeSet and move the stream to CALLBACK_STOPPED,
// stopping both units from within the callback.
func (s *Stream) handleResult(result bufferprocessor.CallbackResult) {
	if result == bufferprocessor.Continue {
		return
	}
	if s.state.compareAndSwap(Active, CallbackStopped) {
		s.timing.clear()
		s.unit.Stop()
	}
}

// float32SliceAsBytes reinterprets a float32 slice as its underlying bytes
// without copying, the same zero-copy trick used elsewhere in this codebase
// for realtime-path conversions (see ColonelBlimp-style bytesAsFloat32).
func float32SliceAsBytes(src []float32) []byte {
	if len(src) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&src[0])), len(src)*4)
}

// bytesToFloat32Into decodes up to two contiguous byte regions into dst and
// returns the number of float32 samples written. It never allocates.
func bytesToFloat32Into(dst []float32, p1, p2 []byte) int {
	n1 := decodeFloat32Span(dst, p1)
	if len(p2) == 0 {
		return n1
	}
	return n1 + decodeFloat32Span(dst[n1:], p2)
}

func decodeFloat32Span(dst []float32, src []byte) int {
	n := len(src) / 4
	if n > len(dst) {
		n = len(dst)
	}
	if n == 0 {
		return 0
	}
	floats := unsafe.Slice((*float32)(unsafe.Pointer(&src[0])), n)
	copy(dst[:n], floats)
	return n
}
