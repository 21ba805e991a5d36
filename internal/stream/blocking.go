package stream

import (
	"math"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/colinmarsh/auhalstream/internal/ringbuffer"
	"github.com/colinmarsh/auhalstream/pkg/bufferprocessor"
)

// blockingFacade layers the blocking Read/Write/GetReadAvailable/
// GetWriteAvailable surface (§6) on top of two ring buffers when Open was
// called with no client callback. The realtime callback is always the
// producer on the input side and the consumer on the output side; the
// client's worker thread is the consumer/producer on the other end, woken
// via a condition variable since the ring buffer itself never blocks.
type blockingFacade struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	waiters  atomic.Int32 // count of client-thread calls parked in Wait; lets the realtime side (fillOutput/pushInput) skip the mutex entirely in the common case where nobody is blocked

	in  *ringbuffer.RingBuffer
	out *ringbuffer.RingBuffer

	inChannels, outChannels int
}

func newBlockingFacade(inChannels, outChannels, maxFrames int) *blockingFacade {
	f := &blockingFacade{inChannels: inChannels, outChannels: outChannels}
	f.notEmpty = sync.NewCond(&f.mu)
	f.notFull = sync.NewCond(&f.mu)

	if inChannels > 0 {
		f.in, _ = ringbuffer.New(maxFrames * inChannels * 4 * 4)
	}
	if outChannels > 0 {
		f.out, _ = ringbuffer.New(maxFrames * outChannels * 4 * 4)
	}
	return f
}

// read blocks until at least one frame is available and copies as many
// complete frames as fit in dst.
func (f *blockingFacade) read(dst []float32) (int, error) {
	if f.in == nil {
		return 0, nil
	}
	need := len(dst) * 4

	f.mu.Lock()
	for f.in.ReadAvailable() == 0 {
		f.waiters.Add(1)
		f.notEmpty.Wait()
		f.waiters.Add(-1)
	}
	f.mu.Unlock()

	p1, p2 := f.in.GetReadRegions(need)
	n := copyBytesToFloat32(dst, p1, p2)
	f.in.AdvanceReadIndex(n * 4)

	f.mu.Lock()
	f.notFull.Broadcast()
	f.mu.Unlock()
	return n / max(f.inChannels, 1), nil
}

// write blocks until there is room for at least one frame, then writes as
// much of src as fits without overtaking the realtime consumer; it reports
// short writes rather than blocking indefinitely so a draining Stop is
// guaranteed to make progress (§8 property 8).
func (f *blockingFacade) write(src []float32) (int, error) {
	if f.out == nil {
		return 0, nil
	}
	raw := floatBytes(src)

	f.mu.Lock()
	for f.out.WriteAvailable() == 0 {
		f.waiters.Add(1)
		f.notFull.Wait()
		f.waiters.Add(-1)
	}
	f.mu.Unlock()

	n := f.out.WriteBytes(raw)

	f.mu.Lock()
	f.notEmpty.Broadcast()
	f.mu.Unlock()
	return n / 4 / max(f.outChannels, 1), nil
}

// bridge is the bufferprocessor.UserCallback installed by Open whenever no
// client callback was supplied (§6 "blocking mode"): it is invoked on the
// realtime thread from inside EndBufferProcessing, so it must never block or
// allocate. It pulls already-queued output straight from f.out and pushes
// captured input straight into f.in, which is what lets Read/Write actually
// carry samples instead of the processor running with a nil callback.
func (f *blockingFacade) bridge(output, input any, _ int, _ bufferprocessor.TimeInfo, _ bufferprocessor.XrunFlags, _ any) bufferprocessor.CallbackResult {
	if out, ok := output.([]float32); ok {
		f.fillOutput(out)
	}
	if in, ok := input.([]float32); ok {
		f.pushInput(in)
	}
	return bufferprocessor.Continue
}

// fillOutput is called from the realtime thread to drain queued output into
// dst. A shortfall is zero-filled rather than waited out, since the
// realtime callback must not block (§5 "Suspension"). The ring itself is
// lock-free; the mutex is only taken to broadcast notFull, and only when
// f.waiters shows a client thread is actually parked in Wait — in steady
// state nobody is waiting and this never touches the lock at all.
func (f *blockingFacade) fillOutput(dst []float32) {
	if f.out == nil {
		for i := range dst {
			dst[i] = 0
		}
		return
	}
	p1, p2 := f.out.GetReadRegions(len(dst) * 4)
	n := copyBytesToFloat32(dst, p1, p2)
	f.out.AdvanceReadIndex(n * 4)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}

	if f.waiters.Load() > 0 {
		f.mu.Lock()
		f.notFull.Broadcast()
		f.mu.Unlock()
	}
}

// pushInput is called from the realtime thread to push freshly captured
// samples into f.in. A short write (not enough room) silently drops the
// tail, matching the ring buffer's own non-blocking contract; the client
// is expected to keep up via GetReadAvailable. Reinterprets src's bytes
// in place rather than copying through floatBytes, which allocates and so
// is only safe off the realtime path (used by write, the client-side call).
func (f *blockingFacade) pushInput(src []float32) {
	if f.in == nil || len(src) == 0 {
		return
	}
	f.in.WriteBytes(unsafe.Slice((*byte)(unsafe.Pointer(&src[0])), len(src)*4))

	if f.waiters.Load() > 0 {
		f.mu.Lock()
		f.notEmpty.Broadcast()
		f.mu.Unlock()
	}
}

// drainOutput blocks until every sample handed to write has been pulled by
// the realtime callback via fillOutput (§5 "Suspension": Stop blocks until
// the blocking write buffer has drained; §8 property 8). The caller must
// only invoke this while the realtime callback is still actually running —
// once the unit has stopped nothing will ever drain the ring again.
func (f *blockingFacade) drainOutput() {
	if f.out == nil {
		return
	}
	f.mu.Lock()
	for f.out.ReadAvailable() > 0 {
		f.waiters.Add(1)
		f.notFull.Wait()
		f.waiters.Add(-1)
	}
	f.mu.Unlock()
}

func (f *blockingFacade) readAvailable() int {
	if f.in == nil {
		return 0
	}
	return f.in.ReadAvailable() / 4 / max(f.inChannels, 1)
}

func (f *blockingFacade) writeAvailable() int {
	if f.out == nil {
		return 0
	}
	return f.out.WriteAvailable() / 4 / max(f.outChannels, 1)
}

// reset flushes both rings; called on Stop (§4.6 "reset the blocking-I/O
// facade") after stopLocked has already drained f.out via drainOutput, so
// this only discards leftover captured input and resets indices.
func (f *blockingFacade) reset() {
	if f.in != nil {
		f.in.Flush()
	}
	if f.out != nil {
		f.out.Flush()
	}
}

func copyBytesToFloat32(dst []float32, p1, p2 []byte) int {
	n1 := copyByteSpanToFloat32(dst, p1)
	if len(p2) == 0 {
		return n1
	}
	n2 := copyByteSpanToFloat32(dst[n1:], p2)
	return n1 + n2
}

func copyByteSpanToFloat32(dst []float32, src []byte) int {
	n := len(src) / 4
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		bits := uint32(src[i*4]) | uint32(src[i*4+1])<<8 | uint32(src[i*4+2])<<16 | uint32(src[i*4+3])<<24
		dst[i] = math.Float32frombits(bits)
	}
	return n
}

func floatBytes(src []float32) []byte {
	out := make([]byte, len(src)*4)
	for i, v := range src {
		bits := math.Float32bits(v)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}
