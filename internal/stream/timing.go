package stream

import (
	"math"
	"sync/atomic"
	"time"
)

// cpuLoadMeter is an exponentially-weighted moving average of
// (callback wall time) / (frames / sampleRate), the CPU-load metric exposed
// to the client via GetStreamCpuLoad (§4.5 "CPU-load metering brackets the
// whole body"). It is written only from the realtime thread and read from
// the control thread, so the accumulated value is stored as bits in an
// atomic.Uint64 rather than guarded by a mutex.
type cpuLoadMeter struct {
	bits       atomic.Uint64
	sampleRate float64
}

const cpuLoadAlpha = 0.9 // weight given to history; matches a slow-settling EWMA

func newCPULoadMeter(sampleRate float64) *cpuLoadMeter {
	return &cpuLoadMeter{sampleRate: sampleRate}
}

// begin returns the wall-clock instant to pass to end once the callback
// body has finished running for frames frames.
func (m *cpuLoadMeter) begin() time.Time {
	return time.Now()
}

func (m *cpuLoadMeter) end(started time.Time, frames int) {
	if frames <= 0 || m.sampleRate <= 0 {
		return
	}
	elapsed := time.Since(started).Seconds()
	available := float64(frames) / m.sampleRate
	if available <= 0 {
		return
	}
	sample := elapsed / available

	prev := floatFromBits(m.bits.Load())
	next := cpuLoadAlpha*prev + (1-cpuLoadAlpha)*sample
	m.bits.Store(bitsFromFloat(next))
}

func (m *cpuLoadMeter) value() float64 {
	return floatFromBits(m.bits.Load())
}

func (m *cpuLoadMeter) reset() {
	m.bits.Store(0)
}

func floatFromBits(b uint64) float64 {
	return math.Float64frombits(b)
}

func bitsFromFloat(f float64) uint64 {
	return math.Float64bits(f)
}

// timing holds the stream-relative timestamp state described in §4.5
// "Timing": startTime/isTimeSet are latched on the first callback
// invocation, and outputBufferDacTime/inputBufferAdcTime/currentTime are
// recomputed every invocation by normalising the platform timestamp's
// sample-time field against sampleRate.
type timing struct {
	sampleRate float64

	isTimeSet atomic.Bool
	startTime atomic.Uint64 // bits of a float64 sample-time
}

func newTiming(sampleRate float64) *timing {
	return &timing{sampleRate: sampleRate}
}

// normalize converts a raw device sample-time into seconds relative to the
// stream's startTime, latching startTime on the first call.
func (t *timing) normalize(sampleTime float64) float64 {
	if !t.isTimeSet.Load() {
		t.startTime.Store(bitsFromFloat(sampleTime))
		t.isTimeSet.Store(true)
	}
	start := floatFromBits(t.startTime.Load())
	if t.sampleRate <= 0 {
		return 0
	}
	return (sampleTime - start) / t.sampleRate
}

func (t *timing) clear() {
	t.isTimeSet.Store(false)
	t.startTime.Store(0)
}
