// Package resample wraps github.com/oov/audio/resampler as the sample-rate
// converter collaborator described in §4.3 of the runtime spec (component
// C3): a pull adapter fed from the inter-callback ring buffer (C1). The
// converter itself (oov/audio/resampler) is a push-style, per-channel
// incremental resampler; Converter adds the pull protocol and the
// planar/interleaved bookkeeping around it.
package resample

import "github.com/oov/audio/resampler"

// Status reports whether a pull satisfied the request or ran dry.
type Status int

const (
	OK Status = iota
	Empty
)

// Supplier hands the converter interleaved float32 source samples drawn
// from the ring buffer (via RingBuffer.GetReadRegions in the caller). It
// must never block. An empty return with Status == Empty means the ring
// is drained; the converter zero-fills the remainder of the destination
// and the caller flags an input underflow.
type Supplier func(requestedFrames int) (data []float32, status Status)

// Quality mirrors the oov/audio/resampler quality scale (0-10, higher is
// better/slower), which §6's 3-bit stream-info quality field is mapped
// onto by pkg/hostapi.
type Quality int

const (
	QualityMin    Quality = 0
	QualityLow    Quality = 3
	QualityMedium Quality = 5
	QualityHigh   Quality = 8
	QualityMax    Quality = 10
)

// Converter is a pull-model sample-rate converter for one stream endpoint.
type Converter struct {
	channels          int
	quality           Quality
	fromRate, toRate  int

	per []*resampler.Resampler // one stateful resampler per channel

	// Pre-allocated scratch, sized at construction so Pull never
	// allocates. planarIn/planarOut are per-channel; interleaved holds the
	// deinterleaved-then-reinterleaved bridge buffers.
	planarIn    [][]float32
	planarOut   [][]float32
	interleaved []float32
}

// NewConverter builds a converter for one endpoint with the given channel
// count, sample-rate conversion, quality, and a bound on frames handled per
// Pull call (used to size scratch buffers once).
func NewConverter(channels int, fromRate, toRate float64, quality Quality, maxFramesPerPull int) *Converter {
	c := &Converter{
		channels: channels,
		quality:  quality,
		fromRate: int(fromRate),
		toRate:   int(toRate),
		per:      make([]*resampler.Resampler, channels),
	}
	for ch := range c.per {
		c.per[ch] = resampler.New(1, int(fromRate), int(toRate), int(quality))
	}

	scratchFrames := maxFramesPerPull * 4
	if scratchFrames < 64 {
		scratchFrames = 64
	}
	c.planarIn = make([][]float32, channels)
	c.planarOut = make([][]float32, channels)
	for ch := range c.planarIn {
		c.planarIn[ch] = make([]float32, scratchFrames)
		c.planarOut[ch] = make([]float32, scratchFrames)
	}
	c.interleaved = make([]float32, scratchFrames*channels)
	return c
}

// Reset discards any buffered resampler state; Stream.Start calls it before
// the unit starts.
func (c *Converter) Reset() {
	for ch := range c.per {
		c.per[ch] = resampler.New(1, c.fromRate, c.toRate, int(c.quality))
	}
}

// Pull fills dst (interleaved, frames*channels float32 samples) by
// deinterleaving source chunks obtained from supplier and running them
// through the per-channel resampler. If the supplier runs dry before dst is
// full, the remaining tail of dst is zero-filled and Status is Empty.
func (c *Converter) Pull(supplier Supplier, dst []float32, frames int) Status {
	need := frames * c.channels
	if need > len(dst) {
		need = len(dst)
	}
	filled := 0
	status := OK

	for filled < need {
		src, st := supplier(frames)
		if len(src) == 0 {
			if st == Empty {
				status = Empty
			}
			break
		}

		srcFrames := len(src) / c.channels
		for ch := 0; ch < c.channels; ch++ {
			in := c.planarIn[ch][:srcFrames]
			for i := 0; i < srcFrames; i++ {
				in[i] = src[i*c.channels+ch]
			}
		}

		outFrames := (need - filled) / c.channels
		if outFrames > len(c.planarOut[0]) {
			outFrames = len(c.planarOut[0])
		}

		written := 0
		for ch := 0; ch < c.channels; ch++ {
			_, w := c.per[ch].ProcessFloat32(0, c.planarIn[ch][:srcFrames], c.planarOut[ch][:outFrames])
			written = w
		}

		for i := 0; i < written; i++ {
			for ch := 0; ch < c.channels; ch++ {
				dst[filled+i*c.channels+ch] = c.planarOut[ch][i]
			}
		}
		filled += written * c.channels

		if st == Empty {
			status = Empty
			break
		}
	}

	for i := filled; i < need; i++ {
		dst[i] = 0
	}
	return status
}
