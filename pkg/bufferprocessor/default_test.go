package bufferprocessor

import (
	"testing"
)

func TestDefaultProcessorFloat32PassThrough(t *testing.T) {
	p := NewDefaultProcessor()
	var gotFrames int
	cb := func(output, input any, frameCount int, timeInfo TimeInfo, flags XrunFlags, userData any) CallbackResult {
		in := input.([]float32)
		out := output.([]float32)
		copy(out, in)
		gotFrames = frameCount
		return Continue
	}

	err := p.Initialize(
		1, FormatFloat32, FormatFloat32,
		1, FormatFloat32, FormatFloat32,
		48000, 4, 4, HostBufferBounded, cb, nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	in := []float32{0.1, 0.2, 0.3, 0.4}
	out := make([]float32, 4)

	p.BeginBufferProcessing(TimeInfo{}, 0)
	p.SetInputFrameCount(4)
	p.SetInterleavedInputChannels(0, in, 1)
	p.SetOutputFrameCount(4)
	p.SetInterleavedOutputChannels(0, out, 1)
	framesProcessed, result := p.EndBufferProcessing()

	if result != Continue {
		t.Errorf("result = %v, want Continue", result)
	}
	if framesProcessed != 4 {
		t.Errorf("framesProcessed = %d, want 4", framesProcessed)
	}
	if gotFrames != 4 {
		t.Errorf("callback saw frameCount = %d, want 4", gotFrames)
	}
	for i, v := range in {
		if out[i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out[i], v)
		}
	}
}

func TestDefaultProcessorInt16Conversion(t *testing.T) {
	p := NewDefaultProcessor()
	cb := func(output, input any, frameCount int, timeInfo TimeInfo, flags XrunFlags, userData any) CallbackResult {
		in := input.([]int16)
		out := output.([]int16)
		copy(out, in)
		return Continue
	}

	if err := p.Initialize(1, FormatInt16, FormatFloat32, 1, FormatInt16, FormatFloat32, 48000, 2, 2, HostBufferBounded, cb, nil); err != nil {
		t.Fatal(err)
	}

	in := []float32{0.5, -0.5}
	out := make([]float32, 2)

	p.BeginBufferProcessing(TimeInfo{}, 0)
	p.SetInputFrameCount(2)
	p.SetInterleavedInputChannels(0, in, 1)
	p.SetOutputFrameCount(2)
	p.SetInterleavedOutputChannels(0, out, 1)
	_, result := p.EndBufferProcessing()

	if result != Continue {
		t.Fatalf("result = %v, want Continue", result)
	}
	if out[0] < 0.49 || out[0] > 0.51 {
		t.Errorf("out[0] = %v, want ~0.5 after int16 round trip", out[0])
	}
	if out[1] > -0.49 || out[1] < -0.51 {
		t.Errorf("out[1] = %v, want ~-0.5 after int16 round trip", out[1])
	}
}

func TestDefaultProcessorInt24Conversion(t *testing.T) {
	p := NewDefaultProcessor()
	cb := func(output, input any, frameCount int, timeInfo TimeInfo, flags XrunFlags, userData any) CallbackResult {
		in := input.([]byte)
		out := output.([]byte)
		copy(out, in)
		return Continue
	}

	if err := p.Initialize(1, FormatInt24, FormatFloat32, 1, FormatInt24, FormatFloat32, 48000, 2, 2, HostBufferBounded, cb, nil); err != nil {
		t.Fatal(err)
	}

	in := []float32{0.5, -0.5}
	out := make([]float32, 2)

	p.BeginBufferProcessing(TimeInfo{}, 0)
	p.SetInputFrameCount(2)
	p.SetInterleavedInputChannels(0, in, 1)
	p.SetOutputFrameCount(2)
	p.SetInterleavedOutputChannels(0, out, 1)
	_, result := p.EndBufferProcessing()

	if result != Continue {
		t.Fatalf("result = %v, want Continue", result)
	}
	if out[0] < 0.49 || out[0] > 0.51 {
		t.Errorf("out[0] = %v, want ~0.5 after int24 round trip", out[0])
	}
	if out[1] > -0.49 || out[1] < -0.51 {
		t.Errorf("out[1] = %v, want ~-0.5 after int24 round trip", out[1])
	}
}

func TestInt24PacksLittleEndianAndSignExtends(t *testing.T) {
	buf := make([]byte, 3)
	putInt24(buf, -1)
	if got := getInt24(buf); got != -1 {
		t.Errorf("getInt24(putInt24(-1)) = %d, want -1", got)
	}

	putInt24(buf, int24Max)
	if got := getInt24(buf); got != int24Max {
		t.Errorf("getInt24(putInt24(int24Max)) = %d, want %d", got, int24Max)
	}

	putInt24(buf, -int24Max-1)
	if got := getInt24(buf); got != -int24Max-1 {
		t.Errorf("getInt24(putInt24(-int24Max-1)) = %d, want %d", got, -int24Max-1)
	}
}

func TestDefaultProcessorEndBufferProcessingDoesNotAllocate(t *testing.T) {
	p := NewDefaultProcessor()
	cb := func(output, input any, frameCount int, timeInfo TimeInfo, flags XrunFlags, userData any) CallbackResult {
		copy(output.([]float32), input.([]float32))
		return Continue
	}
	if err := p.Initialize(2, FormatFloat32, FormatFloat32, 2, FormatFloat32, FormatFloat32, 48000, 256, 256, HostBufferBounded, cb, nil); err != nil {
		t.Fatal(err)
	}

	in := make([]float32, 256*2)
	out := make([]float32, 256*2)

	allocs := testing.AllocsPerRun(50, func() {
		p.BeginBufferProcessing(TimeInfo{}, 0)
		p.SetInputFrameCount(256)
		p.SetInterleavedInputChannels(0, in, 2)
		p.SetOutputFrameCount(256)
		p.SetInterleavedOutputChannels(0, out, 2)
		p.EndBufferProcessing()
	})
	if allocs != 0 {
		t.Errorf("EndBufferProcessing() allocated %v times per run, want 0", allocs)
	}
}

func TestDefaultProcessorRejectsCustomFormat(t *testing.T) {
	p := NewDefaultProcessor()
	err := p.Initialize(1, SampleFormat(99), FormatFloat32, 1, FormatFloat32, FormatFloat32, 48000, 4, 4, HostBufferBounded, nil, nil)
	if err != ErrCustomFormatUnsupported {
		t.Errorf("err = %v, want ErrCustomFormatUnsupported", err)
	}
}
