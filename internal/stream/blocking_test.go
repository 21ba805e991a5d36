package stream

import (
	"testing"
	"time"

	"github.com/colinmarsh/auhalstream/pkg/bufferprocessor"
)

func TestBlockingFacadeWriteThenBridgeFillsOutput(t *testing.T) {
	f := newBlockingFacade(0, 2, 4)

	src := []float32{0.1, 0.2, 0.3, 0.4}
	n, err := f.write(src)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 2 {
		t.Fatalf("write returned %d frames, want 2", n)
	}

	dst := make([]float32, 4)
	result := f.bridge(dst, nil, 2, bufferprocessor.TimeInfo{}, 0, nil)
	if result != bufferprocessor.Continue {
		t.Fatalf("bridge result = %v, want Continue", result)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("dst[%d] = %v, want %v", i, dst[i], src[i])
		}
	}
	if avail := f.writeAvailable(); avail == 0 {
		t.Fatal("writeAvailable should report room after the bridge drained the ring")
	}
}

func TestBlockingFacadeFillOutputZeroFillsShortfall(t *testing.T) {
	f := newBlockingFacade(0, 2, 4)

	if _, err := f.write([]float32{0.5, 0.5}); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst := make([]float32, 6)
	for i := range dst {
		dst[i] = 99
	}
	f.fillOutput(dst)

	if dst[0] != 0.5 || dst[1] != 0.5 {
		t.Fatalf("dst[0:2] = %v, want the queued frame", dst[:2])
	}
	for i := 2; i < len(dst); i++ {
		if dst[i] != 0 {
			t.Fatalf("dst[%d] = %v, want 0 (zero-filled shortfall)", i, dst[i])
		}
	}
}

func TestBlockingFacadeBridgePushesCaptureForRead(t *testing.T) {
	f := newBlockingFacade(2, 0, 4)

	captured := []float32{0.1, 0.2, 0.3, 0.4}
	result := f.bridge(nil, captured, 2, bufferprocessor.TimeInfo{}, 0, nil)
	if result != bufferprocessor.Continue {
		t.Fatalf("bridge result = %v, want Continue", result)
	}

	dst := make([]float32, 4)
	n, err := f.read(dst)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 2 {
		t.Fatalf("read returned %d frames, want 2", n)
	}
	for i := range captured {
		if dst[i] != captured[i] {
			t.Fatalf("dst[%d] = %v, want %v", i, dst[i], captured[i])
		}
	}
}

func TestBlockingFacadeReadBlocksUntilPushInput(t *testing.T) {
	f := newBlockingFacade(2, 0, 4)

	done := make(chan int, 1)
	go func() {
		dst := make([]float32, 2)
		n, err := f.read(dst)
		if err != nil {
			t.Errorf("read: %v", err)
		}
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("read returned before any input was pushed")
	case <-time.After(20 * time.Millisecond):
	}

	f.pushInput([]float32{0.7, 0.8})

	select {
	case n := <-done:
		if n != 1 {
			t.Fatalf("read returned %d frames, want 1", n)
		}
	case <-time.After(time.Second):
		t.Fatal("read never unblocked after pushInput")
	}
}

func TestBlockingFacadeDrainOutputUnblocksOnceRingIsEmpty(t *testing.T) {
	f := newBlockingFacade(0, 2, 4)

	if _, err := f.write([]float32{0.1, 0.2, 0.3, 0.4}); err != nil {
		t.Fatalf("write: %v", err)
	}

	done := make(chan struct{})
	go func() {
		f.drainOutput()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("drainOutput returned before the ring was drained")
	case <-time.After(20 * time.Millisecond):
	}

	dst := make([]float32, 4)
	f.fillOutput(dst)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drainOutput never unblocked after fillOutput emptied the ring")
	}
}

func TestBlockingFacadeWriteBlocksUntilRoomIsFreed(t *testing.T) {
	f := newBlockingFacade(0, 2, 4) // ring holds 32 floats (4*2*4)

	filler := make([]float32, 32)
	if _, err := f.write(filler); err != nil {
		t.Fatalf("fill write: %v", err)
	}
	if avail := f.writeAvailable(); avail != 0 {
		t.Fatalf("writeAvailable = %d, want 0 once the ring is full", avail)
	}

	done := make(chan int, 1)
	go func() {
		n, err := f.write([]float32{1, 2})
		if err != nil {
			t.Errorf("write: %v", err)
		}
		done <- n
	}()

	select {
	case <-done:
		t.Fatal("write returned before any room was freed")
	case <-time.After(20 * time.Millisecond):
	}

	f.fillOutput(make([]float32, 4))

	select {
	case n := <-done:
		if n == 0 {
			t.Fatal("write returned 0 frames after room was freed")
		}
	case <-time.After(time.Second):
		t.Fatal("write never unblocked after fillOutput freed room")
	}
}

func TestBlockingFacadeResetFlushesBothRings(t *testing.T) {
	f := newBlockingFacade(2, 2, 4)

	if _, err := f.write([]float32{0.1, 0.2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.pushInput([]float32{0.3, 0.4})

	f.reset()

	if n := f.readAvailable(); n != 0 {
		t.Fatalf("readAvailable after reset = %d, want 0", n)
	}
	if f.out.ReadAvailable() != 0 {
		t.Fatal("out ring should be empty after reset")
	}
}
