package ringbuffer

import (
	"math/rand"
	"testing"
)

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	cases := []struct {
		requested int
		wantCap   int
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{100, 128},
		{1024, 1024},
		{1025, 2048},
	}
	for _, c := range cases {
		rb, err := New(c.requested)
		if err != nil {
			t.Fatalf("New(%d) error = %v", c.requested, err)
		}
		if rb.Cap() != c.wantCap {
			t.Errorf("New(%d).Cap() = %d, want %d", c.requested, rb.Cap(), c.wantCap)
		}
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	rb, err := New(16)
	if err != nil {
		t.Fatal(err)
	}

	src := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	n := rb.WriteBytes(src)
	if n != len(src) {
		t.Fatalf("WriteBytes() = %d, want %d", n, len(src))
	}

	p1, p2 := rb.GetReadRegions(len(src))
	got := append(append([]byte{}, p1...), p2...)
	if len(got) != len(src) {
		t.Fatalf("GetReadRegions returned %d bytes, want %d", len(got), len(src))
	}
	for i := range src {
		if got[i] != src[i] {
			t.Errorf("byte %d = %d, want %d", i, got[i], src[i])
		}
	}
	rb.AdvanceReadIndex(len(got))

	if avail := rb.ReadAvailable(); avail != 0 {
		t.Errorf("ReadAvailable() = %d after full read, want 0", avail)
	}
}

func TestGetReadRegionsSplitsAcrossWrap(t *testing.T) {
	rb, err := New(8)
	if err != nil {
		t.Fatal(err)
	}

	// Push the write/read cursors close to the end of the buffer so the
	// next write wraps around.
	rb.AdvanceWriteIndex(6)
	rb.AdvanceReadIndex(6)

	src := []byte{1, 2, 3, 4}
	if n := rb.WriteBytes(src); n != 4 {
		t.Fatalf("WriteBytes() = %d, want 4", n)
	}

	p1, p2 := rb.GetReadRegions(4)
	if len(p1)+len(p2) != 4 {
		t.Fatalf("expected 4 bytes total across both regions, got %d+%d", len(p1), len(p2))
	}
	if len(p2) == 0 {
		t.Fatalf("expected the read to wrap and split across two regions")
	}
	got := append(append([]byte{}, p1...), p2...)
	for i := range src {
		if got[i] != src[i] {
			t.Errorf("byte %d = %d, want %d", i, got[i], src[i])
		}
	}
}

func TestWriteBytesShortWriteOnOverflow(t *testing.T) {
	rb, err := New(4)
	if err != nil {
		t.Fatal(err)
	}

	n := rb.WriteBytes([]byte{1, 2, 3, 4, 5, 6})
	if n != 4 {
		t.Errorf("WriteBytes() = %d, want short write of 4 (overflow)", n)
	}
}

func TestPreAdvanceOffsetsWriteAheadOfRead(t *testing.T) {
	rb, err := New(1024)
	if err != nil {
		t.Fatal(err)
	}
	rb.PreAdvance()

	want := rb.Cap() / 4
	if avail := rb.ReadAvailable(); avail != want {
		t.Errorf("ReadAvailable() after PreAdvance = %d, want %d", avail, want)
	}
}

func TestFlushResetsIndices(t *testing.T) {
	rb, err := New(64)
	if err != nil {
		t.Fatal(err)
	}
	rb.WriteBytes(make([]byte, 32))
	rb.Flush()

	if avail := rb.ReadAvailable(); avail != 0 {
		t.Errorf("ReadAvailable() after Flush = %d, want 0", avail)
	}
	if avail := rb.WriteAvailable(); avail != rb.Cap() {
		t.Errorf("WriteAvailable() after Flush = %d, want %d", avail, rb.Cap())
	}
}

// TestSPSCArbitraryRegionSizes exercises property #3 from the spec: for any
// SPSC sequence of writes and reads with arbitrary region sizes, total
// bytes read equals total bytes written (modulo capacity never exceeded by
// construction, since writes stop when the buffer is full) and ordering is
// preserved.
func TestSPSCArbitraryRegionSizes(t *testing.T) {
	rb, err := New(256)
	if err != nil {
		t.Fatal(err)
	}

	rnd := rand.New(rand.NewSource(42))
	var produced, consumed []byte
	var nextByte byte

	for round := 0; round < 500; round++ {
		// Producer: write a random-size chunk (bounded so it never needs to
		// exceed available space in one call; short writes are allowed and
		// accounted for by only expecting the bytes actually written).
		chunk := make([]byte, 1+rnd.Intn(40))
		for i := range chunk {
			chunk[i] = nextByte
			nextByte++
		}
		n := rb.WriteBytes(chunk)
		produced = append(produced, chunk[:n]...)
		if n < len(chunk) {
			// Overflowed: roll back the bytes we counted as not written.
			nextByte -= byte(len(chunk) - n)
		}

		// Consumer: read a random-size region.
		want := 1 + rnd.Intn(40)
		p1, p2 := rb.GetReadRegions(want)
		got := append(append([]byte{}, p1...), p2...)
		consumed = append(consumed, got...)
		rb.AdvanceReadIndex(len(got))
	}

	// Drain anything left.
	for {
		p1, p2 := rb.GetReadRegions(rb.Cap())
		if len(p1)+len(p2) == 0 {
			break
		}
		got := append(append([]byte{}, p1...), p2...)
		consumed = append(consumed, got...)
		rb.AdvanceReadIndex(len(got))
	}

	if len(consumed) != len(produced) {
		t.Fatalf("consumed %d bytes, want %d", len(consumed), len(produced))
	}
	for i := range produced {
		if consumed[i] != produced[i] {
			t.Fatalf("byte %d = %d, want %d (ordering violated)", i, consumed[i], produced[i])
		}
	}
}
