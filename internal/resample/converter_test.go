package resample

import "testing"

func TestPullIdentityRateNoOp(t *testing.T) {
	c := NewConverter(1, 48000, 48000, QualityMax, 64)

	source := make([]float32, 64)
	for i := range source {
		source[i] = float32(i) / 64
	}
	calls := 0
	supplier := func(requested int) ([]float32, Status) {
		calls++
		if calls > 1 {
			return nil, Empty
		}
		return source, OK
	}

	dst := make([]float32, 64)
	status := c.Pull(supplier, dst, 64)
	if status != OK {
		t.Errorf("status = %v, want OK", status)
	}
}

func TestPullEmptySupplierZeroFillsTail(t *testing.T) {
	c := NewConverter(2, 44100, 48000, QualityLow, 32)

	supplier := func(requested int) ([]float32, Status) {
		return nil, Empty
	}

	dst := make([]float32, 32*2)
	for i := range dst {
		dst[i] = 1 // poison so we can detect zero-fill
	}
	status := c.Pull(supplier, dst, 32)
	if status != Empty {
		t.Errorf("status = %v, want Empty", status)
	}
	for i, v := range dst {
		if v != 0 {
			t.Fatalf("dst[%d] = %v, want 0 (zero-filled after underflow)", i, v)
		}
	}
}

func TestResetRebuildsState(t *testing.T) {
	c := NewConverter(1, 44100, 48000, QualityMedium, 64)
	c.Reset() // must not panic and must produce a usable converter afterward

	supplier := func(requested int) ([]float32, Status) {
		return make([]float32, requested), OK
	}
	dst := make([]float32, 64)
	c.Pull(supplier, dst, 64)
}
