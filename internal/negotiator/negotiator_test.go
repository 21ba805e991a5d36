package negotiator

import "testing"

func TestChooseFramesPerBufferUnspecifiedWithinRange(t *testing.T) {
	// S7: suggestedLatency 5ms @ 48kHz -> target = 48000*0.005/2 = 120
	got, err := ChooseFramesPerBuffer(Unspecified, 0.005, 48000, FrameRange{Min: 32, Max: 1024})
	if err != nil {
		t.Fatal(err)
	}
	if got < 64 || got > 1024 {
		t.Errorf("ChooseFramesPerBuffer() = %d, want in [64, 1024]", got)
	}
	if got != 120 {
		t.Errorf("ChooseFramesPerBuffer() = %d, want 120", got)
	}
}

func TestChooseFramesPerBufferFloorsSmallTargetAgainstMinimum(t *testing.T) {
	// target = max(64, 0.0001*8000/2) = 64, but device minimum is 96.
	got, err := ChooseFramesPerBuffer(Unspecified, 0.0001, 8000, FrameRange{Min: 96, Max: 4096})
	if err != nil {
		t.Fatal(err)
	}
	if got != 96 {
		t.Errorf("ChooseFramesPerBuffer() = %d, want 96 (floored to device minimum)", got)
	}
}

func TestChooseFramesPerBufferClampsLargeTargetAgainst1024(t *testing.T) {
	// target = 48000*1.0/2 = 24000, way above 1024 and the device max.
	got, err := ChooseFramesPerBuffer(Unspecified, 1.0, 48000, FrameRange{Min: 32, Max: 8192})
	if err != nil {
		t.Fatal(err)
	}
	if got != 1024 {
		t.Errorf("ChooseFramesPerBuffer() = %d, want 1024", got)
	}
}

func TestChooseFramesPerBufferClampsLargeTargetAgainstDeviceMax(t *testing.T) {
	got, err := ChooseFramesPerBuffer(Unspecified, 1.0, 48000, FrameRange{Min: 32, Max: 512})
	if err != nil {
		t.Fatal(err)
	}
	if got != 512 {
		t.Errorf("ChooseFramesPerBuffer() = %d, want 512 (device max)", got)
	}
}

func TestChooseFramesPerBufferRequestedValueIsClamped(t *testing.T) {
	got, err := ChooseFramesPerBuffer(5000, 0.01, 48000, FrameRange{Min: 64, Max: 2048})
	if err != nil {
		t.Fatal(err)
	}
	if got != 2048 {
		t.Errorf("ChooseFramesPerBuffer() = %d, want 2048", got)
	}
}

func TestChooseFramesPerBufferInvalidRange(t *testing.T) {
	_, err := ChooseFramesPerBuffer(Unspecified, 0.01, 48000, FrameRange{Min: 100, Max: 10})
	if err != ErrInvalidRange {
		t.Errorf("err = %v, want ErrInvalidRange", err)
	}
}

func TestChooseSampleRateLeavesDeviceAloneByDefault(t *testing.T) {
	got, err := ChooseSampleRate(48000, 44100, []float64{44100, 48000}, SampleRateChoice{})
	if err != nil {
		t.Fatal(err)
	}
	if got != 44100 {
		t.Errorf("ChooseSampleRate() = %v, want 44100 (device left as-is)", got)
	}
}

func TestChooseSampleRateSelectsClosest(t *testing.T) {
	got, err := ChooseSampleRate(45000, 44100, []float64{44100, 48000, 96000}, SampleRateChoice{ChangeDeviceParameters: true})
	if err != nil {
		t.Fatal(err)
	}
	if got != 44100 {
		t.Errorf("ChooseSampleRate() = %v, want 44100 (closest to 45000)", got)
	}
}

func TestChooseSampleRateFailsIfConversionRequiredAndNoExactMatch(t *testing.T) {
	_, err := ChooseSampleRate(45000, 44100, []float64{44100, 48000}, SampleRateChoice{
		ChangeDeviceParameters:   true,
		FailIfConversionRequired: true,
	})
	if err != ErrConversionRequired {
		t.Errorf("err = %v, want ErrConversionRequired", err)
	}
}

func TestChooseSampleRateExactMatchSatisfiesFailIfConversionRequired(t *testing.T) {
	got, err := ChooseSampleRate(48000, 44100, []float64{44100, 48000}, SampleRateChoice{
		ChangeDeviceParameters:   true,
		FailIfConversionRequired: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != 48000 {
		t.Errorf("ChooseSampleRate() = %v, want 48000", got)
	}
}

func TestNeedsSampleRateConverter(t *testing.T) {
	if NeedsSampleRateConverter(44100, 44100) {
		t.Error("NeedsSampleRateConverter(44100, 44100) = true, want false")
	}
	if !NeedsSampleRateConverter(44100, 48000) {
		t.Error("NeedsSampleRateConverter(44100, 48000) = false, want true")
	}
}
