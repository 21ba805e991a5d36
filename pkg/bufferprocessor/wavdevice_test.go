package bufferprocessor

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
)

func TestWavFileSinkThenSourceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.wav")

	sink, err := CreateWavFileSink(path, 48000, 2)
	if err != nil {
		t.Fatalf("CreateWavFileSink: %v", err)
	}

	want := []float32{0, 0.5, -0.5, 0.25, -0.25, 1, -1, 0}
	if err := sink.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	source, err := OpenWavFileSource(path)
	if err != nil {
		t.Fatalf("OpenWavFileSource: %v", err)
	}

	channels, sampleRate := source.Format()
	if channels != 2 {
		t.Errorf("channels = %d, want 2", channels)
	}
	if sampleRate != 48000 {
		t.Errorf("sampleRate = %v, want 48000", sampleRate)
	}

	got := make([]float32, len(want))
	n, err := source.Read(got)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("Read: %v", err)
	}
	if n != len(want) {
		t.Fatalf("Read returned %d samples, want %d", n, len(want))
	}

	const tolerance = float32(1.0 / 32768)
	for i := range want {
		diff := got[i] - want[i]
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			t.Errorf("sample %d = %v, want %v (16-bit quantization)", i, got[i], want[i])
		}
	}
}

func TestWavFileSourceReadReturnsEOFAtEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.wav")
	sink, err := CreateWavFileSink(path, 44100, 1)
	if err != nil {
		t.Fatalf("CreateWavFileSink: %v", err)
	}
	if err := sink.Write([]float32{0.1, 0.2}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	source, err := OpenWavFileSource(path)
	if err != nil {
		t.Fatalf("OpenWavFileSource: %v", err)
	}

	buf := make([]float32, 2)
	if _, err := source.Read(buf); err != nil {
		t.Fatalf("first Read: %v", err)
	}
	if _, err := source.Read(buf); !errors.Is(err, io.EOF) {
		t.Fatalf("second Read err = %v, want io.EOF", err)
	}

	source.Rewind()
	if _, err := source.Read(buf); err != nil {
		t.Fatalf("Read after Rewind: %v", err)
	}
}
