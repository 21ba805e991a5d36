package bufferprocessor

import (
	"errors"
	"io"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WavFileSource is a software stand-in for a capture device: it decodes an
// entire .wav file up front and hands back interleaved float32 samples on
// demand, the same shape a real input callback would deliver. Used by
// this package's tests as a deterministic, hardware-free input and by
// auhalctl's file-playback mode (grounded on the teacher's
// FileAudioInputDevice, which plays a decoded .wav file on a channel).
type WavFileSource struct {
	sampleRate  int
	numChannels int
	samples     []float32
	pos         int
}

// OpenWavFileSource decodes path in full. The returned source owns no open
// file handle past this call; Read never touches the filesystem again.
func OpenWavFileSource(path string) (*WavFileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, errors.New("bufferprocessor: not a valid wav file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, err
	}

	const maxInt16 = float32(math.MaxInt16)
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / maxInt16
	}

	return &WavFileSource{
		sampleRate:  int(decoder.SampleRate),
		numChannels: int(decoder.NumChans),
		samples:     samples,
	}, nil
}

// Format reports the channel count and sample rate the file was encoded at.
func (s *WavFileSource) Format() (numChannels int, sampleRate float64) {
	return s.numChannels, float64(s.sampleRate)
}

// Read copies up to len(dst) interleaved samples starting from the current
// position, advancing it, and returns io.EOF once the file is exhausted —
// matching the io.Reader convention so callers can loop until EOF.
func (s *WavFileSource) Read(dst []float32) (int, error) {
	if s.pos >= len(s.samples) {
		return 0, io.EOF
	}
	n := copy(dst, s.samples[s.pos:])
	s.pos += n
	if n < len(dst) {
		return n, io.EOF
	}
	return n, nil
}

// Rewind resets playback to the beginning of the decoded file, for tests
// that loop a short fixture across many render cycles.
func (s *WavFileSource) Rewind() {
	s.pos = 0
}

// WavFileSink is the capture-side counterpart: it accumulates interleaved
// float32 frames and encodes them to a .wav file on Close, grounded on the
// teacher's FileAudioOutputDevice.
type WavFileSink struct {
	f       *os.File
	encoder *wav.Encoder
	format  *audio.Format
}

// CreateWavFileSink truncates (or creates) path and prepares a 16-bit PCM
// wav encoder at the given format. The file is not finalized until Close.
func CreateWavFileSink(path string, sampleRate, numChannels int) (*WavFileSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	format := &audio.Format{SampleRate: sampleRate, NumChannels: numChannels}
	return &WavFileSink{
		f:       f,
		encoder: wav.NewEncoder(f, sampleRate, 16, numChannels, 1),
		format:  format,
	}, nil
}

// Write encodes one block of interleaved float32 samples as 16-bit PCM.
func (s *WavFileSink) Write(src []float32) error {
	const maxInt16 = float32(math.MaxInt16)
	ints := make([]int, len(src))
	for i, v := range src {
		ints[i] = int(v * maxInt16)
	}
	return s.encoder.Write(&audio.IntBuffer{
		Format:         s.format,
		Data:           ints,
		SourceBitDepth: 16,
	})
}

// Close finalizes the wav header and flushes the underlying file.
func (s *WavFileSink) Close() error {
	if err := s.encoder.Close(); err != nil {
		s.f.Close()
		return err
	}
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}
