package device

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"syscall"

	"classtrack/internal/audio"
)

// ErrAudioBusy is returned when the microphone is already held.
var ErrAudioBusy = errors.New("audio device already in use")

// PCMStreamDevice reads signed 16-bit little-endian mono PCM from a file or
// FIFO, typically fed by a capture process
// (arecord -f S16_LE -c 1 -r 44100 > fifo).
type PCMStreamDevice struct {
	Path string
	held atomic.Bool
}

// NewPCMStreamDevice creates a device over the given PCM path.
func NewPCMStreamDevice(path string) *PCMStreamDevice {
	return &PCMStreamDevice{Path: path}
}

// Open acquires the device and opens the PCM stream. The nonblocking open
// keeps a writerless FIFO from hanging here and registers the file with the
// runtime poller, so Close interrupts a read still waiting for samples.
func (d *PCMStreamDevice) Open(sampleRate, chunkFrames int) (audio.Stream, error) {
	if !d.held.CompareAndSwap(false, true) {
		return nil, ErrAudioBusy
	}
	f, err := os.OpenFile(d.Path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		d.held.Store(false)
		return nil, fmt.Errorf("open pcm stream: %w", err)
	}
	return &pcmStream{dev: d, f: f, chunkFrames: chunkFrames}, nil
}

type pcmStream struct {
	dev         *PCMStreamDevice
	f           *os.File
	chunkFrames int
}

// ReadChunk reads one chunk of samples. A short read at end of stream
// returns what was read; a zero-length read reports an error so the capture
// loop stops instead of spinning.
func (s *pcmStream) ReadChunk() ([]int16, error) {
	buf := make([]byte, s.chunkFrames*2)
	n, err := io.ReadFull(s.f, buf)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return nil, fmt.Errorf("pcm read: %w", err)
	}
	samples := make([]int16, n/2)
	for i := range samples {
		samples[i] = int16(buf[2*i]) | int16(buf[2*i+1])<<8
	}
	return samples, nil
}

func (s *pcmStream) Close() error {
	err := s.f.Close()
	s.dev.held.Store(false)
	return err
}

// StubAudio produces silence; used with the speech client's skip mode so
// the capture workflow can run without a microphone.
type StubAudio struct {
	held atomic.Bool
}

// Open acquires the stub.
func (d *StubAudio) Open(sampleRate, chunkFrames int) (audio.Stream, error) {
	if !d.held.CompareAndSwap(false, true) {
		return nil, ErrAudioBusy
	}
	return &stubAudioStream{dev: d, chunkFrames: chunkFrames}, nil
}

type stubAudioStream struct {
	dev         *StubAudio
	chunkFrames int
}

func (s *stubAudioStream) ReadChunk() ([]int16, error) {
	return make([]int16, s.chunkFrames), nil
}

func (s *stubAudioStream) Close() error {
	s.dev.held.Store(false)
	return nil
}
