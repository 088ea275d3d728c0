// Package audio captures microphone input for question recording and
// encodes it as WAV for the transcription service.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

var (
	// ErrOverflow signals a transient input-buffer overflow. The capture
	// loop skips the affected chunk and keeps recording.
	ErrOverflow = errors.New("input buffer overflow")
	// ErrEmptyCapture is returned when recording finished without any audio.
	ErrEmptyCapture = errors.New("no audio captured")
)

// Device opens input streams on the audio hardware. Exactly one stream may
// be open at a time; the capture workflow's in-flight guard enforces that.
type Device interface {
	Open(sampleRate, chunkFrames int) (Stream, error)
}

// Stream delivers PCM chunks from an open input stream.
type Stream interface {
	// ReadChunk blocks until a chunk of 16-bit mono samples is available.
	// It returns ErrOverflow for a recoverable buffer overflow.
	ReadChunk() ([]int16, error)
	// Close releases the stream and must unblock a ReadChunk still pending
	// on another goroutine; the recorder relies on that to cancel a capture
	// whose input has stalled.
	Close() error
}

// Recorder captures bounded stretches of audio from a device.
type Recorder struct {
	dev         Device
	sampleRate  int
	chunkFrames int
	maxDuration time.Duration
}

// NewRecorder creates a recorder. maxDuration bounds each capture.
func NewRecorder(dev Device, sampleRate, chunkFrames int, maxDuration time.Duration) *Recorder {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if chunkFrames <= 0 {
		chunkFrames = 2048
	}
	if maxDuration <= 0 {
		maxDuration = 10 * time.Second
	}
	return &Recorder{dev: dev, sampleRate: sampleRate, chunkFrames: chunkFrames, maxDuration: maxDuration}
}

// SampleRate returns the configured capture rate.
func (r *Recorder) SampleRate() int { return r.sampleRate }

// Record captures up to maxDuration of wall-clock audio, or less when ctx is
// cancelled. Reads run on their own goroutine so a stalled stream cannot
// wedge the capture; on cancellation or timeout the stream is closed, which
// unblocks any pending read. Overflowed chunks are skipped; any other read
// error ends the capture with whatever was collected so far. The stream is
// closed on every path. A capture that collected nothing returns
// ErrEmptyCapture.
func (r *Recorder) Record(ctx context.Context) ([]int16, error) {
	stream, err := r.dev.Open(r.sampleRate, r.chunkFrames)
	if err != nil {
		return nil, fmt.Errorf("open audio input: %w", err)
	}

	type readResult struct {
		chunk []int16
		err   error
	}
	results := make(chan readResult)
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			chunk, err := stream.ReadChunk()
			select {
			case results <- readResult{chunk, err}:
				if err != nil && !errors.Is(err, ErrOverflow) {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	timer := time.NewTimer(r.maxDuration)
	defer timer.Stop()

	var pcm []int16
collect:
	for {
		if ctx.Err() != nil {
			break collect
		}
		select {
		case <-ctx.Done():
			break collect
		case <-timer.C:
			break collect
		case res := <-results:
			if res.err != nil {
				if errors.Is(res.err, ErrOverflow) {
					log.Printf("audio buffer overflow, continuing recording")
					continue
				}
				log.Printf("audio read error: %v", res.err)
				break collect
			}
			pcm = append(pcm, res.chunk...)
		}
	}

	close(stop)
	// Closing the stream unblocks a read still pending in the goroutine.
	if cerr := stream.Close(); cerr != nil {
		log.Printf("closing audio stream: %v", cerr)
	}
	<-readerDone

	if len(pcm) == 0 {
		return nil, ErrEmptyCapture
	}
	return pcm, nil
}
