// Package device provides the camera and microphone implementations behind
// the session interfaces.
package device

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"classtrack/internal/session"
)

// ErrCameraBusy is returned when Open is called while the device is held.
var ErrCameraBusy = errors.New("camera already in use")

// SnapshotCamera pulls JPEG frames from an IP-camera snapshot URL. At most
// one source may be open at a time.
type SnapshotCamera struct {
	URL  string
	HTTP *http.Client

	held atomic.Bool
}

// NewSnapshotCamera creates a camera for the given snapshot endpoint.
func NewSnapshotCamera(url string) *SnapshotCamera {
	return &SnapshotCamera{
		URL:  url,
		HTTP: &http.Client{Timeout: 5 * time.Second},
	}
}

// Open acquires the camera. It fails when the device is already held or the
// endpoint does not answer.
func (c *SnapshotCamera) Open() (session.FrameSource, error) {
	if !c.held.CompareAndSwap(false, true) {
		return nil, ErrCameraBusy
	}
	resp, err := c.HTTP.Get(c.URL)
	if err != nil {
		c.held.Store(false)
		return nil, fmt.Errorf("camera unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		c.held.Store(false)
		return nil, fmt.Errorf("camera returned %s", resp.Status)
	}
	return &snapshotSource{cam: c}, nil
}

type snapshotSource struct {
	cam *SnapshotCamera
}

// ReadFrame fetches one JPEG frame.
func (s *snapshotSource) ReadFrame() ([]byte, error) {
	resp, err := s.cam.HTTP.Get(s.cam.URL)
	if err != nil {
		return nil, fmt.Errorf("camera read: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("camera returned %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Close releases the camera.
func (s *snapshotSource) Close() error {
	s.cam.held.Store(false)
	return nil
}

// StubCamera serves a fixed frame; used with the vision client's skip mode
// so the pipeline can run without hardware.
type StubCamera struct {
	Frame []byte
	held  atomic.Bool
}

// Open acquires the stub.
func (c *StubCamera) Open() (session.FrameSource, error) {
	if !c.held.CompareAndSwap(false, true) {
		return nil, ErrCameraBusy
	}
	frame := c.Frame
	if len(frame) == 0 {
		frame = []byte{0xff, 0xd8, 0xff, 0xd9} // minimal JPEG
	}
	return &stubSource{cam: c, frame: frame}, nil
}

type stubSource struct {
	cam   *StubCamera
	frame []byte
}

func (s *stubSource) ReadFrame() ([]byte, error) { return s.frame, nil }

func (s *stubSource) Close() error {
	s.cam.held.Store(false)
	return nil
}
