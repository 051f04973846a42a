package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrCameraState = errors.New("camera action not allowed in current state")
	ErrConfirming  = errors.New("face confirmation already in progress")
)

type CaptureState int

const (
	CaptureInitializing CaptureState = iota
	CaptureStreaming
	CaptureCaptured
	CaptureCameraError
)

func (s CaptureState) String() string {
	switch s {
	case CaptureInitializing:
		return "initializing"
	case CaptureStreaming:
		return "streaming"
	case CaptureCaptured:
		return "captured"
	case CaptureCameraError:
		return "camera_error"
	default:
		return "unknown"
	}
}

// Frame is one encoded still read from a device.
type Frame struct {
	MIMEType string
	Data     []byte
}

// Camera hands out exclusive access to the capture device.
type Camera interface {
	Acquire(ctx context.Context) (Device, error)
}

// Device is an acquired camera. Release must be called exactly once.
type Device interface {
	Snapshot(ctx context.Context) (Frame, error)
	Release() error
}

type FaceScanner interface {
	ScanFace(ctx context.Context, image string) (FaceScanResponse, error)
}

// CaptureSession is the face-scan page. The device is held only while
// streaming and is released on capture, back and Close.
type CaptureSession struct {
	camera  Camera
	scanner FaceScanner
	session *Session
	now     func() time.Time

	mu         sync.Mutex
	state      CaptureState
	device     Device
	still      *FaceCapture
	confirming bool
	lastErr    error
}

func NewCaptureSession(camera Camera, scanner FaceScanner, session *Session) *CaptureSession {
	return &CaptureSession{
		camera:  camera,
		scanner: scanner,
		session: session,
		now:     time.Now,
		state:   CaptureInitializing,
	}
}

// Start requests the camera. Denial or absence moves to CaptureCameraError.
func (s *CaptureSession) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != CaptureInitializing {
		return ErrCameraState
	}
	return s.acquireLocked(ctx)
}

// Retry re-attempts camera access after a CameraError.
func (s *CaptureSession) Retry(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != CaptureCameraError {
		return ErrCameraState
	}
	s.state = CaptureInitializing
	return s.acquireLocked(ctx)
}

func (s *CaptureSession) acquireLocked(ctx context.Context) error {
	if s.device != nil {
		s.state = CaptureStreaming
		return nil
	}
	dev, err := s.camera.Acquire(ctx)
	if err != nil {
		s.state = CaptureCameraError
		s.lastErr = err
		return err
	}
	s.device = dev
	s.state = CaptureStreaming
	s.lastErr = nil
	return nil
}

// Capture snapshots the stream into a still and releases the device.
func (s *CaptureSession) Capture(ctx context.Context) (FaceCapture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != CaptureStreaming || s.device == nil {
		return FaceCapture{}, ErrCameraState
	}

	frame, err := s.device.Snapshot(ctx)
	if err != nil {
		s.lastErr = err
		return FaceCapture{}, fmt.Errorf("snapshot: %w", err)
	}
	if len(frame.Data) == 0 {
		s.lastErr = errors.New("empty frame")
		return FaceCapture{}, s.lastErr
	}
	s.releaseLocked()

	mimeType := frame.MIMEType
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	still := FaceCapture{
		Image:      "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(frame.Data),
		MIMEType:   mimeType,
		CapturedAt: s.now(),
	}
	s.still = &still
	s.state = CaptureCaptured
	s.lastErr = nil
	return still, nil
}

// Retake discards the still and asks for the camera again.
func (s *CaptureSession) Retake(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != CaptureCaptured || s.confirming {
		return ErrCameraState
	}
	s.still = nil
	s.state = CaptureInitializing
	s.lastErr = nil
	return s.acquireLocked(ctx)
}

// Confirm sends the still to the face-scan endpoint. On success the still
// is left in the handoff channel and the session returns to registration.
// On failure the still is kept so Confirm can be retried.
func (s *CaptureSession) Confirm(ctx context.Context) (FaceScanResponse, error) {
	s.mu.Lock()
	if s.state != CaptureCaptured || s.still == nil {
		s.mu.Unlock()
		return FaceScanResponse{}, ErrCameraState
	}
	if s.confirming {
		s.mu.Unlock()
		return FaceScanResponse{}, ErrConfirming
	}
	s.confirming = true
	still := *s.still
	s.mu.Unlock()

	res, err := s.scanner.ScanFace(ctx, still.Image)

	s.mu.Lock()
	s.confirming = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		return res, err
	}
	s.lastErr = nil
	s.mu.Unlock()

	s.session.Handoff.Put(FaceCaptureKey, still)
	s.session.Navigate(NextRoute(RouteFaceScan))
	return res, nil
}

// Back releases the device and returns to registration without scanning.
func (s *CaptureSession) Back() {
	s.Close()
	s.session.Navigate(BackRoute(RouteFaceScan))
}

// Close releases the device if it is still held. Safe to call repeatedly.
func (s *CaptureSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

func (s *CaptureSession) releaseLocked() {
	if s.device == nil {
		return
	}
	_ = s.device.Release()
	s.device = nil
}

func (s *CaptureSession) State() CaptureState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *CaptureSession) Still() (FaceCapture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.still == nil {
		return FaceCapture{}, false
	}
	return *s.still, true
}

func (s *CaptureSession) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
