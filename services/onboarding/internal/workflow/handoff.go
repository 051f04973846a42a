package workflow

import (
	"sync"
	"time"
)

// FaceCaptureKey is where the face-scan page leaves the confirmed still
// for the registration page.
const FaceCaptureKey = "capturedFaceImage"

// Handoff passes values between steps of one session. Every value is
// delivered at most once.
type Handoff[V any] struct {
	mu     sync.Mutex
	values map[string]V
}

func NewHandoff[V any]() *Handoff[V] {
	return &Handoff[V]{values: map[string]V{}}
}

// Put stores v under key, replacing any value not yet taken.
func (h *Handoff[V]) Put(key string, v V) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.values[key] = v
}

// TakeOnce returns and removes the value under key.
func (h *Handoff[V]) TakeOnce(key string) (V, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.values[key]
	if ok {
		delete(h.values, key)
	}
	return v, ok
}

// FaceCapture is a confirmed face still. Image is a data URL.
type FaceCapture struct {
	Image      string
	MIMEType   string
	CapturedAt time.Time
}
