// Package detect holds the frame/detection types and the two Detector
// implementations: the in-process ONNX model (onnx.go) and the streaming RPC
// client for a cloud detector (remote.go).
package detect

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"time"
)

var (
	// ErrNotReady means the detector has no usable connection or model.
	ErrNotReady = errors.New("detector not ready")
	// ErrTimeout means no result arrived within the per-frame deadline.
	ErrTimeout = errors.New("detection timed out")
	// ErrDrained means the pending request was dropped by a queue clear or
	// stream reset before a result arrived.
	ErrDrained = errors.New("detection drained")
	// ErrStopped means the detector was stopped.
	ErrStopped = errors.New("detector stopped")
)

// ClassUnknown marks a detection whose class name could not be mapped to a
// local class id.
const ClassUnknown = -1

// Frame is one JPEG image read off the camera stream. Image is the decoded
// pixel buffer; it may be nil, in which case DecodeImage fills it lazily.
type Frame struct {
	ID         uint64
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time

	img image.Image
}

// DecodeImage returns the decoded pixels, decoding the JPEG at most once.
func (f *Frame) DecodeImage() (image.Image, error) {
	if f.img != nil {
		return f.img, nil
	}
	img, err := jpeg.Decode(bytes.NewReader(f.JPEG))
	if err != nil {
		return nil, err
	}
	f.img = img
	if f.Width == 0 {
		b := img.Bounds()
		f.Width = b.Dx()
		f.Height = b.Dy()
	}
	return img, nil
}

// SetImage attaches an already-decoded pixel buffer so detectors skip the
// decode.
func (f *Frame) SetImage(img image.Image) { f.img = img }

// Detection is a single object hypothesis. Coordinates are pixels in the
// processed frame; the bbox always lies inside it.
type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
}

// Area returns the bbox area in square pixels.
func (d Detection) Area() float64 {
	w := d.X2 - d.X1
	h := d.Y2 - d.Y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// DetectionResult pairs detections with the frame that produced them.
type DetectionResult struct {
	FrameID    uint64      `json:"frame_id"`
	Detections []Detection `json:"detections"`
}

// Detector maps a frame to a detection result. Implementations are called
// from a single processing goroutine; the Router enforces deadlines and
// handles fallback.
type Detector interface {
	Detect(ctx context.Context, frame *Frame) (*DetectionResult, error)
	Ready() bool
	Stop()
}

// clamp bounds a bbox coordinate into [0, limit].
func clamp(v, limit float64) float64 {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// ClampToFrame forces the detection bbox inside a w by h frame.
func ClampToFrame(d *Detection, w, h int) {
	d.X1 = clamp(d.X1, float64(w))
	d.X2 = clamp(d.X2, float64(w))
	d.Y1 = clamp(d.Y1, float64(h))
	d.Y2 = clamp(d.Y2, float64(h))
}
