package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/image/draw"

	"github.com/technosupport/guardcar/internal/live"
	"github.com/technosupport/guardcar/internal/metrics"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // UI is served from a different origin on the vehicle LAN
	},
}

// Camera selector values on the video WebSocket.
const (
	CameraLeft     = 0
	CameraRight    = 1
	CameraCombined = 2
)

const splitQuality = 85

// StreamHandler serves the SSE event stream and the WebSocket camera stream.
type StreamHandler struct {
	SSE    *live.SSEHub
	Frames *live.FrameHub

	// MaxWidth, when positive, downscales outgoing frames wider than this
	// many pixels. Zero sends frames at source resolution.
	MaxWidth int
}

// ServeSSE handles GET /api/sse.
func (h *StreamHandler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsubscribe := h.SSE.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, ev.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// ServeVideoWS handles GET /ws/video: binary JPEG frames out, {camera:0|1|2}
// JSON control frames in.
func (h *StreamHandler) ServeVideoWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	metrics.WSClients.Inc()
	defer metrics.WSClients.Dec()

	frames, unsubscribe := h.Frames.Subscribe()
	defer unsubscribe()

	// The control listener owns the read side; closing controlDone ends the
	// write loop.
	selector := make(chan int, 1)
	controlDone := make(chan struct{})
	go func() {
		defer close(controlDone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ctl struct {
				Camera *int `json:"camera"`
			}
			if err := json.Unmarshal(msg, &ctl); err != nil || ctl.Camera == nil {
				log.Printf("[WS] bad control frame: %s", msg)
				continue
			}
			if *ctl.Camera < CameraLeft || *ctl.Camera > CameraCombined {
				log.Printf("[WS] camera selector out of range: %d", *ctl.Camera)
				continue
			}
			select {
			case selector <- *ctl.Camera:
			default:
				// Drop superseded selections; only the latest matters.
				select {
				case <-selector:
				default:
				}
				selector <- *ctl.Camera
			}
		}
	}()

	cameraSel := CameraCombined
	for {
		select {
		case <-controlDone:
			return
		case c := <-selector:
			cameraSel = c
		case frame := <-frames:
			out, err := sliceFrame(frame, cameraSel, h.MaxWidth)
			if err != nil {
				log.Printf("[WS] frame slice: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, out); err != nil {
				return
			}
		}
	}
}

// sliceFrame returns the requested view of a combined dual-camera JPEG: the
// left half, the right half, or the original for the combined view. Halves
// are re-encoded at quality 85. A positive maxWidth additionally downscales
// any view wider than that.
func sliceFrame(frame []byte, cameraSel, maxWidth int) ([]byte, error) {
	if cameraSel == CameraCombined && maxWidth <= 0 {
		return frame, nil
	}

	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	if cameraSel != CameraCombined {
		b := img.Bounds()
		half := b.Dx() / 2

		var region image.Rectangle
		if cameraSel == CameraLeft {
			region = image.Rect(b.Min.X, b.Min.Y, b.Min.X+half, b.Max.Y)
		} else {
			region = image.Rect(b.Min.X+half, b.Min.Y, b.Max.X, b.Max.Y)
		}

		sub, ok := img.(interface {
			SubImage(image.Rectangle) image.Image
		})
		if !ok {
			return nil, fmt.Errorf("image type %T does not slice", img)
		}
		img = sub.SubImage(region)
	}

	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		img = downscale(img, maxWidth)
	} else if cameraSel == CameraCombined {
		// Combined view within the width limit needs no re-encode.
		return frame, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: splitQuality}); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return buf.Bytes(), nil
}

func downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	h := b.Dy() * maxWidth / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
