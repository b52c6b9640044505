// camera-sim stands in for the vehicle camera gateway: it serves the TLS
// framed-JPEG video socket with synthetic dual-camera frames and the plain
// HTTP control API with a recording state machine.
package main

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/technosupport/guardcar/internal/selfsign"
)

const (
	camWidth  = 640
	camHeight = 480
	frameRate = 30
	quality   = 90
)

// recorder is the camera's recording state machine behind /start and /stop.
type recorder struct {
	mu        sync.Mutex
	recording bool
	filename  string
	startedAt time.Time
	frames    int
}

func (r *recorder) start() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return "", false
	}
	r.recording = true
	r.startedAt = time.Now()
	r.frames = 0
	r.filename = fmt.Sprintf("segment-%d.mp4", r.startedAt.Unix())
	return r.filename, true
}

func (r *recorder) stop() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return "", false
	}
	r.recording = false
	return r.filename, true
}

func (r *recorder) observeFrame() {
	r.mu.Lock()
	if r.recording {
		r.frames++
	}
	r.mu.Unlock()
}

func (r *recorder) status() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]any{"recording": r.recording}
	if r.recording {
		out["filename"] = r.filename
		out["duration_seconds"] = time.Since(r.startedAt).Seconds()
		out["frames"] = r.frames
	}
	return out
}

func main() {
	videoPort := getEnvInt("VIDEO_PORT", 9000)
	ctrlPort := getEnvInt("CONTROL_PORT", 8080)

	ident, err := selfsign.New("guardcar-camera-sim")
	if err != nil {
		log.Fatalf("[CameraSim] certificate: %v", err)
	}

	rec := &recorder{}
	go serveControl(ctrlPort, rec)
	serveVideo(videoPort, ident, rec)
}

func serveControl(port int, rec *recorder) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /start", func(w http.ResponseWriter, _ *http.Request) {
		filename, ok := rec.start()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "already recording"})
			return
		}
		log.Printf("[CameraSim] recording started: %s", filename)
		writeJSON(w, http.StatusOK, map[string]string{"message": "recording started"})
	})

	mux.HandleFunc("POST /stop", func(w http.ResponseWriter, _ *http.Request) {
		filename, ok := rec.stop()
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "not recording"})
			return
		}
		log.Printf("[CameraSim] recording stopped: %s", filename)
		writeJSON(w, http.StatusOK, map[string]string{"message": "recording stopped"})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, rec.status())
	})

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	addr := fmt.Sprintf(":%d", port)
	log.Printf("[CameraSim] control API on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("[CameraSim] control API: %v", err)
	}
}

func serveVideo(port int, ident *selfsign.Identity, rec *recorder) {
	addr := fmt.Sprintf(":%d", port)
	ln, err := tls.Listen("tcp", addr, &tls.Config{
		Certificates: []tls.Certificate{ident.TLSCert},
		MinVersion:   tls.VersionTLS12,
	})
	if err != nil {
		log.Fatalf("[CameraSim] video listen: %v", err)
	}
	log.Printf("[CameraSim] video socket on %s (%d FPS, %dx%d dual)", addr, frameRate, 2*camWidth, camHeight)

	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Printf("[CameraSim] accept: %v", err)
			continue
		}
		go streamFrames(conn, rec)
	}
}

// streamFrames pushes length-prefixed JPEGs at the camera rate until the
// peer goes away.
func streamFrames(conn net.Conn, rec *recorder) {
	defer conn.Close()
	log.Printf("[CameraSim] viewer connected: %s", conn.RemoteAddr())

	ticker := time.NewTicker(time.Second / frameRate)
	defer ticker.Stop()

	var lenBuf [4]byte
	for n := 0; ; n++ {
		<-ticker.C
		frame := renderFrame(n)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(frame)))
		if _, err := conn.Write(lenBuf[:]); err != nil {
			log.Printf("[CameraSim] viewer gone: %v", err)
			return
		}
		if _, err := conn.Write(frame); err != nil {
			log.Printf("[CameraSim] viewer gone: %v", err)
			return
		}
		rec.observeFrame()
	}
}

// renderFrame draws the two synthetic camera halves side by side: flat
// backgrounds with a dark box orbiting each half so the detector has moving
// structure to chew on.
func renderFrame(n int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2*camWidth, camHeight))

	for y := 0; y < camHeight; y++ {
		for x := 0; x < 2*camWidth; x++ {
			c := color.RGBA{R: 40, G: 60, B: 40, A: 255}
			if x >= camWidth {
				c = color.RGBA{R: 40, G: 40, B: 70, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	phase := float64(n) / frameRate
	for half := 0; half < 2; half++ {
		cx := half*camWidth + camWidth/2 + int(120*math.Cos(phase+float64(half)*math.Pi))
		cy := camHeight/2 + int(80*math.Sin(phase))
		drawBox(img, cx-40, cy-60, cx+40, cy+60)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		log.Printf("[CameraSim] encode: %v", err)
	}
	return buf.Bytes()
}

func drawBox(img *image.RGBA, x1, y1, x2, y2 int) {
	b := img.Bounds()
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			if image.Pt(x, y).In(b) {
				img.SetRGBA(x, y, color.RGBA{R: 200, G: 190, B: 180, A: 255})
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
