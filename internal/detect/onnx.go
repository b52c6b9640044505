package detect

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"sort"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/image/draw"
)

// cocoNames is the class list of the bundled model, index = class id.
var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
	"truck", "boat", "traffic light", "fire hydrant", "stop sign",
	"parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag",
	"tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite",
	"baseball bat", "baseball glove", "skateboard", "surfboard",
	"tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot",
	"hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant",
	"bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear",
	"hair drier", "toothbrush",
}

// LocalConfig configures the in-process model.
type LocalConfig struct {
	ModelPath     string
	LibraryPath   string // onnxruntime shared library; empty uses the platform default
	InputName     string
	OutputName    string
	InputSize     int
	ConfThreshold float64
	NMSThreshold  float64
}

func (c *LocalConfig) applyDefaults() {
	if c.InputName == "" {
		c.InputName = "images"
	}
	if c.OutputName == "" {
		c.OutputName = "output0"
	}
	if c.InputSize == 0 {
		c.InputSize = 640
	}
	if c.ConfThreshold == 0 {
		c.ConfThreshold = 0.25
	}
	if c.NMSThreshold == 0 {
		c.NMSThreshold = 0.45
	}
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// LocalDetector runs the object-detection model in process. A load failure is
// fatal at startup; per-frame failures yield an empty result and never an
// error.
type LocalDetector struct {
	cfg     LocalConfig
	classes map[string]int

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	inData  []float32
	stopped bool
}

// NewLocalDetector loads the ONNX model and allocates the session tensors.
func NewLocalDetector(cfg LocalConfig) (*LocalDetector, error) {
	cfg.applyDefaults()
	if err := initRuntime(cfg.LibraryPath); err != nil {
		return nil, fmt.Errorf("onnxruntime init: %w", err)
	}

	n := cfg.InputSize
	inData := make([]float32, 3*n*n)
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(n), int64(n)), inData)
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(cocoNames)), yoloAnchors(n)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}

	classes := make(map[string]int, len(cocoNames))
	for id, name := range cocoNames {
		classes[strings.ToLower(name)] = id
	}

	log.Printf("[LocalDetector] Loaded model %s (input %dx%d)", cfg.ModelPath, n, n)
	return &LocalDetector{
		cfg:     cfg,
		classes: classes,
		session: session,
		input:   input,
		output:  output,
		inData:  inData,
	}, nil
}

// yoloAnchors is the anchor count of a YOLOv8-style head for a square input:
// (n/8)^2 + (n/16)^2 + (n/32)^2.
func yoloAnchors(n int) int64 {
	s8, s16, s32 := n/8, n/16, n/32
	return int64(s8*s8 + s16*s16 + s32*s32)
}

// Classes returns the lowercased class-name to class-id map of the loaded
// model. The Router uses it to normalize remote detections.
func (d *LocalDetector) Classes() map[string]int {
	out := make(map[string]int, len(d.classes))
	for k, v := range d.classes {
		out[k] = v
	}
	return out
}

func (d *LocalDetector) Ready() bool { return true }

func (d *LocalDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
}

func (d *LocalDetector) Detect(ctx context.Context, frame *Frame) (*DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	empty := &DetectionResult{FrameID: frame.ID}

	img, err := frame.DecodeImage()
	if err != nil {
		log.Printf("[LocalDetector] frame %d: JPEG decode failed: %v", frame.ID, err)
		return empty, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, ErrStopped
	}

	lb := letterbox(img, d.cfg.InputSize, d.inData)
	if err := d.session.Run(); err != nil {
		log.Printf("[LocalDetector] frame %d: inference failed: %v", frame.ID, err)
		return empty, nil
	}

	dets := decodeYOLO(d.output.GetData(), d.cfg.InputSize, lb,
		frame.Width, frame.Height, d.cfg.ConfThreshold, d.cfg.NMSThreshold)
	return &DetectionResult{FrameID: frame.ID, Detections: dets}, nil
}

// letterboxParams describes how a source image was fitted into the square
// model input.
type letterboxParams struct {
	scale    float64
	dx, dy   float64
	srcW     int
	srcH     int
	destSide int
}

// letterbox scales img to fit an n by n square, pads with gray and writes the
// normalized CHW float buffer into dst (len 3*n*n).
func letterbox(img image.Image, n int, dst []float32) letterboxParams {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	scale := math.Min(float64(n)/float64(srcW), float64(n)/float64(srcH))
	newW := int(math.Round(float64(srcW) * scale))
	newH := int(math.Round(float64(srcH) * scale))
	dx := (n - newW) / 2
	dy := (n - newH) / 2

	canvas := image.NewRGBA(image.Rect(0, 0, n, n))
	gray := image.NewUniform(color.RGBA{R: 114, G: 114, B: 114, A: 255})
	draw.Draw(canvas, canvas.Bounds(), gray, image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(canvas,
		image.Rect(dx, dy, dx+newW, dy+newH), img, b, draw.Src, nil)

	plane := n * n
	for y := 0; y < n; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < n; x++ {
			i := y*n + x
			dst[i] = float32(row[x*4]) / 255.0
			dst[plane+i] = float32(row[x*4+1]) / 255.0
			dst[2*plane+i] = float32(row[x*4+2]) / 255.0
		}
	}

	return letterboxParams{
		scale:    scale,
		dx:       float64(dx),
		dy:       float64(dy),
		srcW:     srcW,
		srcH:     srcH,
		destSide: n,
	}
}

// decodeYOLO parses a [1, 4+classes, anchors] output buffer laid out
// channel-major, maps boxes back through the letterbox and applies per-class
// non-maximum suppression.
func decodeYOLO(raw []float32, n int, lb letterboxParams, frameW, frameH int, confThr, nmsThr float64) []Detection {
	anchors := int(yoloAnchors(n))
	numClasses := len(raw)/anchors - 4
	if numClasses <= 0 {
		return nil
	}

	var cands []Detection
	for j := 0; j < anchors; j++ {
		best := -1
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			if s := raw[(4+c)*anchors+j]; s > bestScore {
				bestScore = s
				best = c
			}
		}
		if best < 0 || float64(bestScore) < confThr {
			continue
		}

		cx := float64(raw[0*anchors+j])
		cy := float64(raw[1*anchors+j])
		w := float64(raw[2*anchors+j])
		h := float64(raw[3*anchors+j])

		det := Detection{
			ClassID:    best,
			Confidence: float64(bestScore),
			X1:         (cx - w/2 - lb.dx) / lb.scale,
			Y1:         (cy - h/2 - lb.dy) / lb.scale,
			X2:         (cx + w/2 - lb.dx) / lb.scale,
			Y2:         (cy + h/2 - lb.dy) / lb.scale,
		}
		if best < len(cocoNames) {
			det.ClassName = cocoNames[best]
		}
		ClampToFrame(&det, frameW, frameH)
		if det.Area() <= 0 {
			continue
		}
		cands = append(cands, det)
	}

	return nmsPerClass(cands, nmsThr)
}

// nmsPerClass keeps the highest-confidence box among overlapping boxes of the
// same class.
func nmsPerClass(dets []Detection, thr float64) []Detection {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })
	kept := make([]Detection, 0, len(dets))
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == d.ClassID && IoU(k, d) > thr {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

// IoU computes intersection-over-union of two detections.
func IoU(a, b Detection) float64 {
	ix1 := math.Max(a.X1, b.X1)
	iy1 := math.Max(a.Y1, b.Y1)
	ix2 := math.Min(a.X2, b.X2)
	iy2 := math.Min(a.Y2, b.Y2)
	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
