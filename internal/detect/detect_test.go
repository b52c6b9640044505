package detect

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func box(x1, y1, x2, y2 float64) Detection {
	return Detection{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func TestIoU(t *testing.T) {
	// Identical boxes.
	a := box(0, 0, 10, 10)
	assert.InDelta(t, 1.0, IoU(a, a), 1e-9)

	// Disjoint boxes.
	assert.Equal(t, 0.0, IoU(a, box(20, 20, 30, 30)))

	// Touching edges do not intersect.
	assert.Equal(t, 0.0, IoU(a, box(10, 0, 20, 10)))

	// Half overlap: inter 50, union 150.
	got := IoU(box(0, 0, 10, 10), box(5, 0, 15, 10))
	assert.InDelta(t, 50.0/150.0, got, 1e-9)

	// Degenerate box.
	assert.Equal(t, 0.0, IoU(box(5, 5, 5, 5), a))
}

func TestClampToFrame(t *testing.T) {
	d := box(-10, -5, 700, 500)
	ClampToFrame(&d, 640, 480)
	assert.Equal(t, 0.0, d.X1)
	assert.Equal(t, 0.0, d.Y1)
	assert.Equal(t, 640.0, d.X2)
	assert.Equal(t, 480.0, d.Y2)

	inside := box(10, 10, 50, 50)
	ClampToFrame(&inside, 640, 480)
	assert.Equal(t, box(10, 10, 50, 50), inside)
}

func TestDetectionArea(t *testing.T) {
	assert.Equal(t, 100.0, box(0, 0, 10, 10).Area())
	assert.Equal(t, 0.0, box(10, 10, 10, 20).Area())
	assert.Equal(t, 0.0, box(10, 10, 5, 20).Area())
}

func TestFrame_DecodeImageOnceAndDimensions(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 80, 60))
	for y := 0; y < 60; y++ {
		for x := 0; x < 80; x++ {
			img.Set(x, y, color.RGBA{R: 50, G: 100, B: 150, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	f := &Frame{ID: 1, JPEG: buf.Bytes()}
	decoded, err := f.DecodeImage()
	require.NoError(t, err)
	assert.Equal(t, 80, f.Width)
	assert.Equal(t, 60, f.Height)

	// Second decode returns the cached image.
	again, err := f.DecodeImage()
	require.NoError(t, err)
	assert.Same(t, decoded, again)
}

func TestFrame_DecodeImageBadJPEG(t *testing.T) {
	f := &Frame{ID: 1, JPEG: []byte("junk")}
	_, err := f.DecodeImage()
	assert.Error(t, err)
}

func TestNMSPerClass(t *testing.T) {
	dets := []Detection{
		{ClassID: 2, Confidence: 0.9, X1: 0, Y1: 0, X2: 100, Y2: 100},
		{ClassID: 2, Confidence: 0.8, X1: 5, Y1: 5, X2: 105, Y2: 105},     // suppressed by the first
		{ClassID: 2, Confidence: 0.7, X1: 300, Y1: 300, X2: 400, Y2: 400}, // disjoint, kept
		{ClassID: 0, Confidence: 0.6, X1: 0, Y1: 0, X2: 100, Y2: 100},     // other class, kept
	}
	kept := nmsPerClass(dets, 0.45)
	require.Len(t, kept, 3)
	assert.Equal(t, 0.9, kept[0].Confidence)

	classes := map[int]int{}
	for _, d := range kept {
		classes[d.ClassID]++
	}
	assert.Equal(t, 2, classes[2])
	assert.Equal(t, 1, classes[0])
}

func TestLetterbox_ScaleAndPadding(t *testing.T) {
	// A 2:1 source letterboxed into a square pads top and bottom.
	img := image.NewRGBA(image.Rect(0, 0, 128, 64))
	n := 64
	dst := make([]float32, 3*n*n)
	lb := letterbox(img, n, dst)

	assert.InDelta(t, 0.5, lb.scale, 1e-9)
	assert.Equal(t, 0.0, lb.dx)
	assert.Equal(t, 16.0, lb.dy)
	assert.Equal(t, 128, lb.srcW)
	assert.Equal(t, 64, lb.srcH)

	// The padding rows carry the gray fill.
	assert.InDelta(t, 114.0/255.0, float64(dst[0]), 1e-6)
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "10.0.0.5:50051", NormalizeAddress("10.0.0.5"))
	assert.Equal(t, "10.0.0.5:9000", NormalizeAddress("10.0.0.5:9000"))
	assert.Equal(t, "[::1]:50051", NormalizeAddress("::1"))
	assert.Equal(t, "[::1]:9000", NormalizeAddress("[::1]:9000"))
}

func TestYoloAnchors(t *testing.T) {
	// 640 input: 80^2 + 40^2 + 20^2 anchors.
	assert.Equal(t, int64(8400), yoloAnchors(640))
}
