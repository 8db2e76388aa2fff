package yolo

import (
	"image"
	"testing"

	iface "YoloBench/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLetterbox(t *testing.T) {
	lb := NewLetterbox(1280, 720, 640)
	assert.Equal(t, float32(0.5), lb.Scale)
	assert.Equal(t, 640, lb.NewW)
	assert.Equal(t, 360, lb.NewH)
	assert.Equal(t, 0, lb.Left)
	assert.Equal(t, 0, lb.Right)
	assert.Equal(t, 140, lb.Top)
	assert.Equal(t, 140, lb.Bottom)
	assert.Equal(t, 640, lb.NewH+lb.Top+lb.Bottom)

	odd := NewLetterbox(100, 67, 320)
	assert.Equal(t, 320, odd.NewW)
	assert.Equal(t, 320, odd.NewH+odd.Top+odd.Bottom)
}

func TestLetterbox_Unmap(t *testing.T) {
	lb := NewLetterbox(1280, 720, 640)
	got := lb.Unmap(iface.Box{X1: 100, Y1: 150, X2: 200, Y2: 600}, 1280, 720)
	assert.Equal(t, iface.Box{X1: 200, Y1: 20, X2: 400, Y2: 720}, got)
}

func TestNumAnchors(t *testing.T) {
	assert.Equal(t, 8400, NumAnchors(640))
	assert.Equal(t, 2100, NumAnchors(320))
	assert.Equal(t, 18900, NumAnchors(960))
}

// head builds a [1, 4+nc, n] output from per-anchor rows, padding with empty
// anchors so that n > 4+nc as in real heads.
func head(nc int, rows [][]float32) ([]float32, []int) {
	attrs := 4 + nc
	for len(rows) <= attrs {
		rows = append(rows, make([]float32, attrs))
	}
	n := len(rows)
	out := make([]float32, attrs*n)
	for i, r := range rows {
		for a := 0; a < attrs; a++ {
			out[a*n+i] = r[a]
		}
	}
	return out, []int{1, attrs, n}
}

func TestDecode(t *testing.T) {
	out, dims := head(2, [][]float32{
		{50, 50, 20, 20, 0.9, 0.1},
		{10, 10, 4, 4, 0.05, 0.3},
		{80, 80, 10, 10, 0.2, 0.1},
	})
	cands, err := Decode(out, dims, 0.25)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, Candidate{ClassID: 0, Score: 0.9, Box: iface.Box{X1: 40, Y1: 40, X2: 60, Y2: 60}}, cands[0])
	assert.Equal(t, 1, cands[1].ClassID)
	assert.Equal(t, float32(0.3), cands[1].Score)
}

func TestDecode_Transposed(t *testing.T) {
	// [1, n, 4+nc]: anchors are rows
	const n, attrs = 8, 6
	out := make([]float32, n*attrs)
	copy(out[3*attrs:], []float32{50, 50, 20, 20, 0.1, 0.8})
	cands, err := Decode(out, []int{1, n, attrs}, 0.5)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, 1, cands[0].ClassID)
}

func TestDecode_BadShape(t *testing.T) {
	_, err := Decode(make([]float32, 10), []int{1, 10}, 0.5)
	assert.Error(t, err)
	_, err = Decode(make([]float32, 4), []int{1, 4, 1}, 0.5)
	assert.Error(t, err)
	_, err = Decode(make([]float32, 5), []int{1, 6, 2}, 0.5)
	assert.Error(t, err)
}

func TestNMS(t *testing.T) {
	cands := []Candidate{
		{ClassID: 0, Score: 0.6, Box: iface.Box{X1: 1, Y1: 1, X2: 11, Y2: 11}},
		{ClassID: 0, Score: 0.9, Box: iface.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{ClassID: 1, Score: 0.7, Box: iface.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{ClassID: 0, Score: 0.5, Box: iface.Box{X1: 50, Y1: 50, X2: 60, Y2: 60}},
	}
	kept := NMS(cands, 0.5, MaxDetections)
	require.Len(t, kept, 3)
	assert.Equal(t, float32(0.9), kept[0].Score)
	assert.Equal(t, 1, kept[1].ClassID)
	assert.Equal(t, float32(0.5), kept[2].Score)

	assert.Len(t, NMS(cands, 0.5, 1), 1)
}

func TestIoU(t *testing.T) {
	a := iface.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	assert.Equal(t, float32(1), IoU(a, a))
	assert.Equal(t, float32(0), IoU(a, iface.Box{X1: 20, Y1: 20, X2: 30, Y2: 30}))
	assert.InDelta(t, 25.0/175.0, IoU(a, iface.Box{X1: 5, Y1: 5, X2: 15, Y2: 15}), 1e-6)
	assert.Equal(t, float32(0), IoU(iface.Box{}, iface.Box{}))
}

func TestLabel(t *testing.T) {
	names := []string{"cat", ""}
	assert.Equal(t, "cat", Label(names, 0))
	assert.Equal(t, "1", Label(names, 1))
	assert.Equal(t, "7", Label(names, 7))
	assert.Equal(t, "3", Label(nil, 3))
}

func TestFinalize_ThresholdIsMonotonic(t *testing.T) {
	lb := NewLetterbox(640, 640, 640)
	cands := []Candidate{
		{ClassID: 0, Score: 0.3, Box: iface.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}},
		{ClassID: 0, Score: 0.83, Box: iface.Box{X1: 20, Y1: 20, X2: 40, Y2: 40}},
		{ClassID: 1, Score: 0.5, Box: iface.Box{X1: 60, Y1: 60, X2: 70, Y2: 70}},
	}
	prev := len(cands) + 1
	for _, th := range []float32{0.1, 0.3, 0.5, 0.6, 0.83, 0.9} {
		dets := Finalize(cands, lb, 640, 640, []string{"cat", "dog"}, th)
		for _, d := range dets {
			assert.GreaterOrEqual(t, d.Confidence, th)
		}
		assert.LessOrEqual(t, len(dets), prev)
		prev = len(dets)
	}

	dets := Finalize(cands, lb, 640, 640, []string{"cat", "dog"}, 0.5)
	require.Len(t, dets, 2)
	assert.Equal(t, "cat", dets[0].Label)
	assert.Equal(t, "dog", dets[1].Label)
}

func TestFilterByConfidence(t *testing.T) {
	dets := []iface.Detection{{Confidence: 0.2}, {Confidence: 0.5}, {Confidence: 0.7}}
	assert.Len(t, FilterByConfidence(dets, 0.5), 2)
	assert.Empty(t, FilterByConfidence(dets, 0.9))
}

func TestLetterboxImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 64, 32))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i], src.Pix[i+1], src.Pix[i+2], src.Pix[i+3] = 255, 0, 0, 255
	}
	lb := NewLetterbox(64, 32, 32)
	out := LetterboxImage(src, lb)
	require.Equal(t, image.Rect(0, 0, 32, 32), out.Bounds())
	assert.Equal(t, 16, lb.NewH)
	assert.Equal(t, 8, lb.Top)

	pad := out.NRGBAAt(0, 0)
	assert.Equal(t, uint8(PadValue), pad.R)
	assert.Equal(t, uint8(PadValue), pad.G)
	mid := out.NRGBAAt(16, 16)
	assert.Equal(t, uint8(255), mid.R)
	assert.Equal(t, uint8(0), mid.G)

	chw := make([]float32, 3*32*32)
	ToCHW(out, chw)
	assert.InDelta(t, 1.0, chw[16*32+16], 1e-6)
	assert.InDelta(t, 0.0, chw[32*32+16*32+16], 1e-6)
	assert.InDelta(t, float32(PadValue)/255, chw[2*32*32], 1e-6)
}
