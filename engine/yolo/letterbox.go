// Package yolo holds the model-independent parts of YOLOv8-style detection:
// letterbox geometry, output decoding and non-maximum suppression.
package yolo

import (
	"math"

	iface "YoloBench/interface"
)

// PadValue is the grey used to fill letterbox borders.
const PadValue = 114

// Letterbox describes how a source image is scaled and padded into a square
// network input of Size pixels.
type Letterbox struct {
	Size   int
	Scale  float32
	NewW   int
	NewH   int
	Left   int
	Top    int
	Right  int
	Bottom int
}

func NewLetterbox(srcW, srcH, size int) Letterbox {
	r := math.Min(float64(size)/float64(srcH), float64(size)/float64(srcW))
	newW := int(math.Round(float64(srcW) * r))
	newH := int(math.Round(float64(srcH) * r))
	dw := float64(size-newW) / 2
	dh := float64(size-newH) / 2
	return Letterbox{
		Size:   size,
		Scale:  float32(r),
		NewW:   newW,
		NewH:   newH,
		Left:   int(math.Round(dw - 0.1)),
		Right:  int(math.Round(dw + 0.1)),
		Top:    int(math.Round(dh - 0.1)),
		Bottom: int(math.Round(dh + 0.1)),
	}
}

// Unmap converts a box in network input coordinates back to the source
// image, clipped to its bounds.
func (l Letterbox) Unmap(b iface.Box, srcW, srcH int) iface.Box {
	conv := func(v float32, pad int, limit int) float32 {
		v = (v - float32(pad)) / l.Scale
		return clamp(v, 0, float32(limit))
	}
	return iface.Box{
		X1: conv(b.X1, l.Left, srcW),
		Y1: conv(b.Y1, l.Top, srcH),
		X2: conv(b.X2, l.Left, srcW),
		Y2: conv(b.Y2, l.Top, srcH),
	}
}

// NumAnchors is the prediction count of a stride 8/16/32 head for a square input.
func NumAnchors(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		s := size / stride
		n += s * s
	}
	return n
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
