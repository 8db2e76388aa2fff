package yolo

import (
	"fmt"
	"sort"
	"strconv"

	iface "YoloBench/interface"
)

const (
	DefaultIou    = 0.7
	MaxDetections = 300
)

type Candidate struct {
	ClassID int
	Score   float32
	Box     iface.Box
}

// Decode reads a YOLOv8 head output of shape [1, 4+nc, N] (or the transposed
// [1, N, 4+nc]) into candidates scoring at least conf. Boxes stay in network
// input coordinates.
func Decode(out []float32, dims []int, conf float32) ([]Candidate, error) {
	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected output shape %v", dims)
	}
	attrs, n := dims[1], dims[2]
	transposed := false
	if attrs > n {
		attrs, n = n, attrs
		transposed = true
	}
	if attrs < 5 {
		return nil, fmt.Errorf("output shape %v has no class scores", dims)
	}
	if len(out) < attrs*n {
		return nil, fmt.Errorf("output has %d values, shape %v needs %d", len(out), dims, attrs*n)
	}
	at := func(a, i int) float32 {
		if transposed {
			return out[i*attrs+a]
		}
		return out[a*n+i]
	}

	var cands []Candidate
	for i := 0; i < n; i++ {
		best, cls := float32(-1), -1
		for c := 4; c < attrs; c++ {
			if s := at(c, i); s > best {
				best, cls = s, c-4
			}
		}
		if best < conf {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		cands = append(cands, Candidate{
			ClassID: cls,
			Score:   best,
			Box:     iface.Box{X1: cx - w/2, Y1: cy - h/2, X2: cx + w/2, Y2: cy + h/2},
		})
	}
	return cands, nil
}

// NMS runs greedy per-class suppression and keeps at most maxDet candidates,
// highest score first.
func NMS(cands []Candidate, iou float32, maxDet int) []Candidate {
	sorted := make([]Candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	kept := make([]Candidate, 0, min(len(sorted), maxDet))
	for _, c := range sorted {
		if len(kept) >= maxDet {
			break
		}
		suppressed := false
		for _, k := range kept {
			if k.ClassID == c.ClassID && IoU(k.Box, c.Box) > iou {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, c)
		}
	}
	return kept
}

func IoU(a, b iface.Box) float32 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	iw, ih := max(ix2-ix1, 0), max(iy2-iy1, 0)
	inter := iw * ih
	union := a.Width()*a.Height() + b.Width()*b.Height() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Label returns names[id], or the decimal id when the name is unknown.
func Label(names []string, id int) string {
	if id >= 0 && id < len(names) && names[id] != "" {
		return names[id]
	}
	return strconv.Itoa(id)
}

// Finalize maps candidates back onto the source image, labels them and drops
// everything under conf. The result is sorted by descending confidence.
func Finalize(cands []Candidate, lb Letterbox, srcW, srcH int, names []string, conf float32) []iface.Detection {
	dets := make([]iface.Detection, 0, len(cands))
	for _, c := range cands {
		if c.Score < conf {
			continue
		}
		dets = append(dets, iface.Detection{
			Label:      Label(names, c.ClassID),
			ClassID:    c.ClassID,
			Confidence: c.Score,
			Box:        lb.Unmap(c.Box, srcW, srcH),
		})
	}
	SortByConfidence(dets)
	return dets
}

func SortByConfidence(dets []iface.Detection) {
	sort.SliceStable(dets, func(i, j int) bool { return dets[i].Confidence > dets[j].Confidence })
}

// FilterByConfidence keeps detections scoring at least conf, preserving order.
func FilterByConfidence(dets []iface.Detection, conf float32) []iface.Detection {
	out := make([]iface.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence >= conf {
			out = append(out, d)
		}
	}
	return out
}
