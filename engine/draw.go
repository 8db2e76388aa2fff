package engine

import (
	"image"

	iface "YoloBench/interface"
	"YoloBench/logger"

	"go.uber.org/zap"
)

// Annotator renders detections onto a copy of img and returns it in the
// channel order of the inference library (BGR).
type Annotator func(img image.Image, dets []iface.Detection) (iface.Frame, error)

// WithFallback wraps primary so that a failed render degrades to DrawBoxes
// instead of failing the detection.
func WithFallback(primary Annotator) Annotator {
	return func(img image.Image, dets []iface.Detection) (iface.Frame, error) {
		f, err := primary(img, dets)
		if err == nil {
			return f, nil
		}
		logger.Log().Warn("annotator failed, drawing plain boxes", zap.Error(err))
		return DrawBoxes(img, dets)
	}
}

// DrawBoxes is the pure-Go annotator: coloured box outlines without text.
func DrawBoxes(img image.Image, dets []iface.Detection) (iface.Frame, error) {
	f := iface.FrameFromImage(img, iface.ChannelBGR)
	lw := LineWidth(f.Width, f.Height)
	for _, d := range dets {
		c := Palette(d.ClassID)
		r := d.Box.Rect().Intersect(f.Bounds())
		if r.Empty() {
			continue
		}
		set := func(x, y int) {
			if !(image.Point{X: x, Y: y}).In(r) {
				return
			}
			i := (y*f.Width + x) * 3
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.B, c.G, c.R
		}
		for t := 0; t < lw; t++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				set(x, r.Min.Y+t)
				set(x, r.Max.Y-1-t)
			}
			for y := r.Min.Y; y < r.Max.Y; y++ {
				set(r.Min.X+t, y)
				set(r.Max.X-1-t, y)
			}
		}
	}
	return f, nil
}
