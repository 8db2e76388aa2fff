package opencv

import (
	"fmt"
	"image"
	"image/color"

	"YoloBench/engine"
	iface "YoloBench/interface"

	"gocv.io/x/gocv"
)

var textColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}

// Annotate draws each detection as a coloured box with a filled
// "label confidence" tag above it. It satisfies engine.Annotator.
func Annotate(img image.Image, dets []iface.Detection) (iface.Frame, error) {
	mat, err := ToMat(img)
	if err != nil {
		return iface.Frame{}, err
	}
	defer mat.Close()

	lw := engine.LineWidth(mat.Cols(), mat.Rows())
	scale := float64(lw) / 3
	thick := max(lw-1, 1)
	for _, d := range dets {
		c := engine.Palette(d.ClassID)
		r := d.Box.Rect()
		if err := gocv.Rectangle(&mat, r, c, lw); err != nil {
			return iface.Frame{}, err
		}
		text := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		ts := gocv.GetTextSize(text, gocv.FontHersheySimplex, scale, thick)
		top := r.Min.Y - ts.Y - 3
		if top < 0 {
			top = r.Min.Y
		}
		tag := image.Rect(r.Min.X, top, r.Min.X+ts.X, top+ts.Y+3)
		if err := gocv.Rectangle(&mat, tag, c, -1); err != nil {
			return iface.Frame{}, err
		}
		if err := gocv.PutText(&mat, text, image.Pt(tag.Min.X, tag.Max.Y-2), gocv.FontHersheySimplex, scale, textColor, thick); err != nil {
			return iface.Frame{}, err
		}
	}
	return iface.Frame{
		Width:  mat.Cols(),
		Height: mat.Rows(),
		Order:  iface.ChannelBGR,
		Pix:    mat.ToBytes(),
	}, nil
}
