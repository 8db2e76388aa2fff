package yolo

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// LetterboxImage resizes img into the letterbox geometry and pads it with
// PadValue grey up to a Size x Size canvas.
func LetterboxImage(img image.Image, lb Letterbox) *image.NRGBA {
	resized := imaging.Resize(img, lb.NewW, lb.NewH, imaging.Linear)
	canvas := imaging.New(lb.Size, lb.Size, color.NRGBA{R: PadValue, G: PadValue, B: PadValue, A: 255})
	return imaging.Paste(canvas, resized, image.Pt(lb.Left, lb.Top))
}

// ToCHW writes img as planar RGB scaled to [0,1] into dst, which must hold
// 3*w*h values.
func ToCHW(img *image.NRGBA, dst []float32) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			i := y*w + x
			dst[i] = float32(row[x*4]) / 255
			dst[plane+i] = float32(row[x*4+1]) / 255
			dst[2*plane+i] = float32(row[x*4+2]) / 255
		}
	}
}
