package iface

import (
	"fmt"
	"image"
	"image/color"
)

type ChannelOrder int

const (
	ChannelBGR ChannelOrder = iota
	ChannelRGB
)

func (o ChannelOrder) String() string {
	switch o {
	case ChannelBGR:
		return "BGR"
	case ChannelRGB:
		return "RGB"
	default:
		return fmt.Sprintf("ChannelOrder(%d)", int(o))
	}
}

// Frame is a packed 3-channel, 8-bit raster. Row stride is Width*3.
type Frame struct {
	Width  int
	Height int
	Order  ChannelOrder
	Pix    []byte
}

func (f Frame) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.Width, f.Height)
}

func (f Frame) Validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}
	if len(f.Pix) != f.Width*f.Height*3 {
		return fmt.Errorf("frame buffer has %d bytes, want %d", len(f.Pix), f.Width*f.Height*3)
	}
	return nil
}

// ToRGB returns the frame in display order. RGB frames are returned as is.
func (f Frame) ToRGB() Frame {
	if f.Order == ChannelRGB {
		return f
	}
	out := Frame{Width: f.Width, Height: f.Height, Order: ChannelRGB, Pix: make([]byte, len(f.Pix))}
	for i := 0; i+2 < len(f.Pix); i += 3 {
		out.Pix[i] = f.Pix[i+2]
		out.Pix[i+1] = f.Pix[i+1]
		out.Pix[i+2] = f.Pix[i]
	}
	return out
}

// Image converts the frame to an opaque NRGBA image in display order.
func (f Frame) Image() (*image.NRGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	rgb := f.ToRGB()
	img := image.NewNRGBA(f.Bounds())
	for p, q := 0, 0; p < len(rgb.Pix); p, q = p+3, q+4 {
		img.Pix[q] = rgb.Pix[p]
		img.Pix[q+1] = rgb.Pix[p+1]
		img.Pix[q+2] = rgb.Pix[p+2]
		img.Pix[q+3] = 0xff
	}
	return img, nil
}

// FrameFromImage packs img into a frame with the requested channel order.
func FrameFromImage(img image.Image, order ChannelOrder) Frame {
	b := img.Bounds()
	f := Frame{Width: b.Dx(), Height: b.Dy(), Order: order, Pix: make([]byte, b.Dx()*b.Dy()*3)}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if order == ChannelBGR {
				f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.B, c.G, c.R
			} else {
				f.Pix[i], f.Pix[i+1], f.Pix[i+2] = c.R, c.G, c.B
			}
			i += 3
		}
	}
	return f
}
