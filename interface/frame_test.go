package iface

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrame_ToRGB(t *testing.T) {
	bgr := Frame{Width: 2, Height: 1, Order: ChannelBGR, Pix: []byte{1, 2, 3, 10, 20, 30}}
	rgb := bgr.ToRGB()
	assert.Equal(t, ChannelRGB, rgb.Order)
	assert.Equal(t, []byte{3, 2, 1, 30, 20, 10}, rgb.Pix)
	// source is untouched
	assert.Equal(t, []byte{1, 2, 3, 10, 20, 30}, bgr.Pix)
	assert.Equal(t, rgb, rgb.ToRGB())
}

func TestFrame_RoundTrip(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	src.Set(0, 0, color.NRGBA{R: 200, G: 10, B: 30, A: 255})
	src.Set(2, 1, color.NRGBA{R: 5, G: 250, B: 90, A: 255})

	f := FrameFromImage(src, ChannelBGR)
	require.NoError(t, f.Validate())
	assert.Equal(t, []byte{30, 10, 200}, f.Pix[0:3])

	img, err := f.Image()
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), img.Bounds())
	assert.Equal(t, color.NRGBA{R: 200, G: 10, B: 30, A: 255}, img.NRGBAAt(0, 0))
	assert.Equal(t, color.NRGBA{R: 5, G: 250, B: 90, A: 255}, img.NRGBAAt(2, 1))
}

func TestFrame_Validate(t *testing.T) {
	assert.Error(t, Frame{}.Validate())
	assert.Error(t, Frame{Width: 2, Height: 2, Pix: make([]byte, 5)}.Validate())
	_, err := Frame{Width: 1, Height: 1}.Image()
	assert.Error(t, err)
}

func TestBox(t *testing.T) {
	b := Box{X1: 10, Y1: 20, X2: 30, Y2: 60}
	assert.Equal(t, float32(20), b.Width())
	assert.Equal(t, float32(40), b.Height())
	assert.Equal(t, Position{X: 20, Y: 40}, b.Center())
	assert.Equal(t, image.Rect(10, 20, 30, 60), b.Rect())
}
