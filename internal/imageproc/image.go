package imageproc

import (
	"image"
	"image/color"
	"image/draw"
)

// Channels is the channel count of every DecodedImage and Tensor.
const Channels = 3

// DecodedImage is an opaque RGB pixel grid. It is backed by an NRGBA buffer
// whose alpha is always 255.
type DecodedImage struct {
	Format string
	rgb    *image.NRGBA
}

// FromImage wraps an already decoded image, converting it to opaque RGB.
// Alpha is dropped rather than composited, so a half transparent red pixel
// stays pure red.
func FromImage(img image.Image, format string) *DecodedImage {
	if img == nil {
		return nil
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.NRGBA:
		for y := 0; y < b.Dy(); y++ {
			s := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[dst.PixOffset(0, y):dst.PixOffset(0, y+1)], src.Pix[s:s+4*b.Dx()])
		}
	case *image.Gray:
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	default:
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
				i := dst.PixOffset(x, y)
				dst.Pix[i+0] = c.R
				dst.Pix[i+1] = c.G
				dst.Pix[i+2] = c.B
			}
		}
	}

	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}

	return &DecodedImage{Format: format, rgb: dst}
}

func (d *DecodedImage) Width() int {
	return d.rgb.Rect.Dx()
}

func (d *DecodedImage) Height() int {
	return d.rgb.Rect.Dy()
}

func (d *DecodedImage) Channels() int {
	return Channels
}

// RGB returns the channel values of the pixel at (x, y).
func (d *DecodedImage) RGB(x, y int) (r, g, b uint8) {
	i := d.rgb.PixOffset(x, y)
	return d.rgb.Pix[i], d.rgb.Pix[i+1], d.rgb.Pix[i+2]
}

// Image exposes the pixels as an image.Image for resampling.
func (d *DecodedImage) Image() image.Image {
	return d.rgb
}
