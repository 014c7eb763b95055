package imageproc

import (
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"math"
	"strings"

	"github.com/nfnt/resize"
)

type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

type Interpolation string

const (
	InterpolationNearest  Interpolation = "nearest"
	InterpolationBilinear Interpolation = "bilinear"
	InterpolationBicubic  Interpolation = "bicubic"
	InterpolationLanczos3 Interpolation = "lanczos3"
)

var interpolations = map[Interpolation]resize.InterpolationFunction{
	InterpolationNearest:  resize.NearestNeighbor,
	InterpolationBilinear: resize.Bilinear,
	InterpolationBicubic:  resize.Bicubic,
	InterpolationLanczos3: resize.Lanczos3,
}

func ParseInterpolation(s string) (Interpolation, error) {
	i := Interpolation(strings.ToLower(strings.TrimSpace(s)))
	if i == "" {
		return InterpolationBilinear, nil
	}
	if _, ok := interpolations[i]; !ok {
		return "", fmt.Errorf("unknown interpolation %q", s)
	}
	return i, nil
}

// Preprocessor resizes and normalizes images into NHWC float32 tensors.
// The same kernel is used for every image so that inference matches the
// preprocessing the weights were trained with.
type Preprocessor struct {
	size   Size
	norm   Normalization
	kernel resize.InterpolationFunction
}

func NewPreprocessor(size Size, norm Normalization, interp Interpolation) (*Preprocessor, error) {
	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("%w: invalid target size %v", ErrPreprocessing, size)
	}
	if err := norm.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPreprocessing, err)
	}
	if interp == "" {
		interp = InterpolationBilinear
	}
	kernel, ok := interpolations[interp]
	if !ok {
		return nil, fmt.Errorf("%w: unknown interpolation %q", ErrPreprocessing, interp)
	}
	return &Preprocessor{size: size, norm: norm, kernel: kernel}, nil
}

func (p *Preprocessor) Size() Size {
	return p.size
}

func (p *Preprocessor) Normalization() Normalization {
	return p.norm
}

func (p *Preprocessor) Preprocess(img *DecodedImage) (Tensor, error) {
	if img == nil || img.rgb == nil || len(img.rgb.Pix) == 0 {
		return Tensor{}, fmt.Errorf("%w: no pixel data", ErrPreprocessing)
	}

	resized := resize.Resize(uint(p.size.Width), uint(p.size.Height), img.Image(), p.kernel)
	bounds := resized.Bounds()
	if bounds.Dx() != p.size.Width || bounds.Dy() != p.size.Height {
		return Tensor{}, fmt.Errorf("%w: resized to %dx%d, expected %v", ErrPreprocessing, bounds.Dx(), bounds.Dy(), p.size)
	}

	w, h := p.size.Width, p.size.Height
	data := make([]float32, h*w*Channels)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := pixelAt(resized, bounds.Min.X+x, bounds.Min.Y+y)
			i := (y*w + x) * Channels
			data[i+0] = p.norm.Apply(0, r)
			data[i+1] = p.norm.Apply(1, g)
			data[i+2] = p.norm.Apply(2, b)
			for c := 0; c < Channels; c++ {
				if v := float64(data[i+c]); math.IsNaN(v) || math.IsInf(v, 0) {
					return Tensor{}, fmt.Errorf("%w: non-finite value at (%d,%d,%d)", ErrPreprocessing, y, x, c)
				}
			}
		}
	}

	slog.Debug("preprocessed image", "source", fmt.Sprintf("%dx%d", img.Width(), img.Height()), "target", p.size.String(), "policy", p.norm.Policy)

	return NewTensor(h, w, data), nil
}

func pixelAt(img image.Image, x, y int) (r, g, b uint8) {
	switch src := img.(type) {
	case *image.NRGBA:
		i := src.PixOffset(x, y)
		return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
	case *image.RGBA:
		i := src.PixOffset(x, y)
		return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
	}
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return c.R, c.G, c.B
}
