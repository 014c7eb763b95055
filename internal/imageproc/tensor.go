package imageproc

import "fmt"

// Tensor is a dense float32 array in row-major order. Tensors produced by
// the Preprocessor are NHWC with a batch of one.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor builds an NHWC tensor with a batch dimension of one.
func NewTensor(height, width int, data []float32) Tensor {
	return Tensor{
		Shape: []int64{1, int64(height), int64(width), Channels},
		Data:  data,
	}
}

func (t Tensor) Rank() int {
	return len(t.Shape)
}

// Elements is the element count implied by the shape.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor%v(float32)", t.Shape)
}

// NCHW returns a channels-first copy of a rank 4 NHWC tensor.
func (t Tensor) NCHW() (Tensor, error) {
	if len(t.Shape) != 4 || int64(len(t.Data)) != t.Elements() {
		return Tensor{}, fmt.Errorf("%w: cannot transpose %v with %d elements", ErrValidation, t.Shape, len(t.Data))
	}
	n, h, w, c := int(t.Shape[0]), int(t.Shape[1]), int(t.Shape[2]), int(t.Shape[3])
	out := make([]float32, len(t.Data))
	plane := h * w
	for b := 0; b < n; b++ {
		base := b * plane * c
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				src := base + (y*w+x)*c
				for ch := 0; ch < c; ch++ {
					out[base+ch*plane+y*w+x] = t.Data[src+ch]
				}
			}
		}
	}
	return Tensor{Shape: []int64{int64(n), int64(c), int64(h), int64(w)}, Data: out}, nil
}
