package imageproc

import (
	"fmt"
	"strings"
)

type Policy string

const (
	// PolicyScale divides 0-255 channel values by 255.
	PolicyScale Policy = "scale"
	// PolicyStandardize scales to [0,1] and then applies per-channel mean/std.
	PolicyStandardize Policy = "standardize"
)

var (
	ImagenetMean = [Channels]float32{0.485, 0.456, 0.406}
	ImagenetStd  = [Channels]float32{0.229, 0.224, 0.225}
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyScale, "rescale", "scale-only":
		return PolicyScale, nil
	case PolicyStandardize, "imagenet", "normalize":
		return PolicyStandardize, nil
	}
	return "", fmt.Errorf("unknown normalization policy %q", s)
}

type Normalization struct {
	Policy Policy
	Mean   [Channels]float32
	Std    [Channels]float32
}

func ScaleNormalization() Normalization {
	return Normalization{Policy: PolicyScale}
}

func ImagenetNormalization() Normalization {
	return Normalization{Policy: PolicyStandardize, Mean: ImagenetMean, Std: ImagenetStd}
}

func (n Normalization) Validate() error {
	switch n.Policy {
	case PolicyScale:
		return nil
	case PolicyStandardize:
		for c, s := range n.Std {
			if s <= 0 {
				return fmt.Errorf("std for channel %d must be positive, got %v", c, s)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown normalization policy %q", n.Policy)
}

// Apply maps one 0-255 channel value of channel c to model space.
func (n Normalization) Apply(c int, v uint8) float32 {
	x := float32(v) / 255.0
	if n.Policy == PolicyStandardize {
		x = (x - n.Mean[c]) / n.Std[c]
	}
	return x
}

// Bounds is the range Apply can produce for channel c.
func (n Normalization) Bounds(c int) (lo, hi float32) {
	if n.Policy == PolicyStandardize {
		return (0 - n.Mean[c]) / n.Std[c], (1 - n.Mean[c]) / n.Std[c]
	}
	return 0, 1
}
