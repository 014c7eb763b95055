package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Brownie44l1/dementia-api/internal/imageproc"
)

type Layout string

const (
	LayoutNHWC Layout = "NHWC"
	LayoutNCHW Layout = "NCHW"
)

type OutputKind string

const (
	OutputLogits        OutputKind = "logits"
	OutputProbabilities OutputKind = "probabilities"
)

// Profile is everything that has to agree between the preprocessing, the
// validation and the loaded weights. One profile is chosen at startup.
type Profile struct {
	Name          string
	Architecture  string
	InputSize     imageproc.Size
	Normalization imageproc.Normalization
	Interpolation imageproc.Interpolation
	Labels        []string
	Layout        Layout
	Output        OutputKind
	InputName     string
	OutputName    string
}

const DefaultProfile = "vit"

var builtinProfiles = map[string]Profile{
	// Vision Transformer fine-tuned on OASIS MRI slices.
	"vit": {
		Name:          "vit",
		Architecture:  "ViTForImageClassification",
		InputSize:     imageproc.Size{Width: 224, Height: 224},
		Normalization: imageproc.ImagenetNormalization(),
		Interpolation: imageproc.InterpolationBilinear,
		Labels:        []string{"Mild Dementia", "Moderate Dementia", "Non Demented", "Very mild Dementia"},
		Layout:        LayoutNCHW,
		Output:        OutputLogits,
		InputName:     "pixel_values",
		OutputName:    "logits",
	},
	// Keras CNN with a softmax head.
	"cnn": {
		Name:          "cnn",
		Architecture:  "KerasCNN",
		InputSize:     imageproc.Size{Width: 128, Height: 128},
		Normalization: imageproc.ScaleNormalization(),
		Interpolation: imageproc.InterpolationBilinear,
		Labels:        []string{"Dementia", "Non Demented", "Very mild Dementia"},
		Layout:        LayoutNHWC,
		Output:        OutputProbabilities,
		InputName:     "input",
		OutputName:    "output",
	},
}

func ProfileNames() []string {
	names := make([]string, 0, len(builtinProfiles))
	for name := range builtinProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LookupProfile returns a copy of a built-in profile.
func LookupProfile(name string) (Profile, error) {
	p, ok := builtinProfiles[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Profile{}, fmt.Errorf("unknown model profile %q, available: %s", name, strings.Join(ProfileNames(), ", "))
	}
	p.Labels = append([]string(nil), p.Labels...)
	return p, nil
}

func (p Profile) Validate() error {
	var errs []error
	if p.InputSize.Width <= 0 || p.InputSize.Height <= 0 {
		errs = append(errs, fmt.Errorf("input size must be positive, got %v", p.InputSize))
	}
	if err := p.Normalization.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := imageproc.ParseInterpolation(string(p.Interpolation)); err != nil {
		errs = append(errs, err)
	}
	if len(p.Labels) == 0 {
		errs = append(errs, errors.New("profile has no labels"))
	}
	seen := make(map[string]struct{}, len(p.Labels))
	for _, l := range p.Labels {
		if strings.TrimSpace(l) == "" {
			errs = append(errs, errors.New("labels must not be blank"))
			continue
		}
		if _, dup := seen[l]; dup {
			errs = append(errs, fmt.Errorf("duplicate label %q", l))
		}
		seen[l] = struct{}{}
	}
	if p.Layout != LayoutNHWC && p.Layout != LayoutNCHW {
		errs = append(errs, fmt.Errorf("unknown layout %q", p.Layout))
	}
	if p.Output != OutputLogits && p.Output != OutputProbabilities {
		errs = append(errs, fmt.Errorf("unknown output kind %q", p.Output))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid profile %q: %w", p.Name, err)
	}
	return nil
}

// InputShape is the shape the model declares for its input, in its own layout.
func (p Profile) InputShape() []int64 {
	h, w := int64(p.InputSize.Height), int64(p.InputSize.Width)
	if p.Layout == LayoutNCHW {
		return []int64{1, imageproc.Channels, h, w}
	}
	return []int64{1, h, w, imageproc.Channels}
}

func (p Profile) OutputShape() []int64 {
	return []int64{1, int64(len(p.Labels))}
}

func (p Profile) Preprocessor() (*imageproc.Preprocessor, error) {
	return imageproc.NewPreprocessor(p.InputSize, p.Normalization, p.Interpolation)
}

func (p Profile) Validator() *imageproc.Validator {
	return imageproc.NewValidator(p.InputSize, p.Normalization)
}

// Metadata is the optional model_metadata.json shipped next to an exported
// model. Fields that are set override the base profile.
type Metadata struct {
	InputShape    []int64   `json:"input_shape"`
	OutputShape   []int64   `json:"output_shape"`
	Classes       []string  `json:"classes"`
	ImageSize     int       `json:"image_size"`
	Normalization string    `json:"normalization"`
	Mean          []float32 `json:"mean"`
	Std           []float32 `json:"std"`
	Interpolation string    `json:"interpolation"`
	Layout        string    `json:"layout"`
	Output        string    `json:"output"`
	InputName     string    `json:"input_name"`
	OutputName    string    `json:"output_name"`
	Architecture  string    `json:"architecture"`
}

func LoadMetadata(path string) (*Metadata, error) {
	metaFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &metadata, nil
}

// Apply overlays the metadata on base and validates the result.
func (m *Metadata) Apply(base Profile) (Profile, error) {
	p := base
	p.Labels = append([]string(nil), base.Labels...)

	if len(m.Classes) > 0 {
		p.Labels = append([]string(nil), m.Classes...)
	}
	if m.ImageSize > 0 {
		p.InputSize = imageproc.Size{Width: m.ImageSize, Height: m.ImageSize}
	}
	if len(m.InputShape) > 0 {
		layout, size, err := parseInputShape(m.InputShape)
		if err != nil {
			return Profile{}, err
		}
		p.Layout, p.InputSize = layout, size
	}
	if m.Layout != "" {
		p.Layout = Layout(strings.ToUpper(m.Layout))
	}
	if m.Normalization != "" {
		policy, err := imageproc.ParsePolicy(m.Normalization)
		if err != nil {
			return Profile{}, err
		}
		p.Normalization = imageproc.Normalization{Policy: policy}
		if policy == imageproc.PolicyStandardize {
			p.Normalization.Mean, p.Normalization.Std = imageproc.ImagenetMean, imageproc.ImagenetStd
		}
	}
	if len(m.Mean) > 0 || len(m.Std) > 0 {
		if len(m.Mean) != imageproc.Channels || len(m.Std) != imageproc.Channels {
			return Profile{}, fmt.Errorf("mean and std must both have %d values", imageproc.Channels)
		}
		p.Normalization.Policy = imageproc.PolicyStandardize
		copy(p.Normalization.Mean[:], m.Mean)
		copy(p.Normalization.Std[:], m.Std)
	}
	if m.Interpolation != "" {
		p.Interpolation = imageproc.Interpolation(strings.ToLower(m.Interpolation))
	}
	if m.Output != "" {
		p.Output = OutputKind(strings.ToLower(m.Output))
	}
	if m.InputName != "" {
		p.InputName = m.InputName
	}
	if m.OutputName != "" {
		p.OutputName = m.OutputName
	}
	if m.Architecture != "" {
		p.Architecture = m.Architecture
	}

	if err := p.Validate(); err != nil {
		return Profile{}, err
	}
	if n := len(m.OutputShape); n > 0 && m.OutputShape[n-1] != int64(len(p.Labels)) {
		return Profile{}, fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(p.Labels))
	}
	return p, nil
}

// parseInputShape accepts (N,3,H,W) or (N,H,W,3); N may be -1 for a dynamic batch.
func parseInputShape(shape []int64) (Layout, imageproc.Size, error) {
	if len(shape) != 4 {
		return "", imageproc.Size{}, fmt.Errorf("input shape %v must have 4 dimensions", shape)
	}
	switch {
	case shape[1] == imageproc.Channels && shape[3] != imageproc.Channels:
		return LayoutNCHW, imageproc.Size{Width: int(shape[3]), Height: int(shape[2])}, nil
	case shape[3] == imageproc.Channels:
		return LayoutNHWC, imageproc.Size{Width: int(shape[2]), Height: int(shape[1])}, nil
	}
	return "", imageproc.Size{}, fmt.Errorf("input shape %v has no 3-channel axis", shape)
}
