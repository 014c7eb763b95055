package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/dementia-api/internal/imageproc"
)

func writeMetadata(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestBuiltinProfiles(t *testing.T) {
	assert.Equal(t, []string{"cnn", "vit"}, ProfileNames())

	vit, err := LookupProfile("ViT")
	require.NoError(t, err)
	require.NoError(t, vit.Validate())
	assert.Equal(t, imageproc.Size{Width: 224, Height: 224}, vit.InputSize)
	assert.Equal(t, imageproc.PolicyStandardize, vit.Normalization.Policy)
	assert.Len(t, vit.Labels, 4)
	assert.Equal(t, []int64{1, 3, 224, 224}, vit.InputShape())
	assert.Equal(t, []int64{1, 4}, vit.OutputShape())

	cnn, err := LookupProfile("cnn")
	require.NoError(t, err)
	require.NoError(t, cnn.Validate())
	assert.Equal(t, imageproc.PolicyScale, cnn.Normalization.Policy)
	assert.Equal(t, []int64{1, 128, 128, 3}, cnn.InputShape())
	assert.Len(t, cnn.Labels, 3)

	_, err = LookupProfile("resnet")
	assert.ErrorContains(t, err, "available: cnn, vit")
}

func TestLookupProfileReturnsCopy(t *testing.T) {
	p, err := LookupProfile("vit")
	require.NoError(t, err)
	p.Labels[0] = "changed"

	again, err := LookupProfile("vit")
	require.NoError(t, err)
	assert.Equal(t, "Mild Dementia", again.Labels[0])
}

func TestProfileValidate(t *testing.T) {
	base, err := LookupProfile("cnn")
	require.NoError(t, err)

	dup := base
	dup.Labels = []string{"a", "a"}
	assert.ErrorContains(t, dup.Validate(), "duplicate label")

	blank := base
	blank.Labels = []string{"a", " "}
	assert.ErrorContains(t, blank.Validate(), "blank")

	size := base
	size.InputSize = imageproc.Size{Width: 0, Height: 10}
	assert.ErrorContains(t, size.Validate(), "input size")

	layout := base
	layout.Layout = "CHWN"
	assert.ErrorContains(t, layout.Validate(), "layout")
}

func TestMetadataApply(t *testing.T) {
	path := writeMetadata(t, `{
		"input_shape": [-1, 3, 160, 192],
		"output_shape": [1, 2],
		"classes": ["Demented", "Non Demented"],
		"mean": [0.5, 0.5, 0.5],
		"std": [0.5, 0.5, 0.5],
		"output": "logits",
		"input_name": "x",
		"output_name": "y"
	}`)

	meta, err := LoadMetadata(path)
	require.NoError(t, err)

	base, err := LookupProfile("cnn")
	require.NoError(t, err)

	p, err := meta.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, LayoutNCHW, p.Layout)
	assert.Equal(t, imageproc.Size{Width: 192, Height: 160}, p.InputSize)
	assert.Equal(t, []string{"Demented", "Non Demented"}, p.Labels)
	assert.Equal(t, imageproc.PolicyStandardize, p.Normalization.Policy)
	assert.Equal(t, [3]float32{0.5, 0.5, 0.5}, p.Normalization.Std)
	assert.Equal(t, OutputLogits, p.Output)
	assert.Equal(t, "x", p.InputName)
	assert.Equal(t, "y", p.OutputName)

	// base is untouched
	assert.Len(t, base.Labels, 3)
}

func TestMetadataApplyImageSizeAndPolicy(t *testing.T) {
	meta := &Metadata{ImageSize: 96, Normalization: "scale", Layout: "nhwc"}
	base, err := LookupProfile("vit")
	require.NoError(t, err)

	p, err := meta.Apply(base)
	require.NoError(t, err)
	assert.Equal(t, imageproc.Size{Width: 96, Height: 96}, p.InputSize)
	assert.Equal(t, imageproc.PolicyScale, p.Normalization.Policy)
	assert.Equal(t, LayoutNHWC, p.Layout)
}

func TestMetadataApplyErrors(t *testing.T) {
	base, err := LookupProfile("vit")
	require.NoError(t, err)

	cases := map[string]*Metadata{
		"output shape": {OutputShape: []int64{1, 7}},
		"mean and std": {Mean: []float32{0.5}},
		"3-channel":    {InputShape: []int64{1, 1, 28, 28}},
		"4 dimensions": {InputShape: []int64{28, 28}},
		"policy":       {Normalization: "zscore"},
		"std":          {Mean: []float32{0, 0, 0}, Std: []float32{1, 0, 1}},
	}
	for reason, meta := range cases {
		_, err := meta.Apply(base)
		assert.Error(t, err, reason)
	}
}

func TestLoadMetadataErrors(t *testing.T) {
	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to read metadata")

	_, err = LoadMetadata(writeMetadata(t, "{not json"))
	assert.ErrorContains(t, err, "failed to parse metadata")
}
