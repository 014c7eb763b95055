package imageproc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/bmp"
)

const (
	MB = 1 << 20

	DefaultMaxSize = 10 * MB

	// DefaultMaxPixels bounds the decoded canvas, which a small compressed
	// file can declare far larger than its byte size.
	DefaultMaxPixels = 50_000_000
)

var DefaultExtensions = []string{".jpg", ".jpeg", ".png", ".bmp"}

type decodeFunc func(io.Reader) (image.Image, error)

var decoders = map[string]decodeFunc{
	"jpeg": jpeg.Decode,
	"png":  png.Decode,
	"bmp":  bmp.Decode,
}

type configFunc func(io.Reader) (image.Config, error)

var configs = map[string]configFunc{
	"jpeg": jpeg.DecodeConfig,
	"png":  png.DecodeConfig,
	"bmp":  bmp.DecodeConfig,
}

// Codec turns upload bytes into RGB pixel grids.
type Codec struct {
	maxSize    int64
	maxPixels  int64
	extensions map[string]struct{}
}

func NewCodec(maxSize int64, extensions []string) *Codec {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}

	allowed := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = struct{}{}
	}

	return &Codec{maxSize: maxSize, maxPixels: DefaultMaxPixels, extensions: allowed}
}

// WithMaxPixels sets the largest width*height Decode accepts. Non-positive
// values keep the default.
func (c *Codec) WithMaxPixels(n int64) *Codec {
	if n > 0 {
		c.maxPixels = n
	}
	return c
}

func (c *Codec) MaxSize() int64 {
	return c.maxSize
}

func (c *Codec) MaxPixels() int64 {
	return c.maxPixels
}

// CheckExtension filters on the original filename. Passing it says nothing
// about the content, which Decode still has to accept.
func (c *Codec) CheckExtension(filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if _, ok := c.extensions[ext]; !ok {
		return fmt.Errorf("%w: file extension %q is not allowed", ErrInvalidImage, ext)
	}
	return nil
}

// CheckSize rejects payloads over the configured limit without looking at them.
func (c *Codec) CheckSize(n int64) error {
	if n == 0 {
		return fmt.Errorf("%w: empty file received", ErrInvalidImage)
	}
	if n > c.maxSize {
		return fmt.Errorf("%w: file size %.2fMB exceeds the %.2fMB limit", ErrInvalidImage,
			float64(n)/MB, float64(c.maxSize)/MB)
	}
	return nil
}

// Decode validates and decodes JPEG, PNG or BMP bytes into an RGB image.
func (c *Codec) Decode(data []byte) (*DecodedImage, error) {
	if err := c.CheckSize(int64(len(data))); err != nil {
		return nil, err
	}

	format, err := sniffFormat(data)
	if err != nil {
		return nil, err
	}

	if err := c.checkDimensions(format, data); err != nil {
		return nil, err
	}

	img, err := decoders[format](bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: unable to decode %s: %v", ErrInvalidImage, format, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrInvalidImage)
	}

	return FromImage(img, format), nil
}

// checkDimensions reads only the header so an oversized canvas is refused
// before any pixel buffer is allocated.
func (c *Codec) checkDimensions(format string, data []byte) error {
	cfg, err := configs[format](bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: unable to decode %s: %v", ErrInvalidImage, format, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return fmt.Errorf("%w: image has no pixels", ErrInvalidImage)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > c.maxPixels {
		return fmt.Errorf("%w: image of %dx%d pixels exceeds the %d pixel limit", ErrInvalidImage,
			cfg.Width, cfg.Height, c.maxPixels)
	}
	return nil
}

func sniffFormat(data []byte) (string, error) {
	mtype := mimetype.Detect(data)
	switch {
	case mtype.Is("image/jpeg"):
		return "jpeg", nil
	case mtype.Is("image/png"):
		return "png", nil
	case mtype.Is("image/bmp"):
		return "bmp", nil
	}
	detected, _, _ := strings.Cut(mtype.String(), ";")
	return "", fmt.Errorf("%w: unsupported content type %s, supported: JPEG, PNG, BMP", ErrInvalidImage, detected)
}
