package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 255 / w), G: uint8(y * 255 / h), B: uint8((x + y) % 256), A: 255})
		}
	}
	return img
}

func encode(t *testing.T, format string, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95})
	case "png":
		err = png.Encode(&buf, img)
	case "bmp":
		err = bmp.Encode(&buf, img)
	default:
		t.Fatalf("unknown format %s", format)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecodeSupportedFormats(t *testing.T) {
	codec := NewCodec(DefaultMaxSize, nil)

	for _, format := range []string{"jpeg", "png", "bmp"} {
		t.Run(format, func(t *testing.T) {
			img, err := codec.Decode(encode(t, format, gradientImage(37, 21)))
			require.NoError(t, err)
			assert.Equal(t, format, img.Format)
			assert.Equal(t, 37, img.Width())
			assert.Equal(t, 21, img.Height())
			assert.Equal(t, 3, img.Channels())
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	codec := NewCodec(DefaultMaxSize, nil)

	_, err := codec.Decode(nil)
	require.ErrorIs(t, err, ErrInvalidImage)
	assert.Contains(t, err.Error(), "empty")
}

func TestDecodeOversizedRejectedBeforeDecoding(t *testing.T) {
	codec := NewCodec(64, nil)

	// Valid PNG signature followed by junk: if decoding were attempted the
	// error would mention png rather than the size.
	data := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 100)...)
	_, err := codec.Decode(data)
	require.ErrorIs(t, err, ErrInvalidImage)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestDecodeTextWithImageExtension(t *testing.T) {
	codec := NewCodec(DefaultMaxSize, nil)

	require.NoError(t, codec.CheckExtension("scan.jpg"))

	_, err := codec.Decode([]byte("this is definitely not an image, just some text\n"))
	require.ErrorIs(t, err, ErrInvalidImage)
	assert.Contains(t, err.Error(), "text/plain")
}

func TestDecodeTruncated(t *testing.T) {
	codec := NewCodec(DefaultMaxSize, nil)
	data := encode(t, "png", gradientImage(40, 40))

	_, err := codec.Decode(data[:len(data)/2])
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestDecodeRejectsHugeCanvas(t *testing.T) {
	codec := NewCodec(DefaultMaxSize, nil)

	// A blank canvas compresses to a few hundred kilobytes while declaring
	// more pixels than the default limit.
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	require.NoError(t, enc.Encode(&buf, image.NewGray(image.Rect(0, 0, 8000, 7000))))
	require.NoError(t, codec.CheckSize(int64(buf.Len())))

	_, err := codec.Decode(buf.Bytes())
	require.ErrorIs(t, err, ErrInvalidImage)
	assert.Contains(t, err.Error(), "exceeds")
	assert.Contains(t, err.Error(), "8000x7000")
}

func TestDecodeMaxPixels(t *testing.T) {
	codec := NewCodec(DefaultMaxSize, nil).WithMaxPixels(5000)
	assert.Equal(t, int64(5000), codec.MaxPixels())

	for _, format := range []string{"jpeg", "png", "bmp"} {
		t.Run(format, func(t *testing.T) {
			_, err := codec.Decode(encode(t, format, gradientImage(100, 100)))
			require.ErrorIs(t, err, ErrInvalidImage)
			assert.Contains(t, err.Error(), "exceeds the 5000 pixel limit")

			img, err := codec.Decode(encode(t, format, gradientImage(50, 50)))
			require.NoError(t, err)
			assert.Equal(t, 50, img.Width())
		})
	}

	assert.Equal(t, int64(DefaultMaxPixels), NewCodec(0, nil).WithMaxPixels(0).MaxPixels())
}

func TestCheckExtension(t *testing.T) {
	codec := NewCodec(DefaultMaxSize, nil)

	for _, name := range []string{"a.jpg", "b.JPEG", "c.png", "dir/d.bmp"} {
		assert.NoError(t, codec.CheckExtension(name), name)
	}
	for _, name := range []string{"a.gif", "b", "c.png.exe", ""} {
		assert.ErrorIs(t, codec.CheckExtension(name), ErrInvalidImage, name)
	}

	custom := NewCodec(DefaultMaxSize, []string{"png"})
	assert.NoError(t, custom.CheckExtension("x.png"))
	assert.Error(t, custom.CheckExtension("x.jpg"))
}

func TestFromImageGrayscale(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(1, 1, color.Gray{Y: 200})

	img := FromImage(gray, "png")
	r, g, b := img.RGB(1, 1)
	assert.Equal(t, [3]uint8{200, 200, 200}, [3]uint8{r, g, b})
	r, g, b = img.RGB(0, 0)
	assert.Equal(t, [3]uint8{0, 0, 0}, [3]uint8{r, g, b})
}

func TestFromImageDropsAlpha(t *testing.T) {
	src := solidImage(3, 3, color.NRGBA{R: 255, G: 10, B: 20, A: 128})

	img := FromImage(src, "png")
	r, g, b := img.RGB(2, 2)
	assert.Equal(t, [3]uint8{255, 10, 20}, [3]uint8{r, g, b})
}

func TestFromImageOffsetBounds(t *testing.T) {
	src := gradientImage(10, 10).SubImage(image.Rect(4, 4, 8, 9))

	img := FromImage(src, "png")
	assert.Equal(t, 4, img.Width())
	assert.Equal(t, 5, img.Height())

	want := src.At(4, 4).(color.NRGBA)
	r, g, b := img.RGB(0, 0)
	assert.Equal(t, [3]uint8{want.R, want.G, want.B}, [3]uint8{r, g, b})
}

func TestFromImageNil(t *testing.T) {
	assert.Nil(t, FromImage(nil, ""))
}
