package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/webp"
)

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 120, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodeAny(t *testing.T, raw []byte, mime string) image.Image {
	t.Helper()
	if mime == "image/webp" {
		img, err := webp.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		return img
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	return img
}

func TestProcessProducesSquare(t *testing.T) {
	out, mime, err := Process(samplePNG(t, 300, 200), Crop{}, 64)
	require.NoError(t, err)
	assert.Contains(t, []string{"image/png", "image/webp"}, mime)

	img := decodeAny(t, out, mime)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
}

func TestProcessClampsCrop(t *testing.T) {
	_, _, err := Process(samplePNG(t, 100, 100), Crop{X: 90, Y: 90, Size: 50}, 32)
	assert.NoError(t, err)
}

func TestProcessRejectsUnknownFormat(t *testing.T) {
	_, _, err := Process([]byte("GIF89a........"), Crop{}, 32)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, _, err = Process(nil, Crop{}, 32)
	assert.Error(t, err)
}
