// Package imaging crops and shrinks uploaded profile photos and vendor logos.
package imaging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"strings"
	"time"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

const (
	DefaultTargetSize = 512
	MaxUploadBytes    = 10 << 20
)

var ErrUnsupportedFormat = errors.New("photo must be png, jpeg, or webp")

type Crop struct {
	X, Y, Size int
}

// Process decodes raw, crops a square (centred when crop is unset or out of
// range) and scales it to targetSize. It prefers webp output when the cwebp
// binary is available and falls back to png.
func Process(raw []byte, crop Crop, targetSize int) ([]byte, string, error) {
	if len(raw) == 0 {
		return nil, "", errors.New("photo file is empty")
	}
	if len(raw) > MaxUploadBytes {
		return nil, "", errors.New("photo exceeds max size")
	}
	if targetSize <= 0 {
		targetSize = DefaultTargetSize
	}

	img, err := decode(raw)
	if err != nil {
		return nil, "", err
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil, "", errors.New("invalid image dimensions")
	}

	minDim := min(width, height)
	size, x, y := crop.Size, crop.X, crop.Y
	if size <= 0 || size > minDim {
		size = minDim
		x = (width - size) / 2
		y = (height - size) / 2
	}
	x = clamp(x, 0, width-size)
	y = clamp(y, 0, height-size)

	cropRect := image.Rect(0, 0, size, size)
	dst := image.NewRGBA(cropRect)
	stddraw.Draw(dst, cropRect, img, image.Point{X: bounds.Min.X + x, Y: bounds.Min.Y + y}, stddraw.Src)

	resized := image.NewRGBA(image.Rect(0, 0, targetSize, targetSize))
	xdraw.CatmullRom.Scale(resized, resized.Bounds(), dst, dst.Bounds(), xdraw.Over, nil)

	if out, err := encodeWebP(resized); err == nil {
		return out, "image/webp", nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return nil, "", errors.New("unable to encode optimized image")
	}
	return buf.Bytes(), "image/png", nil
}

func decode(raw []byte) (image.Image, error) {
	switch mime := detect(raw); mime {
	case "image/png", "image/jpeg":
		img, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.New("unable to decode photo")
		}
		return img, nil
	case "image/webp":
		img, err := webp.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, errors.New("unable to decode photo")
		}
		return img, nil
	default:
		return nil, ErrUnsupportedFormat
	}
}

func detect(raw []byte) string {
	switch {
	case bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")):
		return "image/png"
	case bytes.HasPrefix(raw, []byte("\xff\xd8\xff")):
		return "image/jpeg"
	case len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WEBP":
		return "image/webp"
	default:
		return ""
	}
}

func encodeWebP(img image.Image) ([]byte, error) {
	if _, err := exec.LookPath("cwebp"); err != nil {
		return nil, err
	}
	tmpIn, err := os.CreateTemp("", "tiffin-upload-*.png")
	if err != nil {
		return nil, err
	}
	tmpOut := tmpIn.Name() + ".webp"
	defer func() {
		_ = os.Remove(tmpIn.Name())
		_ = os.Remove(tmpOut)
	}()
	if err := png.Encode(tmpIn, img); err != nil {
		_ = tmpIn.Close()
		return nil, err
	}
	_ = tmpIn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "cwebp", "-quiet", "-q", "78", "-m", "6", "-af", tmpIn.Name(), "-o", tmpOut)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("cwebp failed: %w (%s)", err, strings.TrimSpace(string(output)))
	}
	out, err := os.ReadFile(tmpOut)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("empty webp output")
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
