// Package media decodes still images and samples frames from video files.
package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

var (
	// ErrInputNotFound is returned when the input file does not exist.
	ErrInputNotFound = errors.New("input not found")
	// ErrDecode is returned when a file exists but is not a decodable image.
	ErrDecode = errors.New("image decode failed")
	// ErrSourceUnreadable is returned when a video cannot be opened or probed.
	ErrSourceUnreadable = errors.New("video source unreadable")
)

// DecodeImage opens and decodes the image at path.
func DecodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, path)
		}
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode decodes an image in any registered format.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return img, nil
}

// DownscaleToWidth resizes img to maxWidth keeping the aspect ratio.
// Images already narrow enough, or a non-positive maxWidth, are returned as is.
func DownscaleToWidth(img image.Image, maxWidth int) image.Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	if maxWidth <= 0 || width <= maxWidth {
		return img
	}

	newHeight := max(int(float64(height)*float64(maxWidth)/float64(width)), 1)
	resized := image.NewRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)
	return resized
}

// EncodeJPEG encodes img as JPEG for the embedding server.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: constants.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
