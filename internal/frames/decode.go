// Package frames decodes compressed camera frames sent by remote clients.
package frames

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// DefaultMaxDim bounds the longer side of a frame handed to the landmark model.
const DefaultMaxDim = 640

// DefaultMaxPixels bounds the decoded size of a frame accepted by Decode.
const DefaultMaxPixels = 16 * DefaultMaxDim * DefaultMaxDim

// MaxPixels returns the largest frame, in pixels, accepted for a model
// input bounded by maxDim. Frames are checked against it from the image
// header, before any pixel is decoded.
func MaxPixels(maxDim int) int {
	return 16 * maxDim * maxDim
}

var (
	// ErrEmptyPayload is returned when a frame message carries no image.
	ErrEmptyPayload = errors.New("empty image payload")

	// ErrUnsupportedFormat is returned when the image cannot be decoded.
	ErrUnsupportedFormat = errors.New("unsupported image format")

	// ErrImageTooLarge is returned when the image header declares more
	// pixels than allowed.
	ErrImageTooLarge = errors.New("image too large")
)

// Decode decodes a base64 image, either bare or as a data URL
// ("data:image/jpeg;base64,..."). JPEG, PNG and WebP are accepted. Images
// larger than DefaultMaxPixels are rejected.
func Decode(payload string) (image.Image, error) {
	return DecodeLimit(payload, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel bound. A maxPixels of 0 or
// less disables the check.
func DecodeLimit(payload string, maxPixels int) (image.Image, error) {
	data, mediaType, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	return DecodeBytes(data, mediaType, maxPixels)
}

// DecodeBytes decodes raw image bytes. mediaType may be empty. The header
// is read first and images over maxPixels are rejected without decoding.
func DecodeBytes(data []byte, mediaType string, maxPixels int) (image.Image, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPayload
	}

	cfg, isWebP, err := decodeConfig(data, mediaType)
	if err != nil {
		return nil, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, ErrUnsupportedFormat
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, maxPixels)
	}

	if isWebP {
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	return img, nil
}

// decodeConfig reads the image header and reports whether it is WebP.
// Browsers may mislabel WebP canvases, so WebP is tried when the
// registered formats do not match.
func decodeConfig(data []byte, mediaType string) (image.Config, bool, error) {
	if mediaType != "image/webp" {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			return cfg, false, nil
		}
	}

	cfg, err := webp.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if mediaType == "image/webp" {
			return image.Config{}, false, fmt.Errorf("decode webp: %w", err)
		}
		return image.Config{}, false, ErrUnsupportedFormat
	}
	return cfg, true, nil
}

func decodePayload(payload string) ([]byte, string, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, "", ErrEmptyPayload
	}

	var mediaType string
	if strings.HasPrefix(payload, "data:") {
		header, body, ok := strings.Cut(payload, ",")
		if !ok {
			return nil, "", fmt.Errorf("malformed data URL")
		}
		mediaType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		payload = body
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode base64: %w", err)
	}
	return data, mediaType, nil
}

// ToMat shrinks img so neither side exceeds maxDim and converts it to a
// BGR Mat for the landmark detector. The caller must close the Mat.
func ToMat(img image.Image, maxDim int) (gocv.Mat, error) {
	if maxDim > 0 {
		b := img.Bounds()
		if b.Dx() > maxDim || b.Dy() > maxDim {
			img = imaging.Fit(img, maxDim, maxDim, imaging.Linear)
		}
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("convert image: %w", err)
	}
	return mat, nil
}
