// Package imaging normalizes handwritten signature images attached to
// custody events.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"net/http"

	"golang.org/x/image/draw"
)

// Bounds for stored signatures.
const (
	MaxWidth  = 600
	MaxHeight = 200
)

// MaxInputSize is the largest accepted raw signature.
const MaxInputSize = 2 << 20

// AllowedMIME lists the accepted input MIME types.
var AllowedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Signature is a normalized signature image.
type Signature struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// NormalizeSignature validates the format by sniffing bytes, flattens any
// transparency onto white, converts to grayscale, fits the result into
// MaxWidth x MaxHeight and encodes it as PNG.
func NormalizeSignature(data []byte) (*Signature, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty signature")
	}
	if len(data) > MaxInputSize {
		return nil, fmt.Errorf("signature too large: %d bytes", len(data))
	}

	// Sniff actual MIME type from bytes (not trusting client headers).
	detected := http.DetectContentType(data)
	if !AllowedMIME[detected] {
		return nil, fmt.Errorf("unsupported signature format: %s (only JPEG and PNG accepted)", detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding signature: %w", err)
	}

	w, h := fit(img.Bounds().Dx(), img.Bounds().Dy(), MaxWidth, MaxHeight)

	// Flatten onto white first so transparent strokes keep their contrast.
	flat := image.NewRGBA(img.Bounds())
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, img.Bounds().Min, draw.Over)

	gray := image.NewGray(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(gray, gray.Bounds(), flat, flat.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}

	return &Signature{
		Data:   buf.Bytes(),
		MIME:   "image/png",
		Width:  w,
		Height: h,
	}, nil
}

// fit scales w x h down to fit maxW x maxH, preserving aspect ratio. Images
// already within bounds are unchanged.
func fit(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}

	scale := float64(maxW) / float64(w)
	if s := float64(maxH) / float64(h); s < scale {
		scale = s
	}

	newW := int(float64(w) * scale)
	newH := int(float64(h) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}
	return newW, newH
}

func init() {
	// Register decoders (jpeg is registered by default, but be explicit).
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
