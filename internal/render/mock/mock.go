// Package mock provides a renderer that returns fixed placeholder artifacts.
package mock

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/JakeFAU/compliance-archiver/internal/capture"
)

// PDF is a minimal PDF document returned for pdf captures.
var PDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\nMock PDF content for testing\n%%EOF")

// PNG is a 1x1 white PNG image returned for png captures.
var PNG = onePixelPNG()

func onePixelPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(fmt.Sprintf("encode placeholder png: %v", err))
	}
	return buf.Bytes()
}

// Renderer implements capture.Renderer without network access.
type Renderer struct{}

// New returns a mock Renderer.
func New() *Renderer {
	return &Renderer{}
}

// Name identifies the strategy.
func (*Renderer) Name() string { return "mock" }

// Render returns a copy of the fixed artifact for kind.
func (*Renderer) Render(ctx context.Context, _ string, kind capture.Kind, _ capture.Viewport) ([]byte, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unsupported artifact type %q", capture.ErrValidation, kind)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("mock render canceled: %w", err)
	}
	src := PDF
	if kind == capture.KindPNG {
		src = PNG
	}
	return append([]byte(nil), src...), nil
}
