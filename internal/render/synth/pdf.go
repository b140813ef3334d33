package synth

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// importSpec centers the raster on an A4 page, scaled to leave a margin.
const importSpec = "formsize:A4, position:c, scalefactor:0.95"

// embedA4 writes img as the single page of a new PDF.
func embedA4(img image.Image) ([]byte, error) {
	var raster bytes.Buffer
	if err := png.Encode(&raster, img); err != nil {
		return nil, fmt.Errorf("encode raster: %w", err)
	}
	imp, err := api.Import(importSpec, types.POINTS)
	if err != nil {
		return nil, fmt.Errorf("parse import spec: %w", err)
	}
	var out bytes.Buffer
	conf := model.NewDefaultConfiguration()
	if err := api.ImportImages(nil, &out, []io.Reader{&raster}, imp, conf); err != nil {
		return nil, fmt.Errorf("import raster: %w", err)
	}
	return out.Bytes(), nil
}
