package synth

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	rasterWidth   = 1200
	rasterHeight  = 1600
	headerHeight  = 80
	blockHeight   = 40
	blockGap      = 10
	bottomMargin  = 50
	maxBlocks     = 20
	maxBlockChars = 120
	minBlockChars = 10
	maxTitleChars = 80
	footerText    = "Captured via HTTP synthesis renderer"
)

var (
	colorHeaderFill = color.RGBA{R: 0xf8, G: 0xf9, B: 0xfa, A: 0xff}
	colorBorder     = color.RGBA{R: 0xde, G: 0xe2, B: 0xe6, A: 0xff}
	colorBlockEdge  = color.RGBA{R: 0xe9, G: 0xec, B: 0xef, A: 0xff}
	colorMuted      = color.RGBA{R: 0x49, G: 0x50, B: 0x57, A: 0xff}
	colorText       = color.RGBA{R: 0x21, G: 0x25, B: 0x29, A: 0xff}
	colorFooter     = color.RGBA{R: 0x66, G: 0x66, B: 0x66, A: 0xff}
)

// rasterize draws the header band, text blocks and footer onto a white page.
func rasterize(page pageText) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, rasterWidth, rasterHeight))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	fillRect(img, image.Rect(0, 0, rasterWidth, headerHeight), colorHeaderFill)
	strokeRect(img, image.Rect(0, 0, rasterWidth, headerHeight), colorBorder)
	drawText(img, 20, 32, "Captured: "+page.URL, colorMuted)
	drawText(img, 20, 57, truncate(page.Title, maxTitleChars), colorText)

	y := headerHeight + 20
	for _, block := range page.Blocks {
		if y+blockHeight > rasterHeight-bottomMargin {
			break
		}
		box := image.Rect(20, y, rasterWidth-20, y+blockHeight)
		strokeRect(img, box, colorBlockEdge)
		drawText(img, 30, y+24, block, colorText)
		y += blockHeight + blockGap
	}

	drawText(img, 20, rasterHeight-20, footerText, colorFooter)
	return img, nil
}

func drawText(img draw.Image, x, y int, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func fillRect(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, image.NewUniform(c), image.Point{}, draw.Src)
}

func strokeRect(img draw.Image, r image.Rectangle, c color.Color) {
	for x := r.Min.X; x < r.Max.X; x++ {
		img.Set(x, r.Min.Y, c)
		img.Set(x, r.Max.Y-1, c)
	}
	for y := r.Min.Y; y < r.Max.Y; y++ {
		img.Set(r.Min.X, y, c)
		img.Set(r.Max.X-1, y, c)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
