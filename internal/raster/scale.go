package raster

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// TargetWidth picks the output width for a w×h image. Portrait images
// always fill the dot width; landscape (and square) images only shrink.
func TargetWidth(w, h, widthDots int) int {
	if h > w {
		return widthDots
	}
	if w > widthDots {
		return widthDots
	}
	return w
}

// Scale resamples img to TargetWidth, preserving aspect ratio.
func Scale(img image.Image, widthDots int) *image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	target := TargetWidth(w, h, widthDots)

	switch {
	case target == w:
		return imaging.Clone(img)
	case target < w:
		return imaging.Resize(img, target, 0, imaging.Box)
	default:
		return imaging.Resize(img, target, 0, imaging.Linear)
	}
}

// Gray is a floating-point luminance buffer, 0 = black, 255 = white.
type Gray struct {
	Width  int
	Height int
	Pix    []float64
}

func NewGray(width, height int) *Gray {
	return &Gray{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// Grayscale converts img to luminance. Pixels under half opacity are white.
func Grayscale(img *image.NRGBA) *Gray {
	b := img.Bounds()
	g := NewGray(b.Dx(), b.Dy())
	for y := 0; y < g.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+g.Width*4]
		for x := 0; x < g.Width; x++ {
			p := row[x*4 : x*4+4]
			if p[3] < 128 {
				g.Pix[y*g.Width+x] = 255
				continue
			}
			g.Pix[y*g.Width+x] = 0.299*float64(p[0]) + 0.587*float64(p[1]) + 0.114*float64(p[2])
		}
	}
	return g
}

// Darken applies t*(v/t)^gamma to values below threshold t. Gamma <= 1 is a no-op.
func (g *Gray) Darken(threshold, gamma float64) {
	if gamma <= 1 || threshold <= 0 {
		return
	}
	for i, v := range g.Pix {
		if v < threshold {
			g.Pix[i] = threshold * math.Pow(v/threshold, gamma)
		}
	}
}
