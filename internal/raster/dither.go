package raster

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/makeworld-the-better-one/dither/v2"
)

var diffusionMatrices = map[string]dither.ErrorDiffusionMatrix{
	AlgorithmAtkinson:          dither.Atkinson,
	AlgorithmStucki:            dither.Stucki,
	AlgorithmBurkes:            dither.Burkes,
	AlgorithmSierra:            dither.Sierra,
	AlgorithmJarvisJudiceNinke: dither.JarvisJudiceNinke,
}

// KnownAlgorithm reports whether name selects a supported dither algorithm.
func KnownAlgorithm(name string) bool {
	if name == "" || name == AlgorithmFloydSteinberg {
		return true
	}
	_, ok := diffusionMatrices[name]
	return ok
}

// Dither quantizes g to one bit per pixel. Floyd–Steinberg (the default)
// runs on the float buffer and honours opts.Threshold; the other matrices
// go through the dither library against a black/white palette.
func Dither(ctx context.Context, g *Gray, opts Options) (*Bitmap, error) {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}

	switch opts.Algorithm {
	case "", AlgorithmFloydSteinberg:
		return floydSteinberg(ctx, g, threshold)
	}

	matrix, ok := diffusionMatrices[opts.Algorithm]
	if !ok {
		return nil, fmt.Errorf("%w: unknown dither algorithm %q", ErrImageProcess, opts.Algorithm)
	}
	return diffuse(ctx, g, matrix)
}

func floydSteinberg(ctx context.Context, g *Gray, threshold float64) (*Bitmap, error) {
	w, h := g.Width, g.Height
	buf := make([]float64, len(g.Pix))
	copy(buf, g.Pix)

	bm := NewBitmap(w, h)
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrImageProcess, err)
		}
		row := y * w
		for x := 0; x < w; x++ {
			i := row + x
			old := buf[i]
			quant := 255.0
			if old < threshold {
				quant = 0
				bm.Set(x, y)
			}
			e := old - quant

			if x+1 < w {
				buf[i+1] += e * 7 / 16
			}
			if y+1 < h {
				if x > 0 {
					buf[i+w-1] += e * 3 / 16
				}
				buf[i+w] += e * 5 / 16
				if x+1 < w {
					buf[i+w+1] += e * 1 / 16
				}
			}
		}
	}
	return bm, nil
}

func diffuse(ctx context.Context, g *Gray, matrix dither.ErrorDiffusionMatrix) (*Bitmap, error) {
	src := image.NewGray(image.Rect(0, 0, g.Width, g.Height))
	for i, v := range g.Pix {
		src.Pix[i] = uint8(math.Round(math.Max(0, math.Min(255, v))))
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageProcess, err)
	}

	palette := []color.Color{color.Black, color.White}
	ditherer := dither.NewDitherer(palette)
	if ditherer == nil {
		return nil, fmt.Errorf("%w: invalid dither palette", ErrImageProcess)
	}
	ditherer.Matrix = matrix
	out := ditherer.DitherPaletted(src)

	bm := NewBitmap(g.Width, g.Height)
	for y := 0; y < g.Height; y++ {
		for x := 0; x < g.Width; x++ {
			if out.ColorIndexAt(x, y) == 0 {
				bm.Set(x, y)
			}
		}
	}
	return bm, nil
}
