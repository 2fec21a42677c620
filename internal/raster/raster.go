// Package raster turns arbitrary uploaded images into the packed monochrome
// bitmaps a thermal print head consumes.
//
// The pipeline is decode (with EXIF orientation), aspect-aware scaling to the
// printer's dot width, luminance conversion, an optional contrast curve,
// error-diffusion dithering and MSB-first bit packing.
package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
)

var (
	ErrImageDecode  = errors.New("image decode failed")
	ErrImageProcess = errors.New("image processing failed")
)

const (
	AlgorithmFloydSteinberg    = "floyd-steinberg"
	AlgorithmAtkinson          = "atkinson"
	AlgorithmStucki            = "stucki"
	AlgorithmBurkes            = "burkes"
	AlgorithmSierra            = "sierra"
	AlgorithmJarvisJudiceNinke = "jarvis-judice-ninke"
)

const defaultThreshold = 128

type Options struct {
	// Threshold below which a diffused value quantizes to black.
	Threshold float64
	// ContrastGamma > 1 darkens sub-threshold grays before dithering.
	ContrastGamma float64
	Algorithm     string
	// MaxPixels rejects oversized uploads before a full decode. Zero disables the check.
	MaxPixels int
}

func DefaultOptions() Options {
	return Options{
		Threshold: defaultThreshold,
		Algorithm: AlgorithmFloydSteinberg,
	}
}

// Rasterize decodes data and converts it to a bitmap widthDots wide
// (or narrower, for small landscape images).
func Rasterize(ctx context.Context, data []byte, widthDots int, opts Options) (*Bitmap, error) {
	img, err := Decode(data, opts.MaxPixels)
	if err != nil {
		return nil, err
	}
	return FromImage(ctx, img, widthDots, opts)
}

// FromImage runs the pipeline on an already decoded image.
func FromImage(ctx context.Context, img image.Image, widthDots int, opts Options) (*Bitmap, error) {
	if widthDots < 1 {
		return nil, fmt.Errorf("%w: invalid target width %d", ErrImageProcess, widthDots)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: image has zero size (%dx%d)", ErrImageProcess, b.Dx(), b.Dy())
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageProcess, err)
	}

	scaled := Scale(img, widthDots)
	gray := Grayscale(scaled)

	if opts.Threshold <= 0 {
		opts.Threshold = defaultThreshold
	}
	gray.Darken(opts.Threshold, opts.ContrastGamma)

	return Dither(ctx, gray, opts)
}
