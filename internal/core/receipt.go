package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/orrn/thermalspool/internal/escpos"
	"github.com/orrn/thermalspool/internal/logger"
	"github.com/orrn/thermalspool/internal/raster"
)

const imageAnnotation = "[image could not be printed: %s]\n"

type ComposerOptions struct {
	DotWidth      int
	LogoOffset    int
	FeedLines     int
	RasterTimeout time.Duration
	Raster        raster.Options
	// CodePage selects text transcoding. Nil sends UTF-8 unchanged.
	CodePage *escpos.CodePage
}

// Composer maps a PrintJob onto an ESC/POS command stream.
type Composer struct {
	opts ComposerOptions
	logo *raster.Bitmap
}

// Composition is a fully encoded job. ImageErr is set when the job's image
// was replaced by an annotation.
type Composition struct {
	Data     []byte
	ImageErr error
}

func NewComposer(opts ComposerOptions, logo *raster.Bitmap) *Composer {
	if opts.RasterTimeout <= 0 {
		opts.RasterTimeout = 20 * time.Second
	}
	return &Composer{opts: opts, logo: logo}
}

// LoadLogo rasterizes the image at path once at startup. An empty path means
// no logo.
func LoadLogo(ctx context.Context, path string, widthDots int, opts raster.Options) (*raster.Bitmap, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read logo: %w", err)
	}
	bm, err := raster.Rasterize(ctx, data, widthDots, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize logo: %w", err)
	}
	return bm, nil
}

func (c *Composer) encoder() *escpos.Encoder {
	if c.opts.CodePage != nil {
		return escpos.NewEncoder(escpos.WithCodePage(*c.opts.CodePage))
	}
	return escpos.NewEncoder()
}

// Compose encodes job. Image failures never fail the job; they come back in
// Composition.ImageErr. The returned error covers only encoder faults.
func (c *Composer) Compose(ctx context.Context, job *PrintJob) (*Composition, error) {
	e := c.encoder().Reset()

	if c.logo != nil {
		if job.Name == "" {
			e.SetAlignment(escpos.AlignCenter).Bitmap(c.logo)
		} else {
			e.SetAlignment(escpos.AlignLeft).
				SetAbsolutePosition(c.opts.LogoOffset).
				Bitmap(c.logo)
		}
		e.SetAlignment(escpos.AlignLeft)
	}

	if job.Name != "" {
		e.SetAlignment(escpos.AlignCenter).
			SetBold(true).
			SetTextSize(2, 2).
			Text(job.Name + "\n").
			SetTextSize(1, 1).
			SetBold(false).
			SetAlignment(escpos.AlignLeft)
	}

	if job.Text != "" {
		e.SetAlignment(escpos.AlignLeft).Text(job.Text + "\n")
	}

	comp := &Composition{}
	if job.Image != nil {
		bm, err := c.rasterize(ctx, job.Image)
		if err != nil {
			comp.ImageErr = err
			logger.Warn("Image could not be printed",
				zap.String("job_id", job.ID),
				zap.String("filename", job.Image.Filename),
				zap.Error(err))
			e.SetAlignment(escpos.AlignLeft).Text(fmt.Sprintf(imageAnnotation, err))
		} else {
			e.SetAlignment(escpos.AlignCenter).Bitmap(bm).SetAlignment(escpos.AlignLeft)
		}
	}

	e.Feed(c.opts.FeedLines).Cut()

	if err := e.Err(); err != nil {
		return nil, fmt.Errorf("failed to encode job: %w", err)
	}
	comp.Data = e.Build()
	return comp, nil
}

func (c *Composer) rasterize(ctx context.Context, img *Attachment) (*raster.Bitmap, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.RasterTimeout)
	defer cancel()
	return raster.Rasterize(ctx, img.Data, c.opts.DotWidth, c.opts.Raster)
}
