package raster

import "fmt"

// Bitmap is a 1-bit-per-pixel image packed row-major, most significant
// bit first. A set bit fires the dot (black).
type Bitmap struct {
	Width       int
	Height      int
	BytesPerRow int
	Bits        []byte
}

func NewBitmap(width, height int) *Bitmap {
	stride := (width + 7) / 8
	return &Bitmap{
		Width:       width,
		Height:      height,
		BytesPerRow: stride,
		Bits:        make([]byte, stride*height),
	}
}

// Set marks the dot at (x, y) black.
func (b *Bitmap) Set(x, y int) {
	b.Bits[y*b.BytesPerRow+x/8] |= 0x80 >> uint(x%8)
}

// Black reports whether the dot at (x, y) is set.
func (b *Bitmap) Black(x, y int) bool {
	return b.Bits[y*b.BytesPerRow+x/8]&(0x80>>uint(x%8)) != 0
}

func (b *Bitmap) String() string {
	return fmt.Sprintf("Bitmap(%dx%d, %d bytes/row)", b.Width, b.Height, b.BytesPerRow)
}
