// Package escpos builds ESC/POS command streams for thermal receipt printers.
package escpos

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/orrn/thermalspool/internal/raster"
)

const (
	ESC = 0x1B
	GS  = 0x1D
)

type Alignment byte

const (
	AlignLeft   Alignment = 0
	AlignCenter Alignment = 1
	AlignRight  Alignment = 2
)

// maxRasterRows is the largest height a single GS v 0 header can declare.
const maxRasterRows = 0xFFFF

type CodePage struct {
	Name  string
	Table byte
	cmap  *charmap.Charmap
}

var codePages = map[string]CodePage{
	"cp437":   {Name: "cp437", Table: 0, cmap: charmap.CodePage437},
	"cp850":   {Name: "cp850", Table: 2, cmap: charmap.CodePage850},
	"cp866":   {Name: "cp866", Table: 17, cmap: charmap.CodePage866},
	"cp858":   {Name: "cp858", Table: 19, cmap: charmap.CodePage858},
	"wpc1252": {Name: "wpc1252", Table: 16, cmap: charmap.Windows1252},
	"cp1252":  {Name: "wpc1252", Table: 16, cmap: charmap.Windows1252},
}

// LookupCodePage resolves a configured code page name. An empty name means
// raw UTF-8 passthrough and returns ok=false with no error.
func LookupCodePage(name string) (CodePage, bool, error) {
	if name == "" {
		return CodePage{}, false, nil
	}
	cp, ok := codePages[strings.ToLower(name)]
	if !ok {
		return CodePage{}, false, fmt.Errorf("unsupported code page: %s", name)
	}
	return cp, true, nil
}

type Option func(*Encoder)

func WithCodePage(cp CodePage) Option {
	return func(e *Encoder) {
		e.codePage = &cp
	}
}

// Encoder accumulates command fragments. Methods return the encoder so
// calls can be chained; Build returns the concatenated stream.
type Encoder struct {
	buf      []byte
	codePage *CodePage
	err      error
}

func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) Reset() *Encoder {
	e.buf = append(e.buf, ESC, '@')
	if e.codePage != nil {
		e.buf = append(e.buf, ESC, 't', e.codePage.Table)
	}
	return e
}

func (e *Encoder) SetAlignment(a Alignment) *Encoder {
	e.buf = append(e.buf, ESC, 'a', byte(a))
	return e
}

func (e *Encoder) SetBold(on bool) *Encoder {
	var n byte
	if on {
		n = 1
	}
	e.buf = append(e.buf, ESC, 'E', n)
	return e
}

// SetTextSize selects character magnification; both factors clamp to 1..8.
func (e *Encoder) SetTextSize(width, height int) *Encoder {
	w, h := clampSize(width), clampSize(height)
	e.buf = append(e.buf, GS, '!', byte((w-1)<<4|(h-1)))
	return e
}

func clampSize(n int) int {
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}

func (e *Encoder) SetAbsolutePosition(dots int) *Encoder {
	if dots < 0 {
		dots = 0
	}
	if dots > 0xFFFF {
		dots = 0xFFFF
	}
	e.buf = append(e.buf, ESC, '$', byte(dots), byte(dots>>8))
	return e
}

// Text appends s, transcoded through the code page when one is set.
// C0 control characters other than newline and tab are dropped so user
// text can never inject commands.
func (e *Encoder) Text(s string) *Encoder {
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		chunk := s[:size]
		s = s[size:]

		if (r < 0x20 && r != '\n' && r != '\t') || r == 0x7F {
			continue
		}
		if e.codePage == nil {
			e.buf = append(e.buf, chunk...)
			continue
		}
		if r == utf8.RuneError && size == 1 {
			e.buf = append(e.buf, '?')
			continue
		}
		b, ok := e.codePage.cmap.EncodeRune(r)
		if !ok {
			b = '?'
		}
		e.buf = append(e.buf, b)
	}
	return e
}

// RasterImage appends a GS v 0 normal-mode raster. bits must hold
// ceil(width/8)*height bytes. Images taller than a header can describe are
// emitted as consecutive fragments.
func (e *Encoder) RasterImage(bits []byte, width, height int) *Encoder {
	if width <= 0 || height <= 0 {
		return e
	}
	stride := (width + 7) / 8
	if stride > 0xFFFF {
		e.setErr(fmt.Errorf("raster width %d exceeds command limit", width))
		return e
	}
	if len(bits) != stride*height {
		e.setErr(fmt.Errorf("raster data length %d does not match %dx%d", len(bits), width, height))
		return e
	}

	for row := 0; row < height; row += maxRasterRows {
		rows := height - row
		if rows > maxRasterRows {
			rows = maxRasterRows
		}
		e.buf = append(e.buf,
			GS, 'v', '0', 0,
			byte(stride), byte(stride>>8),
			byte(rows), byte(rows>>8),
		)
		e.buf = append(e.buf, bits[row*stride:(row+rows)*stride]...)
	}
	return e
}

func (e *Encoder) Bitmap(bm *raster.Bitmap) *Encoder {
	if bm == nil {
		return e
	}
	return e.RasterImage(bm.Bits, bm.Width, bm.Height)
}

func (e *Encoder) Feed(lines int) *Encoder {
	if lines < 0 {
		lines = 0
	}
	if lines > 255 {
		lines = 255
	}
	e.buf = append(e.buf, ESC, 'd', byte(lines))
	return e
}

func (e *Encoder) Cut() *Encoder {
	e.buf = append(e.buf, GS, 'V', 0)
	return e
}

// Err reports the first malformed fragment, if any. Malformed fragments are
// never written to the buffer.
func (e *Encoder) Err() error {
	return e.err
}

func (e *Encoder) setErr(err error) {
	if e.err == nil {
		e.err = err
	}
}

func (e *Encoder) Len() int {
	return len(e.buf)
}

func (e *Encoder) Build() []byte {
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	return out
}
