package prompt

import (
	"context"
	"fmt"
	"image/color"
	"strings"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
)

// quietZone is the light border, in modules, scanners need around the code.
const quietZone = 2

// ShowQR draws url as a QR code with half-block characters, two module rows
// per line. Light modules are drawn so the code reads correctly on a dark
// terminal.
func (p *LinePrompter) ShowQR(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	code, err := qr.Encode(url, qr.M, qr.Auto)
	if err != nil {
		return fmt.Errorf("failed to encode QR code: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := fmt.Fprintf(p.out, "%s\nScan with the Steam mobile app or open %s\n", RenderQR(code), url); err != nil {
		return fmt.Errorf("failed to write QR code: %w", err)
	}
	return nil
}

// RenderQR returns code as lines of half-block characters, including the
// quiet zone.
func RenderQR(code barcode.Barcode) string {
	size := code.Bounds().Dx()
	light := func(x, y int) bool {
		if x < 0 || y < 0 || x >= size || y >= size {
			return true
		}
		return code.At(x, y) != color.Black
	}

	var b strings.Builder
	for y := -quietZone; y < size+quietZone; y += 2 {
		for x := -quietZone; x < size+quietZone; x++ {
			top, bottom := light(x, y), light(x, y+1)
			switch {
			case top && bottom:
				b.WriteRune('█')
			case top:
				b.WriteRune('▀')
			case bottom:
				b.WriteRune('▄')
			default:
				b.WriteRune(' ')
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}
