package efi

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

var (
	ucs2 = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

	crlf = []byte("\r\n")
)

// Console implements io.Writer on top of the firmware's simple text output
// protocol. Text is converted to UCS-2 and line feeds are expanded to
// carriage return and line feed pairs before being sent to the output
// device. The console stops accepting output once boot services have been
// exited.
type Console struct {
	fw  *Firmware
	out *transform.Writer
}

func newConsole(fw *Firmware, device io.Writer) *Console {
	// UCS-2 has no surrogate pairs; characters outside the basic
	// multilingual plane are replaced before encoding.
	toUCS2 := transform.Chain(
		runes.Map(func(r rune) rune {
			if r > 0xffff {
				return '\ufffd'
			}
			return r
		}),
		ucs2.NewEncoder(),
	)

	return &Console{fw: fw, out: transform.NewWriter(device, toUCS2)}
}

// Write implements io.Writer.
func (c *Console) Write(p []byte) (int, error) {
	if c.fw.exited {
		return 0, ErrUnsupported
	}

	var written int
	for len(p) > 0 {
		n := len(p)
		for i, ch := range p {
			if ch == '\n' {
				n = i
				break
			}
		}

		if n > 0 {
			if _, err := c.out.Write(p[:n]); err != nil {
				return written, err
			}
			written += n
			p = p[n:]
			continue
		}

		if _, err := c.out.Write(crlf); err != nil {
			return written, err
		}
		written++
		p = p[1:]
	}

	return written, nil
}

// NewTerminal returns a writer that decodes the UCS-2 stream produced by a
// Console back to UTF-8 before passing it to w. It stands in for the display
// attached to the firmware's text output device.
func NewTerminal(w io.Writer) io.WriteCloser {
	return transform.NewWriter(w, ucs2.NewDecoder())
}
