package scf

import (
	"errors"
	"fmt"
)

var errShortInput = errors.New("compressed row ends early")

// rleDecompress expands a row compressed with the SAS run length
// encoding (SASYZCRL).  The command set is described in
// https://cran.r-project.org/web/packages/sas7bdat/vignettes/sas7bdat.pdf
func rleDecompress(resultLength int, in []byte) ([]byte, error) {

	out := make([]byte, 0, resultLength)

	copyN := func(n int) error {
		if len(in) < n {
			return errShortInput
		}
		out = append(out, in[:n]...)
		in = in[n:]
		return nil
	}
	fill := func(b byte, n int) {
		for k := 0; k < n; k++ {
			out = append(out, b)
		}
	}
	next := func() (byte, error) {
		if len(in) == 0 {
			return 0, errShortInput
		}
		b := in[0]
		in = in[1:]
		return b, nil
	}

	for len(in) > 0 {
		ctrl := in[0] & 0xF0
		low := int(in[0] & 0x0F)
		in = in[1:]

		var err error
		switch ctrl {
		case 0x00:
			var b byte
			if b, err = next(); err == nil {
				err = copyN(int(b) + 64 + low*256)
			}
		case 0x40:
			var b, v byte
			if b, err = next(); err == nil {
				if v, err = next(); err == nil {
					fill(v, int(b)+18+low*256)
				}
			}
		case 0x60:
			var b byte
			if b, err = next(); err == nil {
				fill(0x20, low*256+int(b)+17)
			}
		case 0x70:
			var b byte
			if b, err = next(); err == nil {
				fill(0x00, low*256+int(b)+17)
			}
		case 0x80:
			err = copyN(low + 1)
		case 0x90:
			err = copyN(low + 17)
		case 0xA0:
			err = copyN(low + 33)
		case 0xB0:
			err = copyN(low + 49)
		case 0xC0:
			var v byte
			if v, err = next(); err == nil {
				fill(v, low+3)
			}
		case 0xD0:
			fill(0x40, low+2)
		case 0xE0:
			fill(0x20, low+2)
		case 0xF0:
			fill(0x00, low+2)
		default:
			return nil, fmt.Errorf("rle: unknown control byte %#x", ctrl)
		}
		if err != nil {
			return nil, fmt.Errorf("rle: %w", err)
		}
	}

	if len(out) != resultLength {
		return nil, fmt.Errorf("rle: expanded to %d bytes, expected %d", len(out), resultLength)
	}
	return out, nil
}

// rdcDecompress expands a row compressed with Ross Data Compression
// (SASYZCR2):
//
// http://collaboration.cmc.ec.gc.ca/science/rpn/biblio/ddj/Website/articles/CUJ/1992/9210/ross/ross.htm
func rdcDecompress(resultLength int, in []byte) ([]byte, error) {

	out := make([]byte, 0, resultLength)
	var ctrlBits, ctrlMask uint16
	pos := 0

	next := func() (byte, error) {
		if pos >= len(in) {
			return 0, errShortInput
		}
		b := in[pos]
		pos++
		return b, nil
	}
	fill := func(b byte, n int) {
		for k := 0; k < n; k++ {
			out = append(out, b)
		}
	}
	// Patterns may overlap their own output, so copy byte by byte.
	backref := func(ofs, cnt int) error {
		start := len(out) - ofs
		if start < 0 {
			return fmt.Errorf("back reference %d before start of output", ofs)
		}
		for k := 0; k < cnt; k++ {
			out = append(out, out[start+k])
		}
		return nil
	}

	for pos < len(in) {
		ctrlMask >>= 1
		if ctrlMask == 0 {
			if pos+2 > len(in) {
				return nil, fmt.Errorf("rdc: %w", errShortInput)
			}
			ctrlBits = uint16(in[pos])<<8 | uint16(in[pos+1])
			pos += 2
			ctrlMask = 0x8000
			if pos >= len(in) {
				break
			}
		}

		b, err := next()
		if err != nil {
			return nil, fmt.Errorf("rdc: %w", err)
		}
		if ctrlBits&ctrlMask == 0 {
			out = append(out, b)
			continue
		}

		cmd := int(b>>4) & 0x0F
		cnt := int(b & 0x0F)

		switch {
		case cmd == 0:
			// short run
			var v byte
			if v, err = next(); err == nil {
				fill(v, cnt+3)
			}
		case cmd == 1:
			// long run
			var x, v byte
			if x, err = next(); err == nil {
				if v, err = next(); err == nil {
					fill(v, cnt+int(x)<<4+19)
				}
			}
		case cmd == 2:
			// long pattern
			var x, c byte
			if x, err = next(); err == nil {
				if c, err = next(); err == nil {
					err = backref(cnt+3+int(x)<<4, int(c)+16)
				}
			}
		default:
			// short pattern
			var x byte
			if x, err = next(); err == nil {
				err = backref(cnt+3+int(x)<<4, cmd)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("rdc: %w", err)
		}
	}

	if len(out) != resultLength {
		return nil, fmt.Errorf("rdc: expanded to %d bytes, expected %d", len(out), resultLength)
	}
	return out, nil
}
