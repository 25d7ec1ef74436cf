package scf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"regexp"
	"time"
	"unicode/utf8"
)

// stataMissingDouble is the bit pattern Stata uses for the system
// missing value "." in a double column.
const stataMissingDouble = 0x7FE0000000000000

// A StataWriter writes a Table as a dta 118 file.  Numeric columns are
// stored as doubles and string columns as fixed-width strings sized to
// their longest value.
type StataWriter struct {

	// A short text label for the data set.
	DatasetLabel string

	// The time stamp written to the header.  If zero, the current
	// time is used.
	TimeStamp time.Time
}

// NewStataWriter returns a StataWriter with an empty data set label.
func NewStataWriter() *StataWriter {
	return &StataWriter{}
}

// dtaWriter tracks the byte position while writing.
type dtaWriter struct {
	w   *bufio.Writer
	n   int64
	err error
	buf [8]byte
}

func (d *dtaWriter) bytes(b []byte) {
	if d.err != nil {
		return
	}
	m, err := d.w.Write(b)
	d.n += int64(m)
	d.err = err
}

func (d *dtaWriter) str(s string) {
	d.bytes([]byte(s))
}

// fixed writes s into a null-padded field of the given width.
func (d *dtaWriter) fixed(s string, width int) {
	b := make([]byte, width)
	copy(b[:width-1], s)
	d.bytes(b)
}

func (d *dtaWriter) u8(x uint8) {
	d.bytes([]byte{x})
}

func (d *dtaWriter) u16(x uint16) {
	binary.LittleEndian.PutUint16(d.buf[:2], x)
	d.bytes(d.buf[:2])
}

func (d *dtaWriter) u64(x uint64) {
	binary.LittleEndian.PutUint64(d.buf[:8], x)
	d.bytes(d.buf[:8])
}

// stataLayout holds the type code and byte width of each column.
type stataLayout struct {
	types  []int
	widths []int
}

// stataName matches a legal dta 118 variable name.  The length limit
// of 32 characters is checked separately.
var stataName = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_]*$`)

const stataMaxNameChars = 32

func stataColumnLayout(t *Table) (*stataLayout, error) {
	lay := &stataLayout{}
	for _, c := range t.Columns() {
		if !stataName.MatchString(c.Name) || utf8.RuneCountInString(c.Name) > stataMaxNameChars {
			return nil, fmt.Errorf("%w: %q is not a valid Stata variable name", ErrFileWrite, c.Name)
		}
		if c.IsNumeric() {
			lay.types = append(lay.types, stataDouble)
			lay.widths = append(lay.widths, 8)
			continue
		}
		w := 1
		x, _, err := c.AsStringSlice()
		if err != nil {
			return nil, err
		}
		for i, s := range x {
			if !c.IsMissing(i) && len(s) > w {
				w = len(s)
			}
		}
		if w > stataMaxStr {
			return nil, fmt.Errorf("%w: column %s has a %d byte value, dta strings hold at most %d",
				ErrFileWrite, c.Name, w, stataMaxStr)
		}
		lay.types = append(lay.types, w)
		lay.widths = append(lay.widths, w)
	}
	return lay, nil
}

// Write writes t to out in dta 118 format.  The map of section
// offsets is filled in after the data are written, so out must
// support seeking.
func (sw *StataWriter) Write(out io.WriteSeeker, t *Table) error {

	if t.NumCols() > math.MaxUint16 {
		return fmt.Errorf("%w: %d columns exceeds the dta limit", ErrFileWrite, t.NumCols())
	}
	lay, err := stataColumnLayout(t)
	if err != nil {
		return err
	}

	ts := sw.TimeStamp
	if ts.IsZero() {
		ts = time.Now()
	}

	d := &dtaWriter{w: bufio.NewWriterSize(out, 1<<16)}
	var offsets [14]uint64
	mark := func(k int) {
		offsets[k] = uint64(d.n)
	}

	mark(0)
	d.str("<stata_dta><header><release>118</release><byteorder>LSF</byteorder><K>")
	d.u16(uint16(t.NumCols()))
	d.str("</K><N>")
	d.u64(uint64(t.NumRows()))
	d.str("</N><label>")
	label := sw.DatasetLabel
	if len(label) > 80 {
		label = label[:80]
	}
	d.u16(uint16(len(label)))
	d.str(label)
	d.str("</label><timestamp>")
	stamp := ts.Format("02 Jan 2006 15:04")
	d.u8(uint8(len(stamp)))
	d.str(stamp)
	d.str("</timestamp></header>")

	mark(1)
	d.str("<map>")
	for range offsets {
		d.u64(0)
	}
	d.str("</map>")

	mark(2)
	d.str("<variable_types>")
	for _, tp := range lay.types {
		d.u16(uint16(tp))
	}
	d.str("</variable_types>")

	mark(3)
	d.str("<varnames>")
	for _, name := range t.Names() {
		d.fixed(name, 129)
	}
	d.str("</varnames>")

	mark(4)
	d.str("<sortlist>")
	for j := 0; j <= t.NumCols(); j++ {
		d.u16(0)
	}
	d.str("</sortlist>")

	mark(5)
	d.str("<formats>")
	for _, tp := range lay.types {
		if tp == stataDouble {
			d.fixed("%10.0g", 57)
		} else {
			d.fixed(fmt.Sprintf("%%%ds", tp), 57)
		}
	}
	d.str("</formats>")

	mark(6)
	d.str("<value_label_names>")
	for range lay.types {
		d.fixed("", 129)
	}
	d.str("</value_label_names>")

	mark(7)
	d.str("<variable_labels>")
	for range lay.types {
		d.fixed("", 321)
	}
	d.str("</variable_labels>")

	mark(8)
	d.str("<characteristics></characteristics>")

	mark(9)
	d.str("<data>")
	writeDtaRows(d, t, lay)
	d.str("</data>")

	mark(10)
	d.str("<strls></strls>")

	mark(11)
	d.str("<value_labels></value_labels>")

	mark(12)
	d.str("</stata_dta>")

	mark(13)

	if d.err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, d.err)
	}
	if err := d.w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}

	// Fill in the map.
	if _, err := out.Seek(int64(offsets[1])+5, io.SeekStart); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}
	mp := make([]byte, 8*len(offsets))
	for k, v := range offsets {
		binary.LittleEndian.PutUint64(mp[8*k:], v)
	}
	if _, err := out.Write(mp); err != nil {
		return fmt.Errorf("%w: %v", ErrFileWrite, err)
	}
	_, err = out.Seek(0, io.SeekEnd)
	return err
}

func writeDtaRows(d *dtaWriter, t *Table, lay *stataLayout) {

	cols := t.Columns()
	fdata := make([][]float64, len(cols))
	sdata := make([][]string, len(cols))
	for j, c := range cols {
		if c.IsNumeric() {
			fdata[j] = c.data.([]float64)
		} else {
			sdata[j] = c.data.([]string)
		}
	}

	for i := 0; i < t.NumRows(); i++ {
		for j, c := range cols {
			if fdata[j] != nil {
				if c.IsMissing(i) {
					d.u64(stataMissingDouble)
				} else {
					d.u64(math.Float64bits(fdata[j][i]))
				}
				continue
			}
			b := make([]byte, lay.widths[j])
			if !c.IsMissing(i) {
				copy(b, sdata[j][i])
			}
			d.bytes(b)
		}
		if d.err != nil {
			return
		}
	}
}
