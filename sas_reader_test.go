package scf

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRLEDecompress(t *testing.T) {

	tests := []struct {
		name   string
		in     []byte
		length int
		want   string
	}{
		{"copy", []byte{0x82, 'x', 'y', 'z'}, 3, "xyz"},
		{"run", []byte{0xC2, 'a'}, 5, "aaaaa"},
		{"blanks", []byte{0xE1}, 3, "   "},
		{"at signs", []byte{0xD0}, 2, "@@"},
		{"nulls", []byte{0xF0}, 2, "\x00\x00"},
		{"long run", []byte{0x40, 0x00, 'b'}, 18, strings.Repeat("b", 18)},
		{"long blanks", []byte{0x60, 0x01}, 18, strings.Repeat(" ", 18)},
		{"mixed", []byte{0x82, 'x', 'y', 'z', 0xC2, 'a', 0xE1}, 11, "xyzaaaaa   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rleDecompress(tt.length, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRLEDecompressErrors(t *testing.T) {

	// Copy runs past the input.
	_, err := rleDecompress(6, []byte{0x85, 'a'})
	assert.ErrorIs(t, err, errShortInput)

	// Expands to the wrong length.
	_, err = rleDecompress(5, []byte{0x82, 'x', 'y', 'z'})
	assert.Error(t, err)

	// Unknown command.
	_, err = rleDecompress(1, []byte{0x10})
	assert.Error(t, err)
}

func TestRDCDecompress(t *testing.T) {

	tests := []struct {
		name   string
		in     []byte
		length int
		want   string
	}{
		{"literals", []byte{0x00, 0x00, 'a', 'b', 'c'}, 3, "abc"},
		{"short run", []byte{0x80, 0x00, 0x02, 'z'}, 5, "zzzzz"},
		{"long run", []byte{0x80, 0x00, 0x10, 0x00, 'q'}, 19, strings.Repeat("q", 19)},
		{"short pattern", []byte{0x10, 0x00, 'a', 'b', 'c', 0x30, 0x00}, 6, "abcabc"},
		{"overlapping pattern", []byte{0x10, 0x00, 'a', 'b', 'c', 0x50, 0x00}, 8, "abcabcab"},
		{"long pattern", []byte{0x10, 0x00, 'a', 'b', 'c', 0x20, 0x00, 0x00}, 19, "abc" + strings.Repeat("abc", 5) + "a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rdcDecompress(tt.length, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestRDCDecompressErrors(t *testing.T) {

	// Back reference before the start of the output.
	_, err := rdcDecompress(3, []byte{0x80, 0x00, 0x30, 0x00})
	assert.Error(t, err)

	// Run value missing.
	_, err = rdcDecompress(3, []byte{0x80, 0x00, 0x00})
	assert.ErrorIs(t, err, errShortInput)

	// Expands to the wrong length.
	_, err = rdcDecompress(4, []byte{0x00, 0x00, 'a', 'b', 'c'})
	assert.Error(t, err)
}

func TestSASNotSAS(t *testing.T) {

	_, err := NewSASReader(bytes.NewReader(make([]byte, 1024)))
	assert.ErrorIs(t, err, ErrFileRead)

	_, err = NewSASReader(bytes.NewReader([]byte("short")))
	assert.ErrorIs(t, err, ErrFileRead)
}

func TestSASEncodings(t *testing.T) {
	enc, ok := sasEncodings[62]
	require.True(t, ok)

	sas := &SASReader{TextDecoder: enc.decoder.NewDecoder()}
	assert.Equal(t, "café", sas.decode([]byte("caf\xe9")))

	sas = &SASReader{}
	assert.Equal(t, "plain", sas.decode([]byte("plain")))
}

// sasTestRow is one row of the file built by sas7bdat.
type sasTestRow struct {
	age  float64
	name string
}

// sas7bdat builds an uncompressed 32 bit little-endian SAS7BDAT file
// with a numeric column AGE and an 8 byte string column NAME.  The
// file holds the header, one meta page and one data page.
func sas7bdat(t *testing.T, rows []sasTestRow) []byte {
	t.Helper()

	const pageLen = 1024
	le := binary.LittleEndian
	put32 := func(b []byte, pos, v int) { le.PutUint32(b[pos:], uint32(int32(v))) }
	put16 := func(b []byte, pos, v int) { le.PutUint16(b[pos:], uint16(int16(v))) }

	// Header
	hdr := make([]byte, pageLen)
	copy(hdr, sasMagic)
	hdr[endiannessOffset] = 0x01
	hdr[platformOffset] = '1'
	hdr[encodingOffset] = 20
	copy(hdr[datasetOffset:], "SCFTEST")
	le.PutUint64(hdr[dateCreatedOffset:], math.Float64bits(60*60*24*400))
	le.PutUint64(hdr[dateModOffset:], math.Float64bits(60*60*24*400))
	put32(hdr, headerSizeOffset, pageLen)
	put32(hdr, pageSizeOffset, pageLen)
	put32(hdr, pageCountOffset, 2)
	copy(hdr[sasReleaseOffset:], "9.0401M6")
	copy(hdr[osNameOffset:], "Linux")

	// Meta page with five subheaders.  Offsets are relative to the page.
	meta := make([]byte, pageLen)
	put16(meta, pageBitOffsetX86+pageTypeOffset, pageMetaType)
	put16(meta, pageBitOffsetX86+subheaderCountOffset, 5)

	type subheader struct {
		offset, length int
	}
	subs := []subheader{{200, 480}, {680, 12}, {700, 52}, {760, 36}, {800, 44}}
	for i, sh := range subs {
		pos := pageBitOffsetX86 + subheaderPointersBase + subheaderPointerLengthX86*i
		put32(meta, pos, sh.offset)
		put32(meta, pos+4, sh.length)
	}

	// Row size
	rs := subs[0].offset
	copy(meta[rs:], "\xF7\xF7\xF7\xF7")
	put32(meta, rs+rowLengthMultiplier*4, 16)
	put32(meta, rs+rowCountMultiplier*4, len(rows))
	put32(meta, rs+colCountP1Multiplier*4, 2)
	put32(meta, rs+colCountP2Multiplier*4, 0)

	// Column size
	cs := subs[1].offset
	copy(meta[cs:], "\xF6\xF6\xF6\xF6")
	put32(meta, cs+4, 2)

	// Column text: the block starts after the signature, names at 32.
	ct := subs[2].offset
	copy(meta[ct:], "\xFD\xFF\xFF\xFF")
	copy(meta[ct+4+32:], "AGENAME")

	// Column names: text block, start and length for each column.
	cn := subs[3].offset
	copy(meta[cn:], "\xFF\xFF\xFF\xFF")
	for i, ref := range [][2]int{{32, 3}, {35, 4}} {
		base := cn + 4 + columnNamePointerWidth*(i+1)
		put16(meta, base, 0)
		put16(meta, base+2, ref[0])
		put16(meta, base+4, ref[1])
	}

	// Column attributes: offset in the row, width and type.
	ca := subs[4].offset
	copy(meta[ca:], "\xFC\xFF\xFF\xFF")
	for i, attr := range [][3]int{{0, 8, 1}, {8, 8, 2}} {
		step := i * 12
		put32(meta, ca+12+step, attr[0])
		put32(meta, ca+16+step, attr[1])
		meta[ca+22+step] = byte(attr[2])
	}

	// Data page
	data := make([]byte, pageLen)
	put16(data, pageBitOffsetX86+pageTypeOffset, pageDataType)
	put16(data, pageBitOffsetX86+blockCountOffset, len(rows))
	for i, r := range rows {
		pos := pageBitOffsetX86 + subheaderPointersBase + 16*i
		le.PutUint64(data[pos:], math.Float64bits(r.age))
		name := []byte("        ")
		copy(name, r.name)
		copy(data[pos+8:], name)
	}

	var b bytes.Buffer
	b.Write(hdr)
	b.Write(meta)
	b.Write(data)
	return b.Bytes()
}

var sasTestRows = []sasTestRow{{30, "ann"}, {math.NaN(), "bo"}, {62.5, "carla"}}

func TestSASRead(t *testing.T) {

	sas, err := NewSASReader(bytes.NewReader(sas7bdat(t, sasTestRows)))
	require.NoError(t, err)

	assert.Equal(t, "SCFTEST", sas.Name)
	assert.Equal(t, "unix", sas.Platform)
	assert.Equal(t, "utf-8", sas.FileEncoding)
	assert.Equal(t, "9.0401M6", sas.SASRelease)
	assert.Equal(t, "Linux", sas.OSName)
	assert.False(t, sas.U64)
	assert.Empty(t, sas.Compression)
	assert.Equal(t, 1961, sas.DateCreated.Year())
	assert.Equal(t, 3, sas.RowCount())
	assert.Equal(t, []string{"AGE", "NAME"}, sas.ColumnNames())

	data, err := sas.Read(2)
	require.NoError(t, err)
	expected := make([]*Series, 2)
	expected[0], _ = NewSeries("AGE", []float64{30, 0}, []bool{false, true})
	expected[1], _ = NewSeries("NAME", []string{"ann", "bo"}, []bool{false, false})
	ok, j, i := SeriesArray(data).AllEqual(expected)
	assert.True(t, ok, "column %d row %d", j, i)

	data, err = sas.Read(10)
	require.NoError(t, err)
	expected[0], _ = NewSeries("AGE", []float64{62.5}, nil)
	expected[1], _ = NewSeries("NAME", []string{"carla"}, nil)
	ok, j, i = SeriesArray(data).AllEqual(expected)
	assert.True(t, ok, "column %d row %d", j, i)

	_, err = sas.Read(10)
	assert.Equal(t, io.EOF, err)
}

func TestSASReadTable(t *testing.T) {

	path := filepath.Join(t.TempDir(), "rscfp2019.sas7bdat")
	require.NoError(t, os.WriteFile(path, sas7bdat(t, sasTestRows), 0o644))

	tbl, err := ReadTable(path, FormatSAS, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"AGE", "NAME"}, tbl.Names())
	assert.Equal(t, 3, tbl.NumRows())

	assert.Equal(t, []bool{false, true, false}, tbl.Column("AGE").Missing())
	assert.Equal(t, 62.5, tbl.Column("AGE").Data().([]float64)[2])
	assert.Equal(t, []string{"ann", "bo", "carla"}, tbl.Column("NAME").Data())
}

func TestSASTruncated(t *testing.T) {
	b := sas7bdat(t, sasTestRows)
	_, err := NewSASReader(bytes.NewReader(b[:600]))
	assert.ErrorIs(t, err, ErrFileRead)
}
