package scf

// Reads SAS7BDAT files.  The layout follows the Python module
// https://pypi.python.org/pypi/sas7bdat
//
// See also:
// https://cran.r-project.org/web/packages/sas7bdat/vignettes/sas7bdat.pdf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"time"

	xencoding "golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// SASReader reads a data file in SAS7BDAT format.
type SASReader struct {

	// Column format strings
	ColumnFormats []string

	// Strip trailing blanks from string values, which are stored
	// padded to a fixed width
	TrimStrings bool

	// If true, turns off alignment correction when reading mix-type
	// pages.  Some files are only read correctly with this set.
	NoAlignCorrection bool

	// The creation and modification dates of the file
	DateCreated  time.Time
	DateModified time.Time

	// Data set name from the header
	Name string

	// Creating platform
	Platform string

	// SAS release
	SASRelease string

	// Creating operating system
	OSName string

	// Character encoding named in the header
	FileEncoding string

	// Set for files written on 64 bit hosts
	U64 bool

	// Byte order of the numeric fields
	ByteOrder binary.ByteOrder

	// The compression mode of the file, empty if uncompressed
	Compression string

	// Decodes text to UTF-8.  Set from the file encoding; nil means
	// the text is used as is.
	TextDecoder *xencoding.Decoder

	// Receives warnings about inconsistent headers.
	Logger *slog.Logger

	rowCount     int
	columnTypes  []sasColumnType
	columnLabels []string
	columnNames  []string

	buf                []byte
	file               io.ReadSeeker
	cachedPage         []byte
	pageType           int
	pageBlockCount     int
	pageSubheaderCount int
	rowInFile          int
	rowOnPage          int
	rowInChunk         int
	dataPointers       []*subheaderPointer
	numchunk           [][]byte
	strchunk           [][]string
	textBlocks         []string
	columnDataOffsets  []int
	columnDataLengths  []int
	props              sasProperties
}

// Fixed once the header has been parsed.
type sasProperties struct {
	intLength              int
	pageBitOffset          int
	subheaderPointerLength int
	headerLength           int
	pageLength             int
	pageCount              int
	rowLength              int
	colCountP1             int
	colCountP2             int
	mixPageRowCount        int
	lcs                    int
	lcp                    int
	creatorProc            string
	columnCount            int
}

type subheaderPointer struct {
	offset      int
	length      int
	compression int
	ptype       int
}

type sasColumnType uint8

const (
	sasNumeric sasColumnType = iota
	sasString
)

const (
	rowSizeIndex = iota
	columnSizeIndex
	subheaderCountsIndex
	columnTextIndex
	columnNameIndex
	columnAttributesIndex
	formatAndLabelIndex
	columnListIndex
	dataSubheaderIndex
)

// Subheader signatures for both word sizes and byte orders
var subheaderIndex = map[string]int{
	"\xF7\xF7\xF7\xF7":                 rowSizeIndex,
	"\x00\x00\x00\x00\xF7\xF7\xF7\xF7": rowSizeIndex,
	"\xF7\xF7\xF7\xF7\x00\x00\x00\x00": rowSizeIndex,
	"\xF7\xF7\xF7\xF7\xFF\xFF\xFB\xFE": rowSizeIndex,
	"\xF6\xF6\xF6\xF6":                 columnSizeIndex,
	"\x00\x00\x00\x00\xF6\xF6\xF6\xF6": columnSizeIndex,
	"\xF6\xF6\xF6\xF6\x00\x00\x00\x00": columnSizeIndex,
	"\xF6\xF6\xF6\xF6\xFF\xFF\xFB\xFE": columnSizeIndex,
	"\x00\xFC\xFF\xFF":                 subheaderCountsIndex,
	"\xFF\xFF\xFC\x00":                 subheaderCountsIndex,
	"\x00\xFC\xFF\xFF\xFF\xFF\xFF\xFF": subheaderCountsIndex,
	"\xFF\xFF\xFF\xFF\xFF\xFF\xFC\x00": subheaderCountsIndex,
	"\xFD\xFF\xFF\xFF":                 columnTextIndex,
	"\xFF\xFF\xFF\xFD":                 columnTextIndex,
	"\xFD\xFF\xFF\xFF\xFF\xFF\xFF\xFF": columnTextIndex,
	"\xFF\xFF\xFF\xFF\xFF\xFF\xFF\xFD": columnTextIndex,
	"\xFF\xFF\xFF\xFF":                 columnNameIndex,
	"\xFF\xFF\xFF\xFF\xFF\xFF\xFF\xFF": columnNameIndex,
	"\xFC\xFF\xFF\xFF":                 columnAttributesIndex,
	"\xFF\xFF\xFF\xFC":                 columnAttributesIndex,
	"\xFC\xFF\xFF\xFF\xFF\xFF\xFF\xFF": columnAttributesIndex,
	"\xFF\xFF\xFF\xFF\xFF\xFF\xFF\xFC": columnAttributesIndex,
	"\xFE\xFB\xFF\xFF":                 formatAndLabelIndex,
	"\xFF\xFF\xFB\xFE":                 formatAndLabelIndex,
	"\xFE\xFB\xFF\xFF\xFF\xFF\xFF\xFF": formatAndLabelIndex,
	"\xFF\xFF\xFF\xFF\xFF\xFF\xFB\xFE": formatAndLabelIndex,
	"\xFE\xFF\xFF\xFF":                 columnListIndex,
	"\xFF\xFF\xFF\xFE":                 columnListIndex,
	"\xFE\xFF\xFF\xFF\xFF\xFF\xFF\xFF": columnListIndex,
	"\xFF\xFF\xFF\xFF\xFF\xFF\xFF\xFE": columnListIndex,
}

const (
	sasMagic = ("\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\x00\xc2\xea\x81\x60" +
		"\xb3\x14\x11\xcf\xbd\x92\x08\x00\x09\xc7\x31\x8c\x18\x1f\x10\x11")
	sasHeaderPrefix = 288

	align1Checker     = '3'
	align1Offset      = 32
	align2Offset      = 35
	align2Value       = 4
	u64Checker        = '3'
	endiannessOffset  = 37
	platformOffset    = 39
	encodingOffset    = 70
	datasetOffset     = 92
	datasetLength     = 64
	dateCreatedOffset = 164
	dateModOffset     = 172
	headerSizeOffset  = 196
	pageSizeOffset    = 200
	pageCountOffset   = 204
	sasReleaseOffset  = 216
	sasReleaseLength  = 8
	osMakerOffset     = 256
	osNameOffset      = 272
	osNameLength      = 16

	pageBitOffsetX86          = 16
	pageBitOffsetX64          = 32
	subheaderPointerLengthX86 = 12
	subheaderPointerLengthX64 = 24

	pageTypeOffset        = 0
	blockCountOffset      = 2
	subheaderCountOffset  = 4
	pageMetaType          = 0
	pageDataType          = 256
	pageMixType1          = 512
	pageMixType2          = 640
	pageAmdType           = 1024
	subheaderPointersBase = 8

	truncatedSubheaderID    = 1
	compressedSubheaderID   = 4
	compressedSubheaderType = 1

	rowLengthMultiplier    = 5
	rowCountMultiplier     = 6
	colCountP1Multiplier   = 9
	colCountP2Multiplier   = 10
	mixPageRowsMultiplier  = 15
	columnNamePointerWidth = 8

	rleCompression = "SASYZCRL"
	rdcCompression = "SASYZCR2"
)

// sasEncodings maps the encoding byte of the header to a name and a
// decoder.  A nil decoder leaves the bytes unchanged.
var sasEncodings = map[int]struct {
	name    string
	decoder xencoding.Encoding
}{
	20: {"utf-8", nil},
	29: {"latin1", charmap.ISO8859_1},
	33: {"cyrillic", charmap.ISO8859_5},
	60: {"wlatin2", charmap.Windows1250},
	61: {"wcyrillic", charmap.Windows1251},
	62: {"wlatin1", charmap.Windows1252},
	90: {"ebcdic870", charmap.CodePage037},
}

// NewSASReader returns a new reader object for SAS7BDAT files.
// Rows are obtained with Read.
func NewSASReader(r io.ReadSeeker) (*SASReader, error) {

	sas := &SASReader{
		file:        r,
		TrimStrings: true,
		Logger:      slog.Default(),
	}
	if err := sas.getProperties(); err != nil {
		return nil, fmt.Errorf("%w: sas7bdat: %v", ErrFileRead, err)
	}

	sas.cachedPage = make([]byte, sas.props.pageLength)
	if err := sas.parseMetadata(); err != nil {
		return nil, fmt.Errorf("%w: sas7bdat: %v", ErrFileRead, err)
	}

	return sas, nil
}

// RowCount returns the row count from the header.
func (sas *SASReader) RowCount() int {
	return sas.rowCount
}

// ColumnNames returns the variable names.
func (sas *SASReader) ColumnNames() []string {
	return sas.columnNames
}

// ColumnLabels returns the variable labels.
func (sas *SASReader) ColumnLabels() []string {
	return sas.columnLabels
}

func (sas *SASReader) decompress(in []byte) ([]byte, error) {
	switch sas.Compression {
	case rleCompression:
		return rleDecompress(sas.props.rowLength, in)
	case rdcCompression:
		return rdcDecompress(sas.props.rowLength, in)
	}
	return nil, fmt.Errorf("unknown compression %q", sas.Compression)
}

// readBytes copies length bytes from the given offset in the current
// page (or from the beginning of the file if no page has yet been
// read) into sas.buf.
func (sas *SASReader) readBytes(offset, length int) error {

	if cap(sas.buf) < length {
		sas.buf = make([]byte, 2*length)
	}

	if sas.cachedPage == nil {
		if _, err := sas.file.Seek(int64(offset), io.SeekStart); err != nil {
			return err
		}
		if _, err := io.ReadFull(sas.file, sas.buf[0:length]); err != nil {
			return fmt.Errorf("unable to read %d bytes from file position %d: %w", length, offset, err)
		}
		return nil
	}

	if offset < 0 || offset+length > len(sas.cachedPage) {
		return errors.New("read past the end of the cached page")
	}
	copy(sas.buf, sas.cachedPage[offset:offset+length])
	return nil
}

// intFromBytes decodes a signed integer of 1, 2, 4 or 8 bytes.
func (sas *SASReader) intFromBytes(b []byte) (int, error) {
	switch len(b) {
	case 1:
		return int(int8(b[0])), nil
	case 2:
		return int(int16(sas.ByteOrder.Uint16(b))), nil
	case 4:
		return int(int32(sas.ByteOrder.Uint32(b))), nil
	case 8:
		return int(int64(sas.ByteOrder.Uint64(b))), nil
	}
	return 0, fmt.Errorf("invalid integer width %d", len(b))
}

// readInt reads an integer of the given width at offset.
func (sas *SASReader) readInt(offset, width int) (int, error) {
	if err := sas.readBytes(offset, width); err != nil {
		return 0, err
	}
	return sas.intFromBytes(sas.buf[0:width])
}

func (sas *SASReader) readFloat(offset int) (float64, error) {
	if err := sas.readBytes(offset, 8); err != nil {
		return 0, err
	}
	return math.Float64frombits(sas.ByteOrder.Uint64(sas.buf[0:8])), nil
}

func (sas *SASReader) readText(offset, length int) (string, error) {
	if err := sas.readBytes(offset, length); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(sas.buf[0:length], " \x00")), nil
}

// sasDateTime converts seconds since 1960-01-01 to a time.
func sasDateTime(x float64) time.Time {
	base := time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC)
	return base.Add(time.Duration(x) * time.Second)
}

func (sas *SASReader) getProperties() error {

	prop := &sas.props

	if err := sas.readBytes(0, sasHeaderPrefix); err != nil {
		return err
	}
	sas.cachedPage = make([]byte, sasHeaderPrefix)
	copy(sas.cachedPage, sas.buf[0:sasHeaderPrefix])
	if !bytes.Equal(sas.cachedPage[0:len(sasMagic)], []byte(sasMagic)) {
		return errors.New("magic number mismatch (not a SAS file?)")
	}

	// Alignment
	var align1, align2 int
	prop.pageBitOffset = pageBitOffsetX86
	prop.subheaderPointerLength = subheaderPointerLengthX86
	prop.intLength = 4
	if sas.cachedPage[align1Offset] == u64Checker {
		align2 = align2Value
		sas.U64 = true
		prop.intLength = 8
		prop.pageBitOffset = pageBitOffsetX64
		prop.subheaderPointerLength = subheaderPointerLengthX64
	}
	if sas.cachedPage[align2Offset] == align1Checker {
		align1 = align2Value
	}
	totalAlign := align1 + align2

	if sas.cachedPage[endiannessOffset] == 0x01 {
		sas.ByteOrder = binary.LittleEndian
	} else {
		sas.ByteOrder = binary.BigEndian
	}

	switch sas.cachedPage[platformOffset] {
	case '1':
		sas.Platform = "unix"
	case '2':
		sas.Platform = "windows"
	default:
		sas.Platform = "unknown"
	}

	code := int(sas.cachedPage[encodingOffset])
	if enc, ok := sasEncodings[code]; ok {
		sas.FileEncoding = enc.name
		if enc.decoder != nil {
			sas.TextDecoder = enc.decoder.NewDecoder()
		}
	} else {
		sas.FileEncoding = fmt.Sprintf("encoding code=%d", code)
	}

	var err error
	if sas.Name, err = sas.readText(datasetOffset, datasetLength); err != nil {
		return err
	}

	x, err := sas.readFloat(dateCreatedOffset + align1)
	if err != nil {
		return err
	}
	sas.DateCreated = sasDateTime(x)
	if x, err = sas.readFloat(dateModOffset + align1); err != nil {
		return err
	}
	sas.DateModified = sasDateTime(x)

	if prop.headerLength, err = sas.readInt(headerSizeOffset+align1, 4); err != nil {
		return fmt.Errorf("unable to read header size: %w", err)
	}
	if prop.headerLength < sasHeaderPrefix {
		return fmt.Errorf("invalid header length %d", prop.headerLength)
	}
	if sas.U64 && prop.headerLength != 8192 {
		sas.Logger.Warn("unexpected sas7bdat header length", "header_length", prop.headerLength)
	}

	// The remainder of the header goes into cachedPage.
	rest := make([]byte, prop.headerLength-sasHeaderPrefix)
	if _, err := io.ReadFull(sas.file, rest); err != nil {
		return errors.New("the SAS7BDAT file appears to be truncated")
	}
	sas.cachedPage = append(sas.cachedPage, rest...)

	if prop.pageLength, err = sas.readInt(pageSizeOffset+align1, 4); err != nil {
		return fmt.Errorf("unable to read the page size: %w", err)
	}
	if prop.pageLength <= 0 {
		return fmt.Errorf("invalid page length %d", prop.pageLength)
	}
	if prop.pageCount, err = sas.readInt(pageCountOffset+align1, 4); err != nil {
		return fmt.Errorf("unable to read the page count: %w", err)
	}

	if sas.SASRelease, err = sas.readText(sasReleaseOffset+totalAlign, sasReleaseLength); err != nil {
		return err
	}

	if sas.OSName, err = sas.readText(osNameOffset+totalAlign, osNameLength); err != nil {
		return err
	}
	if sas.OSName == "" {
		if sas.OSName, err = sas.readText(osMakerOffset+totalAlign, osNameLength); err != nil {
			return err
		}
	}

	return nil
}

func (sas *SASReader) parseMetadata() error {
	for {
		_, err := io.ReadFull(sas.file, sas.cachedPage)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.New("failed to read a meta data page")
		}
		done, err := sas.processPageMeta()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (sas *SASReader) processPageMeta() (bool, error) {

	if err := sas.readPageHeader(); err != nil {
		return false, err
	}

	switch sas.pageType {
	case pageMetaType, pageMixType1, pageMixType2, pageAmdType:
		if err := sas.processPageMetadata(); err != nil {
			return false, err
		}
	}

	done := isMixPage(sas.pageType) || sas.pageType == pageDataType ||
		sas.dataPointers != nil
	return done, nil
}

func isMixPage(t int) bool {
	return t == pageMixType1 || t == pageMixType2
}

func (sas *SASReader) readPageHeader() error {

	bitOffset := sas.props.pageBitOffset
	var err error
	if sas.pageType, err = sas.readInt(pageTypeOffset+bitOffset, 2); err != nil {
		return fmt.Errorf("unable to read page type: %w", err)
	}
	if sas.pageBlockCount, err = sas.readInt(blockCountOffset+bitOffset, 2); err != nil {
		return fmt.Errorf("unable to read block count: %w", err)
	}
	if sas.pageSubheaderCount, err = sas.readInt(subheaderCountOffset+bitOffset, 2); err != nil {
		return fmt.Errorf("unable to read subheader count: %w", err)
	}
	return nil
}

func (sas *SASReader) processPageMetadata() error {

	base := subheaderPointersBase + sas.props.pageBitOffset

	for i := 0; i < sas.pageSubheaderCount; i++ {
		pointer, err := sas.readSubheaderPointer(base, i)
		if err != nil {
			return err
		}
		if pointer.length == 0 || pointer.compression == truncatedSubheaderID {
			continue
		}
		if err := sas.readBytes(pointer.offset, sas.props.intLength); err != nil {
			return err
		}
		signature := string(sas.buf[0:sas.props.intLength])

		index, ok := subheaderIndex[signature]
		if !ok {
			f := pointer.compression == compressedSubheaderID || pointer.compression == 0
			if sas.Compression == "" || !f || pointer.ptype != compressedSubheaderType {
				return fmt.Errorf("unknown subheader signature %q", signature)
			}
			index = dataSubheaderIndex
		}
		if err := sas.processSubheader(index, pointer); err != nil {
			return err
		}
	}

	return nil
}

func (sas *SASReader) readSubheaderPointer(offset, index int) (*subheaderPointer, error) {

	intLen := sas.props.intLength
	pos := offset + sas.props.subheaderPointerLength*index

	var p subheaderPointer
	var err error
	if p.offset, err = sas.readInt(pos, intLen); err != nil {
		return nil, fmt.Errorf("unable to read subheader offset: %w", err)
	}
	pos += intLen
	if p.length, err = sas.readInt(pos, intLen); err != nil {
		return nil, fmt.Errorf("unable to read subheader length: %w", err)
	}
	pos += intLen
	if p.compression, err = sas.readInt(pos, 1); err != nil {
		return nil, fmt.Errorf("unable to read subheader compression: %w", err)
	}
	pos++
	if p.ptype, err = sas.readInt(pos, 1); err != nil {
		return nil, fmt.Errorf("unable to read subheader type: %w", err)
	}
	return &p, nil
}

func (sas *SASReader) processSubheader(index int, pointer *subheaderPointer) error {

	offset, length := pointer.offset, pointer.length

	switch index {
	case rowSizeIndex:
		return sas.processRowSizeSubheader(offset)
	case columnSizeIndex:
		return sas.processColumnSizeSubheader(offset)
	case columnTextIndex:
		return sas.processColumnTextSubheader(offset, length)
	case columnNameIndex:
		return sas.processColumnNameSubheader(offset, length)
	case columnAttributesIndex:
		return sas.processColumnAttributesSubheader(offset, length)
	case formatAndLabelIndex:
		return sas.processFormatSubheader(offset)
	case columnListIndex, subheaderCountsIndex:
		// not needed
		return nil
	case dataSubheaderIndex:
		sas.dataPointers = append(sas.dataPointers, pointer)
		return nil
	}
	return fmt.Errorf("unknown subheader index %d", index)
}

func (sas *SASReader) processRowSizeSubheader(offset int) error {

	intLen := sas.props.intLength
	lcsOffset, lcpOffset := offset+354, offset+378
	if sas.U64 {
		lcsOffset, lcpOffset = offset+682, offset+706
	}

	fields := []struct {
		dst *int
		pos int
		len int
	}{
		{&sas.props.rowLength, offset + rowLengthMultiplier*intLen, intLen},
		{&sas.rowCount, offset + rowCountMultiplier*intLen, intLen},
		{&sas.props.colCountP1, offset + colCountP1Multiplier*intLen, intLen},
		{&sas.props.colCountP2, offset + colCountP2Multiplier*intLen, intLen},
		{&sas.props.mixPageRowCount, offset + mixPageRowsMultiplier*intLen, intLen},
		{&sas.props.lcs, lcsOffset, 2},
		{&sas.props.lcp, lcpOffset, 2},
	}
	for _, f := range fields {
		v, err := sas.readInt(f.pos, f.len)
		if err != nil {
			return err
		}
		*f.dst = v
	}
	return nil
}

func (sas *SASReader) processColumnSizeSubheader(offset int) error {

	intLen := sas.props.intLength
	var err error
	if sas.props.columnCount, err = sas.readInt(offset+intLen, intLen); err != nil {
		return err
	}
	if sas.props.colCountP1+sas.props.colCountP2 != sas.props.columnCount {
		sas.Logger.Warn("sas7bdat column count mismatch",
			"p1", sas.props.colCountP1, "p2", sas.props.colCountP2,
			"columns", sas.props.columnCount)
	}
	return nil
}

func (sas *SASReader) processColumnTextSubheader(offset, length int) error {

	intLen := sas.props.intLength
	size := length - intLen
	if err := sas.readBytes(offset+intLen, size); err != nil {
		return fmt.Errorf("cannot read column text: %w", err)
	}
	text := string(sas.buf[0:size])
	sas.textBlocks = append(sas.textBlocks, text)

	if len(sas.textBlocks) != 1 {
		return nil
	}

	for _, c := range []string{rleCompression, rdcCompression} {
		if strings.Contains(text, c) {
			sas.Compression = c
			break
		}
	}

	// The creator procedure name follows the compression literal.
	pos := offset + 16
	if sas.U64 {
		pos += 4
	}
	if err := sas.readBytes(pos, 8); err != nil {
		return err
	}
	literal := strings.Trim(string(sas.buf[0:8]), "\x00")

	switch {
	case literal == "":
		sas.props.lcs = 0
		pos = offset + 32
	case literal == rleCompression:
		pos = offset + 40
	case sas.props.lcs > 0:
		sas.props.lcp = 0
		pos = offset + 16
	default:
		return nil
	}
	if sas.U64 {
		pos += 4
	}
	if sas.props.lcp > 0 {
		if err := sas.readBytes(pos, sas.props.lcp); err != nil {
			return err
		}
		sas.props.creatorProc = string(sas.buf[0:sas.props.lcp])
	}
	return nil
}

// textAt extracts a substring from one of the column text blocks.
func (sas *SASReader) textAt(block, start, length int) (string, error) {
	if block < 0 || block >= len(sas.textBlocks) {
		return "", fmt.Errorf("column text block %d out of range", block)
	}
	s := sas.textBlocks[block]
	if start < 0 || start+length > len(s) {
		return "", errors.New("column text reference out of range")
	}
	return sas.decode([]byte(s[start : start+length])), nil
}

func (sas *SASReader) decode(b []byte) string {
	if sas.TextDecoder == nil {
		return string(b)
	}
	s, err := sas.TextDecoder.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func (sas *SASReader) processColumnNameSubheader(offset, length int) error {

	intLen := sas.props.intLength
	offset += intLen
	count := (length - 2*intLen - 12) / 8
	for i := 0; i < count; i++ {
		base := offset + columnNamePointerWidth*(i+1)
		idx, err := sas.readInt(base, 2)
		if err != nil {
			return fmt.Errorf("unable to read text subheader for column name: %w", err)
		}
		start, err := sas.readInt(base+2, 2)
		if err != nil {
			return fmt.Errorf("unable to read column name offset: %w", err)
		}
		n, err := sas.readInt(base+4, 2)
		if err != nil {
			return fmt.Errorf("unable to read column name length: %w", err)
		}
		name, err := sas.textAt(idx, start, n)
		if err != nil {
			return err
		}
		sas.columnNames = append(sas.columnNames, name)
	}
	return nil
}

func (sas *SASReader) processColumnAttributesSubheader(offset, length int) error {

	intLen := sas.props.intLength
	count := (length - 2*intLen - 12) / (intLen + 8)
	for i := 0; i < count; i++ {
		step := i * (intLen + 8)

		x, err := sas.readInt(offset+intLen+8+step, intLen)
		if err != nil {
			return err
		}
		sas.columnDataOffsets = append(sas.columnDataOffsets, x)

		if x, err = sas.readInt(offset+2*intLen+8+step, 4); err != nil {
			return err
		}
		sas.columnDataLengths = append(sas.columnDataLengths, x)

		if x, err = sas.readInt(offset+2*intLen+14+step, 1); err != nil {
			return err
		}
		if x == 1 {
			sas.columnTypes = append(sas.columnTypes, sasNumeric)
		} else {
			sas.columnTypes = append(sas.columnTypes, sasString)
		}
	}
	return nil
}

func (sas *SASReader) processFormatSubheader(offset int) error {

	base := offset + 3*sas.props.intLength
	vals := make([]int, 6)
	for k, pos := range []int{22, 24, 26, 28, 30, 32} {
		v, err := sas.readInt(base+pos, 2)
		if err != nil {
			return err
		}
		vals[k] = v
	}
	last := len(sas.textBlocks) - 1
	formatIdx := min(vals[0], last)
	labelIdx := min(vals[3], last)

	format, err := sas.textAt(formatIdx, vals[1], vals[2])
	if err != nil {
		return err
	}
	label, err := sas.textAt(labelIdx, vals[4], vals[5])
	if err != nil {
		return err
	}

	sas.columnLabels = append(sas.columnLabels, label)
	sas.ColumnFormats = append(sas.ColumnFormats, format)
	return nil
}

// Read returns up to numRows rows of data from the SAS7BDAT file, as
// an array of Series objects.  The Series data types are either
// float64 or string.  If numRows is negative, the remainder of the
// file is read.  Returns (nil, io.EOF) when no rows remain.
func (sas *SASReader) Read(numRows int) ([]*Series, error) {

	remain := sas.rowCount - sas.rowInFile
	if remain <= 0 {
		return nil, io.EOF
	}
	if numRows < 0 || numRows > remain {
		numRows = remain
	}

	ncol := sas.props.columnCount
	if len(sas.columnTypes) < ncol || len(sas.columnNames) < ncol {
		return nil, fmt.Errorf("%w: sas7bdat: incomplete column metadata", ErrFileRead)
	}

	// Each call gets fresh buffers so earlier results stay valid.
	sas.numchunk = make([][]byte, ncol)
	sas.strchunk = make([][]string, ncol)
	for j := 0; j < ncol; j++ {
		if sas.columnTypes[j] == sasNumeric {
			sas.numchunk[j] = make([]byte, 8*numRows)
		} else {
			sas.strchunk[j] = make([]string, numRows)
		}
	}

	sas.rowInChunk = 0
	for i := 0; i < numRows; i++ {
		done, err := sas.readline()
		if err != nil {
			return nil, fmt.Errorf("%w: sas7bdat: %v", ErrFileRead, err)
		}
		if done {
			break
		}
	}

	return sas.chunkToSeries()
}

func (sas *SASReader) chunkToSeries() ([]*Series, error) {

	n := sas.rowInChunk
	rslt := make([]*Series, sas.props.columnCount)

	for j := range rslt {
		name := sas.columnNames[j]
		miss := make([]bool, n)

		var data interface{}
		if sas.columnTypes[j] == sasNumeric {
			vec := make([]float64, n)
			for i := range vec {
				vec[i] = math.Float64frombits(sas.ByteOrder.Uint64(sas.numchunk[j][8*i : 8*i+8]))
				miss[i] = math.IsNaN(vec[i])
			}
			data = vec
		} else {
			data = sas.strchunk[j][0:n]
		}

		s, err := NewSeries(name, data, miss)
		if err != nil {
			return nil, err
		}
		rslt[j] = s
	}

	return rslt, nil
}

// readline reads one row into the current chunk.  It returns true when
// the file has no more pages.
func (sas *SASReader) readline() (bool, error) {

	bitOffset := sas.props.pageBitOffset
	ptrLen := sas.props.subheaderPointerLength

	for {
		switch {
		case sas.pageType == pageMetaType:
			if sas.rowOnPage >= len(sas.dataPointers) {
				done, err := sas.readNextPage()
				if err != nil || done {
					return done, err
				}
				sas.rowOnPage = 0
				continue
			}
			p := sas.dataPointers[sas.rowOnPage]
			return false, sas.processRow(p.offset, p.length)

		case isMixPage(sas.pageType):
			align := (bitOffset + subheaderPointersBase + sas.pageSubheaderCount*ptrLen) % 8
			if sas.NoAlignCorrection {
				align = 0
			}
			offset := bitOffset + subheaderPointersBase +
				sas.pageSubheaderCount*ptrLen +
				sas.rowOnPage*sas.props.rowLength + align
			if err := sas.processRow(offset, sas.props.rowLength); err != nil {
				return false, err
			}
			if sas.rowOnPage == min(sas.rowCount, sas.props.mixPageRowCount) {
				done, err := sas.readNextPage()
				if err != nil || done {
					return done, err
				}
				sas.rowOnPage = 0
			}
			return false, nil

		case sas.pageType == pageDataType:
			offset := bitOffset + subheaderPointersBase + sas.rowOnPage*sas.props.rowLength
			if err := sas.processRow(offset, sas.props.rowLength); err != nil {
				return false, err
			}
			if sas.rowOnPage == sas.pageBlockCount {
				done, err := sas.readNextPage()
				if err != nil || done {
					return done, err
				}
				sas.rowOnPage = 0
			}
			return false, nil

		default:
			return false, fmt.Errorf("unknown page type: %d", sas.pageType)
		}
	}
}

// readNextPage loads the next meta, data or mix page, skipping pages
// of other types.  It returns true at the end of the file.
func (sas *SASReader) readNextPage() (bool, error) {

	for {
		sas.dataPointers = make([]*subheaderPointer, 0, 10)
		sas.cachedPage = make([]byte, sas.props.pageLength)
		_, err := io.ReadFull(sas.file, sas.cachedPage)
		if err == io.EOF {
			return true, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read complete page: %w", err)
		}

		if err := sas.readPageHeader(); err != nil {
			return false, err
		}

		switch sas.pageType {
		case pageMetaType:
			if err := sas.processPageMetadata(); err != nil {
				return false, err
			}
			return false, nil
		case pageDataType, pageMixType1, pageMixType2:
			return false, nil
		}
	}
}

// processRow decodes the row stored at offset in the current page.
func (sas *SASReader) processRow(offset, length int) error {

	var source []byte
	if sas.Compression != "" && length < sas.props.rowLength {
		if offset+length > len(sas.cachedPage) {
			return errors.New("compressed row extends past the page")
		}
		var err error
		if source, err = sas.decompress(sas.cachedPage[offset : offset+length]); err != nil {
			return err
		}
	} else {
		if offset+length > len(sas.cachedPage) {
			// The row continues on the next page.
			oldPage := sas.cachedPage
			done, err := sas.readNextPage()
			if err != nil {
				return err
			}
			if done {
				return errors.New("row extends past the end of the file")
			}
			sas.cachedPage = append(oldPage, sas.cachedPage...)
		}
		source = sas.cachedPage[offset : offset+length]
	}

	for j := 0; j < sas.props.columnCount; j++ {
		n := sas.columnDataLengths[j]
		if n == 0 {
			break
		}
		start := sas.columnDataOffsets[j]
		if start+n > len(source) {
			return fmt.Errorf("column %d extends past the row", j)
		}
		temp := source[start : start+n]

		if sas.columnTypes[j] == sasNumeric {
			// Short numerics are truncated doubles; restore the
			// dropped low-order bytes as zeros.
			s := 8 * sas.rowInChunk
			if sas.ByteOrder == binary.LittleEndian {
				copy(sas.numchunk[j][s+8-n:s+8], temp)
			} else {
				copy(sas.numchunk[j][s:s+n], temp)
			}
			continue
		}

		if sas.TrimStrings {
			temp = bytes.TrimRight(temp, "\x00 ")
		}
		sas.strchunk[j][sas.rowInChunk] = sas.decode(temp)
	}

	sas.rowOnPage++
	sas.rowInChunk++
	sas.rowInFile++
	return nil
}
