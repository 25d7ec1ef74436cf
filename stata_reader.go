package scf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	xencoding "golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Stata variable type codes, in the numbering used by dta 117 and
// later.  Codes 1-2045 are fixed-width strings of that many bytes.
const (
	stataStrL   = 32768
	stataDouble = 65526
	stataFloat  = 65527
	stataLong   = 65528
	stataInt    = 65529
	stataByte   = 65530
	stataMaxStr = 2045
)

var supportedDtaVersions = []int{114, 115, 117, 118}
var rowCountLength = map[int]int{114: 4, 115: 4, 117: 4, 118: 8}
var datasetLabelLength = map[int]int{117: 1, 118: 2}
var valueLabelLength = map[int]int{114: 33, 115: 33, 117: 33, 118: 129}
var voLength = map[int]int{117: 8, 118: 12}

// StataReader reads dta releases 114, 115, 117 and 118, which covers
// every published survey extract.  Metadata is parsed when the reader
// is created and rows are returned in chunks by Read.
//
// Format reference: http://www.stata.com/help.cgi?dta
type StataReader struct {

	// If true, the strl numerical codes are replaced with their
	// string values when available.
	InsertStrls bool

	// If true, the categorial numerical codes are replaced with
	// their string labels when available.
	InsertCategoryLabels bool

	// Data set label
	DatasetLabel string

	// Time stamp as written in the file
	TimeStamp string

	// Variable count
	Nvar int

	// Variable labels
	ColumnNamesLong []string

	// Value label tables keyed by label name
	ValueLabels     map[string]map[int32]string
	ValueLabelNames []string

	// Display formats
	Formats []string

	// dta release, 114 to 118
	FormatVersion int

	// Byte order
	ByteOrder binary.ByteOrder

	rowCount  int
	rowsRead  int
	varTypes  []int
	varWidths []int
	rowLength int
	colNames  []string
	strls     map[uint64]string

	// Text in files older than 118 is Latin-1.
	decoder *xencoding.Decoder

	// Map information, dta 117 and later
	seekVartypes        int64
	seekVarnames        int64
	seekSortlist        int64
	seekFormats         int64
	seekValueLabelNames int64
	seekVariableLabels  int64
	seekCharacteristics int64
	seekData            int64
	seekStrls           int64
	seekValueLabels     int64

	// Offset of the first data row.
	dataStart int64

	reader io.ReadSeeker
}

// NewStataReader parses the dta header and metadata from r.
func NewStataReader(r io.ReadSeeker) (*StataReader, error) {
	rdr := &StataReader{
		reader:               r,
		InsertStrls:          true,
		InsertCategoryLabels: true,
	}
	if err := rdr.init(); err != nil {
		return nil, fmt.Errorf("%w: stata: %v", ErrFileRead, err)
	}
	return rdr, nil
}

// RowCount returns the row count from the header.
func (rdr *StataReader) RowCount() int {
	return rdr.rowCount
}

// ColumnNames returns the variable names.
func (rdr *StataReader) ColumnNames() []string {
	return rdr.colNames
}

// ColumnTypes returns integer codes corresponding to the data types
// in the Stata file, using the dta 117 numbering for all versions.
func (rdr *StataReader) ColumnTypes() []int {
	return rdr.varTypes
}

func (rdr *StataReader) init() error {

	// Releases from 117 on start with an XML-like tag.
	c := make([]byte, 1)
	if _, err := io.ReadFull(rdr.reader, c); err != nil {
		return err
	}
	if _, err := rdr.reader.Seek(0, io.SeekStart); err != nil {
		return err
	}

	var err error
	if c[0] == '<' {
		err = rdr.readNewHeader()
	} else {
		err = rdr.readOldHeader()
	}
	if err != nil {
		return err
	}
	if rdr.FormatVersion < 118 {
		rdr.decoder = charmap.ISO8859_1.NewDecoder()
	}

	steps := []func() error{
		rdr.readVartypes,
		rdr.readVarnames,
		rdr.skipSortlist,
		rdr.readFormats,
		rdr.readValueLabelNames,
		rdr.readVariableLabels,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	if err := rdr.setRowLayout(); err != nil {
		return err
	}

	if rdr.FormatVersion < 117 {
		if err := rdr.readExpansionFields(); err != nil {
			return err
		}
		pos, err := rdr.reader.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		rdr.dataStart = pos
		// Value labels follow the data in the old formats.
		end := rdr.dataStart + int64(rdr.rowCount)*int64(rdr.rowLength)
		return rdr.readValueLabels(end, false)
	}

	rdr.dataStart = rdr.seekData + 6
	if err := rdr.readStrls(); err != nil {
		return err
	}
	return rdr.readValueLabels(rdr.seekValueLabels+14, true)
}

func (rdr *StataReader) supportedVersion() bool {
	for _, v := range supportedDtaVersions {
		if rdr.FormatVersion == v {
			return true
		}
	}
	return false
}

func (rdr *StataReader) readUint(width int) (uint64, error) {
	b := make([]byte, width)
	if _, err := io.ReadFull(rdr.reader, b); err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(rdr.ByteOrder.Uint16(b)), nil
	case 4:
		return uint64(rdr.ByteOrder.Uint32(b)), nil
	case 8:
		return rdr.ByteOrder.Uint64(b), nil
	}
	return 0, fmt.Errorf("unsupported integer width %d", width)
}

func (rdr *StataReader) skip(n int64) error {
	_, err := rdr.reader.Seek(n, io.SeekCurrent)
	return err
}

// readText reads a fixed-width, null-terminated text field.
func (rdr *StataReader) readText(width int) (string, error) {
	buf := make([]byte, width)
	if _, err := io.ReadFull(rdr.reader, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return "", errors.New("stata file appears to be truncated")
		}
		return "", err
	}
	return rdr.decode(partition(buf)), nil
}

func (rdr *StataReader) decode(b []byte) string {
	if rdr.decoder == nil {
		return string(b)
	}
	s, err := rdr.decoder.Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

// readOldHeader reads the pre version 117 header
func (rdr *StataReader) readOldHeader() error {

	hdr := make([]byte, 4)
	if _, err := io.ReadFull(rdr.reader, hdr); err != nil {
		return err
	}
	rdr.FormatVersion = int(hdr[0])
	if !rdr.supportedVersion() {
		return fmt.Errorf("invalid Stata dta format version: %v", rdr.FormatVersion)
	}
	if hdr[1] == 1 {
		rdr.ByteOrder = binary.BigEndian
	} else {
		rdr.ByteOrder = binary.LittleEndian
	}

	nvar, err := rdr.readUint(2)
	if err != nil {
		return err
	}
	rdr.Nvar = int(nvar)

	nobs, err := rdr.readUint(rowCountLength[rdr.FormatVersion])
	if err != nil {
		return err
	}
	rdr.rowCount = int(nobs)

	if rdr.DatasetLabel, err = rdr.readText(81); err != nil {
		return err
	}
	rdr.TimeStamp, err = rdr.readText(18)
	return err
}

// expect consumes a literal tag from the file.
func (rdr *StataReader) expect(tag string) error {
	buf := make([]byte, len(tag))
	if _, err := io.ReadFull(rdr.reader, buf); err != nil {
		return err
	}
	if string(buf) != tag {
		return fmt.Errorf("invalid Stata file: expected %s, found %q", tag, buf)
	}
	return nil
}

// readNewHeader reads a new-style xml header (versions 117+).
func (rdr *StataReader) readNewHeader() error {

	if err := rdr.expect("<stata_dta><header><release>"); err != nil {
		return err
	}

	buf := make([]byte, 3)
	if _, err := io.ReadFull(rdr.reader, buf); err != nil {
		return err
	}
	x, err := strconv.Atoi(string(buf))
	if err != nil {
		return err
	}
	rdr.FormatVersion = x
	if !rdr.supportedVersion() {
		return fmt.Errorf("invalid Stata dta format version: %d", x)
	}

	if err := rdr.expect("</release><byteorder>"); err != nil {
		return err
	}
	if _, err := io.ReadFull(rdr.reader, buf); err != nil {
		return err
	}
	if string(buf) == "MSF" {
		rdr.ByteOrder = binary.BigEndian
	} else {
		rdr.ByteOrder = binary.LittleEndian
	}

	if err := rdr.expect("</byteorder><K>"); err != nil {
		return err
	}
	nvar, err := rdr.readUint(2)
	if err != nil {
		return err
	}
	rdr.Nvar = int(nvar)

	if err := rdr.expect("</K><N>"); err != nil {
		return err
	}
	nobs, err := rdr.readUint(rowCountLength[rdr.FormatVersion])
	if err != nil {
		return err
	}
	rdr.rowCount = int(nobs)

	if err := rdr.expect("</N><label>"); err != nil {
		return err
	}
	w, err := rdr.readUint(datasetLabelLength[rdr.FormatVersion])
	if err != nil {
		return err
	}
	label := make([]byte, w)
	if _, err := io.ReadFull(rdr.reader, label); err != nil {
		return err
	}
	rdr.DatasetLabel = string(label)

	if err := rdr.expect("</label><timestamp>"); err != nil {
		return err
	}
	n8, err := rdr.readUint(1)
	if err != nil {
		return err
	}
	ts := make([]byte, n8)
	if _, err := io.ReadFull(rdr.reader, ts); err != nil {
		return err
	}
	rdr.TimeStamp = string(ts)

	// </timestamp></header><map> followed by the offsets of
	// <stata_dta> and <map>, which we do not need.
	if err := rdr.expect("</timestamp></header><map>"); err != nil {
		return err
	}
	if err := rdr.skip(16); err != nil {
		return err
	}

	offsets := []*int64{&rdr.seekVartypes, &rdr.seekVarnames, &rdr.seekSortlist,
		&rdr.seekFormats, &rdr.seekValueLabelNames, &rdr.seekVariableLabels,
		&rdr.seekCharacteristics, &rdr.seekData, &rdr.seekStrls, &rdr.seekValueLabels}
	for _, p := range offsets {
		v, err := rdr.readUint(8)
		if err != nil {
			return err
		}
		*p = int64(v)
	}

	return nil
}

// seekSection moves to a section of a dta 117+ file, skipping the
// opening tag.  Older files are read sequentially.
func (rdr *StataReader) seekSection(offset int64, tag string) error {
	if rdr.FormatVersion < 117 {
		return nil
	}
	_, err := rdr.reader.Seek(offset+int64(len(tag)), io.SeekStart)
	return err
}

func (rdr *StataReader) readVartypes() error {

	if err := rdr.seekSection(rdr.seekVartypes, "<variable_types>"); err != nil {
		return err
	}

	width := 2
	if rdr.FormatVersion < 117 {
		width = 1
	}
	rdr.varTypes = make([]int, rdr.Nvar)
	for k := range rdr.varTypes {
		t, err := rdr.readUint(width)
		if err != nil {
			return err
		}
		rdr.varTypes[k] = int(t)
	}

	if rdr.FormatVersion < 117 {
		return rdr.translateVartypes()
	}
	return nil
}

// translateVartypes maps the single-byte type codes of the old
// formats onto the dta 117 codes.
func (rdr *StataReader) translateVartypes() error {
	for k, t := range rdr.varTypes {
		switch {
		case t <= 244:
			// strf
		case t == 251:
			rdr.varTypes[k] = stataByte
		case t == 252:
			rdr.varTypes[k] = stataInt
		case t == 253:
			rdr.varTypes[k] = stataLong
		case t == 254:
			rdr.varTypes[k] = stataFloat
		case t == 255:
			rdr.varTypes[k] = stataDouble
		default:
			return fmt.Errorf("unknown variable type %d", t)
		}
	}
	return nil
}

func (rdr *StataReader) nameWidth() int {
	if rdr.FormatVersion == 118 {
		return 129
	}
	return 33
}

func (rdr *StataReader) readVarnames() error {
	if err := rdr.seekSection(rdr.seekVarnames, "<varnames>"); err != nil {
		return err
	}
	rdr.colNames = make([]string, rdr.Nvar)
	for k := range rdr.colNames {
		s, err := rdr.readText(rdr.nameWidth())
		if err != nil {
			return err
		}
		rdr.colNames[k] = s
	}
	return nil
}

func (rdr *StataReader) skipSortlist() error {
	if rdr.FormatVersion >= 117 {
		return nil
	}
	return rdr.skip(int64(2 * (rdr.Nvar + 1)))
}

func (rdr *StataReader) readFormats() error {
	if err := rdr.seekSection(rdr.seekFormats, "<formats>"); err != nil {
		return err
	}
	width := 49
	if rdr.FormatVersion == 118 {
		width = 57
	}
	rdr.Formats = make([]string, rdr.Nvar)
	for k := range rdr.Formats {
		s, err := rdr.readText(width)
		if err != nil {
			return err
		}
		rdr.Formats[k] = s
	}
	return nil
}

func (rdr *StataReader) readValueLabelNames() error {
	if err := rdr.seekSection(rdr.seekValueLabelNames, "<value_label_names>"); err != nil {
		return err
	}
	rdr.ValueLabelNames = make([]string, rdr.Nvar)
	for k := range rdr.ValueLabelNames {
		s, err := rdr.readText(rdr.nameWidth())
		if err != nil {
			return err
		}
		rdr.ValueLabelNames[k] = s
	}
	return nil
}

func (rdr *StataReader) readVariableLabels() error {
	if err := rdr.seekSection(rdr.seekVariableLabels, "<variable_labels>"); err != nil {
		return err
	}
	width := 81
	if rdr.FormatVersion >= 117 {
		width = 321
	}
	rdr.ColumnNamesLong = make([]string, rdr.Nvar)
	for k := range rdr.ColumnNamesLong {
		s, err := rdr.readText(width)
		if err != nil {
			return err
		}
		rdr.ColumnNamesLong[k] = s
	}
	return nil
}

func (rdr *StataReader) readExpansionFields() error {
	for {
		b, err := rdr.readUint(1)
		if err != nil {
			return err
		}
		n, err := rdr.readUint(4)
		if err != nil {
			return err
		}
		if b == 0 && n == 0 {
			return nil
		}
		if err := rdr.skip(int64(n)); err != nil {
			return err
		}
	}
}

// setRowLayout computes the byte width of each variable and of a row.
func (rdr *StataReader) setRowLayout() error {
	rdr.varWidths = make([]int, rdr.Nvar)
	rdr.rowLength = 0
	for j, t := range rdr.varTypes {
		var w int
		switch {
		case t >= 1 && t <= stataMaxStr:
			w = t
		case t == stataStrL, t == stataDouble:
			w = 8
		case t == stataFloat, t == stataLong:
			w = 4
		case t == stataInt:
			w = 2
		case t == stataByte:
			w = 1
		default:
			return fmt.Errorf("unknown variable type: %v", t)
		}
		rdr.varWidths[j] = w
		rdr.rowLength += w
	}
	return nil
}

// readValueLabels reads value label tables starting at offset.  The
// dta 117+ tables are wrapped in <lbl> tags.
func (rdr *StataReader) readValueLabels(offset int64, tagged bool) error {

	rdr.ValueLabels = make(map[string]map[int32]string)
	if _, err := rdr.reader.Seek(offset, io.SeekStart); err != nil {
		return err
	}

	vlw := valueLabelLength[rdr.FormatVersion]
	tag := make([]byte, 5)

	for {
		if tagged {
			if _, err := io.ReadFull(rdr.reader, tag); err != nil || string(tag) != "<lbl>" {
				return nil
			}
		}

		// Length of the table, then its name.
		if _, err := rdr.readUint(4); err != nil {
			if tagged {
				return err
			}
			// End of file, no more tables.
			return nil
		}
		labname, err := rdr.readText(vlw)
		if err != nil {
			return err
		}
		if err := rdr.skip(3); err != nil {
			return err
		}

		n, err := rdr.readUint(4)
		if err != nil {
			return err
		}
		textlen, err := rdr.readUint(4)
		if err != nil {
			return err
		}

		off := make([]int32, n)
		val := make([]int32, n)
		if err := binary.Read(rdr.reader, rdr.ByteOrder, off); err != nil {
			return err
		}
		if err := binary.Read(rdr.reader, rdr.ByteOrder, val); err != nil {
			return err
		}

		txt := make([]byte, textlen)
		if _, err := io.ReadFull(rdr.reader, txt); err != nil {
			return err
		}

		vk := make(map[int32]string)
		for j := range off {
			if int(off[j]) >= len(txt) {
				return fmt.Errorf("value label %s: offset out of range", labname)
			}
			vk[val[j]] = rdr.decode(partition(txt[off[j]:]))
		}
		rdr.ValueLabels[labname] = vk

		if tagged {
			// </lbl>
			if err := rdr.skip(6); err != nil {
				return err
			}
		}
	}
}

func (rdr *StataReader) readStrls() error {

	rdr.strls = map[uint64]string{0: ""}
	if _, err := rdr.reader.Seek(rdr.seekStrls+7, io.SeekStart); err != nil {
		return err
	}

	vo := make([]byte, voLength[rdr.FormatVersion])
	vo8 := make([]byte, 8)
	gso := make([]byte, 3)

	for {
		if _, err := io.ReadFull(rdr.reader, gso); err != nil || string(gso) != "GSO" {
			return nil
		}
		if _, err := io.ReadFull(rdr.reader, vo); err != nil {
			return err
		}
		t, err := rdr.readUint(1)
		if err != nil {
			return err
		}
		length, err := rdr.readUint(4)
		if err != nil {
			return err
		}

		// The data area stores (v,o) in 8 bytes: 2+6 in 118, 4+4 in 117.
		if len(vo) == 12 {
			if rdr.ByteOrder == binary.LittleEndian {
				copy(vo8[0:2], vo[0:2])
				copy(vo8[2:8], vo[4:10])
			} else {
				copy(vo8[0:2], vo[2:4])
				copy(vo8[2:8], vo[6:12])
			}
		} else {
			copy(vo8, vo)
		}
		ptr := rdr.ByteOrder.Uint64(vo8)

		buf := make([]byte, length)
		if _, err := io.ReadFull(rdr.reader, buf); err != nil {
			return err
		}

		switch t {
		case 130:
			rdr.strls[ptr] = string(partition(buf))
		case 129:
			// Binary strL, kept as raw bytes.
			rdr.strls[ptr] = string(buf)
		default:
			return fmt.Errorf("unknown strL type %d", t)
		}
	}
}

// Read returns the given number of rows of data from the Stata data
// file.  The data are returned as an array of Series objects holding
// float64 or string values.  If rows is negative, the remainder of
// the file is read.  Returns (nil, io.EOF) when no rows remain.
func (rdr *StataReader) Read(rows int) ([]*Series, error) {

	nval := rdr.rowCount - rdr.rowsRead
	if nval <= 0 {
		return nil, io.EOF
	}
	if rows >= 0 && nval > rows {
		nval = rows
	}

	pos := rdr.dataStart + int64(rdr.rowsRead)*int64(rdr.rowLength)
	if _, err := rdr.reader.Seek(pos, io.SeekStart); err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(rdr.reader, 1<<16)

	data := make([]interface{}, rdr.Nvar)
	missing := make([][]bool, rdr.Nvar)
	for j, t := range rdr.varTypes {
		missing[j] = make([]bool, nval)
		if t <= stataMaxStr || (t == stataStrL && rdr.InsertStrls) {
			data[j] = make([]string, nval)
		} else {
			data[j] = make([]float64, nval)
		}
	}

	row := make([]byte, rdr.rowLength)
	bo := rdr.ByteOrder
	for i := 0; i < nval; i++ {

		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("%w: stata row %d: %v", ErrFileRead, rdr.rowsRead, err)
		}
		rdr.rowsRead++

		p := 0
		for j, t := range rdr.varTypes {
			b := row[p : p+rdr.varWidths[j]]
			p += rdr.varWidths[j]

			switch {
			case t <= stataMaxStr:
				data[j].([]string)[i] = rdr.decode(partition(b))
			case t == stataStrL:
				ptr := bo.Uint64(b)
				if rdr.InsertStrls {
					data[j].([]string)[i] = rdr.strls[ptr]
				} else {
					data[j].([]float64)[i] = float64(ptr)
				}
			case t == stataDouble:
				x := math.Float64frombits(bo.Uint64(b))
				data[j].([]float64)[i] = x
				// Below the smallest valid code.
				missing[j][i] = x > 8.988e307 || x < -8.988e307
			case t == stataFloat:
				x := math.Float32frombits(bo.Uint32(b))
				data[j].([]float64)[i] = float64(x)
				missing[j][i] = x > 1.701e38 || x < -1.701e38
			case t == stataLong:
				x := int32(bo.Uint32(b))
				data[j].([]float64)[i] = float64(x)
				missing[j][i] = x > 2147483620 || x < -2147483647
			case t == stataInt:
				x := int16(bo.Uint16(b))
				data[j].([]float64)[i] = float64(x)
				missing[j][i] = x > 32740 || x < -32767
			case t == stataByte:
				x := int8(b[0])
				data[j].([]float64)[i] = float64(x)
				missing[j][i] = x > 100 || x < -127
			}
		}
	}

	if rdr.InsertCategoryLabels {
		if err := rdr.insertLabels(data, missing); err != nil {
			return nil, err
		}
	}

	rdata := make([]*Series, len(data))
	for j, v := range data {
		s, err := NewSeries(rdr.colNames[j], v, missing[j])
		if err != nil {
			return nil, err
		}
		rdata[j] = s
	}

	return rdata, nil
}

// insertLabels replaces labelled numeric codes with their labels.
// Codes without a label are kept, formatted as text.
func (rdr *StataReader) insertLabels(data []interface{}, missing [][]bool) error {
	for j := range data {
		mp, ok := rdr.ValueLabels[rdr.ValueLabelNames[j]]
		if !ok {
			continue
		}
		x, ok := data[j].([]float64)
		if !ok {
			continue
		}
		newdata := make([]string, len(x))
		for i, v := range x {
			if missing[j][i] {
				continue
			}
			if v != math.Trunc(v) {
				return fmt.Errorf("%w: column %s has value label %s but non-integer value %v",
					ErrConversion, rdr.colNames[j], rdr.ValueLabelNames[j], v)
			}
			if lab, ok := mp[int32(v)]; ok {
				newdata[i] = lab
			} else {
				newdata[i] = strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		data[j] = newdata
	}
	return nil
}

// Text up to the first NUL.
func partition(b []byte) []byte {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return b[0:i]
	}
	return b
}
