// Package rowfile writes sample rows to an appendable NumPy .npy file.
// The file is a standard version-1.0 npy of shape (nrows, ncols) float64;
// the row count in the header is left-padded so it can be rewritten in
// place as the file grows, keeping the file readable after every Flush.
package rowfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/sbinet/npyio"
)

const headerLen = 118 // total header size 128 bytes, a multiple of 64

// Appender appends fixed-width float64 rows to a .npy file.
type Appender struct {
	file     *os.File
	ncols    int
	nrows    int
	shapePtr int64 // file offset of the padded row count
}

// NewAppender creates (truncating) filename and writes a header for an
// empty (0, ncols) array.
func NewAppender(filename string, ncols int) (*Appender, error) {
	if ncols <= 0 {
		return nil, fmt.Errorf("rowfile: ncols must be positive, got %d", ncols)
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	a := &Appender{file: f, ncols: ncols}
	if err := a.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func (a *Appender) writeHeader() error {
	var hdr []byte
	hdr = append(hdr, "\x93NUMPY"...)
	hdr = append(hdr, 1, 0)
	hdr = binary.LittleEndian.AppendUint16(hdr, headerLen)

	dict := "{'descr': '<f8', 'fortran_order': False, 'shape': ("
	a.shapePtr = int64(len(hdr) + len(dict))
	dict += fmt.Sprintf("%-10d", a.nrows)
	dict += fmt.Sprintf(", %d), }", a.ncols)
	for len(dict) < headerLen-1 {
		dict += " "
	}
	dict += "\n"
	hdr = append(hdr, dict...)

	// Write (not WriteAt) so the file offset lands at the end of the
	// header and the first AppendRows starts the data section there.
	_, err := a.file.Write(hdr)
	return err
}

// AppendRows appends rows, each exactly ncols wide, in little-endian
// float64. The header is not rewritten; call Flush or Close for that.
func (a *Appender) AppendRows(rows [][]float64) error {
	if len(rows) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(rows)*a.ncols*8)
	for _, row := range rows {
		if len(row) != a.ncols {
			return fmt.Errorf("rowfile: row has %d columns, want %d", len(row), a.ncols)
		}
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	if _, err := a.file.Write(buf); err != nil {
		return err
	}
	a.nrows += len(rows)
	return nil
}

// Flush rewrites the header row count so the file is readable as-is.
func (a *Appender) Flush() error {
	shape := fmt.Sprintf("%-10d", a.nrows)
	if _, err := a.file.WriteAt([]byte(shape), a.shapePtr); err != nil {
		return err
	}
	if _, err := a.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return a.file.Sync()
}

// Rows is the number of rows appended so far.
func (a *Appender) Rows() int { return a.nrows }

// Close flushes the header and closes the file.
func (a *Appender) Close() error {
	if err := a.Flush(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

// Read loads a rowfile back as rows, verifying it through the standard
// npy reader.
func Read(filename string) ([][]float64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, err
	}
	shape := r.Header.Descr.Shape
	if len(shape) != 2 {
		return nil, fmt.Errorf("rowfile: %s has shape %v, want 2 dimensions", filename, shape)
	}
	var flat []float64
	if err := r.Read(&flat); err != nil {
		return nil, err
	}
	nrows, ncols := shape[0], shape[1]
	if len(flat) < nrows*ncols {
		return nil, fmt.Errorf("rowfile: %s has %d values for shape %v", filename, len(flat), shape)
	}
	rows := make([][]float64, nrows)
	for i := range rows {
		rows[i] = flat[i*ncols : (i+1)*ncols]
	}
	return rows, nil
}
