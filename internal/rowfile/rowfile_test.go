package rowfile

import (
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndReadBack(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "capture.npy")
	a, err := NewAppender(fname, 3)
	require.NoError(t, err)

	require.NoError(t, a.AppendRows([][]float64{
		{1, 2, 3},
		{4, 5, 6},
	}))
	require.NoError(t, a.Flush())
	require.NoError(t, a.AppendRows([][]float64{{7, 8, 9}}))
	assert.Equal(t, 3, a.Rows())
	require.NoError(t, a.Close())

	rows, err := Read(fname)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []float64{1, 2, 3}, rows[0])
	assert.Equal(t, []float64{7, 8, 9}, rows[2])
}

// The first AppendRows must land after the 128-byte header, not at the
// start of the file, or the npy magic gets overwritten.
func TestDataStartsAfterHeader(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "offset.npy")
	a, err := NewAppender(fname, 1)
	require.NoError(t, err)
	require.NoError(t, a.AppendRows([][]float64{{3.25}}))
	require.NoError(t, a.Close())

	raw, err := os.ReadFile(fname)
	require.NoError(t, err)
	require.Len(t, raw, 128+8)
	assert.Equal(t, "\x93NUMPY", string(raw[:6]))
	assert.Equal(t, 3.25, math.Float64frombits(binary.LittleEndian.Uint64(raw[128:])))
}

func TestEmptyFileIsValid(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "empty.npy")
	a, err := NewAppender(fname, 8)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	rows, err := Read(fname)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadableAfterEveryFlush(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "grow.npy")
	a, err := NewAppender(fname, 2)
	require.NoError(t, err)
	defer a.Close()

	for i := 1; i <= 4; i++ {
		require.NoError(t, a.AppendRows([][]float64{{float64(i), float64(-i)}}))
		require.NoError(t, a.Flush())
		rows, err := Read(fname)
		require.NoError(t, err)
		assert.Len(t, rows, i)
	}
}

func TestRowWidthIsEnforced(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "bad.npy")
	a, err := NewAppender(fname, 4)
	require.NoError(t, err)
	defer a.Close()

	err = a.AppendRows([][]float64{{1, 2}})
	assert.Error(t, err)
}
