package csv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sgio "github.com/hed1ad/sensorguard/pkg/io"
)

func TestReadWithHeader(t *testing.T) {
	in := `x1,y1,x2,y2,x3,y3,x4,y4
1,2,3,4,5,6,7,8
# comment
1,2,3
a,b,c,d,e,f,g,h
-1, -2, -3, -4, -5, -6, -7, -8
`
	r, err := FromReader(strings.NewReader(in))
	require.NoError(t, err)

	rows, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, sgio.ColumnNames(), r.Headers())
	assert.Equal(t, [][]float64{
		{1, 2, 3, 4, 5, 6, 7, 8},
		{-1, -2, -3, -4, -5, -6, -7, -8},
	}, rows)
}

func TestReadWithoutHeader(t *testing.T) {
	r, err := FromReader(strings.NewReader("1,2,3,4,5,6,7,8\n9,10,11,12,13,14,15,16\n"))
	require.NoError(t, err)

	rows, err := r.Read()
	require.NoError(t, err)
	assert.Nil(t, r.Headers())
	require.Len(t, rows, 2)
	assert.Equal(t, 1.0, rows[0][0])
	assert.Equal(t, 16.0, rows[1][7])
}

func TestReadCustomColumns(t *testing.T) {
	r, err := FromReader(strings.NewReader("a,b\n1,2\n3,4,5\n"), WithColumns(2))
	require.NoError(t, err)

	rows, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}}, rows)
}

func TestReadEmpty(t *testing.T) {
	r, err := FromReader(strings.NewReader(""))
	require.NoError(t, err)

	rows, err := r.Read()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestFileStream(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.csv")
	require.NoError(t, os.WriteFile(path, []byte("1,2,3,4,5,6,7,8\n2,3,4,5,6,7,8,9\n3,4,5,6,7,8,9,10\n"), 0o644))

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	ch, err := r.Stream(context.Background())
	require.NoError(t, err)

	var count int
	for row := range ch {
		assert.Len(t, row, sgio.Columns)
		count++
	}
	assert.Equal(t, 3, count)
}

func TestNewReaderMissingFile(t *testing.T) {
	_, err := NewReader(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

var _ sgio.Reader = (*Reader)(nil)
