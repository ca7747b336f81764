package fits

import (
	"bytes"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godetect/domain/signal"
)

func readImages(t *testing.T, raw []byte) *fitsio.File {
	t.Helper()
	f, err := fitsio.Open(bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestWriteCostMaps(t *testing.T) {
	maps := []signal.CostMap{signal.NewCostMap(0, 2), signal.NewCostMap(1, 2)}
	copy(maps[0].Values, []float64{1, 2, 3, 4})
	copy(maps[1].Values, []float64{-1, 0.5, 0, 0})

	var buf bytes.Buffer
	require.NoError(t, WriteCostMaps(&buf, maps))

	f := readImages(t, buf.Bytes())
	require.Len(t, f.HDUs(), 2)

	img := f.HDU(1).(fitsio.Image)
	assert.Equal(t, []int{2, 2}, img.Header().Axes())
	assert.Equal(t, bitpixFloat64, img.Header().Bitpix())
	assert.NotNil(t, img.Header().Get("CHANNEL"))

	var got []float64
	require.NoError(t, img.Read(&got))
	assert.Equal(t, maps[1].Values, got)
}

func TestWriteSpectra(t *testing.T) {
	estimates := []signal.FluxEstimate{{
		Channel:              0,
		Method:               signal.MethodContinuous,
		Flux:                 []float64{1, 2, 3},
		ErrLow:               []float64{0.1, 0.2, 0.3},
		ErrHigh:              []float64{0.1, 0.2, 0.3},
		UncertaintyAvailable: true,
		Converged:            true,
	}, {
		Channel: 1,
		Method:  signal.MethodGrid,
		Flux:    []float64{4, 5, 6},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteSpectra(&buf, estimates))

	f := readImages(t, buf.Bytes())
	require.Len(t, f.HDUs(), 2)

	var first []float64
	require.NoError(t, f.HDU(0).(fitsio.Image).Read(&first))
	assert.Equal(t, []float64{1, 2, 3, 0.1, 0.2, 0.3, 0.1, 0.2, 0.3}, first)

	var second []float64
	require.NoError(t, f.HDU(1).(fitsio.Image).Read(&second))
	assert.Equal(t, []float64{4, 5, 6, 0, 0, 0, 0, 0, 0}, second)
}

func TestWrite_RejectsEmptyInput(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteCostMaps(&buf, nil))
	assert.Error(t, WriteSpectra(&buf, nil))
	assert.Error(t, WriteSpectra(&buf, []signal.FluxEstimate{{Channel: 2}}))

	bad := signal.CostMap{Channel: 0, Size: 3, Values: []float64{1}}
	assert.Error(t, WriteCostMaps(&buf, []signal.CostMap{bad}))
}
