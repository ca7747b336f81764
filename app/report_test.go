package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godetect/domain/signal"
	"godetect/domain/stage"
	"godetect/internal/mle"
)

func sampleResult() *RunResult {
	pr := stage.NewPipelineResult(stage.NewStagePlan(nil))
	pr.AddResult(stage.StageResult{StageName: stage.StageDataGeneration, Success: true, Duration: 3})
	pr.AddResult(stage.StageResult{StageName: stage.StageGridMLE, Success: true, Duration: 40})

	best := []signal.FluxEstimate{
		{Channel: 0, Method: signal.MethodGrid, Flux: []float64{1, 2}},
		{Channel: 1, Method: signal.MethodGrid, Flux: []float64{3, 4}},
	}
	refined := []signal.FluxEstimate{
		{Channel: 0, Method: signal.MethodContinuous, Flux: []float64{3, 4},
			ErrLow: []float64{1, 1}, ErrHigh: []float64{1, 1}, UncertaintyAvailable: true, Converged: true},
		{Channel: 1, Method: signal.MethodContinuous, Flux: []float64{1, 1}},
	}
	return &RunResult{
		RunID:      "run-1",
		Grid:       &mle.GridResult{CostMaps: []signal.CostMap{signal.NewCostMap(0, 2), signal.NewCostMap(1, 2)}, Best: best},
		Continuous: refined,
		NeymanPearson: []signal.TestStatistic{
			{Channel: 0, Kind: signal.TestNeymanPearson, Statistic: 9, Threshold: 2, Detected: true},
			{Channel: 1, Kind: signal.TestNeymanPearson, Statistic: 1, Threshold: 2},
		},
		Pipeline: pr,
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleResult())

	require.Len(t, s.Channels, 2)
	assert.Equal(t, 7.0, s.Channels[0].TotalFlux)
	assert.InDelta(t, 5.0, s.Channels[0].SNR, 1e-12)
	assert.True(t, s.Channels[0].Detected)
	assert.False(t, s.Channels[1].Detected)
	assert.InDelta(t, 5.0, s.MeanSNR, 1e-12, "channels without uncertainty are left out")
	assert.Equal(t, 4.5, s.MedianFlux)
	assert.Equal(t, "grid_mle", s.SlowestStage)
}

func TestWriteReport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, sampleResult()))
	assert.Contains(t, buf.String(), "run run-1")
	assert.Contains(t, buf.String(), "slowest stage grid_mle")
}

func TestExportFITS(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "out")
	paths, err := ExportFITS(prefix, sampleResult())
	require.NoError(t, err)
	require.Len(t, paths, 2)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = ExportFITS(prefix, &RunResult{})
	assert.Error(t, err)
}
