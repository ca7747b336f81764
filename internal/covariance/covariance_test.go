package covariance

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"godetect/domain/core"
	"godetect/domain/scenario"
	"godetect/domain/signal"
	apperrors "godetect/internal/errors"
	"godetect/internal/testkit"
)

func randomSPD(rng *rand.Rand, n int) *mat.SymDense {
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, rng.NormFloat64())
		}
	}
	sigma := mat.NewSymDense(n, nil)
	sigma.SymOuterK(1, a)
	for i := 0; i < n; i++ {
		sigma.SetSym(i, i, sigma.At(i, i)+0.5)
	}
	return sigma
}

func TestInverseSqrt_WhitensRandomSPD(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{1, 2, 3, 5, 8, 12} {
		sigma := randomSPD(rng, n)

		w, err := InverseSqrt(sigma, 0)
		require.NoError(t, err)

		var tmp, got mat.Dense
		tmp.Mul(w, sigma)
		got.Mul(&tmp, w.T())

		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				assert.InDelta(t, want, got.At(i, j), 1e-8, "n=%d (%d,%d)", n, i, j)
				assert.Equal(t, w.At(i, j), w.At(j, i), "operator must be symmetric")
			}
		}
	}
}

func TestInverseSqrt_Singular(t *testing.T) {
	tests := []struct {
		name  string
		sigma *mat.SymDense
	}{
		{"zero", mat.NewSymDense(3, nil)},
		{"rank one", mat.NewSymDense(2, []float64{1, 1, 1, 1})},
		{"indefinite", mat.NewSymDense(2, []float64{1, 0, 0, -1})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := InverseSqrt(tt.sigma, 0)
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrSingularCovariance)
		})
	}
}

func TestEmpirical_DiagonalOnly(t *testing.T) {
	block := mat.NewDense(2, 4, []float64{
		1, 2, 3, 4,
		2, 4, 6, 9,
	})
	full := Empirical(block, false)
	diag := Empirical(block, true)

	assert.InDelta(t, 5.0/3.0, full.At(0, 0), 1e-12)
	assert.NotZero(t, full.At(0, 1))
	assert.Equal(t, full.At(0, 0), diag.At(0, 0))
	assert.Equal(t, full.At(1, 1), diag.At(1, 1))
	assert.Zero(t, diag.At(0, 1))
	assert.Zero(t, diag.At(1, 0))
}

func TestEstimate_WhitensFreshNoise(t *testing.T) {
	sc := testkit.SmallScenario()
	sc.Observation.TimeSteps = 400
	kit, err := testkit.NewTestKit(sc)
	require.NoError(t, err)

	est := NewEstimator(kit.Simulator, Options{})
	cov, err := est.Estimate(context.Background(), sc, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 1, cov.Attempts)
	assert.Equal(t, sc.Instrument.Channels, cov.Channels())
	assert.Equal(t, len(sc.Instrument.Wavelengths), cov.Size())
	assert.False(t, cov.IsIdentity())

	noise, err := kit.Noise(99)
	require.NoError(t, err)
	for k := 0; k < cov.Channels(); k++ {
		var white mat.Dense
		white.Mul(cov.Operator(k), noise.Channel(k))
		got := Empirical(&white, false)
		n := got.SymmetricDim()
		for i := 0; i < n; i++ {
			assert.InDelta(t, 1.0, got.At(i, i), 0.35, "channel %d bin %d", k, i)
		}
	}
}

func TestEstimate_DisablesPlanetSignal(t *testing.T) {
	sc := testkit.SmallScenario()
	kit, err := testkit.NewTestKit(sc)
	require.NoError(t, err)
	rec := testkit.NewRecordingSimulator(kit.Simulator)

	_, err = NewEstimator(rec, Options{}).Estimate(context.Background(), sc, rand.New(rand.NewSource(3)))
	require.NoError(t, err)

	require.Equal(t, 1, rec.Calls())
	assert.False(t, rec.Scenarios()[0].Scene.HasPlanetSignal)
	assert.True(t, sc.Scene.HasPlanetSignal, "caller scenario must not be modified")
}

func TestEstimate_AlwaysSingularFailsAfterTenAttempts(t *testing.T) {
	sc := testkit.SmallScenario()
	axes := sc.Axes()
	rec := testkit.NewRecordingSimulator(nil)
	rec.SimulateFunc = func(ctx context.Context, _ scenario.Scenario, _ int64) (*signal.CountSeries, error) {
		return testkit.ConstantSeries(axes, 3), nil
	}

	_, err := NewEstimator(rec, Options{}).Estimate(context.Background(), sc, rand.New(rand.NewSource(5)))
	require.Error(t, err)

	assert.Equal(t, DefaultMaxAttempts, rec.Calls())
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	assert.ErrorIs(t, err, core.ErrSingularCovariance)
	assert.Contains(t, err.Error(), "inverse square root")

	seeds := rec.Seeds()
	seen := make(map[int64]bool)
	for _, s := range seeds {
		seen[s] = true
	}
	assert.Len(t, seen, len(seeds), "every attempt needs a fresh seed")
}

func TestEstimate_RecoversAfterSingularDraws(t *testing.T) {
	sc := testkit.SmallScenario()
	kit, err := testkit.NewTestKit(sc)
	require.NoError(t, err)

	rec := testkit.NewRecordingSimulator(kit.Simulator)
	rec.SimulateFunc = func(ctx context.Context, s scenario.Scenario, seed int64) (*signal.CountSeries, error) {
		if rec.Calls() <= 3 {
			return testkit.ConstantSeries(kit.Axes, 0), nil
		}
		return kit.Simulator.Simulate(ctx, s, seed)
	}

	cov, err := NewEstimator(rec, Options{}).Estimate(context.Background(), sc, rand.New(rand.NewSource(5)))
	require.NoError(t, err)
	assert.Equal(t, 4, cov.Attempts)
	assert.Equal(t, rec.Seeds()[3], cov.Seed)
}

func TestEstimate_DiagonalOnly(t *testing.T) {
	sc := testkit.SmallScenario()
	kit, err := testkit.NewTestKit(sc)
	require.NoError(t, err)

	cov, err := NewEstimator(kit.Simulator, Options{DiagonalOnly: true}).
		Estimate(context.Background(), sc, rand.New(rand.NewSource(11)))
	require.NoError(t, err)
	assert.True(t, cov.DiagonalOnly)
	for k := 0; k < cov.Channels(); k++ {
		m := cov.Matrix(k)
		w := cov.Operator(k)
		assert.Zero(t, m.At(0, 1))
		assert.InDelta(t, 0, w.At(0, 1), 1e-12)
		assert.InDelta(t, 1/m.At(0, 0), w.At(0, 0)*w.At(0, 0), 1e-9)
	}
}

func TestEstimate_DeadlineIsFatal(t *testing.T) {
	sc := testkit.SmallScenario()
	rec := testkit.NewRecordingSimulator(nil)
	rec.SimulateFunc = func(ctx context.Context, _ scenario.Scenario, _ int64) (*signal.CountSeries, error) {
		<-ctx.Done()
		return testkit.ConstantSeries(sc.Axes(), 0), nil
	}

	_, err := NewEstimator(rec, Options{Timeout: 20 * time.Millisecond}).
		Estimate(context.Background(), sc, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Equal(t, 1, rec.Calls())
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}

func TestEstimate_ShapeMismatch(t *testing.T) {
	sc := testkit.SmallScenario()
	rec := testkit.NewRecordingSimulator(nil)
	rec.SimulateFunc = func(context.Context, scenario.Scenario, int64) (*signal.CountSeries, error) {
		return signal.Zeros(1, 2, 3), nil
	}

	_, err := NewEstimator(rec, Options{}).Estimate(context.Background(), sc, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeShapeMismatch, apperrors.GetCode(err))
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}
