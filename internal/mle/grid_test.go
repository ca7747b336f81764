package mle

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godetect/domain/core"
	"godetect/domain/signal"
	apperrors "godetect/internal/errors"
	"godetect/internal/templates"
	"godetect/internal/testkit"
)

const gridSize = 5

func smallBank(t *testing.T, kit *testkit.TestKit) *signal.TemplateBank {
	t.Helper()
	bank, err := templates.NewGenerator(kit.Simulator, templates.Options{}).
		Generate(context.Background(), kit.Axes, 0, gridSize)
	require.NoError(t, err)
	return bank
}

func TestGrid_RecoversNoiselessOnGridInjection(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)
	bank := smallBank(t, kit)

	truth, err := bank.At(3, 1)
	require.NoError(t, err)
	flux := []float64{2, 3, 4, 5}
	data, err := kit.Inject(truth.Position, flux)
	require.NoError(t, err)

	for _, policy := range []SingularPolicy{SingularSubstitute, SingularReject} {
		t.Run(string(policy), func(t *testing.T) {
			res, err := NewGridEstimator(GridOptions{Policy: policy, Workers: 4}).Estimate(context.Background(), data, bank)
			require.NoError(t, err)
			require.Len(t, res.Best, kit.Axes.Channels)
			require.Len(t, res.CostMaps, kit.Axes.Channels)

			for k, best := range res.Best {
				assert.Equal(t, k, best.Channel)
				assert.Equal(t, signal.MethodGrid, best.Method)
				assert.Equal(t, signal.GridIndex{IX: 3, IY: 1}, best.Index)
				assert.Equal(t, truth.Position, best.Position)
				assert.InDeltaSlice(t, flux, best.Flux, 1e-9)
				assert.False(t, best.UncertaintyAvailable)
			}

			// the on-axis template is identically zero and contributes nothing
			center := res.Fluxes[0][2*gridSize+2]
			for _, f := range center {
				assert.Zero(t, f)
			}
			assert.Zero(t, res.CostMaps[0].At(2, 2))
		})
	}
}

func TestGrid_ErrorShrinksWithSNR(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)
	bank := smallBank(t, kit)
	truth, err := bank.At(3, 1)
	require.NoError(t, err)
	est := NewGridEstimator(GridOptions{})

	relativeError := func(amplitude float64) (float64, int) {
		var sum float64
		hits := 0
		const seeds = 6
		for seed := int64(0); seed < seeds; seed++ {
			noise, err := kit.Noise(100 + seed)
			require.NoError(t, err)
			flux := testkit.ConstantFlux(len(kit.Axes.Wavelengths), amplitude)
			data, err := kit.InjectInto(noise, truth.Position, flux)
			require.NoError(t, err)

			res, err := est.Estimate(context.Background(), data, bank)
			require.NoError(t, err)
			best := res.Best[0]
			if best.Index == truth.Index {
				hits++
			}
			want := amplitude * float64(len(flux))
			sum += math.Abs(best.TotalFlux()-want) / want
		}
		return sum / seeds, hits
	}

	lowErr, _ := relativeError(0.5)
	highErr, highHits := relativeError(50)

	assert.Less(t, highErr, lowErr)
	assert.Less(t, highErr, 0.05)
	assert.Equal(t, 6, highHits, "strong signal must be localised on every realization")
}

func TestGrid_FluxNeverNegative(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)
	bank := smallBank(t, kit)
	truth, err := bank.At(1, 4)
	require.NoError(t, err)

	// anti-correlated with the template at (1, 4)
	data, err := kit.Inject(truth.Position, testkit.ConstantFlux(len(kit.Axes.Wavelengths), -7))
	require.NoError(t, err)
	noise, err := kit.Noise(3)
	require.NoError(t, err)
	data, err = data.Add(noise)
	require.NoError(t, err)

	res, err := NewGridEstimator(GridOptions{}).Estimate(context.Background(), data, bank)
	require.NoError(t, err)
	for k := range res.Fluxes {
		for slot, flux := range res.Fluxes[k] {
			for i, f := range flux {
				assert.GreaterOrEqual(t, f, 0.0, "channel %d slot %d bin %d", k, slot, i)
			}
			assert.GreaterOrEqual(t, res.CostMaps[k].Values[slot], 0.0)
		}
	}
	for _, f := range res.Fluxes[0][1*gridSize+4] {
		assert.Zero(t, f)
	}
}

func TestGrid_SingularPolicies(t *testing.T) {
	// one channel, two bins, four samples; bin 1's template overflows B
	data, err := signal.NewCountSeriesFromData(1, 2, 4, []float64{
		1, -1, 1, -1,
		1, -1, 1, -1,
	})
	require.NoError(t, err)
	tpl, err := signal.NewCountSeriesFromData(1, 2, 4, []float64{
		1, -1, 1, -1,
		1e200, -1e200, 1e200, -1e200,
	})
	require.NoError(t, err)
	bank, err := signal.NewTemplateBank(1, 1e-6)
	require.NoError(t, err)
	require.NoError(t, bank.Add(signal.Template{Response: tpl}))

	two := 2.0
	sub, err := NewGridEstimator(GridOptions{Policy: SingularSubstitute, SubstituteValue: &two}).
		Estimate(context.Background(), data, bank)
	require.NoError(t, err)
	rej, err := NewGridEstimator(GridOptions{Policy: SingularReject}).
		Estimate(context.Background(), data, bank)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, sub.Best[0].Flux[0], 1e-12)
	assert.InDelta(t, 1.0, rej.Best[0].Flux[0], 1e-12)

	// C = 4e200 / (4/3) = 3e200, substituted B = 2
	assert.InDelta(t, 1.5e200, sub.Best[0].Flux[1], 1e188)
	assert.Zero(t, rej.Best[0].Flux[1])

	// bin 0 alone: C = B = 3, cost 3; the overflowing bin adds nothing finite
	assert.InDelta(t, 3.0, sub.Best[0].Cost, 1e-9)
	assert.InDelta(t, 3.0, rej.Best[0].Cost, 1e-9)
}

func TestGrid_SubstituteValueIsTakenAsGiven(t *testing.T) {
	data, err := signal.NewCountSeriesFromData(1, 1, 4, []float64{1, -1, 1, -1})
	require.NoError(t, err)
	tpl, err := signal.NewCountSeriesFromData(1, 1, 4, []float64{1e200, -1e200, 1e200, -1e200})
	require.NoError(t, err)
	bank, err := signal.NewTemplateBank(1, 1e-6)
	require.NoError(t, err)
	require.NoError(t, bank.Add(signal.Template{Response: tpl}))

	for _, v := range []float64{0, -1} {
		_, err := NewGridEstimator(GridOptions{Policy: SingularSubstitute, SubstituteValue: &v}).
			Estimate(context.Background(), data, bank)
		require.Error(t, err, "substitute %g", v)
		assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
	}

	// a zero substitute is irrelevant once bins are rejected
	zero := 0.0
	_, err = NewGridEstimator(GridOptions{Policy: SingularReject, SubstituteValue: &zero}).
		Estimate(context.Background(), data, bank)
	require.NoError(t, err)

	// unset falls back to the default: C = 3e200, flux = C / 1
	res, err := NewGridEstimator(GridOptions{}).Estimate(context.Background(), data, bank)
	require.NoError(t, err)
	assert.InDelta(t, 3e200/DefaultSubstituteValue, res.Best[0].Flux[0], 1e188)
}

func TestGrid_TiesGoToFirstPoint(t *testing.T) {
	data, err := signal.NewCountSeriesFromData(1, 1, 4, []float64{1, 2, 3, 4})
	require.NoError(t, err)
	same, err := signal.NewCountSeriesFromData(1, 1, 4, []float64{1, 1, 1, 1})
	require.NoError(t, err)

	bank, err := signal.NewTemplateBank(2, 1e-6)
	require.NoError(t, err)
	coords := templates.Coordinates(1e-6, 2)
	for ix := 0; ix < 2; ix++ {
		for iy := 0; iy < 2; iy++ {
			require.NoError(t, bank.Add(signal.Template{
				Index:    signal.GridIndex{IX: ix, IY: iy},
				Position: signal.Position{X: coords[ix], Y: coords[iy]},
				Response: same,
			}))
		}
	}

	res, err := NewGridEstimator(GridOptions{Workers: 4}).Estimate(context.Background(), data, bank)
	require.NoError(t, err)
	assert.Equal(t, signal.GridIndex{IX: 0, IY: 0}, res.Best[0].Index)
}

func TestGrid_AtPosition(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)
	bank := smallBank(t, kit)
	truth, err := bank.At(3, 1)
	require.NoError(t, err)
	data, err := kit.Inject(truth.Position, testkit.ConstantFlux(len(kit.Axes.Wavelengths), 3))
	require.NoError(t, err)

	pos := signal.Position{X: -4.9e-7, Y: 4.9e-7}
	res, err := NewGridEstimator(GridOptions{AtPosition: &pos}).Estimate(context.Background(), data, bank)
	require.NoError(t, err)
	assert.Equal(t, signal.GridIndex{IX: 0, IY: 4}, res.Best[0].Index)
	assert.Equal(t, res.CostMaps[0].At(0, 4), res.Best[0].Cost)
}

func TestGrid_RejectsIncompleteBankAndBadShapes(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)
	data, err := kit.Noise(1)
	require.NoError(t, err)

	partial, err := signal.NewTemplateBank(2, 1e-6)
	require.NoError(t, err)
	_, err = NewGridEstimator(GridOptions{}).Estimate(context.Background(), data, partial)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMissingTemplate)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))

	wrong, err := signal.NewTemplateBank(1, 1e-6)
	require.NoError(t, err)
	require.NoError(t, wrong.Add(signal.Template{Response: signal.Zeros(1, 1, 1)}))
	_, err = NewGridEstimator(GridOptions{}).Estimate(context.Background(), data, wrong)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}

func TestParseSingularPolicy(t *testing.T) {
	p, err := ParseSingularPolicy("REJECT")
	require.NoError(t, err)
	assert.Equal(t, SingularReject, p)

	p, err = ParseSingularPolicy("")
	require.NoError(t, err)
	assert.Equal(t, SingularSubstitute, p)

	_, err = ParseSingularPolicy("ignore")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
}
