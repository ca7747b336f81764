package templates

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"godetect/domain/core"
	"godetect/domain/signal"
	apperrors "godetect/internal/errors"
	"godetect/internal/testkit"
)

type wrongShapeSimulator struct {
	*testkit.RecordingSimulator
}

func (wrongShapeSimulator) TemplateResponse(context.Context, signal.Axes, signal.Position, []float64) (*signal.CountSeries, error) {
	return signal.Zeros(1, 1, 1), nil
}

func TestCoordinates(t *testing.T) {
	assert.Equal(t, []float64{0}, Coordinates(1e-6, 1))
	assert.Nil(t, Coordinates(1e-6, 0))

	got := Coordinates(1e-6, 5)
	require.Len(t, got, 5)
	want := []float64{-5e-7, -2.5e-7, 0, 2.5e-7, 5e-7}
	assert.InDeltaSlice(t, want, got, 1e-18)
}

func TestGenerate_BuildsCompleteBank(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)

	bank, err := NewGenerator(kit.Simulator, Options{Workers: 3}).Generate(context.Background(), kit.Axes, 0, 5)
	require.NoError(t, err)

	assert.True(t, bank.Complete())
	assert.Equal(t, 25, bank.Len())
	assert.Equal(t, kit.Simulator.FieldOfView(), bank.FieldOfView(), "non-positive fov selects the simulator maximum")

	coords := Coordinates(bank.FieldOfView(), 5)
	for _, tpl := range bank.Templates() {
		assert.Equal(t, coords[tpl.Index.IX], tpl.Position.X)
		assert.Equal(t, coords[tpl.Index.IY], tpl.Position.Y)
		require.NoError(t, tpl.Response.CheckAxes(kit.Axes))

		want, err := kit.Inject(tpl.Position, testkit.ConstantFlux(len(kit.Axes.Wavelengths), 1))
		require.NoError(t, err)
		assert.Equal(t, want.Flatten(1), tpl.Response.Flatten(1))
	}

	center, err := bank.At(2, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0, center.Position.X, 1e-18)
	assert.InDelta(t, 0, center.Position.Y, 1e-18)
}

func TestGenerate_SinglePointSitsOnAxis(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)

	bank, err := NewGenerator(kit.Simulator, Options{}).Generate(context.Background(), kit.Axes, 5e-7, 1)
	require.NoError(t, err)
	tpl, err := bank.At(0, 0)
	require.NoError(t, err)
	assert.Equal(t, signal.Position{}, tpl.Position)
}

func TestGenerate_InvalidInputs(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)
	gen := NewGenerator(kit.Simulator, Options{})

	tests := []struct {
		name   string
		fov    float64
		n      int
		target error
	}{
		{"zero grid", 1e-6, 0, core.ErrInvalidGrid},
		{"negative grid", 1e-6, -3, core.ErrInvalidGrid},
		{"fov beyond simulator", 2 * kit.Simulator.FieldOfView(), 3, core.ErrInvalidFieldOfView},
		{"nan fov", math.NaN(), 3, core.ErrInvalidFieldOfView},
		{"infinite fov", math.Inf(1), 3, core.ErrInvalidFieldOfView},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := gen.Generate(context.Background(), kit.Axes, tt.fov, tt.n)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))
			assert.True(t, core.IsConfigurationError(err))
		})
	}
}

func TestGenerate_RejectsWrongShapedResponse(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)
	sim := wrongShapeSimulator{testkit.NewRecordingSimulator(kit.Simulator)}

	_, err = NewGenerator(sim, Options{}).Generate(context.Background(), kit.Axes, 0, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
	assert.Equal(t, apperrors.CodeShapeMismatch, apperrors.GetCode(err))
}

func TestGenerate_HonoursCancellation(t *testing.T) {
	kit, err := testkit.NewTestKit(testkit.SmallScenario())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewGenerator(kit.Simulator, Options{}).Generate(ctx, kit.Axes, 0, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
