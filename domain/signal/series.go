// Package signal holds the value types that flow through the detection chain:
// count series, covariances, templates, estimates and test statistics. Every
// value is built once by a stage and treated as read-only afterwards.
package signal

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"godetect/domain/core"
)

// Axes describes the shape shared by every count series of one configuration.
type Axes struct {
	Channels         int       `json:"channels" yaml:"channels"`
	Times            []float64 `json:"times" yaml:"times"`
	Wavelengths      []float64 `json:"wavelengths" yaml:"wavelengths"`
	WavelengthWidths []float64 `json:"wavelength_widths" yaml:"wavelength_widths"`
}

// Validate checks that the axes describe a non-empty tensor
func (a Axes) Validate() error {
	if a.Channels < 1 {
		return fmt.Errorf("%w: %d channels", core.ErrShapeMismatch, a.Channels)
	}
	if len(a.Times) == 0 || len(a.Wavelengths) == 0 {
		return core.ErrEmptySeries
	}
	if len(a.WavelengthWidths) != len(a.Wavelengths) {
		return core.NewShapeError("wavelength width", len(a.Wavelengths), len(a.WavelengthWidths))
	}
	return nil
}

// Samples returns the flattened length of one channel
func (a Axes) Samples() int {
	return len(a.Wavelengths) * len(a.Times)
}

// CountSeries is a [channel, wavelength, time] array. Each channel is stored as a
// wavelength x time matrix. Constructors copy their input and no method mutates
// the receiver; transformations return a new series.
type CountSeries struct {
	channels []*mat.Dense
	rows     int
	cols     int
}

// NewCountSeries copies the given per-channel matrices into a new series.
// All channels must share the same dimensions.
func NewCountSeries(channels []mat.Matrix) (*CountSeries, error) {
	if len(channels) == 0 {
		return nil, core.ErrEmptySeries
	}
	rows, cols := channels[0].Dims()
	if rows == 0 || cols == 0 {
		return nil, core.ErrEmptySeries
	}
	out := &CountSeries{channels: make([]*mat.Dense, len(channels)), rows: rows, cols: cols}
	for k, m := range channels {
		r, c := m.Dims()
		if r != rows {
			return nil, core.NewShapeError(fmt.Sprintf("channel %d wavelength", k), rows, r)
		}
		if c != cols {
			return nil, core.NewShapeError(fmt.Sprintf("channel %d time", k), cols, c)
		}
		out.channels[k] = mat.DenseCopyOf(m)
	}
	return out, nil
}

// NewCountSeriesFromData builds a series from a row-major [channel][wavelength][time] slice.
func NewCountSeriesFromData(channels, wavelengths, times int, data []float64) (*CountSeries, error) {
	if channels < 1 || wavelengths < 1 || times < 1 {
		return nil, core.ErrEmptySeries
	}
	per := wavelengths * times
	if len(data) != channels*per {
		return nil, core.NewShapeError("flattened", channels*per, len(data))
	}
	out := &CountSeries{channels: make([]*mat.Dense, channels), rows: wavelengths, cols: times}
	for k := 0; k < channels; k++ {
		block := make([]float64, per)
		copy(block, data[k*per:(k+1)*per])
		out.channels[k] = mat.NewDense(wavelengths, times, block)
	}
	return out, nil
}

// Zeros returns an all-zero series of the given shape
func Zeros(channels, wavelengths, times int) *CountSeries {
	out := &CountSeries{channels: make([]*mat.Dense, channels), rows: wavelengths, cols: times}
	for k := range out.channels {
		out.channels[k] = mat.NewDense(wavelengths, times, nil)
	}
	return out
}

// Channels returns the number of differential output channels
func (s *CountSeries) Channels() int { return len(s.channels) }

// Wavelengths returns the number of wavelength bins
func (s *CountSeries) Wavelengths() int { return s.rows }

// TimeSteps returns the number of time samples
func (s *CountSeries) TimeSteps() int { return s.cols }

// Channel returns channel k as a wavelength x time matrix. The returned matrix
// is shared with the series and must not be modified.
func (s *CountSeries) Channel(k int) mat.Matrix {
	return s.channels[k]
}

// RawChannel returns a private copy of channel k that the caller may modify
func (s *CountSeries) RawChannel(k int) *mat.Dense {
	return mat.DenseCopyOf(s.channels[k])
}

// At returns the count of channel k, wavelength bin i, time step t
func (s *CountSeries) At(k, i, t int) float64 {
	return s.channels[k].At(i, t)
}

// Row returns a copy of the time series of channel k at wavelength bin i
func (s *CountSeries) Row(k, i int) []float64 {
	return mat.Row(nil, i, s.channels[k])
}

// Flatten returns a copy of channel k in row-major (wavelength, time) order
func (s *CountSeries) Flatten(k int) []float64 {
	raw := s.channels[k].RawMatrix()
	out := make([]float64, 0, s.rows*s.cols)
	for i := 0; i < s.rows; i++ {
		out = append(out, raw.Data[i*raw.Stride:i*raw.Stride+s.cols]...)
	}
	return out
}

// CheckAxes asserts that the series matches the given axes
func (s *CountSeries) CheckAxes(axes Axes) error {
	if s.Channels() != axes.Channels {
		return core.NewShapeError("channel", axes.Channels, s.Channels())
	}
	if s.rows != len(axes.Wavelengths) {
		return core.NewShapeError("wavelength", len(axes.Wavelengths), s.rows)
	}
	if s.cols != len(axes.Times) {
		return core.NewShapeError("time", len(axes.Times), s.cols)
	}
	return nil
}

// SameShape reports whether two series share all axis lengths
func (s *CountSeries) SameShape(other *CountSeries) bool {
	return other != nil && s.Channels() == other.Channels() && s.rows == other.rows && s.cols == other.cols
}

// Add returns s + other as a new series
func (s *CountSeries) Add(other *CountSeries) (*CountSeries, error) {
	return s.combine(other, 1)
}

// Sub returns s - other as a new series
func (s *CountSeries) Sub(other *CountSeries) (*CountSeries, error) {
	return s.combine(other, -1)
}

func (s *CountSeries) combine(other *CountSeries, sign float64) (*CountSeries, error) {
	if !s.SameShape(other) {
		return nil, fmt.Errorf("%w: cannot combine series", core.ErrShapeMismatch)
	}
	out := &CountSeries{channels: make([]*mat.Dense, len(s.channels)), rows: s.rows, cols: s.cols}
	for k := range s.channels {
		var m mat.Dense
		if sign > 0 {
			m.Add(s.channels[k], other.channels[k])
		} else {
			m.Sub(s.channels[k], other.channels[k])
		}
		out.channels[k] = &m
	}
	return out, nil
}

// Scale returns f * s as a new series
func (s *CountSeries) Scale(f float64) *CountSeries {
	out := &CountSeries{channels: make([]*mat.Dense, len(s.channels)), rows: s.rows, cols: s.cols}
	for k := range s.channels {
		var m mat.Dense
		m.Scale(f, s.channels[k])
		out.channels[k] = &m
	}
	return out
}
