package signal

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// EstimationMethod names the estimator that produced a FluxEstimate
type EstimationMethod string

const (
	MethodGrid       EstimationMethod = "grid"
	MethodContinuous EstimationMethod = "continuous"
)

// FluxEstimate is a per-wavelength flux vector for one channel, with the sky
// position it was estimated at and, when available, its uncertainties. Cost is
// the grid likelihood at the selected point for grid estimates and the final
// half sum of squared whitened residuals for continuous ones.
type FluxEstimate struct {
	Channel  int              `json:"channel"`
	Method   EstimationMethod `json:"method"`
	Index    GridIndex        `json:"index"`
	Position Position         `json:"position"`
	Flux     []float64        `json:"flux"`

	// ErrLow and ErrHigh are nil when UncertaintyAvailable is false.
	ErrLow               []float64     `json:"err_low,omitempty"`
	ErrHigh              []float64     `json:"err_high,omitempty"`
	PositionErr          Position      `json:"position_err"`
	Covariance           *mat.SymDense `json:"-"`
	UncertaintyAvailable bool          `json:"uncertainty_available"`
	Converged            bool          `json:"converged"`
	Cost                 float64       `json:"cost"`
}

// TotalFlux sums the flux over wavelength bins
func (f FluxEstimate) TotalFlux() float64 {
	var sum float64
	for _, v := range f.Flux {
		sum += v
	}
	return sum
}

// SNR combines per-bin flux over symmetric error into one signal-to-noise ratio,
// sqrt(sum((flux/err)^2)). Bins with zero or missing error are skipped; it is
// zero when no uncertainty is available.
func (f FluxEstimate) SNR() float64 {
	if !f.UncertaintyAvailable || len(f.ErrLow) != len(f.Flux) {
		return 0
	}
	var sum float64
	for i, v := range f.Flux {
		e := f.ErrLow[i]
		if e <= 0 || math.IsNaN(e) || math.IsInf(e, 0) {
			continue
		}
		sum += (v / e) * (v / e)
	}
	return math.Sqrt(sum)
}

// CostMap is one channel's generalized likelihood ratio over an N x N grid,
// stored row-major with index ix*N+iy.
type CostMap struct {
	Channel int       `json:"channel"`
	Size    int       `json:"size"`
	Values  []float64 `json:"values"`
}

// NewCostMap allocates a zero map
func NewCostMap(channel, size int) CostMap {
	return CostMap{Channel: channel, Size: size, Values: make([]float64, size*size)}
}

// At returns the value at (ix, iy)
func (m CostMap) At(ix, iy int) float64 {
	return m.Values[ix*m.Size+iy]
}

// ArgMax returns the first maximum in row-major order
func (m CostMap) ArgMax() (GridIndex, float64) {
	best := 0
	for i := 1; i < len(m.Values); i++ {
		if m.Values[i] > m.Values[best] {
			best = i
		}
	}
	return GridIndex{IX: best / m.Size, IY: best % m.Size}, m.Values[best]
}
