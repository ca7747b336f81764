package covariance

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"godetect/domain/core"
)

// DefaultTolerance is the smallest eigenvalue, relative to the largest, that
// still counts as invertible.
const DefaultTolerance = 1e-12

// InverseSqrt returns W = Σ^(-1/2), the inverse of the principal square root of
// a symmetric positive definite matrix, so that W Σ Wᵀ = I. A matrix with a
// non-positive or relatively negligible eigenvalue is reported as singular.
func InverseSqrt(sigma mat.Symmetric, tol float64) (*mat.Dense, error) {
	if tol <= 0 {
		tol = DefaultTolerance
	}
	n := sigma.SymmetricDim()

	var eig mat.EigenSym
	if ok := eig.Factorize(sigma, true); !ok {
		return nil, fmt.Errorf("%w: eigendecomposition did not converge", core.ErrSingularCovariance)
	}
	values := eig.Values(nil)

	largest := math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: non-finite eigenvalue", core.ErrSingularCovariance)
		}
		largest = math.Max(largest, v)
	}
	if !(largest > 0) {
		return nil, fmt.Errorf("%w: largest eigenvalue %g", core.ErrSingularCovariance, largest)
	}

	scale := make([]float64, n)
	for i, v := range values {
		if v <= tol*largest {
			return nil, fmt.Errorf("%w: eigenvalue %g below %g", core.ErrSingularCovariance, v, tol*largest)
		}
		scale[i] = 1 / math.Sqrt(v)
	}

	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	var scaled mat.Dense
	scaled.Apply(func(_, j int, v float64) float64 { return v * scale[j] }, &vecs)

	var w mat.Dense
	w.Mul(&scaled, vecs.T())

	// symmetrize away rounding so W is exactly symmetric
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (w.At(i, j) + w.At(j, i))
			out.Set(i, j, v)
			out.Set(j, i, v)
		}
	}
	return out, nil
}

// Empirical returns the unbiased covariance of the rows of block, using the
// columns as observations. For a channel block that is the covariance between
// wavelength bins estimated over the time samples.
func Empirical(block mat.Matrix, diagonalOnly bool) *mat.SymDense {
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, block.T(), nil)
	if !diagonalOnly {
		return &cov
	}
	n := cov.SymmetricDim()
	diag := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		diag.SetSym(i, i, cov.At(i, i))
	}
	return diag
}
