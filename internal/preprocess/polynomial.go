// Package preprocess builds linear operators that remove slowly varying
// spectral structure from count series. They are composed into the whitening
// operator so data and templates are transformed identically.
package preprocess

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"godetect/domain/core"
	"godetect/domain/signal"
	apperrors "godetect/internal/errors"
)

// DefaultDegree fits a cubic over the wavelength index
const DefaultDegree = 3

// Residual returns the rows x rows operator R with R·x equal to x minus its
// least-squares polynomial fit of the given degree over the wavelength index.
// Applied to a wavelength x time block it removes the fit of every time step.
func Residual(rows, degree int) (*mat.Dense, error) {
	if degree < 0 {
		return nil, apperrors.ConfigInvalid(fmt.Sprintf("polynomial degree must be non-negative, got %d", degree))
	}
	if rows <= degree+1 {
		return nil, apperrors.WithCode(apperrors.CodeConfigInvalid,
			fmt.Errorf("%w: a degree %d fit over %d wavelength bins leaves no residual", core.ErrShapeMismatch, degree, rows))
	}

	// Vandermonde columns over the index mapped onto [-1, 1]
	x := floats.Span(make([]float64, rows), -1, 1)
	v := mat.NewDense(rows, degree+1, nil)
	for i, xi := range x {
		p := 1.0
		for j := 0; j <= degree; j++ {
			v.Set(i, j, p)
			p *= xi
		}
	}

	var qr mat.QR
	qr.Factorize(v)
	var q mat.Dense
	qr.QTo(&q)
	basis := q.Slice(0, rows, 0, degree+1)

	var fit mat.Dense
	fit.Mul(basis, basis.T())
	r := mat.NewDense(rows, rows, nil)
	for i := 0; i < rows; i++ {
		r.Set(i, i, 1)
	}
	r.Sub(r, &fit)
	return r, nil
}

// Compose prefixes the residual operator to every channel of cov. A nil cov
// stands for disabled whitening, in which case the result only removes the fit.
func Compose(cov *signal.Covariance, channels, rows, degree int) (*signal.Covariance, error) {
	r, err := Residual(rows, degree)
	if err != nil {
		return nil, err
	}
	if cov == nil {
		cov = signal.IdentityCovariance(channels, rows)
	}
	pre := make([]*mat.Dense, channels)
	for k := range pre {
		pre[k] = r
	}
	out, err := cov.Compose(pre)
	if err != nil {
		return nil, apperrors.WithCode(apperrors.CodeShapeMismatch, err)
	}
	return out, nil
}
