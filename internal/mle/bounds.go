package mle

import (
	"fmt"
	"math"

	"godetect/domain/core"
)

// Bounds limits the continuous search. Positions are confined to the square
// field of view centred on the optical axis; fluxes are non-negative and, when
// FluxUpper is positive, at most FluxUpper.
type Bounds struct {
	FieldOfView float64
	FluxUpper   float64
}

func (b Bounds) validate() error {
	if !(b.FieldOfView > 0) || math.IsInf(b.FieldOfView, 0) {
		return fmt.Errorf("%w: field of view %v", core.ErrInvalidBounds, b.FieldOfView)
	}
	if b.FluxUpper < 0 || math.IsNaN(b.FluxUpper) || math.IsInf(b.FluxUpper, 0) {
		return fmt.Errorf("%w: flux upper bound %v", core.ErrInvalidBounds, b.FluxUpper)
	}
	return nil
}

// boundMargin is the fraction of an interval kept between a starting point and
// its bounds. At a bound dx/du vanishes, so a parameter started there never moves.
const boundMargin = 1e-3

// interval maps a bounded external parameter onto an unbounded internal one.
// Two-sided intervals use x = lo + (sin(u)+1)(hi-lo)/2; intervals open above
// use x = lo - 1 + sqrt(u²+1).
type interval struct {
	lo, hi float64
	closed bool
}

func (iv interval) clip(x float64) float64 {
	if math.IsNaN(x) || x < iv.lo {
		return iv.lo
	}
	if iv.closed && x > iv.hi {
		return iv.hi
	}
	return x
}

func (iv interval) external(u float64) float64 {
	if iv.closed {
		return iv.lo + (math.Sin(u)+1)*(iv.hi-iv.lo)/2
	}
	return iv.lo - 1 + math.Sqrt(u*u+1)
}

func (iv interval) internal(x float64) float64 {
	x = iv.clip(x)
	if iv.closed {
		s := 2*(x-iv.lo)/(iv.hi-iv.lo) - 1
		return math.Asin(math.Max(-1, math.Min(1, s)))
	}
	d := x - iv.lo + 1
	return math.Sqrt(d*d - 1)
}

// interior clips x and moves it at least boundMargin off the bounds. Intervals
// open above measure the margin against scale.
func (iv interval) interior(x, scale float64) float64 {
	x = iv.clip(x)
	if iv.closed {
		m := boundMargin * (iv.hi - iv.lo)
		return math.Max(iv.lo+m, math.Min(iv.hi-m, x))
	}
	if m := boundMargin * scale; x-iv.lo < m {
		return iv.lo + m
	}
	return x
}

// derivative returns dx/du at u
func (iv interval) derivative(u float64) float64 {
	if iv.closed {
		return math.Cos(u) * (iv.hi - iv.lo) / 2
	}
	return u / math.Sqrt(u*u+1)
}

type intervals []interval

func (ivs intervals) toExternal(dst, u []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(u))
	}
	for i, iv := range ivs {
		dst[i] = iv.clip(iv.external(u[i]))
	}
	return dst
}

// startingPoint maps a seed onto internal coordinates strictly inside every
// interval. Seeds at zero flux or on the field edge are common grid outputs.
func (ivs intervals) startingPoint(x []float64) []float64 {
	scale := 0.0
	for i, iv := range ivs {
		if d := math.Abs(x[i] - iv.lo); !iv.closed && !math.IsNaN(d) && !math.IsInf(d, 0) {
			scale = math.Max(scale, d)
		}
	}
	if scale == 0 {
		scale = 1
	}
	inside := make([]float64, len(x))
	for i, iv := range ivs {
		inside[i] = iv.interior(x[i], scale)
	}
	return ivs.toInternal(inside)
}

func (ivs intervals) toInternal(x []float64) []float64 {
	u := make([]float64, len(x))
	for i, iv := range ivs {
		u[i] = iv.internal(x[i])
	}
	return u
}
