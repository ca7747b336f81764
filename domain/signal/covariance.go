package signal

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"godetect/domain/core"
)

// Covariance holds one empirical noise covariance per channel together with its
// whitening operator, the inverse principal square root of that covariance.
type Covariance struct {
	matrices  []*mat.SymDense
	operators []*mat.Dense
	identity  bool

	// Attempts is the number of signal-free realizations drawn before an
	// invertible covariance was found.
	Attempts int
	// Seed is the seed of the realization that produced the covariance.
	Seed int64
	// DiagonalOnly records whether off-diagonal terms were discarded.
	DiagonalOnly bool
}

// NewCovariance pairs per-channel covariance matrices with their whitening operators
func NewCovariance(matrices []*mat.SymDense, operators []*mat.Dense) (*Covariance, error) {
	if len(matrices) == 0 || len(matrices) != len(operators) {
		return nil, fmt.Errorf("%w: %d covariances for %d operators", core.ErrShapeMismatch, len(matrices), len(operators))
	}
	n := matrices[0].SymmetricDim()
	for k := range matrices {
		if matrices[k].SymmetricDim() != n {
			return nil, core.NewShapeError(fmt.Sprintf("channel %d covariance", k), n, matrices[k].SymmetricDim())
		}
		r, c := operators[k].Dims()
		if r != n || c != n {
			return nil, core.NewShapeError(fmt.Sprintf("channel %d operator", k), n, r)
		}
	}
	return &Covariance{matrices: matrices, operators: operators}, nil
}

// IdentityCovariance is the no-op whitening used for the unwhitened baseline
func IdentityCovariance(channels, size int) *Covariance {
	c := &Covariance{
		matrices:  make([]*mat.SymDense, channels),
		operators: make([]*mat.Dense, channels),
		identity:  true,
	}
	for k := 0; k < channels; k++ {
		eye := mat.NewSymDense(size, nil)
		op := mat.NewDense(size, size, nil)
		for i := 0; i < size; i++ {
			eye.SetSym(i, i, 1)
			op.Set(i, i, 1)
		}
		c.matrices[k] = eye
		c.operators[k] = op
	}
	return c
}

// Channels returns the number of channels covered
func (c *Covariance) Channels() int { return len(c.matrices) }

// Size returns the dimension of each covariance matrix
func (c *Covariance) Size() int { return c.matrices[0].SymmetricDim() }

// IsIdentity reports whether this is the no-op whitening
func (c *Covariance) IsIdentity() bool { return c.identity }

// Matrix returns the covariance of channel k. It must not be modified.
func (c *Covariance) Matrix(k int) mat.Symmetric { return c.matrices[k] }

// Operator returns the whitening operator of channel k. It must not be modified.
func (c *Covariance) Operator(k int) mat.Matrix { return c.operators[k] }

// Compose returns a covariance whose channel k operator is Operator(k)·pre[k],
// so pre[k] acts on a block before it is whitened. The covariance matrices and
// provenance fields are shared with c.
func (c *Covariance) Compose(pre []*mat.Dense) (*Covariance, error) {
	if len(pre) != c.Channels() {
		return nil, core.NewShapeError("channel", c.Channels(), len(pre))
	}
	n := c.Size()
	out := &Covariance{
		matrices:     c.matrices,
		operators:    make([]*mat.Dense, len(pre)),
		Attempts:     c.Attempts,
		Seed:         c.Seed,
		DiagonalOnly: c.DiagonalOnly,
	}
	for k, p := range pre {
		r, cols := p.Dims()
		if r != n || cols != n {
			return nil, core.NewShapeError(fmt.Sprintf("channel %d pre-operator", k), n, r)
		}
		var op mat.Dense
		op.Mul(c.operators[k], p)
		out.operators[k] = &op
	}
	return out, nil
}
