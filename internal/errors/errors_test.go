package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSentinel = stderrors.New("sentinel")

func TestWrap_PreservesCodeAndCause(t *testing.T) {
	base := NumericalSingularity("inverse square root of channel 0 covariance", errSentinel)
	wrapped := Wrap(base, "covariance stage")

	assert.Equal(t, CodeNumericalSingularity, GetCode(wrapped))
	assert.True(t, stderrors.Is(wrapped, errSentinel))
	assert.Contains(t, wrapped.Error(), "covariance stage")
	assert.Contains(t, wrapped.Error(), "inverse square root")
}

func TestWrap_PlainErrorBecomesInternal(t *testing.T) {
	wrapped := Wrapf(errSentinel, "stage %s", "grid_mle")
	assert.Equal(t, CodeInternalError, GetCode(wrapped))
	assert.Nil(t, Wrap(nil, "nothing"))
}

func TestWithCode(t *testing.T) {
	err := WithCode(CodeConfigInvalid, errSentinel)
	assert.Equal(t, CodeConfigInvalid, GetCode(err))
	assert.True(t, stderrors.Is(err, errSentinel))
	assert.True(t, IsAppError(err))
	assert.Equal(t, "UNKNOWN", GetCode(errSentinel))
}
