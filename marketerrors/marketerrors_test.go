package marketerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSentinels_WrapAndUnwrapWithErrorsIs(t *testing.T) {
	cases := []error{
		ErrGapDetected,
		ErrStaleUpdate,
		ErrNegativeDeltaT,
		ErrUnreliableVPIN,
		ErrStaleDerivatives,
		ErrInvariantViolation,
	}
	for _, sentinel := range cases {
		t.Run(sentinel.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("apply update for BTCUSDT: %w", sentinel)
			assert.True(t, errors.Is(wrapped, sentinel))
		})
	}
}

func TestSentinels_AreDistinct(t *testing.T) {
	all := []error{
		ErrGapDetected, ErrStaleUpdate, ErrNegativeDeltaT,
		ErrUnreliableVPIN, ErrStaleDerivatives, ErrInvariantViolation,
	}
	for i := range all {
		for j := range all {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(all[i], all[j]), "sentinels %d and %d must not match", i, j)
		}
	}
}
