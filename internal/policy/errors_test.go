package policy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaxonomyUnwrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     string
	}{
		{"unavailable", Unavailable("snapshot", "age %s", "20m"), ErrDataUnavailable, "data_unavailable"},
		{"invalid", Invalid("price", -1.0, "must be positive"), ErrValidation, "validation"},
		{"violation", Violation(ReasonSpreadAboveCap, "liquidity", "spread %.2f%%", 1.4), ErrPolicyViolation, "policy_violation"},
		{"wrapped", fmt.Errorf("classify: %w", Unavailable("vix", "missing")), ErrDataUnavailable, "data_unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.err, tt.sentinel))
			assert.Equal(t, tt.kind, Kind(tt.err))
		})
	}

	assert.Equal(t, "internal", Kind(errors.New("boom")))
	assert.Equal(t, "none", Kind(nil))
}

func TestFromContext(t *testing.T) {
	err := FromContext("quote", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Contains(t, err.Error(), "timed out")

	other := errors.New("decode failed")
	assert.Equal(t, other, FromContext("quote", other))
	assert.NoError(t, FromContext("quote", nil))
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("gate: %w", Violation(ReasonAggregateRiskCap, "portfolio_risk", "16.0%% > 15.0%%"))
	code, ok := CodeOf(err)
	assert.True(t, ok)
	assert.Equal(t, ReasonAggregateRiskCap, code)

	_, ok = CodeOf(errors.New("plain"))
	assert.False(t, ok)
}
