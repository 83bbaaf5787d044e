package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckAdmission(t *testing.T) {
	tests := []struct {
		name     string
		depth    int
		qMax     int
		admitted bool
	}{
		{name: "empty system", depth: 0, qMax: 128, admitted: true},
		{name: "at the bound", depth: 128, qMax: 128, admitted: true},
		{name: "one over the bound", depth: 129, qMax: 128, admitted: false},
		{name: "far over the bound", depth: 200, qMax: 128, admitted: false},
		{name: "custom bound", depth: 2, qMax: 1, admitted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CheckAdmission(tt.depth, tt.qMax)
			assert.Equal(t, tt.admitted, result.Admitted)
			if !tt.admitted {
				assert.Equal(t, 60, result.RetryAfterSec)
				assert.NotEmpty(t, result.Reason)
			}
		})
	}
}

func TestCheckAdmissionReason(t *testing.T) {
	result := CheckAdmission(200, 128)
	assert.Equal(t, "queue_depth 200 > Q_MAX 128", result.Reason)
}

func TestTierFor(t *testing.T) {
	tests := []struct {
		depth int
		tier  int
		cap   int
	}{
		{depth: 0, tier: 0, cap: 200},
		{depth: 32, tier: 0, cap: 200},
		{depth: 33, tier: 1, cap: 128},
		{depth: 64, tier: 1, cap: 128},
		{depth: 65, tier: 2, cap: 96},
		{depth: 96, tier: 2, cap: 96},
		{depth: 97, tier: 3, cap: 64},
		{depth: 1000, tier: 3, cap: 64},
	}

	for _, tt := range tests {
		tier := TierFor(tt.depth)
		assert.Equal(t, tt.tier, tier.Tier, "depth %d", tt.depth)
		assert.Equal(t, tt.cap, tier.MaxOutputTokens, "depth %d", tt.depth)
	}
}

func TestApplyDegradationCapsTokens(t *testing.T) {
	body := map[string]any{"max_tokens": float64(200), "model": "m"}

	out, tier := ApplyDegradation(body, 70)

	assert.Equal(t, 2, tier.Tier)
	assert.Equal(t, 96, out["max_tokens"])
	assert.Equal(t, "m", out["model"])
	// The input body is never mutated
	assert.Equal(t, float64(200), body["max_tokens"])
}

func TestApplyDegradationBelowCapUnchanged(t *testing.T) {
	body := map[string]any{"max_tokens": float64(50)}

	out, _ := ApplyDegradation(body, 1000)

	assert.Equal(t, float64(50), out["max_tokens"])
}

func TestApplyDegradationMissingTokensDefaults(t *testing.T) {
	// A missing max_tokens counts as 200 and gets capped under load
	out, tier := ApplyDegradation(map[string]any{}, 97)

	assert.Equal(t, 3, tier.Tier)
	assert.Equal(t, 64, out["max_tokens"])
}

func TestApplyDegradationNonIntegerTokensDefaults(t *testing.T) {
	out, _ := ApplyDegradation(map[string]any{"max_tokens": "many"}, 97)
	assert.Equal(t, 64, out["max_tokens"])

	out, _ = ApplyDegradation(map[string]any{"max_tokens": 1.5}, 97)
	assert.Equal(t, 64, out["max_tokens"])
}

func TestApplyDegradationNoCapAtTierZero(t *testing.T) {
	out, tier := ApplyDegradation(map[string]any{}, 0)

	assert.Equal(t, 0, tier.Tier)
	_, present := out["max_tokens"]
	assert.False(t, present, "tier 0 must not inject max_tokens")
}

func TestApplyDegradationIdempotent(t *testing.T) {
	body := map[string]any{"max_tokens": float64(200)}

	once, _ := ApplyDegradation(body, 70)
	twice, _ := ApplyDegradation(once, 70)

	assert.Equal(t, once, twice)
}
