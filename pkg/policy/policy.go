package policy

import (
	"fmt"

	"github.com/cuemby/burrow/pkg/types"
)

// DefaultQMax is the default admission bound on pending+in-flight requests
const DefaultQMax = 128

// DefaultMaxTokens is assumed when a request carries no usable max_tokens
const DefaultMaxTokens = 200

// maxTokensField is the only request-body field the gateway mutates
const maxTokensField = "max_tokens"

// ladder maps rising queue depth to shrinking output-token budgets.
// Tier 0 is normal operation.
var ladder = [4]types.DegradationTier{
	{Tier: 0, MaxOutputTokens: 200, Label: "normal"},
	{Tier: 1, MaxOutputTokens: 128, Label: "max_new_tokens=128"},
	{Tier: 2, MaxOutputTokens: 96, Label: "max_new_tokens=96"},
	{Tier: 3, MaxOutputTokens: 64, Label: "max_new_tokens=64"},
}

// CheckAdmission admits the request iff queueDepth <= qMax. Rejections
// carry a retry hint for the client; no state is touched.
func CheckAdmission(queueDepth, qMax int) types.AdmissionResult {
	if queueDepth <= qMax {
		return types.AdmissionResult{Admitted: true}
	}
	return types.AdmissionResult{
		Admitted:      false,
		RetryAfterSec: 60,
		Reason:        fmt.Sprintf("queue_depth %d > Q_MAX %d", queueDepth, qMax),
	}
}

// TierFor selects the degradation tier for the given queue depth.
// Thresholds: <=32 tier 0, 33-64 tier 1, 65-96 tier 2, 97+ tier 3.
func TierFor(queueDepth int) types.DegradationTier {
	switch {
	case queueDepth <= 32:
		return ladder[0]
	case queueDepth <= 64:
		return ladder[1]
	case queueDepth <= 96:
		return ladder[2]
	default:
		return ladder[3]
	}
}

// ApplyDegradation returns a copy of body with max_tokens capped by the
// tier for queueDepth, plus the tier itself for logging. A missing or
// non-integer max_tokens counts as DefaultMaxTokens. Applying the same
// depth twice is a no-op.
func ApplyDegradation(body map[string]any, queueDepth int) (map[string]any, types.DegradationTier) {
	tier := TierFor(queueDepth)

	out := make(map[string]any, len(body))
	for k, v := range body {
		out[k] = v
	}

	if requestedTokens(out) > tier.MaxOutputTokens {
		out[maxTokensField] = tier.MaxOutputTokens
	}
	return out, tier
}

// requestedTokens extracts max_tokens from a decoded JSON body. Numbers
// decode as float64; only integral values are honored.
func requestedTokens(body map[string]any) int {
	switch v := body[maxTokensField].(type) {
	case int:
		return v
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return DefaultMaxTokens
}
