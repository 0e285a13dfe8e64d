package orchestrator

import (
	"math/rand"
	"time"

	"github.com/antigravity-gateway/gateway/internal/gatewayerr"
	"github.com/antigravity-gateway/gateway/internal/pkg/gemini"
)

// calculateRetryDelay implements spec.md §4.6's exponential-backoff-with-
// jitter, refined by the tiered by-error-type schedule (SPEC_FULL.md §3.2)
// when the prior attempt's classification selected one.
func calculateRetryDelay(attemptIndex int, kind gatewayerr.Kind) time.Duration {
	var tiers []int
	switch kind {
	case gatewayerr.RateLimited:
		tiers = gemini.CapacityBackoffTiersMs
	case gatewayerr.QuotaExhausted:
		tiers = gemini.QuotaExhaustedBackoffTiersMs
	}
	if attemptIndex >= 0 && attemptIndex < len(tiers) {
		return time.Duration(tiers[attemptIndex]) * time.Millisecond
	}

	base := 500 * time.Millisecond
	delay := base << uint(attemptIndex)
	if delay > 10*time.Second {
		delay = 10 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter
}
