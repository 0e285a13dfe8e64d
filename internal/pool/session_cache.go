package pool

import "context"

// SessionCache lets the pool's sticky-session binding survive across
// gateway processes. It is optional: a nil SessionCache leaves the pool
// backed only by its own in-memory sessionBindings map, which is sufficient
// for a single-process deployment. repository.RedisSessionCache is the
// production adapter (DESIGN.md, C3).
type SessionCache interface {
	Get(ctx context.Context, sessionKey string) (accountID string, ok bool)
	Set(ctx context.Context, sessionKey, accountID string) error
}

// SetSessionCache attaches a cross-process session cache. Call once during
// construction, before the pool serves traffic.
func (p *TokenPool) SetSessionCache(cache SessionCache) {
	p.sessionCache = cache
}
