package exchange

import "time"

// DefaultTTL is how long a fetched rate is served without refresh.
const DefaultTTL = time.Hour

// TTLPolicy decides how long cached rates stay fresh and how long an
// expired rate may still be served when every provider is down.
type TTLPolicy struct {
	TTL time.Duration
	// MaxStale bounds stale fallback after expiry. Zero means no bound.
	MaxStale time.Duration
}

// DefaultTTLPolicy returns a one hour TTL with unbounded stale fallback.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{TTL: DefaultTTL}
}

func (p TTLPolicy) ttl() time.Duration {
	if p.TTL <= 0 {
		return DefaultTTL
	}
	return p.TTL
}

// Fresh reports whether a rate fetched at fetchedAt can be served at now.
func (p TTLPolicy) Fresh(fetchedAt, now time.Time) bool {
	return now.Before(fetchedAt.Add(p.ttl()))
}

// Usable reports whether a rate fetched at fetchedAt may be served as stale at now.
func (p TTLPolicy) Usable(fetchedAt, now time.Time) bool {
	if p.MaxStale <= 0 {
		return true
	}
	return now.Before(fetchedAt.Add(p.ttl() + p.MaxStale))
}
