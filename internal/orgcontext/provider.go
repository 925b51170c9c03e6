package orgcontext

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/brightloop-voice/booking-agent/internal/observability"
	"github.com/brightloop-voice/booking-agent/internal/phonenumber"
)

// Provider resolves a dialed E.164 number to an organization Context, per
// spec §6.3: resolve(dialedNumberE164) -> OrganizationContext, with a
// generic default context for unmapped numbers.
type Provider interface {
	Resolve(ctx context.Context, dialedNumber string) (Context, error)
}

// CachedProvider wraps a Store with a read-through, time-bounded cache
// (spec §5: "OrgContextProvider holds a time-bounded (5 min) cache keyed
// by E.164 called-number"). Cache reads never block on Postgres once warm.
type CachedProvider struct {
	store       Store
	cache       *lru.LRU[string, Context]
	defaultOrgID string
}

// NewCachedProvider builds a Provider in front of store with the given TTL
// and capacity.
func NewCachedProvider(store Store, ttl time.Duration, capacity int, defaultOrgID string) *CachedProvider {
	if capacity <= 0 {
		capacity = 512
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedProvider{
		store:        store,
		cache:        lru.NewLRU[string, Context](capacity, nil, ttl),
		defaultOrgID: defaultOrgID,
	}
}

// Resolve normalizes dialedNumber to E.164, serves from cache if warm,
// otherwise fetches from the Store, caches the result, and falls back to
// Default on ErrNotFound or any other store error — a Postgres hiccup
// should degrade the call to a generic greeting, not fail call setup.
func (p *CachedProvider) Resolve(ctx context.Context, dialedNumber string) (Context, error) {
	normalized, err := phonenumber.Normalize(dialedNumber)
	if err != nil {
		return Context{}, fmt.Errorf("orgcontext: %w", err)
	}

	if cached, ok := p.cache.Get(normalized); ok {
		return cached, nil
	}

	c, err := p.store.FetchByNumber(ctx, normalized)
	switch {
	case errors.Is(err, ErrNotFound):
		c = Default(normalized)
		c.ID = p.defaultOrgID
	case err != nil:
		observability.GetLogger().Warn().
			Err(err).
			Str("dialed_number", normalized).
			Msg("orgcontext: store lookup failed, falling back to default context")
		c = Default(normalized)
		c.ID = p.defaultOrgID
	}

	p.cache.Add(normalized, c)
	return c, nil
}

// Invalidate drops dialedNumber's cached entry, e.g. on an explicit
// organization configuration change upstream.
func (p *CachedProvider) Invalidate(dialedNumber string) {
	if normalized, err := phonenumber.Normalize(dialedNumber); err == nil {
		p.cache.Remove(normalized)
	}
}

// Ping delegates to the backing store for the readiness handler.
func (p *CachedProvider) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}
