package cache

import (
	"context"

	"invoicer/internal/core"
	"invoicer/internal/ports"
)

// ProfileReader caches successful payee profile lookups. Failed lookups are
// never cached so a newly completed profile is visible on the next request.
type ProfileReader struct {
	inner ports.ProfileReader
	cache Cache[core.PayeeProfile]
}

func NewProfileReader(inner ports.ProfileReader, c Cache[core.PayeeProfile]) *ProfileReader {
	return &ProfileReader{inner: inner, cache: c}
}

func (p *ProfileReader) GetProfile(ctx context.Context, userID string) (core.PayeeProfile, error) {
	if v, ok := p.cache.Get(userID); ok {
		return v, nil
	}
	v, err := p.inner.GetProfile(ctx, userID)
	if err != nil {
		return core.PayeeProfile{}, err
	}
	p.cache.Set(userID, v)
	return v, nil
}

// Invalidate drops the cached profile of userID.
func (p *ProfileReader) Invalidate(userID string) {
	p.cache.Delete(userID)
}
