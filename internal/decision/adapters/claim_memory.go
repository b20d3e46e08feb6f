package adapters

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// MemoryClaimer is the single-instance claimer used when Redis is not
// configured. go-cache's Add fails when a live entry exists, which gives
// the same set-if-absent semantics as SETNX.
type MemoryClaimer struct {
	claims *cache.Cache
}

func NewMemoryClaimer() *MemoryClaimer {
	return &MemoryClaimer{claims: cache.New(cache.NoExpiration, time.Minute)}
}

func (c *MemoryClaimer) Claim(_ context.Context, verificationID uuid.UUID, ttl time.Duration) (bool, error) {
	return c.claims.Add(verificationID.String(), struct{}{}, ttl) == nil, nil
}

func (c *MemoryClaimer) Release(_ context.Context, verificationID uuid.UUID) error {
	c.claims.Delete(verificationID.String())
	return nil
}
