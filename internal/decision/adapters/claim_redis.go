package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis key prefix for processing claims
const claimKeyPrefix = "verification:processing:"

// RedisClaimer guards a verification against concurrent decide runs across
// instances. A claim is a key with a TTL; whoever sets it first owns it.
type RedisClaimer struct {
	client *redis.Client
}

func NewRedisClaimer(client *redis.Client) *RedisClaimer {
	return &RedisClaimer{client: client}
}

// Claim sets the claim key if absent. It reports false when another run
// already holds it.
func (c *RedisClaimer) Claim(ctx context.Context, verificationID uuid.UUID, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, claimKeyPrefix+verificationID.String(), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim verification: %w", err)
	}
	return ok, nil
}

// Release drops the claim. Releasing an expired claim is not an error.
func (c *RedisClaimer) Release(ctx context.Context, verificationID uuid.UUID) error {
	if err := c.client.Del(ctx, claimKeyPrefix+verificationID.String()).Err(); err != nil {
		return fmt.Errorf("release verification claim: %w", err)
	}
	return nil
}
