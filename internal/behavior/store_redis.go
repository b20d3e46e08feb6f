package behavior

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"idverify/internal/verification/models"
)

const signalKeyPrefix = "verification:signals:"

// RedisStore keeps telemetry as a JSON string with SignalTTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, ttl: SignalTTL}
}

func (s *RedisStore) Save(ctx context.Context, sig *models.BehavioralSignals) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	if err := s.client.Set(ctx, signalKey(sig.VerificationID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save signals: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, verificationID uuid.UUID) (*models.BehavioralSignals, error) {
	data, err := s.client.Get(ctx, signalKey(verificationID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load signals: %w", err)
	}

	var sig models.BehavioralSignals
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, fmt.Errorf("unmarshal signals: %w", err)
	}
	return &sig, nil
}

func signalKey(id uuid.UUID) string {
	return signalKeyPrefix + id.String()
}
