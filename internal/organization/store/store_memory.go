// Package store persists organization rule configuration and webhook subscriptions.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"idverify/internal/organization/models"
	"idverify/pkg/platform/sentinel"
)

// InMemory stores organization settings in memory for tests/dev.
type InMemory struct {
	mu            sync.RWMutex
	rules         map[uuid.UUID]models.VerificationRules
	subscriptions map[uuid.UUID]models.WebhookSubscription
}

func NewInMemory() *InMemory {
	return &InMemory{
		rules:         make(map[uuid.UUID]models.VerificationRules),
		subscriptions: make(map[uuid.UUID]models.WebhookSubscription),
	}
}

func (s *InMemory) FindRules(_ context.Context, orgID uuid.UUID) (*models.VerificationRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[orgID]
	if !ok {
		return nil, fmt.Errorf("rules for %s: %w", orgID, sentinel.ErrNotFound)
	}
	return &r, nil
}

func (s *InMemory) SaveRules(_ context.Context, r *models.VerificationRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.OrganizationID] = *r
	return nil
}

func (s *InMemory) FindSubscription(_ context.Context, orgID uuid.UUID) (*models.WebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[orgID]
	if !ok {
		return nil, fmt.Errorf("subscription for %s: %w", orgID, sentinel.ErrNotFound)
	}
	events := make(map[string]bool, len(sub.Events))
	for k, v := range sub.Events {
		events[k] = v
	}
	sub.Events = events
	return &sub, nil
}

func (s *InMemory) SaveSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[sub.OrganizationID] = *sub
	return nil
}
