package domain

import (
	"context"
	"sync"
)

// StaticTierResolver serves tiers from an in-memory table and falls back to
// Default for unknown users.
type StaticTierResolver struct {
	mu      sync.RWMutex
	Default Tier
	tiers   map[int64]Tier
}

func NewStaticTierResolver(def Tier) *StaticTierResolver {
	if def == "" {
		def = TierFree
	}
	return &StaticTierResolver{Default: def, tiers: map[int64]Tier{}}
}

func (r *StaticTierResolver) Set(userID int64, tier Tier) {
	r.mu.Lock()
	r.tiers[userID] = tier
	r.mu.Unlock()
}

func (r *StaticTierResolver) Tier(_ context.Context, userID int64) (Tier, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tier, ok := r.tiers[userID]; ok {
		return tier, nil
	}
	return r.Default, nil
}
