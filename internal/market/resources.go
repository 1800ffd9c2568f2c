// Package market implements the resource model and the allocation auction:
// bundle validation, bid placement, per-cycle clearing against capacity, and
// price discovery from clearing activity.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/syntropism/backend/internal/domain"
	"github.com/syntropism/backend/internal/store"
)

// BundleRequest carries both the canonical fractional fields and the legacy
// absolute fields accepted at the surface. Legacy values are converted at
// ingestion and never stored.
type BundleRequest struct {
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	TokensPercent    float64 `json:"tokens_percent"`
	AttentionPercent float64 `json:"attention_percent"`
	DurationSeconds  float64 `json:"duration_seconds"`

	// Legacy absolute fields.
	CPUSeconds     float64 `json:"cpu_seconds,omitempty"`
	MemoryMB       float64 `json:"memory_mb,omitempty"`
	Tokens         float64 `json:"tokens,omitempty"`
	AttentionShare float64 `json:"attention_share,omitempty"`
}

// ToBundle normalizes a request into a canonical fractional bundle.
// Fractional fields win; legacy absolutes fill in only where the fractional
// field is zero.
func (r *BundleRequest) ToBundle() (*domain.ResourceBundle, error) {
	b := &domain.ResourceBundle{
		ID:               uuid.New().String(),
		CPUPercent:       r.CPUPercent,
		MemoryPercent:    r.MemoryPercent,
		TokensPercent:    r.TokensPercent,
		AttentionPercent: r.AttentionPercent,
		DurationSeconds:  r.DurationSeconds,
	}
	if b.CPUPercent == 0 && r.CPUSeconds > 0 {
		b.CPUPercent = r.CPUSeconds / domain.LegacyCPUDivisor
	}
	if b.MemoryPercent == 0 && r.MemoryMB > 0 {
		b.MemoryPercent = r.MemoryMB / domain.LegacyMemoryDivisor
	}
	if b.TokensPercent == 0 && r.Tokens > 0 {
		b.TokensPercent = r.Tokens / domain.LegacyTokensDivisor
	}
	if b.AttentionPercent == 0 && r.AttentionShare > 0 {
		b.AttentionPercent = r.AttentionShare
	}
	if b.DurationSeconds == 0 && r.CPUSeconds > 0 {
		b.DurationSeconds = r.CPUSeconds
	}
	if err := ValidateBundle(b); err != nil {
		return nil, err
	}
	return b, nil
}

// ValidateBundle enforces the bundle contract: every fraction in [0,1] and a
// positive duration.
func ValidateBundle(b *domain.ResourceBundle) error {
	for _, rt := range domain.ResourceTypes {
		f := b.Fraction(rt)
		if f < 0 || f > 1 {
			return fmt.Errorf("%w: %s fraction %.3f outside [0,1]", domain.ErrInvalidState, rt, f)
		}
	}
	if b.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration_seconds must be positive", domain.ErrInvalidState)
	}
	return nil
}

// Feasible reports whether a bundle fits the remaining capacity. Allocation
// is all-or-nothing across the four resources.
func Feasible(b *domain.ResourceBundle, consumed, supply map[domain.ResourceType]float64) bool {
	for _, rt := range domain.ResourceTypes {
		req := b.Fraction(rt)
		if req <= 0 {
			continue
		}
		if consumed[rt]+req > supply[rt] {
			return false
		}
	}
	return true
}

// Bootstrap seeds the four MarketState rows with the configured supply and
// starting price. Existing rows are left untouched.
func Bootstrap(ctx context.Context, s store.Store, defaults map[domain.ResourceType]domain.ResourceDefault) error {
	return s.WithTx(ctx, func(tx store.Tx) error {
		for _, rt := range domain.ResourceTypes {
			if _, err := tx.GetMarketState(rt); err == nil {
				continue
			}
			d, ok := defaults[rt]
			if !ok {
				d = domain.MarketResources[rt]
			}
			ms := &domain.MarketState{
				Kind:            rt,
				AvailableSupply: d.Supply,
				CurrentPrice:    d.Price,
				UpdatedAt:       time.Now().UTC(),
			}
			if err := tx.InsertMarketState(ms); err != nil {
				return err
			}
		}
		return nil
	})
}
