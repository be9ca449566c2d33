package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nordvik/trena/internal/billing"
	"github.com/nordvik/trena/internal/cache"
)

// PriceResolver maps a Stripe price id to the plan's catalog lookup key.
// Resolution is idempotent and side-effect-free from the reconciler's point
// of view; results are cached because the same renewal price is resolved on
// every billing cycle across the whole customer base.
type PriceResolver interface {
	// Resolve returns the lookup key for a price, or "" when the price
	// carries no catalog key. An error means the processor lookup failed and
	// the key is unknown, not absent.
	Resolve(ctx context.Context, priceID string) (string, error)
}

type priceResolver struct {
	provider billing.Provider
	cache    *cache.Client // optional; nil disables caching
	ttl      time.Duration
	logger   *slog.Logger
}

// NewPriceResolver creates a PriceResolver backed by the billing provider
// with an optional Redis read-through cache. Cache failures degrade to
// provider lookups; they never fail resolution.
func NewPriceResolver(provider billing.Provider, cacheClient *cache.Client, logger *slog.Logger) PriceResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &priceResolver{
		provider: provider,
		cache:    cacheClient,
		ttl:      12 * time.Hour,
		logger:   logger,
	}
}

const priceKeyPrefix = "price_lookup_key:"

func (r *priceResolver) Resolve(ctx context.Context, priceID string) (string, error) {
	if priceID == "" {
		return "", nil
	}

	if r.cache != nil {
		key, err := r.cache.GetString(ctx, priceKeyPrefix+priceID)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			r.logger.Warn("price resolver: cache read failed, falling through to provider",
				slog.String("price_id", priceID),
				slog.String("error", err.Error()),
			)
		}
	}

	price, err := r.provider.GetPrice(ctx, priceID)
	if err != nil {
		return "", err
	}

	if r.cache != nil && price.LookupKey != "" {
		if err := r.cache.SetString(ctx, priceKeyPrefix+priceID, price.LookupKey, r.ttl); err != nil {
			r.logger.Warn("price resolver: cache write failed",
				slog.String("price_id", priceID),
				slog.String("error", err.Error()),
			)
		}
	}

	return price.LookupKey, nil
}
