package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/listings_backend/models"
	"github.com/redis/go-redis/v9"
)

// ErrAlreadyRecorded is returned by RecordNotified when the pair already exists.
var ErrAlreadyRecorded = models.ErrAlreadyRecorded

// NotificationLedger remembers which (listing, subscriber) pairs were included in a delivered digest.
// Implementations must enforce pair uniqueness atomically in the store.
type NotificationLedger interface {
	HasBeenNotified(ctx context.Context, listingId, subscriberEmail string) (bool, error)
	RecordNotified(ctx context.Context, listingId, subscriberEmail string, sentAt time.Time) error
}

// CachedLedger answers positive HasBeenNotified lookups from redis.
// Ledger entries are never removed, so a cached "true" cannot go stale; "false" is never cached.
type CachedLedger struct {
	Ledger NotificationLedger
	Redis  *redis.Client
	TTL    time.Duration
}

func NewCachedLedger(ledger NotificationLedger, rdb *redis.Client) *CachedLedger {
	return &CachedLedger{Ledger: ledger, Redis: rdb, TTL: 7 * 24 * time.Hour}
}

func ledgerCacheKey(listingId, subscriberEmail string) string {
	return fmt.Sprintf("ledger:%s:%s", listingId, subscriberEmail)
}

func (l *CachedLedger) HasBeenNotified(ctx context.Context, listingId, subscriberEmail string) (bool, error) {
	if l.Redis != nil {
		n, err := l.Redis.Exists(ctx, ledgerCacheKey(listingId, subscriberEmail)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
	}
	notified, err := l.Ledger.HasBeenNotified(ctx, listingId, subscriberEmail)
	if err != nil {
		return false, err
	}
	if notified {
		l.remember(ctx, listingId, subscriberEmail)
	}
	return notified, nil
}

func (l *CachedLedger) RecordNotified(ctx context.Context, listingId, subscriberEmail string, sentAt time.Time) error {
	err := l.Ledger.RecordNotified(ctx, listingId, subscriberEmail, sentAt)
	if err == nil || errors.Is(err, ErrAlreadyRecorded) {
		l.remember(ctx, listingId, subscriberEmail)
	}
	return err
}

func (l *CachedLedger) remember(ctx context.Context, listingId, subscriberEmail string) {
	if l.Redis == nil {
		return
	}
	_ = l.Redis.Set(ctx, ledgerCacheKey(listingId, subscriberEmail), "1", l.TTL).Err()
}
