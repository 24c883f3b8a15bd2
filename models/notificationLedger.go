package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"github.com/mmdatafocus/listings_backend/utils"
	"gorm.io/gorm"
)

// ErrAlreadyRecorded means the (listing, subscriber) pair is already in the ledger.
// Callers treat it as "already sent".
var ErrAlreadyRecorded = errors.New("notification already recorded")

// NotificationLedgerEntry records that a subscriber was included in a delivered digest.
// Primary key: (listing_id, subscriber_email). Rows are never updated or deleted.
type NotificationLedgerEntry struct {
	ListingId       string    `gorm:"primaryKey;size:36" json:"listing_id"`
	SubscriberEmail string    `gorm:"primaryKey;size:255" json:"subscriber_email"`
	SentAt          time.Time `gorm:"not null;index" json:"sent_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

type LedgerStore struct {
	DB *gorm.DB
}

func NewLedgerStore(db *gorm.DB) *LedgerStore {
	return &LedgerStore{DB: db}
}

func (s *LedgerStore) HasBeenNotified(ctx context.Context, listingId, subscriberEmail string) (bool, error) {
	var count int64
	err := s.DB.WithContext(ctx).Model(&NotificationLedgerEntry{}).
		Where("listing_id = ? AND subscriber_email = ?", listingId, utils.NormalizeEmail(subscriberEmail)).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("LedgerStore.HasBeenNotified: %w", err)
	}
	return count > 0, nil
}

// RecordNotified relies on the primary key for uniqueness: of two concurrent
// inserts for the same pair exactly one succeeds, the other gets ErrAlreadyRecorded.
func (s *LedgerStore) RecordNotified(ctx context.Context, listingId, subscriberEmail string, sentAt time.Time) error {
	entry := NotificationLedgerEntry{
		ListingId:       listingId,
		SubscriberEmail: utils.NormalizeEmail(subscriberEmail),
		SentAt:          sentAt.UTC(),
	}
	err := s.DB.WithContext(ctx).Create(&entry).Error
	if err == nil {
		return nil
	}
	if isDuplicateKeyErr(err) {
		return ErrAlreadyRecorded
	}
	return fmt.Errorf("LedgerStore.RecordNotified: %w", err)
}

// ListEntries returns the ledger for one listing, or all of it when listingId is empty.
func (s *LedgerStore) ListEntries(ctx context.Context, listingId string) ([]NotificationLedgerEntry, error) {
	dbCtx := s.DB.WithContext(ctx)
	if listingId != "" {
		dbCtx = dbCtx.Where("listing_id = ?", listingId)
	}
	var results []NotificationLedgerEntry
	if err := dbCtx.Order("sent_at").Order("listing_id").Order("subscriber_email").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("LedgerStore.ListEntries: %w", err)
	}
	return results, nil
}
