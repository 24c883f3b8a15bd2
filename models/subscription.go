package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/listings_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrInvalidPriceRange = errors.New("min_price must not exceed max_price")
	ErrInvalidRoomRange  = errors.New("min_rooms must not exceed max_rooms")
)

// Subscription is a saved search keyed by subscriber email.
// Unsubscribing only clears IsActive; rows are never removed.
type Subscription struct {
	ID         int       `gorm:"primary_key" json:"id"`
	Email      string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	MinPrice   *int      `json:"min_price"`
	MaxPrice   *int      `json:"max_price"`
	MinRooms   *int      `json:"min_rooms"`
	MaxRooms   *int      `json:"max_rooms"`
	DistrictId *string   `gorm:"size:32" json:"district_id"`
	IsActive   bool      `gorm:"not null;index" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSubscription struct {
	Email      string  `json:"email" validate:"required,email,max=255"`
	MinPrice   *int    `json:"min_price" validate:"omitempty,gte=0"`
	MaxPrice   *int    `json:"max_price" validate:"omitempty,gte=0"`
	MinRooms   *int    `json:"min_rooms" validate:"omitempty,gte=0"`
	MaxRooms   *int    `json:"max_rooms" validate:"omitempty,gte=0"`
	DistrictId *string `json:"district_id" validate:"omitempty,max=32"`
}

func (s Subscription) Filter() ListingFilter {
	return ListingFilter{
		MinPrice:   s.MinPrice,
		MaxPrice:   s.MaxPrice,
		MinRooms:   s.MinRooms,
		MaxRooms:   s.MaxRooms,
		DistrictId: s.DistrictId,
	}
}

// Validate rejects inverted bounds instead of swapping them.
func (input *NewSubscription) Validate() error {
	if err := utils.Validate(input); err != nil {
		return err
	}
	if input.MinPrice != nil && input.MaxPrice != nil && *input.MinPrice > *input.MaxPrice {
		return ErrInvalidPriceRange
	}
	if input.MinRooms != nil && input.MaxRooms != nil && *input.MinRooms > *input.MaxRooms {
		return ErrInvalidRoomRange
	}
	return nil
}

type SubscriptionStore struct {
	DB *gorm.DB
}

func NewSubscriptionStore(db *gorm.DB) *SubscriptionStore {
	return &SubscriptionStore{DB: db}
}

// Upsert creates the saved search or replaces the bounds of the existing one for the same email.
// Re-subscribing reactivates an unsubscribed record.
func (s *SubscriptionStore) Upsert(ctx context.Context, input *NewSubscription) (*Subscription, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	email := utils.NormalizeEmail(input.Email)
	sub := Subscription{
		Email:      email,
		MinPrice:   input.MinPrice,
		MaxPrice:   input.MaxPrice,
		MinRooms:   input.MinRooms,
		MaxRooms:   input.MaxRooms,
		DistrictId: input.DistrictId,
		IsActive:   true,
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"min_price", "max_price", "min_rooms", "max_rooms", "district_id", "is_active", "updated_at",
		}),
	}).Create(&sub).Error
	if err != nil {
		return nil, fmt.Errorf("SubscriptionStore.Upsert: %w", err)
	}

	// ON DUPLICATE KEY UPDATE does not report the existing id; read it back.
	return s.Get(ctx, email)
}

func (s *SubscriptionStore) Get(ctx context.Context, email string) (*Subscription, error) {
	var result Subscription
	err := s.DB.WithContext(ctx).Where("email = ?", utils.NormalizeEmail(email)).Take(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("SubscriptionStore.Get: %w", err)
	}
	return &result, nil
}

func (s *SubscriptionStore) Unsubscribe(ctx context.Context, email string) (*Subscription, error) {
	result, err := s.Get(ctx, email)
	if err != nil {
		return nil, err
	}
	if !result.IsActive {
		return result, nil
	}
	err = s.DB.WithContext(ctx).Model(&Subscription{}).
		Where("id = ?", result.ID).
		Update("is_active", false).Error
	if err != nil {
		return nil, fmt.Errorf("SubscriptionStore.Unsubscribe: %w", err)
	}
	result.IsActive = false
	return result, nil
}

func (s *SubscriptionStore) ListActiveSubscriptions(ctx context.Context) ([]Subscription, error) {
	var results []Subscription
	err := s.DB.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("SubscriptionStore.ListActiveSubscriptions: %w", err)
	}
	return results, nil
}
