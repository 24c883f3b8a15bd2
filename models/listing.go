package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/listings_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrInvalidArea = errors.New("area_sqm must be positive")

// Listing is a rentable unit. RoomCount 0 means studio.
type Listing struct {
	ID              string          `gorm:"primary_key;size:36" json:"id"`
	Title           string          `gorm:"size:255;not null" json:"title"`
	PriceMonthlyUsd int             `gorm:"not null;index" json:"price_monthly_usd"`
	RoomCount       int             `gorm:"not null;index" json:"room_count"`
	AreaSqm         decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"area_sqm"`
	DistrictId      string          `gorm:"size:32;not null;index" json:"district_id"`
	Latitude        *float64        `json:"latitude"`
	Longitude       *float64        `json:"longitude"`
	IsAvailable     bool            `gorm:"not null;index" json:"is_available"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewListing struct {
	Title           string          `json:"title" validate:"required,max=255"`
	PriceMonthlyUsd int             `json:"price_monthly_usd" validate:"gte=0"`
	RoomCount       int             `json:"room_count" validate:"gte=0"`
	AreaSqm         decimal.Decimal `json:"area_sqm"`
	DistrictId      string          `json:"district_id" validate:"required,max=32"`
	Latitude        *float64        `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude       *float64        `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	IsAvailable     *bool           `json:"is_available"`
}

// ListingFilter is a set of optional bounds over listings.
// Saved searches and the catalog page both express themselves as a ListingFilter.
type ListingFilter struct {
	MinPrice   *int    `json:"min_price"`
	MaxPrice   *int    `json:"max_price"`
	MinRooms   *int    `json:"min_rooms"`
	MaxRooms   *int    `json:"max_rooms"`
	DistrictId *string `json:"district_id"`
}

// PricePerSqm is used in digests; zero when the area is not positive.
func (l Listing) PricePerSqm() decimal.Decimal {
	if !l.AreaSqm.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(l.PriceMonthlyUsd)).DivRound(l.AreaSqm, 2)
}

func (input *NewListing) Validate() error {
	if err := utils.Validate(input); err != nil {
		return err
	}
	if !input.AreaSqm.IsPositive() {
		return ErrInvalidArea
	}
	return nil
}

// ToListing assigns a fresh id. Availability defaults to true.
func (input *NewListing) ToListing(now time.Time) Listing {
	return Listing{
		ID:              uuid.NewString(),
		Title:           input.Title,
		PriceMonthlyUsd: input.PriceMonthlyUsd,
		RoomCount:       input.RoomCount,
		AreaSqm:         input.AreaSqm,
		DistrictId:      input.DistrictId,
		Latitude:        input.Latitude,
		Longitude:       input.Longitude,
		IsAvailable:     utils.DereferencePtr(input.IsAvailable, true),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

type ListingStore struct {
	DB *gorm.DB
}

func NewListingStore(db *gorm.DB) *ListingStore {
	return &ListingStore{DB: db}
}

func (s *ListingStore) Create(ctx context.Context, listing *Listing) error {
	if err := s.DB.WithContext(ctx).Create(listing).Error; err != nil {
		return fmt.Errorf("ListingStore.Create: %w", err)
	}
	return nil
}

func (s *ListingStore) Get(ctx context.Context, id string) (*Listing, error) {
	var result Listing
	err := s.DB.WithContext(ctx).Where("id = ?", id).Take(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ListingStore.Get: %w", err)
	}
	return &result, nil
}

// GetMany keeps the order of ids and skips ids that no longer exist.
func (s *ListingStore) GetMany(ctx context.Context, ids []string) ([]Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []Listing
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ListingStore.GetMany: %w", err)
	}
	byId := make(map[string]Listing, len(rows))
	for _, row := range rows {
		byId[row.ID] = row
	}
	results := make([]Listing, 0, len(ids))
	for _, id := range ids {
		if row, ok := byId[id]; ok {
			results = append(results, row)
		}
	}
	return results, nil
}

func (s *ListingStore) ListAvailable(ctx context.Context) ([]Listing, error) {
	var results []Listing
	err := s.DB.WithContext(ctx).
		Where("is_available = ?", true).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("ListingStore.ListAvailable: %w", err)
	}
	return results, nil
}

// Search is the catalog filter: available listings inside filter's bounds, newest first.
func (s *ListingStore) Search(ctx context.Context, filter ListingFilter, limit, offset int) ([]Listing, error) {
	dbCtx := s.DB.WithContext(ctx).Model(&Listing{}).Where("is_available = ?", true)
	if filter.MinPrice != nil {
		dbCtx = dbCtx.Where("price_monthly_usd >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		dbCtx = dbCtx.Where("price_monthly_usd <= ?", *filter.MaxPrice)
	}
	if filter.MinRooms != nil {
		dbCtx = dbCtx.Where("room_count >= ?", *filter.MinRooms)
	}
	if filter.MaxRooms != nil {
		dbCtx = dbCtx.Where("room_count <= ?", *filter.MaxRooms)
	}
	if filter.DistrictId != nil {
		dbCtx = dbCtx.Where("district_id = ?", *filter.DistrictId)
	}
	if limit <= 0 {
		limit = 20
	}

	var results []Listing
	err := dbCtx.Order("created_at DESC").Order("id").Limit(limit).Offset(offset).Find(&results).Error
	if err != nil {
		return nil, fmt.Errorf("ListingStore.Search: %w", err)
	}
	return results, nil
}
