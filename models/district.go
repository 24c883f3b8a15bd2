package models

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type District struct {
	ID       string `gorm:"primary_key;size:32" json:"id"`
	NameEn   string `gorm:"size:100;not null" json:"name_en"`
	NameRu   string `gorm:"size:100;not null" json:"name_ru"`
	IsActive bool   `gorm:"not null" json:"is_active"`
}

type NewDistrict struct {
	ID     string `json:"id" validate:"required,max=32"`
	NameEn string `json:"name_en" validate:"required,max=100"`
	NameRu string `json:"name_ru" validate:"required,max=100"`
}

type DistrictStore struct {
	DB *gorm.DB
}

func NewDistrictStore(db *gorm.DB) *DistrictStore {
	return &DistrictStore{DB: db}
}

// Save inserts or renames a district by its code.
func (s *DistrictStore) Save(ctx context.Context, input NewDistrict) (*District, error) {
	district := District{
		ID:       input.ID,
		NameEn:   input.NameEn,
		NameRu:   input.NameRu,
		IsActive: true,
	}
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name_en", "name_ru", "is_active"}),
	}).Create(&district).Error
	if err != nil {
		return nil, fmt.Errorf("DistrictStore.Save: %w", err)
	}
	return &district, nil
}

func (s *DistrictStore) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := s.DB.WithContext(ctx).Model(&District{}).Where("id = ? AND is_active = ?", id, true).Count(&count).Error; err != nil {
		return false, fmt.Errorf("DistrictStore.Exists: %w", err)
	}
	return count > 0, nil
}

func (s *DistrictStore) GetMany(ctx context.Context, ids []string) ([]District, error) {
	var results []District
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error; err != nil {
		return nil, fmt.Errorf("DistrictStore.GetMany: %w", err)
	}
	return results, nil
}

func (s *DistrictStore) List(ctx context.Context) ([]District, error) {
	var results []District
	if err := s.DB.WithContext(ctx).Where("is_active = ?", true).Order("name_en").Find(&results).Error; err != nil {
		return nil, fmt.Errorf("DistrictStore.List: %w", err)
	}
	return results, nil
}
