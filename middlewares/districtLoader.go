package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/listings_backend/models"
	"gorm.io/gorm"
)

type districtReader struct {
	db *gorm.DB
}

func (r *districtReader) getDistricts(ctx context.Context, ids []string) []*dataloader.Result[*models.District] {
	results, err := models.NewDistrictStore(r.db).GetMany(ctx, ids)
	if err != nil {
		return handleError[*models.District](len(ids), err)
	}
	return districtLoaderResults(results, ids)
}

// districtLoaderResults keeps the order of ids. Unknown codes resolve to nil.
func districtLoaderResults(results []models.District, ids []string) []*dataloader.Result[*models.District] {
	byId := make(map[string]*models.District, len(results))
	for i := range results {
		byId[results[i].ID] = &results[i]
	}
	loaderResults := make([]*dataloader.Result[*models.District], 0, len(ids))
	for _, id := range ids {
		loaderResults = append(loaderResults, &dataloader.Result[*models.District]{Data: byId[id]})
	}
	return loaderResults
}

// GetDistricts falls back to a direct query when no loader is installed on ctx.
func GetDistricts(ctx context.Context, db *gorm.DB, ids []string) ([]*models.District, []error) {
	if loaders := For(ctx); loaders != nil {
		return loaders.DistrictLoader.LoadMany(ctx, ids)()
	}
	results := districtLoaderResults(nil, ids)
	if db != nil {
		districts, err := models.NewDistrictStore(db).GetMany(ctx, ids)
		if err != nil {
			return nil, []error{err}
		}
		results = districtLoaderResults(districts, ids)
	}
	out := make([]*models.District, len(results))
	for i, r := range results {
		out[i] = r.Data
	}
	return out, nil
}
