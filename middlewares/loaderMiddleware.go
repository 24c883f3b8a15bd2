package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/listings_backend/models"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch reference-data lookups made while rendering one request.
type Loaders struct {
	DistrictLoader *dataloader.Loader[string, *models.District]
}

func NewLoaders(conn *gorm.DB) *Loaders {
	districtReader := &districtReader{db: conn}

	return &Loaders{
		DistrictLoader: dataloader.NewBatchedLoader(districtReader.getDistricts, dataloader.WithWait[string, *models.District](time.Millisecond)),
	}
}

// LoaderMiddleware takes a getter so it can be installed before the database is connected.
func LoaderMiddleware(getDB func() *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn := getDB()
		if conn == nil {
			c.Next()
			return
		}
		ctx := context.WithValue(c.Request.Context(), loadersKey, NewLoaders(conn))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}
