package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/listings_backend/config"
	"github.com/mmdatafocus/listings_backend/matching"
	"github.com/mmdatafocus/listings_backend/middlewares"
	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/models/reports"
	"github.com/mmdatafocus/listings_backend/utils"
	"github.com/mmdatafocus/listings_backend/workflow"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type listingCatalog interface {
	Get(ctx context.Context, id string) (*models.Listing, error)
	Search(ctx context.Context, filter models.ListingFilter, limit, offset int) ([]models.Listing, error)
}

type subscriptionWriter interface {
	Upsert(ctx context.Context, input *models.NewSubscription) (*models.Subscription, error)
	Unsubscribe(ctx context.Context, email string) (*models.Subscription, error)
}

type ledgerReader interface {
	ListEntries(ctx context.Context, listingId string) ([]models.NotificationLedgerEntry, error)
}

type similarFinder interface {
	For(ctx context.Context, listingId string, limit int) (matching.Ranking, error)
}

type listingPublisher interface {
	Publish(ctx context.Context, input *models.NewListing) (*workflow.PublishResult, error)
}

// api holds the request handlers. Fields are set once the stores are connected;
// ready flips after that and the readiness gate rejects requests until then.
type api struct {
	DB            *gorm.DB
	Listings      listingCatalog
	Subscriptions subscriptionWriter
	Ledger        ledgerReader
	Similar       similarFinder
	Publisher     listingPublisher
	Dispatcher    workflow.ListingDispatcher
	Logger        *logrus.Logger
	SimilarLimit  int
	Now           func() time.Time

	ready atomic.Bool
}

type catalogItem struct {
	models.Listing
	District *models.District `json:"district,omitempty"`
}

func (a *api) readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Next()
			return
		}
		if !a.ready.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func (a *api) searchListingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter models.ListingFilter
		var err error
		if filter.MinPrice, err = queryInt(c, "min_price"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if filter.MaxPrice, err = queryInt(c, "max_price"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if filter.MinRooms, err = queryInt(c, "min_rooms"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if filter.MaxRooms, err = queryInt(c, "max_rooms"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if v := strings.TrimSpace(c.Query("district_id")); v != "" {
			filter.DistrictId = &v
		}
		limit, err := queryInt(c, "limit")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		offset, err := queryInt(c, "offset")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		listings, err := a.Listings.Search(c.Request.Context(), filter, utils.DereferencePtr(limit, 20), utils.DereferencePtr(offset, 0))
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load listings"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"listings": a.withDistricts(c.Request.Context(), listings)})
	}
}

// withDistricts attaches district names; lookup failures only drop the names.
func (a *api) withDistricts(ctx context.Context, listings []models.Listing) []catalogItem {
	items := make([]catalogItem, len(listings))
	ids := make([]string, len(listings))
	for i, l := range listings {
		items[i].Listing = l
		ids[i] = l.DistrictId
	}
	if len(ids) == 0 {
		return items
	}
	districts, errs := middlewares.GetDistricts(ctx, a.DB, ids)
	if len(districts) != len(items) {
		if len(errs) > 0 && a.Logger != nil {
			config.LogError(a.Logger, "handlers.go", "withDistricts", "GetDistricts", ids, errs[0])
		}
		return items
	}
	for i := range items {
		items[i].District = districts[i]
	}
	return items
}

func (a *api) similarListingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingId := c.Param("id")
		limit, err := queryInt(c, "limit")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		n := utils.DereferencePtr(limit, a.SimilarLimit)
		if n <= 0 {
			n = config.SimilarListingsLimit()
		}

		ranking, err := a.Similar.For(c.Request.Context(), listingId, n)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not rank similar listings"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"listing_id": listingId,
			"similar":    ranking,
		})
	}
}

func (a *api) subscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewSubscription
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		sub, err := a.Subscriptions.Upsert(c.Request.Context(), &input)
		if err != nil {
			if isInputError(err) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save subscription"})
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

type unsubscribeRequest struct {
	Email string `json:"email" binding:"required"`
}

func (a *api) unsubscribeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req unsubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
			return
		}
		sub, err := a.Subscriptions.Unsubscribe(c.Request.Context(), req.Email)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not unsubscribe"})
			return
		}
		c.JSON(http.StatusOK, sub)
	}
}

func (a *api) publishListingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewListing
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		result, err := a.Publisher.Publish(c.Request.Context(), &input)
		if err != nil {
			if isInputError(err) || errors.Is(err, workflow.ErrUnknownDistrict) {
				c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
				return
			}
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not publish listing"})
			return
		}

		body := gin.H{
			"listing": result.Listing,
			"queued":  result.Queued,
		}
		if result.Report != nil {
			body["report"] = reportBody(result.Report)
		}
		if result.DispatchError != nil {
			body["dispatch_error"] = result.DispatchError.Error()
		}
		c.JSON(http.StatusCreated, body)
	}
}

// redispatchHandler retries notification for an existing listing. Subscribers
// already in the ledger are skipped, so repeating it is safe.
func (a *api) redispatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listing, err := a.Listings.Get(c.Request.Context(), c.Param("id"))
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load listing"})
			return
		}

		report, err := a.Dispatcher.Dispatch(c.Request.Context(), *listing)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status := http.StatusOK
		if report.Failure != nil {
			status = http.StatusBadGateway
		}
		c.JSON(status, reportBody(report))
	}
}

func (a *api) exportLedgerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		listingId := c.Param("listingId")
		if listingId == "all" {
			listingId = ""
		}
		entries, err := a.Ledger.ListEntries(c.Request.Context(), listingId)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load ledger"})
			return
		}
		f, err := reports.LedgerWorkbook(entries)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not build export"})
			return
		}
		defer f.Close()

		c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Header("Content-Disposition", "attachment; filename="+reports.LedgerFileName(listingId, a.now()))
		c.Status(http.StatusOK)
		if err := f.Write(c.Writer); err != nil {
			_ = c.Error(err)
		}
	}
}

func reportBody(report *workflow.DispatchReport) gin.H {
	body := gin.H{
		"listing_id":             report.ListingId,
		"outcome":                report.Outcome(),
		"matched_count":          report.MatchedCount,
		"already_notified_count": report.AlreadyNotifiedCount,
		"sent_count":             report.SentCount,
		"recipients":             report.Recipients,
	}
	if report.Failure != nil {
		body["failure"] = report.FailureMessage()
	}
	if report.LedgerErrors > 0 {
		body["ledger_errors"] = report.LedgerErrors
	}
	return body
}

func isInputError(err error) bool {
	return utils.IsValidationError(err) ||
		errors.Is(err, models.ErrInvalidPriceRange) ||
		errors.Is(err, models.ErrInvalidRoomRange) ||
		errors.Is(err, models.ErrInvalidArea)
}

// queryInt returns nil when the parameter is absent.
func queryInt(c *gin.Context, key string) (*int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, errors.New(key + " must be a non-negative integer")
	}
	return &n, nil
}

func (a *api) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}
