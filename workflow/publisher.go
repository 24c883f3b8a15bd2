package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/notifier"
	"github.com/mmdatafocus/listings_backend/utils"
	"github.com/sirupsen/logrus"
)

var ErrUnknownDistrict = errors.New("unknown district")

type ListingWriter interface {
	Create(ctx context.Context, listing *models.Listing) error
}

type DistrictChecker interface {
	Exists(ctx context.Context, id string) (bool, error)
}

type ListingDispatcher interface {
	Dispatch(ctx context.Context, listing models.Listing) (*DispatchReport, error)
}

// SimilarCacheInvalidator drops cached rankings once the candidate set changes.
type SimilarCacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

type PublishResult struct {
	Listing *models.Listing `json:"listing"`
	Report  *DispatchReport `json:"report,omitempty"`
	// Queued is true when dispatch was handed to Pub/Sub instead of running inline.
	Queued bool `json:"queued"`
	// DispatchError is a store failure during dispatch or a failed enqueue.
	// The listing is published regardless.
	DispatchError error `json:"-"`
}

// ListingPublisher is the publish trigger: persist the listing, then notify best-effort.
type ListingPublisher struct {
	Listings     ListingWriter
	Districts    DistrictChecker
	Dispatcher   ListingDispatcher
	Similar      SimilarCacheInvalidator
	Async        bool
	PublishEvent func(ctx context.Context, event notifier.ListingPublishedEvent) (string, error)
	Logger       *logrus.Logger
	Now          func() time.Time
}

func (p *ListingPublisher) Publish(ctx context.Context, input *models.NewListing) (*PublishResult, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if p.Districts != nil {
		ok, err := p.Districts.Exists(ctx, input.DistrictId)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDistrict, input.DistrictId)
		}
	}

	listing := input.ToListing(p.now())
	if err := p.Listings.Create(ctx, &listing); err != nil {
		return nil, err
	}
	result := &PublishResult{Listing: &listing}

	if p.Similar != nil {
		if err := p.Similar.Invalidate(ctx); err != nil {
			p.logWarn(ctx, listing.ID, "similar cache invalidation failed: "+err.Error())
		}
	}

	if p.Async && p.PublishEvent != nil {
		event := notifier.ListingPublishedEvent{ListingId: listing.ID, PublishedAt: listing.CreatedAt}
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			event.CorrelationId = cid
		}
		if _, err := p.PublishEvent(ctx, event); err != nil {
			// Fall back to dispatching inline so the listing is not silently skipped.
			p.logWarn(ctx, listing.ID, "enqueue listing-published failed; dispatching inline: "+err.Error())
		} else {
			result.Queued = true
			return result, nil
		}
	}

	report, err := p.Dispatcher.Dispatch(ctx, listing)
	if err != nil {
		result.DispatchError = err
		p.logWarn(ctx, listing.ID, "dispatch failed after publish: "+err.Error())
		return result, nil
	}
	result.Report = report
	return result, nil
}

func (p *ListingPublisher) logWarn(ctx context.Context, listingId string, msg string) {
	if p.Logger == nil {
		return
	}
	fields := logrus.Fields{
		"field":      "ListingPublisher",
		"listing_id": listingId,
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = cid
	}
	p.Logger.WithFields(fields).Warn(msg)
}

func (p *ListingPublisher) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}
