package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/listings_backend/config"
	"github.com/mmdatafocus/listings_backend/notifier"
	"github.com/mmdatafocus/listings_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// listingPublishedPushHandler runs the dispatch for a listing-published event.
// Malformed or stale messages are acked; store errors and failed sends return
// 500 so Pub/Sub redelivers and the dispatch is retried.
func (a *api) listingPublishedPushHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var msg notifier.PubSubPushEnvelope
		logger := a.Logger

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "pubsubHandler.go", "listingPublishedPushHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}
		if err := json.Unmarshal(body, &msg); err != nil {
			config.LogError(logger, "pubsubHandler.go", "listingPublishedPushHandler", "Unmarshal body", string(body), err)
			c.Status(http.StatusNoContent)
			return
		}

		var event notifier.ListingPublishedEvent
		if err := json.Unmarshal(msg.Message.Data, &event); err != nil {
			config.LogError(logger, "pubsubHandler.go", "listingPublishedPushHandler", "Unmarshal pubsub message", string(msg.Message.Data), err)
			c.Status(http.StatusNoContent)
			return
		}
		if event.ListingId == "" {
			config.LogError(logger, "pubsubHandler.go", "listingPublishedPushHandler", "Invalid pubsub message (missing required fields)", event, fmt.Errorf("listing_id required"))
			c.Status(http.StatusNoContent)
			return
		}

		correlationID := event.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
		ctx, span := tracer.Start(ctx, "pubsub.listing-published", trace.WithAttributes(
			attribute.String("listing.id", event.ListingId),
			attribute.String("messaging.message_id", msg.Message.ID),
		))
		defer span.End()

		fields := logrus.Fields{
			"field":          "listingPublishedPushHandler",
			"listing_id":     event.ListingId,
			"message_id":     msg.Message.ID,
			"correlation_id": correlationID,
		}

		listing, err := a.Listings.Get(ctx, event.ListingId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			logger.WithFields(fields).Warn("listing no longer exists; dropping message")
			c.Status(http.StatusNoContent)
			return
		}
		if err != nil {
			logger.WithFields(fields).Error("load listing failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}

		report, err := a.Dispatcher.Dispatch(ctx, *listing)
		if err != nil {
			logger.WithFields(fields).Error("dispatch failed: " + err.Error())
			c.Status(http.StatusInternalServerError)
			return
		}
		if report.Failure != nil {
			logger.WithFields(fields).Warn("digest not delivered; requesting redelivery: " + report.FailureMessage())
			c.Status(http.StatusInternalServerError)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
