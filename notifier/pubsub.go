package notifier

import (
	"context"

	"github.com/mmdatafocus/listings_backend/config"
	"github.com/sirupsen/logrus"
)

// PubSubChannel publishes the digest JSON to the operator topic; a downstream
// bot or mailer owns the final hop.
type PubSubChannel struct {
	Topic string
}

func NewPubSubChannel(topic string) *PubSubChannel {
	if topic == "" {
		topic = config.OperatorDigestTopic()
	}
	return &PubSubChannel{Topic: topic}
}

func (c *PubSubChannel) Name() string { return "pubsub" }

func (c *PubSubChannel) Send(ctx context.Context, digest *Digest) error {
	_, err := config.PublishJSON(ctx, c.Topic, digest, map[string]string{
		"listing_id": digest.ListingId,
	})
	return err
}

// PublishListingPublished hands a new listing to the push endpoint for asynchronous dispatch.
func PublishListingPublished(ctx context.Context, event ListingPublishedEvent) (string, error) {
	return config.PublishJSON(ctx, config.ListingTopic(), event, map[string]string{
		"listing_id": event.ListingId,
	})
}

// LogChannel writes digests to the service log. Used for local runs.
type LogChannel struct {
	Logger *logrus.Logger
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, digest *Digest) error {
	c.Logger.WithFields(logrus.Fields{
		"field":      "LogChannel",
		"listing_id": digest.ListingId,
		"recipients": digest.Recipients,
	}).Info(digest.Text())
	return nil
}
