package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmdatafocus/listings_backend/config"
	"github.com/sirupsen/logrus"
)

type Channel interface {
	Name() string
	Send(ctx context.Context, digest *Digest) error
}

// UnavailableChannel fails every send, so nothing reaches the ledger while the
// operator channel is misconfigured.
type UnavailableChannel struct {
	Reason error
}

func (c *UnavailableChannel) Name() string { return "unavailable" }

func (c *UnavailableChannel) Send(ctx context.Context, digest *Digest) error {
	return fmt.Errorf("operator channel unavailable: %w", c.Reason)
}

// ChannelFromEnv picks the operator channel from NOTIFY_CHANNEL. The log
// channel is only used when selected explicitly; a missing or misconfigured
// channel yields an UnavailableChannel and the service still starts.
func ChannelFromEnv(logger *logrus.Logger) Channel {
	switch config.NotifyChannel() {
	case config.NotifyChannelTelegram:
		channel, err := NewTelegramChannelFromEnv()
		if err != nil {
			config.LogError(logger, "notifier", "ChannelFromEnv", "NewTelegramChannelFromEnv", nil, err)
			return &UnavailableChannel{Reason: fmt.Errorf("telegram: %w", err)}
		}
		return channel
	case config.NotifyChannelPubSub:
		return NewPubSubChannel(config.OperatorDigestTopic())
	case config.NotifyChannelLog:
		return &LogChannel{Logger: logger}
	default:
		err := errors.New("NOTIFY_CHANNEL must be telegram, pubsub or log")
		config.LogError(logger, "notifier", "ChannelFromEnv", "NotifyChannel", nil, err)
		return &UnavailableChannel{Reason: err}
	}
}
