package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mmdatafocus/listings_backend/matching"
	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/notifier"
	"github.com/mmdatafocus/listings_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("listings-backend/workflow")

type SubscriptionSource interface {
	ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error)
}

// NotificationChannel delivers one digest. It must not retry internally.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, digest *notifier.Digest) error
}

type DispatchOutcome string

const (
	DispatchOutcomeNoMatch         DispatchOutcome = "NO_MATCH"
	DispatchOutcomeAlreadyNotified DispatchOutcome = "ALREADY_NOTIFIED"
	DispatchOutcomeSent            DispatchOutcome = "SENT"
	DispatchOutcomeSendFailed      DispatchOutcome = "SEND_FAILED"
)

type DispatchReport struct {
	ListingId            string   `json:"listing_id"`
	MatchedCount         int      `json:"matched_count"`
	AlreadyNotifiedCount int      `json:"already_notified_count"`
	SentCount            int      `json:"sent_count"`
	Recipients           []string `json:"recipients,omitempty"`
	// Failure is the delivery error. When set, nothing was written to the ledger.
	Failure error `json:"-"`
	// LedgerConflicts counts pairs another dispatch recorded first.
	LedgerConflicts int `json:"ledger_conflicts"`
	// LedgerErrors counts ledger writes that failed after a confirmed send;
	// those subscribers will be included again on the next dispatch.
	LedgerErrors int `json:"ledger_errors"`
}

func (r *DispatchReport) Outcome() DispatchOutcome {
	switch {
	case r.Failure != nil:
		return DispatchOutcomeSendFailed
	case r.MatchedCount == 0:
		return DispatchOutcomeNoMatch
	case r.SentCount == 0:
		return DispatchOutcomeAlreadyNotified
	default:
		return DispatchOutcomeSent
	}
}

func (r *DispatchReport) FailureMessage() string {
	if r.Failure == nil {
		return ""
	}
	return r.Failure.Error()
}

// NotificationDispatcher sends one operator digest per listing covering every
// matched subscriber not yet in the ledger.
type NotificationDispatcher struct {
	Subscriptions SubscriptionSource
	Ledger        NotificationLedger
	Channel       NotificationChannel
	Logger        *logrus.Logger
	Now           func() time.Time
	// Concurrency bounds parallel ledger calls within one dispatch.
	Concurrency int
}

func NewNotificationDispatcher(subscriptions SubscriptionSource, ledger NotificationLedger, channel NotificationChannel, logger *logrus.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		Subscriptions: subscriptions,
		Ledger:        ledger,
		Channel:       channel,
		Logger:        logger,
		Now:           time.Now,
		Concurrency:   8,
	}
}

// Dispatch returns an error only when a store read fails; nothing is sent in that case.
// No lock is held while the digest is sent; concurrent dispatches of one listing
// may both send, and the ledger keeps one entry per pair.
// Delivery failures are reported through DispatchReport.Failure.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, listing models.Listing) (*DispatchReport, error) {
	ctx, span := tracer.Start(ctx, "NotificationDispatcher.Dispatch", trace.WithAttributes(
		attribute.String("listing.id", listing.ID),
	))
	defer span.End()

	subs, err := d.Subscriptions.ListActiveSubscriptions(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load subscriptions")
		return nil, fmt.Errorf("load active subscriptions: %w", err)
	}

	report := &DispatchReport{ListingId: listing.ID}
	matched := matching.Matches(listing, subs)
	report.MatchedCount = len(matched)
	if len(matched) == 0 {
		d.logReport(ctx, report)
		return report, nil
	}

	unsent, err := d.filterUnsent(ctx, listing.ID, matched)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "check ledger")
		return nil, fmt.Errorf("check notification ledger: %w", err)
	}
	report.AlreadyNotifiedCount = len(matched) - len(unsent)
	if len(unsent) == 0 {
		d.logReport(ctx, report)
		return report, nil
	}

	digest := notifier.NewDigest(listing, unsent, d.now())
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		digest.CorrelationId = cid
	}

	// A cancelled caller is a failed send: nothing is recorded and a retry re-sends.
	sendErr := ctx.Err()
	if sendErr == nil {
		sendErr = d.Channel.Send(ctx, digest)
	}
	if sendErr != nil {
		report.Failure = sendErr
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, "send digest")
		d.logReport(ctx, report)
		return report, nil
	}

	report.SentCount = len(digest.Recipients)
	report.Recipients = digest.Recipients
	// The send is confirmed; finish recording even if the caller gives up now.
	d.recordSent(context.WithoutCancel(ctx), listing.ID, digest.Recipients, d.now(), report)
	d.logReport(ctx, report)
	return report, nil
}

func (d *NotificationDispatcher) filterUnsent(ctx context.Context, listingId string, matched []models.Subscription) ([]string, error) {
	notified := make([]bool, len(matched))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency())
	for i := range matched {
		i := i
		g.Go(func() error {
			ok, err := d.Ledger.HasBeenNotified(gctx, listingId, matched[i].Email)
			if err != nil {
				return err
			}
			notified[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	unsent := make([]string, 0, len(matched))
	for i, sub := range matched {
		if !notified[i] {
			unsent = append(unsent, sub.Email)
		}
	}
	return unsent, nil
}

func (d *NotificationDispatcher) recordSent(ctx context.Context, listingId string, recipients []string, sentAt time.Time, report *DispatchReport) {
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(d.concurrency())
	for _, email := range recipients {
		email := email
		g.Go(func() error {
			err := d.Ledger.RecordNotified(ctx, listingId, email, sentAt)
			if err == nil {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			if errors.Is(err, ErrAlreadyRecorded) {
				report.LedgerConflicts++
				return nil
			}
			report.LedgerErrors++
			if d.Logger != nil {
				d.Logger.WithFields(logrus.Fields{
					"field":            "NotificationDispatcher",
					"listing_id":       listingId,
					"subscriber_email": email,
				}).Error("ledger write failed after confirmed send: " + err.Error())
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (d *NotificationDispatcher) logReport(ctx context.Context, report *DispatchReport) {
	if d.Logger == nil {
		return
	}
	fields := logrus.Fields{
		"field":            "NotificationDispatcher",
		"listing_id":       report.ListingId,
		"matched":          report.MatchedCount,
		"already_notified": report.AlreadyNotifiedCount,
		"sent":             report.SentCount,
		"outcome":          string(report.Outcome()),
	}
	if d.Channel != nil {
		fields["channel"] = d.Channel.Name()
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		fields["correlation_id"] = cid
	}
	entry := d.Logger.WithFields(fields)
	if report.Failure != nil {
		entry.Warn("digest delivery failed; ledger untouched: " + report.Failure.Error())
		return
	}
	entry.Info("dispatch finished")
}

func (d *NotificationDispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *NotificationDispatcher) concurrency() int {
	if d.Concurrency > 0 {
		return d.Concurrency
	}
	return 1
}
