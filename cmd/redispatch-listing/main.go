// redispatch-listing re-runs notification dispatch for one listing, e.g. after
// the operator channel was down. Subscribers already in the ledger are skipped.
//
// Usage:
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... NOTIFY_CHANNEL=telegram \
//	  go run ./cmd/redispatch-listing --listing-id <uuid>
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/listings_backend/config"
	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/notifier"
	"github.com/mmdatafocus/listings_backend/utils"
	"github.com/mmdatafocus/listings_backend/workflow"
)

func main() {
	listingID := flag.String("listing-id", "", "Required: listing id")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall timeout")
	flag.Parse()

	if strings.TrimSpace(*listingID) == "" {
		fmt.Fprintln(os.Stderr, "--listing-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx = utils.SetCorrelationIdInContext(ctx, "redispatch-"+uuid.NewString())

	listing, err := models.NewListingStore(db).Get(ctx, strings.TrimSpace(*listingID))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load listing: %v\n", err)
		os.Exit(1)
	}

	dispatcher := workflow.NewNotificationDispatcher(
		models.NewSubscriptionStore(db),
		models.NewLedgerStore(db),
		notifier.ChannelFromEnv(logger),
		logger,
	)
	report, err := dispatcher.Dispatch(ctx, *listing)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dispatch: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]any{
		"listing_id":             report.ListingId,
		"outcome":                report.Outcome(),
		"matched_count":          report.MatchedCount,
		"already_notified_count": report.AlreadyNotifiedCount,
		"sent_count":             report.SentCount,
		"failure":                report.FailureMessage(),
	}, "", "  ")
	fmt.Println(string(out))
	if report.Failure != nil {
		os.Exit(2)
	}
}
