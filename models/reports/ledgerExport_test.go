package reports

import (
	"testing"
	"time"

	"github.com/mmdatafocus/listings_backend/models"
)

func TestLedgerWorkbook(t *testing.T) {
	sentAt := time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC)
	f, err := LedgerWorkbook([]models.NotificationLedgerEntry{
		{ListingId: "l1", SubscriberEmail: "a@example.com", SentAt: sentAt},
		{ListingId: "l1", SubscriberEmail: "b@example.com", SentAt: sentAt},
	})
	if err != nil {
		t.Fatalf("LedgerWorkbook: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(ledgerSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(rows))
	}
	if rows[0][1] != "SubscriberEmail" || rows[2][1] != "b@example.com" || rows[1][2] != "2026-10-01T08:30:00Z" {
		t.Fatalf("unexpected rows %v", rows)
	}
}

func TestLedgerWorkbookEmpty(t *testing.T) {
	f, err := LedgerWorkbook(nil)
	if err != nil {
		t.Fatalf("LedgerWorkbook: %v", err)
	}
	defer f.Close()
	rows, _ := f.GetRows(ledgerSheet)
	if len(rows) != 1 {
		t.Fatalf("expected only the header row, got %d", len(rows))
	}
}

func TestLedgerFileName(t *testing.T) {
	now := time.Date(2026, 10, 1, 8, 30, 5, 0, time.UTC)
	if got := LedgerFileName("", now); got != "notification-ledger-all-20261001-083005.xlsx" {
		t.Fatalf("unexpected name %s", got)
	}
}
