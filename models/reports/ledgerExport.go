package reports

import (
	"fmt"
	"time"

	"github.com/mmdatafocus/listings_backend/models"
	"github.com/xuri/excelize/v2"
)

const ledgerSheet = "Ledger"

var ledgerHeadings = []string{"ListingId", "SubscriberEmail", "SentAt"}

// LedgerWorkbook lays out ledger entries one per row under a header row.
func LedgerWorkbook(entries []models.NotificationLedgerEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", ledgerSheet); err != nil {
		return nil, err
	}

	for i, h := range ledgerHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(ledgerSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, entry := range entries {
		row := i + 2
		values := []interface{}{entry.ListingId, entry.SubscriberEmail, entry.SentAt.UTC().Format(time.RFC3339)}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(ledgerSheet, cell, value); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func LedgerFileName(listingId string, now time.Time) string {
	if listingId == "" {
		listingId = "all"
	}
	return fmt.Sprintf("notification-ledger-%s-%s.xlsx", listingId, now.UTC().Format("20060102-150405"))
}
