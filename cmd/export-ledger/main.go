// export-ledger writes the notification ledger to an xlsx workbook, either to
// a local file or to a GCS bucket.
//
// Usage:
//
//	go run ./cmd/export-ledger --listing-id <uuid> --out ledger.xlsx
//	LEDGER_EXPORT_BUCKET=my-bucket go run ./cmd/export-ledger
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/listings_backend/config"
	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/models/reports"
	"github.com/mmdatafocus/listings_backend/utils"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func main() {
	listingID := flag.String("listing-id", "", "Optional: only this listing (default: whole ledger)")
	outPath := flag.String("out", "", "Optional: local output path (default: generated file name)")
	bucket := flag.String("bucket", os.Getenv("LEDGER_EXPORT_BUCKET"), "Optional: upload to this GCS bucket instead of writing locally")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	id := strings.TrimSpace(*listingID)
	entries, err := models.NewLedgerStore(db).ListEntries(ctx, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load ledger: %v\n", err)
		os.Exit(1)
	}
	f, err := reports.LedgerWorkbook(entries)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build workbook: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	name := reports.LedgerFileName(id, time.Now())
	if strings.TrimSpace(*bucket) != "" {
		var buf bytes.Buffer
		if err := f.Write(&buf); err != nil {
			fmt.Fprintf(os.Stderr, "write workbook: %v\n", err)
			os.Exit(1)
		}
		uri, err := utils.UploadToGCS(ctx, strings.TrimSpace(*bucket), "ledger-exports/"+name, xlsxContentType, &buf)
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("exported %d entries to %s\n", len(entries), uri)
		return
	}

	path := strings.TrimSpace(*outPath)
	if path == "" {
		path = name
	}
	if err := f.SaveAs(path); err != nil {
		fmt.Fprintf(os.Stderr, "save workbook: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d entries to %s\n", len(entries), path)
}
