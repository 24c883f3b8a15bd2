package notifier

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmdatafocus/listings_backend/models"
	"github.com/shopspring/decimal"
)

// Digest is the single operator message sent for one dispatch.
type Digest struct {
	ListingId       string          `json:"listing_id"`
	Title           string          `json:"title"`
	PriceMonthlyUsd int             `json:"price_monthly_usd"`
	RoomCount       int             `json:"room_count"`
	AreaSqm         decimal.Decimal `json:"area_sqm"`
	PricePerSqm     decimal.Decimal `json:"price_per_sqm"`
	DistrictId      string          `json:"district_id"`
	Recipients      []string        `json:"recipients"`
	CorrelationId   string          `json:"correlation_id,omitempty"`
	ComposedAt      time.Time       `json:"composed_at"`
}

// NewDigest copies and sorts recipients so the message text is stable across retries.
func NewDigest(listing models.Listing, recipients []string, now time.Time) *Digest {
	sorted := append([]string(nil), recipients...)
	sort.Strings(sorted)
	return &Digest{
		ListingId:       listing.ID,
		Title:           listing.Title,
		PriceMonthlyUsd: listing.PriceMonthlyUsd,
		RoomCount:       listing.RoomCount,
		AreaSqm:         listing.AreaSqm,
		PricePerSqm:     listing.PricePerSqm(),
		DistrictId:      listing.DistrictId,
		Recipients:      sorted,
		ComposedAt:      now.UTC(),
	}
}

func (d *Digest) Text() string {
	return d.header() + "Subscribers:\n" + strings.Join(d.recipientLines(), "")
}

// TextParts splits the text into messages of at most maxLen characters. Every
// part repeats the listing summary; recipients are never split across parts.
func (d *Digest) TextParts(maxLen int) []string {
	text := d.Text()
	if maxLen <= 0 || utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	header := d.header()
	// Sized for the widest possible label so every part fits once numbered.
	widest := fmt.Sprintf("Subscribers (part %d/%d):\n", len(d.Recipients), len(d.Recipients))
	budget := maxLen - utf8.RuneCountInString(header) - utf8.RuneCountInString(widest)

	var chunks [][]string
	var current []string
	size := 0
	for _, line := range d.recipientLines() {
		n := utf8.RuneCountInString(line)
		if len(current) > 0 && size+n > budget {
			chunks = append(chunks, current)
			current, size = nil, 0
		}
		current = append(current, line)
		size += n
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}

	parts := make([]string, len(chunks))
	for i, chunk := range chunks {
		parts[i] = header + fmt.Sprintf("Subscribers (part %d/%d):\n", i+1, len(chunks)) + strings.Join(chunk, "")
	}
	return parts
}

func (d *Digest) header() string {
	var b strings.Builder
	fmt.Fprintf(&b, "New listing matches %d saved search(es)\n", len(d.Recipients))
	fmt.Fprintf(&b, "Listing: %s", d.ListingId)
	if d.Title != "" {
		fmt.Fprintf(&b, " (%s)", d.Title)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "District: %s\n", d.DistrictId)
	fmt.Fprintf(&b, "Price: $%d/month\n", d.PriceMonthlyUsd)
	if d.RoomCount == 0 {
		b.WriteString("Rooms: studio\n")
	} else {
		fmt.Fprintf(&b, "Rooms: %d\n", d.RoomCount)
	}
	if d.AreaSqm.IsPositive() {
		fmt.Fprintf(&b, "Area: %s sqm ($%s/sqm)\n", d.AreaSqm.StringFixed(1), d.PricePerSqm.StringFixed(2))
	}
	return b.String()
}

func (d *Digest) recipientLines() []string {
	lines := make([]string, len(d.Recipients))
	for i, email := range d.Recipients {
		lines[i] = "- " + email + "\n"
	}
	return lines
}

// ListingPublishedEvent is published to Pub/Sub when dispatch runs asynchronously.
type ListingPublishedEvent struct {
	ListingId     string    `json:"listing_id"`
	PublishedAt   time.Time `json:"published_at"`
	CorrelationId string    `json:"correlation_id"`
}

// PubSubPushEnvelope is the body Pub/Sub posts to push endpoints.
// Data is base64 in JSON; []byte unmarshalling decodes it.
type PubSubPushEnvelope struct {
	Message struct {
		Data       []byte            `json:"data,omitempty"`
		ID         string            `json:"id"`
		Attributes map[string]string `json:"attributes,omitempty"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}
