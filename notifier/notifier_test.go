package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/mmdatafocus/listings_backend/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func testListing() models.Listing {
	return models.Listing{
		ID:              "listing-1",
		Title:           "Two rooms near the park",
		PriceMonthlyUsd: 500,
		RoomCount:       2,
		AreaSqm:         decimal.NewFromInt(50),
		DistrictId:      "A",
		IsAvailable:     true,
	}
}

func TestNewDigest_SortsRecipientsWithoutMutatingInput(t *testing.T) {
	in := []string{"c@example.com", "a@example.com", "b@example.com"}
	d := NewDigest(testListing(), in, time.Unix(0, 0))

	if !reflect.DeepEqual(d.Recipients, []string{"a@example.com", "b@example.com", "c@example.com"}) {
		t.Fatalf("recipients not sorted: %v", d.Recipients)
	}
	if in[0] != "c@example.com" {
		t.Fatalf("input slice was mutated: %v", in)
	}
	if d.PricePerSqm.String() != "10" {
		t.Fatalf("expected price per sqm 10, got %s", d.PricePerSqm.String())
	}
}

func TestDigest_Text(t *testing.T) {
	d := NewDigest(testListing(), []string{"b@example.com", "a@example.com"}, time.Unix(0, 0))
	text := d.Text()
	for _, want := range []string{
		"matches 2 saved search(es)",
		"listing-1 (Two rooms near the park)",
		"District: A",
		"Price: $500/month",
		"Rooms: 2",
		"- a@example.com\n- b@example.com",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("digest text missing %q:\n%s", want, text)
		}
	}

	studio := testListing()
	studio.RoomCount = 0
	if !strings.Contains(NewDigest(studio, nil, time.Unix(0, 0)).Text(), "Rooms: studio") {
		t.Fatalf("studio not rendered as studio")
	}
}

func TestTelegramChannel_Send(t *testing.T) {
	var got telegramSendMessage
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	ch, err := NewTelegramChannel(srv.URL, "TOKEN", "42", 60000)
	if err != nil {
		t.Fatalf("NewTelegramChannel: %v", err)
	}
	d := NewDigest(testListing(), []string{"a@example.com"}, time.Unix(0, 0))
	if err := ch.Send(context.Background(), d); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Fatalf("unexpected path %s", path)
	}
	if got.ChatId != "42" || got.Text != d.Text() {
		t.Fatalf("unexpected payload %+v", got)
	}
}

func TestTelegramChannel_SendReportsFailures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusBadGateway, `bad gateway`},
		{"api rejected", http.StatusOK, `{"ok":false,"description":"chat not found"}`},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		ch, err := NewTelegramChannel(srv.URL, "TOKEN", "42", 60000)
		if err != nil {
			t.Fatalf("NewTelegramChannel: %v", err)
		}
		if err := ch.Send(context.Background(), NewDigest(testListing(), []string{"a@example.com"}, time.Unix(0, 0))); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		srv.Close()
	}
}

func TestDigest_TextParts(t *testing.T) {
	recipients := []string{"a@example.com", "b@example.com", "c@example.com", "d@example.com", "e@example.com"}
	d := NewDigest(testListing(), recipients, time.Unix(0, 0))

	whole := d.TextParts(telegramMaxText)
	if len(whole) != 1 || whole[0] != d.Text() {
		t.Fatalf("short digest should be a single part equal to Text(), got %q", whole)
	}

	maxLen := utf8.RuneCountInString(d.Text()) - 1
	parts := d.TextParts(maxLen)
	if len(parts) < 2 {
		t.Fatalf("expected the digest to be split, got %d part(s)", len(parts))
	}
	var seen []string
	for i, part := range parts {
		if n := utf8.RuneCountInString(part); n > maxLen {
			t.Fatalf("part %d has %d characters, limit %d", i+1, n, maxLen)
		}
		if !strings.HasPrefix(part, d.header()) {
			t.Fatalf("part %d does not repeat the listing summary:\n%s", i+1, part)
		}
		if !strings.Contains(part, fmt.Sprintf("Subscribers (part %d/%d):", i+1, len(parts))) {
			t.Fatalf("part %d missing its label:\n%s", i+1, part)
		}
		for _, line := range strings.Split(strings.TrimSpace(strings.SplitN(part, "):\n", 2)[1]), "\n") {
			seen = append(seen, strings.TrimPrefix(line, "- "))
		}
	}
	if !reflect.DeepEqual(seen, recipients) {
		t.Fatalf("recipients across parts = %v, want %v", seen, recipients)
	}
}

// telegramServer mimics the Bot API length check and records accepted texts.
func telegramServer(t *testing.T, reject func(call int) bool) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var accepted []string
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg telegramSendMessage
		_ = json.NewDecoder(r.Body).Decode(&msg)
		mu.Lock()
		defer mu.Unlock()
		calls++
		if utf8.RuneCountInString(msg.Text) > telegramMaxText {
			_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: message is too long"}`))
			return
		}
		if reject != nil && reject(calls) {
			_, _ = w.Write([]byte(`{"ok":false,"description":"Too Many Requests"}`))
			return
		}
		accepted = append(accepted, msg.Text)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &accepted
}

func manyRecipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("subscriber-%03d.with.a.rather.long.mailbox.name@example.com", i)
	}
	return out
}

func TestTelegramChannel_SendSplitsLongDigests(t *testing.T) {
	srv, accepted := telegramServer(t, nil)
	ch, err := NewTelegramChannel(srv.URL, "TOKEN", "42", 60000)
	if err != nil {
		t.Fatalf("NewTelegramChannel: %v", err)
	}
	recipients := manyRecipients(300)
	d := NewDigest(testListing(), recipients, time.Unix(0, 0))
	if utf8.RuneCountInString(d.Text()) <= telegramMaxText {
		t.Fatalf("fixture too small to need splitting")
	}

	if err := ch.Send(context.Background(), d); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(*accepted) < 2 {
		t.Fatalf("expected more than one message, got %d", len(*accepted))
	}
	all := strings.Join(*accepted, "")
	for _, email := range recipients {
		if n := strings.Count(all, "- "+email+"\n"); n != 1 {
			t.Fatalf("%s delivered %d times", email, n)
		}
	}
}

func TestTelegramChannel_SendFailsWhenAnyPartIsRejected(t *testing.T) {
	srv, accepted := telegramServer(t, func(call int) bool { return call == 2 })
	ch, err := NewTelegramChannel(srv.URL, "TOKEN", "42", 60000)
	if err != nil {
		t.Fatalf("NewTelegramChannel: %v", err)
	}
	err = ch.Send(context.Background(), NewDigest(testListing(), manyRecipients(300), time.Unix(0, 0)))
	if err == nil {
		t.Fatalf("expected error when the second part is rejected")
	}
	if !strings.Contains(err.Error(), "part 2/") {
		t.Fatalf("error should name the failing part: %v", err)
	}
	if len(*accepted) != 1 {
		t.Fatalf("sending should stop at the rejected part, accepted %d", len(*accepted))
	}
}

func TestTelegramChannel_FirstSendIsNotDelayed(t *testing.T) {
	srv, accepted := telegramServer(t, nil)
	ch, err := NewTelegramChannel(srv.URL, "TOKEN", "42", 1)
	if err != nil {
		t.Fatalf("NewTelegramChannel: %v", err)
	}
	d := NewDigest(testListing(), []string{"a@example.com"}, time.Unix(0, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := ch.Send(ctx, d); err != nil {
		t.Fatalf("first Send: %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	if err := ch.Send(ctx2, d); err == nil {
		t.Fatalf("second Send within the same minute should wait for the rate limit")
	}
	if len(*accepted) != 1 {
		t.Fatalf("expected one accepted message, got %d", len(*accepted))
	}
}

func TestNewTelegramChannel_RequiresCredentials(t *testing.T) {
	if _, err := NewTelegramChannel("http://localhost", "", "42", 1); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := NewTelegramChannel("http://localhost", "TOKEN", " ", 1); err == nil {
		t.Fatalf("expected error for empty chat id")
	}
}

func TestChannelFromEnv(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	t.Setenv("NOTIFY_CHANNEL", "")
	if got := ChannelFromEnv(logger).Name(); got != "unavailable" {
		t.Fatalf("unset channel should be unavailable, got %s", got)
	}

	t.Setenv("NOTIFY_CHANNEL", "log")
	if got := ChannelFromEnv(logger).Name(); got != "log" {
		t.Fatalf("expected log, got %s", got)
	}

	t.Setenv("NOTIFY_CHANNEL", "telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	missing := ChannelFromEnv(logger)
	if got := missing.Name(); got != "unavailable" {
		t.Fatalf("telegram without credentials should be unavailable, got %s", got)
	}
	if err := missing.Send(context.Background(), NewDigest(testListing(), []string{"a@example.com"}, time.Unix(0, 0))); err == nil {
		t.Fatalf("unavailable channel must fail sends")
	}

	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	if got := ChannelFromEnv(logger).Name(); got != "telegram" {
		t.Fatalf("expected telegram, got %s", got)
	}

	t.Setenv("NOTIFY_CHANNEL", "pubsub")
	if got := ChannelFromEnv(logger).Name(); got != "pubsub" {
		t.Fatalf("expected pubsub, got %s", got)
	}
}
