package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/notifier"
	"github.com/shopspring/decimal"
)

// DB-free stand-ins for the stores. memLedger enforces pair uniqueness under a
// mutex the way the MySQL primary key does.

type fakeSubscriptions struct {
	subs []models.Subscription
	err  error
}

func (f *fakeSubscriptions) ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Subscription
	for _, s := range f.subs {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

type memLedger struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	inserts   int
	hasErr    error
	recordErr error
}

func newMemLedger() *memLedger {
	return &memLedger{entries: map[string]time.Time{}}
}

func ledgerKey(listingId, email string) string { return listingId + "|" + email }

func (l *memLedger) HasBeenNotified(ctx context.Context, listingId, email string) (bool, error) {
	if l.hasErr != nil {
		return false, l.hasErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[ledgerKey(listingId, email)]
	return ok, nil
}

func (l *memLedger) RecordNotified(ctx context.Context, listingId, email string, sentAt time.Time) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(listingId, email)
	if _, ok := l.entries[key]; ok {
		return ErrAlreadyRecorded
	}
	l.entries[key] = sentAt
	l.inserts++
	return nil
}

func (l *memLedger) keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.entries))
	for k := range l.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

var errChannelDown = errors.New("channel unreachable")

type fakeChannel struct {
	mu        sync.Mutex
	failNext  int
	sent      []*notifier.Digest
	sendDelay time.Duration
}

func (c *fakeChannel) Name() string { return "fake" }

func (c *fakeChannel) Send(ctx context.Context, digest *notifier.Digest) error {
	if c.sendDelay > 0 {
		time.Sleep(c.sendDelay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext > 0 {
		c.failNext--
		return errChannelDown
	}
	c.sent = append(c.sent, digest)
	return nil
}

func (c *fakeChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fakeListings struct {
	mu       sync.Mutex
	byId     map[string]models.Listing
	created  []models.Listing
	err      error
	listErr  error
	createEr error
	// beforeList runs at the start of ListAvailable, outside the lock.
	beforeList func()
	listCalls  int
}

func newFakeListings(listings ...models.Listing) *fakeListings {
	f := &fakeListings{byId: map[string]models.Listing{}}
	for _, l := range listings {
		f.byId[l.ID] = l
	}
	return f
}

func (f *fakeListings) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeListings) add(l models.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byId[l.ID] = l
}

func (f *fakeListings) Create(ctx context.Context, listing *models.Listing) error {
	if f.createEr != nil {
		return f.createEr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byId[listing.ID] = *listing
	f.created = append(f.created, *listing)
	return nil
}

func (f *fakeListings) Get(ctx context.Context, id string) (*models.Listing, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.byId[id]
	if !ok {
		return nil, errors.New("record not found")
	}
	return &l, nil
}

func (f *fakeListings) GetMany(ctx context.Context, ids []string) ([]models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Listing
	for _, id := range ids {
		if l, ok := f.byId[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeListings) ListAvailable(ctx context.Context) ([]models.Listing, error) {
	if f.beforeList != nil {
		f.beforeList()
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	var out []models.Listing
	for _, l := range f.byId {
		if l.IsAvailable {
			out = append(out, l)
		}
	}
	return out, nil
}

type fakeDistricts map[string]bool

func (f fakeDistricts) Exists(ctx context.Context, id string) (bool, error) {
	return f[id], nil
}

func newListing(id string, price, rooms int, district string) models.Listing {
	return models.Listing{
		ID:              id,
		Title:           "listing " + id,
		PriceMonthlyUsd: price,
		RoomCount:       rooms,
		AreaSqm:         decimal.NewFromInt(40),
		DistrictId:      district,
		IsAvailable:     true,
	}
}

func newSub(email string) models.Subscription {
	return models.Subscription{Email: email, IsActive: true}
}
