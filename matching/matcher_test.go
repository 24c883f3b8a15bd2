package matching

import (
	"math/rand"
	"testing"

	"github.com/mmdatafocus/listings_backend/models"
	"github.com/mmdatafocus/listings_backend/utils"
)

func subscription(email string) models.Subscription {
	return models.Subscription{Email: email, IsActive: true}
}

func TestMatches_Scenario(t *testing.T) {
	l := listing("l1", 500, 2, "A")

	first := subscription("first@example.com")
	first.MinPrice = utils.NewInt(400)
	first.MaxPrice = utils.NewInt(600)
	first.DistrictId = utils.NewString("A")

	second := subscription("second@example.com")
	second.MaxPrice = utils.NewInt(300)

	got := Matches(l, []models.Subscription{first, second})
	if len(got) != 1 || got[0].Email != "first@example.com" {
		t.Fatalf("expected only first subscription to match, got %+v", got)
	}
}

func TestMatches_UnboundedSubscriptionMatchesEveryAvailableListing(t *testing.T) {
	everything := subscription("all@example.com")
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		l := listing("l", r.Intn(20000), r.Intn(8), []string{"A", "B", "C"}[r.Intn(3)])
		if got := Matches(l, []models.Subscription{everything}); len(got) != 1 {
			t.Fatalf("listing %+v: expected unbounded subscription to match", l)
		}
	}
}

func TestMatches_InactiveSubscriptionsIgnored(t *testing.T) {
	l := listing("l1", 500, 2, "A")
	inactive := subscription("gone@example.com")
	inactive.IsActive = false
	if got := Matches(l, []models.Subscription{inactive}); len(got) != 0 {
		t.Fatalf("expected no matches, got %+v", got)
	}
}

func TestMatches_UnavailableListingMatchesNobody(t *testing.T) {
	l := listing("l1", 500, 2, "A")
	l.IsAvailable = false
	if got := Matches(l, []models.Subscription{subscription("all@example.com")}); len(got) != 0 {
		t.Fatalf("expected no matches for unavailable listing, got %+v", got)
	}
}

func TestMatches_MinPriceNeverAdmitsCheaperListings(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	for i := 0; i < 500; i++ {
		p := r.Intn(5000)
		sub := subscription("min@example.com")
		sub.MinPrice = utils.NewInt(p)
		l := listing("l", r.Intn(10000), r.Intn(5), "A")

		matched := len(Matches(l, []models.Subscription{sub})) == 1
		if l.PriceMonthlyUsd < p && matched {
			t.Fatalf("price %d matched subscription with min_price %d", l.PriceMonthlyUsd, p)
		}
		if l.PriceMonthlyUsd >= p && !matched {
			t.Fatalf("price %d rejected by subscription with min_price %d", l.PriceMonthlyUsd, p)
		}
	}
}

func TestFilterMatches_Bounds(t *testing.T) {
	l := listing("l1", 500, 2, "A")
	cases := []struct {
		name     string
		filter   models.ListingFilter
		expected bool
	}{
		{"empty", models.ListingFilter{}, true},
		{"min price equal", models.ListingFilter{MinPrice: utils.NewInt(500)}, true},
		{"max price equal", models.ListingFilter{MaxPrice: utils.NewInt(500)}, true},
		{"max price below", models.ListingFilter{MaxPrice: utils.NewInt(499)}, false},
		{"min rooms above", models.ListingFilter{MinRooms: utils.NewInt(3)}, false},
		{"max rooms equal", models.ListingFilter{MaxRooms: utils.NewInt(2)}, true},
		{"rooms window", models.ListingFilter{MinRooms: utils.NewInt(1), MaxRooms: utils.NewInt(3)}, true},
		{"other district", models.ListingFilter{DistrictId: utils.NewString("B")}, false},
		{"same district", models.ListingFilter{DistrictId: utils.NewString("A")}, true},
	}
	for _, tc := range cases {
		if got := FilterMatches(tc.filter, l); got != tc.expected {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.expected, got)
		}
	}
}

func TestFilterMatches_StudioIsZeroRooms(t *testing.T) {
	studio := listing("s", 300, 0, "A")
	if !FilterMatches(models.ListingFilter{MaxRooms: utils.NewInt(0)}, studio) {
		t.Fatalf("studio should match max_rooms=0")
	}
	if FilterMatches(models.ListingFilter{MinRooms: utils.NewInt(1)}, studio) {
		t.Fatalf("studio should not match min_rooms=1")
	}
}
