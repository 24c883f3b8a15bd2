package matching

import "github.com/mmdatafocus/listings_backend/models"

// FilterMatches reports whether listing satisfies every bound set in filter.
// Nil bounds are ignored, so an empty filter matches everything.
func FilterMatches(filter models.ListingFilter, listing models.Listing) bool {
	if filter.MinPrice != nil && listing.PriceMonthlyUsd < *filter.MinPrice {
		return false
	}
	if filter.MaxPrice != nil && listing.PriceMonthlyUsd > *filter.MaxPrice {
		return false
	}
	if filter.MinRooms != nil && listing.RoomCount < *filter.MinRooms {
		return false
	}
	if filter.MaxRooms != nil && listing.RoomCount > *filter.MaxRooms {
		return false
	}
	if filter.DistrictId != nil && listing.DistrictId != *filter.DistrictId {
		return false
	}
	return true
}

// Matches returns the active subscriptions whose saved search covers listing,
// in input order. An unavailable listing matches nobody.
//
// A subscription with no bounds at all matches every available listing.
func Matches(listing models.Listing, subscriptions []models.Subscription) []models.Subscription {
	if !listing.IsAvailable {
		return nil
	}
	var results []models.Subscription
	for _, sub := range subscriptions {
		if !sub.IsActive {
			continue
		}
		if FilterMatches(sub.Filter(), listing) {
			results = append(results, sub)
		}
	}
	return results
}
