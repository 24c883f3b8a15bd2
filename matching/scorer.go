// Package matching holds the pure listing predicates: similarity ranking for
// "similar listings" and saved-search matching for new listings.
// Nothing here touches storage; every function is safe for concurrent use.
package matching

import (
	"sort"

	"github.com/mmdatafocus/listings_backend/models"
)

const (
	DistrictWeight = 3
	PriceWeight    = 2
	RoomsWeight    = 1

	// price is similar when |candidate - reference| <= reference * 3/10
	priceToleranceNum = 3
	priceToleranceDen = 10
)

type ScoredListing struct {
	Listing models.Listing `json:"listing"`
	Score   int            `json:"score"`
}

// Ranking is ordered by descending score, then ascending listing id.
type Ranking []ScoredListing

// Score returns 0..6.
func Score(reference, candidate models.Listing) int {
	score := 0
	if candidate.DistrictId == reference.DistrictId {
		score += DistrictWeight
	}
	if priceSimilar(reference.PriceMonthlyUsd, candidate.PriceMonthlyUsd) {
		score += PriceWeight
	}
	if candidate.RoomCount == reference.RoomCount {
		score += RoomsWeight
	}
	return score
}

// A zero reference price is never similar on price.
func priceSimilar(reference, candidate int) bool {
	if reference <= 0 {
		return false
	}
	diff := int64(candidate) - int64(reference)
	if diff < 0 {
		diff = -diff
	}
	return diff*priceToleranceDen <= int64(reference)*priceToleranceNum
}

// Rank scores candidates against reference. The reference itself and
// candidates scoring 0 are left out.
func Rank(reference models.Listing, candidates []models.Listing) Ranking {
	ranking := make(Ranking, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.ID == reference.ID {
			continue
		}
		score := Score(reference, candidate)
		if score == 0 {
			continue
		}
		ranking = append(ranking, ScoredListing{Listing: candidate, Score: score})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].Score != ranking[j].Score {
			return ranking[i].Score > ranking[j].Score
		}
		return ranking[i].Listing.ID < ranking[j].Listing.ID
	})
	return ranking
}

// Take returns at most n entries. n <= 0 returns nothing.
func (r Ranking) Take(n int) Ranking {
	if n <= 0 {
		return Ranking{}
	}
	if n > len(r) {
		n = len(r)
	}
	return r[:n:n]
}

func (r Ranking) Listings() []models.Listing {
	results := make([]models.Listing, 0, len(r))
	for _, scored := range r {
		results = append(results, scored.Listing)
	}
	return results
}

func (r Ranking) Ids() []string {
	ids := make([]string, 0, len(r))
	for _, scored := range r {
		ids = append(ids, scored.Listing.ID)
	}
	return ids
}
