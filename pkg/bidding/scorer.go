// Package bidding gathers and ranks provider bids for an open order.
package bidding

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/innerwebblueprint/iwb-akash-deploy/pkg/marketplace"
)

const (
	// BaseScore is awarded to the most preferred GPU model.
	BaseScore = 100

	// PreferenceGap separates adjacent GPU preference positions. It must
	// exceed the maximum possible sum of all non-GPU bonuses so that GPU
	// preference order can never be overridden by bonus stacking.
	PreferenceGap = 30
)

// Preferences drive bid selection. The zero value ranks on price alone.
type Preferences struct {
	// GPUOrder lists GPU models most preferred first.
	GPUOrder []string

	// OrganizationBonus and CountryBonus are small fixed bonus tables
	// keyed by lowercase organization and uppercase ISO country code.
	OrganizationBonus map[string]int
	CountryBonus      map[string]int

	// Blocklist is a hard filter on provider identities, never a score
	// penalty.
	Blocklist []string

	// RequirePreferredGPU excludes bids whose GPU model is absent from
	// GPUOrder instead of scoring them at zero.
	RequirePreferredGPU bool
}

// Validate enforces the ordering guarantee: the preference gap dominates
// any achievable bonus combination.
func (p Preferences) Validate() error {
	maxOrg := 0
	for _, bonus := range p.OrganizationBonus {
		if bonus > maxOrg {
			maxOrg = bonus
		}
	}
	maxCountry := 0
	for _, bonus := range p.CountryBonus {
		if bonus > maxCountry {
			maxCountry = bonus
		}
	}
	if maxOrg+maxCountry >= PreferenceGap {
		return fmt.Errorf("bonus tables sum to %d, which would override GPU preference order (gap %d)", maxOrg+maxCountry, PreferenceGap)
	}
	return nil
}

func (p Preferences) blocked(provider string) bool {
	for _, blocked := range p.Blocklist {
		if blocked == provider {
			return true
		}
	}
	return false
}

// gpuPosition returns the model's index in the preference list, or -1.
func (p Preferences) gpuPosition(gpu *marketplace.GPU) int {
	if gpu == nil {
		return -1
	}
	for i, model := range p.GPUOrder {
		if model == gpu.Model {
			return i
		}
	}
	return -1
}

// ScoredBid is a bid with its computed preference score.
type ScoredBid struct {
	marketplace.Bid
	Score int
}

// Rank produces a total order over the eligible bids, best first. Blocked
// providers are excluded outright. Ties break on lower price, then on
// lexicographically smaller provider identity, so the order is
// deterministic for any input permutation.
func Rank(bids []marketplace.Bid, prefs Preferences) []ScoredBid {
	scored := make([]ScoredBid, 0, len(bids))

	for _, bid := range bids {
		if prefs.blocked(bid.Provider) {
			log.Infof("Excluding bid from blocklisted provider %s", bid.Provider)
			continue
		}

		position := prefs.gpuPosition(bid.GPU)
		if position < 0 && prefs.RequirePreferredGPU {
			log.Infof("Excluding bid from %s: GPU %v not in preference list", bid.Provider, bid.GPU)
			continue
		}

		score := 0
		if position >= 0 {
			score = BaseScore - position*PreferenceGap
		}
		score += prefs.OrganizationBonus[bid.Organization]
		score += prefs.CountryBonus[bid.Country]

		scored = append(scored, ScoredBid{Bid: bid, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Price != b.Price {
			return a.Price < b.Price
		}
		return a.Provider < b.Provider
	})

	return scored
}

// SelectBest returns the top-ranked bid, or nil when no bid survives
// filtering.
func SelectBest(bids []marketplace.Bid, prefs Preferences) *ScoredBid {
	ranked := Rank(bids, prefs)
	if len(ranked) == 0 {
		return nil
	}

	for _, candidate := range ranked {
		log.Debugf("Bid %s from %s: score %d, price %d uakt", candidate.OrderRef(), candidate.Provider, candidate.Score, candidate.Price)
	}
	best := ranked[0]
	log.Infof("Selected bid from %s (score %d, price %d uakt)", best.Provider, best.Score, best.Price)
	return &best
}
