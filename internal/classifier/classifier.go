// Package classifier maps free-text headlines to a catalyst category and
// conviction tier. Matching is deliberate case-insensitive substring work,
// ordered most-specific-first, so every decision is explainable from the
// rule table alone.
package classifier

import (
	"strings"

	"catalystbot/internal/domain"
)

// Result is the classification verdict for one article.
type Result struct {
	Category domain.CatalystCategory
	Tier     int
}

// pattern is a conjunction: every keyword must appear in the text.
type pattern []string

// rule maps a disjunction of patterns to a category and tier. First matching
// rule wins, so the table order is load-bearing.
type rule struct {
	category domain.CatalystCategory
	tier     int
	patterns []pattern
}

// dangerPatterns short-circuit to "never trade this" regardless of any
// positive-sounding text elsewhere in the headline.
var dangerPatterns = []pattern{
	{"crl"},
	{"complete response letter"},
	{"fda", "reject"},
	{"fda", "declin"},
	{"clinical hold"},
	{"trial", "fail"},
	{"trial", "halt"},
	{"misses", "estimates"},
	{"guidance", "cut"},
	{"guidance", "lower"},
	{"offering"},
	{"dilut"},
	{"reverse split"},
	{"going concern"},
	{"bankruptcy"},
	{"chapter 11"},
	{"delisting"},
	{"delist", "notice"},
	{"sec", "investigation"},
	{"doj", "investigation"},
	{"subpoena"},
	{"class action"},
	{"accounting", "irregular"},
	{"restate", "results"},
	{"ceo", "resign"},
	{"cfo", "resign"},
	{"short report"},
	{"halted", "news pending"},
}

var rules = []rule{
	{domain.CatalystTenderOffer, 1, []pattern{
		{"tender offer"},
	}},
	{domain.CatalystGoingPrivate, 1, []pattern{
		{"going private"},
		{"take-private"},
		{"taken private"},
	}},
	{domain.CatalystMerger, 1, []pattern{
		{"merger agreement"},
		{"definitive merger"},
		{"to merge with"},
		{"all-cash deal"},
	}},
	{domain.CatalystAcquisition, 1, []pattern{
		{"to be acquired"},
		{"to acquire"},
		{"acquisition of"},
		{"agrees to buy"},
		{"buyout"},
	}},
	{domain.CatalystFDABreakthrough, 1, []pattern{
		{"breakthrough therapy"},
		{"breakthrough designation"},
		{"fast track designation"},
	}},
	{domain.CatalystFDAApproval, 1, []pattern{
		{"fda approval"},
		{"fda approves"},
		{"fda", "cleared"},
		{"marketing authorization"},
	}},
	{domain.CatalystClinicalTrial, 2, []pattern{
		{"phase 3", "positive"},
		{"phase 3", "met"},
		{"phase 2", "positive"},
		{"phase 2", "met"},
		{"primary endpoint", "met"},
		{"topline", "positive"},
		{"trial", "success"},
	}},
	{domain.CatalystGuidanceRaise, 2, []pattern{
		{"raises guidance"},
		{"raises full-year"},
		{"guidance", "raise"},
		{"boosts", "outlook"},
		{"raises", "outlook"},
	}},
	{domain.CatalystRevenueRecord, 2, []pattern{
		{"record revenue"},
		{"record quarterly revenue"},
		{"record sales"},
	}},
	{domain.CatalystEarningsBeat, 2, []pattern{
		{"beats", "estimates"},
		{"tops", "estimates"},
		{"beats", "expectations"},
		{"earnings beat"},
	}},
	{domain.CatalystGovContract, 2, []pattern{
		{"government contract"},
		{"defense contract"},
		{"pentagon", "contract"},
		{"awarded", "department of"},
		{"nasa", "contract"},
	}},
	{domain.CatalystContractAward, 3, []pattern{
		{"awarded", "contract"},
		{"wins", "contract"},
		{"secures", "contract"},
		{"contract", "million"},
	}},
	{domain.CatalystAnalystUpgrade, 3, []pattern{
		{"upgrade"},
		{"raises price target"},
		{"initiates", "buy"},
		{"initiates", "overweight"},
	}},
	{domain.CatalystPartnership, 3, []pattern{
		{"partnership"},
		{"collaboration", "agreement"},
		{"strategic alliance"},
		{"teams up with"},
	}},
	{domain.CatalystProductLaunch, 4, []pattern{
		{"launches"},
		{"unveils"},
		{"introduces", "new"},
	}},
	{domain.CatalystBuyback, 4, []pattern{
		{"buyback"},
		{"share repurchase"},
		{"repurchase program"},
	}},
}

// Classify maps headline (and optional body) text to a category and tier.
// Danger patterns win over everything; no rule match lands in the
// always-disabled "other" bucket.
func Classify(headline, body string) Result {
	text := strings.ToLower(headline)
	if body != "" {
		text += " " + strings.ToLower(body)
	}

	for _, p := range dangerPatterns {
		if matches(text, p) {
			return Result{Category: domain.CatalystDanger, Tier: domain.TierDisabled}
		}
	}

	for _, r := range rules {
		for _, p := range r.patterns {
			if matches(text, p) {
				return Result{Category: r.category, Tier: r.tier}
			}
		}
	}

	return Result{Category: domain.CatalystOther, Tier: domain.TierDisabled}
}

func matches(text string, p pattern) bool {
	for _, keyword := range p {
		if !strings.Contains(text, keyword) {
			return false
		}
	}
	return true
}
