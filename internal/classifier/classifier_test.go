package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"catalystbot/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		headline     string
		body         string
		wantCategory domain.CatalystCategory
		wantTier     int
	}{
		{
			name:         "tender offer",
			headline:     "XYZ Corp Receives Tender Offer at $12.50 Per Share",
			wantCategory: domain.CatalystTenderOffer,
			wantTier:     1,
		},
		{
			name:         "going private",
			headline:     "ABC Industries Announces Going Private Transaction",
			wantCategory: domain.CatalystGoingPrivate,
			wantTier:     1,
		},
		{
			name:         "merger beats acquisition wording",
			headline:     "DEF Signs Definitive Merger Agreement To Be Acquired by GHI",
			wantCategory: domain.CatalystMerger,
			wantTier:     1,
		},
		{
			name:         "acquisition",
			headline:     "MegaCorp Agrees to Buy SmallCo for $2 Billion",
			wantCategory: domain.CatalystAcquisition,
			wantTier:     1,
		},
		{
			name:         "fda breakthrough outranks approval",
			headline:     "BioTech Granted FDA Breakthrough Therapy Designation",
			wantCategory: domain.CatalystFDABreakthrough,
			wantTier:     1,
		},
		{
			name:         "fda approval",
			headline:     "FDA Approves NewDrug for Treatment of Rare Disease",
			wantCategory: domain.CatalystFDAApproval,
			wantTier:     1,
		},
		{
			name:         "clinical trial success",
			headline:     "Phase 3 Trial Met Primary Endpoint With Statistical Significance",
			wantCategory: domain.CatalystClinicalTrial,
			wantTier:     2,
		},
		{
			name:         "guidance raise",
			headline:     "Acme Raises Guidance for Fiscal 2026",
			wantCategory: domain.CatalystGuidanceRaise,
			wantTier:     2,
		},
		{
			name:         "earnings beat",
			headline:     "Acme Q2 EPS Beats Analyst Estimates",
			wantCategory: domain.CatalystEarningsBeat,
			wantTier:     2,
		},
		{
			name:         "government contract outranks generic award",
			headline:     "DefenseCo Awarded $500M Pentagon Contract",
			wantCategory: domain.CatalystGovContract,
			wantTier:     2,
		},
		{
			name:         "generic contract award",
			headline:     "BuildCo Wins $40 Million Construction Contract",
			wantCategory: domain.CatalystContractAward,
			wantTier:     3,
		},
		{
			name:         "analyst upgrade",
			headline:     "Brokerage Upgrades Acme to Buy, Raises Price Target to $30",
			wantCategory: domain.CatalystAnalystUpgrade,
			wantTier:     3,
		},
		{
			name:         "partnership",
			headline:     "TechCo Announces Strategic Partnership With CloudGiant",
			wantCategory: domain.CatalystPartnership,
			wantTier:     3,
		},
		{
			name:         "product launch",
			headline:     "GadgetCo Launches Next-Generation Widget",
			wantCategory: domain.CatalystProductLaunch,
			wantTier:     4,
		},
		{
			name:         "buyback",
			headline:     "Acme Board Approves $100M Share Repurchase Program",
			wantCategory: domain.CatalystBuyback,
			wantTier:     4,
		},
		{
			name:         "uncategorized lands in other",
			headline:     "Acme Appoints New VP of Marketing",
			wantCategory: domain.CatalystOther,
			wantTier:     domain.TierDisabled,
		},
		{
			name:         "danger wins over positive text",
			headline:     "BioTech Announces $50M Offering Following FDA Approval",
			wantCategory: domain.CatalystDanger,
			wantTier:     domain.TierDisabled,
		},
		{
			name:         "complete response letter is danger",
			headline:     "BioTech Receives Complete Response Letter From FDA",
			wantCategory: domain.CatalystDanger,
			wantTier:     domain.TierDisabled,
		},
		{
			name:         "going concern is danger",
			headline:     "Acme Files 10-K With Going Concern Doubt",
			wantCategory: domain.CatalystDanger,
			wantTier:     domain.TierDisabled,
		},
		{
			name:         "danger in body short-circuits headline match",
			headline:     "Acme Signs Definitive Merger Agreement",
			body:         "The company also announced a reverse split effective Monday.",
			wantCategory: domain.CatalystDanger,
			wantTier:     domain.TierDisabled,
		},
		{
			name:         "case insensitive",
			headline:     "ACME RECEIVES TENDER OFFER",
			wantCategory: domain.CatalystTenderOffer,
			wantTier:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.headline, tt.body)
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.Equal(t, tt.wantTier, got.Tier)
		})
	}
}

func TestClassifyConjunctionRequiresAllKeywords(t *testing.T) {
	// "fda" alone without a rejection word must not trip the danger list.
	got := Classify("FDA Approves NewDrug", "")
	assert.Equal(t, domain.CatalystFDAApproval, got.Category)

	// Both words present, even split across headline and body, is danger.
	got = Classify("FDA Decision In: NewDrug Rejected", "")
	assert.Equal(t, domain.CatalystDanger, got.Category)
}
