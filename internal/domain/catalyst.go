package domain

// CatalystCategory identifies the type of news event behind a signal.
type CatalystCategory string

const (
	CatalystTenderOffer        CatalystCategory = "tender_offer"
	CatalystGoingPrivate       CatalystCategory = "going_private"
	CatalystMerger             CatalystCategory = "merger"
	CatalystAcquisition        CatalystCategory = "acquisition"
	CatalystFDABreakthrough    CatalystCategory = "fda_breakthrough"
	CatalystFDAApproval        CatalystCategory = "fda_approval"
	CatalystClinicalTrial      CatalystCategory = "clinical_trial"
	CatalystGuidanceRaise      CatalystCategory = "guidance_raise"
	CatalystRevenueRecord      CatalystCategory = "revenue_record"
	CatalystEarningsBeat       CatalystCategory = "earnings_beat"
	CatalystGovContract        CatalystCategory = "government_contract"
	CatalystContractAward      CatalystCategory = "contract_award"
	CatalystAnalystUpgrade     CatalystCategory = "analyst_upgrade"
	CatalystPartnership        CatalystCategory = "partnership"
	CatalystProductLaunch      CatalystCategory = "product_launch"
	CatalystBuyback            CatalystCategory = "buyback"
	CatalystOther              CatalystCategory = "other"
	CatalystDanger             CatalystCategory = "danger"
	CatalystAll                CatalystCategory = "ALL" // wildcard key for strategy aggregates
)

// Tier bounds. Tier 1 is highest conviction; tier 5 ("other") is never tradable.
const (
	TierHighest  = 1
	TierLowest   = 4
	TierDisabled = 5
)
