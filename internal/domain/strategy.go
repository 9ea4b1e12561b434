package domain

import "time"

// MarketCapBucket groups issuers by size for strategy statistics.
type MarketCapBucket string

const (
	CapNano     MarketCapBucket = "nano"  // < $50M
	CapMicro    MarketCapBucket = "micro" // < $300M
	CapSmall    MarketCapBucket = "small" // < $2B
	CapMidLarge MarketCapBucket = "mid_large"
	CapAll      MarketCapBucket = "ALL"
)

// BucketMarketCap maps a dollar market cap to its bucket. Zero or negative
// caps (unknown) map to the wildcard bucket.
func BucketMarketCap(cap float64) MarketCapBucket {
	switch {
	case cap <= 0:
		return CapAll
	case cap < 50_000_000:
		return CapNano
	case cap < 300_000_000:
		return CapMicro
	case cap < 2_000_000_000:
		return CapSmall
	default:
		return CapMidLarge
	}
}

// TimeOfDayBucket groups trades by session phase in market-local time.
type TimeOfDayBucket string

const (
	TODPremarket  TimeOfDayBucket = "premarket"
	TODOpen       TimeOfDayBucket = "open"   // 09:30-10:30
	TODMidday     TimeOfDayBucket = "midday" // 10:30-15:00
	TODClose      TimeOfDayBucket = "close"  // 15:00-16:00
	TODAfterHours TimeOfDayBucket = "afterhours"
	TODAll        TimeOfDayBucket = "ALL"
)

// BucketTimeOfDay maps a market-local timestamp to its session bucket.
func BucketTimeOfDay(t time.Time) TimeOfDayBucket {
	minutes := t.Hour()*60 + t.Minute()
	switch {
	case minutes < 9*60+30:
		return TODPremarket
	case minutes < 10*60+30:
		return TODOpen
	case minutes < 15*60:
		return TODMidday
	case minutes < 16*60:
		return TODClose
	default:
		return TODAfterHours
	}
}

// StrategyRecommendation is the learned per-bucket trading guidance, cached
// in memory and upserted to storage keyed by the group triple.
type StrategyRecommendation struct {
	Category        CatalystCategory
	CapBucket       MarketCapBucket
	TODBucket       TimeOfDayBucket
	HoldSeconds     int
	TrailingStopPct float64 // Fraction, e.g. 0.03
	Confidence      float64 // Saturating in [0,1), never 1
	SampleSize      int
	WinRate         float64 // Fraction of sampled trades with positive return
	MedianReturn    float64 // Median return at the recommended hold offset
	UpdatedAt       time.Time
}
