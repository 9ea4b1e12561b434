package ports

import (
	"context"
	"time"
)

// Snapshot is the current market-data view of one symbol.
type Snapshot struct {
	Symbol         string
	Price          float64 // Last trade price
	RelativeVolume float64 // Today's volume vs trailing average at this time
	DayVolume      float64
	MarketCap      float64
	FloatShares    float64
	Timestamp      time.Time
}

// MarketData defines the batched current-snapshot lookup. One request per
// call regardless of symbol count; the monitor relies on that bound.
type MarketData interface {
	// GetSnapshots retrieves snapshots for the given symbols keyed by symbol.
	// Symbols the provider has no data for are absent from the result.
	GetSnapshots(ctx context.Context, symbols []string) (map[string]*Snapshot, error)
}
