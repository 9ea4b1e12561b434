package ports

import (
	"context"

	"catalystbot/internal/domain"
)

// AdvisorRequest carries the context for a tier 3-4 judgment call.
type AdvisorRequest struct {
	Symbol         string
	Headline       string
	Body           string
	Category       domain.CatalystCategory
	Price          float64
	RelativeVolume float64
}

// AdvisorResponse is the advisory's structured verdict.
type AdvisorResponse struct {
	Proceed    bool
	Confidence domain.AdvisorConfidence
	Rationale  string
}

// Advisor is the optional AI advisory endpoint. Calls are bounded by the
// caller's context; a timeout is treated the same as unavailability.
type Advisor interface {
	Review(ctx context.Context, req *AdvisorRequest) (*AdvisorResponse, error)
}
