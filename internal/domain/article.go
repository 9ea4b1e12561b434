package domain

import "time"

// NewsArticle is a single article delivered by a news source.
type NewsArticle struct {
	ID          string    // Provider-assigned article ID
	Source      string    // Name of the feed that delivered it
	Symbols     []string  // Tickers the provider tagged
	Headline    string
	Body        string
	PublishedAt time.Time
}

// PrimarySymbol returns the first tagged ticker, or "" when untagged.
func (a *NewsArticle) PrimarySymbol() string {
	if len(a.Symbols) == 0 {
		return ""
	}
	return a.Symbols[0]
}
