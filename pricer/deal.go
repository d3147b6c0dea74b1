package pricer

import "math"

// Rating grades a pawn shop asking price against a market price.
type Rating struct {
	Tag       string  `json:"tag"`
	Emoji     string  `json:"emoji"`
	Label     string  `json:"label"`
	Profit    int     `json:"profit"`
	MarginPct float64 `json:"margin_pct"`
}

// Rate returns the deal rating for a pawn price against a market
// price, both in cents. Returns nil when either price is missing.
func Rate(pawnCents, marketCents int) *Rating {
	if pawnCents == 0 || marketCents == 0 {
		return nil
	}
	ratio := float64(pawnCents) / float64(marketCents)
	profit := marketCents - pawnCents
	margin := math.Round(float64(profit)/float64(marketCents)*1000) / 10
	rating := &Rating{Profit: profit, MarginPct: margin}
	switch {
	case ratio < 0.40:
		rating.Tag, rating.Emoji, rating.Label = "steal", "🔥", "STEAL"
	case ratio < 0.65:
		rating.Tag, rating.Emoji, rating.Label = "good", "✅", "GOOD DEAL"
	case ratio < 0.85:
		rating.Tag, rating.Emoji, rating.Label = "fair", "⚠️", "FAIR"
	default:
		rating.Tag, rating.Emoji, rating.Label = "pass", "❌", "PASS"
	}
	return rating
}
