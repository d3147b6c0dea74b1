package pricer

import "testing"

func TestRateTiers(t *testing.T) {
	tests := []struct {
		name   string
		pawn   int
		market int
		tag    string
		label  string
	}{
		{"deep discount is a steal", 1500, 6000, "steal", "STEAL"},
		{"under two thirds is good", 3000, 6000, "good", "GOOD DEAL"},
		{"under 85 percent is fair", 4800, 6000, "fair", "FAIR"},
		{"at market is a pass", 6000, 6000, "pass", "PASS"},
		{"above market is a pass", 9000, 6000, "pass", "PASS"},
		{"exactly 40 percent is good", 2400, 6000, "good", "GOOD DEAL"},
		{"exactly 65 percent is fair", 3900, 6000, "fair", "FAIR"},
		{"exactly 85 percent is a pass", 5100, 6000, "pass", "PASS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rating := Rate(tt.pawn, tt.market)
			if rating == nil {
				t.Fatal("expected a rating")
			}
			if rating.Tag != tt.tag {
				t.Errorf("got tag %q, want %q", rating.Tag, tt.tag)
			}
			if rating.Label != tt.label {
				t.Errorf("got label %q, want %q", rating.Label, tt.label)
			}
		})
	}
}

func TestRateProfitAndMargin(t *testing.T) {
	rating := Rate(2000, 6000)
	if rating.Profit != 4000 {
		t.Errorf("got profit %d, want 4000", rating.Profit)
	}
	if rating.MarginPct != 66.7 {
		t.Errorf("got margin %v, want 66.7", rating.MarginPct)
	}
	if rating.Emoji == "" {
		t.Error("rating should carry an emoji")
	}

	// Overpaying yields a negative margin.
	rating = Rate(9000, 6000)
	if rating.Profit != -3000 {
		t.Errorf("got profit %d, want -3000", rating.Profit)
	}
	if rating.MarginPct != -50.0 {
		t.Errorf("got margin %v, want -50", rating.MarginPct)
	}
}

func TestRateWithoutMarketPrice(t *testing.T) {
	if rating := Rate(2000, 0); rating != nil {
		t.Errorf("got %+v without a market price, want nil", rating)
	}
	if rating := Rate(0, 6000); rating != nil {
		t.Errorf("got %+v without a pawn price, want nil", rating)
	}
}
