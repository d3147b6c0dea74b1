package pricer

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T, ttl time.Duration) *DB {
	t.Helper()
	db := OpenDB(filepath.Join(t.TempDir(), "pricer.db"), ttl)
	t.Cleanup(func() { db.Close() })
	return db
}

func intPtr(n int) *int { return &n }

func strPtr(s string) *string { return &s }

func TestSaveAndCachedRoundtrip(t *testing.T) {
	db := testDB(t, time.Hour)
	result := &PriceResult{
		PCConsole:  "super-nintendo",
		Slug:       "earthbound",
		Title:      "EarthBound",
		PCURL:      "https://www.pricecharting.com/game/super-nintendo/earthbound",
		DKURL:      "https://www.dkoldies.com/earthbound-snes",
		Prices:     map[string]int{"loose": 21050, "cib": 65099},
		DKPrice:    intPtr(24999),
		DKBuyPrice: intPtr(11000),
		DKBuyName:  strPtr("EarthBound"),
	}
	if err := db.Save(result); err != nil {
		t.Fatal(err)
	}

	got, err := db.Cached("super-nintendo", "earthbound")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a cached result")
	}
	if got.Title != "EarthBound" || got.PCURL != result.PCURL || got.DKURL != result.DKURL {
		t.Errorf("got %+v, want the saved strings back", got)
	}
	if len(got.Prices) != 2 || got.Prices["loose"] != 21050 || got.Prices["cib"] != 65099 {
		t.Errorf("got prices %v, want loose and cib only", got.Prices)
	}
	if got.DKPrice == nil || *got.DKPrice != 24999 {
		t.Errorf("got dk price %v, want 24999", got.DKPrice)
	}
	if got.DKBuyPrice == nil || *got.DKBuyPrice != 11000 {
		t.Errorf("got dk buy price %v, want 11000", got.DKBuyPrice)
	}
	if got.DKBuyName == nil || *got.DKBuyName != "EarthBound" {
		t.Errorf("got dk buy name %v, want EarthBound", got.DKBuyName)
	}
}

func TestCachedMisses(t *testing.T) {
	db := testDB(t, time.Hour)
	got, err := db.Cached("nes", "never-saved")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil for an unknown game", got)
	}
}

func TestZeroTTLNeverServesFromCache(t *testing.T) {
	db := testDB(t, 0)
	if err := db.Save(&PriceResult{PCConsole: "nes", Slug: "contra", Prices: map[string]int{"loose": 4000}}); err != nil {
		t.Fatal(err)
	}
	got, err := db.Cached("nes", "contra")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("zero ttl should treat every entry as stale")
	}
}

func TestCachedNullableFields(t *testing.T) {
	db := testDB(t, time.Hour)
	if err := db.Save(&PriceResult{PCConsole: "nintendo-64", Slug: "paper-mario", Title: "Paper Mario"}); err != nil {
		t.Fatal(err)
	}
	got, err := db.Cached("nintendo-64", "paper-mario")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected a cached result")
	}
	if got.DKPrice != nil || got.DKBuyPrice != nil || got.DKBuyName != nil {
		t.Errorf("got %+v, want nil DK fields", got)
	}
	if len(got.Prices) != 0 {
		t.Errorf("got prices %v, want none", got.Prices)
	}
}

func TestSaveUpserts(t *testing.T) {
	db := testDB(t, time.Hour)
	first := &PriceResult{PCConsole: "nes", Slug: "contra", Title: "Contra", Prices: map[string]int{"loose": 4000}}
	if err := db.Save(first); err != nil {
		t.Fatal(err)
	}
	second := &PriceResult{PCConsole: "nes", Slug: "contra", Title: "Contra", Prices: map[string]int{"loose": 4500}}
	if err := db.Save(second); err != nil {
		t.Fatal(err)
	}

	got, err := db.Cached("nes", "contra")
	if err != nil {
		t.Fatal(err)
	}
	if got.Prices["loose"] != 4500 {
		t.Errorf("got loose %d, want the second save to win", got.Prices["loose"])
	}
	lookups, err := db.RecentLookups(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(lookups) != 1 {
		t.Errorf("got %d rows, want the upsert to keep one", len(lookups))
	}
}

func TestRecentLookupsOrderAndLimit(t *testing.T) {
	db := testDB(t, time.Hour)
	games := []string{"contra", "castlevania", "metroid"}
	for i, slug := range games {
		result := &PriceResult{
			PCConsole: "nes",
			Slug:      slug,
			Title:     slug,
			Prices:    map[string]int{"loose": 1000 * (i + 1), "cib": 2000 * (i + 1)},
		}
		if err := db.Save(result); err != nil {
			t.Fatal(err)
		}
		// Spread the timestamps so the order is unambiguous.
		if _, err := db.db.Exec("UPDATE price_cache SET updated_at = ? WHERE slug = ?",
			time.Now().Add(time.Duration(i-10)*time.Minute).Unix(), slug); err != nil {
			t.Fatal(err)
		}
	}

	lookups, err := db.RecentLookups(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(lookups) != 2 {
		t.Fatalf("got %d lookups, want 2", len(lookups))
	}
	if lookups[0].Slug != "metroid" || lookups[1].Slug != "castlevania" {
		t.Errorf("got %s then %s, want newest first", lookups[0].Slug, lookups[1].Slug)
	}
	if lookups[0].LoosePrice != 3000 || lookups[0].CIBPrice != 6000 {
		t.Errorf("got %d/%d, want the metroid prices", lookups[0].LoosePrice, lookups[0].CIBPrice)
	}
	if lookups[0].UpdatedAt.IsZero() {
		t.Error("lookup timestamps should be populated")
	}
}

func TestLogSearch(t *testing.T) {
	db := testDB(t, time.Hour)
	if err := db.LogSearch("earthbound", "snes"); err != nil {
		t.Fatal(err)
	}
	if err := db.LogSearch("chrono trigger", ""); err != nil {
		t.Fatal(err)
	}
	var count int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM search_log").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("got %d logged searches, want 2", count)
	}
}
