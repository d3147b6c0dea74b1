package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

const buylistPageHTML = `<!DOCTYPE html>
<html><body>
<form id="buylist">
<div class="pd_row">
  <span class="pd_label">EarthBound</span>
  <span class="pd_price">$110.00&#9650;</span>
</div>
<div class="pd_row">
  <label>Chrono Trigger</label>
  <span class="pd_price">$65.00&#9660;</span>
</div>
<div class="pd_row">
  <span class="pd_label">Row Without A Price</span>
</div>
<div class="pd_row">
  <span class="pd_label">Zero Priced Game</span>
  <span class="pd_price">$0.00</span>
</div>
</form>
</body></html>`

func TestRetailPriceFromSearchSpring(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/search/search.json" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("siteId") != "6pjfbh" {
			t.Errorf("got siteId %q", q.Get("siteId"))
		}
		if q.Get("q") != "EarthBound SNES" {
			t.Errorf("got query %q, want game plus console", q.Get("q"))
		}
		if q.Get("resultsPerPage") != "5" {
			t.Errorf("got resultsPerPage %q", q.Get("resultsPerPage"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"name":"EarthBound - SNES","price":"$249.99","url":"https://example.com/earthbound"},
			{"name":"EarthBound Player's Guide","price":"$89.99","url":"https://example.com/guide"}
		]}`))
	}))
	defer srv.Close()
	dko := NewDKOldies(srv.URL, srv.URL, zerolog.Nop())

	retail, err := dko.RetailPrice(context.Background(), "EarthBound", "SNES")
	if err != nil {
		t.Fatal(err)
	}
	if retail == nil {
		t.Fatal("expected a retail listing")
	}
	if retail.Name != "EarthBound - SNES" {
		t.Errorf("got name %q, want the first result", retail.Name)
	}
	if retail.PriceCents != 24999 {
		t.Errorf("got %d cents, want 24999", retail.PriceCents)
	}
	if retail.URL != "https://example.com/earthbound" {
		t.Errorf("got url %q", retail.URL)
	}
}

func TestRetailPriceFieldFallbackChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[
			{"name":"Paper Mario","price":0,"ss_sale_price":"","msrp":39.99,"ss_price":"$59.99"}
		]}`))
	}))
	defer srv.Close()
	dko := NewDKOldies(srv.URL, srv.URL, zerolog.Nop())

	retail, err := dko.RetailPrice(context.Background(), "Paper Mario", "N64")
	if err != nil {
		t.Fatal(err)
	}
	if retail == nil {
		t.Fatal("expected a retail listing")
	}
	if retail.PriceCents != 3999 {
		t.Errorf("got %d cents, want msrp to win over later fields", retail.PriceCents)
	}
}

func TestRetailPriceNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()
	dko := NewDKOldies(srv.URL, srv.URL, zerolog.Nop())

	retail, err := dko.RetailPrice(context.Background(), "Bubsy 3D", "")
	if err != nil {
		t.Fatal(err)
	}
	if retail != nil {
		t.Errorf("got %+v, want nil", retail)
	}
}

func TestBuyPriceFromScrapedList(t *testing.T) {
	var fetches atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/sell-video-games/" {
			http.NotFound(w, r)
			return
		}
		fetches.Add(1)
		w.Write([]byte(buylistPageHTML))
	}))
	defer srv.Close()
	dko := NewDKOldies(srv.URL, srv.URL, zerolog.Nop())

	quote := dko.BuyPrice(context.Background(), "EarthBound")
	if quote == nil {
		t.Fatal("expected a buy quote")
	}
	if quote.Name != "EarthBound" || quote.BuyCents != 11000 {
		t.Errorf("got %+v, want EarthBound at 11000", quote)
	}

	// Row labelled with a bare label element, console word dropped in
	// matching.
	quote = dko.BuyPrice(context.Background(), "Chrono Trigger SNES")
	if quote == nil {
		t.Fatal("expected a buy quote")
	}
	if quote.Name != "Chrono Trigger" || quote.BuyCents != 6500 {
		t.Errorf("got %+v, want Chrono Trigger at 6500", quote)
	}

	if quote := dko.BuyPrice(context.Background(), "Zero Priced Game"); quote != nil {
		t.Errorf("zero-priced rows should be dropped, got %+v", quote)
	}

	if got := fetches.Load(); got != 1 {
		t.Errorf("buy list fetched %d times, want the scrape cached", got)
	}
}

func TestBuyPriceBundledFallbackWhenBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>Just a moment...</title></head></html>"))
	}))
	defer srv.Close()
	dko := NewDKOldies(srv.URL, srv.URL, zerolog.Nop())

	quote := dko.BuyPrice(context.Background(), "Panzer Dragoon Saga")
	if quote == nil {
		t.Fatal("expected a quote from the bundled buy list")
	}
	if quote.Name != "Panzer Dragoon Saga" || quote.BuyCents != 40000 {
		t.Errorf("got %+v, want the bundled Panzer Dragoon Saga entry", quote)
	}
}

func TestBuyPriceRequiresCloseMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(buylistPageHTML))
	}))
	defer srv.Close()
	dko := NewDKOldies(srv.URL, srv.URL, zerolog.Nop())

	if quote := dko.BuyPrice(context.Background(), "Glover"); quote != nil {
		t.Errorf("got %+v, want no match", quote)
	}
	if quote := dko.BuyPrice(context.Background(), ""); quote != nil {
		t.Errorf("got %+v for empty name, want nil", quote)
	}
}

func TestBuyPriceHalfOverlapMatches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<div class="pd_row">
			<span class="pd_label">Legend of Zelda Ocarina of Time</span>
			<span class="pd_price">$16.00</span>
		</div>`))
	}))
	defer srv.Close()
	dko := NewDKOldies(srv.URL, srv.URL, zerolog.Nop())

	// "ocarina time" matches 2 of the 4 significant words, right on
	// the 50% threshold.
	quote := dko.BuyPrice(context.Background(), "Ocarina of Time")
	if quote == nil {
		t.Fatal("expected a quote at the overlap threshold")
	}
	if quote.BuyCents != 1600 {
		t.Errorf("got %d cents, want 1600", quote.BuyCents)
	}
}

func TestNormalizeGameName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"The Legend of Zelda: Ocarina of Time (N64)", "legend zelda ocarina time"},
		{"Pokémon FireRed", "pokemon firered"},
		{"Mario Kart Wii", "mario kart"},
		{"Super Mario World - SNES", "super mario world"},
		{"  EARTHBOUND  ", "earthbound"},
		{"w/ Manual", "manual"},
	}
	for _, tt := range tests {
		if got := normalizeGameName(tt.in); got != tt.want {
			t.Errorf("normalizeGameName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
