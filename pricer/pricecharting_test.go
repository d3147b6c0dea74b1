package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

const searchPageHTML = `<!DOCTYPE html>
<html><body>
<table id="games_table">
<tbody>
<tr>
  <td class="title"><a href="/game/super-nintendo/earthbound"> EarthBound </a></td>
  <td class="console">Super Nintendo</td>
  <td class="price numeric used_price"><span class="js-price">$210.50</span></td>
  <td class="price numeric cib_price"><span class="js-price">$650.99</span></td>
</tr>
<tr>
  <td class="title"><a href="/game/nintendo-64/earthbound-64">EarthBound 64</a></td>
  <td class="console"></td>
  <td class="price numeric used_price">-</td>
  <td class="price numeric cib_price"></td>
</tr>
<tr><td class="title">sponsored row without a link</td></tr>
</tbody>
</table>
</body></html>`

const gamePageHTML = `<!DOCTYPE html>
<html><head>
<script>
VGPC.product_id = 6910;
VGPC.chart_data = {"used":[[1262304000000,9500],[1577836800000,21050]],"cib":[[1262304000000,30000],[1577836800000,65099]],"new":[[1577836800000,150000]],"graded":[],"boxonly":[[1577836800000,12000]],"manualonly":[[1577836800000,6500]]};
VGPC.currency = {"symbol":"$"};
</script>
</head><body>
<h1 class="chart_title">
  EarthBound Prices
  <a href="/console/super-nintendo">Super Nintendo</a>
</h1>
</body></html>`

const gamePageFallbackHTML = `<!DOCTYPE html>
<html><body>
<h1 class="chart_title">
  EarthBound Prices
  <a href="/console/super-nintendo">Super Nintendo</a>
</h1>
<table id="price_data">
<tr>
  <td id="used-price" class="price js-price" data-price="209.99">$209.99</td>
  <td id="complete-price" class="price js-price">$650.00</td>
</tr>
</table>
</body></html>`

func searchServer(t *testing.T, page string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search-products" {
			http.NotFound(w, r)
			return
		}
		if q := r.URL.Query().Get("q"); q == "" {
			t.Error("search request carries no query")
		}
		w.Write([]byte(page))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchParsesGameRows(t *testing.T) {
	srv := searchServer(t, searchPageHTML)
	pc := NewPriceCharting(srv.URL, zerolog.Nop())

	results, err := pc.Search(context.Background(), "earthbound", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	first := results[0]
	if first.Name != "EarthBound" {
		t.Errorf("got name %q, want EarthBound", first.Name)
	}
	if first.PCConsole != "super-nintendo" || first.Slug != "earthbound" {
		t.Errorf("got %s/%s, want super-nintendo/earthbound", first.PCConsole, first.Slug)
	}
	if first.ConsoleName != "Super Nintendo" {
		t.Errorf("got console name %q, want Super Nintendo", first.ConsoleName)
	}
	if first.LooseCents == nil || *first.LooseCents != 21050 {
		t.Errorf("got loose %v, want 21050", first.LooseCents)
	}
	if first.CIBCents == nil || *first.CIBCents != 65099 {
		t.Errorf("got cib %v, want 65099", first.CIBCents)
	}

	second := results[1]
	if second.LooseCents != nil {
		t.Errorf("dash price cell should yield no price, got %d", *second.LooseCents)
	}
	if second.ConsoleName != "Nintendo 64" {
		t.Errorf("empty console cell should fall back to the slug, got %q", second.ConsoleName)
	}
}

func TestSearchConsoleFilter(t *testing.T) {
	srv := searchServer(t, searchPageHTML)
	pc := NewPriceCharting(srv.URL, zerolog.Nop())

	results, err := pc.Search(context.Background(), "earthbound", "super-nintendo")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Slug != "earthbound" {
		t.Errorf("got slug %q, want earthbound", results[0].Slug)
	}
}

func TestSearchWithoutResultsTable(t *testing.T) {
	srv := searchServer(t, "<html><body><p>No results for that search.</p></body></html>")
	pc := NewPriceCharting(srv.URL, zerolog.Nop())

	results, err := pc.Search(context.Background(), "zzzz", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want none", len(results))
	}
}

func TestGamePricesFromChartData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/game/super-nintendo/earthbound" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(gamePageHTML))
	}))
	defer srv.Close()
	pc := NewPriceCharting(srv.URL, zerolog.Nop())

	prices, err := pc.GamePrices(context.Background(), "super-nintendo", "earthbound")
	if err != nil {
		t.Fatal(err)
	}
	if prices.Title != "EarthBound" {
		t.Errorf("got title %q, want EarthBound", prices.Title)
	}
	want := map[string]int{
		"loose":       21050,
		"cib":         65099,
		"new":         150000,
		"box_only":    12000,
		"manual_only": 6500,
	}
	for label, cents := range want {
		if prices.Prices[label] != cents {
			t.Errorf("got %s = %d, want %d", label, prices.Prices[label], cents)
		}
	}
	if _, ok := prices.Prices["graded"]; ok {
		t.Error("empty chart series should yield no price")
	}
}

func TestGamePricesFallbackTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(gamePageFallbackHTML))
	}))
	defer srv.Close()
	pc := NewPriceCharting(srv.URL, zerolog.Nop())

	prices, err := pc.GamePrices(context.Background(), "super-nintendo", "earthbound")
	if err != nil {
		t.Fatal(err)
	}
	if prices.Prices["loose"] != 20999 {
		t.Errorf("got loose %d, want 20999 from data-price attribute", prices.Prices["loose"])
	}
	if prices.Prices["cib"] != 65000 {
		t.Errorf("got cib %d, want 65000 from cell text", prices.Prices["cib"])
	}
	if _, ok := prices.Prices["new"]; ok {
		t.Error("missing cell should yield no price")
	}
	if prices.Title != "EarthBound" {
		t.Errorf("got title %q, want EarthBound", prices.Title)
	}
}

func TestGamePricesOriginDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	pc := NewPriceCharting(srv.URL, zerolog.Nop())

	prices, err := pc.GamePrices(context.Background(), "super-nintendo", "secret-of-evermore")
	if err == nil {
		t.Fatal("expected an error")
	}
	if prices.Title != "Secret Of Evermore" {
		t.Errorf("got title %q, want slug-derived fallback", prices.Title)
	}
	if prices.URL == "" {
		t.Error("the game URL should be set even when the fetch fails")
	}
	if len(prices.Prices) != 0 {
		t.Errorf("got %d prices, want none", len(prices.Prices))
	}
}
