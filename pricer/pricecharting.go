package pricer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
)

// PriceCharting publishes its price history as a javascript blob on
// each game page.
var chartDataRe = regexp.MustCompile(`(?s)VGPC\.chart_data\s*=\s*(\{.*?\});`)

// SearchResult is one row of a PriceCharting game search.
type SearchResult struct {
	Name        string `json:"name"`
	ConsoleName string `json:"console_name"`
	PCConsole   string `json:"pc_console"`
	Slug        string `json:"slug"`
	LooseCents  *int   `json:"loose_cents"`
	CIBCents    *int   `json:"cib_cents"`
}

// GamePrices is the market price breakdown scraped from one
// PriceCharting game page. Prices maps condition labels such as
// "loose" and "cib" to cents.
type GamePrices struct {
	Title  string         `json:"title"`
	URL    string         `json:"url"`
	Prices map[string]int `json:"prices"`
}

// PriceCharting scrapes market prices from pricecharting.com.
type PriceCharting struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewPriceCharting creates a PriceCharting client. An empty baseURL
// selects the live site.
func NewPriceCharting(baseURL string, logger zerolog.Logger) *PriceCharting {
	if baseURL == "" {
		baseURL = "https://www.pricecharting.com"
	}
	return &PriceCharting{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 12 * time.Second},
		log:     logger,
	}
}

// Search runs a game search and returns up to 15 results. A non-empty
// pcConsoleFilter keeps only games for that PriceCharting console slug.
func (pc *PriceCharting) Search(ctx context.Context, query, pcConsoleFilter string) ([]SearchResult, error) {
	searchURL := fmt.Sprintf("%s/search-products?q=%s&type=videogames",
		pc.baseURL, url.QueryEscape(query))
	doc, err := pc.getHTML(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	table := findNode(doc, func(n *html.Node) bool {
		return n.Data == "table" && attr(n, "id") == "games_table"
	})
	if table == nil {
		table = findNode(doc, func(n *html.Node) bool {
			return n.Data == "table" && hasClass(n, "games")
		})
	}
	if table == nil {
		pc.log.Warn().Str("query", query).Msg("No results table in search page")
		return []SearchResult{}, nil
	}
	scope := findNode(table, func(n *html.Node) bool { return n.Data == "tbody" })
	if scope == nil {
		scope = table
	}

	results := []SearchResult{}
	for _, row := range findAll(scope, func(n *html.Node) bool { return n.Data == "tr" }) {
		link := findNode(row, func(n *html.Node) bool {
			return n.Data == "a" && strings.Contains(attr(n, "href"), "/game/")
		})
		if link == nil {
			continue
		}
		href := attr(link, "href")
		parts := strings.SplitN(href[strings.Index(href, "/game/")+len("/game/"):], "/", 2)
		if len(parts) != 2 {
			continue
		}
		pcConsole, slug := parts[0], parts[1]
		if pcConsoleFilter != "" && pcConsole != pcConsoleFilter {
			continue
		}
		result := SearchResult{
			Name:      strings.TrimSpace(nodeText(link)),
			PCConsole: pcConsole,
			Slug:      slug,
		}
		if console := findNode(row, func(n *html.Node) bool {
			return n.Data == "td" && hasClass(n, "console")
		}); console != nil {
			result.ConsoleName = strings.TrimSpace(nodeText(console))
		}
		if result.ConsoleName == "" {
			result.ConsoleName = titleCase(strings.ReplaceAll(pcConsole, "-", " "))
		}
		prices := findAll(row, func(n *html.Node) bool {
			return n.Data == "td" && hasClass(n, "price")
		})
		if len(prices) > 0 {
			result.LooseCents = parsePriceCents(nodeText(prices[0]))
		}
		if len(prices) > 1 {
			result.CIBCents = parsePriceCents(nodeText(prices[1]))
		}
		results = append(results, result)
		if len(results) == 15 {
			break
		}
	}
	return results, nil
}

// GamePrices fetches the price breakdown for one game page.
func (pc *PriceCharting) GamePrices(ctx context.Context, pcConsole, slug string) (*GamePrices, error) {
	prices := &GamePrices{
		Title:  titleCase(strings.ReplaceAll(slug, "-", " ")),
		URL:    fmt.Sprintf("%s/game/%s/%s", pc.baseURL, pcConsole, slug),
		Prices: map[string]int{},
	}
	body, err := pc.get(ctx, prices.URL)
	if err != nil {
		return prices, err
	}

	if m := chartDataRe.FindSubmatch(body); m != nil {
		// Chart values are already cents.
		var chart map[string][][]float64
		if err := json.Unmarshal(m[1], &chart); err == nil {
			labels := map[string]string{
				"used":       "loose",
				"cib":        "cib",
				"new":        "new",
				"graded":     "graded",
				"boxonly":    "box_only",
				"manualonly": "manual_only",
			}
			for series, label := range labels {
				points := chart[series]
				if len(points) == 0 {
					continue
				}
				last := points[len(points)-1]
				if len(last) > 1 && last[1] > 0 {
					prices.Prices[label] = int(last[1])
				}
			}
		} else {
			pc.log.Warn().Err(err).Str("slug", slug).Msg("Could not decode chart data")
		}
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return prices, nil
	}
	if len(prices.Prices) == 0 {
		// Older page layouts carry the prices in the summary table
		// instead of the chart blob.
		fallbacks := map[string]string{
			"used-price":     "loose",
			"complete-price": "cib",
			"new-price":      "new",
		}
		for id, label := range fallbacks {
			cell := findNode(doc, func(n *html.Node) bool { return attr(n, "id") == id })
			if cell == nil {
				continue
			}
			text := attr(cell, "data-price")
			if text == "" {
				text = nodeText(cell)
			}
			if cents := parsePriceCents(text); cents != nil {
				prices.Prices[label] = *cents
			}
		}
	}
	if h1 := findNode(doc, func(n *html.Node) bool { return n.Data == "h1" }); h1 != nil {
		// The first text node is the title; console names nest in
		// child elements after it.
		title := firstText(h1)
		if title == "" {
			title = strings.Join(strings.Fields(nodeText(h1)), " ")
		}
		if title != "" {
			prices.Title = strings.TrimSuffix(title, " Prices")
		}
	}
	return prices, nil
}

func (pc *PriceCharting) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	browserHeaders(req)
	res, err := pc.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pricecharting: unexpected status %d for %s", res.StatusCode, rawURL)
	}
	return io.ReadAll(res.Body)
}

func (pc *PriceCharting) getHTML(ctx context.Context, rawURL string) (*html.Node, error) {
	body, err := pc.get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return html.Parse(strings.NewReader(string(body)))
}
