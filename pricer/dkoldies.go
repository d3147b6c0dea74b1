package pricer

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DK Oldies exposes its catalog search through SearchSpring under this
// site id.
const searchSpringSiteID = "6pjfbh"

// The buy list page changes rarely, so a scrape stays good for an hour.
const buylistTTL = time.Hour

// Snapshot of the buy list, served when the live page blocks scraping.
//
//go:embed static/dko_buylist.json
var bundledBuylistJSON []byte

type buylistEntry struct {
	Name  string `json:"name"`
	Cents int    `json:"cents"`
}

// Retail is a DK Oldies store listing for a game.
type Retail struct {
	Name       string
	PriceCents int
	URL        string
}

// BuyQuote is what DK Oldies pays for a game on their buy list.
type BuyQuote struct {
	Name     string
	BuyCents int
}

// DKOldies looks up retail prices through the store's search API and
// trade-in prices from its buy list page.
type DKOldies struct {
	searchURL     string
	storeURL      string
	searchClient  *http.Client
	buylistClient *http.Client
	log           zerolog.Logger

	mu        sync.Mutex
	buylist   map[string]buylistEntry
	fetchedAt time.Time
}

// NewDKOldies creates a DKOldies client. Empty URLs select the live
// endpoints.
func NewDKOldies(searchURL, storeURL string, logger zerolog.Logger) *DKOldies {
	if searchURL == "" {
		searchURL = fmt.Sprintf("https://%s.a.searchspring.io", searchSpringSiteID)
	}
	if storeURL == "" {
		storeURL = "https://www.dkoldies.com"
	}
	return &DKOldies{
		searchURL:     searchURL,
		storeURL:      storeURL,
		searchClient:  &http.Client{Timeout: 8 * time.Second},
		buylistClient: &http.Client{Timeout: 20 * time.Second},
		log:           logger,
	}
}

// RetailPrice searches the store for a game and returns the top
// listing, or nil if nothing with a price matches.
func (d *DKOldies) RetailPrice(ctx context.Context, gameName, consoleName string) (*Retail, error) {
	query := strings.TrimSpace(gameName + " " + consoleName)
	reqURL := fmt.Sprintf("%s/api/search/search.json?siteId=%s&q=%s&resultsFormat=json&resultsPerPage=5",
		d.searchURL, searchSpringSiteID, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	res, err := d.searchClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dkoldies: search status %d", res.StatusCode)
	}
	var payload struct {
		Results []map[string]any `json:"results"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("dkoldies: decode search response: %w", err)
	}
	if len(payload.Results) == 0 {
		return nil, nil
	}
	first := payload.Results[0]
	// SearchSpring results are inconsistent about which price field is
	// set, and zero values mean unset.
	var cents *int
	for _, key := range []string{"price", "ss_sale_price", "msrp", "ss_price"} {
		if cents = rawPriceCents(first[key]); cents != nil {
			break
		}
	}
	if cents == nil {
		return nil, nil
	}
	return &Retail{
		Name:       stringField(first, "name"),
		PriceCents: *cents,
		URL:        stringField(first, "url"),
	}, nil
}

// BuyPrice fuzzy-matches a game against the DK Oldies buy list and
// returns the closest entry, or nil when no entry is close enough.
func (d *DKOldies) BuyPrice(ctx context.Context, gameName string) *BuyQuote {
	needle := normalizeGameName(gameName)
	if needle == "" {
		return nil
	}
	needleWords := fieldsSet(needle)
	var (
		bestScore float64
		bestEntry buylistEntry
		found     bool
	)
	for key, entry := range d.currentBuylist(ctx) {
		words := fieldsSet(key)
		overlap := 0
		for w := range needleWords {
			if words[w] {
				overlap++
			}
		}
		denom := len(needleWords)
		if len(words) > denom {
			denom = len(words)
		}
		if denom == 0 {
			continue
		}
		score := float64(overlap) / float64(denom)
		if score > bestScore {
			bestScore = score
			bestEntry = entry
			found = true
		}
	}
	if !found || bestScore < 0.5 {
		return nil
	}
	return &BuyQuote{Name: bestEntry.Name, BuyCents: bestEntry.Cents}
}

func (d *DKOldies) currentBuylist(ctx context.Context) map[string]buylistEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.buylist) > 0 && time.Since(d.fetchedAt) < buylistTTL {
		return d.buylist
	}
	entries, err := d.scrapeBuylist(ctx)
	if err != nil {
		d.log.Warn().Err(err).Msg("Falling back to bundled buy list")
	}
	if len(entries) == 0 {
		entries = bundledBuylistEntries()
	}
	d.buylist = entries
	d.fetchedAt = time.Now()
	return d.buylist
}

func (d *DKOldies) scrapeBuylist(ctx context.Context) (map[string]buylistEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.storeURL+"/sell-video-games/", nil)
	if err != nil {
		return nil, err
	}
	browserHeaders(req)
	res, err := d.buylistClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dkoldies: buy list status %d", res.StatusCode)
	}
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	if strings.Contains(strings.ToLower(string(body)), "just a moment") {
		return nil, errors.New("dkoldies: buy list blocked by bot protection")
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	entries := map[string]buylistEntry{}
	for _, row := range findAll(doc, func(n *html.Node) bool { return hasClass(n, "pd_row") }) {
		label := findNode(row, func(n *html.Node) bool { return hasClass(n, "pd_label") })
		if label == nil {
			label = findNode(row, func(n *html.Node) bool { return n.Data == "label" })
		}
		price := findNode(row, func(n *html.Node) bool { return hasClass(n, "pd_price") })
		if label == nil || price == nil {
			continue
		}
		name := strings.Join(strings.Fields(nodeText(label)), " ")
		// Price cells carry ▲▼ movement markers next to the amount.
		cents := parsePriceCents(stripArrows(nodeText(price)))
		if name == "" || cents == nil || *cents <= 0 {
			continue
		}
		entries[normalizeGameName(name)] = buylistEntry{Name: name, Cents: *cents}
	}
	return entries, nil
}

func bundledBuylistEntries() map[string]buylistEntry {
	var raw []buylistEntry
	if err := json.Unmarshal(bundledBuylistJSON, &raw); err != nil {
		return map[string]buylistEntry{}
	}
	entries := make(map[string]buylistEntry, len(raw))
	for _, entry := range raw {
		entries[normalizeGameName(entry.Name)] = entry
	}
	return entries
}

// Buy list names carry console tokens and articles that game titles
// often lack, so both sides drop them before matching.
var fillerWords = map[string]bool{
	"the": true, "a": true, "an": true, "for": true, "in": true,
	"of": true, "and": true, "with": true, "w": true,
	"wii": true, "nes": true, "n64": true, "snes": true, "gba": true,
	"gbc": true, "nds": true, "psp": true, "ps1": true, "ps2": true,
	"ps3": true, "xbox": true, "gamecube": true, "genesis": true,
	"saturn": true, "dreamcast": true,
}

func normalizeGameName(name string) string {
	fold := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	words := []string{}
	for _, w := range strings.Fields(b.String()) {
		if fillerWords[w] {
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

func fieldsSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(s) {
		set[w] = true
	}
	return set
}

func stripArrows(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '▲' || r == '▼' {
			return -1
		}
		return r
	}, s)
}

func rawPriceCents(v any) *int {
	switch t := v.(type) {
	case float64:
		if t == 0 {
			return nil
		}
		cents := int(math.Round(t * 100))
		return &cents
	case string:
		return parsePriceCents(t)
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
