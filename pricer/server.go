// Package pricer implements the retro game price checker origin: a
// mobile-first web app that searches PriceCharting, compares DK Oldies
// retail and trade-in prices, rates pawn shop offers, and identifies
// games from photos.
package pricer

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
)

//go:embed templates static
var content embed.FS

// Scan photos come from phone cameras, so allow generous uploads.
const maxUploadBytes = 16 << 20

// Config for the pricer server. The URL fields override the live
// scraping endpoints and exist for tests.
type Config struct {
	DB           *DB
	AnthropicKey string
	Logger       *zerolog.Logger

	PriceChartingURL string
	DKOSearchURL     string
	DKOStoreURL      string
	AnthropicURL     string
}

// Server is the origin behind the offline cache agent.
type Server struct {
	db      *DB
	pc      *PriceCharting
	dko     *DKOldies
	scanner *Scanner
	log     zerolog.Logger
	tmpl    *template.Template
	router  chi.Router
}

// NewServer creates the pricer server with its scraping clients.
func NewServer(config Config) *Server {
	logger := config.Logger
	if logger == nil {
		logger = &log.Logger
	}
	tmpl := template.Must(template.New("").Funcs(template.FuncMap{
		"dollars": func(cents int) string {
			return fmt.Sprintf("$%.2f", float64(cents)/100)
		},
	}).ParseFS(content, "templates/index.html"))
	s := &Server{
		db:      config.DB,
		pc:      NewPriceCharting(config.PriceChartingURL, logger.With().Str("component", "pricecharting").Logger()),
		dko:     NewDKOldies(config.DKOSearchURL, config.DKOStoreURL, logger.With().Str("component", "dkoldies").Logger()),
		scanner: NewScanner(config.AnthropicKey, config.AnthropicURL, logger.With().Str("component", "scan").Logger()),
		log:     *logger,
		tmpl:    tmpl,
	}
	s.routes()
	return s
}

// Handler returns the origin's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(s.log))
	r.Use(hlog.MethodHandler("method"), hlog.URLHandler("url"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Debug().
			Int("status", status).
			Dur("duration", duration).
			Msg("Request served")
	}))

	r.Get("/", s.handleIndex)
	r.Get("/static/manifest.json", s.handleManifest)
	staticDir, _ := fs.Sub(content, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticDir))))
	r.Get("/search", s.handleSearch)
	r.Get("/prices", s.handlePrices)
	r.Get("/deal", s.handleDeal)
	r.Post("/scan", func(w http.ResponseWriter, r *http.Request) {
		s.serveScan(w, r, false)
	})
	r.Post("/scan/followup", func(w http.ResponseWriter, r *http.Request) {
		s.serveScan(w, r, true)
	})
	s.router = r
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	history, err := s.db.RecentLookups(8)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not load lookup history")
	}
	data := struct {
		Consoles []Console
		History  []Lookup
	}{Consoles: Consoles, History: history}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.ExecuteTemplate(w, "index.html", data); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("Could not render index")
	}
}

// The manifest gets its own handler so it is served with the manifest
// media type rather than plain JSON.
func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := content.ReadFile("static/manifest.json")
	if err != nil {
		http.Error(w, "manifest missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/manifest+json")
	w.Write(manifest)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	consoleKey := strings.TrimSpace(r.URL.Query().Get("console"))
	if query == "" {
		respondJSON(w, http.StatusOK, []SearchResult{})
		return
	}
	logger := hlog.FromRequest(r)
	if err := s.db.LogSearch(query, consoleKey); err != nil {
		logger.Warn().Err(err).Msg("Could not log search")
	}
	filter := ""
	if console, ok := consoleByKey(consoleKey); ok {
		filter = console.PC
	}
	results, err := s.pc.Search(r.Context(), query, filter)
	if err != nil {
		logger.Warn().Err(err).Str("query", query).Msg("Search failed")
		results = []SearchResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pcConsole := strings.TrimSpace(q.Get("pc_console"))
	slug := strings.TrimSpace(q.Get("slug"))
	gameName := strings.TrimSpace(q.Get("name"))
	consoleKey := strings.TrimSpace(q.Get("console_key"))
	if pcConsole == "" || slug == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing params"})
		return
	}
	logger := hlog.FromRequest(r)

	cached, err := s.db.Cached(pcConsole, slug)
	if err != nil {
		logger.Error().Err(err).Msg("Could not read price cache")
	}
	if cached != nil {
		respondJSON(w, http.StatusOK, cached)
		return
	}

	prices, err := s.pc.GamePrices(r.Context(), pcConsole, slug)
	if err != nil {
		logger.Warn().Err(err).Str("slug", slug).Msg("Price lookup failed")
	}
	title := prices.Title
	if title == "" {
		title = gameName
	}
	lookupName := gameName
	if lookupName == "" {
		lookupName = title
	}
	consoleDisplay := ""
	if console, ok := consoleByKey(consoleKey); ok {
		consoleDisplay = console.Name
	}

	result := &PriceResult{
		PCConsole: pcConsole,
		Slug:      slug,
		Title:     title,
		PCURL:     prices.URL,
		Prices:    prices.Prices,
	}
	if retail, err := s.dko.RetailPrice(r.Context(), lookupName, consoleDisplay); err != nil {
		logger.Warn().Err(err).Msg("Retail lookup failed")
	} else if retail != nil {
		result.DKURL = retail.URL
		result.DKPrice = &retail.PriceCents
	}
	if quote := s.dko.BuyPrice(r.Context(), lookupName); quote != nil {
		result.DKBuyPrice = &quote.BuyCents
		result.DKBuyName = &quote.Name
	}

	if err := s.db.Save(result); err != nil {
		logger.Warn().Err(err).Msg("Could not cache prices")
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleDeal(w http.ResponseWriter, r *http.Request) {
	pawn := queryInt(r, "pawn")
	if pawn == 0 {
		respondJSON(w, http.StatusOK, map[string]*Rating{})
		return
	}
	out := map[string]*Rating{}
	for _, market := range []struct {
		label string
		cents int
	}{
		{"loose", queryInt(r, "loose")},
		{"cib", queryInt(r, "cib")},
		{"new", queryInt(r, "new")},
	} {
		if rating := Rate(pawn, market.cents); rating != nil {
			out[market.label] = rating
		}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) serveScan(w http.ResponseWriter, r *http.Request, followup bool) {
	logger := hlog.FromRequest(r)
	if !s.scanner.Configured() {
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Anthropic API key not configured"})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "No image provided"})
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "No image provided"})
		return
	}
	defer file.Close()
	image, err := io.ReadAll(file)
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "No image provided"})
		return
	}
	if len(image) == 0 && !followup {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Empty image"})
		return
	}
	mime := header.Header.Get("Content-Type")

	var result map[string]any
	if followup {
		var prev ScanContext
		if raw := r.FormValue("context"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &prev); err != nil {
				logger.Debug().Err(err).Msg("Malformed scan context")
				prev = ScanContext{}
			}
		}
		result, err = s.scanner.Followup(r.Context(), image, mime, prev)
	} else {
		result, err = s.scanner.Identify(r.Context(), image, mime)
	}
	var modelErr *ModelOutputError
	if errors.As(err, &modelErr) {
		respondJSON(w, http.StatusBadGateway, map[string]string{
			"error": "Unexpected response from Claude",
			"raw":   modelErr.Raw,
		})
		return
	}
	if err != nil {
		respondJSON(w, http.StatusBadGateway, map[string]string{"error": "Claude API error: " + err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Could not write JSON response")
	}
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
