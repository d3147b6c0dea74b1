package pricer

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// PriceResult is the full price breakdown for one game, served by the
// prices endpoint and persisted in the lookup cache.
type PriceResult struct {
	PCConsole  string         `json:"pc_console"`
	Slug       string         `json:"slug"`
	Title      string         `json:"title"`
	PCURL      string         `json:"pc_url"`
	DKURL      string         `json:"dk_url"`
	Prices     map[string]int `json:"prices"`
	DKPrice    *int           `json:"dk_price"`
	DKBuyPrice *int           `json:"dk_buy_price"`
	DKBuyName  *string        `json:"dk_buy_name"`
}

// Lookup is one history entry for the index page.
type Lookup struct {
	GameTitle  string
	PCConsole  string
	Slug       string
	LoosePrice int
	CIBPrice   int
	UpdatedAt  time.Time
}

// DB is the pricer's SQLite database: a price lookup cache plus a
// search log.
type DB struct {
	db *sql.DB
	// Mutex for writing, since sqlite does not support parallel writes
	writeMutex *sync.Mutex
	ttl        time.Duration
}

// OpenDB opens the pricer database, creating the schema if needed.
// Cached prices count as fresh for ttl; with a zero ttl every lookup
// fetches live prices. Panics if the database cannot be opened or
// initialized.
func OpenDB(filename string, ttl time.Duration) *DB {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_cache (
			id           INTEGER PRIMARY KEY,
			pc_console   TEXT NOT NULL,
			slug         TEXT NOT NULL,
			game_title   TEXT,
			loose_price  INTEGER,
			cib_price    INTEGER,
			new_price    INTEGER,
			graded_price INTEGER,
			dk_price     INTEGER,
			dk_buy_price INTEGER,
			dk_buy_name  TEXT,
			pc_url       TEXT,
			dk_url       TEXT,
			updated_at   INTEGER NOT NULL,
			UNIQUE(pc_console, slug)
		)`,
		`CREATE TABLE IF NOT EXISTS search_log (
			id          INTEGER PRIMARY KEY,
			query       TEXT,
			console_key TEXT,
			searched_at INTEGER NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_cache_updated ON price_cache(updated_at)",
		"CREATE INDEX IF NOT EXISTS idx_log_time ON search_log(searched_at)",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			panic(err)
		}
	}
	return &DB{
		db:         db,
		writeMutex: &sync.Mutex{},
		ttl:        ttl,
	}
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Cached returns the stored result for a game if it is still fresh,
// or nil on a cache miss.
func (d *DB) Cached(pcConsole, slug string) (*PriceResult, error) {
	row := d.db.QueryRow(
		`SELECT game_title, loose_price, cib_price, new_price, graded_price,
			dk_price, dk_buy_price, dk_buy_name, pc_url, dk_url
		FROM price_cache WHERE pc_console = ? AND slug = ? AND updated_at > ?`,
		pcConsole, slug, time.Now().Add(-d.ttl).Unix())
	var title, dkBuyName, pcURL, dkURL sql.NullString
	var loose, cib, brandNew, graded, dkPrice, dkBuy sql.NullInt64
	err := row.Scan(&title, &loose, &cib, &brandNew, &graded, &dkPrice, &dkBuy, &dkBuyName, &pcURL, &dkURL)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	result := &PriceResult{
		PCConsole: pcConsole,
		Slug:      slug,
		Title:     title.String,
		PCURL:     pcURL.String,
		DKURL:     dkURL.String,
		Prices:    map[string]int{},
	}
	setPrice := func(label string, v sql.NullInt64) {
		if v.Valid {
			result.Prices[label] = int(v.Int64)
		}
	}
	setPrice("loose", loose)
	setPrice("cib", cib)
	setPrice("new", brandNew)
	setPrice("graded", graded)
	if dkPrice.Valid {
		n := int(dkPrice.Int64)
		result.DKPrice = &n
	}
	if dkBuy.Valid {
		n := int(dkBuy.Int64)
		result.DKBuyPrice = &n
	}
	if dkBuyName.Valid {
		s := dkBuyName.String
		result.DKBuyName = &s
	}
	return result, nil
}

// Save upserts a lookup result into the price cache.
func (d *DB) Save(result *PriceResult) error {
	d.writeMutex.Lock()
	defer d.writeMutex.Unlock()
	_, err := d.db.Exec(
		`INSERT INTO price_cache
			(pc_console, slug, game_title, loose_price, cib_price, new_price,
			 graded_price, dk_price, dk_buy_price, dk_buy_name, pc_url, dk_url, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(pc_console, slug) DO UPDATE SET
			game_title=excluded.game_title,
			loose_price=excluded.loose_price,
			cib_price=excluded.cib_price,
			new_price=excluded.new_price,
			graded_price=excluded.graded_price,
			dk_price=excluded.dk_price,
			dk_buy_price=excluded.dk_buy_price,
			dk_buy_name=excluded.dk_buy_name,
			pc_url=excluded.pc_url,
			dk_url=excluded.dk_url,
			updated_at=excluded.updated_at`,
		result.PCConsole, result.Slug, result.Title,
		priceColumn(result.Prices, "loose"), priceColumn(result.Prices, "cib"),
		priceColumn(result.Prices, "new"), priceColumn(result.Prices, "graded"),
		nullableInt(result.DKPrice), nullableInt(result.DKBuyPrice), nullableString(result.DKBuyName),
		result.PCURL, result.DKURL, time.Now().Unix())
	return err
}

// LogSearch records one search query.
func (d *DB) LogSearch(query, consoleKey string) error {
	d.writeMutex.Lock()
	defer d.writeMutex.Unlock()
	_, err := d.db.Exec(
		"INSERT INTO search_log (query, console_key, searched_at) VALUES (?,?,?)",
		query, consoleKey, time.Now().Unix())
	return err
}

// RecentLookups returns the most recently refreshed cache entries.
func (d *DB) RecentLookups(limit int) ([]Lookup, error) {
	rows, err := d.db.Query(
		`SELECT game_title, pc_console, slug, loose_price, cib_price, updated_at
		FROM price_cache ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lookups := []Lookup{}
	for rows.Next() {
		var (
			title      sql.NullString
			loose, cib sql.NullInt64
			updated    int64
			lookup     Lookup
		)
		if err := rows.Scan(&title, &lookup.PCConsole, &lookup.Slug, &loose, &cib, &updated); err != nil {
			return nil, err
		}
		lookup.GameTitle = title.String
		lookup.LoosePrice = int(loose.Int64)
		lookup.CIBPrice = int(cib.Int64)
		lookup.UpdatedAt = time.Unix(updated, 0)
		lookups = append(lookups, lookup)
	}
	return lookups, rows.Err()
}

func priceColumn(prices map[string]int, label string) any {
	if v, ok := prices[label]; ok {
		return v
	}
	return nil
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableString(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
