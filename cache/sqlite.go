package cache

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is a Store backed by an SQLite database file.
type SQLiteStore struct {
	db *sql.DB
	// Mutex for writing, since sqlite does not support parallel writes
	writeMutex *sync.Mutex
}

// NewSQLiteStore creates a new SQLite-backed store with the given filename.
// If the filename is empty, an in-memory database is used. Panics if the
// database cannot be opened or initialized.
func NewSQLiteStore(filename string) *SQLiteStore {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		panic(err)
	}
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS generation (label TEXT PRIMARY KEY, created INTEGER NOT NULL)",
		"CREATE TABLE IF NOT EXISTS snapshot (label TEXT NOT NULL, key TEXT NOT NULL, stored INTEGER NOT NULL, bytes BLOB, PRIMARY KEY (label, key))",
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			panic(err)
		}
	}
	return &SQLiteStore{
		db:         db,
		writeMutex: &sync.Mutex{},
	}
}

func (s *SQLiteStore) Open(label string) (Generation, error) {
	if label == "" {
		return nil, ErrEmptyLabel
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO generation (label, created) VALUES (?, ?)",
		label, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return &sqliteGeneration{store: s, label: label}, nil
}

func (s *SQLiteStore) Labels() ([]string, error) {
	rows, err := s.db.Query("SELECT label FROM generation ORDER BY label")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, err
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

func (s *SQLiteStore) Delete(label string) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM snapshot WHERE label = ?", label); err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM generation WHERE label = ?", label); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteGeneration struct {
	store *SQLiteStore
	label string
}

func (g *sqliteGeneration) Label() string {
	return g.label
}

func (g *sqliteGeneration) Get(key string) (Snapshot, bool, error) {
	row := g.store.db.QueryRow(
		"SELECT stored, bytes FROM snapshot WHERE label = ? AND key = ?",
		g.label, key)
	var stored int64
	var bts []byte
	if err := row.Scan(&stored, &bts); err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	} else if err != nil {
		return Snapshot{}, false, err
	}
	return Snapshot{Key: key, Bytes: bts, StoredAt: time.Unix(stored, 0)}, true, nil
}

func (g *sqliteGeneration) AddAll(snapshots []Snapshot) error {
	g.store.writeMutex.Lock()
	defer g.store.writeMutex.Unlock()
	tx, err := g.store.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, snap := range snapshots {
		_, err := tx.Exec(
			"INSERT OR REPLACE INTO snapshot (label, key, stored, bytes) VALUES (?, ?, ?, ?)",
			g.label, snap.Key, snap.StoredAt.Unix(), snap.Bytes)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (g *sqliteGeneration) Keys() ([]string, error) {
	rows, err := g.store.db.Query("SELECT key FROM snapshot WHERE label = ? ORDER BY key", g.label)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
