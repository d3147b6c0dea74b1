package cache

import (
	"encoding/binary"
	"errors"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog"
)

// Key layout: a marker key per generation so that empty generations
// still enumerate, and one prefixed key per snapshot. Labels and keys
// never contain NUL bytes.
func markerKey(label string) []byte {
	return []byte("g\x00" + label)
}

func snapshotKey(label, key string) []byte {
	return []byte("s\x00" + label + "\x00" + key)
}

func snapshotPrefix(label string) []byte {
	return []byte("s\x00" + label + "\x00")
}

// BadgerStore is a Store backed by a Badger key-value database.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens a Badger-backed store in the given directory.
// If the directory is empty, the database lives in memory only.
func NewBadgerStore(dir string, logger *zerolog.Logger) (*BadgerStore, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = badgerLogger{log: *logger}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Open(label string) (Generation, error) {
	if label == "" {
		return nil, ErrEmptyLabel
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(markerKey(label), nil)
	})
	if err != nil {
		return nil, err
	}
	return &badgerGeneration{store: s, label: label}, nil
}

func (s *BadgerStore) Labels() ([]string, error) {
	prefix := markerKey("")
	labels := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			labels = append(labels, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

func (s *BadgerStore) Delete(label string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = snapshotPrefix(label)
		it := txn.NewIterator(opts)
		keys := [][]byte{}
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return txn.Delete(markerKey(label))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

type badgerGeneration struct {
	store *BadgerStore
	label string
}

func (g *badgerGeneration) Label() string {
	return g.label
}

func (g *badgerGeneration) Get(key string) (Snapshot, bool, error) {
	var snap Snapshot
	err := g.store.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(g.label, key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(val) < 8 {
			return errors.New("cache: snapshot value too short")
		}
		snap = Snapshot{
			Key:      key,
			Bytes:    val[8:],
			StoredAt: time.Unix(int64(binary.BigEndian.Uint64(val)), 0),
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, true, nil
}

func (g *badgerGeneration) AddAll(snapshots []Snapshot) error {
	return g.store.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(markerKey(g.label), nil); err != nil {
			return err
		}
		for _, snap := range snapshots {
			val := make([]byte, 8+len(snap.Bytes))
			binary.BigEndian.PutUint64(val, uint64(snap.StoredAt.Unix()))
			copy(val[8:], snap.Bytes)
			if err := txn.Set(snapshotKey(g.label, snap.Key), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (g *badgerGeneration) Keys() ([]string, error) {
	prefix := snapshotPrefix(g.label)
	keys := []string{}
	err := g.store.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().KeyCopy(nil)
			keys = append(keys, string(key[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// badgerLogger forwards badger's internal logging to zerolog.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug().Msgf(strings.TrimSpace(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Trace().Msgf(strings.TrimSpace(format), args...)
}
