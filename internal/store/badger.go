package store

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is a writable Store backed by an embedded Badger database.
// File paths are used as keys.
type BadgerStore struct {
	db *badger.DB
}

var _ Source = (*BadgerStore)(nil)
var _ Store = (*BadgerStore)(nil)

// badgerLogger forwards Badger's warnings and errors to the standard logger.
type badgerLogger struct{}

var _ badger.Logger = badgerLogger{}

func (badgerLogger) Errorf(msg string, args ...any)   { log.Printf("badger: ERROR: "+msg, args...) }
func (badgerLogger) Warningf(msg string, args ...any) { log.Printf("badger: WARNING: "+msg, args...) }
func (badgerLogger) Infof(string, ...any)             {}
func (badgerLogger) Debugf(string, ...any)            {}

// OpenBadgerStore opens (or creates) a database in dir.
// If dir is empty, the database is kept in memory only.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = badgerLogger{}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store %q: %w", dir, err)
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) Refresh() error {
	return nil
}

func (b *BadgerStore) Store(ref string) (Store, error) {
	if ref != "" {
		return nil, fmt.Errorf("invalid ref %q: %w", ref, ErrNoSuchRef)
	}
	return b, nil
}

func badgerKey(p string) (string, error) {
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean != strings.TrimPrefix(p, "./") {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return clean, nil
}

func (b *BadgerStore) ListFiles(dir string) ([]string, error) {
	prefix := path.Clean("/" + dir)[1:]
	if prefix != "" {
		prefix += "/"
	}
	var files []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			files = append(files, string(iter.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func (b *BadgerStore) ReadFile(p string) ([]byte, error) {
	key, err := badgerKey(p)
	if err != nil {
		return nil, err
	}
	var contents []byte
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		contents, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
	}
	return contents, err
}

func (b *BadgerStore) WriteFile(p string, contents []byte) error {
	key, err := badgerKey(p)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), contents)
	})
}
