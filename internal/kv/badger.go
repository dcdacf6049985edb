package kv

import (
	"context"
	"errors"
	"iter"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Logger receives badger's internal messages.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
}

type BadgerOptions struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir      string
	InMemory bool
	// Logger defaults to discarding everything below warnings.
	Logger Logger
}

// Badger is a Store backed by BadgerDB.
type Badger struct {
	db *badger.DB
}

func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("kv: badger directory is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{l: opts.Logger})

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &Badger{db: db}, nil
}

func (b *Badger) Get(_ context.Context, key Key) ([]byte, error) {
	var val []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.encode())
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	return val, err
}

func (b *Badger) Set(_ context.Context, key Key, value []byte, ttl time.Duration) error {
	return b.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key.encode(), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (b *Badger) Delete(_ context.Context, key Key) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key.encode())
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (b *Badger) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := prefix.prefixBytes()

	return func(yield func(Entry, error) bool) {
		err := b.db.View(func(txn *badger.Txn) error {
			itOpts := badger.DefaultIteratorOptions
			itOpts.Prefix = p
			it := txn.NewIterator(itOpts)
			defer it.Close()

			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					if !yield(Entry{}, err) {
						return nil
					}
					continue
				}
				if !yield(Entry{Key: decodeKey(item.KeyCopy(nil)), Value: val}, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

func (b *Badger) Close() error {
	return b.db.Close()
}

// badgerLogger adapts Logger to badger's Warningf naming and drops info
// and debug chatter.
type badgerLogger struct {
	l Logger
}

func (a badgerLogger) Errorf(f string, v ...interface{}) {
	if a.l != nil {
		a.l.Errorf("[badger] "+f, v...)
	}
}

func (a badgerLogger) Warningf(f string, v ...interface{}) {
	if a.l != nil {
		a.l.Warnf("[badger] "+f, v...)
	}
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
