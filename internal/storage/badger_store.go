// Package storage keeps JSON encoded records in badger under a key prefix.
package storage

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"arbor/internal/errors"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore stores values of type T under "<prefix>:<id>" keys.
type BadgerStore[T any] struct {
	db     *badger.DB
	prefix string
}

func NewBadgerStore[T any](db *badger.DB, prefix string) *BadgerStore[T] {
	return &BadgerStore[T]{
		db:     db,
		prefix: prefix,
	}
}

func (s *BadgerStore[T]) makeKey(id string) []byte {
	return []byte(s.prefix + ":" + id)
}

func (s *BadgerStore[T]) stripPrefix(key []byte) string {
	return strings.TrimPrefix(string(key), s.prefix+":")
}

func (s *BadgerStore[T]) notFound(id string) error {
	return errors.NotFound(fmt.Sprintf("%s %s not found", s.prefix, id))
}

// Create stores v under id, failing if id is taken.
func (s *BadgerStore[T]) Create(id string, v T) error {
	if id == "" {
		return errors.ValidationError("id cannot be empty", nil)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s %s: %w", s.prefix, id, err)
	}

	key := s.makeKey(id)
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return errors.ValidationError(fmt.Sprintf("%s %s already exists", s.prefix, id), nil)
		} else if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// Put stores v under id, replacing any previous value.
func (s *BadgerStore[T]) Put(id string, v T) error {
	if id == "" {
		return errors.ValidationError("id cannot be empty", nil)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s %s: %w", s.prefix, id, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.makeKey(id), data)
	})
}

func (s *BadgerStore[T]) Get(id string) (T, error) {
	var v T
	err := s.db.View(func(txn *badger.Txn) error {
		return s.get(txn, id, &v)
	})
	return v, err
}

func (s *BadgerStore[T]) get(txn *badger.Txn, id string, v *T) error {
	item, err := txn.Get(s.makeKey(id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return s.notFound(id)
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// Update applies fn to the value under id in one transaction. If fn reports
// remove, the record is deleted instead of written back.
func (s *BadgerStore[T]) Update(id string, fn func(v *T) (remove bool, err error)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var v T
		if err := s.get(txn, id, &v); err != nil {
			return err
		}
		remove, err := fn(&v)
		if err != nil {
			return err
		}
		if remove {
			return txn.Delete(s.makeKey(id))
		}
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s %s: %w", s.prefix, id, err)
		}
		return txn.Set(s.makeKey(id), data)
	})
}

func (s *BadgerStore[T]) Delete(id string) error {
	key := s.makeKey(id)
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return s.notFound(id)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
}

func (s *BadgerStore[T]) Exists(id string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(s.makeKey(id))
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// List returns every value in key order.
func (s *BadgerStore[T]) List() ([]T, error) {
	var out []T
	err := s.scan(true, func(_ string, val []byte) error {
		var v T
		if err := json.Unmarshal(val, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.prefix, err)
	}
	return out, nil
}

// Keys returns every id in key order.
func (s *BadgerStore[T]) Keys() ([]string, error) {
	var out []string
	err := s.scan(false, func(id string, _ []byte) error {
		out = append(out, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s keys: %w", s.prefix, err)
	}
	return out, nil
}

func (s *BadgerStore[T]) scan(values bool, fn func(id string, val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = values
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(s.prefix + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			id := s.stripPrefix(item.KeyCopy(nil))
			if !values {
				if err := fn(id, nil); err != nil {
					return err
				}
				continue
			}
			if err := item.Value(func(val []byte) error {
				return fn(id, val)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// OpenInMemory opens a badger database that lives only in memory.
func OpenInMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return badger.Open(opts)
}

// Open opens the badger database in dir with badger's own logging
// silenced.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", dir, err)
	}
	return db, nil
}
