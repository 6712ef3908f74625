/*
 * Copyright 2015 Google Inc. All Rights Reserved.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package store is the KV Store Adapter: it abstracts the ordered
// key-value engine behind the four logical databases
// (Symbol, SymbolName, Dependency, FileInformation), each backed by its
// own github.com/dgraph-io/badger instance rooted under the project's
// database directory. Badger's transactions give every read concurrent
// with a write a consistent snapshot, satisfying the invariant that the
// Syncer is the only writer and other readers use snapshots.
package store

import (
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger"
)

// Database names one of the four logical databases.
type Database string

const (
	Symbol          Database = "symbol"
	SymbolName      Database = "symbolname"
	Dependency      Database = "dependency"
	FileInformation Database = "fileinformation"
)

var allDatabases = []Database{Symbol, SymbolName, Dependency, FileInformation}

// Mode selects how a database handle is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

// Store owns the four on-disk databases rooted at <project_root>/db.
type Store struct {
	root string
	dbs  map[Database]*badger.DB
}

// Open opens (creating if absent) all four logical databases rooted at
// <projectRoot>/db/<name>, each as its own independently openable
// handle.
func Open(projectRoot string) (*Store, error) {
	root := filepath.Join(projectRoot, "db")

	s := &Store{root: root, dbs: make(map[Database]*badger.DB, len(allDatabases))}
	for _, name := range allDatabases {
		dir := filepath.Join(root, string(name))
		if err := os.MkdirAll(dir, 0700); err != nil {
			s.Close()
			return nil, err
		}

		opts := badger.DefaultOptions(dir)
		opts.Dir = dir
		opts.ValueDir = dir
		opts.SyncWrites = false

		db, err := badger.Open(opts)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.dbs[name] = db
	}

	return s, nil
}

// Close closes every open database handle. Errors closing individual
// handles are not fatal to closing the rest; the first error seen is
// returned.
func (s *Store) Close() error {
	var first error
	for name, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, name)
	}
	return first
}

// Handle returns the raw *badger.DB for a logical database, used by
// callers (the Syncer, the Dirty Job) with Get, Iterate and
// Batch.Commit below. Mode is informational here - badger doesn't
// distinguish handles by mode the way LevelDB's C++ wrapper does - but
// callers opening ReadOnly should not call Batch.Commit.
func (s *Store) Handle(name Database, _ Mode) (*badger.DB, error) {
	db, ok := s.dbs[name]
	if !ok {
		return nil, ErrUnknownDatabase(name)
	}
	return db, nil
}

// ErrUnknownDatabase reports a request for a database name Open never
// created.
type ErrUnknownDatabase Database

func (e ErrUnknownDatabase) Error() string {
	return "store: unknown database " + string(e)
}

// Get reads the raw value for key in db, or nil if absent. Absence is
// not an error: callers decode nil into the type's empty value.
func Get(db *badger.DB, key []byte) ([]byte, error) {
	var value []byte
	err := retryView(db, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	return value, err
}

// Batch is an ordered set of Put/Delete operations, committed together
// as one atomic write: write batches are atomic per database.
type Batch struct {
	puts    map[string][]byte
	deletes map[string]struct{}
	seen    map[string]struct{}
	order   []string
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{
		puts:    make(map[string][]byte),
		deletes: make(map[string]struct{}),
		seen:    make(map[string]struct{}),
	}
}

func (b *Batch) track(key string) {
	if _, ok := b.seen[key]; !ok {
		b.seen[key] = struct{}{}
		b.order = append(b.order, key)
	}
}

// Put stages key/value for writing.
func (b *Batch) Put(key string, value []byte) {
	delete(b.deletes, key)
	b.puts[key] = value
	b.track(key)
}

// Delete stages key for removal.
func (b *Batch) Delete(key string) {
	delete(b.puts, key)
	b.deletes[key] = struct{}{}
	b.track(key)
}

// Empty reports whether the batch has no staged operations.
func (b *Batch) Empty() bool {
	return len(b.order) == 0
}

// Commit writes the batch atomically to db.
func (b *Batch) Commit(db *badger.DB) error {
	if b.Empty() {
		return nil
	}
	return retryUpdate(db, func(txn *badger.Txn) error {
		for _, key := range b.order {
			if value, ok := b.puts[key]; ok {
				if err := txn.Set([]byte(key), value); err != nil {
					return err
				}
				continue
			}
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Iterate walks every key/value pair in db in key order, calling fn for
// each. Iteration stops at the first error fn returns.
func Iterate(db *badger.DB, fn func(key []byte, value []byte) error) error {
	return retryView(db, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := append([]byte(nil), item.Key()...)
			var value []byte
			if err := item.Value(func(v []byte) error {
				value = append([]byte(nil), v...)
				return nil
			}); err != nil {
				return err
			}
			if err := fn(key, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// retryView and retryUpdate retry on badger.ErrConflict: it means an
// optimistic transaction lost a race and must simply be retried, not
// surfaced as a failure.
func retryView(db *badger.DB, fn func(txn *badger.Txn) error) error {
	for {
		err := db.View(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
}

func retryUpdate(db *badger.DB, fn func(txn *badger.Txn) error) error {
	for {
		err := db.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
}
