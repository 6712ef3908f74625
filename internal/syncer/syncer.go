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

// Package syncer implements the Syncer: the single background writer
// that owns all write access to the four KV databases, coalescing
// in-memory deltas from concurrent Indexer Jobs and amortizing I/O by
// batching, over badger-backed internal/store.
package syncer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger"

	"cxindex/internal/store"
	"cxindex/internal/symbol"
)

// idleTimeout mirrors IndexerSyncer::run's 10-second QWaitCondition
// timeout: the Syncer re-checks its buffers even with no notify().
const idleTimeout = 10 * time.Second

// Syncer owns all writes to the four databases.
type Syncer struct {
	store *store.Store
	log   *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	stopped bool

	symbols         map[symbol.Location]symbol.CursorInfo
	symbolNames     map[string]symbol.LocationSet
	dependencies    map[string]symbol.PathSet
	fileInformation map[string][]string

	wg sync.WaitGroup
}

// New constructs a Syncer bound to s. Call Start to begin its loop.
func New(s *store.Store, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	sy := &Syncer{
		store:           s,
		log:             log,
		symbols:         make(map[symbol.Location]symbol.CursorInfo),
		symbolNames:     make(map[string]symbol.LocationSet),
		dependencies:    make(map[string]symbol.PathSet),
		fileInformation: make(map[string][]string),
	}
	sy.cond = sync.NewCond(&sy.mu)
	return sy
}

// Start launches the Syncer's single background thread.
func (s *Syncer) Start() {
	s.wg.Add(1)
	go s.run()
}

// Wait blocks until the loop started by Start has exited, after Stop.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// AddSymbols enqueues a Symbol delta. Non-blocking, thread-safe; merges
// with any already-buffered delta using CursorInfo.Unite.
func (s *Syncer) AddSymbols(delta map[symbol.Location]symbol.CursorInfo) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	for loc, added := range delta {
		current, ok := s.symbols[loc]
		if !ok {
			s.symbols[loc] = added
			continue
		}
		merged, _ := current.Unite(added)
		s.symbols[loc] = merged
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// AddSymbolNames enqueues a SymbolName delta, merged by set union.
func (s *Syncer) AddSymbolNames(delta map[string]symbol.LocationSet) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	for name, added := range delta {
		current, ok := s.symbolNames[name]
		if !ok {
			s.symbolNames[name] = added.Clone()
			continue
		}
		current.Unite(added)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// AddDependencies enqueues a Dependency delta, merged by set union per key.
func (s *Syncer) AddDependencies(delta map[string]symbol.PathSet) {
	if len(delta) == 0 {
		return
	}
	s.mu.Lock()
	for path, added := range delta {
		current, ok := s.dependencies[path]
		if !ok {
			s.dependencies[path] = added.Clone()
			continue
		}
		current.Unite(added)
	}
	s.cond.Broadcast()
	s.mu.Unlock()
}

// AddFileInformation enqueues the compile command last used to index
// input. Overwrite semantics: last write wins.
func (s *Syncer) AddFileInformation(input string, args []string) {
	s.mu.Lock()
	s.fileInformation[input] = args
	s.cond.Broadcast()
	s.mu.Unlock()
}

// PeekFileInformation consults the in-memory buffer before falling back
// to the database, resolving the race between the watcher reading
// FileInformation and the Syncer having flushed it.
func (s *Syncer) PeekFileInformation(input string) ([]string, bool) {
	s.mu.Lock()
	args, ok := s.fileInformation[input]
	s.mu.Unlock()
	if ok {
		return args, true
	}

	db, err := s.store.Handle(store.FileInformation, store.ReadOnly)
	if err != nil {
		return nil, false
	}
	data, err := store.Get(db, []byte(input))
	if err != nil || data == nil {
		return nil, false
	}
	decoded, err := symbol.DecodeArgs(data)
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// PeekSymbol consults the in-memory buffer before falling back to the
// database, the same read-before-flush resolution PeekFileInformation
// gives callers that need a Symbol record immediately after a job posts it.
func (s *Syncer) PeekSymbol(loc symbol.Location) (symbol.CursorInfo, bool) {
	s.mu.Lock()
	info, ok := s.symbols[loc]
	s.mu.Unlock()
	if ok {
		return info, true
	}

	db, err := s.store.Handle(store.Symbol, store.ReadOnly)
	if err != nil {
		return symbol.CursorInfo{}, false
	}
	data, err := store.Get(db, []byte(loc.Key()))
	if err != nil || data == nil {
		return symbol.CursorInfo{}, false
	}
	decoded, err := symbol.DecodeCursorInfo(data)
	if err != nil {
		return symbol.CursorInfo{}, false
	}
	return decoded, true
}

// Notify wakes the Syncer even if every buffer is empty, used on
// job-pool drain to flush promptly.
func (s *Syncer) Notify() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Stop requests the loop to exit at its next buffer check. Idempotent.
func (s *Syncer) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

func (s *Syncer) run() {
	defer s.wg.Done()
	for {
		symbols, symbolNames, dependencies, fileInformation, stop := s.swapBuffers()
		if stop {
			return
		}

		if len(symbolNames) > 0 {
			if err := s.flushSymbolNames(symbolNames); err != nil {
				s.log.Error("flush symbol names failed, delta dropped", "error", err)
			}
		}
		if len(symbols) > 0 {
			if err := s.flushSymbols(symbols); err != nil {
				s.log.Error("flush symbols failed, delta dropped", "error", err)
			}
		}
		if len(dependencies) > 0 {
			if err := s.flushDependencies(dependencies); err != nil {
				s.log.Error("flush dependencies failed, delta dropped", "error", err)
			}
		}
		if len(fileInformation) > 0 {
			if err := s.flushFileInformation(fileInformation); err != nil {
				s.log.Error("flush file information failed, delta dropped", "error", err)
			}
		}
	}
}

// swapBuffers waits (only O(1) bookkeeping under the mutex, never
// across I/O) until stopped or some buffer is non-empty, then
// atomically swaps all four buffers out and releases the mutex.
func (s *Syncer) swapBuffers() (
	symbols map[symbol.Location]symbol.CursorInfo,
	symbolNames map[string]symbol.LocationSet,
	dependencies map[string]symbol.PathSet,
	fileInformation map[string][]string,
	stop bool,
) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.stopped && len(s.symbols) == 0 && len(s.symbolNames) == 0 &&
		len(s.dependencies) == 0 && len(s.fileInformation) == 0 {
		s.waitWithTimeout()
	}
	if s.stopped {
		return nil, nil, nil, nil, true
	}

	symbols, s.symbols = s.symbols, make(map[symbol.Location]symbol.CursorInfo)
	symbolNames, s.symbolNames = s.symbolNames, make(map[string]symbol.LocationSet)
	dependencies, s.dependencies = s.dependencies, make(map[string]symbol.PathSet)
	fileInformation, s.fileInformation = s.fileInformation, make(map[string][]string)
	return symbols, symbolNames, dependencies, fileInformation, false
}

// waitWithTimeout emulates QWaitCondition::wait(&mutex, 10000): sync.Cond
// has no built-in timeout, so a timer goroutine broadcasts after
// idleTimeout to re-check the stop flag and buffers periodically.
func (s *Syncer) waitWithTimeout() {
	timer := time.AfterFunc(idleTimeout, s.Notify)
	defer timer.Stop()
	s.cond.Wait()
}

func (s *Syncer) flushSymbolNames(delta map[string]symbol.LocationSet) error {
	db, err := s.store.Handle(store.SymbolName, store.ReadWrite)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	for name, added := range delta {
		current, err := s.readLocationSet(db, name)
		if err != nil {
			return err
		}
		if !current.Unite(added) {
			continue
		}
		encoded, err := symbol.EncodeLocationSet(current)
		if err != nil {
			return err
		}
		batch.Put(name, encoded)
	}
	return batch.Commit(db)
}

func (s *Syncer) flushSymbols(delta map[symbol.Location]symbol.CursorInfo) error {
	db, err := s.store.Handle(store.Symbol, store.ReadWrite)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	for loc, added := range delta {
		key := loc.Key()
		raw, err := store.Get(db, []byte(key))
		if err != nil {
			return err
		}
		current, err := symbol.DecodeCursorInfo(raw)
		if err != nil {
			return err
		}
		merged, changed := current.Unite(added)
		if !changed {
			continue
		}
		encoded, err := symbol.EncodeCursorInfo(merged)
		if err != nil {
			return err
		}
		batch.Put(key, encoded)
	}
	return batch.Commit(db)
}

func (s *Syncer) flushDependencies(delta map[string]symbol.PathSet) error {
	db, err := s.store.Handle(store.Dependency, store.ReadWrite)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	for path, added := range delta {
		raw, err := store.Get(db, []byte(path))
		if err != nil {
			return err
		}
		current, err := symbol.DecodePathSet(raw)
		if err != nil {
			return err
		}
		if !current.Unite(added) {
			continue
		}
		encoded, err := symbol.EncodePathSet(current)
		if err != nil {
			return err
		}
		batch.Put(path, encoded)
	}
	return batch.Commit(db)
}

func (s *Syncer) flushFileInformation(delta map[string][]string) error {
	db, err := s.store.Handle(store.FileInformation, store.ReadWrite)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	for path, args := range delta {
		encoded, err := symbol.EncodeArgs(args)
		if err != nil {
			return err
		}
		batch.Put(path, encoded)
	}
	return batch.Commit(db)
}

func (s *Syncer) readLocationSet(db *badger.DB, key string) (symbol.LocationSet, error) {
	raw, err := store.Get(db, []byte(key))
	if err != nil {
		return nil, err
	}
	return symbol.DecodeLocationSet(raw)
}
