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

// Package dirtyjob sweeps the Symbol and SymbolName databases clean of
// everything under a set of paths invalidated by a filesystem change,
// then redispatches indexing for their dependents.
package dirtyjob

import (
	"log/slog"

	"cxindex/internal/store"
	"cxindex/internal/symbol"
)

// Context is what a Dirty Job needs from its Coordinator to redispatch
// indexing once the sweep is done.
type Context interface {
	Index(input string, args []string) (id int64, ok bool)
}

// Job sweeps Dirty against the Symbol and SymbolName databases, then
// reindexes every entry in PCH (first) and Plain (second) - PCH first so
// dependents find their headers ready.
type Job struct {
	Dirty symbol.PathSet
	PCH   map[string][]string
	Plain map[string][]string

	Store *store.Store
	Ctx   Context
	Log   *slog.Logger
}

// Run performs the sweep and redispatch in order. It returns the first
// error from either sweep, in which case nothing is redispatched.
func (j *Job) Run() error {
	if err := j.sweepSymbols(); err != nil {
		return err
	}
	if err := j.sweepSymbolNames(); err != nil {
		return err
	}
	j.reindex()
	return nil
}

// sweepSymbols deletes any record whose key path is in Dirty outright;
// otherwise it applies CursorInfo.Dirty and either deletes the
// now-empty result or rewrites it.
func (j *Job) sweepSymbols() error {
	db, err := j.Store.Handle(store.Symbol, store.ReadWrite)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	err = store.Iterate(db, func(key, value []byte) error {
		loc, err := symbol.ParseKey(string(key))
		if err != nil {
			j.Log.Warn("skipping malformed symbol key", "key", string(key), "error", err)
			return nil
		}
		if _, ok := j.Dirty[loc.Path]; ok {
			batch.Delete(loc.Key())
			return nil
		}

		info, err := symbol.DecodeCursorInfo(value)
		if err != nil {
			j.Log.Warn("skipping malformed symbol value", "key", string(key), "error", err)
			return nil
		}
		if !info.Dirty(j.Dirty) {
			return nil
		}
		if info.IsEmpty() {
			batch.Delete(loc.Key())
			return nil
		}
		encoded, err := symbol.EncodeCursorInfo(info)
		if err != nil {
			return err
		}
		batch.Put(loc.Key(), encoded)
		return nil
	})
	if err != nil {
		return err
	}
	return batch.Commit(db)
}

// sweepSymbolNames applies the same path-scoped removal to the
// SymbolName database, via LocationSet.RemoveByPath instead of
// CursorInfo.Dirty.
func (j *Job) sweepSymbolNames() error {
	db, err := j.Store.Handle(store.SymbolName, store.ReadWrite)
	if err != nil {
		return err
	}

	batch := store.NewBatch()
	err = store.Iterate(db, func(key, value []byte) error {
		name := string(key)
		locs, err := symbol.DecodeLocationSet(value)
		if err != nil {
			j.Log.Warn("skipping malformed symbolname value", "key", name, "error", err)
			return nil
		}
		if !locs.RemoveByPath(j.Dirty) {
			return nil
		}
		if len(locs) == 0 {
			batch.Delete(name)
			return nil
		}
		encoded, err := symbol.EncodeLocationSet(locs)
		if err != nil {
			return err
		}
		batch.Put(name, encoded)
		return nil
	})
	if err != nil {
		return err
	}
	return batch.Commit(db)
}

// reindex dispatches PCH producers before ordinary translation units so
// a dependent job never blocks on a header still mid-reindex behind it
// in the pool.
func (j *Job) reindex() {
	for path, args := range j.PCH {
		if _, ok := j.Ctx.Index(path, args); !ok {
			j.Log.Debug("dirty reindex skipped, already indexing", "path", path)
		}
	}
	for path, args := range j.Plain {
		if _, ok := j.Ctx.Index(path, args); !ok {
			j.Log.Debug("dirty reindex skipped, already indexing", "path", path)
		}
	}
}
