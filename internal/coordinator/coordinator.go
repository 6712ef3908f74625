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

// Package coordinator owns job lifecycle, PCH ordering, watcher
// registration and dirty-job issuance: the single serialized
// decision-maker every Indexer Job and Dirty Job answers to.
package coordinator

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cxindex/internal/astparse"
	"cxindex/internal/canon"
	"cxindex/internal/compiledb"
	"cxindex/internal/dirtyjob"
	"cxindex/internal/indexjob"
	"cxindex/internal/store"
	"cxindex/internal/symbol"
	"cxindex/internal/syncer"
	"cxindex/internal/watch"
)

// syncInterval: every this-many job completions, the Syncer is told to
// flush promptly rather than wait out its own idle timeout.
const syncInterval = 10

// DoneEvent reports one completed job, the "indexing_done" signal.
type DoneEvent struct {
	JobID  int64
	Input  string
	Result indexjob.Result
}

// Coordinator is the concurrency-safe hub every Job talks to through the
// indexjob.Context and dirtyjob.Context interfaces it satisfies.
type Coordinator struct {
	mu       sync.Mutex
	cond     *sync.Cond
	indexing map[string]struct{}
	errored  map[string]bool
	jobs     map[int64]string
	lastID   int64

	depMu        sync.Mutex
	dependencies map[string]symbol.PathSet

	pchDepsMu sync.Mutex
	pchDeps   map[string]symbol.PathSet

	argsMu                    sync.Mutex
	defaultArgs               []string
	systemHeaderAllowPrefixes []string

	completedSinceFlush int
	batchStart          time.Time

	watched *watch.WatchedSet
	watcher *watch.Watcher
	syncer  *syncer.Syncer
	store   *store.Store

	group       *errgroup.Group
	newIndex    func() astparse.Index
	projectRoot string
	log         *slog.Logger

	done chan DoneEvent
}

// New builds a Coordinator. workers bounds the single shared worker
// pool that runs both Indexer Jobs and Dirty Jobs.
func New(st *store.Store, sy *syncer.Syncer, projectRoot string, workers int, defaultArgs, systemHeaderAllowPrefixes []string, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	group := &errgroup.Group{}
	group.SetLimit(workers)

	c := &Coordinator{
		indexing:                  make(map[string]struct{}),
		errored:                   make(map[string]bool),
		jobs:                      make(map[int64]string),
		dependencies:              make(map[string]symbol.PathSet),
		pchDeps:                   make(map[string]symbol.PathSet),
		defaultArgs:               append([]string{}, defaultArgs...),
		systemHeaderAllowPrefixes: append([]string{}, systemHeaderAllowPrefixes...),
		watched:                   watch.NewWatchedSet(),
		syncer:                    sy,
		store:                     st,
		group:                     group,
		newIndex:                  astparse.NewIndex,
		projectRoot:               projectRoot,
		log:                       log,
		done:                      make(chan DoneEvent, 64),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// AttachWatcher wires the filesystem watcher whose events drive
// OnDirectoryChanged. Kept separate from New because the watcher's own
// constructor needs a callback that closes over the Coordinator.
func (c *Coordinator) AttachWatcher(w *watch.Watcher) {
	c.watcher = w
}

// SetDefaultArgs replaces the argument vector concatenated onto every job.
func (c *Coordinator) SetDefaultArgs(args []string) {
	c.argsMu.Lock()
	defer c.argsMu.Unlock()
	c.defaultArgs = append([]string{}, args...)
}

// DefaultArgs implements indexjob.Context.
func (c *Coordinator) DefaultArgs() []string {
	c.argsMu.Lock()
	defer c.argsMu.Unlock()
	return append([]string{}, c.defaultArgs...)
}

// SystemHeaderAllowPrefixes implements indexjob.Context.
func (c *Coordinator) SystemHeaderAllowPrefixes() []string {
	c.argsMu.Lock()
	defer c.argsMu.Unlock()
	return append([]string{}, c.systemHeaderAllowPrefixes...)
}

// Syncer implements indexjob.Context.
func (c *Coordinator) Syncer() *syncer.Syncer {
	return c.syncer
}

// Done returns the channel fed once per completed job.
func (c *Coordinator) Done() <-chan DoneEvent {
	return c.done
}

// Index dispatches input to the worker pool, refusing a second
// concurrent job for the same input.
func (c *Coordinator) Index(input string, args []string) (int64, bool) {
	c.mu.Lock()
	if _, busy := c.indexing[input]; busy {
		c.mu.Unlock()
		return 0, false
	}
	if len(c.jobs) == 0 {
		c.batchStart = time.Now()
	}
	c.lastID++
	id := c.lastID
	c.indexing[input] = struct{}{}
	c.jobs[id] = input
	c.mu.Unlock()

	c.group.Go(func() error {
		idx := c.newIndex()
		defer idx.Dispose()

		job := &indexjob.Job{
			ID:          id,
			ProjectRoot: c.projectRoot,
			Input:       input,
			Args:        args,
			Index:       idx,
			Ctx:         c,
			Log:         c.log.With("job_id", id),
		}
		result := job.Run()
		c.onJobDone(id, input, result)
		return nil
	})
	return id, true
}

// onJobDone removes the job from the in-flight tables, wakes any job
// blocked in AwaitPCHReady, flushes the Syncer every syncInterval
// completions or whenever the job table drains, and signals Done.
func (c *Coordinator) onJobDone(id int64, input string, result indexjob.Result) {
	c.mu.Lock()
	delete(c.jobs, id)
	delete(c.indexing, input)
	c.completedSinceFlush++
	flush := c.completedSinceFlush >= syncInterval || len(c.jobs) == 0
	if flush {
		c.completedSinceFlush = 0
	}
	empty := len(c.jobs) == 0
	elapsed := time.Since(c.batchStart)
	c.cond.Broadcast()
	c.mu.Unlock()

	if flush {
		c.syncer.Notify()
	}
	if empty {
		c.log.Debug("jobs took", "jobs_elapsed_ms", elapsed.Milliseconds())
	}

	select {
	case c.done <- DoneEvent{JobID: id, Input: input, Result: result}:
	default:
		c.log.Warn("done channel full, dropping event", "job_id", id, "input", input)
	}
}

// AwaitPCHReady implements indexjob.Context: block until none of headers
// is currently owned by another job, then return the subset not marked
// errored.
func (c *Coordinator) AwaitPCHReady(headers []string) []string {
	c.mu.Lock()
	for c.anyIndexing(headers) {
		c.cond.Wait()
	}
	ready := make([]string, 0, len(headers))
	for _, h := range headers {
		if !c.errored[h] {
			ready = append(ready, h)
		}
	}
	c.mu.Unlock()
	return ready
}

func (c *Coordinator) anyIndexing(headers []string) bool {
	for _, h := range headers {
		if _, ok := c.indexing[h]; ok {
			return true
		}
	}
	return false
}

// PCHDependenciesFor implements indexjob.Context.
func (c *Coordinator) PCHDependenciesFor(header string) symbol.PathSet {
	c.pchDepsMu.Lock()
	defer c.pchDepsMu.Unlock()
	return c.pchDeps[header].Clone()
}

// SetPCHDependencies implements indexjob.Context.
func (c *Coordinator) SetPCHDependencies(header string, deps symbol.PathSet) {
	c.pchDepsMu.Lock()
	c.pchDeps[header] = deps
	c.pchDepsMu.Unlock()
}

// SetPCHErrored implements indexjob.Context.
func (c *Coordinator) SetPCHErrored(header string, errored bool) {
	c.mu.Lock()
	if errored {
		c.errored[header] = true
	} else {
		delete(c.errored, header)
	}
	c.mu.Unlock()
}

// PostDependencyDelta implements indexjob.Context: merges the
// genuinely-new portion of delta into the authoritative dependency map,
// forwards only that new portion to the Syncer, and registers each
// newly-seen dependent path under its parent directory in the watched
// set, adding a filesystem watch the first time a directory is seen.
func (c *Coordinator) PostDependencyDelta(delta map[string]symbol.PathSet) {
	newDelta := make(map[string]symbol.PathSet)

	c.depMu.Lock()
	for path, dependents := range delta {
		existing, ok := c.dependencies[path]
		if !ok {
			existing = symbol.NewPathSet()
			c.dependencies[path] = existing
		}
		var fresh symbol.PathSet
		for dependent := range dependents {
			if _, seen := existing[dependent]; seen {
				continue
			}
			existing[dependent] = struct{}{}
			if fresh == nil {
				fresh = symbol.NewPathSet()
			}
			fresh[dependent] = struct{}{}
		}
		if fresh != nil {
			newDelta[path] = fresh
		}
	}
	c.depMu.Unlock()

	if len(newDelta) == 0 {
		return
	}
	c.syncer.AddDependencies(newDelta)

	for path := range newDelta {
		dir := filepath.Dir(path)
		base := filepath.Base(path)
		mtime := canon.ModTime(path)
		if c.watched.Track(dir, base, mtime) && c.watcher != nil {
			if err := c.watcher.Add(dir); err != nil {
				c.log.Warn("failed to watch directory", "dir", dir, "error", err)
			}
		}
	}
}

// OnDirectoryChanged implements the watcher callback: files whose mtime
// moved or which vanished are dirty; their dependents join the dirty
// set too and, if they still exist, are classified PCH/non-PCH for
// reindexing; only the files found directly stale have their watched
// mtime refreshed.
func (c *Coordinator) OnDirectoryChanged(dir string) {
	entries := c.watched.Entries(dir)
	if len(entries) == 0 {
		c.log.Warn("directory changed, but not in watched list", "dir", dir)
		return
	}

	dirty := symbol.NewPathSet()
	var staleFiles []string
	for filename, storedMtime := range entries {
		full := filepath.Join(dir, filename)
		if !canon.Exists(full) || canon.ModTime(full) != storedMtime {
			dirty[full] = struct{}{}
			staleFiles = append(staleFiles, full)
		}
	}
	if len(staleFiles) == 0 {
		return
	}

	toIndexPCH := make(map[string][]string)
	toIndex := make(map[string][]string)

	c.depMu.Lock()
	for _, file := range staleFiles {
		dependents, ok := c.dependencies[file]
		if !ok {
			c.log.Warn("dependency lookup miss for stale file", "file", file)
			continue
		}
		for dependent := range dependents {
			dirty[dependent] = struct{}{}
			if !canon.Exists(dependent) {
				continue
			}
			args, ok := c.syncer.PeekFileInformation(dependent)
			if !ok {
				continue
			}
			if isPCHArgs(args) {
				toIndexPCH[dependent] = args
			} else {
				toIndex[dependent] = args
			}
		}
	}
	c.depMu.Unlock()

	for _, file := range staleFiles {
		c.watched.Refresh(dir, filepath.Base(file), canon.ModTime(file))
	}

	job := &dirtyjob.Job{
		Dirty: dirty,
		PCH:   toIndexPCH,
		Plain: toIndex,
		Store: c.store,
		Ctx:   c,
		Log:   c.log,
	}
	c.group.Go(func() error {
		if err := job.Run(); err != nil {
			c.log.Error("dirty job failed", "dir", dir, "error", err)
		}
		return nil
	})
}

func isPCHArgs(args []string) bool {
	for i, a := range args {
		if a == "-x" && i+1 < len(args) {
			switch args[i+1] {
			case "c++-header", "c-header":
				return true
			}
		}
	}
	return false
}

// Reconcile walks each root, loading its compile_commands.json and
// dispatching Index for every translation unit it names, then adds
// every directory encountered to the filesystem watcher so subsequent
// edits are seen even before a Dependency edge exists for them.
func (c *Coordinator) Reconcile(roots []string) error {
	for _, root := range roots {
		db, err := compiledb.Load(root)
		if err != nil {
			return err
		}
		seenDirs := make(map[string]struct{})
		for file, args := range db {
			dir := filepath.Dir(file)
			if _, ok := seenDirs[dir]; !ok {
				seenDirs[dir] = struct{}{}
				if c.watcher != nil {
					if err := c.watcher.Add(dir); err != nil {
						c.log.Warn("failed to watch directory", "dir", dir, "error", err)
					}
				}
			}
			if mtime := canon.ModTime(file); mtime != 0 {
				c.watched.Track(dir, filepath.Base(file), mtime)
			}
			c.Index(file, args)
		}
	}
	return nil
}

// Wait blocks until every dispatched Index/OnDirectoryChanged job has
// returned. Only useful in tests and clean shutdown, since in steady
// state new jobs keep arriving from the watcher.
func (c *Coordinator) Wait() error {
	return c.group.Wait()
}
