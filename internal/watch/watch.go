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

// Package watch wraps gopkg.in/fsnotify.v1 as an injected dependency the
// Coordinator owns instead of a package-level variable.
package watch

import (
	"log/slog"
	"path/filepath"

	fsnotify "gopkg.in/fsnotify.v1"
)

// Watcher reports directory-level changes to a single callback, the
// Coordinator's directory-changed handler.
type Watcher struct {
	fs      *fsnotify.Watcher
	onDir   func(dir string)
	log     *slog.Logger
	done    chan struct{}
}

// New opens an fsnotify watcher. onDirChanged is invoked, on the
// Watcher's own goroutine, for every event whose containing directory
// is currently watched.
func New(onDirChanged func(dir string), log *slog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{fs: fs, onDir: onDirChanged, log: log, done: make(chan struct{})}, nil
}

// Add starts watching dir.
func (w *Watcher) Add(dir string) error {
	return w.fs.Add(dir)
}

// Remove stops watching dir.
func (w *Watcher) Remove(dir string) error {
	return w.fs.Remove(dir)
}

// Close releases the underlying fsnotify watcher and stops Run.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

// Run drains fsnotify events until Close is called, dispatching each
// one to onDirChanged keyed by the event's containing directory - a
// file create/write/remove under dir is treated the same as a change
// to dir, since individual files, not directories, are what gets
// classified dirty.
func (w *Watcher) Run() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.onDir != nil {
				w.onDir(filepath.Dir(event.Name))
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", "error", err)
		case <-w.done:
			return
		}
	}
}
