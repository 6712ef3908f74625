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

// Command cxindexd is the daemon: it loads configuration, opens the
// on-disk databases, and wires the Syncer, Coordinator and filesystem
// watcher together into a config-file-driven long-running process.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"cxindex/internal/config"
	"cxindex/internal/coordinator"
	"cxindex/internal/logx"
	"cxindex/internal/store"
	"cxindex/internal/syncer"
	"cxindex/internal/watch"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to cxindexd.toml (defaults built in if absent)")
		dbOverride = flag.String("db", "", "override project_root from the config file")
		workers    = flag.Int("workers", 0, "override the worker pool size from the config file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *dbOverride != "" {
		cfg.ProjectRoot = *dbOverride
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if len(flag.Args()) > 0 {
		cfg.Roots = flag.Args()
	}

	logx.Init(logx.Config{
		Level:  parseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	runID := uuid.NewString()
	log := logx.For("main").With("run_id", runID)

	st, err := store.Open(cfg.ProjectRoot)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	sy := syncer.New(st, logx.For("syncer").With("run_id", runID))
	sy.Start()
	defer func() {
		sy.Stop()
		sy.Wait()
	}()

	c := coordinator.New(st, sy, cfg.ProjectRoot, cfg.Workers, cfg.DefaultArgs, cfg.SystemHeaderAllowPrefixes, logx.For("coordinator").With("run_id", runID))

	watcherLog := logx.For("watch").With("run_id", runID)
	w, err := watch.New(c.OnDirectoryChanged, watcherLog)
	if err != nil {
		log.Error("failed to start filesystem watcher", "error", err)
		os.Exit(1)
	}
	c.AttachWatcher(w)
	defer w.Close()
	go w.Run()

	log.Info("reconciling roots", "roots", cfg.Roots)
	if err := c.Reconcile(cfg.Roots); err != nil {
		log.Error("reconciliation failed", "error", err)
		os.Exit(1)
	}

	log.Info("cxindexd started", "project_root", cfg.ProjectRoot, "workers", cfg.Workers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
}

func parseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
