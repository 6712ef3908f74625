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

// Package compiledb loads compile_commands.json compilation databases
// and turns each entry's shell command line into the argument vector an
// Indexer Job needs: a per-root loader the startup reconciliation walk
// can call for every configured root.
package compiledb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// entry mirrors one record of compile_commands.json.
type entry struct {
	Directory string
	Command   string
	File      string
}

// DB maps an absolute translation-unit path to the argument vector
// extracted from its compile_commands.json command line.
type DB map[string][]string

// Load reads <root>/compile_commands.json, if present, and returns the
// per-file argument vectors it describes. A missing file is not an
// error - not every root need carry one.
func Load(root string) (DB, error) {
	path := filepath.Join(root, "compile_commands.json")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return DB{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("compiledb: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []entry
	if err := json.NewDecoder(f).Decode(&entries); err != nil {
		return nil, fmt.Errorf("compiledb: decode %s: %w", path, err)
	}

	db := make(DB, len(entries))
	for _, e := range entries {
		file := e.File
		if !filepath.IsAbs(file) {
			file = filepath.Clean(filepath.Join(e.Directory, file))
		}
		db[file] = argsFromCommand(e.Command, e.Directory)
	}
	return db, nil
}

// argsFromCommand extracts the -D and -I flags relevant to parsing from
// a full compiler invocation, rewriting -I directories to be resolvable
// from the process's own working directory (fixCompDirArg's job in the
// teacher).
func argsFromCommand(command, compileDir string) []string {
	var args []string
	fields := strings.Fields(command)

	for i := 0; i < len(fields); i++ {
		arg := fields[i]
		switch {
		case arg == "-D" && i+1 < len(fields):
			args = append(args, arg, fields[i+1])
			i++
		case strings.HasPrefix(arg, "-D"):
			args = append(args, "-D", strings.TrimPrefix(arg, "-D"))
		case arg == "-I" && i+1 < len(fields):
			args = append(args, "-I", resolveIncludeDir(fields[i+1], compileDir))
			i++
		case strings.HasPrefix(arg, "-I"):
			args = append(args, "-I", resolveIncludeDir(strings.TrimPrefix(arg, "-I"), compileDir))
		}
	}
	return args
}

// resolveIncludeDir anchors a relative -I argument to the entry's own
// compile-time working directory, since a relative include path in
// compile_commands.json is only meaningful relative to that directory.
func resolveIncludeDir(dir, compileDir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Clean(filepath.Join(compileDir, dir))
}
