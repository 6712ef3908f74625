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

// Package indexjob runs a single translation unit through the parser
// and turns it into Symbol, SymbolName, Dependency and FileInformation
// deltas. A Job never holds a reference to the Coordinator: it talks to
// its surroundings only through the Context capability set, avoiding a
// cyclic ownership between job and coordinator.
package indexjob

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"cxindex/internal/astparse"
	"cxindex/internal/symbol"
	"cxindex/internal/syncer"
)

// Context is the minimal capability set a Job needs from its
// Coordinator: default arguments, PCH availability/ordering, the
// dependency-event sink, and the Syncer handle.
type Context interface {
	DefaultArgs() []string
	// SystemHeaderAllowPrefixes lists /usr/ prefixes exempt from the
	// system-header filter (default: []string{"/usr/home/"}).
	SystemHeaderAllowPrefixes() []string
	// AwaitPCHReady blocks until none of headers is currently owned by
	// another job, then returns the subset not marked errored.
	AwaitPCHReady(headers []string) []string
	PCHDependenciesFor(header string) symbol.PathSet
	SetPCHDependencies(header string, deps symbol.PathSet)
	SetPCHErrored(header string, errored bool)
	PostDependencyDelta(delta map[string]symbol.PathSet)
	Syncer() *syncer.Syncer
}

// Job is a single unit of work: parse one translation unit, walk its
// AST, and hand the resulting deltas to the Syncer and Coordinator.
type Job struct {
	ID          int64
	ProjectRoot string
	Input       string
	Args        []string
	Index       astparse.Index
	Ctx         Context
	Log         *slog.Logger
}

// Result reports what a Run produced, for the Coordinator's job table
// and completion channel.
type Result struct {
	JobID        int64
	Input        string
	IsPCH        bool
	PCHErrored   bool
	ParseFailed  bool
	WaitedForPCH time.Duration
	Elapsed      time.Duration
}

type refEntry struct {
	Loc              symbol.Location
	IsMemberFunction bool
}

// Run executes the job end to end and returns its outcome. The caller
// (the Coordinator's worker-pool wrapper) is responsible for removing
// the job from the in-flight table and signaling on_job_done - Run
// itself never touches Coordinator state directly.
func (j *Job) Run() Result {
	start := time.Now()

	args := append(append([]string{}, j.Args...), j.Ctx.DefaultArgs()...)
	pchHeaders := extractPCHHeaders(args)
	isPCH := isPCHProducer(args)

	var waited time.Duration
	if len(pchHeaders) > 0 {
		waitStart := time.Now()
		ready := j.Ctx.AwaitPCHReady(pchHeaders)
		waited = time.Since(waitStart)

		readySet := make(map[string]struct{}, len(ready))
		for _, h := range ready {
			readySet[h] = struct{}{}
		}
		args = rewritePCHArgs(args, readySet, j.ProjectRoot)
	}

	tu, err := j.Index.Parse(j.Input, args)
	if err != nil {
		j.Log.Error("parse error", "input", j.Input, "error", err)
	}
	if tu == nil {
		if isPCH {
			j.Ctx.SetPCHErrored(j.Input, true)
		}
		elapsed := time.Since(start)
		j.Log.Info("visited", "input", j.Input,
			"elapsed_ms", elapsed.Milliseconds(),
			"waited_for_pch_ms", waited.Milliseconds(),
			"parse_failed", true)
		return Result{
			JobID: j.ID, Input: j.Input, IsPCH: isPCH,
			PCHErrored: isPCH, ParseFailed: true,
			WaitedForPCH: waited, Elapsed: elapsed,
		}
	}
	defer tu.Dispose()

	dependencies := j.walkInclusions(tu, pchHeaders)
	j.Ctx.PostDependencyDelta(dependencies)

	symbols := make(map[symbol.Location]symbol.CursorInfo)
	symbolNames := make(map[string]symbol.LocationSet)
	references := make(map[symbol.Location]refEntry)
	seenPaths := symbol.NewPathSet()

	walkAST(tu.RootCursor(), symbols, symbolNames, references, seenPaths)

	resolveReferences(symbols, references)
	pruneEmpty(symbols)
	addFileSentinels(seenPaths, symbolNames)

	pchErrored := false
	var pchDeps symbol.PathSet
	if isPCH {
		pchDeps = pchDependenciesOf(dependencies)
		if err := tu.Save(pchPath(j.ProjectRoot, j.Input)); err != nil {
			j.Log.Error("pch save failed", "input", j.Input, "error", err)
			pchErrored = true
		}
		j.Ctx.SetPCHDependencies(j.Input, pchDeps)
	}

	sy := j.Ctx.Syncer()
	sy.AddSymbols(symbols)
	sy.AddSymbolNames(symbolNames)
	sy.AddFileInformation(j.Input, j.Args)
	if isPCH {
		j.Ctx.SetPCHErrored(j.Input, pchErrored)
	}

	elapsed := time.Since(start)
	j.Log.Info("visited", "input", j.Input,
		"elapsed_ms", elapsed.Milliseconds(),
		"waited_for_pch_ms", waited.Milliseconds())
	return Result{
		JobID: j.ID, Input: j.Input, IsPCH: isPCH, PCHErrored: pchErrored,
		WaitedForPCH: waited, Elapsed: elapsed,
	}
}

// walkInclusions builds the included_path -> originating_paths delta,
// applying the system-header filter and the self-exclusion check, then
// folds in dependencies inherited from any PCH this job consumes.
func (j *Job) walkInclusions(tu astparse.TranslationUnit, pchHeaders []string) map[string]symbol.PathSet {
	dependencies := make(map[string]symbol.PathSet)
	defaultArgs := j.Ctx.DefaultArgs()

	for _, inc := range tu.Inclusions() {
		if !j.allowedSystemHeader(inc.Path) {
			continue
		}
		if selfExcluded(inc.Path, defaultArgs) {
			continue
		}
		set := dependencies[inc.Path]
		if set == nil {
			set = symbol.NewPathSet()
			dependencies[inc.Path] = set
		}
		if len(inc.Stack) == 0 {
			set[inc.Path] = struct{}{}
		} else {
			for _, originating := range inc.Stack {
				set[originating] = struct{}{}
			}
		}
	}

	for _, header := range pchHeaders {
		for dep := range j.Ctx.PCHDependenciesFor(header) {
			set := dependencies[dep]
			if set == nil {
				set = symbol.NewPathSet()
				dependencies[dep] = set
			}
			set[j.Input] = struct{}{}
		}
	}

	return dependencies
}

func pchDependenciesOf(dependencies map[string]symbol.PathSet) symbol.PathSet {
	deps := symbol.NewPathSet()
	for path := range dependencies {
		deps[path] = struct{}{}
	}
	return deps
}

func (j *Job) allowedSystemHeader(path string) bool {
	if !strings.HasPrefix(path, "/usr/") {
		return true
	}
	for _, prefix := range j.Ctx.SystemHeaderAllowPrefixes() {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func selfExcluded(path string, defaultArgs []string) bool {
	for _, arg := range defaultArgs {
		if strings.Contains(arg, path) {
			return true
		}
	}
	return false
}

// walkAST performs the pre-order, fully recursive cursor visit,
// populating symbols/symbolNames/references/seenPaths in place.
func walkAST(
	root astparse.Cursor,
	symbols map[symbol.Location]symbol.CursorInfo,
	symbolNames map[string]symbol.LocationSet,
	references map[symbol.Location]refEntry,
	seenPaths symbol.PathSet,
) {
	root.Visit(func(cursor, _ astparse.Cursor) astparse.VisitResult {
		if cursor.Kind() == symbol.KindAccessSpecifier {
			return astparse.VisitRecurse
		}

		loc := cursor.SpellingLocation()
		if loc.IsNull() {
			return astparse.VisitRecurse
		}
		symLoc := loc.Location()
		seenPaths[symLoc.Path] = struct{}{}

		ref := cursor.Referenced()
		if !ref.IsNull() && cursor.Equal(ref) && !ref.IsDefinition() {
			ref = ref.Definition()
		}
		refKind := symbol.KindInvalid
		if !ref.IsNull() {
			refKind = ref.Kind()
		}

		info, ok := symbols[symLoc]
		if !ok {
			info = symbol.NewCursorInfo()
		}

		if cursor.Kind() == symbol.KindCallExpr && refKind == symbol.KindCXXMethod {
			return astparse.VisitRecurse
		}
		if info.Kind == symbol.KindConstructor && cursor.Kind() == symbol.KindTypeRef {
			return astparse.VisitRecurse
		}

		if info.SymbolLength == 0 {
			nameCursor := cursor
			if cursor.IsReference() && !ref.IsNull() {
				nameCursor = ref
			}
			info.Kind = cursor.Kind()
			info.SymbolLength = uint32(len(nameCursor.Spelling()))
		}
		symbols[symLoc] = info

		if cursor.IsDefinition() || cursor.Kind() == symbol.KindFunctionDecl {
			addNamePermutations(cursor, symLoc, symbolNames)
		}

		if !ref.IsNull() && !cursor.Equal(ref) {
			refLoc := ref.SpellingLocation()
			if !refLoc.IsNull() {
				target := refLoc.Location()
				info.Target = &target
				symbols[symLoc] = info

				isMemberFunction := refKind == cursor.Kind() && refKind.IsMemberFunction()
				references[symLoc] = refEntry{Loc: target, IsMemberFunction: isMemberFunction}
			}
		}
		return astparse.VisitRecurse
	})
}

// addNamePermutations walks cursor's semantic-parent chain, emitting
// the fully and partially qualified name at every enclosing scope.
func addNamePermutations(cursor astparse.Cursor, loc symbol.Location, names map[string]symbol.LocationSet) {
	var qparam, qnoparam string

	for cur := cursor; !cur.IsNull() && !cur.IsTranslationUnit(); cur = cur.SemanticParent() {
		name := cur.DisplayName()
		if name == "" {
			break
		}
		if qparam == "" {
			qparam = name
			qnoparam = name
			if idx := strings.IndexByte(qnoparam, '('); idx != -1 {
				qnoparam = qnoparam[:idx]
			}
		} else {
			qparam = name + "::" + qparam
			qnoparam = name + "::" + qnoparam
		}
		insertName(names, qparam, loc)
		if qparam != qnoparam {
			insertName(names, qnoparam, loc)
		}
	}
}

func insertName(names map[string]symbol.LocationSet, name string, loc symbol.Location) {
	set, ok := names[name]
	if !ok {
		set = symbol.NewLocationSet()
		names[name] = set
	}
	set[loc] = struct{}{}
}

// resolveReferences is the post-walk, job-local pass: member-function
// pairs share their referrer sets symmetrically, everything else just
// adds loc to its referent's reference set.
func resolveReferences(symbols map[symbol.Location]symbol.CursorInfo, references map[symbol.Location]refEntry) {
	for loc, entry := range references {
		target, ok := symbols[entry.Loc]
		if !ok {
			continue
		}
		if entry.IsMemberFunction {
			src := symbols[loc]
			merged := target.References.Clone()
			for l := range src.References {
				merged[l] = struct{}{}
			}
			target.References = merged
			src.References = merged.Clone()
			if src.Target == nil {
				l := loc
				target.Target = &l
			}
			symbols[entry.Loc] = target
			symbols[loc] = src
		} else {
			target.References[loc] = struct{}{}
			symbols[entry.Loc] = target
		}
	}
}

func pruneEmpty(symbols map[symbol.Location]symbol.CursorInfo) {
	for loc, info := range symbols {
		if info.IsEmpty() {
			delete(symbols, loc)
		}
	}
}

// addFileSentinels registers Location(path, 1) for every path touched
// during the walk, keyed by both the full path and the bare file name,
// so the file itself is a SymbolName lookup target.
func addFileSentinels(paths symbol.PathSet, names map[string]symbol.LocationSet) {
	for path := range paths {
		loc := symbol.Location{Path: path, Offset: 1}
		insertName(names, path, loc)
		insertName(names, filepath.Base(path), loc)
	}
}

func extractPCHHeaders(args []string) []string {
	var headers []string
	for i, a := range args {
		if a == "-include-pch" && i+1 < len(args) {
			headers = append(headers, args[i+1])
		}
	}
	return headers
}

func isPCHProducer(args []string) bool {
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

// rewritePCHArgs drops the -include-pch pair for any header not in
// ready (it was errored) and rewrites the rest to the on-disk persisted
// AST path.
func rewritePCHArgs(args []string, ready map[string]struct{}, projectRoot string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "-include-pch" && i+1 < len(args) {
			header := args[i+1]
			i++
			if _, ok := ready[header]; ok {
				out = append(out, a, pchPath(projectRoot, header))
			}
			continue
		}
		out = append(out, a)
	}
	return out
}

// pchPath is <project_root>/<SHA-256(path)>, the on-disk location of a
// header's persisted translation unit.
func pchPath(projectRoot, path string) string {
	sum := sha256.Sum256([]byte(path))
	return filepath.Join(projectRoot, hex.EncodeToString(sum[:]))
}
