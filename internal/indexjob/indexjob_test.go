package indexjob

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cxindex/internal/astparse"
	"cxindex/internal/store"
	"cxindex/internal/symbol"
	"cxindex/internal/syncer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCursor is a hand-built AST node tree standing in for libclang, so
// the walk logic can be exercised without a real parser.
type fakeCursor struct {
	kind        symbol.CursorKind
	spelling    string
	displayName string
	loc         astparse.Location
	referenced  *fakeCursor
	definition  *fakeCursor
	isDefn      bool
	isRef       bool
	isTU        bool
	parent      *fakeCursor
	children    []*fakeCursor
}

func (f *fakeCursor) IsNull() bool { return f == nil }

func (f *fakeCursor) Kind() symbol.CursorKind {
	if f == nil {
		return symbol.KindInvalid
	}
	return f.kind
}

func (f *fakeCursor) Spelling() string {
	if f == nil {
		return ""
	}
	return f.spelling
}

func (f *fakeCursor) DisplayName() string {
	if f == nil {
		return ""
	}
	return f.displayName
}

func (f *fakeCursor) SpellingLocation() astparse.Location {
	if f == nil {
		return astparse.Location{}
	}
	return f.loc
}

func (f *fakeCursor) Referenced() astparse.Cursor {
	if f == nil || f.referenced == nil {
		return (*fakeCursor)(nil)
	}
	return f.referenced
}

func (f *fakeCursor) Definition() astparse.Cursor {
	if f == nil || f.definition == nil {
		return (*fakeCursor)(nil)
	}
	return f.definition
}

func (f *fakeCursor) Equal(other astparse.Cursor) bool {
	o, ok := other.(*fakeCursor)
	if !ok {
		return false
	}
	return f == o
}

func (f *fakeCursor) IsDefinition() bool {
	return f != nil && f.isDefn
}

func (f *fakeCursor) IsReference() bool {
	return f != nil && f.isRef
}

func (f *fakeCursor) IsTranslationUnit() bool {
	return f != nil && f.isTU
}

func (f *fakeCursor) SemanticParent() astparse.Cursor {
	if f == nil || f.parent == nil {
		return (*fakeCursor)(nil)
	}
	return f.parent
}

func (f *fakeCursor) Visit(fn func(cursor, parent astparse.Cursor) astparse.VisitResult) {
	if f == nil {
		return
	}
	for _, child := range f.children {
		result := fn(child, f)
		if result == astparse.VisitRecurse {
			child.Visit(fn)
		}
	}
}

type fakeTU struct {
	root        *fakeCursor
	inclusions  []astparse.IncludedFile
	saveErr     error
	savedTo     string
	disposed    bool
}

func (t *fakeTU) RootCursor() astparse.Cursor          { return t.root }
func (t *fakeTU) Inclusions() []astparse.IncludedFile  { return t.inclusions }
func (t *fakeTU) Save(path string) error               { t.savedTo = path; return t.saveErr }
func (t *fakeTU) Dispose()                             { t.disposed = true }

type fakeIndex struct {
	tu        astparse.TranslationUnit
	err       error
	lastArgs  []string
	lastInput string
}

func (fi *fakeIndex) Parse(file string, args []string) (astparse.TranslationUnit, error) {
	fi.lastInput = file
	fi.lastArgs = args
	return fi.tu, fi.err
}

func (fi *fakeIndex) Dispose() {}

type fakeContext struct {
	defaultArgs    []string
	allowPrefixes  []string
	readyOverride  []string
	pchDeps        map[string]symbol.PathSet
	errored        map[string]bool
	deltas         []map[string]symbol.PathSet
	sy             *syncer.Syncer
}

func newFakeContext(sy *syncer.Syncer) *fakeContext {
	return &fakeContext{
		allowPrefixes: []string{"/usr/home/"},
		pchDeps:       map[string]symbol.PathSet{},
		errored:       map[string]bool{},
		sy:            sy,
	}
}

func (c *fakeContext) DefaultArgs() []string                { return c.defaultArgs }
func (c *fakeContext) SystemHeaderAllowPrefixes() []string  { return c.allowPrefixes }

func (c *fakeContext) AwaitPCHReady(headers []string) []string {
	if c.readyOverride != nil {
		return c.readyOverride
	}
	var ready []string
	for _, h := range headers {
		if !c.errored[h] {
			ready = append(ready, h)
		}
	}
	return ready
}

func (c *fakeContext) PCHDependenciesFor(header string) symbol.PathSet {
	return c.pchDeps[header]
}

func (c *fakeContext) SetPCHDependencies(header string, deps symbol.PathSet) {
	c.pchDeps[header] = deps
}

func (c *fakeContext) SetPCHErrored(header string, errored bool) {
	c.errored[header] = errored
}

func (c *fakeContext) PostDependencyDelta(delta map[string]symbol.PathSet) {
	c.deltas = append(c.deltas, delta)
}

func (c *fakeContext) Syncer() *syncer.Syncer { return c.sy }

func newUnstartedSyncer(t *testing.T) *syncer.Syncer {
	t.Helper()
	dir, err := os.MkdirTemp("", "indexjob-store-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	s, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return syncer.New(s, discardLogger())
}

func TestRunParseFailureNonPCHEmitsNothing(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	job := &Job{
		ID: 1, ProjectRoot: "/proj", Input: "/proj/a.c", Args: []string{"-Wall"},
		Index: &fakeIndex{tu: nil}, Ctx: ctx, Log: discardLogger(),
	}

	result := job.Run()

	assert.True(t, result.ParseFailed)
	assert.False(t, result.IsPCH)
	assert.Empty(t, ctx.errored)
	assert.Empty(t, ctx.deltas)
	_, posted := ctx.sy.PeekFileInformation("/proj/a.c")
	assert.False(t, posted)
}

func TestRunParseFailurePCHMarksHeaderErrored(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	job := &Job{
		ID: 2, ProjectRoot: "/proj", Input: "/proj/pch.h",
		Args:  []string{"-x", "c++-header"},
		Index: &fakeIndex{tu: nil}, Ctx: ctx, Log: discardLogger(),
	}

	result := job.Run()

	require.True(t, result.IsPCH)
	assert.True(t, result.PCHErrored)
	assert.True(t, ctx.errored["/proj/pch.h"])
}

func TestRunRewritesReadyPCHArgsAndStripsErrored(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	ctx.errored["/hdr/bad.h"] = true
	idx := &fakeIndex{tu: &fakeTU{root: &fakeCursor{isTU: true}}}
	job := &Job{
		ID: 3, ProjectRoot: "/proj", Input: "/proj/user.cpp",
		Args:  []string{"-include-pch", "/hdr/good.h", "-include-pch", "/hdr/bad.h", "-Wall"},
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	job.Run()

	assert.Contains(t, idx.lastArgs, "-include-pch")
	assert.NotContains(t, idx.lastArgs, "/hdr/bad.h")
	assert.NotContains(t, idx.lastArgs, "/hdr/good.h")
	assert.Contains(t, idx.lastArgs, pchPath("/proj", "/hdr/good.h"))
}

func TestRunInclusionWalkFiltersSystemHeadersUnlessAllowlisted(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	idx := &fakeIndex{tu: &fakeTU{
		root: &fakeCursor{isTU: true},
		inclusions: []astparse.IncludedFile{
			{Path: "/usr/include/stdio.h"},
			{Path: "/usr/home/me/local.h"},
			{Path: "/proj/a.h"},
		},
	}}
	job := &Job{
		ID: 4, ProjectRoot: "/proj", Input: "/proj/a.c",
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	job.Run()

	require.Len(t, ctx.deltas, 1)
	delta := ctx.deltas[0]
	assert.NotContains(t, delta, "/usr/include/stdio.h")
	assert.Contains(t, delta, "/usr/home/me/local.h")
	assert.Contains(t, delta, "/proj/a.h")
}

func TestRunInclusionWalkSelfExcludesDefaultArgHeaders(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	ctx.defaultArgs = []string{"-I/builtin/inline.h"}
	idx := &fakeIndex{tu: &fakeTU{
		root: &fakeCursor{isTU: true},
		inclusions: []astparse.IncludedFile{
			{Path: "/builtin/inline.h"},
			{Path: "/proj/b.h"},
		},
	}}
	job := &Job{
		ID: 5, ProjectRoot: "/proj", Input: "/proj/b.c",
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	job.Run()

	delta := ctx.deltas[0]
	assert.NotContains(t, delta, "/builtin/inline.h")
	assert.Contains(t, delta, "/proj/b.h")
}

func TestRunTopLevelIncludeRecordsSelfEdge(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	idx := &fakeIndex{tu: &fakeTU{
		root: &fakeCursor{isTU: true},
		inclusions: []astparse.IncludedFile{
			{Path: "/proj/top.h", Stack: nil},
		},
	}}
	job := &Job{
		ID: 6, ProjectRoot: "/proj", Input: "/proj/c.c",
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	job.Run()

	delta := ctx.deltas[0]
	require.Contains(t, delta, "/proj/top.h")
	assert.Contains(t, delta["/proj/top.h"], "/proj/top.h")
}

// buildFunctionDefCursor constructs ns::Widget::run(int) as a
// FunctionDecl/definition cursor nested under a class and a namespace,
// the shape addNamePermutations walks.
func buildFunctionDefCursor(loc astparse.Location) *fakeCursor {
	tu := &fakeCursor{isTU: true}
	ns := &fakeCursor{kind: symbol.KindNamespace, displayName: "ns", parent: tu}
	class := &fakeCursor{kind: symbol.KindClassDecl, displayName: "Widget", parent: ns}
	method := &fakeCursor{
		kind: symbol.KindCXXMethod, spelling: "run", displayName: "run(int)",
		loc: loc, isDefn: true, parent: class,
	}
	class.children = []*fakeCursor{method}
	ns.children = []*fakeCursor{class}
	tu.children = []*fakeCursor{ns}
	return tu
}

func TestRunAddsNamePermutationsForDefinitions(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	loc := astparse.Location{Path: "/proj/widget.cpp", Offset: 42}
	idx := &fakeIndex{tu: &fakeTU{root: buildFunctionDefCursor(loc)}}
	job := &Job{
		ID: 7, ProjectRoot: "/proj", Input: "/proj/widget.cpp",
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	result := job.Run()

	require.False(t, result.ParseFailed)
	args, ok := ctx.sy.PeekFileInformation("/proj/widget.cpp")
	require.True(t, ok)
	assert.Empty(t, args)

	// The Syncer offers no read-back of buffered SymbolName deltas, so
	// check the permutations Run emits by walking the same tree directly.
	names := make(map[string]symbol.LocationSet)
	walkAST(buildFunctionDefCursor(loc), map[symbol.Location]symbol.CursorInfo{},
		names, map[symbol.Location]refEntry{}, symbol.NewPathSet())
	for _, name := range []string{
		"run(int)", "run",
		"Widget::run(int)", "Widget::run",
		"ns::Widget::run(int)", "ns::Widget::run",
	} {
		assert.Contains(t, names[name], loc.Location(), name)
	}
}

func TestRunPostsFileInformationWithOriginalArgs(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	idx := &fakeIndex{tu: &fakeTU{root: &fakeCursor{isTU: true}}}
	job := &Job{
		ID: 8, ProjectRoot: "/proj", Input: "/proj/d.c",
		Args:  []string{"-DFOO=1"},
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	job.Run()

	args, ok := ctx.sy.PeekFileInformation("/proj/d.c")
	require.True(t, ok)
	assert.Equal(t, []string{"-DFOO=1"}, args)
}

func TestRunPCHProducerSavesAndInstallsDependencies(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	idx := &fakeIndex{tu: &fakeTU{
		root: &fakeCursor{isTU: true},
		inclusions: []astparse.IncludedFile{
			{Path: "/proj/shared.h"},
		},
	}}
	job := &Job{
		ID: 9, ProjectRoot: "/proj", Input: "/proj/pch.h",
		Args:  []string{"-x", "c++-header"},
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	result := job.Run()

	require.True(t, result.IsPCH)
	assert.False(t, result.PCHErrored)
	assert.Equal(t, pchPath("/proj", "/proj/pch.h"), idx.tu.(*fakeTU).savedTo)
	assert.Contains(t, ctx.pchDeps["/proj/pch.h"], "/proj/shared.h")
	assert.False(t, ctx.errored["/proj/pch.h"])
}

func TestRunPCHSaveFailureMarksErrored(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	idx := &fakeIndex{tu: &fakeTU{
		root:    &fakeCursor{isTU: true},
		saveErr: assert.AnError,
	}}
	job := &Job{
		ID: 10, ProjectRoot: "/proj", Input: "/proj/pch2.h",
		Args:  []string{"-x", "c-header"},
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	result := job.Run()

	assert.True(t, result.PCHErrored)
	assert.True(t, ctx.errored["/proj/pch2.h"])
}

func TestExtractPCHHeadersAndIsPCHProducer(t *testing.T) {
	args := []string{"-include-pch", "/a.h", "-x", "c-header", "-Wall"}
	assert.Equal(t, []string{"/a.h"}, extractPCHHeaders(args))
	assert.True(t, isPCHProducer(args))
	assert.False(t, isPCHProducer([]string{"-Wall"}))
}

// buildCallSiteCursor builds a DeclRefExpr at callLoc referencing a
// FunctionDecl at defLoc, both reachable from the same root cursor the
// way an included header's declaration and a caller's call expression
// both surface in one translation unit's AST, the caller-callee shape
// of a plain (non-member) function call.
func buildCallSiteCursor(callLoc, defLoc astparse.Location) *fakeCursor {
	def := &fakeCursor{kind: symbol.KindFunctionDecl, spelling: "f", displayName: "f()", loc: defLoc, isDefn: true}
	call := &fakeCursor{
		kind: symbol.KindDeclRefExpr, spelling: "f", loc: callLoc,
		isRef: true, referenced: def,
	}
	tu := &fakeCursor{isTU: true, children: []*fakeCursor{def, call}}
	def.parent, call.parent = tu, tu
	return tu
}

func TestRunCallSiteGetsTargetAndReferentGetsReference(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	defLoc := astparse.Location{Path: "/proj/a.c", Offset: 10}
	callLoc := astparse.Location{Path: "/proj/b.c", Offset: 20}
	idx := &fakeIndex{tu: &fakeTU{root: buildCallSiteCursor(callLoc, defLoc)}}
	job := &Job{
		ID: 11, ProjectRoot: "/proj", Input: "/proj/b.c",
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	job.Run()

	callInfo, ok := ctx.sy.PeekSymbol(callLoc.Location())
	require.True(t, ok, "call site record must survive pruning since Target is set")
	require.NotNil(t, callInfo.Target)
	assert.Equal(t, defLoc.Location(), *callInfo.Target)

	defInfo, ok := ctx.sy.PeekSymbol(defLoc.Location())
	require.True(t, ok)
	assert.Contains(t, defInfo.References, callLoc.Location())
}

// buildMethodPairCursors builds a CXXMethod declaration and its matching
// out-of-line definition, each referencing the other, the symmetric
// declaration/definition shape member functions share.
func buildMethodPairCursors(declLoc, defLoc astparse.Location) (decl, def *fakeCursor) {
	decl = &fakeCursor{kind: symbol.KindCXXMethod, spelling: "run", displayName: "run()", loc: declLoc}
	def = &fakeCursor{kind: symbol.KindCXXMethod, spelling: "run", displayName: "run()", loc: defLoc, isDefn: true}
	decl.referenced = def
	def.referenced = decl
	return decl, def
}

func TestRunMemberFunctionPairResolvesTargetsSymmetrically(t *testing.T) {
	sy := newUnstartedSyncer(t)
	ctx := newFakeContext(sy)
	declLoc := astparse.Location{Path: "/proj/widget.h", Offset: 5}
	defLoc := astparse.Location{Path: "/proj/widget.cpp", Offset: 50}
	decl, def := buildMethodPairCursors(declLoc, defLoc)
	tu := &fakeCursor{isTU: true, children: []*fakeCursor{decl, def}}
	decl.parent, def.parent = tu, tu

	idx := &fakeIndex{tu: &fakeTU{root: tu}}
	job := &Job{
		ID: 12, ProjectRoot: "/proj", Input: "/proj/widget.cpp",
		Index: idx, Ctx: ctx, Log: discardLogger(),
	}

	job.Run()

	declInfo, ok := ctx.sy.PeekSymbol(declLoc.Location())
	require.True(t, ok, "declaration record must survive pruning since Target is set")
	defInfo, ok := ctx.sy.PeekSymbol(defLoc.Location())
	require.True(t, ok, "definition record must survive pruning since Target is set")

	require.NotNil(t, declInfo.Target)
	assert.Equal(t, defLoc.Location(), *declInfo.Target)
	require.NotNil(t, defInfo.Target)
	assert.Equal(t, declLoc.Location(), *defInfo.Target)
}

func TestRewritePCHArgsDropsUnreadyKeepsReady(t *testing.T) {
	args := []string{"-include-pch", "/a.h", "-include-pch", "/b.h"}
	ready := map[string]struct{}{"/a.h": {}}
	out := rewritePCHArgs(args, ready, "/root")
	assert.Equal(t, []string{"-include-pch", pchPath("/root", "/a.h")}, out)
}
