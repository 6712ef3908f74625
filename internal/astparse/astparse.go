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

// Package astparse wraps the parser contract - create an index context;
// parse with incomplete-toleration; enumerate inclusions with their
// include stacks; visit children recursively; cursor introspection;
// save/dispose - around github.com/sbinet/go-clang. indexjob depends
// only on the interfaces in this file, never on the clang package
// itself: nothing outside this package imports clang.
package astparse

import "cxindex/internal/symbol"

// VisitResult tells the AST walker whether to continue, recurse into,
// or stop visiting a cursor's children.
type VisitResult int

const (
	VisitBreak VisitResult = iota
	VisitContinue
	VisitRecurse
)

// Location is the (path, line, col, offset) a Cursor resolves to. Path
// is empty for built-in/no-file cursors - those get recursed into
// without recording anything.
type Location struct {
	Path   string
	Line   int
	Col    int
	Offset uint32
}

// Location converts l to the data model's (path, offset) Location.
func (l Location) Location() symbol.Location {
	return symbol.Location{Path: l.Path, Offset: l.Offset}
}

// IsNull reports a built-in or otherwise fileless location.
func (l Location) IsNull() bool { return l.Path == "" }

// Cursor is a parser-level handle to an AST node: kind, spelling,
// display name, spelling location, referenced cursor, definition
// cursor, equality, validity, translation-unit detection, is-definition,
// is-reference, semantic parent.
type Cursor interface {
	IsNull() bool
	Kind() symbol.CursorKind
	Spelling() string
	DisplayName() string
	SpellingLocation() Location
	Referenced() Cursor
	Definition() Cursor
	Equal(other Cursor) bool
	IsDefinition() bool
	IsReference() bool
	IsTranslationUnit() bool
	SemanticParent() Cursor
	// Visit recurses into this cursor's children, calling fn for each.
	Visit(fn func(cursor, parent Cursor) VisitResult)
}

// IncludedFile describes one file reported while walking a translation
// unit's inclusions.
type IncludedFile struct {
	// Path is the canonicalized path of the included file.
	Path string
	// Stack holds, for each enclosing #include, the canonicalized path
	// of the file that performed that include - outermost first. An
	// empty Stack means this is a top-level include of the main file.
	Stack []string
}

// TranslationUnit is a parsed translation unit: a source file plus its
// compiler arguments, as seen by the parser.
type TranslationUnit interface {
	// RootCursor returns the cursor rooted at this translation unit,
	// the starting point for the AST walk.
	RootCursor() Cursor
	// Inclusions enumerates every file this translation unit includes,
	// directly or transitively, each with its include stack.
	Inclusions() []IncludedFile
	// Save persists this translation unit to path, for PCH reuse.
	Save(path string) error
	// Dispose releases the translation unit's resources.
	Dispose()
}

// Index is a parser index context: the scope within which translation
// units are created.
type Index interface {
	// Parse builds a translation unit from file and its argument
	// vector, tolerating missing declarations ("incomplete"). A nil
	// TranslationUnit (with nil error) is a parse failure, mirroring
	// libclang's null CXTranslationUnit - not a Go error, since it is
	// an expected, handled outcome.
	Parse(file string, args []string) (TranslationUnit, error)
	// Dispose releases the index context's resources.
	Dispose()
}
