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

package astparse

import (
	"cxindex/internal/canon"
	"cxindex/internal/symbol"

	clang "github.com/sbinet/go-clang"
)

// clangIndex adapts clang.Index, constructed with clang.NewIndex(0, 0),
// to the Index contract.
type clangIndex struct {
	idx clang.Index
}

// NewIndex opens a fresh parser index context.
func NewIndex() Index {
	return &clangIndex{idx: clang.NewIndex(0, 0)}
}

func (ci *clangIndex) Dispose() {
	ci.idx.Dispose()
}

func (ci *clangIndex) Parse(file string, args []string) (TranslationUnit, error) {
	// TU_Incomplete tolerates missing declarations; TU_DetailedPreprocessingRecord
	// is needed to recover macro expansions/definitions.
	flags := clang.TU_DetailedPreprocessingRecord | clang.TU_Incomplete
	tu := ci.idx.Parse(file, args, nil, flags)
	if tu.IsNull() {
		return nil, nil
	}
	return &clangTranslationUnit{tu: tu}, nil
}

type clangTranslationUnit struct {
	tu clang.TranslationUnit
}

func (ctu *clangTranslationUnit) RootCursor() Cursor {
	return wrapCursor(ctu.tu.ToCursor())
}

func (ctu *clangTranslationUnit) Inclusions() []IncludedFile {
	var out []IncludedFile
	ctu.tu.GetInclusions(func(included clang.File, stack []clang.SourceLocation) {
		path := canon.Path(included.Name())
		var stackPaths []string
		for _, loc := range stack {
			f, _, _, _ := loc.GetFileLocation()
			if f.Name() != "" {
				stackPaths = append(stackPaths, canon.Path(f.Name()))
			}
		}
		out = append(out, IncludedFile{Path: path, Stack: stackPaths})
	})
	return out
}

func (ctu *clangTranslationUnit) Save(path string) error {
	if ctu.tu.Save(path, ctu.tu.DefaultSaveOptions()) != clang.SaveError_None {
		return errSaveFailed(path)
	}
	return nil
}

func (ctu *clangTranslationUnit) Dispose() {
	ctu.tu.Dispose()
}

type errSaveFailed string

func (e errSaveFailed) Error() string { return "astparse: unable to save translation unit to " + string(e) }

type clangCursor struct {
	c clang.Cursor
}

func wrapCursor(c clang.Cursor) Cursor {
	return clangCursor{c: c}
}

func (cc clangCursor) IsNull() bool { return cc.c.IsNull() }

func (cc clangCursor) Kind() symbol.CursorKind {
	return toSymbolKind(cc.c.Kind())
}

func (cc clangCursor) Spelling() string { return cc.c.Spelling() }

func (cc clangCursor) DisplayName() string { return cc.c.DisplayName() }

func (cc clangCursor) SpellingLocation() Location {
	file, line, col, offset := cc.c.Location().GetSpellingLocation()
	name := file.Name()
	if name == "" {
		return Location{}
	}
	return Location{
		Path:   canon.Path(name),
		Line:   int(line),
		Col:    int(col),
		Offset: uint32(offset),
	}
}

func (cc clangCursor) Referenced() Cursor { return wrapCursor(cc.c.Referenced()) }

func (cc clangCursor) Definition() Cursor { return wrapCursor(cc.c.DefinitionCursor()) }

func (cc clangCursor) Equal(other Cursor) bool {
	o, ok := other.(clangCursor)
	if !ok {
		return false
	}
	return cc.c.Equal(o.c)
}

func (cc clangCursor) IsDefinition() bool { return cc.c.IsDefinition() }

func (cc clangCursor) IsReference() bool { return cc.c.Kind().IsReference() }

func (cc clangCursor) IsTranslationUnit() bool { return cc.c.Kind().IsTranslationUnit() }

func (cc clangCursor) SemanticParent() Cursor { return wrapCursor(cc.c.SemanticParent()) }

func (cc clangCursor) Visit(fn func(cursor, parent Cursor) VisitResult) {
	cc.c.Visit(func(cursor, parent clang.Cursor) clang.ChildVisitResult {
		switch fn(wrapCursor(cursor), wrapCursor(parent)) {
		case VisitBreak:
			return clang.CVR_Break
		case VisitContinue:
			return clang.CVR_Continue
		default:
			return clang.CVR_Recurse
		}
	})
}

// toSymbolKind maps the subset of libclang cursor kinds the AST walk
// cares about onto the data model's own closed enumeration
// (internal/symbol.CursorKind), keeping the persisted Symbol database
// independent of the parser binding.
func toSymbolKind(k clang.CursorKind) symbol.CursorKind {
	switch k {
	case clang.CK_FunctionDecl:
		return symbol.KindFunctionDecl
	case clang.CK_StructDecl:
		return symbol.KindStructDecl
	case clang.CK_ClassDecl:
		return symbol.KindClassDecl
	case clang.CK_FieldDecl:
		return symbol.KindFieldDecl
	case clang.CK_TypedefDecl:
		return symbol.KindTypedefDecl
	case clang.CK_EnumDecl:
		return symbol.KindEnumDecl
	case clang.CK_EnumConstantDecl:
		return symbol.KindEnumConstantDecl
	case clang.CK_VarDecl:
		return symbol.KindVarDecl
	case clang.CK_ParmDecl:
		return symbol.KindParmDecl
	case clang.CK_MacroDefinition:
		return symbol.KindMacroDefinition
	case clang.CK_MacroExpansion:
		return symbol.KindMacroExpansion
	case clang.CK_CallExpr:
		return symbol.KindCallExpr
	case clang.CK_DeclRefExpr:
		return symbol.KindDeclRefExpr
	case clang.CK_TypeRef:
		return symbol.KindTypeRef
	case clang.CK_MemberRefExpr:
		return symbol.KindMemberRefExpr
	case clang.CK_InclusionDirective:
		return symbol.KindInclusionDirective
	case clang.CK_Constructor:
		return symbol.KindConstructor
	case clang.CK_Destructor:
		return symbol.KindDestructor
	case clang.CK_CXXMethod:
		return symbol.KindCXXMethod
	case clang.CK_Namespace:
		return symbol.KindNamespace
	case clang.CK_CXXAccessSpecifier:
		return symbol.KindAccessSpecifier
	default:
		return symbol.KindOther
	}
}
