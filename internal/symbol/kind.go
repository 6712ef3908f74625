package symbol

// CursorKind is a closed enumeration mirroring the subset of libclang
// cursor kinds the AST walk (internal/indexjob) cares about. It is its
// own type, independent of the parser binding, so the data model does
// not depend on libclang.
type CursorKind uint8

const (
	KindInvalid CursorKind = iota
	KindFunctionDecl
	KindStructDecl
	KindFieldDecl
	KindTypedefDecl
	KindEnumDecl
	KindEnumConstantDecl
	KindVarDecl
	KindParmDecl
	KindMacroDefinition
	KindMacroExpansion
	KindCallExpr
	KindDeclRefExpr
	KindTypeRef
	KindMemberRefExpr
	KindInclusionDirective
	KindConstructor
	KindDestructor
	KindCXXMethod
	KindClassDecl
	KindNamespace
	KindAccessSpecifier
	KindOther
)

var kindNames = map[CursorKind]string{
	KindInvalid:            "Invalid",
	KindFunctionDecl:       "FunctionDecl",
	KindStructDecl:         "StructDecl",
	KindFieldDecl:          "FieldDecl",
	KindTypedefDecl:        "TypedefDecl",
	KindEnumDecl:           "EnumDecl",
	KindEnumConstantDecl:   "EnumConstantDecl",
	KindVarDecl:            "VarDecl",
	KindParmDecl:           "ParmDecl",
	KindMacroDefinition:    "MacroDefinition",
	KindMacroExpansion:     "MacroExpansion",
	KindCallExpr:           "CallExpr",
	KindDeclRefExpr:        "DeclRefExpr",
	KindTypeRef:            "TypeRef",
	KindMemberRefExpr:      "MemberRefExpr",
	KindInclusionDirective: "InclusionDirective",
	KindConstructor:        "Constructor",
	KindDestructor:         "Destructor",
	KindCXXMethod:          "CXXMethod",
	KindClassDecl:          "ClassDecl",
	KindNamespace:          "Namespace",
	KindAccessSpecifier:    "AccessSpecifier",
	KindOther:              "Other",
}

func (k CursorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// IsDefinitionPreferred reports whether k should win a unite() tie
// against KindInvalid/zero when merging two CursorInfo.kind values: the
// non-null/defined one wins.
func (k CursorKind) IsDefinitionPreferred() bool {
	return k != KindInvalid
}

// IsMemberFunction reports whether k is one of the kinds that make a
// cursor/referent pair share a referrer set symmetrically.
func (k CursorKind) IsMemberFunction() bool {
	switch k {
	case KindConstructor, KindDestructor, KindCXXMethod:
		return true
	default:
		return false
	}
}
