package types

import "strings"

// Access holds JVM access_flags for classes and members
type Access uint16

// JVM access flags (JVMS 4.1, 4.5, 4.6)
const (
	AccPublic       Access = 0x0001
	AccPrivate      Access = 0x0002
	AccProtected    Access = 0x0004
	AccStatic       Access = 0x0008
	AccFinal        Access = 0x0010
	AccSuper        Access = 0x0020 // classes; AccSynchronized for methods
	AccVolatile     Access = 0x0040 // fields; AccBridge for methods
	AccTransient    Access = 0x0080 // fields; AccVarargs for methods
	AccNative       Access = 0x0100
	AccInterface    Access = 0x0200
	AccAbstract     Access = 0x0400
	AccStrict       Access = 0x0800
	AccSynthetic    Access = 0x1000
	AccAnnotation   Access = 0x2000
	AccEnum         Access = 0x4000
	AccModule       Access = 0x8000
	AccSynchronized        = AccSuper
	AccBridge              = AccVolatile
	AccVarargs             = AccTransient
)

// Has reports whether every bit in flag is set
func (a Access) Has(flag Access) bool {
	return a&flag == flag
}

// IsStatic reports ACC_STATIC
func (a Access) IsStatic() bool { return a.Has(AccStatic) }

// IsInterface reports ACC_INTERFACE
func (a Access) IsInterface() bool { return a.Has(AccInterface) }

// IsAnnotation reports ACC_ANNOTATION
func (a Access) IsAnnotation() bool { return a.Has(AccAnnotation) }

// IsAbstract reports ACC_ABSTRACT
func (a Access) IsAbstract() bool { return a.Has(AccAbstract) }

// IsPrivate reports ACC_PRIVATE
func (a Access) IsPrivate() bool { return a.Has(AccPrivate) }

// IsPublic reports ACC_PUBLIC
func (a Access) IsPublic() bool { return a.Has(AccPublic) }

var classModifierNames = []struct {
	flag Access
	name string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccAbstract, "abstract"},
	{AccInterface, "interface"},
	{AccAnnotation, "annotation"},
	{AccEnum, "enum"},
	{AccSynthetic, "synthetic"},
}

// String renders the flags that matter for keep rules and diagnostics
func (a Access) String() string {
	var parts []string
	for _, m := range classModifierNames {
		if a.Has(m.flag) {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(parts, " ")
}

// Special member names
const (
	ConstructorName       = "<init>"
	StaticInitializerName = "<clinit>"
)
