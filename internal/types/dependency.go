package types

import "fmt"

// DependencyType describes how reachability flows along an edge
type DependencyType uint8

const (
	// RequiredClassStructure is unconditional: source reachable implies target reachable.
	RequiredClassStructure DependencyType = iota
	// RequiredCodeReference is unconditional and comes from method bodies.
	// Incremental runs drop and rebuild only this kind.
	RequiredCodeReference
	// IfClassKept pairs with ClassIsKept for method overrides.
	IfClassKept
	// ClassIsKept pairs with IfClassKept for method overrides.
	ClassIsKept
	// SuperinterfaceKept pairs with InterfaceImplemented for interfaces.
	SuperinterfaceKept
	// InterfaceImplemented pairs with SuperinterfaceKept for interfaces.
	InterfaceImplemented

	numDependencyTypes
)

var dependencyTypeNames = [...]string{
	RequiredClassStructure: "REQUIRED_CLASS_STRUCTURE",
	RequiredCodeReference:  "REQUIRED_CODE_REFERENCE",
	IfClassKept:            "IF_CLASS_KEPT",
	ClassIsKept:            "CLASS_IS_KEPT",
	SuperinterfaceKept:     "SUPERINTERFACE_KEPT",
	InterfaceImplemented:   "INTERFACE_IMPLEMENTED",
}

// String returns the canonical upper-case name
func (t DependencyType) String() string {
	if t < numDependencyTypes {
		return dependencyTypeNames[t]
	}
	return fmt.Sprintf("DependencyType(%d)", t)
}

// Valid reports whether t is one of the defined dependency types
func (t DependencyType) Valid() bool {
	return t < numDependencyTypes
}

// IsRequired reports whether t alone makes its target reachable
func (t DependencyType) IsRequired() bool {
	return t == RequiredClassStructure || t == RequiredCodeReference
}

// ParseDependencyType converts a canonical name back into a DependencyType
func ParseDependencyType(s string) (DependencyType, error) {
	for i, name := range dependencyTypeNames {
		if name == s {
			return DependencyType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown dependency type %q", s)
}

// AllDependencyTypes lists every dependency type in declaration order
func AllDependencyTypes() []DependencyType {
	out := make([]DependencyType, 0, numDependencyTypes)
	for t := DependencyType(0); t < numDependencyTypes; t++ {
		out = append(out, t)
	}
	return out
}

// Dependency is an outgoing edge of a node
type Dependency struct {
	Target Node
	Type   DependencyType
}

// String renders the edge target and type
func (d Dependency) String() string {
	return fmt.Sprintf("%s (%s)", d.Target, d.Type)
}

// CounterSet names an independent reachability universe over the same graph
type CounterSet string

const (
	// Shrink is the counter set used to decide what survives shrinking.
	Shrink CounterSet = "SHRINK"
	// LegacyMultidex selects the classes that must live in the main dex file.
	LegacyMultidex CounterSet = "LEGACY_MULTIDEX"
)

// String returns the counter set name
func (cs CounterSet) String() string {
	return string(cs)
}

// MarshalText encodes the canonical name
func (t DependencyType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid dependency type %d", t)
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes the canonical name
func (t *DependencyType) UnmarshalText(text []byte) error {
	parsed, err := ParseDependencyType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
