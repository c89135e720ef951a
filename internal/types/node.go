package types

import (
	"fmt"
	"strings"
)

// ObjectClass is the root of every JVM class hierarchy
const ObjectClass = "java/lang/Object"

// FakeSuffix marks members synthesized by the multi-inheritance pass.
// Such members never exist in a class file.
const FakeSuffix = "$shrinker_fake"

// Node identifies a class or a member in the dependency graph.
// It is a comparable value so it can be used directly as a map key;
// class nodes have an empty Name and Desc.
type Node struct {
	Class string // internal class name, e.g. "com/example/Foo"
	Name  string // member name, empty for classes
	Desc  string // member descriptor, empty for classes
}

// ClassNode returns the node for an internal class name
func ClassNode(name string) Node {
	return Node{Class: name}
}

// MemberNode returns the node for a member of owner
func MemberNode(owner, name, desc string) Node {
	return Node{Class: owner, Name: name, Desc: desc}
}

// ParseNode parses the String form of a node: "pkg/Class" or "pkg/Class.name:desc".
// Member names may contain ':', so the descriptor starts at the first ':' that
// is followed by a well-formed descriptor.
func ParseNode(s string) (Node, error) {
	if s == "" {
		return Node{}, fmt.Errorf("empty node")
	}
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return ClassNode(s), nil
	}
	colon := descriptorColon(s, dot+1)
	if colon < 0 {
		return Node{}, fmt.Errorf("member node %q has no descriptor", s)
	}
	if dot == 0 || colon == dot+1 || colon == len(s)-1 {
		return Node{}, fmt.Errorf("malformed member node %q", s)
	}
	return MemberNode(s[:dot], s[dot+1:colon], s[colon+1:]), nil
}

// descriptorColon returns the index of the ':' separating name and descriptor,
// falling back to the first ':' when no descriptor is well formed
func descriptorColon(s string, from int) int {
	first := -1
	for i := from; i < len(s); i++ {
		if s[i] != ':' {
			continue
		}
		if first < 0 {
			first = i
		}
		if i > from && ValidDescriptor(s[i+1:]) {
			return i
		}
	}
	return first
}

// ValidDescriptor reports whether d is a well-formed field or method descriptor
func ValidDescriptor(d string) bool {
	if !strings.HasPrefix(d, "(") {
		return fieldTypeEnd(d, 0) == len(d)
	}
	i := 1
	for i < len(d) && d[i] != ')' {
		if i = fieldTypeEnd(d, i); i < 0 {
			return false
		}
	}
	if i >= len(d) {
		return false
	}
	i++
	return d[i:] == "V" || fieldTypeEnd(d, i) == len(d)
}

// fieldTypeEnd returns the index just past the field type starting at i, or -1
func fieldTypeEnd(d string, i int) int {
	for i < len(d) && d[i] == '[' {
		i++
	}
	if i >= len(d) {
		return -1
	}
	switch d[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1
	case 'L':
		end := strings.IndexByte(d[i:], ';')
		if end <= 1 {
			return -1
		}
		return i + end + 1
	}
	return -1
}

// IsZero reports whether n is the zero node
func (n Node) IsZero() bool {
	return n.Class == ""
}

// IsClass reports whether n denotes a class
func (n Node) IsClass() bool {
	return n.Name == ""
}

// IsMethod reports whether n denotes a method; fields have no parameter list.
func (n Node) IsMethod() bool {
	return strings.HasPrefix(n.Desc, "(")
}

// IsField reports whether n denotes a field
func (n Node) IsField() bool {
	return !n.IsClass() && !n.IsMethod()
}

// Owner returns the class node that declares n (n itself for classes)
func (n Node) Owner() Node {
	return ClassNode(n.Class)
}

// Signature returns "name:desc", the class-local identity of a member
func (n Node) Signature() string {
	if n.IsClass() {
		return ""
	}
	return n.Name + ":" + n.Desc
}

// String returns the content-addressed key of the node
func (n Node) String() string {
	if n.IsClass() {
		return n.Class
	}
	return n.Class + "." + n.Name + ":" + n.Desc
}

// Less orders nodes by class, then name, then descriptor
func (n Node) Less(o Node) bool {
	if n.Class != o.Class {
		return n.Class < o.Class
	}
	if n.Name != o.Name {
		return n.Name < o.Name
	}
	return n.Desc < o.Desc
}

// IsFakeMember reports whether n was synthesized by the shrinker
func IsFakeMember(n Node) bool {
	return strings.HasSuffix(n.Name, FakeSuffix)
}

// FakeMemberName returns the synthetic member name for an inherited method
func FakeMemberName(name string) string {
	return name + FakeSuffix
}

// MemberSignature joins a member name and descriptor the way Node.Signature does
func MemberSignature(name, desc string) string {
	return name + ":" + desc
}

// MarshalText lets nodes serve as JSON map keys
func (n Node) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText parses the String form
func (n *Node) UnmarshalText(text []byte) error {
	parsed, err := ParseNode(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
