// Package keeprules reads ProGuard-style keep rules and turns them into the
// root set of a counter set.
//
// Supported options are -keep, -keepclassmembers and -keepclasseswithmembers
// with class specifications of the form
//
//	-keep [,allowshrinking] [@Annotation] [[!]modifier...] class|interface|enum|@interface name[,name...]
//	      [extends|implements [@Annotation] name] [{ member; ... }]
//
// Class names use ProGuard wildcards: '?' and '*' stay within a package,
// '**' crosses packages. Other options are accepted and ignored.
package keeprules

import (
	"fmt"
	"os"
	"strings"

	"github.com/cespare/xxhash/v2"

	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
)

// Kind selects what a rule roots
type Kind int

const (
	// Keep roots matching classes and their matching members
	Keep Kind = iota
	// KeepClassMembers roots matching members only while their class is kept
	KeepClassMembers
	// KeepClassesWithMembers behaves like Keep when every member spec matches
	KeepClassesWithMembers
)

var ruleKinds = map[string]Kind{
	"-keep":                   Keep,
	"-keepclassmembers":       KeepClassMembers,
	"-keepclasseswithmembers": KeepClassesWithMembers,
}

func (k Kind) String() string {
	switch k {
	case Keep:
		return "-keep"
	case KeepClassMembers:
		return "-keepclassmembers"
	case KeepClassesWithMembers:
		return "-keepclasseswithmembers"
	}
	return "unknown"
}

// ClassType restricts which kind of class a spec matches
type ClassType int

const (
	TypeClass ClassType = iota // any class or interface
	TypeInterface
	TypeEnum
	TypeAnnotation
)

// Modifier is a possibly negated access modifier
type Modifier struct {
	Name   string
	Negate bool
}

// NamePattern is a possibly negated class name pattern in Java notation
type NamePattern struct {
	Pattern string
	Negate  bool
}

// MemberKind distinguishes member specifications
type MemberKind int

const (
	MemberAll     MemberKind = iota // *;
	MemberFields                    // <fields>;
	MemberMethods                   // <methods>;
	MemberField                     // type name;
	MemberMethod                    // type name(args); or <init>(args);
)

// MemberSpec matches fields or methods of a class
type MemberSpec struct {
	Kind       MemberKind
	Annotation string
	Modifiers  []Modifier
	Type       string   // Java type pattern; "***" matches any type
	Name       string   // name pattern
	Args       []string // Java type patterns; "..." matches any remaining arguments
}

// ClassSpec matches classes
type ClassSpec struct {
	Annotation         string
	Modifiers          []Modifier
	Type               ClassType
	Names              []NamePattern
	Ancestor           string
	AncestorAnnotation string
	Members            []MemberSpec
}

// Rule is one parsed keep option
type Rule struct {
	Kind           Kind
	AllowShrinking bool
	Class          ClassSpec
}

// Rules is a parsed rule set
type Rules struct {
	rules       []Rule
	fingerprint uint64
}

// Parse parses rule text; name is used in error messages
func Parse(name, src string) (*Rules, error) {
	p := &parser{name: name, tokens: tokenize(src)}
	rules, err := p.parse()
	if err != nil {
		return nil, shrinkerrors.NewConfigError("keep_rules", name, err)
	}
	for _, r := range rules {
		if err := r.Class.validate(); err != nil {
			return nil, shrinkerrors.NewConfigError("keep_rules", name, err)
		}
	}
	return &Rules{rules: rules, fingerprint: xxhash.Sum64String(src)}, nil
}

// Load parses and concatenates rule files
func Load(paths ...string) (*Rules, error) {
	var all []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, shrinkerrors.NewFileError("read", path, err)
		}
		all = append(all, "# "+path+"\n"+string(data))
	}
	out := &Rules{}
	d := xxhash.New()
	for i, src := range all {
		r, err := Parse(paths[i], src)
		if err != nil {
			return nil, err
		}
		out.rules = append(out.rules, r.rules...)
		_, _ = d.WriteString(src)
	}
	out.fingerprint = d.Sum64()
	return out, nil
}

// Rules returns the parsed rules
func (r *Rules) Rules() []Rule {
	return r.rules
}

// Len returns the number of rules
func (r *Rules) Len() int {
	return len(r.rules)
}

// Fingerprint identifies the rule text; a change invalidates saved roots
func (r *Rules) Fingerprint() string {
	return fmt.Sprintf("%016x", r.fingerprint)
}

func (s ClassSpec) validate() error {
	for _, n := range s.Names {
		if _, err := classPattern(n.Pattern); err != nil {
			return err
		}
	}
	return nil
}

// String renders the rule in rule-file syntax
func (r Rule) String() string {
	var b strings.Builder
	b.WriteString(r.Kind.String())
	if r.AllowShrinking {
		b.WriteString(",allowshrinking")
	}
	b.WriteString(" ")
	if r.Class.Annotation != "" {
		b.WriteString("@" + r.Class.Annotation + " ")
	}
	for _, m := range r.Class.Modifiers {
		if m.Negate {
			b.WriteString("!")
		}
		b.WriteString(m.Name + " ")
	}
	b.WriteString([]string{"class", "interface", "enum", "@interface"}[r.Class.Type])
	b.WriteString(" ")
	for i, n := range r.Class.Names {
		if i > 0 {
			b.WriteString(",")
		}
		if n.Negate {
			b.WriteString("!")
		}
		b.WriteString(n.Pattern)
	}
	if r.Class.Ancestor != "" {
		b.WriteString(" extends " + r.Class.Ancestor)
	}
	if len(r.Class.Members) > 0 {
		fmt.Fprintf(&b, " { %d members }", len(r.Class.Members))
	}
	return b.String()
}
