package keeprules

import (
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/shrinker/internal/classfile"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

var modifierFlags = map[string]types.Access{
	"public":       types.AccPublic,
	"private":      types.AccPrivate,
	"protected":    types.AccProtected,
	"static":       types.AccStatic,
	"final":        types.AccFinal,
	"synchronized": types.AccSynchronized,
	"volatile":     types.AccVolatile,
	"transient":    types.AccTransient,
	"native":       types.AccNative,
	"abstract":     types.AccAbstract,
	"strictfp":     types.AccStrict,
}

var primitives = map[string]bool{
	"boolean": true, "byte": true, "char": true, "short": true,
	"int": true, "long": true, "float": true, "double": true,
}

// classPattern converts a Java class name pattern into a doublestar pattern
// over internal names. '**' matches across packages; '*' stays inside one.
func classPattern(pattern string) (string, error) {
	p := strings.ReplaceAll(pattern, ".", "/")
	if !doublestar.ValidatePattern(p) {
		return "", fmt.Errorf("invalid class name pattern %q", pattern)
	}
	return p, nil
}

// matchClassName matches a class name pattern; a lone '*' matches any class
func matchClassName(pattern, internalName string) bool {
	if pattern == "*" {
		return true
	}
	return matchTypeName(pattern, internalName)
}

func matchTypeName(pattern, internalName string) bool {
	p, err := classPattern(pattern)
	if err != nil {
		return false
	}
	ok, _ := doublestar.Match(p, internalName)
	return ok
}

// matchNames applies the name list in order; the first matching pattern
// decides, so a negated pattern excludes what a later pattern would include
func matchNames(names []NamePattern, class string) bool {
	for _, n := range names {
		if matchClassName(n.Pattern, class) {
			return !n.Negate
		}
	}
	return false
}

func matchModifiers(mods []Modifier, access types.Access) bool {
	for _, m := range mods {
		if access.Has(modifierFlags[m.Name]) == m.Negate {
			return false
		}
	}
	return true
}

// matchAnnotation reports whether any annotation descriptor matches the
// Java name pattern; an empty pattern always matches
func matchAnnotation(pattern string, descriptors []string) bool {
	if pattern == "" {
		return true
	}
	for _, d := range descriptors {
		if strings.HasPrefix(d, "L") && strings.HasSuffix(d, ";") && matchClassName(pattern, d[1:len(d)-1]) {
			return true
		}
	}
	return false
}

func (s ClassSpec) matchType(access types.Access) bool {
	switch s.Type {
	case TypeInterface:
		return access.IsInterface()
	case TypeEnum:
		return access.Has(types.AccEnum)
	case TypeAnnotation:
		return access.IsAnnotation()
	}
	return true
}

// matchClass checks everything but the member list
func (s ClassSpec) matchClass(info graph.ClassInfo, g graph.Reader) bool {
	if !s.matchType(info.Access) || !matchModifiers(s.Modifiers, info.Access) {
		return false
	}
	if !matchAnnotation(s.Annotation, info.Annotations) || !matchNames(s.Names, info.Name) {
		return false
	}
	if s.Ancestor == "" {
		return true
	}
	for _, anc := range graph.Ancestors(g, info.Name, graph.WalkAll, nil) {
		if !matchClassName(s.Ancestor, anc) {
			continue
		}
		if s.AncestorAnnotation == "" {
			return true
		}
		if ai, ok := g.ClassInfo(anc); ok && matchAnnotation(s.AncestorAnnotation, ai.Annotations) {
			return true
		}
	}
	return false
}

// matchMember reports whether m satisfies the member spec
func (m MemberSpec) matchMember(info graph.MemberInfo) bool {
	node := info.Node
	if types.IsFakeMember(node) || node.Name == "<clinit>" {
		return false
	}
	if !matchModifiers(m.Modifiers, info.Access) || !matchAnnotation(m.Annotation, info.Annotations) {
		return false
	}
	switch m.Kind {
	case MemberAll:
		return true
	case MemberFields:
		return node.IsField()
	case MemberMethods:
		return node.IsMethod()
	case MemberField:
		return node.IsField() && matchName(m.Name, node.Name) && matchType(m.Type, node.Desc)
	case MemberMethod:
		if !node.IsMethod() || !matchName(m.Name, node.Name) {
			return false
		}
		params, ret, err := classfile.ParseMethodDescriptor(node.Desc)
		if err != nil || !matchType(m.Type, ret) {
			return false
		}
		return matchArgs(m.Args, params)
	}
	return false
}

func matchName(pattern, name string) bool {
	ok, _ := doublestar.Match(pattern, name)
	return ok
}

func matchArgs(patterns, params []string) bool {
	for i, p := range patterns {
		if p == "..." {
			return true
		}
		if i >= len(params) || !matchType(p, params[i]) {
			return false
		}
	}
	return len(patterns) == len(params)
}

// matchType matches a Java type pattern against a field descriptor.
// '***' matches any type, '%' any primitive, '**' any class type and '*' a
// class type without a package.
func matchType(pattern, desc string) bool {
	if pattern == "***" {
		return true
	}
	javaType := classfile.DescriptorToJavaType(desc)
	if desc == "V" {
		javaType = "void"
	}
	for strings.HasSuffix(pattern, "[]") {
		if !strings.HasSuffix(javaType, "[]") {
			return false
		}
		pattern = strings.TrimSuffix(pattern, "[]")
		javaType = strings.TrimSuffix(javaType, "[]")
	}
	if strings.HasSuffix(javaType, "[]") {
		return false
	}
	if pattern == "%" {
		return primitives[javaType]
	}
	if primitives[javaType] || javaType == "void" {
		return pattern == javaType
	}
	return matchTypeName(pattern, strings.ReplaceAll(javaType, ".", "/"))
}

// SymbolsToKeep returns the roots the rules contribute for class.
// -keep roots the class and its matching members unconditionally,
// -keepclassmembers roots matching members only while the class is kept, and
// -keepclasseswithmembers behaves like -keep when every member spec matches.
// Only program classes are ever rooted.
func (r *Rules) SymbolsToKeep(class string, g graph.Reader) map[types.Node]types.DependencyType {
	info, ok := g.ClassInfo(class)
	if !ok || !info.IsProgram() {
		return nil
	}
	var out map[types.Node]types.DependencyType
	add := func(n types.Node, t types.DependencyType) {
		if out == nil {
			out = make(map[types.Node]types.DependencyType)
		}
		if prev, ok := out[n]; ok && prev.IsRequired() {
			return
		}
		out[n] = t
	}

	members := g.Members(class)
	for _, rule := range r.rules {
		if rule.AllowShrinking || !rule.Class.matchClass(info, g) {
			continue
		}
		matched, complete := rule.Class.matchMembers(members)
		switch rule.Kind {
		case Keep:
			add(info.Node(), types.RequiredClassStructure)
			for _, n := range matched {
				add(n, types.RequiredClassStructure)
			}
		case KeepClassMembers:
			for _, n := range matched {
				add(n, types.IfClassKept)
			}
		case KeepClassesWithMembers:
			if !complete {
				continue
			}
			add(info.Node(), types.RequiredClassStructure)
			for _, n := range matched {
				add(n, types.RequiredClassStructure)
			}
		}
	}
	return out
}

// matchMembers returns members matching any spec, and whether every spec
// matched at least one member
func (s ClassSpec) matchMembers(members []graph.MemberInfo) ([]types.Node, bool) {
	var out []types.Node
	seen := make(map[types.Node]bool)
	complete := true
	for _, spec := range s.Members {
		hit := false
		for _, m := range members {
			if !spec.matchMember(m) {
				continue
			}
			hit = true
			if !seen[m.Node] {
				seen[m.Node] = true
				out = append(out, m.Node)
			}
		}
		complete = complete && hit
	}
	return out, complete
}
