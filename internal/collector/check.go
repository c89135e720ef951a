package collector

import (
	"slices"

	"github.com/standardbeagle/shrinker/internal/classfile"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

// CheckUnchanged verifies that a changed class file differs from its graph
// record only inside method bodies. Any other difference returns an
// IncrementalImpossibleError.
func CheckUnchanged(g graph.Reader, c *classfile.Class) error {
	name := c.Header.Name
	info, ok := g.ClassInfo(name)
	if !ok {
		return shrinkerrors.NewIncrementalImpossibleError(name, "class is not in the saved graph")
	}
	if err := compareHeader(info, c.Header); err != nil {
		return err
	}
	if !sameSet(info.Annotations, c.AnnotationTypes()) {
		return shrinkerrors.NewIncrementalImpossibleError(name, "class annotations changed")
	}
	outer := ""
	for _, ic := range c.InnerClasses {
		if ic.Inner == name && ic.Outer != "" {
			outer = ic.Outer
		}
	}
	if info.Fingerprint != classFingerprint(c.Header, c.Annotations, outer) {
		return shrinkerrors.NewIncrementalImpossibleError(name, "class signature, annotation values or outer class changed")
	}

	current := make(map[string]struct{}, len(c.Fields)+len(c.Methods))
	for _, f := range c.Fields {
		node := types.MemberNode(name, f.Name, f.Desc)
		if err := compareMember(g, node, f.Access, f.AnnotationTypes(), fieldFingerprint(f)); err != nil {
			return err
		}
		current[node.Signature()] = struct{}{}
	}
	for _, m := range c.Methods {
		node := types.MemberNode(name, m.Name, m.Desc)
		if err := compareMember(g, node, m.Access, m.AnnotationTypes(), methodFingerprint(m)); err != nil {
			return err
		}
		current[node.Signature()] = struct{}{}
	}

	for _, m := range g.Members(name) {
		if types.IsFakeMember(m.Node) {
			continue
		}
		if _, ok := current[m.Node.Signature()]; !ok {
			return shrinkerrors.NewIncrementalImpossibleError(m.Node.String(), "member was removed")
		}
	}
	return nil
}

func compareHeader(info graph.ClassInfo, h classfile.Header) error {
	switch {
	case info.Superclass != h.Super:
		return shrinkerrors.NewIncrementalImpossibleError(h.Name, "superclass changed from %q to %q", info.Superclass, h.Super)
	case !slices.Equal(info.Interfaces, h.Interfaces):
		return shrinkerrors.NewIncrementalImpossibleError(h.Name, "interfaces changed from %v to %v", info.Interfaces, h.Interfaces)
	case info.Access != h.Access:
		return shrinkerrors.NewIncrementalImpossibleError(h.Name, "modifiers changed from %s to %s", info.Access, h.Access)
	}
	return nil
}

func compareMember(g graph.Reader, node types.Node, access types.Access, annotations []string, fp uint64) error {
	info, ok := g.MemberInfo(node)
	switch {
	case !ok:
		return shrinkerrors.NewIncrementalImpossibleError(node.String(), "member was added")
	case info.Access != access:
		return shrinkerrors.NewIncrementalImpossibleError(node.String(), "modifiers changed from %s to %s", info.Access, access)
	case !sameSet(info.Annotations, annotations):
		return shrinkerrors.NewIncrementalImpossibleError(node.String(), "annotations changed")
	case info.Fingerprint != fp:
		return shrinkerrors.NewIncrementalImpossibleError(node.String(), "signature, exceptions or annotation values changed")
	}
	return nil
}

// checkMember is the per-member check repeated while re-scanning bodies
func (c *Collector) checkMember(node types.Node, access types.Access, annotations []string, fp uint64) error {
	return compareMember(c.g, node, access, annotations, fp)
}

func sameSet(a, b []string) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	as := slices.Clone(a)
	bs := slices.Clone(b)
	slices.Sort(as)
	slices.Sort(bs)
	return slices.Equal(slices.Compact(as), slices.Compact(bs))
}
