package shrink

import (
	"github.com/standardbeagle/shrinker/internal/collector"
	"github.com/standardbeagle/shrinker/internal/diagnostics"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

// objectContract lists Object methods that are invoked implicitly by the
// runtime and collections; overrides are always kept
var objectContract = map[string]bool{
	"hashCode:()I":                   true,
	"equals:(Ljava/lang/Object;)Z":   true,
	"toString:()Ljava/lang/String;": true,
}

// Passes adds the hierarchy-derived edges for program classes. Every method
// only adds nodes and edges, so the passes of different classes may run
// concurrently once all classes are scanned.
type Passes struct {
	g        graph.Graph
	sink     *diagnostics.Sink
	resolver *Resolver
}

// NewPasses creates the post-processing passes over g
func NewPasses(g graph.Graph, sink *diagnostics.Sink, resolver *Resolver) *Passes {
	return &Passes{g: g, sink: sink, resolver: resolver}
}

// Run applies every pass to the work collected for one class
func (p *Passes) Run(work *collector.Result) {
	for _, m := range work.VirtualMethods {
		p.Override(m)
	}
	if work.MultiInheritance {
		p.MultiInheritance(work.Class)
	}
	p.Interfaces(work.Class)
	if p.resolver != nil {
		p.resolver.ResolveAll(work.Unresolved)
	}
}

// Override wires a virtual method to the ancestor methods it overrides.
// Library ancestors and the Object contract force the method to stay with its
// class; a program ancestor method keeps the override only while the
// overriding class is kept.
func (p *Passes) Override(method types.Node) {
	info, ok := p.g.MemberInfo(method)
	if !ok || info.Access.IsPrivate() || info.Access.IsStatic() {
		return
	}
	class := method.Owner()
	if objectContract[method.Signature()] {
		p.g.AddDependency(class, method, types.RequiredClassStructure)
		return
	}
	for _, anc := range graph.Ancestors(p.g, method.Class, graph.WalkAll, p.sink) {
		overridden, ok := p.g.FindMember(anc, method.Name, method.Desc)
		if !ok {
			continue
		}
		ai, _ := p.g.MemberInfo(overridden)
		if ai.Access.IsStatic() || ai.Access.IsPrivate() {
			continue
		}
		if !p.g.IsProgramClass(anc) {
			p.g.AddDependency(class, method, types.RequiredClassStructure)
			continue
		}
		p.g.AddDependency(class, method, types.ClassIsKept)
		p.g.AddDependency(overridden, method, types.IfClassKept)
	}
}

// MultiInheritance covers interface methods a class implements only through
// a program superclass. A fake member on the class stands in for the
// inherited implementation and is paired like an override, so a call through
// the interface keeps the superclass method while the class is kept.
func (p *Passes) MultiInheritance(class string) {
	info, ok := p.g.ClassInfo(class)
	if !ok || info.Access.IsInterface() {
		return
	}
	supers := graph.Ancestors(p.g, class, graph.WalkSuperclasses, p.sink)
	for _, itf := range graph.SuperInterfaces(p.g, class, p.sink) {
		for _, im := range p.g.Members(itf) {
			n := im.Node
			if !n.IsMethod() || im.Access.IsStatic() || n.Name == types.StaticInitializerName {
				continue
			}
			if _, declared := p.g.FindMember(class, n.Name, n.Desc); declared {
				continue
			}
			p.inherited(class, im.Node, supers)
		}
	}
}

func (p *Passes) inherited(class string, itfMethod types.Node, supers []string) {
	for _, sup := range supers {
		impl, ok := p.g.FindMember(sup, itfMethod.Name, itfMethod.Desc)
		if !ok {
			continue
		}
		if !p.g.IsProgramClass(sup) {
			return
		}
		fake := p.g.AddMember(graph.MemberInfo{
			Node:   types.MemberNode(class, types.FakeMemberName(itfMethod.Name), itfMethod.Desc),
			Access: types.AccPublic | types.AccSynthetic,
		})
		p.g.AddDependency(fake, impl, types.RequiredClassStructure)
		p.g.AddDependency(types.ClassNode(class), fake, types.ClassIsKept)
		p.g.AddDependency(itfMethod, fake, types.IfClassKept)
		return
	}
}

// Interfaces adds the interface pairing edges. A program interface is kept
// from its superinterfaces downwards; library superinterfaces are always
// present, so the sub-interface gets that half from an implicit root. Each
// concrete class marks every program interface it transitively implements.
func (p *Passes) Interfaces(class string) {
	info, ok := p.g.ClassInfo(class)
	if !ok || !info.IsProgram() {
		return
	}
	node := info.Node()
	if info.Access.IsInterface() {
		for _, super := range info.Interfaces {
			if p.g.IsProgramClass(super) {
				p.g.AddDependency(types.ClassNode(super), node, types.SuperinterfaceKept)
			} else {
				p.g.AddImplicitRoot(node, types.SuperinterfaceKept)
			}
		}
		return
	}
	for _, itf := range graph.SuperInterfaces(p.g, class, p.sink) {
		if p.g.IsProgramClass(itf) {
			p.g.AddDependency(node, types.ClassNode(itf), types.InterfaceImplemented)
		}
	}
}
