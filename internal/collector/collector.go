// Package collector turns the structure of one class file into graph nodes,
// typed edges and the follow-up work the post-processing passes need.
package collector

import (
	"slices"

	"github.com/standardbeagle/shrinker/internal/classfile"
	"github.com/standardbeagle/shrinker/internal/debug"
	shrinkerrors "github.com/standardbeagle/shrinker/internal/errors"
	"github.com/standardbeagle/shrinker/internal/graph"
	"github.com/standardbeagle/shrinker/internal/types"
)

// Mode selects what a collection run writes into the graph
type Mode int

const (
	// ModeLibrary adds the class and its members but no edges
	ModeLibrary Mode = iota
	// ModeProgram adds nodes, structure edges and code references
	ModeProgram
	// ModeCodeOnly adds only code-reference edges and unresolved references to
	// nodes that must already exist. Used when re-scanning changed method bodies.
	ModeCodeOnly
)

func (m Mode) String() string {
	switch m {
	case ModeLibrary:
		return "library"
	case ModeProgram:
		return "program"
	case ModeCodeOnly:
		return "code-only"
	}
	return "unknown"
}

// UnresolvedReference is a symbolic member reference found in a method body.
// Target carries the owner named at the call site, which may only inherit the member.
type UnresolvedReference struct {
	Source  types.Node
	Target  types.Node
	Special bool // invokespecial: resolve from the caller's superclass
}

// Result is the follow-up work produced for one class
type Result struct {
	Class            string
	VirtualMethods   []types.Node
	MultiInheritance bool
	Unresolved       []UnresolvedReference
}

// Options configures a collection run
type Options struct {
	Mode Mode
	// Source is the artifact handle recorded for program classes
	Source string
}

// Collect parses data and records it into g
func Collect(g graph.Graph, data []byte, opts Options) (*Result, error) {
	c, err := classfile.Parse(data)
	if err != nil {
		return nil, err
	}
	return CollectClass(g, c, opts)
}

// CollectClass records an already parsed class into g
func CollectClass(g graph.Graph, c *classfile.Class, opts Options) (*Result, error) {
	v := NewCollector(g, opts)
	if err := c.Accept(v); err != nil {
		return nil, err
	}
	return v.Result(), nil
}

// Collector implements classfile.Visitor for a single class
type Collector struct {
	g      graph.Graph
	opts   Options
	header classfile.Header
	class  types.Node
	annots []classfile.Annotation
	outer  string

	flushed bool
	result  Result
}

var _ classfile.Visitor = (*Collector)(nil)

// NewCollector creates a collector writing into g
func NewCollector(g graph.Graph, opts Options) *Collector {
	return &Collector{g: g, opts: opts}
}

// Result returns the collected follow-up work
func (c *Collector) Result() *Result {
	r := c.result
	return &r
}

func (c *Collector) edges() bool {
	return c.opts.Mode == ModeProgram
}

func (c *Collector) structure(src types.Node, classes ...string) {
	for _, cls := range classes {
		if cls == "" || cls == types.ObjectClass {
			continue
		}
		c.g.AddDependency(src, types.ClassNode(cls), types.RequiredClassStructure)
	}
}

func (c *Collector) code(src types.Node, classes ...string) {
	for _, cls := range classes {
		if cls == "" || cls == types.ObjectClass {
			continue
		}
		c.g.AddDependency(src, types.ClassNode(cls), types.RequiredCodeReference)
	}
}

// VisitHeader records the class header
func (c *Collector) VisitHeader(h classfile.Header) error {
	c.header = h
	c.class = types.ClassNode(h.Name)
	c.result.Class = h.Name

	if c.opts.Mode == ModeCodeOnly {
		info, ok := c.g.ClassInfo(h.Name)
		if !ok {
			return shrinkerrors.NewIncrementalImpossibleError(h.Name, "class is not in the saved graph")
		}
		return compareHeader(info, h)
	}

	if c.edges() {
		c.structure(c.class, h.Super)
		c.result.MultiInheritance = len(h.Interfaces) > 0
		if h.Signature != "" {
			// declared interfaces stay elidable even when the signature names them
			for _, cls := range signatureClasses(h.Name, h.Signature) {
				if !slices.Contains(h.Interfaces, cls) {
					c.structure(c.class, cls)
				}
			}
		}
	}
	return nil
}

// VisitAnnotation records a class annotation
func (c *Collector) VisitAnnotation(a classfile.Annotation) error {
	c.annots = append(c.annots, a)
	if c.edges() {
		c.annotationEdges(c.class, a)
	}
	return nil
}

func (c *Collector) annotationEdges(src types.Node, a classfile.Annotation) {
	a.Descriptors(func(desc string) {
		c.structure(src, classfile.DescriptorClasses(desc)...)
	})
}

// flushHeader adds the class node once its annotations are known
func (c *Collector) flushHeader() error {
	if c.flushed {
		return nil
	}
	c.flushed = true

	if c.opts.Mode == ModeCodeOnly {
		info, _ := c.g.ClassInfo(c.header.Name)
		if !sameSet(info.Annotations, annotationDescriptors(c.annots)) {
			return shrinkerrors.NewIncrementalImpossibleError(c.header.Name, "class annotations changed")
		}
		return nil
	}
	c.g.AddClass(c.classInfo())
	return nil
}

func (c *Collector) classInfo() graph.ClassInfo {
	source := ""
	if c.opts.Mode == ModeProgram {
		source = c.opts.Source
	}
	return graph.ClassInfo{
		Name:        c.header.Name,
		Superclass:  c.header.Super,
		Interfaces:  c.header.Interfaces,
		Access:      c.header.Access,
		Source:      source,
		Annotations: annotationDescriptors(c.annots),
		Fingerprint: classFingerprint(c.header, c.annots, c.outer),
	}
}

func annotationDescriptors(as []classfile.Annotation) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Type)
	}
	return out
}

// VisitInnerClass keeps an outer class alongside the inner class that names it
func (c *Collector) VisitInnerClass(ic classfile.InnerClass) error {
	if err := c.flushHeader(); err != nil {
		return err
	}
	if ic.Inner == c.header.Name && ic.Outer != "" {
		c.outer = ic.Outer
		if c.edges() {
			c.structure(c.class, ic.Outer)
		}
	}
	return nil
}

// VisitField records a field and its type references
func (c *Collector) VisitField(f classfile.Field) error {
	if err := c.flushHeader(); err != nil {
		return err
	}
	node := types.MemberNode(c.header.Name, f.Name, f.Desc)

	if c.opts.Mode == ModeCodeOnly {
		return c.checkMember(node, f.Access, f.AnnotationTypes(), fieldFingerprint(f))
	}

	c.g.AddMember(graph.MemberInfo{Node: node, Access: f.Access, Annotations: f.AnnotationTypes(), Fingerprint: fieldFingerprint(f)})
	if !c.edges() {
		return nil
	}

	c.g.AddDependency(node, c.class, types.RequiredClassStructure)
	c.structure(node, classfile.DescriptorClasses(f.Desc)...)
	if f.Signature != "" {
		c.structure(node, signatureClasses(node.String(), f.Signature)...)
	}
	for _, a := range f.Annotations {
		c.annotationEdges(node, a)
	}
	if c.header.Access.IsAnnotation() {
		c.g.AddDependency(c.class, node, types.RequiredClassStructure)
	}
	return nil
}

// VisitMethod records a method, its signature types and its override work item
func (c *Collector) VisitMethod(m classfile.Method) error {
	if err := c.flushHeader(); err != nil {
		return err
	}
	node := types.MemberNode(c.header.Name, m.Name, m.Desc)

	if c.opts.Mode == ModeCodeOnly {
		return c.checkMember(node, m.Access, m.AnnotationTypes(), methodFingerprint(m))
	}

	c.g.AddMember(graph.MemberInfo{Node: node, Access: m.Access, Annotations: m.AnnotationTypes(), Fingerprint: methodFingerprint(m)})
	if !c.edges() {
		return nil
	}

	c.g.AddDependency(node, c.class, types.RequiredClassStructure)
	c.structure(node, classfile.DescriptorClasses(m.Desc)...)
	c.structure(node, m.Exceptions...)
	if m.Signature != "" {
		c.structure(node, signatureClasses(node.String(), m.Signature)...)
	}
	for _, a := range m.Annotations {
		c.annotationEdges(node, a)
	}
	for _, params := range m.ParameterAnnotations {
		for _, a := range params {
			c.annotationEdges(node, a)
		}
	}
	if m.AnnotationDefault != nil {
		m.AnnotationDefault.Descriptors(func(desc string) {
			c.structure(node, classfile.DescriptorClasses(desc)...)
		})
	}

	if !m.Access.IsStatic() && m.Name != types.ConstructorName && m.Name != types.StaticInitializerName {
		c.result.VirtualMethods = append(c.result.VirtualMethods, node)
	}
	if m.Name == types.StaticInitializerName || c.header.Access.IsAnnotation() {
		c.g.AddDependency(c.class, node, types.RequiredClassStructure)
	}
	return nil
}

// VisitInstruction records code references from a method body
func (c *Collector) VisitInstruction(m classfile.Method, in classfile.Instruction) error {
	if c.opts.Mode == ModeLibrary {
		return nil
	}
	src := types.MemberNode(c.header.Name, m.Name, m.Desc)

	switch in.Kind {
	case classfile.InsnField, classfile.InsnMethod:
		c.memberReference(src, in.Ref, in.IsInvokeSpecial())
	case classfile.InsnType, classfile.InsnTryCatch:
		c.code(src, classfile.ClassFromTypeOperand(in.Type))
	case classfile.InsnMultiANewArray:
		c.code(src, classfile.DescriptorClasses(in.Type)...)
	case classfile.InsnLdc:
		c.constant(src, *in.Const)
	case classfile.InsnInvokeDynamic:
		c.code(src, classfile.DescriptorClasses(in.Dynamic.Desc)...)
		c.handle(src, in.Dynamic.Bootstrap.Handle)
		for _, arg := range in.Dynamic.Bootstrap.Arguments {
			c.constant(src, arg)
		}
	}
	return nil
}

func (c *Collector) memberReference(src types.Node, ref classfile.MemberRef, special bool) {
	owner := classfile.ClassFromTypeOperand(ref.Owner)
	if owner != ref.Owner {
		// array pseudo-members such as clone() only need the element class
		c.code(src, owner)
		return
	}
	c.code(src, owner)

	target := types.MemberNode(owner, ref.Name, ref.Desc)
	if special && (ref.Name == types.ConstructorName || owner == c.header.Name) {
		c.g.AddDependency(src, target, types.RequiredCodeReference)
		return
	}
	c.result.Unresolved = append(c.result.Unresolved, UnresolvedReference{Source: src, Target: target, Special: special})
}

func (c *Collector) handle(src types.Node, h classfile.Handle) {
	c.memberReference(src, h.MemberRef, h.Kind == classfile.RefInvokeSpecial || h.Kind == classfile.RefNewInvokeSpecial)
}

func (c *Collector) constant(src types.Node, k classfile.Constant) {
	switch k.Tag {
	case classfile.TagClass:
		c.code(src, classfile.ClassFromTypeOperand(k.Class))
	case classfile.TagMethodType, classfile.TagDynamic:
		c.code(src, classfile.DescriptorClasses(k.Desc)...)
	case classfile.TagMethodHandle:
		if k.Handle != nil {
			c.handle(src, *k.Handle)
		}
	}
}

// VisitEnd finishes the class
func (c *Collector) VisitEnd() error {
	if err := c.flushHeader(); err != nil {
		return err
	}
	if c.opts.Mode == ModeCodeOnly {
		info, _ := c.g.ClassInfo(c.header.Name)
		if info.Fingerprint != classFingerprint(c.header, c.annots, c.outer) {
			return shrinkerrors.NewIncrementalImpossibleError(c.header.Name, "class signature, annotation values or outer class changed")
		}
	} else {
		// inner-class records arrive after the class was first added
		c.g.AddClass(c.classInfo())
	}
	debug.Log(debug.ComponentCollector, "%s %s: %d virtual methods, %d unresolved references",
		c.opts.Mode, c.header.Name, len(c.result.VirtualMethods), len(c.result.Unresolved))
	return nil
}

func signatureClasses(owner, sig string) []string {
	classes, err := classfile.SignatureClasses(sig)
	if err != nil {
		debug.Logger(debug.ComponentCollector).Warn("ignoring malformed generic signature",
			"owner", owner, "error", err)
		return nil
	}
	return classes
}
