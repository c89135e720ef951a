// Package classfile reads and filters JVM class files.
//
// Parse decodes the structure the shrinker needs (header, members, annotations,
// inner-class records and the symbolic references inside method bodies). Walk
// replays a parsed class as visitor events in file order. Rewrite drops members
// and interfaces from a class while copying everything else byte for byte.
package classfile

import (
	"fmt"

	"github.com/standardbeagle/shrinker/internal/types"
)

// Magic is the class file signature
const Magic = 0xCAFEBABE

// MemberRef is a symbolic field or method reference
type MemberRef struct {
	Owner     string
	Name      string
	Desc      string
	Interface bool // CONSTANT_InterfaceMethodref
}

// Method handle reference kinds
const (
	RefGetField         = 1
	RefGetStatic        = 2
	RefPutField         = 3
	RefPutStatic        = 4
	RefInvokeVirtual    = 5
	RefInvokeStatic     = 6
	RefInvokeSpecial    = 7
	RefNewInvokeSpecial = 8
	RefInvokeInterface  = 9
)

// Handle is a CONSTANT_MethodHandle
type Handle struct {
	Kind uint8
	MemberRef
}

// IsField reports whether the handle targets a field
func (h Handle) IsField() bool {
	return h.Kind >= RefGetField && h.Kind <= RefPutStatic
}

// Constant is a loadable constant (ldc operand or bootstrap argument)
type Constant struct {
	Tag    uint8
	Class  string // TagClass: internal name or array descriptor
	String string
	Desc   string // TagMethodType, TagDynamic
	Handle *Handle
	Number uint64
}

// Header is the class-level part of a class file
type Header struct {
	Major      uint16
	Minor      uint16
	Access     types.Access
	Name       string
	Super      string // empty for java/lang/Object and module-info
	Interfaces []string
	Signature  string
}

// ElementValue is one annotation element value
type ElementValue struct {
	Tag        byte // B C D F I J S Z s e c @ [
	Const      Constant
	EnumType   string // field descriptor of the enum
	EnumName   string
	ClassDesc  string // return descriptor of a class literal
	Annotation *Annotation
	Array      []ElementValue
}

// ElementPair is a named annotation element
type ElementPair struct {
	Name  string
	Value ElementValue
}

// Annotation is one RuntimeVisible/InvisibleAnnotations entry
type Annotation struct {
	Type     string // field descriptor, e.g. "Lcom/example/Keep;"
	Visible  bool
	Elements []ElementPair
}

// InnerClass is one InnerClasses attribute record
type InnerClass struct {
	Inner  string
	Outer  string // empty for local and anonymous classes
	Name   string // simple name, empty for anonymous classes
	Access types.Access
}

// Field is a declared field
type Field struct {
	Access      types.Access
	Name        string
	Desc        string
	Signature   string
	Annotations []Annotation

	start, end int
}

// MemberSignature returns "name:desc"
func (f Field) MemberSignature() string {
	return types.MemberSignature(f.Name, f.Desc)
}

// Method is a declared method
type Method struct {
	Access               types.Access
	Name                 string
	Desc                 string
	Signature            string
	Exceptions           []string
	Annotations          []Annotation
	ParameterAnnotations [][]Annotation
	AnnotationDefault    *ElementValue
	Instructions         []Instruction
	HasCode              bool

	start, end int
}

// MemberSignature returns "name:desc"
func (m Method) MemberSignature() string {
	return types.MemberSignature(m.Name, m.Desc)
}

// BootstrapMethod is one BootstrapMethods attribute entry
type BootstrapMethod struct {
	Handle    Handle
	Arguments []Constant
}

// Class is a parsed class file
type Class struct {
	Header       Header
	Annotations  []Annotation
	InnerClasses []InnerClass
	Fields       []Field
	Methods      []Method
	Bootstrap    []BootstrapMethod

	// raw offsets used by Rewrite
	interfacesStart int
	fieldsStart     int
	methodsStart    int
	attributesStart int
}

// AnnotationTypes returns the descriptors of the class's own annotations
func (c *Class) AnnotationTypes() []string {
	return annotationTypes(c.Annotations)
}

func annotationTypes(as []Annotation) []string {
	if len(as) == 0 {
		return nil
	}
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Type)
	}
	return out
}

// AnnotationTypes returns the descriptors of the field's annotations
func (f Field) AnnotationTypes() []string {
	return annotationTypes(f.Annotations)
}

// AnnotationTypes returns the descriptors of the method's annotations,
// including parameter annotations
func (m Method) AnnotationTypes() []string {
	out := annotationTypes(m.Annotations)
	for _, params := range m.ParameterAnnotations {
		out = append(out, annotationTypes(params)...)
	}
	return out
}

// Parse decodes class bytes
func Parse(data []byte) (*Class, error) {
	r := &reader{data: data}
	if magic := r.u4(); r.err == nil && magic != Magic {
		return nil, fmt.Errorf("bad magic 0x%08x", magic)
	}
	c := &Class{}
	c.Header.Minor = r.u2()
	c.Header.Major = r.u2()
	if r.err != nil {
		return nil, r.err
	}

	cp, err := readConstantPool(r)
	if err != nil {
		return nil, fmt.Errorf("constant pool: %w", err)
	}

	c.Header.Access = types.Access(r.u2())
	if c.Header.Name, err = cp.className(r.u2()); err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	if super := r.u2(); super != 0 {
		if c.Header.Super, err = cp.className(super); err != nil {
			return nil, fmt.Errorf("super_class: %w", err)
		}
	}

	c.interfacesStart = r.pos
	n := int(r.u2())
	for i := 0; i < n; i++ {
		name, err := cp.className(r.u2())
		if err != nil {
			return nil, fmt.Errorf("interface %d: %w", i, err)
		}
		c.Header.Interfaces = append(c.Header.Interfaces, name)
	}

	// Code attributes reference bootstrap methods declared after them; members are
	// located first and decoded once the class attributes are known.
	c.fieldsStart = r.pos
	fieldSpans, err := skipMembers(r)
	if err != nil {
		return nil, fmt.Errorf("fields: %w", err)
	}
	c.methodsStart = r.pos
	methodSpans, err := skipMembers(r)
	if err != nil {
		return nil, fmt.Errorf("methods: %w", err)
	}
	c.attributesStart = r.pos

	if err := c.readClassAttributes(r, cp); err != nil {
		return nil, err
	}
	if r.pos != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after class attributes", len(data)-r.pos)
	}

	for _, sp := range fieldSpans {
		f, err := c.readField(data, sp, cp)
		if err != nil {
			return nil, err
		}
		c.Fields = append(c.Fields, f)
	}
	for _, sp := range methodSpans {
		m, err := c.readMethod(data, sp, cp)
		if err != nil {
			return nil, err
		}
		c.Methods = append(c.Methods, m)
	}
	return c, nil
}

type span struct{ start, end int }

// skipMembers records the byte span of each field_info or method_info
func skipMembers(r *reader) ([]span, error) {
	n := int(r.u2())
	spans := make([]span, 0, n)
	for i := 0; i < n; i++ {
		start := r.pos
		r.skip(6)
		skipAttributes(r)
		if r.err != nil {
			return nil, r.err
		}
		spans = append(spans, span{start, r.pos})
	}
	return spans, r.err
}

func skipAttributes(r *reader) {
	n := int(r.u2())
	for i := 0; i < n && r.err == nil; i++ {
		r.skip(2)
		r.skip(int(r.u4()))
	}
}

type attribute struct {
	name string
	data []byte
}

func readAttributes(r *reader, cp constantPool) ([]attribute, error) {
	n := int(r.u2())
	attrs := make([]attribute, 0, n)
	for i := 0; i < n; i++ {
		name, err := cp.utf8(r.u2())
		if err != nil {
			return nil, fmt.Errorf("attribute name: %w", err)
		}
		body := r.bytes(int(r.u4()))
		if r.err != nil {
			return nil, r.err
		}
		attrs = append(attrs, attribute{name: name, data: body})
	}
	return attrs, r.err
}

func (c *Class) readClassAttributes(r *reader, cp constantPool) error {
	attrs, err := readAttributes(r, cp)
	if err != nil {
		return fmt.Errorf("class attributes: %w", err)
	}
	for _, a := range attrs {
		ar := &reader{data: a.data}
		switch a.name {
		case "Signature":
			c.Header.Signature, err = cp.utf8(ar.u2())
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			var as []Annotation
			as, err = readAnnotations(ar, cp, a.name == "RuntimeVisibleAnnotations")
			c.Annotations = append(c.Annotations, as...)
		case "InnerClasses":
			c.InnerClasses, err = readInnerClasses(ar, cp)
		case "BootstrapMethods":
			c.Bootstrap, err = readBootstrapMethods(ar, cp)
		}
		if err == nil {
			err = ar.err
		}
		if err != nil {
			return fmt.Errorf("class attribute %s: %w", a.name, err)
		}
	}
	return nil
}

func readInnerClasses(r *reader, cp constantPool) ([]InnerClass, error) {
	n := int(r.u2())
	out := make([]InnerClass, 0, n)
	for i := 0; i < n; i++ {
		innerIdx, outerIdx, nameIdx := r.u2(), r.u2(), r.u2()
		ic := InnerClass{Access: types.Access(r.u2())}
		var err error
		if ic.Inner, err = cp.className(innerIdx); err != nil {
			return nil, err
		}
		if outerIdx != 0 {
			if ic.Outer, err = cp.className(outerIdx); err != nil {
				return nil, err
			}
		}
		if nameIdx != 0 {
			if ic.Name, err = cp.utf8(nameIdx); err != nil {
				return nil, err
			}
		}
		out = append(out, ic)
	}
	return out, r.err
}

func readBootstrapMethods(r *reader, cp constantPool) ([]BootstrapMethod, error) {
	n := int(r.u2())
	out := make([]BootstrapMethod, 0, n)
	for i := 0; i < n; i++ {
		h, err := cp.methodHandle(r.u2())
		if err != nil {
			return nil, fmt.Errorf("bootstrap %d: %w", i, err)
		}
		bm := BootstrapMethod{Handle: h}
		argc := int(r.u2())
		for j := 0; j < argc; j++ {
			arg, err := cp.loadable(r.u2())
			if err != nil {
				return nil, fmt.Errorf("bootstrap %d argument %d: %w", i, j, err)
			}
			bm.Arguments = append(bm.Arguments, arg)
		}
		out = append(out, bm)
	}
	return out, r.err
}

func (c *Class) readField(data []byte, sp span, cp constantPool) (Field, error) {
	r := &reader{data: data[:sp.end], pos: sp.start}
	f := Field{Access: types.Access(r.u2()), start: sp.start, end: sp.end}
	var err error
	if f.Name, err = cp.utf8(r.u2()); err != nil {
		return f, fmt.Errorf("field name: %w", err)
	}
	if f.Desc, err = cp.utf8(r.u2()); err != nil {
		return f, fmt.Errorf("field %s descriptor: %w", f.Name, err)
	}
	attrs, err := readAttributes(r, cp)
	if err != nil {
		return f, fmt.Errorf("field %s: %w", f.Name, err)
	}
	for _, a := range attrs {
		ar := &reader{data: a.data}
		switch a.name {
		case "Signature":
			f.Signature, err = cp.utf8(ar.u2())
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			var as []Annotation
			as, err = readAnnotations(ar, cp, a.name == "RuntimeVisibleAnnotations")
			f.Annotations = append(f.Annotations, as...)
		}
		if err == nil {
			err = ar.err
		}
		if err != nil {
			return f, fmt.Errorf("field %s attribute %s: %w", f.Name, a.name, err)
		}
	}
	return f, nil
}

func (c *Class) readMethod(data []byte, sp span, cp constantPool) (Method, error) {
	r := &reader{data: data[:sp.end], pos: sp.start}
	m := Method{Access: types.Access(r.u2()), start: sp.start, end: sp.end}
	var err error
	if m.Name, err = cp.utf8(r.u2()); err != nil {
		return m, fmt.Errorf("method name: %w", err)
	}
	if m.Desc, err = cp.utf8(r.u2()); err != nil {
		return m, fmt.Errorf("method %s descriptor: %w", m.Name, err)
	}
	attrs, err := readAttributes(r, cp)
	if err != nil {
		return m, fmt.Errorf("method %s: %w", m.Name, err)
	}
	for _, a := range attrs {
		ar := &reader{data: a.data}
		switch a.name {
		case "Signature":
			m.Signature, err = cp.utf8(ar.u2())
		case "Exceptions":
			n := int(ar.u2())
			for i := 0; i < n && err == nil; i++ {
				var ex string
				ex, err = cp.className(ar.u2())
				m.Exceptions = append(m.Exceptions, ex)
			}
		case "RuntimeVisibleAnnotations", "RuntimeInvisibleAnnotations":
			var as []Annotation
			as, err = readAnnotations(ar, cp, a.name == "RuntimeVisibleAnnotations")
			m.Annotations = append(m.Annotations, as...)
		case "RuntimeVisibleParameterAnnotations", "RuntimeInvisibleParameterAnnotations":
			visible := a.name == "RuntimeVisibleParameterAnnotations"
			n := int(ar.u1())
			for i := 0; i < n && err == nil; i++ {
				var as []Annotation
				as, err = readAnnotations(ar, cp, visible)
				if i < len(m.ParameterAnnotations) {
					m.ParameterAnnotations[i] = append(m.ParameterAnnotations[i], as...)
				} else {
					m.ParameterAnnotations = append(m.ParameterAnnotations, as)
				}
			}
		case "AnnotationDefault":
			var v ElementValue
			v, err = readElementValue(ar, cp)
			m.AnnotationDefault = &v
		case "Code":
			m.HasCode = true
			m.Instructions, err = readCode(ar, cp, c.Bootstrap)
		}
		if err == nil {
			err = ar.err
		}
		if err != nil {
			return m, fmt.Errorf("method %s%s attribute %s: %w", m.Name, m.Desc, a.name, err)
		}
	}
	return m, nil
}
