// Package classfiletest assembles class files for tests.
package classfiletest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/standardbeagle/shrinker/internal/classfile"
	"github.com/standardbeagle/shrinker/internal/types"
)

const opTableSwitch = 0xaa

// Builder assembles class files programmatically. The output parses with
// Parse; method bodies are structurally valid but not verifiable.
//
//	b := classfiletest.NewBuilder("p/A", "java/lang/Object").Access(types.AccPublic)
//	b.Method(types.AccPublic, "run", "()V").InvokeVirtual("p/B", "go", "()V").Return()
//	data := b.Bytes()
type Builder struct {
	pool         poolWriter
	major        uint16
	access       types.Access
	name         string
	super        string
	interfaces   []string
	signature    string
	annotations  []classfile.Annotation
	innerClasses []classfile.InnerClass
	fields       []*FieldBuilder
	methods      []*MethodBuilder
	bootstrap    []classfile.BootstrapMethod
}

// NewBuilder starts a class; super may be empty only for java/lang/Object
func NewBuilder(name, super string) *Builder {
	return &Builder{
		pool:   newPoolWriter(),
		major:  52,
		access: types.AccPublic | types.AccSuper,
		name:   name,
		super:  super,
	}
}

// Name returns the internal name of the class being built
func (b *Builder) Name() string {
	return b.name
}

// Access sets the class access flags
func (b *Builder) Access(a types.Access) *Builder {
	b.access = a
	return b
}

// Interfaces appends declared interfaces
func (b *Builder) Interfaces(names ...string) *Builder {
	b.interfaces = append(b.interfaces, names...)
	return b
}

// Signature sets the generic class signature
func (b *Builder) Signature(sig string) *Builder {
	b.signature = sig
	return b
}

// Annotate adds a class annotation
func (b *Builder) Annotate(a classfile.Annotation) *Builder {
	b.annotations = append(b.annotations, a)
	return b
}

// InnerClass adds an InnerClasses record
func (b *Builder) InnerClass(ic classfile.InnerClass) *Builder {
	b.innerClasses = append(b.innerClasses, ic)
	return b
}

// Field declares a field
func (b *Builder) Field(access types.Access, name, desc string) *FieldBuilder {
	f := &FieldBuilder{access: access, name: name, desc: desc}
	b.fields = append(b.fields, f)
	return f
}

// Method declares a method. Abstract and native methods get no Code attribute;
// others get one, ending in a return when no instruction was added.
func (b *Builder) Method(access types.Access, name, desc string) *MethodBuilder {
	m := &MethodBuilder{class: b, access: access, name: name, desc: desc}
	b.methods = append(b.methods, m)
	return m
}

// FieldBuilder configures one field
type FieldBuilder struct {
	access      types.Access
	name, desc  string
	signature   string
	annotations []classfile.Annotation
}

// Signature sets the generic field signature
func (f *FieldBuilder) Signature(sig string) *FieldBuilder {
	f.signature = sig
	return f
}

// Annotate adds a field annotation
func (f *FieldBuilder) Annotate(a classfile.Annotation) *FieldBuilder {
	f.annotations = append(f.annotations, a)
	return f
}

type catchEntry struct {
	typ string
}

// MethodBuilder configures one method and its body
type MethodBuilder struct {
	class        *Builder
	access       types.Access
	name, desc   string
	signature    string
	exceptions   []string
	annotations  []classfile.Annotation
	paramAnnots  [][]classfile.Annotation
	defaultValue *classfile.ElementValue
	code         bytes.Buffer
	catches      []catchEntry
}

// Signature sets the generic method signature
func (m *MethodBuilder) Signature(sig string) *MethodBuilder {
	m.signature = sig
	return m
}

// Throws adds declared exceptions
func (m *MethodBuilder) Throws(names ...string) *MethodBuilder {
	m.exceptions = append(m.exceptions, names...)
	return m
}

// Annotate adds a method annotation
func (m *MethodBuilder) Annotate(a classfile.Annotation) *MethodBuilder {
	m.annotations = append(m.annotations, a)
	return m
}

// AnnotateParameter adds an annotation to parameter i
func (m *MethodBuilder) AnnotateParameter(i int, a classfile.Annotation) *MethodBuilder {
	for len(m.paramAnnots) <= i {
		m.paramAnnots = append(m.paramAnnots, nil)
	}
	m.paramAnnots[i] = append(m.paramAnnots[i], a)
	return m
}

// Default sets the AnnotationDefault of an annotation-type element
func (m *MethodBuilder) Default(v classfile.ElementValue) *MethodBuilder {
	m.defaultValue = &v
	return m
}

// Op appends a raw instruction
func (m *MethodBuilder) Op(op byte, operands ...byte) *MethodBuilder {
	m.code.WriteByte(op)
	m.code.Write(operands)
	return m
}

func (m *MethodBuilder) op16(op byte, idx uint16) *MethodBuilder {
	return m.Op(op, byte(idx>>8), byte(idx))
}

func (m *MethodBuilder) fieldInsn(op byte, owner, name, desc string) *MethodBuilder {
	return m.op16(op, m.class.pool.memberRef(classfile.TagFieldref, owner, name, desc))
}

func (m *MethodBuilder) methodInsn(op byte, owner, name, desc string) *MethodBuilder {
	return m.op16(op, m.class.pool.memberRef(classfile.TagMethodref, owner, name, desc))
}

// GetField appends getfield
func (m *MethodBuilder) GetField(owner, name, desc string) *MethodBuilder {
	return m.fieldInsn(classfile.OpGetField, owner, name, desc)
}

// PutField appends putfield
func (m *MethodBuilder) PutField(owner, name, desc string) *MethodBuilder {
	return m.fieldInsn(classfile.OpPutField, owner, name, desc)
}

// GetStatic appends getstatic
func (m *MethodBuilder) GetStatic(owner, name, desc string) *MethodBuilder {
	return m.fieldInsn(classfile.OpGetStatic, owner, name, desc)
}

// PutStatic appends putstatic
func (m *MethodBuilder) PutStatic(owner, name, desc string) *MethodBuilder {
	return m.fieldInsn(classfile.OpPutStatic, owner, name, desc)
}

// InvokeVirtual appends invokevirtual
func (m *MethodBuilder) InvokeVirtual(owner, name, desc string) *MethodBuilder {
	return m.methodInsn(classfile.OpInvokeVirtual, owner, name, desc)
}

// InvokeSpecial appends invokespecial
func (m *MethodBuilder) InvokeSpecial(owner, name, desc string) *MethodBuilder {
	return m.methodInsn(classfile.OpInvokeSpecial, owner, name, desc)
}

// InvokeStatic appends invokestatic
func (m *MethodBuilder) InvokeStatic(owner, name, desc string) *MethodBuilder {
	return m.methodInsn(classfile.OpInvokeStatic, owner, name, desc)
}

// InvokeInterface appends invokeinterface
func (m *MethodBuilder) InvokeInterface(owner, name, desc string) *MethodBuilder {
	idx := m.class.pool.memberRef(classfile.TagInterfaceMethodref, owner, name, desc)
	params, _, err := classfile.ParseMethodDescriptor(desc)
	count := 1
	if err == nil {
		for _, p := range params {
			count++
			if p == "J" || p == "D" {
				count++
			}
		}
	}
	return m.Op(classfile.OpInvokeInterface, byte(idx>>8), byte(idx), byte(count), 0)
}

// InvokeDynamic appends invokedynamic with a new bootstrap method entry
func (m *MethodBuilder) InvokeDynamic(name, desc string, bsm classfile.Handle, args ...classfile.Constant) *MethodBuilder {
	b := m.class
	b.bootstrap = append(b.bootstrap, classfile.BootstrapMethod{Handle: bsm, Arguments: args})
	idx := b.pool.invokeDynamic(uint16(len(b.bootstrap)-1), name, desc)
	return m.Op(classfile.OpInvokeDynamic, byte(idx>>8), byte(idx), 0, 0)
}

// New appends new
func (m *MethodBuilder) New(class string) *MethodBuilder {
	return m.op16(classfile.OpNew, m.class.pool.class(class))
}

// ANewArray appends anewarray
func (m *MethodBuilder) ANewArray(class string) *MethodBuilder {
	return m.op16(classfile.OpANewArray, m.class.pool.class(class))
}

// CheckCast appends checkcast
func (m *MethodBuilder) CheckCast(class string) *MethodBuilder {
	return m.op16(classfile.OpCheckCast, m.class.pool.class(class))
}

// InstanceOf appends instanceof
func (m *MethodBuilder) InstanceOf(class string) *MethodBuilder {
	return m.op16(classfile.OpInstanceOf, m.class.pool.class(class))
}

// MultiANewArray appends multianewarray for an array descriptor
func (m *MethodBuilder) MultiANewArray(desc string, dims byte) *MethodBuilder {
	idx := m.class.pool.class(desc)
	return m.Op(classfile.OpMultiANewArray, byte(idx>>8), byte(idx), dims)
}

// Ldc appends ldc_w of a loadable constant
func (m *MethodBuilder) Ldc(c classfile.Constant) *MethodBuilder {
	return m.op16(classfile.OpLdcW, m.class.pool.constant(c))
}

// LdcClass appends a class literal load
func (m *MethodBuilder) LdcClass(class string) *MethodBuilder {
	return m.Ldc(classfile.Constant{Tag: classfile.TagClass, Class: class})
}

// TableSwitch appends a tableswitch over [low, high] with all targets at offset 0
func (m *MethodBuilder) TableSwitch(low, high int32) *MethodBuilder {
	pc := m.code.Len()
	m.code.WriteByte(opTableSwitch)
	for pad := (4 - (pc+1)%4) % 4; pad > 0; pad-- {
		m.code.WriteByte(0)
	}
	words := []int32{0, low, high}
	for i := low; i <= high; i++ {
		words = append(words, 0)
	}
	for _, w := range words {
		_ = binary.Write(&m.code, binary.BigEndian, w)
	}
	return m
}

// Catch adds an exception handler entry catching class
func (m *MethodBuilder) Catch(class string) *MethodBuilder {
	m.catches = append(m.catches, catchEntry{typ: class})
	return m
}

// Return appends a void return
func (m *MethodBuilder) Return() *MethodBuilder {
	return m.Op(0xb1)
}

// Bytes serializes the class
func (b *Builder) Bytes() []byte {
	var body bytes.Buffer
	p := &b.pool

	u2 := func(w *bytes.Buffer, v uint16) { _ = binary.Write(w, binary.BigEndian, v) }
	u4 := func(w *bytes.Buffer, v uint32) { _ = binary.Write(w, binary.BigEndian, v) }
	attr := func(w *bytes.Buffer, name string, content []byte) {
		u2(w, p.utf8(name))
		u4(w, uint32(len(content)))
		w.Write(content)
	}
	annotationAttrs := func(w *bytes.Buffer, as []classfile.Annotation) int {
		var visible, invisible []classfile.Annotation
		for _, a := range as {
			if a.Visible {
				visible = append(visible, a)
			} else {
				invisible = append(invisible, a)
			}
		}
		n := 0
		for _, group := range []struct {
			name string
			as   []classfile.Annotation
		}{{"RuntimeVisibleAnnotations", visible}, {"RuntimeInvisibleAnnotations", invisible}} {
			if len(group.as) == 0 {
				continue
			}
			var content bytes.Buffer
			u2(&content, uint16(len(group.as)))
			for _, a := range group.as {
				p.writeAnnotation(&content, a)
			}
			attr(w, group.name, content.Bytes())
			n++
		}
		return n
	}

	u2(&body, uint16(b.access))
	u2(&body, p.class(b.name))
	if b.super != "" {
		u2(&body, p.class(b.super))
	} else {
		u2(&body, 0)
	}
	u2(&body, uint16(len(b.interfaces)))
	for _, itf := range b.interfaces {
		u2(&body, p.class(itf))
	}

	u2(&body, uint16(len(b.fields)))
	for _, f := range b.fields {
		u2(&body, uint16(f.access))
		u2(&body, p.utf8(f.name))
		u2(&body, p.utf8(f.desc))
		var attrs bytes.Buffer
		n := 0
		if f.signature != "" {
			var content bytes.Buffer
			u2(&content, p.utf8(f.signature))
			attr(&attrs, "Signature", content.Bytes())
			n++
		}
		n += annotationAttrs(&attrs, f.annotations)
		u2(&body, uint16(n))
		body.Write(attrs.Bytes())
	}

	u2(&body, uint16(len(b.methods)))
	for _, m := range b.methods {
		u2(&body, uint16(m.access))
		u2(&body, p.utf8(m.name))
		u2(&body, p.utf8(m.desc))
		var attrs bytes.Buffer
		n := 0
		if !m.access.Has(types.AccAbstract) && !m.access.Has(types.AccNative) {
			code := m.code.Bytes()
			if len(code) == 0 {
				code = []byte{0xb1}
			}
			var content bytes.Buffer
			u2(&content, 16) // max_stack
			u2(&content, 16) // max_locals
			u4(&content, uint32(len(code)))
			content.Write(code)
			u2(&content, uint16(len(m.catches)))
			for _, c := range m.catches {
				u2(&content, 0)
				u2(&content, uint16(len(code)))
				u2(&content, 0)
				u2(&content, p.class(c.typ))
			}
			u2(&content, 0)
			attr(&attrs, "Code", content.Bytes())
			n++
		}
		if len(m.exceptions) > 0 {
			var content bytes.Buffer
			u2(&content, uint16(len(m.exceptions)))
			for _, ex := range m.exceptions {
				u2(&content, p.class(ex))
			}
			attr(&attrs, "Exceptions", content.Bytes())
			n++
		}
		if m.signature != "" {
			var content bytes.Buffer
			u2(&content, p.utf8(m.signature))
			attr(&attrs, "Signature", content.Bytes())
			n++
		}
		n += annotationAttrs(&attrs, m.annotations)
		if len(m.paramAnnots) > 0 {
			var content bytes.Buffer
			content.WriteByte(byte(len(m.paramAnnots)))
			for _, as := range m.paramAnnots {
				u2(&content, uint16(len(as)))
				for _, a := range as {
					p.writeAnnotation(&content, a)
				}
			}
			attr(&attrs, "RuntimeVisibleParameterAnnotations", content.Bytes())
			n++
		}
		if m.defaultValue != nil {
			var content bytes.Buffer
			p.writeElementValue(&content, *m.defaultValue)
			attr(&attrs, "AnnotationDefault", content.Bytes())
			n++
		}
		u2(&body, uint16(n))
		body.Write(attrs.Bytes())
	}

	var attrs bytes.Buffer
	n := 0
	if b.signature != "" {
		var content bytes.Buffer
		u2(&content, p.utf8(b.signature))
		attr(&attrs, "Signature", content.Bytes())
		n++
	}
	n += annotationAttrs(&attrs, b.annotations)
	if len(b.innerClasses) > 0 {
		var content bytes.Buffer
		u2(&content, uint16(len(b.innerClasses)))
		for _, ic := range b.innerClasses {
			u2(&content, p.class(ic.Inner))
			if ic.Outer != "" {
				u2(&content, p.class(ic.Outer))
			} else {
				u2(&content, 0)
			}
			if ic.Name != "" {
				u2(&content, p.utf8(ic.Name))
			} else {
				u2(&content, 0)
			}
			u2(&content, uint16(ic.Access))
		}
		attr(&attrs, "InnerClasses", content.Bytes())
		n++
	}
	if len(b.bootstrap) > 0 {
		var content bytes.Buffer
		u2(&content, uint16(len(b.bootstrap)))
		for _, bm := range b.bootstrap {
			u2(&content, p.methodHandle(bm.Handle))
			u2(&content, uint16(len(bm.Arguments)))
			for _, arg := range bm.Arguments {
				u2(&content, p.constant(arg))
			}
		}
		attr(&attrs, "BootstrapMethods", content.Bytes())
		n++
	}
	u2(&body, uint16(n))
	body.Write(attrs.Bytes())

	var out bytes.Buffer
	u4(&out, classfile.Magic)
	u2(&out, 0)
	u2(&out, b.major)
	u2(&out, p.next)
	out.Write(p.buf.Bytes())
	out.Write(body.Bytes())
	return out.Bytes()
}

// poolWriter interns constants; next is the constant_pool_count to emit
type poolWriter struct {
	buf   bytes.Buffer
	next  uint16
	index map[string]uint16
}

func newPoolWriter() poolWriter {
	return poolWriter{next: 1, index: make(map[string]uint16)}
}

func (p *poolWriter) add(key string, slots uint16, write func(w *bytes.Buffer)) uint16 {
	if idx, ok := p.index[key]; ok {
		return idx
	}
	var entry bytes.Buffer
	write(&entry)
	idx := p.next
	p.buf.Write(entry.Bytes())
	p.next += slots
	p.index[key] = idx
	return idx
}

func (p *poolWriter) utf8(s string) uint16 {
	return p.add("U"+s, 1, func(w *bytes.Buffer) {
		enc := classfile.EncodeModifiedUTF8(s)
		w.WriteByte(classfile.TagUtf8)
		_ = binary.Write(w, binary.BigEndian, uint16(len(enc)))
		w.Write(enc)
	})
}

func (p *poolWriter) ref(tag uint8, key string, a, b uint16) uint16 {
	return p.add(fmt.Sprintf("%d:%s", tag, key), 1, func(w *bytes.Buffer) {
		w.WriteByte(tag)
		_ = binary.Write(w, binary.BigEndian, a)
		if tag != classfile.TagClass && tag != classfile.TagString && tag != classfile.TagMethodType {
			_ = binary.Write(w, binary.BigEndian, b)
		}
	})
}

func (p *poolWriter) class(name string) uint16 {
	return p.ref(classfile.TagClass, name, p.utf8(name), 0)
}

func (p *poolWriter) nameAndType(name, desc string) uint16 {
	return p.ref(classfile.TagNameAndType, name+":"+desc, p.utf8(name), p.utf8(desc))
}

func (p *poolWriter) memberRef(tag uint8, owner, name, desc string) uint16 {
	return p.ref(tag, owner+"."+name+":"+desc, p.class(owner), p.nameAndType(name, desc))
}

func (p *poolWriter) invokeDynamic(bsm uint16, name, desc string) uint16 {
	return p.ref(classfile.TagInvokeDynamic, fmt.Sprintf("%d.%s:%s", bsm, name, desc), bsm, p.nameAndType(name, desc))
}

func (p *poolWriter) methodHandle(h classfile.Handle) uint16 {
	tag := uint8(classfile.TagMethodref)
	switch {
	case h.IsField():
		tag = classfile.TagFieldref
	case h.Interface:
		tag = classfile.TagInterfaceMethodref
	}
	ref := p.memberRef(tag, h.Owner, h.Name, h.Desc)
	return p.add(fmt.Sprintf("H%d:%d", h.Kind, ref), 1, func(w *bytes.Buffer) {
		w.WriteByte(classfile.TagMethodHandle)
		w.WriteByte(h.Kind)
		_ = binary.Write(w, binary.BigEndian, ref)
	})
}

func (p *poolWriter) number(tag uint8, v uint64) uint16 {
	slots := uint16(1)
	if tag == classfile.TagLong || tag == classfile.TagDouble {
		slots = 2
	}
	return p.add(fmt.Sprintf("N%d:%d", tag, v), slots, func(w *bytes.Buffer) {
		w.WriteByte(tag)
		if slots == 2 {
			_ = binary.Write(w, binary.BigEndian, v)
		} else {
			_ = binary.Write(w, binary.BigEndian, uint32(v))
		}
	})
}

func (p *poolWriter) constant(c classfile.Constant) uint16 {
	switch c.Tag {
	case classfile.TagClass:
		return p.class(c.Class)
	case classfile.TagString:
		return p.ref(classfile.TagString, c.String, p.utf8(c.String), 0)
	case classfile.TagMethodType:
		return p.ref(classfile.TagMethodType, c.Desc, p.utf8(c.Desc), 0)
	case classfile.TagMethodHandle:
		if c.Handle != nil {
			return p.methodHandle(*c.Handle)
		}
	case classfile.TagInteger, classfile.TagFloat, classfile.TagLong, classfile.TagDouble:
		return p.number(c.Tag, c.Number)
	}
	panic(fmt.Sprintf("classfile: unsupported builder constant tag %d", c.Tag))
}

func (p *poolWriter) writeAnnotation(w *bytes.Buffer, a classfile.Annotation) {
	_ = binary.Write(w, binary.BigEndian, p.utf8(a.Type))
	_ = binary.Write(w, binary.BigEndian, uint16(len(a.Elements)))
	for _, e := range a.Elements {
		_ = binary.Write(w, binary.BigEndian, p.utf8(e.Name))
		p.writeElementValue(w, e.Value)
	}
}

func (p *poolWriter) writeElementValue(w *bytes.Buffer, v classfile.ElementValue) {
	w.WriteByte(v.Tag)
	u2 := func(x uint16) { _ = binary.Write(w, binary.BigEndian, x) }
	switch v.Tag {
	case 'B', 'C', 'I', 'S', 'Z':
		u2(p.number(classfile.TagInteger, v.Const.Number))
	case 'F':
		u2(p.number(classfile.TagFloat, v.Const.Number))
	case 'J':
		u2(p.number(classfile.TagLong, v.Const.Number))
	case 'D':
		u2(p.number(classfile.TagDouble, v.Const.Number))
	case 's':
		u2(p.utf8(v.Const.String))
	case 'e':
		u2(p.utf8(v.EnumType))
		u2(p.utf8(v.EnumName))
	case 'c':
		u2(p.utf8(v.ClassDesc))
	case '@':
		p.writeAnnotation(w, *v.Annotation)
	case '[':
		u2(uint16(len(v.Array)))
		for _, elem := range v.Array {
			p.writeElementValue(w, elem)
		}
	}
}
