package classfile

import "fmt"

// Constant pool tags
const (
	TagUtf8               = 1
	TagInteger            = 3
	TagFloat              = 4
	TagLong               = 5
	TagDouble             = 6
	TagClass              = 7
	TagString             = 8
	TagFieldref           = 9
	TagMethodref          = 10
	TagInterfaceMethodref = 11
	TagNameAndType        = 12
	TagMethodHandle       = 15
	TagMethodType         = 16
	TagDynamic            = 17
	TagInvokeDynamic      = 18
	TagModule             = 19
	TagPackage            = 20
)

type cpEntry struct {
	tag  uint8
	a, b uint16 // index operands; a holds the reference kind for method handles
	str  string // decoded Utf8
	num  uint64 // raw numeric constants
}

type constantPool []cpEntry

func readConstantPool(r *reader) (constantPool, error) {
	count := int(r.u2())
	if r.err != nil {
		return nil, r.err
	}
	cp := make(constantPool, count)
	for i := 1; i < count; i++ {
		tag := r.u1()
		e := cpEntry{tag: tag}
		switch tag {
		case TagUtf8:
			n := int(r.u2())
			raw := r.bytes(n)
			if r.err != nil {
				return nil, r.err
			}
			s, err := decodeModifiedUTF8(raw)
			if err != nil {
				return nil, fmt.Errorf("constant %d: %w", i, err)
			}
			e.str = s
		case TagInteger, TagFloat:
			e.num = uint64(r.u4())
		case TagLong, TagDouble:
			e.num = uint64(r.u4())<<32 | uint64(r.u4())
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			e.a = r.u2()
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType, TagDynamic, TagInvokeDynamic:
			e.a = r.u2()
			e.b = r.u2()
		case TagMethodHandle:
			e.a = uint16(r.u1())
			e.b = r.u2()
		default:
			if r.err != nil {
				return nil, r.err
			}
			return nil, fmt.Errorf("constant %d: unknown tag %d", i, tag)
		}
		cp[i] = e
		if tag == TagLong || tag == TagDouble {
			i++
		}
	}
	return cp, r.err
}

func (cp constantPool) entry(i uint16, tags ...uint8) (cpEntry, error) {
	if int(i) <= 0 || int(i) >= len(cp) {
		return cpEntry{}, fmt.Errorf("constant index %d out of range", i)
	}
	e := cp[i]
	for _, t := range tags {
		if e.tag == t {
			return e, nil
		}
	}
	return cpEntry{}, fmt.Errorf("constant %d has tag %d, want %v", i, e.tag, tags)
}

func (cp constantPool) utf8(i uint16) (string, error) {
	e, err := cp.entry(i, TagUtf8)
	return e.str, err
}

// className resolves a CONSTANT_Class to its internal name (or array descriptor)
func (cp constantPool) className(i uint16) (string, error) {
	e, err := cp.entry(i, TagClass)
	if err != nil {
		return "", err
	}
	return cp.utf8(e.a)
}

func (cp constantPool) nameAndType(i uint16) (string, string, error) {
	e, err := cp.entry(i, TagNameAndType)
	if err != nil {
		return "", "", err
	}
	name, err := cp.utf8(e.a)
	if err != nil {
		return "", "", err
	}
	desc, err := cp.utf8(e.b)
	return name, desc, err
}

// memberRef resolves a field, method or interface method reference
func (cp constantPool) memberRef(i uint16) (MemberRef, error) {
	e, err := cp.entry(i, TagFieldref, TagMethodref, TagInterfaceMethodref)
	if err != nil {
		return MemberRef{}, err
	}
	owner, err := cp.className(e.a)
	if err != nil {
		return MemberRef{}, err
	}
	name, desc, err := cp.nameAndType(e.b)
	if err != nil {
		return MemberRef{}, err
	}
	return MemberRef{Owner: owner, Name: name, Desc: desc, Interface: e.tag == TagInterfaceMethodref}, nil
}

func (cp constantPool) methodHandle(i uint16) (Handle, error) {
	e, err := cp.entry(i, TagMethodHandle)
	if err != nil {
		return Handle{}, err
	}
	ref, err := cp.memberRef(e.b)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Kind: uint8(e.a), MemberRef: ref}, nil
}

// loadable resolves an ldc operand or a bootstrap argument
func (cp constantPool) loadable(i uint16) (Constant, error) {
	e, err := cp.entry(i, TagInteger, TagFloat, TagLong, TagDouble, TagString, TagClass, TagMethodType, TagMethodHandle, TagDynamic)
	if err != nil {
		return Constant{}, err
	}
	c := Constant{Tag: e.tag}
	switch e.tag {
	case TagClass:
		c.Class, err = cp.utf8(e.a)
	case TagString:
		c.String, err = cp.utf8(e.a)
	case TagMethodType:
		c.Desc, err = cp.utf8(e.a)
	case TagMethodHandle:
		var h Handle
		h, err = cp.methodHandle(i)
		c.Handle = &h
	case TagDynamic:
		_, c.Desc, err = cp.nameAndType(e.b)
	default:
		c.Number = e.num
	}
	return c, err
}
