package classfile

import "fmt"

func readAnnotations(r *reader, cp constantPool, visible bool) ([]Annotation, error) {
	n := int(r.u2())
	out := make([]Annotation, 0, n)
	for i := 0; i < n; i++ {
		a, err := readAnnotation(r, cp)
		if err != nil {
			return nil, err
		}
		a.Visible = visible
		out = append(out, a)
	}
	return out, r.err
}

func readAnnotation(r *reader, cp constantPool) (Annotation, error) {
	var a Annotation
	var err error
	if a.Type, err = cp.utf8(r.u2()); err != nil {
		return a, fmt.Errorf("annotation type: %w", err)
	}
	n := int(r.u2())
	for i := 0; i < n; i++ {
		name, err := cp.utf8(r.u2())
		if err != nil {
			return a, fmt.Errorf("annotation %s element name: %w", a.Type, err)
		}
		v, err := readElementValue(r, cp)
		if err != nil {
			return a, fmt.Errorf("annotation %s element %s: %w", a.Type, name, err)
		}
		a.Elements = append(a.Elements, ElementPair{Name: name, Value: v})
	}
	return a, r.err
}

func readElementValue(r *reader, cp constantPool) (ElementValue, error) {
	v := ElementValue{Tag: r.u1()}
	if r.err != nil {
		return v, r.err
	}
	var err error
	switch v.Tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		idx := r.u2()
		var e cpEntry
		if e, err = cp.entry(idx, TagInteger, TagFloat, TagLong, TagDouble); err == nil {
			v.Const = Constant{Tag: e.tag, Number: e.num}
		}
	case 's':
		var s string
		s, err = cp.utf8(r.u2())
		v.Const = Constant{Tag: TagUtf8, String: s}
	case 'e':
		if v.EnumType, err = cp.utf8(r.u2()); err == nil {
			v.EnumName, err = cp.utf8(r.u2())
		}
	case 'c':
		v.ClassDesc, err = cp.utf8(r.u2())
	case '@':
		var nested Annotation
		nested, err = readAnnotation(r, cp)
		v.Annotation = &nested
	case '[':
		n := int(r.u2())
		for i := 0; i < n && err == nil; i++ {
			var elem ElementValue
			elem, err = readElementValue(r, cp)
			v.Array = append(v.Array, elem)
		}
	default:
		err = fmt.Errorf("unknown element value tag %q", v.Tag)
	}
	if err == nil {
		err = r.err
	}
	return v, err
}

// Descriptors calls fn for every type descriptor the annotation mentions:
// its own type, enum types, class literals and nested annotations
func (a Annotation) Descriptors(fn func(desc string)) {
	fn(a.Type)
	for _, e := range a.Elements {
		e.Value.Descriptors(fn)
	}
}

// Descriptors calls fn for every type descriptor the value mentions
func (v ElementValue) Descriptors(fn func(desc string)) {
	switch v.Tag {
	case 'e':
		fn(v.EnumType)
	case 'c':
		fn(v.ClassDesc)
	case '@':
		if v.Annotation != nil {
			v.Annotation.Descriptors(fn)
		}
	case '[':
		for _, elem := range v.Array {
			elem.Descriptors(fn)
		}
	}
}
