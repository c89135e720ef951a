package collector

import (
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/shrinker/internal/classfile"
)

// fingerprint hashes the structural attributes that produce structure edges
// but are not part of a node's identity or modifiers
type fingerprint struct {
	d *xxhash.Digest
}

func newFingerprint() fingerprint {
	return fingerprint{d: xxhash.New()}
}

func (f fingerprint) str(s string) fingerprint {
	_, _ = f.d.WriteString(s)
	_, _ = f.d.Write([]byte{0})
	return f
}

func (f fingerprint) annotations(as []classfile.Annotation) fingerprint {
	f.str("annotations:" + strconv.Itoa(len(as)))
	for _, a := range as {
		f.annotation(a)
	}
	return f
}

func (f fingerprint) annotation(a classfile.Annotation) {
	f.str(a.Type).str(strconv.FormatBool(a.Visible))
	for _, e := range a.Elements {
		f.str(e.Name)
		f.value(e.Value)
	}
}

func (f fingerprint) value(v classfile.ElementValue) {
	f.str(string(v.Tag))
	switch v.Tag {
	case 'e':
		f.str(v.EnumType).str(v.EnumName)
	case 'c':
		f.str(v.ClassDesc)
	case 's':
		f.str(v.Const.String)
	case '@':
		if v.Annotation != nil {
			f.annotation(*v.Annotation)
		}
	case '[':
		f.str(strconv.Itoa(len(v.Array)))
		for _, elem := range v.Array {
			f.value(elem)
		}
	default:
		f.str(strconv.FormatUint(v.Const.Number, 16))
	}
}

func (f fingerprint) sum() uint64 {
	return f.d.Sum64()
}

func fieldFingerprint(fl classfile.Field) uint64 {
	return newFingerprint().str(fl.Signature).annotations(fl.Annotations).sum()
}

func methodFingerprint(m classfile.Method) uint64 {
	f := newFingerprint().str(m.Signature)
	for _, ex := range m.Exceptions {
		f.str(ex)
	}
	f.annotations(m.Annotations)
	for _, params := range m.ParameterAnnotations {
		f.annotations(params)
	}
	if m.AnnotationDefault != nil {
		f.str("default")
		f.value(*m.AnnotationDefault)
	}
	return f.sum()
}

// classFingerprint covers the class signature, annotations and the outer
// class named by the class's own inner-class record
func classFingerprint(h classfile.Header, annotations []classfile.Annotation, outer string) uint64 {
	return newFingerprint().str(h.Signature).annotations(annotations).str(outer).sum()
}
