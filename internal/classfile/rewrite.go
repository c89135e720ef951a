package classfile

import (
	"bytes"
	"encoding/binary"
)

// Rewrite returns data with only the members whose "name:desc" is in keep and
// only the interfaces for which interfacePresent returns true. Method bodies,
// class attributes and the constant pool are copied unchanged; constants that
// only dropped members used stay in the pool, which the JVM accepts.
func Rewrite(data []byte, keep map[string]bool, interfacePresent func(string) bool) ([]byte, error) {
	c, err := Parse(data)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Grow(len(data))
	out.Write(data[:c.interfacesStart])

	r := &reader{data: data, pos: c.interfacesStart}
	n := int(r.u2())
	idx := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		cpIndex := r.u2()
		if interfacePresent == nil || interfacePresent(c.Header.Interfaces[i]) {
			idx = append(idx, cpIndex)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	writeU2(&out, len(idx))
	for _, i := range idx {
		writeU2(&out, int(i))
	}

	var keptFields []span
	for _, f := range c.Fields {
		if keep[f.MemberSignature()] {
			keptFields = append(keptFields, span{f.start, f.end})
		}
	}
	writeSpans(&out, data, keptFields)

	var keptMethods []span
	for _, m := range c.Methods {
		if keep[m.MemberSignature()] {
			keptMethods = append(keptMethods, span{m.start, m.end})
		}
	}
	writeSpans(&out, data, keptMethods)

	out.Write(data[c.attributesStart:])
	return out.Bytes(), nil
}

func writeU2(w *bytes.Buffer, v int) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.Write(b[:])
}

func writeSpans(w *bytes.Buffer, data []byte, spans []span) {
	writeU2(w, len(spans))
	for _, sp := range spans {
		w.Write(data[sp.start:sp.end])
	}
}

// MemberSignatures returns the "name:desc" of every declared member
func (c *Class) MemberSignatures() []string {
	out := make([]string, 0, len(c.Fields)+len(c.Methods))
	for _, f := range c.Fields {
		out = append(out, f.MemberSignature())
	}
	for _, m := range c.Methods {
		out = append(out, m.MemberSignature())
	}
	return out
}
