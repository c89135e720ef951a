package classfile

import (
	"fmt"
	"strings"
)

// IsMethodDescriptor reports whether desc has a parameter list
func IsMethodDescriptor(desc string) bool {
	return strings.HasPrefix(desc, "(")
}

// DescriptorClasses returns the internal class names mentioned by a field or
// method descriptor, arrays unwrapped, in order of appearance
func DescriptorClasses(desc string) []string {
	var out []string
	for i := 0; i < len(desc); i++ {
		if desc[i] != 'L' {
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			break
		}
		out = append(out, desc[i+1:i+end])
		i += end
	}
	return out
}

// ClassFromTypeOperand returns the class named by a type instruction operand or
// CONSTANT_Class value, which is either an internal name or an array descriptor.
// Arrays of primitives yield "".
func ClassFromTypeOperand(operand string) string {
	if !strings.HasPrefix(operand, "[") {
		return operand
	}
	elem := strings.TrimLeft(operand, "[")
	if strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";") {
		return elem[1 : len(elem)-1]
	}
	return ""
}

// ParseMethodDescriptor splits a method descriptor into parameter and return descriptors
func ParseMethodDescriptor(desc string) ([]string, string, error) {
	if !IsMethodDescriptor(desc) {
		return nil, "", fmt.Errorf("not a method descriptor: %q", desc)
	}
	var params []string
	i := 1
	for i < len(desc) && desc[i] != ')' {
		n, err := fieldDescriptorLength(desc[i:])
		if err != nil {
			return nil, "", fmt.Errorf("descriptor %q: %w", desc, err)
		}
		params = append(params, desc[i:i+n])
		i += n
	}
	if i >= len(desc) {
		return nil, "", fmt.Errorf("descriptor %q: missing ')'", desc)
	}
	ret := desc[i+1:]
	if ret != "V" {
		n, err := fieldDescriptorLength(ret)
		if err != nil || n != len(ret) {
			return nil, "", fmt.Errorf("descriptor %q: bad return type", desc)
		}
	}
	return params, ret, nil
}

func fieldDescriptorLength(s string) (int, error) {
	i := 0
	for i < len(s) && s[i] == '[' {
		i++
	}
	if i >= len(s) {
		return 0, fmt.Errorf("truncated type")
	}
	switch s[i] {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		return i + 1, nil
	case 'L':
		end := strings.IndexByte(s[i:], ';')
		if end < 0 {
			return 0, fmt.Errorf("unterminated class type")
		}
		return i + end + 1, nil
	}
	return 0, fmt.Errorf("unexpected %q", s[i])
}

var primitiveDescriptors = map[string]string{
	"void":    "V",
	"boolean": "Z",
	"byte":    "B",
	"char":    "C",
	"short":   "S",
	"int":     "I",
	"long":    "J",
	"float":   "F",
	"double":  "D",
}

// JavaTypeToDescriptor converts a source-level type ("int[]", "java.lang.String")
// into a descriptor ("[I", "Ljava/lang/String;")
func JavaTypeToDescriptor(javaType string) string {
	t := strings.TrimSpace(javaType)
	dims := 0
	for strings.HasSuffix(t, "[]") {
		dims++
		t = strings.TrimSpace(strings.TrimSuffix(t, "[]"))
	}
	desc, ok := primitiveDescriptors[t]
	if !ok {
		desc = "L" + strings.ReplaceAll(t, ".", "/") + ";"
	}
	return strings.Repeat("[", dims) + desc
}

// DescriptorToJavaType is the inverse of JavaTypeToDescriptor for field descriptors
func DescriptorToJavaType(desc string) string {
	dims := 0
	for dims < len(desc) && desc[dims] == '[' {
		dims++
	}
	elem := desc[dims:]
	var base string
	if strings.HasPrefix(elem, "L") && strings.HasSuffix(elem, ";") {
		base = strings.ReplaceAll(elem[1:len(elem)-1], "/", ".")
	} else {
		for name, d := range primitiveDescriptors {
			if d == elem {
				base = name
				break
			}
		}
	}
	return base + strings.Repeat("[]", dims)
}

// SignatureClasses returns the internal class names mentioned by a generic
// signature (class, method or field), including inner class types
// written as Outer<...>.Inner. Type variables are ignored.
func SignatureClasses(sig string) ([]string, error) {
	p := &sigParser{s: sig}
	if p.peek() == '<' {
		p.formalTypeParameters()
	}
	if p.peek() == '(' {
		p.next()
		for p.err == nil && p.peek() != ')' {
			p.typeSignature()
		}
		p.expect(')')
		if p.peek() == 'V' {
			p.next()
		} else {
			p.typeSignature()
		}
		for p.err == nil && p.peek() == '^' {
			p.next()
			p.referenceType()
		}
	} else {
		for p.err == nil && p.pos < len(p.s) {
			p.referenceType()
		}
	}
	if p.err == nil && p.pos != len(p.s) {
		p.fail("trailing input")
	}
	if p.err != nil {
		return nil, fmt.Errorf("signature %q: %w", sig, p.err)
	}
	return p.classes, nil
}

type sigParser struct {
	s       string
	pos     int
	classes []string
	err     error
}

func (p *sigParser) fail(msg string) {
	if p.err == nil {
		p.err = fmt.Errorf("%s at %d", msg, p.pos)
	}
}

func (p *sigParser) peek() byte {
	if p.err != nil || p.pos >= len(p.s) {
		return 0
	}
	return p.s[p.pos]
}

func (p *sigParser) next() byte {
	c := p.peek()
	if c != 0 {
		p.pos++
	}
	return c
}

func (p *sigParser) expect(c byte) {
	if p.next() != c {
		p.fail(fmt.Sprintf("expected %q", c))
	}
}

// identifier reads up to one of the signature delimiters
func (p *sigParser) identifier() string {
	start := p.pos
	for p.err == nil && p.pos < len(p.s) && !strings.ContainsRune(".;[/<>:", rune(p.s[p.pos])) {
		p.pos++
	}
	if p.pos == start {
		p.fail("expected identifier")
	}
	return p.s[start:p.pos]
}

func (p *sigParser) formalTypeParameters() {
	p.expect('<')
	for p.err == nil && p.peek() != '>' {
		p.identifier()
		p.expect(':')
		if c := p.peek(); c == 'L' || c == 'T' || c == '[' {
			p.referenceType()
		}
		for p.err == nil && p.peek() == ':' {
			p.next()
			p.referenceType()
		}
	}
	p.expect('>')
}

func (p *sigParser) typeSignature() {
	switch p.peek() {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z':
		p.next()
	default:
		p.referenceType()
	}
}

func (p *sigParser) referenceType() {
	switch p.peek() {
	case 'L':
		p.next()
		p.classType()
	case 'T':
		p.next()
		p.identifier()
		p.expect(';')
	case '[':
		p.next()
		p.typeSignature()
	default:
		p.fail("expected reference type")
	}
}

func (p *sigParser) classType() {
	var name strings.Builder
	name.WriteString(p.identifier())
	for p.err == nil && p.peek() == '/' {
		p.next()
		name.WriteByte('/')
		name.WriteString(p.identifier())
	}
	current := name.String()
	p.classes = append(p.classes, current)
	p.typeArguments()
	for p.err == nil && p.peek() == '.' {
		p.next()
		current = current + "$" + p.identifier()
		p.classes = append(p.classes, current)
		p.typeArguments()
	}
	p.expect(';')
}

func (p *sigParser) typeArguments() {
	if p.peek() != '<' {
		return
	}
	p.next()
	for p.err == nil && p.peek() != '>' {
		switch p.peek() {
		case '*':
			p.next()
		case '+', '-':
			p.next()
			p.referenceType()
		default:
			p.referenceType()
		}
	}
	p.expect('>')
}
