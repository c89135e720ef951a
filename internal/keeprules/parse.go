package keeprules

import (
	"fmt"
	"strings"
	"unicode"
)

type token struct {
	text string
	line int
}

// tokenize splits rule text into options, names and punctuation.
// Comments run from '#' to the end of the line.
func tokenize(src string) []token {
	var out []token
	line := 1
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case unicode.IsSpace(rune(c)):
			i++
		case strings.IndexByte("{};,()!@", c) >= 0:
			out = append(out, token{text: string(c), line: line})
			i++
		default:
			start := i
			for i < len(src) && !unicode.IsSpace(rune(src[i])) && strings.IndexByte("{};,()!@#", src[i]) < 0 {
				i++
			}
			out = append(out, token{text: src[start:i], line: line})
		}
	}
	return out
}

type parser struct {
	name   string
	tokens []token
	pos    int
}

func (p *parser) peek() string {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos].text
	}
	return ""
}

func (p *parser) peekAt(n int) string {
	if p.pos+n < len(p.tokens) {
		return p.tokens[p.pos+n].text
	}
	return ""
}

func (p *parser) next() string {
	t := p.peek()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	line := 0
	if p.pos < len(p.tokens) {
		line = p.tokens[p.pos].line
	} else if len(p.tokens) > 0 {
		line = p.tokens[len(p.tokens)-1].line
	}
	return fmt.Errorf("%s:%d: %s", p.name, line, fmt.Sprintf(format, args...))
}

func (p *parser) expect(text string) error {
	if got := p.next(); got != text {
		return p.errorf("expected %q, found %q", text, got)
	}
	return nil
}

func isOption(t string) bool {
	return len(t) > 1 && t[0] == '-' && unicode.IsLetter(rune(t[1]))
}

func (p *parser) parse() ([]Rule, error) {
	var rules []Rule
	for p.pos < len(p.tokens) {
		opt := p.next()
		if !isOption(opt) {
			return nil, p.errorf("expected an option, found %q", opt)
		}
		kind, ok := ruleKinds[opt]
		if !ok {
			p.skipOption()
			continue
		}

		r := Rule{Kind: kind}
		for p.peek() == "," {
			p.next()
			if p.next() == "allowshrinking" {
				r.AllowShrinking = true
			}
		}
		spec, err := p.classSpec()
		if err != nil {
			return nil, err
		}
		r.Class = spec
		rules = append(rules, r)
	}
	return rules, nil
}

// skipOption ignores an option the shrinker does not act on, with its arguments
func (p *parser) skipOption() {
	depth := 0
	for p.pos < len(p.tokens) {
		t := p.peek()
		if depth == 0 && isOption(t) {
			return
		}
		switch t {
		case "{":
			depth++
		case "}":
			depth--
		}
		p.next()
	}
}

var classModifiers = map[string]bool{"public": true, "final": true, "abstract": true, "static": true}

func (p *parser) classSpec() (ClassSpec, error) {
	var spec ClassSpec
	if p.peek() == "@" && p.peekAt(1) != "interface" {
		p.next()
		spec.Annotation = p.next()
	}
	for {
		negate := false
		if p.peek() == "!" {
			negate = true
			p.next()
		}
		mod := p.peek()
		if !classModifiers[mod] {
			if negate {
				return spec, p.errorf("expected a modifier after '!', found %q", mod)
			}
			break
		}
		p.next()
		spec.Modifiers = append(spec.Modifiers, Modifier{Name: mod, Negate: negate})
	}

	switch t := p.next(); t {
	case "class":
		spec.Type = TypeClass
	case "interface":
		spec.Type = TypeInterface
	case "enum":
		spec.Type = TypeEnum
	case "@":
		if err := p.expect("interface"); err != nil {
			return spec, err
		}
		spec.Type = TypeAnnotation
	default:
		return spec, p.errorf("expected class, interface, enum or @interface, found %q", t)
	}

	for {
		negate := false
		if p.peek() == "!" {
			negate = true
			p.next()
		}
		name := p.next()
		if name == "" || isOption(name) {
			return spec, p.errorf("missing class name")
		}
		spec.Names = append(spec.Names, NamePattern{Pattern: name, Negate: negate})
		if p.peek() != "," {
			break
		}
		p.next()
	}

	if t := p.peek(); t == "extends" || t == "implements" {
		p.next()
		if p.peek() == "@" {
			p.next()
			spec.AncestorAnnotation = p.next()
		}
		spec.Ancestor = p.next()
	}

	if p.peek() != "{" {
		return spec, nil
	}
	p.next()
	for p.peek() != "}" {
		if p.pos >= len(p.tokens) {
			return spec, p.errorf("unterminated member list")
		}
		m, err := p.memberSpec()
		if err != nil {
			return spec, err
		}
		spec.Members = append(spec.Members, m)
	}
	p.next()
	return spec, nil
}

var memberModifiers = map[string]bool{
	"public": true, "private": true, "protected": true, "static": true, "final": true,
	"synchronized": true, "native": true, "abstract": true, "strictfp": true,
	"volatile": true, "transient": true,
}

func (p *parser) memberSpec() (MemberSpec, error) {
	var m MemberSpec
	if p.peek() == "@" {
		p.next()
		m.Annotation = p.next()
	}
	for {
		negate := false
		if p.peek() == "!" {
			negate = true
			p.next()
		}
		mod := p.peek()
		if !memberModifiers[mod] {
			if negate {
				return m, p.errorf("expected a modifier after '!', found %q", mod)
			}
			break
		}
		p.next()
		m.Modifiers = append(m.Modifiers, Modifier{Name: mod, Negate: negate})
	}

	switch t := p.next(); {
	case t == "<methods>":
		m.Kind = MemberMethods
	case t == "<fields>":
		m.Kind = MemberFields
	case t == "<init>":
		m.Kind = MemberMethod
		m.Name = "<init>"
		m.Type = "void"
		args, err := p.arguments()
		if err != nil {
			return m, err
		}
		m.Args = args
	case t == "*" && p.peek() == ";":
		m.Kind = MemberAll
	case t == "" || t == ";" || t == "}":
		return m, p.errorf("expected a member, found %q", t)
	default:
		m.Type = t
		m.Name = p.next()
		m.Kind = MemberField
		if p.peek() == "(" {
			m.Kind = MemberMethod
			args, err := p.arguments()
			if err != nil {
				return m, err
			}
			m.Args = args
		}
	}
	return m, p.expect(";")
}

func (p *parser) arguments() ([]string, error) {
	if err := p.expect("("); err != nil {
		return nil, err
	}
	args := []string{}
	for p.peek() != ")" {
		t := p.next()
		if t == "" {
			return nil, p.errorf("unterminated argument list")
		}
		if t != "," {
			args = append(args, t)
		}
	}
	p.next()
	return args, nil
}
