package classfile

import "fmt"

// Opcodes that carry symbolic references
const (
	OpLdc             = 0x12
	OpLdcW            = 0x13
	OpLdc2W           = 0x14
	OpGetStatic       = 0xb2
	OpPutStatic       = 0xb3
	OpGetField        = 0xb4
	OpPutField        = 0xb5
	OpInvokeVirtual   = 0xb6
	OpInvokeSpecial   = 0xb7
	OpInvokeStatic    = 0xb8
	OpInvokeInterface = 0xb9
	OpInvokeDynamic   = 0xba
	OpNew             = 0xbb
	OpANewArray       = 0xbd
	OpCheckCast       = 0xc0
	OpInstanceOf      = 0xc1
	OpMultiANewArray  = 0xc5

	opTableSwitch  = 0xaa
	opLookupSwitch = 0xab
	opWide         = 0xc4
	opIinc         = 0x84
)

// InstructionKind classifies the referencing instructions a Walk reports
type InstructionKind int

const (
	InsnField InstructionKind = iota
	InsnMethod
	InsnType
	InsnMultiANewArray
	InsnLdc
	InsnInvokeDynamic
	InsnTryCatch
)

func (k InstructionKind) String() string {
	switch k {
	case InsnField:
		return "field"
	case InsnMethod:
		return "method"
	case InsnType:
		return "type"
	case InsnMultiANewArray:
		return "multianewarray"
	case InsnLdc:
		return "ldc"
	case InsnInvokeDynamic:
		return "invokedynamic"
	case InsnTryCatch:
		return "trycatch"
	}
	return fmt.Sprintf("InstructionKind(%d)", int(k))
}

// InvokeDynamic is a resolved invokedynamic call site
type InvokeDynamic struct {
	Name      string
	Desc      string
	Bootstrap BootstrapMethod
}

// Instruction is one symbolic reference inside a method body.
// Instructions that reference nothing (arithmetic, branches, locals) are not recorded.
type Instruction struct {
	Kind    InstructionKind
	Opcode  uint8
	Offset  int
	Ref     MemberRef      // InsnField, InsnMethod
	Type    string         // InsnType, InsnTryCatch: internal name or array descriptor; InsnMultiANewArray: descriptor
	Const   *Constant      // InsnLdc
	Dynamic *InvokeDynamic // InsnInvokeDynamic
}

// IsInvokeSpecial reports an invokespecial method call
func (in Instruction) IsInvokeSpecial() bool {
	return in.Kind == InsnMethod && in.Opcode == OpInvokeSpecial
}

// opcodeLength holds fixed instruction lengths; 0 marks variable length or invalid
var opcodeLength = func() [256]uint8 {
	var t [256]uint8
	set := func(from, to int, n uint8) {
		for op := from; op <= to; op++ {
			t[op] = n
		}
	}
	set(0x00, 0x0f, 1) // nop .. dconst_1
	t[0x10] = 2        // bipush
	t[0x11] = 3        // sipush
	t[OpLdc] = 2
	t[OpLdcW] = 3
	t[OpLdc2W] = 3
	set(0x15, 0x19, 2) // iload .. aload
	set(0x1a, 0x35, 1) // iload_0 .. saload
	set(0x36, 0x3a, 2) // istore .. astore
	set(0x3b, 0x83, 1) // istore_0 .. lxor
	t[opIinc] = 3
	set(0x85, 0x98, 1) // conversions and comparisons
	set(0x99, 0xa8, 3) // if*, goto, jsr
	t[0xa9] = 2        // ret
	set(0xac, 0xb1, 1) // returns
	set(OpGetStatic, OpInvokeStatic, 3)
	t[OpInvokeInterface] = 5
	t[OpInvokeDynamic] = 5
	t[OpNew] = 3
	t[0xbc] = 2 // newarray
	t[OpANewArray] = 3
	t[0xbe] = 1 // arraylength
	t[0xbf] = 1 // athrow
	t[OpCheckCast] = 3
	t[OpInstanceOf] = 3
	t[0xc2] = 1 // monitorenter
	t[0xc3] = 1 // monitorexit
	t[OpMultiANewArray] = 4
	t[0xc6] = 3 // ifnull
	t[0xc7] = 3 // ifnonnull
	t[0xc8] = 5 // goto_w
	t[0xc9] = 5 // jsr_w
	t[0xca] = 1 // breakpoint
	t[0xfe] = 1
	t[0xff] = 1
	return t
}()

func readCode(r *reader, cp constantPool, bootstrap []BootstrapMethod) ([]Instruction, error) {
	r.skip(4) // max_stack, max_locals
	codeLen := int(r.u4())
	code := r.bytes(codeLen)
	if r.err != nil {
		return nil, r.err
	}

	var out []Instruction
	for pc := 0; pc < len(code); {
		op := code[pc]
		n, err := instructionLength(code, pc)
		if err != nil {
			return nil, err
		}
		if pc+n > len(code) {
			return nil, fmt.Errorf("pc %d: opcode 0x%02x runs past end of code", pc, op)
		}
		operand := func() uint16 { return uint16(code[pc+1])<<8 | uint16(code[pc+2]) }

		in := Instruction{Opcode: op, Offset: pc}
		record := true
		switch op {
		case OpGetStatic, OpPutStatic, OpGetField, OpPutField:
			in.Kind = InsnField
			in.Ref, err = cp.memberRef(operand())
		case OpInvokeVirtual, OpInvokeSpecial, OpInvokeStatic, OpInvokeInterface:
			in.Kind = InsnMethod
			in.Ref, err = cp.memberRef(operand())
		case OpNew, OpANewArray, OpCheckCast, OpInstanceOf:
			in.Kind = InsnType
			in.Type, err = cp.className(operand())
		case OpMultiANewArray:
			in.Kind = InsnMultiANewArray
			in.Type, err = cp.className(operand())
		case OpLdc, OpLdcW, OpLdc2W:
			idx := uint16(code[pc+1])
			if op != OpLdc {
				idx = operand()
			}
			var c Constant
			c, err = cp.loadable(idx)
			in.Kind = InsnLdc
			in.Const = &c
			record = c.Tag == TagClass || c.Tag == TagMethodType || c.Tag == TagMethodHandle || c.Tag == TagDynamic
		case OpInvokeDynamic:
			in.Kind = InsnInvokeDynamic
			in.Dynamic, err = resolveInvokeDynamic(cp, operand(), bootstrap)
		default:
			record = false
		}
		if err != nil {
			return nil, fmt.Errorf("pc %d opcode 0x%02x: %w", pc, op, err)
		}
		if record {
			out = append(out, in)
		}
		pc += n
	}

	handlers := int(r.u2())
	for i := 0; i < handlers; i++ {
		r.skip(6) // start_pc, end_pc, handler_pc
		if catchType := r.u2(); catchType != 0 {
			name, err := cp.className(catchType)
			if err != nil {
				return nil, fmt.Errorf("exception handler %d: %w", i, err)
			}
			out = append(out, Instruction{Kind: InsnTryCatch, Type: name, Offset: -1})
		}
	}
	skipAttributes(r)
	return out, r.err
}

func instructionLength(code []byte, pc int) (int, error) {
	op := code[pc]
	switch op {
	case opTableSwitch, opLookupSwitch:
		pad := (4 - (pc+1)%4) % 4
		base := pc + 1 + pad
		word := func(at int) (int, error) {
			if at+4 > len(code) {
				return 0, fmt.Errorf("pc %d: truncated switch", pc)
			}
			return int(int32(uint32(code[at])<<24 | uint32(code[at+1])<<16 | uint32(code[at+2])<<8 | uint32(code[at+3]))), nil
		}
		if op == opTableSwitch {
			low, err := word(base + 4)
			if err != nil {
				return 0, err
			}
			high, err := word(base + 8)
			if err != nil {
				return 0, err
			}
			if high < low {
				return 0, fmt.Errorf("pc %d: tableswitch high %d < low %d", pc, high, low)
			}
			return 1 + pad + 12 + (high-low+1)*4, nil
		}
		npairs, err := word(base + 4)
		if err != nil {
			return 0, err
		}
		if npairs < 0 {
			return 0, fmt.Errorf("pc %d: lookupswitch with %d pairs", pc, npairs)
		}
		return 1 + pad + 8 + npairs*8, nil
	case opWide:
		if pc+1 >= len(code) {
			return 0, fmt.Errorf("pc %d: truncated wide", pc)
		}
		if code[pc+1] == opIinc {
			return 6, nil
		}
		return 4, nil
	}
	if n := opcodeLength[op]; n > 0 {
		return int(n), nil
	}
	return 0, fmt.Errorf("pc %d: invalid opcode 0x%02x", pc, op)
}

func resolveInvokeDynamic(cp constantPool, idx uint16, bootstrap []BootstrapMethod) (*InvokeDynamic, error) {
	e, err := cp.entry(idx, TagInvokeDynamic)
	if err != nil {
		return nil, err
	}
	name, desc, err := cp.nameAndType(e.b)
	if err != nil {
		return nil, err
	}
	if int(e.a) >= len(bootstrap) {
		return nil, fmt.Errorf("bootstrap method %d not declared", e.a)
	}
	return &InvokeDynamic{Name: name, Desc: desc, Bootstrap: bootstrap[e.a]}, nil
}
