package classfile_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/shrinker/internal/classfile"
	"github.com/standardbeagle/shrinker/internal/classfile/classfiletest"
	"github.com/standardbeagle/shrinker/internal/types"
)

type recordingVisitor struct {
	classfile.BaseVisitor
	events []string
}

func (v *recordingVisitor) VisitHeader(h classfile.Header) error {
	v.events = append(v.events, fmt.Sprintf("header %s super=%s itf=%v", h.Name, h.Super, h.Interfaces))
	return nil
}

func (v *recordingVisitor) VisitAnnotation(a classfile.Annotation) error {
	v.events = append(v.events, "annotation "+a.Type)
	return nil
}

func (v *recordingVisitor) VisitInnerClass(ic classfile.InnerClass) error {
	v.events = append(v.events, "inner "+ic.Inner+" in "+ic.Outer)
	return nil
}

func (v *recordingVisitor) VisitField(f classfile.Field) error {
	v.events = append(v.events, "field "+f.MemberSignature())
	return nil
}

func (v *recordingVisitor) VisitMethod(m classfile.Method) error {
	v.events = append(v.events, "method "+m.MemberSignature())
	return nil
}

func (v *recordingVisitor) VisitInstruction(m classfile.Method, in classfile.Instruction) error {
	v.events = append(v.events, fmt.Sprintf("  %s %s%s", in.Kind, in.Ref.Owner, in.Type))
	return nil
}

func (v *recordingVisitor) VisitEnd() error {
	v.events = append(v.events, "end")
	return nil
}

// TestWalk_EventOrder tests that events arrive in the documented order.
func TestWalk_EventOrder(t *testing.T) {
	b := classfiletest.NewBuilder("p/Outer$Inner", "p/Base").Interfaces("p/I")
	b.Annotate(classfile.Annotation{Type: "Lp/Keep;", Visible: true})
	b.InnerClass(classfile.InnerClass{Inner: "p/Outer$Inner", Outer: "p/Outer", Name: "Inner"})
	b.Field(types.AccPrivate, "count", "I")
	b.Method(types.AccPublic, "run", "()V").
		New("p/Task").
		InvokeSpecial("p/Task", "<init>", "()V").
		GetStatic("p/Config", "DEBUG", "Z").
		Return()

	v := &recordingVisitor{}
	require.NoError(t, classfile.Walk(b.Bytes(), v))
	assert.Equal(t, []string{
		"header p/Outer$Inner super=p/Base itf=[p/I]",
		"annotation Lp/Keep;",
		"inner p/Outer$Inner in p/Outer",
		"field count:I",
		"method run:()V",
		"  type p/Task",
		"  method p/Task",
		"  field p/Config",
		"end",
	}, v.events)
}

// TestParse_Instructions tests decoding of every referencing instruction kind.
func TestParse_Instructions(t *testing.T) {
	bsm := classfile.Handle{Kind: classfile.RefInvokeStatic, MemberRef: classfile.MemberRef{
		Owner: "java/lang/invoke/LambdaMetafactory",
		Name:  "metafactory",
		Desc:  "(Ljava/lang/invoke/MethodHandles$Lookup;Ljava/lang/String;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodType;Ljava/lang/invoke/MethodHandle;Ljava/lang/invoke/MethodType;)Ljava/lang/invoke/CallSite;",
	}}
	impl := classfile.Handle{Kind: classfile.RefInvokeStatic, MemberRef: classfile.MemberRef{Owner: "p/A", Name: "lambda$run$0", Desc: "()V"}}

	b := classfiletest.NewBuilder("p/A", types.ObjectClass)
	b.Method(types.AccPublic, "run", "()V").
		Op(0x03). // iconst_0
		TableSwitch(1, 3).
		InvokeInterface("p/I", "call", "(JI)V").
		InvokeStatic("p/Util", "help", "()V").
		PutField("p/A", "x", "I").
		CheckCast("[Lp/B;").
		InstanceOf("p/C").
		ANewArray("p/D").
		MultiANewArray("[[Lp/E;", 2).
		LdcClass("p/F").
		Ldc(classfile.Constant{Tag: classfile.TagString, String: "ignored"}).
		Ldc(classfile.Constant{Tag: classfile.TagMethodType, Desc: "(Lp/G;)V"}).
		InvokeDynamic("run", "()Ljava/lang/Runnable;", bsm,
			classfile.Constant{Tag: classfile.TagMethodType, Desc: "()V"},
			classfile.Constant{Tag: classfile.TagMethodHandle, Handle: &impl},
			classfile.Constant{Tag: classfile.TagMethodType, Desc: "()V"}).
		Catch("p/MyException").
		Return()
	b.Method(types.AccPrivate|types.AccStatic|types.AccSynthetic, "lambda$run$0", "()V")

	c, err := classfile.Parse(b.Bytes())
	require.NoError(t, err)
	require.Len(t, c.Methods, 2)
	ins := c.Methods[0].Instructions

	var kinds []classfile.InstructionKind
	for _, in := range ins {
		kinds = append(kinds, in.Kind)
	}
	assert.Equal(t, []classfile.InstructionKind{
		classfile.InsnMethod, classfile.InsnMethod, classfile.InsnField, classfile.InsnType, classfile.InsnType, classfile.InsnType,
		classfile.InsnMultiANewArray, classfile.InsnLdc, classfile.InsnLdc, classfile.InsnInvokeDynamic, classfile.InsnTryCatch,
	}, kinds)

	assert.Equal(t, classfile.MemberRef{Owner: "p/I", Name: "call", Desc: "(JI)V", Interface: true}, ins[0].Ref)
	assert.Equal(t, uint8(classfile.OpInvokeStatic), ins[1].Opcode)
	assert.Equal(t, "[Lp/B;", ins[3].Type)
	assert.Equal(t, "[[Lp/E;", ins[6].Type)
	assert.Equal(t, "p/F", ins[7].Const.Class)
	assert.Equal(t, "(Lp/G;)V", ins[8].Const.Desc)

	indy := ins[9].Dynamic
	require.NotNil(t, indy)
	assert.Equal(t, "run", indy.Name)
	assert.Equal(t, bsm, indy.Bootstrap.Handle)
	require.Len(t, indy.Bootstrap.Arguments, 3)
	assert.Equal(t, impl, *indy.Bootstrap.Arguments[1].Handle)

	assert.Equal(t, "p/MyException", ins[10].Type)
	assert.True(t, c.Methods[1].HasCode)
}

// TestParse_MembersAndAttributes tests member attributes and annotations.
func TestParse_MembersAndAttributes(t *testing.T) {
	b := classfiletest.NewBuilder("p/Ann", types.ObjectClass).
		Access(types.AccPublic | types.AccInterface | types.AccAbstract | types.AccAnnotation).
		Interfaces("java/lang/annotation/Annotation").
		Signature("Ljava/lang/Object;")
	b.Method(types.AccPublic|types.AccAbstract, "level", "()Lp/Level;").
		Default(classfile.ElementValue{Tag: 'e', EnumType: "Lp/Level;", EnumName: "HIGH"})
	b.Field(types.AccPublic|types.AccStatic, "items", "Ljava/util/List;").
		Signature("Ljava/util/List<Lp/Item;>;").
		Annotate(classfile.Annotation{Type: "Lp/Nullable;", Elements: []classfile.ElementPair{
			{Name: "value", Value: classfile.ElementValue{Tag: 'c', ClassDesc: "Lp/Why;"}},
			{Name: "count", Value: classfile.ElementValue{Tag: 'I', Const: classfile.Constant{Number: 7}}},
			{Name: "tags", Value: classfile.ElementValue{Tag: '[', Array: []classfile.ElementValue{{Tag: 's', Const: classfile.Constant{String: "a"}}}}},
		}})
	b.Method(types.AccPublic|types.AccStatic, "load", "(Ljava/lang/String;)V").
		Throws("java/io/IOException").
		AnnotateParameter(0, classfile.Annotation{Type: "Lp/NonNull;", Visible: true})

	c, err := classfile.Parse(b.Bytes())
	require.NoError(t, err)

	assert.Equal(t, "Ljava/lang/Object;", c.Header.Signature)
	assert.True(t, c.Header.Access.IsAnnotation())

	level := c.Methods[0]
	assert.False(t, level.HasCode)
	require.NotNil(t, level.AnnotationDefault)
	assert.Equal(t, "HIGH", level.AnnotationDefault.EnumName)

	items := c.Fields[0]
	assert.Equal(t, "Ljava/util/List<Lp/Item;>;", items.Signature)
	require.Len(t, items.Annotations, 1)
	var descs []string
	items.Annotations[0].Descriptors(func(d string) { descs = append(descs, d) })
	assert.Equal(t, []string{"Lp/Nullable;", "Lp/Why;"}, descs)
	assert.Equal(t, uint64(7), items.Annotations[0].Elements[1].Value.Const.Number)

	load := c.Methods[1]
	assert.Equal(t, []string{"java/io/IOException"}, load.Exceptions)
	assert.Equal(t, []string{"Lp/NonNull;"}, load.AnnotationTypes())
}

// TestParse_Errors tests malformed input handling.
func TestParse_Errors(t *testing.T) {
	valid := classfiletest.NewBuilder("p/A", types.ObjectClass).Bytes()

	_, err := classfile.Parse(valid[:len(valid)-3])
	assert.Error(t, err)

	bad := append([]byte{}, valid...)
	bad[0] = 0
	_, err = classfile.Parse(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad magic")

	_, err = classfile.Parse(append(append([]byte{}, valid...), 0))
	assert.Error(t, err)
}

// TestRewrite tests dropping members and interfaces.
func TestRewrite(t *testing.T) {
	b := classfiletest.NewBuilder("p/A", types.ObjectClass).Interfaces("p/I", "p/J")
	b.Field(types.AccPrivate, "keep", "I")
	b.Field(types.AccPrivate, "drop", "J")
	b.Method(types.AccPublic, "<init>", "()V").InvokeSpecial(types.ObjectClass, "<init>", "()V").Return()
	b.Method(types.AccPublic, "used", "()V").GetField("p/A", "keep", "I").Return()
	b.Method(types.AccPublic, "unused", "()V").Return()
	b.Annotate(classfile.Annotation{Type: "Lp/Keep;", Visible: true})
	data := b.Bytes()

	keep := map[string]bool{"keep:I": true, "<init>:()V": true, "used:()V": true}
	out, err := classfile.Rewrite(data, keep, func(name string) bool { return name != "p/J" })
	require.NoError(t, err)

	c, err := classfile.Parse(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"p/I"}, c.Header.Interfaces)
	assert.Equal(t, []string{"keep:I", "<init>:()V", "used:()V"}, c.MemberSignatures())
	assert.Equal(t, []string{"Lp/Keep;"}, c.AnnotationTypes())
	require.Len(t, c.Methods[1].Instructions, 1)
	assert.Equal(t, "keep", c.Methods[1].Instructions[0].Ref.Name)

	all := map[string]bool{}
	orig, err := classfile.Parse(data)
	require.NoError(t, err)
	for _, sig := range orig.MemberSignatures() {
		all[sig] = true
	}
	same, err := classfile.Rewrite(data, all, nil)
	require.NoError(t, err)
	assert.Equal(t, data, same)
}
