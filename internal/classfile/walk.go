package classfile

// Visitor receives the structure of one class. Events arrive in this order:
// VisitHeader, VisitAnnotation for each class annotation, VisitInnerClass for
// each record, VisitField for each field, then for each method VisitMethod
// followed by VisitInstruction for each reference in its body, and finally
// VisitEnd. Returning an error stops the walk.
type Visitor interface {
	VisitHeader(h Header) error
	VisitAnnotation(a Annotation) error
	VisitInnerClass(ic InnerClass) error
	VisitField(f Field) error
	VisitMethod(m Method) error
	VisitInstruction(m Method, in Instruction) error
	VisitEnd() error
}

// BaseVisitor implements Visitor with no-ops; embed it to handle a subset of events
type BaseVisitor struct{}

func (BaseVisitor) VisitHeader(Header) error { return nil }
func (BaseVisitor) VisitAnnotation(Annotation) error { return nil }
func (BaseVisitor) VisitInnerClass(InnerClass) error { return nil }
func (BaseVisitor) VisitField(Field) error { return nil }
func (BaseVisitor) VisitMethod(Method) error { return nil }
func (BaseVisitor) VisitInstruction(Method, Instruction) error { return nil }
func (BaseVisitor) VisitEnd() error { return nil }

// Walk parses data and replays it to v
func Walk(data []byte, v Visitor) error {
	c, err := Parse(data)
	if err != nil {
		return err
	}
	return c.Accept(v)
}

// Accept replays an already parsed class to v
func (c *Class) Accept(v Visitor) error {
	if err := v.VisitHeader(c.Header); err != nil {
		return err
	}
	for _, a := range c.Annotations {
		if err := v.VisitAnnotation(a); err != nil {
			return err
		}
	}
	for _, ic := range c.InnerClasses {
		if err := v.VisitInnerClass(ic); err != nil {
			return err
		}
	}
	for _, f := range c.Fields {
		if err := v.VisitField(f); err != nil {
			return err
		}
	}
	for _, m := range c.Methods {
		if err := v.VisitMethod(m); err != nil {
			return err
		}
		for _, in := range m.Instructions {
			if err := v.VisitInstruction(m, in); err != nil {
				return err
			}
		}
	}
	return v.VisitEnd()
}
