package compiler

import (
	"fmt"
	"io"
)

// Segment is one of the eight addressable memory segments of the stack machine.
type Segment int

const (
	SegConstant Segment = iota
	SegArgument
	SegLocal
	SegStatic
	SegThis
	SegThat
	SegPointer
	SegTemp
)

func (s Segment) String() string {
	switch s {
	case SegConstant:
		return "constant"
	case SegArgument:
		return "argument"
	case SegLocal:
		return "local"
	case SegStatic:
		return "static"
	case SegThis:
		return "this"
	case SegThat:
		return "that"
	case SegPointer:
		return "pointer"
	case SegTemp:
		return "temp"
	}
	return ""
}

// Command is one of the nine native arithmetic/logical instructions.
type Command int

const (
	CmdAdd Command = iota
	CmdSub
	CmdNeg
	CmdEq
	CmdGt
	CmdLt
	CmdAnd
	CmdOr
	CmdNot
)

func (c Command) String() string {
	switch c {
	case CmdAdd:
		return "add"
	case CmdSub:
		return "sub"
	case CmdNeg:
		return "neg"
	case CmdEq:
		return "eq"
	case CmdGt:
		return "gt"
	case CmdLt:
		return "lt"
	case CmdAnd:
		return "and"
	case CmdOr:
		return "or"
	case CmdNot:
		return "not"
	}
	return ""
}

// Emitter writes stack-machine instructions, one per line, to an output sink.
// It keeps no knowledge of types or symbols. The first failure is kept and
// every later write becomes a no-op; callers check Err.
type Emitter struct {
	out       io.Writer
	nextLabel int
	err       error
}

func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{out: w}
}

// Err returns the first error met while emitting, if any.
func (e *Emitter) Err() error {
	return e.err
}

// NewLabel returns a label never handed out before by this Emitter.
func (e *Emitter) NewLabel() string {
	l := fmt.Sprintf("L%d", e.nextLabel)
	e.nextLabel++
	return l
}

func (e *Emitter) line(format string, args ...any) {
	if e.err != nil {
		return
	}
	if _, err := fmt.Fprintf(e.out, format+"\n", args...); err != nil {
		e.err = err
	}
}

func (e *Emitter) fail(name string, cause error) {
	if e.err == nil {
		e.err = &SemanticError{Name: name, Err: cause}
	}
}

func (e *Emitter) WritePush(seg Segment, index int) {
	name := seg.String()
	if name == "" {
		e.fail(fmt.Sprintf("%d", int(seg)), ErrUnsupportedSegment)
		return
	}
	e.line("push %s %d", name, index)
}

func (e *Emitter) WritePop(seg Segment, index int) {
	name := seg.String()
	if name == "" {
		e.fail(fmt.Sprintf("%d", int(seg)), ErrUnsupportedSegment)
		return
	}
	e.line("pop %s %d", name, index)
}

func (e *Emitter) WriteArithmetic(cmd Command) {
	name := cmd.String()
	if name == "" {
		e.fail(fmt.Sprintf("%d", int(cmd)), ErrUnsupportedCommand)
		return
	}
	e.line("%s", name)
}

func (e *Emitter) WriteLabel(label string) {
	e.line("label %s", label)
}

func (e *Emitter) WriteGoto(label string) {
	e.line("goto %s", label)
}

func (e *Emitter) WriteIf(label string) {
	e.line("if-goto %s", label)
}

func (e *Emitter) WriteCall(name string, nArgs int) {
	e.line("call %s %d", name, nArgs)
}

func (e *Emitter) WriteFunction(name string, nLocals int) {
	e.line("function %s %d", name, nLocals)
}

func (e *Emitter) WriteReturn() {
	e.line("return")
}
