package compiler

import (
	"bytes"
	"io"
)

// Compile translates one class from src and writes its stack-machine code to
// w. Code is only written once the whole class compiled; on error w receives
// nothing. trace may be nil.
func Compile(filename, src string, w io.Writer, trace *Tracer) error {
	var buf bytes.Buffer
	engine := NewEngine(NewLexer(filename, src), NewEmitter(&buf))
	engine.SetTracer(trace)
	if err := engine.CompileClass(); err != nil {
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

// CompileString is Compile into a string.
func CompileString(filename, src string) (string, error) {
	var out bytes.Buffer
	if err := Compile(filename, src, &out, nil); err != nil {
		return "", err
	}
	return out.String(), nil
}
