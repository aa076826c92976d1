package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// Lexical causes.
var (
	ErrUnterminatedString  = errors.New("unterminated string constant")
	ErrUnterminatedComment = errors.New("unterminated block comment")
	ErrUnclassifiableToken = errors.New("unclassifiable token")
	ErrIntegerOverflow     = errors.New("integer constant out of range 0..32767")
	ErrInvalidCharacter    = errors.New("non-ASCII character in string constant")
)

// Syntactic cause.
var ErrUnexpectedToken = errors.New("unexpected token")

// Semantic causes.
var (
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrUnknownVariable    = errors.New("unknown variable")
	ErrUnsupportedCommand = errors.New("unsupported arithmetic command")
	ErrUnsupportedSegment = errors.New("unsupported memory segment")
)

// LexicalError reports input the Lexer could not turn into a token.
type LexicalError struct {
	Pos    lexer.Position
	Text   string // source line containing Pos
	Lexeme string
	Err    error
}

func (e *LexicalError) Error() string {
	msg := e.Err.Error()
	if e.Lexeme != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Lexeme)
	}
	return diagnostic(e.Pos, e.Text, msg)
}

func (e *LexicalError) Unwrap() error { return e.Err }

// SyntaxError reports a token that does not fit the grammar at its position.
type SyntaxError struct {
	Pos  lexer.Position
	Text string
	Msg  string
}

func (e *SyntaxError) Error() string {
	return diagnostic(e.Pos, e.Text, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return ErrUnexpectedToken }

// SemanticError reports a well-formed construct that cannot be translated,
// such as a reference to an undeclared variable.
type SemanticError struct {
	Pos  lexer.Position
	Text string
	Name string
	Err  error
}

func (e *SemanticError) Error() string {
	msg := e.Err.Error()
	if e.Name != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Name)
	}
	if e.Pos.Line == 0 {
		return msg
	}
	return diagnostic(e.Pos, e.Text, msg)
}

func (e *SemanticError) Unwrap() error { return e.Err }

// diagnostic lays out an error as "file:line:col: msg" followed by the
// offending source line.
func diagnostic(pos lexer.Position, text, msg string) string {
	var sb strings.Builder
	if pos.Filename != "" {
		sb.WriteString(pos.Filename)
		sb.WriteByte(':')
	}
	fmt.Fprintf(&sb, "%d:%d: %s", pos.Line, pos.Column, msg)
	snippet := strings.TrimSpace(text)
	if snippet == "" {
		snippet = "<source unavailable>"
	}
	fmt.Fprintf(&sb, "\n  |> %s", snippet)
	return sb.String()
}
