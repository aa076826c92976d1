package compiler

import (
	"fmt"
	"io"
	"strings"
)

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

// Tracer writes the optional diagnostic XML views of a compilation: a flat
// token listing and a tree of grammar productions with their terminals.
// Either writer may be nil. A nil *Tracer is valid and records nothing.
// Nothing in the compiler reads the trace back.
type Tracer struct {
	tokens io.Writer
	tree   io.Writer
	depth  int
	err    error
}

func NewTracer(tokens, tree io.Writer) *Tracer {
	return &Tracer{tokens: tokens, tree: tree}
}

// Err returns the first write error, if any.
func (t *Tracer) Err() error {
	if t == nil {
		return nil
	}
	return t.err
}

func (t *Tracer) write(w io.Writer, format string, args ...any) {
	if w == nil || t.err != nil {
		return
	}
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		t.err = err
	}
}

// begin opens the token listing.
func (t *Tracer) begin() {
	if t == nil {
		return
	}
	t.write(t.tokens, "<tokens>\n")
}

// end closes the token listing.
func (t *Tracer) end() {
	if t == nil {
		return
	}
	t.write(t.tokens, "</tokens>\n")
}

func (t *Tracer) open(tag string) {
	if t == nil {
		return
	}
	t.write(t.tree, "%s<%s>\n", strings.Repeat("\t", t.depth), tag)
	t.depth++
}

func (t *Tracer) close(tag string) {
	if t == nil {
		return
	}
	t.depth--
	t.write(t.tree, "%s</%s>\n", strings.Repeat("\t", t.depth), tag)
}

// terminal records a consumed token in both views.
func (t *Tracer) terminal(tok Token) {
	if t == nil || tok.Type == EOF {
		return
	}
	tag := tok.Type.String()
	text := xmlEscaper.Replace(tok.Lexeme)
	t.write(t.tokens, "<%s> %s </%s>\n", tag, text, tag)
	t.write(t.tree, "%s<%s> %s </%s>\n", strings.Repeat("\t", t.depth), tag, text, tag)
}
