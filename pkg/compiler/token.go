package compiler

import (
	"fmt"

	"github.com/alecthomas/participle/v2/lexer"
)

// TokenType identifies the lexical class of a token.
type TokenType int

const (
	EOF TokenType = iota // sentinel: end of input

	KEYWORD      // one of the reserved words
	SYMBOL       // single punctuation character
	IDENTIFIER   // variable / subroutine / class name
	INT_CONST    // decimal integer 0..32767
	STRING_CONST // "..." without the quotes
)

// tokenNames doubles as the tag used by the XML trace.
var tokenNames = [...]string{
	EOF:          "EOF",
	KEYWORD:      "keyword",
	SYMBOL:       "symbol",
	IDENTIFIER:   "identifier",
	INT_CONST:    "integerConstant",
	STRING_CONST: "stringConstant",
}

func (tt TokenType) String() string {
	if int(tt) >= 0 && int(tt) < len(tokenNames) {
		return tokenNames[tt]
	}
	return fmt.Sprintf("TokenType(%d)", int(tt))
}

// Keyword enumerates the reserved words of the language.
type Keyword int

const (
	NO_KEYWORD Keyword = iota

	CLASS
	CONSTRUCTOR
	FUNCTION
	METHOD
	FIELD
	STATIC
	VAR
	INT
	CHAR
	BOOLEAN
	VOID
	TRUE
	FALSE
	NULL
	THIS
	LET
	DO
	IF
	ELSE
	WHILE
	RETURN
)

var keywordNames = [...]string{
	NO_KEYWORD:  "",
	CLASS:       "class",
	CONSTRUCTOR: "constructor",
	FUNCTION:    "function",
	METHOD:      "method",
	FIELD:       "field",
	STATIC:      "static",
	VAR:         "var",
	INT:         "int",
	CHAR:        "char",
	BOOLEAN:     "boolean",
	VOID:        "void",
	TRUE:        "true",
	FALSE:       "false",
	NULL:        "null",
	THIS:        "this",
	LET:         "let",
	DO:          "do",
	IF:          "if",
	ELSE:        "else",
	WHILE:       "while",
	RETURN:      "return",
}

// keywords maps source text to its Keyword.
var keywords = func() map[string]Keyword {
	m := make(map[string]Keyword, len(keywordNames))
	for kw, name := range keywordNames {
		if name != "" {
			m[name] = Keyword(kw)
		}
	}
	return m
}()

func (k Keyword) String() string {
	if int(k) >= 0 && int(k) < len(keywordNames) {
		return keywordNames[k]
	}
	return fmt.Sprintf("Keyword(%d)", int(k))
}

// symbols is the fixed set of single-character symbols.
const symbols = "{}()[].,;+-*/&|<>=~"

// Token is a single lexical unit produced by the Lexer.
type Token struct {
	Type    TokenType
	Lexeme  string  // source text; string constants are stored without quotes
	Keyword Keyword // set when Type == KEYWORD
	Value   int     // set when Type == INT_CONST
	Pos     lexer.Position
}

// IsKeyword reports whether t is one of the given keywords.
func (t Token) IsKeyword(kws ...Keyword) bool {
	if t.Type != KEYWORD {
		return false
	}
	for _, kw := range kws {
		if t.Keyword == kw {
			return true
		}
	}
	return false
}

// IsSymbol reports whether t is the symbol c.
func (t Token) IsSymbol(c byte) bool {
	return t.Type == SYMBOL && len(t.Lexeme) == 1 && t.Lexeme[0] == c
}

// describe renders a token for diagnostics.
func (t Token) describe() string {
	if t.Type == EOF {
		return "end of input"
	}
	return fmt.Sprintf("%s %q", t.Type, t.Lexeme)
}

func (t Token) String() string {
	return fmt.Sprintf("%-16s %-14q  line %d", t.Type, t.Lexeme, t.Pos.Line)
}
