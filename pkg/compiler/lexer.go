package compiler

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/alecthomas/participle/v2/lexer"
)

// maxIntConst is the largest literal a 16-bit machine word can hold
// without the sign bit; negative values are built with unary minus.
const maxIntConst = 32767

// Lexer is a forward-only cursor over one source file. Each call to Advance
// yields the next token; there is no backtracking.
type Lexer struct {
	filename string
	src      []rune
	lines    []string
	pos      int // index of the next rune to consume
	offset   int // byte offset of the next rune
	line     int // current 1-based source line
	col      int // current 1-based column
}

func NewLexer(filename, src string) *Lexer {
	return &Lexer{
		filename: filename,
		src:      []rune(src),
		lines:    strings.Split(src, "\n"),
		line:     1,
		col:      1,
	}
}

// SourceLine returns the raw text of the 1-based line n, or "" if n is out of range.
func (l *Lexer) SourceLine(n int) string {
	if n < 1 || n > len(l.lines) {
		return ""
	}
	return strings.TrimRight(l.lines[n-1], "\r")
}

func (l *Lexer) position() lexer.Position {
	return lexer.Position{Filename: l.filename, Offset: l.offset, Line: l.line, Column: l.col}
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	l.offset += utf8.RuneLen(r)
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *Lexer) atEnd() bool {
	return l.pos >= len(l.src)
}

func (l *Lexer) lexicalError(pos lexer.Position, lexeme string, cause error) error {
	return &LexicalError{Pos: pos, Text: l.SourceLine(pos.Line), Lexeme: lexeme, Err: cause}
}

// skipTrivia discards whitespace, "//" line comments and "/* */" block
// comments, in any order.
func (l *Lexer) skipTrivia() error {
	for !l.atEnd() {
		switch {
		case unicode.IsSpace(l.peek()):
			l.advance()
		case l.peek() == '/' && l.peek2() == '/':
			for !l.atEnd() && l.peek() != '\n' {
				l.advance()
			}
		case l.peek() == '/' && l.peek2() == '*':
			start := l.position()
			l.advance() // /
			l.advance() // *
			closed := false
			for !l.atEnd() {
				if l.peek() == '*' && l.peek2() == '/' {
					l.advance()
					l.advance()
					closed = true
					break
				}
				l.advance()
			}
			if !closed {
				return l.lexicalError(start, "", ErrUnterminatedComment)
			}
		default:
			return nil
		}
	}
	return nil
}

// isDelimiter reports whether r ends a run of word characters.
func isDelimiter(r rune) bool {
	return unicode.IsSpace(r) || r == '"' || strings.ContainsRune(symbols, r)
}

// Advance consumes input and returns the next token. At end of input it
// returns an EOF token and keeps returning it on further calls.
func (l *Lexer) Advance() (Token, error) {
	if err := l.skipTrivia(); err != nil {
		return Token{}, err
	}
	pos := l.position()
	if l.atEnd() {
		return Token{Type: EOF, Pos: pos}, nil
	}

	ch := l.peek()
	if ch == '"' {
		return l.scanString()
	}
	if strings.ContainsRune(symbols, ch) {
		l.advance()
		return Token{Type: SYMBOL, Lexeme: string(ch), Pos: pos}, nil
	}

	start := l.pos
	for !l.atEnd() && !isDelimiter(l.peek()) {
		l.advance()
	}
	return l.classify(string(l.src[start:l.pos]), pos)
}

// classify assigns a maximal word run its token class. Order matters:
// keyword, integer constant, then identifier. Symbols and string constants
// never reach here since they are delimiters.
func (l *Lexer) classify(word string, pos lexer.Position) (Token, error) {
	if kw, ok := keywords[word]; ok {
		return Token{Type: KEYWORD, Lexeme: word, Keyword: kw, Pos: pos}, nil
	}
	if isDigits(word) {
		n, err := strconv.Atoi(word)
		if err != nil || n > maxIntConst {
			return Token{}, l.lexicalError(pos, word, ErrIntegerOverflow)
		}
		return Token{Type: INT_CONST, Lexeme: word, Value: n, Pos: pos}, nil
	}
	if isIdentifier(word) {
		return Token{Type: IDENTIFIER, Lexeme: word, Pos: pos}, nil
	}
	return Token{}, l.lexicalError(pos, word, ErrUnclassifiableToken)
}

// scanString collects a string constant. The opening quote must be at l.peek().
func (l *Lexer) scanString() (Token, error) {
	pos := l.position()
	l.advance() // opening "
	start := l.pos
	for !l.atEnd() && l.peek() != '"' {
		if l.peek() == '\n' {
			return Token{}, l.lexicalError(pos, string(l.src[start-1:l.pos]), ErrUnterminatedString)
		}
		// Each character becomes a push constant, so it must fit the machine word.
		if l.peek() > unicode.MaxASCII {
			return Token{}, l.lexicalError(l.position(), string(l.peek()), ErrInvalidCharacter)
		}
		l.advance()
	}
	if l.atEnd() {
		return Token{}, l.lexicalError(pos, string(l.src[start-1:l.pos]), ErrUnterminatedString)
	}
	text := string(l.src[start:l.pos])
	l.advance() // closing "
	return Token{Type: STRING_CONST, Lexeme: text, Pos: pos}, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isIdentifier accepts letters, digits and '_' not starting with a digit.
func isIdentifier(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return s != ""
}

// Lex tokenises src and returns all tokens including the final EOF token.
// It stops at the first lexical error.
func Lex(filename, src string) ([]Token, error) {
	l := NewLexer(filename, src)
	var tokens []Token
	for {
		tok, err := l.Advance()
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
		if tok.Type == EOF {
			return tokens, nil
		}
	}
}
