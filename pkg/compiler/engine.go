package compiler

import (
	"fmt"
	"strings"
)

// receiverName is the reserved argument-0 entry of every method. It is a
// keyword, so no declared name can shadow it.
const receiverName = "this"

// Runtime routines the generated code relies on.
const (
	allocRoutine      = "Memory.alloc"
	multiplyRoutine   = "Math.multiply"
	divideRoutine     = "Math.divide"
	stringNewRoutine  = "String.new"
	appendCharRoutine = "String.appendChar"
)

// Engine is the syntax-directed translator for one class. It pulls tokens
// from the Lexer one at a time and emits instructions as soon as each
// production is recognised; no tree is built.
//
// Grammar:
//
//	class          = "class" className "{" classVarDec* subroutineDec* "}"
//	classVarDec    = ("static" | "field") type varName ("," varName)* ";"
//	type           = "int" | "char" | "boolean" | className
//	subroutineDec  = ("constructor" | "function" | "method") ("void" | type) subroutineName
//	                 "(" parameterList ")" subroutineBody
//	parameterList  = (type varName ("," type varName)*)?
//	subroutineBody = "{" varDec* statements "}"
//	varDec         = "var" type varName ("," varName)* ";"
//	statements     = (let | if | while | do | return)*
//	let            = "let" varName ("[" expression "]")? "=" expression ";"
//	if             = "if" "(" expression ")" "{" statements "}" ("else" "{" statements "}")?
//	while          = "while" "(" expression ")" "{" statements "}"
//	do             = "do" subroutineCall ";"
//	return         = "return" expression? ";"
//	expression     = term (op term)*
//	term           = intConst | stringConst | keywordConst | varName | varName "[" expression "]"
//	                 | subroutineCall | "(" expression ")" | unaryOp term
//	subroutineCall = subroutineName "(" expressionList ")"
//	                 | (className | varName) "." subroutineName "(" expressionList ")"
//	expressionList = (expression ("," expression)*)?
//
// Binary operators have no precedence: they apply strictly left to right.
type Engine struct {
	lex   *Lexer
	tok   Token // current token; the only lookahead
	out   *Emitter
	trace *Tracer

	classSyms *SymbolTable
	subSyms   *SymbolTable

	className string
	subKind   Keyword // CONSTRUCTOR, FUNCTION or METHOD
	subName   string  // fully-qualified: Class.name

	onSubroutine func(name string, syms *SymbolTable)
}

// NewEngine wires a compiler for one class. Both symbol tables are owned by
// the Engine and reset at the class and subroutine entry points.
func NewEngine(lex *Lexer, out *Emitter) *Engine {
	return &Engine{
		lex:       lex,
		out:       out,
		classSyms: NewSymbolTable("Class scope"),
		subSyms:   NewSymbolTable("Subroutine scope"),
	}
}

// SetTracer attaches an optional XML trace. Call before CompileClass.
func (e *Engine) SetTracer(t *Tracer) {
	e.trace = t
}

// OnSubroutine registers fn to be called after each subroutine compiles,
// while its symbol table is still populated. fn must not keep syms.
func (e *Engine) OnSubroutine(fn func(name string, syms *SymbolTable)) {
	e.onSubroutine = fn
}

// ClassName returns the name of the class being (or last) compiled.
func (e *Engine) ClassName() string {
	return e.className
}

// ClassSymbols exposes the class-scope table, mainly for diagnostics.
func (e *Engine) ClassSymbols() *SymbolTable {
	return e.classSyms
}

// SubroutineSymbols exposes the table of the current (or last) subroutine.
func (e *Engine) SubroutineSymbols() *SymbolTable {
	return e.subSyms
}

// CompileClass translates exactly one class and requires end of input after it.
func (e *Engine) CompileClass() error {
	e.trace.begin()
	tok, err := e.lex.Advance()
	if err != nil {
		return err
	}
	e.tok = tok

	if err := e.compileClass(); err != nil {
		return err
	}
	if e.tok.Type != EOF {
		return e.syntaxError("expected end of input after class %s, got %s", e.className, e.tok.describe())
	}
	e.trace.end()
	if err := e.out.Err(); err != nil {
		return err
	}
	return e.trace.Err()
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

func (e *Engine) syntaxError(format string, args ...any) error {
	return &SyntaxError{
		Pos:  e.tok.Pos,
		Text: e.lex.SourceLine(e.tok.Pos.Line),
		Msg:  fmt.Sprintf(format, args...),
	}
}

// advance records the current token in the trace and moves to the next one.
func (e *Engine) advance() error {
	e.trace.terminal(e.tok)
	tok, err := e.lex.Advance()
	if err != nil {
		return err
	}
	e.tok = tok
	return nil
}

func (e *Engine) expectSymbol(c byte) error {
	if !e.tok.IsSymbol(c) {
		return e.syntaxError("expected %q, got %s", string(c), e.tok.describe())
	}
	return e.advance()
}

func (e *Engine) expectKeyword(kws ...Keyword) (Keyword, error) {
	if !e.tok.IsKeyword(kws...) {
		names := make([]string, len(kws))
		for i, kw := range kws {
			names[i] = fmt.Sprintf("%q", kw.String())
		}
		return NO_KEYWORD, e.syntaxError("expected %s, got %s", strings.Join(names, " or "), e.tok.describe())
	}
	kw := e.tok.Keyword
	return kw, e.advance()
}

func (e *Engine) expectIdentifier(what string) (Token, error) {
	tok := e.tok
	if tok.Type != IDENTIFIER {
		return tok, e.syntaxError("expected %s, got %s", what, tok.describe())
	}
	return tok, e.advance()
}

// expectType consumes int, char, boolean or a class name.
func (e *Engine) expectType() (string, error) {
	if e.tok.IsKeyword(INT, CHAR, BOOLEAN) {
		typ := e.tok.Lexeme
		return typ, e.advance()
	}
	if e.tok.Type == IDENTIFIER {
		typ := e.tok.Lexeme
		return typ, e.advance()
	}
	return "", e.syntaxError("expected type, got %s", e.tok.describe())
}

// ---------------------------------------------------------------------------
// Variable resolution
// ---------------------------------------------------------------------------

// lookup resolves name in the subroutine scope first, then the class scope.
func (e *Engine) lookup(name string) (Symbol, bool) {
	for _, table := range []*SymbolTable{e.subSyms, e.classSyms} {
		kind := table.KindOf(name)
		if kind == KindNone {
			continue
		}
		typ, err := table.TypeOf(name)
		if err != nil {
			continue
		}
		idx, err := table.IndexOf(name)
		if err != nil {
			continue
		}
		return Symbol{Name: name, Type: typ, Kind: kind, Index: idx}, true
	}
	return Symbol{}, false
}

// variable is a resolved storage location.
type variable struct {
	seg   Segment
	index int
	typ   string
}

func (e *Engine) resolve(tok Token) (variable, error) {
	sym, ok := e.lookup(tok.Lexeme)
	if !ok {
		return variable{}, &SemanticError{
			Pos:  tok.Pos,
			Text: e.lex.SourceLine(tok.Pos.Line),
			Name: tok.Lexeme,
			Err:  ErrUnknownVariable,
		}
	}
	seg, ok := sym.Kind.Segment()
	if !ok {
		return variable{}, &SemanticError{Pos: tok.Pos, Text: e.lex.SourceLine(tok.Pos.Line), Name: tok.Lexeme, Err: ErrUnsupportedSegment}
	}
	return variable{seg: seg, index: sym.Index, typ: sym.Type}, nil
}

func (e *Engine) pushVar(tok Token) error {
	v, err := e.resolve(tok)
	if err != nil {
		return err
	}
	e.out.WritePush(v.seg, v.index)
	return nil
}

// ---------------------------------------------------------------------------
// Structure
// ---------------------------------------------------------------------------

func (e *Engine) compileClass() error {
	e.trace.open("class")
	e.classSyms.Reset()

	if _, err := e.expectKeyword(CLASS); err != nil {
		return err
	}
	name, err := e.expectIdentifier("class name")
	if err != nil {
		return err
	}
	e.className = name.Lexeme
	if err := e.expectSymbol('{'); err != nil {
		return err
	}
	for e.tok.IsKeyword(STATIC, FIELD) {
		if err := e.compileClassVarDec(); err != nil {
			return err
		}
	}
	for e.tok.IsKeyword(CONSTRUCTOR, FUNCTION, METHOD) {
		if err := e.compileSubroutine(); err != nil {
			return err
		}
	}
	if err := e.expectSymbol('}'); err != nil {
		return err
	}
	e.trace.close("class")
	return nil
}

func (e *Engine) compileClassVarDec() error {
	e.trace.open("classVarDec")
	kw, err := e.expectKeyword(STATIC, FIELD)
	if err != nil {
		return err
	}
	kind := KindStatic
	if kw == FIELD {
		kind = KindField
	}
	if err := e.compileVarNames(e.classSyms, kind); err != nil {
		return err
	}
	e.trace.close("classVarDec")
	return nil
}

// compileVarNames handles the shared tail: type varName ("," varName)* ";".
func (e *Engine) compileVarNames(table *SymbolTable, kind Kind) error {
	typ, err := e.expectType()
	if err != nil {
		return err
	}
	for {
		name, err := e.expectIdentifier("variable name")
		if err != nil {
			return err
		}
		table.Define(name.Lexeme, typ, kind)
		if !e.tok.IsSymbol(',') {
			break
		}
		if err := e.advance(); err != nil {
			return err
		}
	}
	return e.expectSymbol(';')
}

func (e *Engine) compileSubroutine() error {
	e.trace.open("subroutineDec")
	kind, err := e.expectKeyword(CONSTRUCTOR, FUNCTION, METHOD)
	if err != nil {
		return err
	}
	e.subSyms.Reset()
	e.subKind = kind
	if kind == METHOD {
		e.subSyms.Define(receiverName, e.className, KindArg)
	}

	if e.tok.IsKeyword(VOID) {
		if err := e.advance(); err != nil {
			return err
		}
	} else if _, err := e.expectType(); err != nil {
		return err
	}

	name, err := e.expectIdentifier("subroutine name")
	if err != nil {
		return err
	}
	e.subName = e.className + "." + name.Lexeme

	if err := e.expectSymbol('('); err != nil {
		return err
	}
	if err := e.compileParameterList(); err != nil {
		return err
	}
	if err := e.expectSymbol(')'); err != nil {
		return err
	}
	if err := e.compileSubroutineBody(); err != nil {
		return err
	}
	if e.onSubroutine != nil {
		e.onSubroutine(e.subName, e.subSyms)
	}
	e.trace.close("subroutineDec")
	return e.out.Err()
}

func (e *Engine) compileParameterList() error {
	e.trace.open("parameterList")
	if !e.tok.IsSymbol(')') {
		for {
			typ, err := e.expectType()
			if err != nil {
				return err
			}
			name, err := e.expectIdentifier("parameter name")
			if err != nil {
				return err
			}
			e.subSyms.Define(name.Lexeme, typ, KindArg)
			if !e.tok.IsSymbol(',') {
				break
			}
			if err := e.advance(); err != nil {
				return err
			}
		}
	}
	e.trace.close("parameterList")
	return nil
}

func (e *Engine) compileSubroutineBody() error {
	e.trace.open("subroutineBody")
	if err := e.expectSymbol('{'); err != nil {
		return err
	}
	for e.tok.IsKeyword(VAR) {
		if err := e.compileVarDec(); err != nil {
			return err
		}
	}

	e.out.WriteFunction(e.subName, e.subSyms.VarCount(KindVar))
	switch e.subKind {
	case CONSTRUCTOR:
		e.out.WritePush(SegConstant, e.classSyms.VarCount(KindField))
		e.out.WriteCall(allocRoutine, 1)
		e.out.WritePop(SegPointer, 0)
	case METHOD:
		e.out.WritePush(SegArgument, 0)
		e.out.WritePop(SegPointer, 0)
	}

	if err := e.compileStatements(); err != nil {
		return err
	}
	if err := e.expectSymbol('}'); err != nil {
		return err
	}
	e.trace.close("subroutineBody")
	return nil
}

func (e *Engine) compileVarDec() error {
	e.trace.open("varDec")
	if _, err := e.expectKeyword(VAR); err != nil {
		return err
	}
	if err := e.compileVarNames(e.subSyms, KindVar); err != nil {
		return err
	}
	e.trace.close("varDec")
	return nil
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (e *Engine) compileStatements() error {
	e.trace.open("statements")
	for e.tok.Type == KEYWORD {
		var err error
		switch e.tok.Keyword {
		case LET:
			err = e.compileLet()
		case IF:
			err = e.compileIf()
		case WHILE:
			err = e.compileWhile()
		case DO:
			err = e.compileDo()
		case RETURN:
			err = e.compileReturn()
		default:
			return e.syntaxError("expected statement, got %s", e.tok.describe())
		}
		if err != nil {
			return err
		}
	}
	e.trace.close("statements")
	return nil
}

func (e *Engine) compileLet() error {
	e.trace.open("letStatement")
	if _, err := e.expectKeyword(LET); err != nil {
		return err
	}
	name, err := e.expectIdentifier("variable name")
	if err != nil {
		return err
	}
	target, err := e.resolve(name)
	if err != nil {
		return err
	}

	if e.tok.IsSymbol('[') {
		// base + index stays on the stack while the value is computed.
		e.out.WritePush(target.seg, target.index)
		if err := e.advance(); err != nil {
			return err
		}
		if err := e.compileExpression(); err != nil {
			return err
		}
		if err := e.expectSymbol(']'); err != nil {
			return err
		}
		e.out.WriteArithmetic(CmdAdd)

		if err := e.expectSymbol('='); err != nil {
			return err
		}
		if err := e.compileExpression(); err != nil {
			return err
		}
		if err := e.expectSymbol(';'); err != nil {
			return err
		}
		e.out.WritePop(SegTemp, 0)
		e.out.WritePop(SegPointer, 1)
		e.out.WritePush(SegTemp, 0)
		e.out.WritePop(SegThat, 0)
	} else {
		if err := e.expectSymbol('='); err != nil {
			return err
		}
		if err := e.compileExpression(); err != nil {
			return err
		}
		if err := e.expectSymbol(';'); err != nil {
			return err
		}
		e.out.WritePop(target.seg, target.index)
	}
	e.trace.close("letStatement")
	return nil
}

func (e *Engine) compileIf() error {
	e.trace.open("ifStatement")
	if _, err := e.expectKeyword(IF); err != nil {
		return err
	}
	if err := e.compileCondition(); err != nil {
		return err
	}
	e.out.WriteArithmetic(CmdNot)
	elseLabel := e.out.NewLabel()
	endLabel := e.out.NewLabel()
	e.out.WriteIf(elseLabel)

	if err := e.compileBlock(); err != nil {
		return err
	}
	if e.tok.IsKeyword(ELSE) {
		if err := e.advance(); err != nil {
			return err
		}
		e.out.WriteGoto(endLabel)
		e.out.WriteLabel(elseLabel)
		if err := e.compileBlock(); err != nil {
			return err
		}
		e.out.WriteLabel(endLabel)
	} else {
		e.out.WriteLabel(elseLabel)
	}
	e.trace.close("ifStatement")
	return nil
}

func (e *Engine) compileWhile() error {
	e.trace.open("whileStatement")
	topLabel := e.out.NewLabel()
	exitLabel := e.out.NewLabel()
	if _, err := e.expectKeyword(WHILE); err != nil {
		return err
	}
	e.out.WriteLabel(topLabel)
	if err := e.compileCondition(); err != nil {
		return err
	}
	e.out.WriteArithmetic(CmdNot)
	e.out.WriteIf(exitLabel)
	if err := e.compileBlock(); err != nil {
		return err
	}
	e.out.WriteGoto(topLabel)
	e.out.WriteLabel(exitLabel)
	e.trace.close("whileStatement")
	return nil
}

// compileCondition handles "(" expression ")".
func (e *Engine) compileCondition() error {
	if err := e.expectSymbol('('); err != nil {
		return err
	}
	if err := e.compileExpression(); err != nil {
		return err
	}
	return e.expectSymbol(')')
}

// compileBlock handles "{" statements "}".
func (e *Engine) compileBlock() error {
	if err := e.expectSymbol('{'); err != nil {
		return err
	}
	if err := e.compileStatements(); err != nil {
		return err
	}
	return e.expectSymbol('}')
}

func (e *Engine) compileDo() error {
	e.trace.open("doStatement")
	if _, err := e.expectKeyword(DO); err != nil {
		return err
	}
	name, err := e.expectIdentifier("subroutine call")
	if err != nil {
		return err
	}
	if !e.tok.IsSymbol('(') && !e.tok.IsSymbol('.') {
		return e.syntaxError("expected subroutine call after %q, got %s", name.Lexeme, e.tok.describe())
	}
	if err := e.compileCall(name); err != nil {
		return err
	}
	if err := e.expectSymbol(';'); err != nil {
		return err
	}
	// Every call leaves exactly one value.
	e.out.WritePop(SegTemp, 0)
	e.trace.close("doStatement")
	return nil
}

func (e *Engine) compileReturn() error {
	e.trace.open("returnStatement")
	if _, err := e.expectKeyword(RETURN); err != nil {
		return err
	}
	if e.tok.IsSymbol(';') {
		e.out.WritePush(SegConstant, 0)
	} else if err := e.compileExpression(); err != nil {
		return err
	}
	if err := e.expectSymbol(';'); err != nil {
		return err
	}
	e.out.WriteReturn()
	e.trace.close("returnStatement")
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// BinaryOp is the closed set of infix operators.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpAnd
	OpOr
	OpLt
	OpGt
	OpEq
)

// binaryOp maps an operator symbol to its BinaryOp.
func binaryOp(tok Token) (BinaryOp, bool) {
	if tok.Type != SYMBOL {
		return 0, false
	}
	switch tok.Lexeme {
	case "+":
		return OpAdd, true
	case "-":
		return OpSub, true
	case "*":
		return OpMul, true
	case "/":
		return OpDiv, true
	case "&":
		return OpAnd, true
	case "|":
		return OpOr, true
	case "<":
		return OpLt, true
	case ">":
		return OpGt, true
	case "=":
		return OpEq, true
	}
	return 0, false
}

func (e *Engine) emitBinary(op BinaryOp) {
	switch op {
	case OpAdd:
		e.out.WriteArithmetic(CmdAdd)
	case OpSub:
		e.out.WriteArithmetic(CmdSub)
	case OpMul:
		e.out.WriteCall(multiplyRoutine, 2)
	case OpDiv:
		e.out.WriteCall(divideRoutine, 2)
	case OpAnd:
		e.out.WriteArithmetic(CmdAnd)
	case OpOr:
		e.out.WriteArithmetic(CmdOr)
	case OpLt:
		e.out.WriteArithmetic(CmdLt)
	case OpGt:
		e.out.WriteArithmetic(CmdGt)
	case OpEq:
		e.out.WriteArithmetic(CmdEq)
	default:
		e.out.WriteArithmetic(Command(-1))
	}
}

func (e *Engine) compileExpression() error {
	e.trace.open("expression")
	if err := e.compileTerm(); err != nil {
		return err
	}
	for {
		op, ok := binaryOp(e.tok)
		if !ok {
			break
		}
		if err := e.advance(); err != nil {
			return err
		}
		if err := e.compileTerm(); err != nil {
			return err
		}
		e.emitBinary(op)
	}
	e.trace.close("expression")
	return nil
}

func (e *Engine) compileTerm() error {
	e.trace.open("term")
	tok := e.tok
	switch tok.Type {
	case INT_CONST:
		e.out.WritePush(SegConstant, tok.Value)
		if err := e.advance(); err != nil {
			return err
		}

	case STRING_CONST:
		e.emitString(tok.Lexeme)
		if err := e.advance(); err != nil {
			return err
		}

	case KEYWORD:
		switch tok.Keyword {
		case TRUE:
			e.out.WritePush(SegConstant, 0)
			e.out.WriteArithmetic(CmdNot)
		case FALSE, NULL:
			e.out.WritePush(SegConstant, 0)
		case THIS:
			e.out.WritePush(SegPointer, 0)
		default:
			return e.syntaxError("expected term, got %s", tok.describe())
		}
		if err := e.advance(); err != nil {
			return err
		}

	case SYMBOL:
		switch {
		case tok.IsSymbol('('):
			if err := e.advance(); err != nil {
				return err
			}
			if err := e.compileExpression(); err != nil {
				return err
			}
			if err := e.expectSymbol(')'); err != nil {
				return err
			}
		case tok.IsSymbol('-'), tok.IsSymbol('~'):
			if err := e.advance(); err != nil {
				return err
			}
			if err := e.compileTerm(); err != nil {
				return err
			}
			if tok.IsSymbol('-') {
				e.out.WriteArithmetic(CmdNeg)
			} else {
				e.out.WriteArithmetic(CmdNot)
			}
		default:
			return e.syntaxError("expected term, got %s", tok.describe())
		}

	case IDENTIFIER:
		if err := e.advance(); err != nil {
			return err
		}
		switch {
		case e.tok.IsSymbol('['):
			if err := e.pushVar(tok); err != nil {
				return err
			}
			if err := e.advance(); err != nil {
				return err
			}
			if err := e.compileExpression(); err != nil {
				return err
			}
			if err := e.expectSymbol(']'); err != nil {
				return err
			}
			e.out.WriteArithmetic(CmdAdd)
			e.out.WritePop(SegPointer, 1)
			e.out.WritePush(SegThat, 0)
		case e.tok.IsSymbol('('), e.tok.IsSymbol('.'):
			if err := e.compileCall(tok); err != nil {
				return err
			}
		default:
			if err := e.pushVar(tok); err != nil {
				return err
			}
		}

	default:
		return e.syntaxError("expected term, got %s", tok.describe())
	}
	e.trace.close("term")
	return nil
}

// emitString builds a fresh String object for every occurrence of a literal.
func (e *Engine) emitString(s string) {
	runes := []rune(s)
	e.out.WritePush(SegConstant, len(runes))
	e.out.WriteCall(stringNewRoutine, 1)
	for _, r := range runes {
		e.out.WritePush(SegConstant, int(r))
		e.out.WriteCall(appendCharRoutine, 2)
	}
}

// compileCall finishes a subroutine call whose first name has already been
// consumed. The current token is "(" or ".".
//
//	name(args)          -> push pointer 0, call Current.name n+1
//	variable.sub(args)  -> push variable,  call Type.sub n+1
//	Class.sub(args)     ->                 call Class.sub n
func (e *Engine) compileCall(name Token) error {
	var (
		target    string
		receivers int
	)
	if e.tok.IsSymbol('.') {
		if err := e.advance(); err != nil {
			return err
		}
		sub, err := e.expectIdentifier("subroutine name")
		if err != nil {
			return err
		}
		if sym, ok := e.lookup(name.Lexeme); ok {
			if err := e.pushVar(name); err != nil {
				return err
			}
			target = sym.Type + "." + sub.Lexeme
			receivers = 1
		} else {
			target = name.Lexeme + "." + sub.Lexeme
		}
	} else {
		e.out.WritePush(SegPointer, 0)
		target = e.className + "." + name.Lexeme
		receivers = 1
	}

	if err := e.expectSymbol('('); err != nil {
		return err
	}
	n, err := e.compileExpressionList()
	if err != nil {
		return err
	}
	if err := e.expectSymbol(')'); err != nil {
		return err
	}
	e.out.WriteCall(target, n+receivers)
	return nil
}

// compileExpressionList returns the number of expressions compiled.
func (e *Engine) compileExpressionList() (int, error) {
	e.trace.open("expressionList")
	n := 0
	if !e.tok.IsSymbol(')') {
		for {
			if err := e.compileExpression(); err != nil {
				return n, err
			}
			n++
			if !e.tok.IsSymbol(',') {
				break
			}
			if err := e.advance(); err != nil {
				return n, err
			}
		}
	}
	e.trace.close("expressionList")
	return n, nil
}
