package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func assertContains(t *testing.T, code, expected string) {
	t.Helper()
	if !strings.Contains(code, expected) {
		t.Errorf("Expected code to contain %q, but it didn't.\nCode:\n%s", expected, code)
	}
}

func compileOK(t *testing.T, src string) string {
	t.Helper()
	code, err := CompileString("Test.jack", src)
	if err != nil {
		t.Fatalf("compile failed: %v\nSource:\n%s", err, src)
	}
	return code
}

// inFunction wraps statements in "class Main { function void f() { ... } }"
// with the given local declarations.
func inFunction(locals, body string) string {
	return fmt.Sprintf("class Main {\n  function void f() {\n    %s\n    %s\n  }\n}\n", locals, body)
}

func lines(ss ...string) string {
	return strings.Join(ss, "\n") + "\n"
}

func TestGenerate_IfElse(t *testing.T) {
	code := compileOK(t, inFunction("var int x;",
		"if (x < 10) { let x = x + 1; } else { let x = 0; } return;"))

	want := lines(
		"function Main.f 1",
		"push local 0",
		"push constant 10",
		"lt",
		"not",
		"if-goto L0",
		"push local 0",
		"push constant 1",
		"add",
		"pop local 0",
		"goto L1",
		"label L0",
		"push constant 0",
		"pop local 0",
		"label L1",
		"push constant 0",
		"return",
	)
	if code != want {
		t.Errorf("got:\n%s\nwant:\n%s", code, want)
	}
}

func TestGenerate_IfWithoutElse(t *testing.T) {
	code := compileOK(t, inFunction("var boolean b;", "if (b) { let b = false; } return;"))
	assertContains(t, code, lines("push local 0", "not", "if-goto L0", "push constant 0", "pop local 0", "label L0"))
	if strings.Contains(code, "goto L1") || strings.Contains(code, "label L1") {
		t.Errorf("if without else must not jump to its end label:\n%s", code)
	}
}

func TestGenerate_While(t *testing.T) {
	code := compileOK(t, inFunction("var int i;", "while (i < 3) { let i = i + 1; } return;"))
	assertContains(t, code, lines(
		"label L0",
		"push local 0",
		"push constant 3",
		"lt",
		"not",
		"if-goto L1",
		"push local 0",
		"push constant 1",
		"add",
		"pop local 0",
		"goto L0",
		"label L1",
	))
}

func TestGenerate_LabelsAreDistinct(t *testing.T) {
	code := compileOK(t, inFunction("var int i, j;", `
    while (i < 3) {
      if (i = 1) { let j = 1; } else { let j = 2; }
      while (j > 0) { let j = j - 1; }
      let i = i + 1;
    }
    if (j) { return; }
    return;`))

	labels := make(map[string]int)
	for _, line := range strings.Split(code, "\n") {
		if name, ok := strings.CutPrefix(line, "label "); ok {
			labels[name]++
		}
	}
	if len(labels) != 7 {
		t.Errorf("expected 7 distinct labels placed, got %v\n%s", labels, code)
	}
	for name, n := range labels {
		if n != 1 {
			t.Errorf("label %s placed %d times", name, n)
		}
	}
}

func TestGenerate_ConstructorPrologue(t *testing.T) {
	code := compileOK(t, `class Point {
  field int x, y;
  static int count;
  constructor Point new(int ax, int ay) {
    let x = ax;
    let y = ay;
    return this;
  }
}`)
	want := lines(
		"function Point.new 0",
		"push constant 2",
		"call Memory.alloc 1",
		"pop pointer 0",
		"push argument 0",
		"pop this 0",
		"push argument 1",
		"pop this 1",
		"push pointer 0",
		"return",
	)
	if code != want {
		t.Errorf("got:\n%s\nwant:\n%s", code, want)
	}
}

func TestGenerate_MethodPrologue(t *testing.T) {
	code := compileOK(t, `class Point {
  field int x, y;
  method int plus(int d) {
    var int r;
    let r = x + d;
    return r;
  }
}`)
	want := lines(
		"function Point.plus 1",
		"push argument 0",
		"pop pointer 0",
		"push this 0",
		"push argument 1",
		"add",
		"pop local 0",
		"push local 0",
		"return",
	)
	if code != want {
		t.Errorf("got:\n%s\nwant:\n%s", code, want)
	}
}

func TestGenerate_StringLiteral(t *testing.T) {
	code := compileOK(t, inFunction("", `do Output.printString("Hi"); return;`))
	assertContains(t, code, lines(
		"push constant 2",
		"call String.new 1",
		"push constant 72",
		"call String.appendChar 2",
		"push constant 105",
		"call String.appendChar 2",
		"call Output.printString 1",
		"pop temp 0",
	))
}

func TestGenerate_EmptyString(t *testing.T) {
	code := compileOK(t, inFunction("var String s;", `let s = ""; return;`))
	assertContains(t, code, lines("push constant 0", "call String.new 1", "pop local 0"))
}

func TestGenerate_ReturnVoid(t *testing.T) {
	code := compileOK(t, inFunction("", "return;"))
	if !strings.HasSuffix(code, "push constant 0\nreturn\n") {
		t.Errorf("void return must push 0 before return:\n%s", code)
	}
}

func TestGenerate_KeywordConstants(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"true", lines("push constant 0", "not")},
		{"false", lines("push constant 0")},
		{"null", lines("push constant 0")},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			code := compileOK(t, inFunction("var boolean b;", "let b = "+tt.expr+"; return;"))
			assertContains(t, code, "function Main.f 1\n"+tt.want+"pop local 0\n")
		})
	}
}

func TestGenerate_Operators(t *testing.T) {
	tests := []struct {
		op   string
		want string
	}{
		{"+", "add\n"},
		{"-", "sub\n"},
		{"*", "call Math.multiply 2\n"},
		{"/", "call Math.divide 2\n"},
		{"&", "and\n"},
		{"|", "or\n"},
		{"<", "lt\n"},
		{">", "gt\n"},
		{"=", "eq\n"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			code := compileOK(t, inFunction("var int a, b;", "let a = a "+tt.op+" b; return;"))
			assertContains(t, code, "push local 0\npush local 1\n"+tt.want+"pop local 0\n")
		})
	}
}

func TestGenerate_LeftToRight(t *testing.T) {
	code := compileOK(t, inFunction("var int a;", "let a = 2 + 3 * 4; return;"))
	assertContains(t, code, lines(
		"push constant 2",
		"push constant 3",
		"add",
		"push constant 4",
		"call Math.multiply 2",
		"pop local 0",
	))
}

func TestGenerate_UnaryAndParens(t *testing.T) {
	code := compileOK(t, inFunction("var int a;", "let a = -(a + 1); let a = ~a; let a = --5; return;"))
	assertContains(t, code, lines("push local 0", "push constant 1", "add", "neg", "pop local 0"))
	assertContains(t, code, lines("push local 0", "not", "pop local 0"))
	assertContains(t, code, lines("push constant 5", "neg", "neg", "pop local 0"))
}

func TestGenerate_Arrays(t *testing.T) {
	code := compileOK(t, inFunction("var Array a; var int i;", "let a[i] = a[i + 1]; return;"))
	want := lines(
		"function Main.f 2",
		"push local 0",
		"push local 1",
		"add",
		"push local 0",
		"push local 1",
		"push constant 1",
		"add",
		"add",
		"pop pointer 1",
		"push that 0",
		"pop temp 0",
		"pop pointer 1",
		"push temp 0",
		"pop that 0",
		"push constant 0",
		"return",
	)
	if code != want {
		t.Errorf("got:\n%s\nwant:\n%s", code, want)
	}
}

func TestGenerate_CallArgumentCounts(t *testing.T) {
	src := `class Game {
  field Ball ball;
  static Game current;
  method void run(int a, int b) {
    var Paddle p;
    do p.move(a, b);
    do ball.bounce();
    do current.tick(1);
    do Screen.clear();
    do Math.max(a, b);
    do step(a, b);
    return;
  }
  method void step(int a, int b) { return; }
}`
	code := compileOK(t, src)
	assertContains(t, code, lines("push local 0", "push argument 1", "push argument 2", "call Paddle.move 3", "pop temp 0"))
	assertContains(t, code, lines("push this 0", "call Ball.bounce 1"))
	assertContains(t, code, lines("push static 0", "push constant 1", "call Game.tick 2"))
	assertContains(t, code, lines("pop temp 0", "call Screen.clear 0", "pop temp 0"))
	assertContains(t, code, lines("push argument 1", "push argument 2", "call Math.max 2"))
	assertContains(t, code, lines("push pointer 0", "push argument 1", "push argument 2", "call Game.step 3"))
}

func TestGenerate_ThisAsValue(t *testing.T) {
	code := compileOK(t, `class Node {
  method Node self() { return this; }
  method void link(Node other) { do other.attach(this); return; }
}`)
	assertContains(t, code, lines("function Node.self 0", "push argument 0", "pop pointer 0", "push pointer 0", "return"))
	assertContains(t, code, lines("push argument 1", "push pointer 0", "call Node.attach 2"))
}

func TestGenerate_Idempotent(t *testing.T) {
	src := `class Main {
  static int n;
  function int main() {
    var int i;
    while (i < 10) { if (i > 5) { let n = n + i; } let i = i + 1; }
    return n;
  }
}`
	first := compileOK(t, src)
	second := compileOK(t, src)
	if first != second {
		t.Errorf("two compilations differ:\n%s\n---\n%s", first, second)
	}
}

func TestGenerate_SubroutineScopeIsFresh(t *testing.T) {
	src := `class Main {
  field int f;
  method void a(int p) { var int x, y; return; }
  function void b() { var boolean z; return; }
  constructor Main new(int q) { return this; }
}`
	var tables []string
	counts := map[string][4]int{}
	e := NewEngine(NewLexer("Main.jack", src), NewEmitter(&bytes.Buffer{}))
	e.OnSubroutine(func(name string, syms *SymbolTable) {
		tables = append(tables, syms.String())
		counts[name] = [4]int{syms.VarCount(KindArg), syms.VarCount(KindVar), syms.VarCount(KindStatic), syms.VarCount(KindField)}
	})
	if err := e.CompileClass(); err != nil {
		t.Fatal(err)
	}

	want := map[string][4]int{
		"Main.a":   {2, 2, 0, 0}, // receiver + p
		"Main.b":   {0, 1, 0, 0},
		"Main.new": {1, 0, 0, 0},
	}
	for name, w := range want {
		if counts[name] != w {
			t.Errorf("%s counts (arg, local, static, field) = %v, want %v", name, counts[name], w)
		}
	}
	if strings.Contains(tables[1], "x") || strings.Contains(tables[2], "z") {
		t.Errorf("subroutine symbols leaked:\n%s", strings.Join(tables, "\n"))
	}
	if e.ClassName() != "Main" || e.ClassSymbols().VarCount(KindField) != 1 {
		t.Errorf("class state wrong: %s %s", e.ClassName(), e.ClassSymbols())
	}
}

func TestGenerate_ReceiverIsArgumentZero(t *testing.T) {
	var got Symbol
	e := NewEngine(NewLexer("", "class P { method void m(int a) { return; } }"), NewEmitter(&bytes.Buffer{}))
	e.OnSubroutine(func(_ string, syms *SymbolTable) {
		got = syms.Symbols()[0]
	})
	if err := e.CompileClass(); err != nil {
		t.Fatal(err)
	}
	if got.Name != "this" || got.Type != "P" || got.Kind != KindArg || got.Index != 0 {
		t.Errorf("receiver entry = %+v", got)
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		cause error
		want  []string
	}{
		{
			name:  "Integer overflow",
			src:   inFunction("var int x;", "let x = 40000; return;"),
			cause: ErrIntegerOverflow,
			want:  []string{"Err.jack:4:", "|> let x = 40000; return;"},
		},
		{
			name:  "Character outside machine word",
			src:   inFunction("", "do Output.printString(\"\U0001F600\"); return;"),
			cause: ErrInvalidCharacter,
			want:  []string{"Err.jack:4:28:", "non-ASCII character"},
		},
		{
			name:  "Unknown variable",
			src:   inFunction("", "let y = 1; return;"),
			cause: ErrUnknownVariable,
			want:  []string{"Err.jack:4:9:", `unknown variable "y"`, "|> let y = 1; return;"},
		},
		{
			name:  "Unknown variable in expression",
			src:   inFunction("var int x;", "let x = ghost + 1; return;"),
			cause: ErrUnknownVariable,
			want:  []string{`"ghost"`},
		},
		{
			name:  "Missing semicolon",
			src:   inFunction("var int x;", "let x = 1\n    return;"),
			cause: ErrUnexpectedToken,
			want:  []string{"Err.jack:5:", `expected ";", got keyword "return"`, "|> return;"},
		},
		{
			name:  "Bad statement keyword",
			src:   inFunction("var int x;", "let x = 1; field int y; return;"),
			cause: ErrUnexpectedToken,
			want:  []string{"expected statement"},
		},
		{
			name:  "Trailing input",
			src:   "class A { } class B { }",
			cause: ErrUnexpectedToken,
			want:  []string{"expected end of input"},
		},
		{
			name:  "Missing class",
			src:   "function void f() {}",
			cause: ErrUnexpectedToken,
			want:  []string{"Err.jack:1:1:"},
		},
		{
			name:  "Bad term",
			src:   inFunction("var int x;", "let x = ;"),
			cause: ErrUnexpectedToken,
			want:  []string{"expected term"},
		},
		{
			name:  "Do without call",
			src:   inFunction("var int x;", "do x; return;"),
			cause: ErrUnexpectedToken,
			want:  []string{"expected subroutine call"},
		},
		{
			name:  "Unterminated class",
			src:   "class A {",
			cause: ErrUnexpectedToken,
			want:  []string{"end of input"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			err := Compile("Err.jack", tt.src, &out, nil)
			if err == nil {
				t.Fatalf("expected error, got output:\n%s", out.String())
			}
			if !errors.Is(err, tt.cause) {
				t.Errorf("expected cause %v, got %v", tt.cause, err)
			}
			for _, w := range tt.want {
				assertContains(t, err.Error(), w)
			}
			if out.Len() != 0 {
				t.Errorf("output written on failure:\n%s", out.String())
			}
		})
	}
}

func TestCompile_ErrorTypes(t *testing.T) {
	_, err := CompileString("E.jack", inFunction("", "let q = 1;"))
	var semErr *SemanticError
	if !errors.As(err, &semErr) || semErr.Name != "q" {
		t.Errorf("expected *SemanticError for q, got %T %v", err, err)
	}

	_, err = CompileString("E.jack", "class {")
	var synErr *SyntaxError
	if !errors.As(err, &synErr) || synErr.Pos.Line != 1 {
		t.Errorf("expected *SyntaxError on line 1, got %T %v", err, err)
	}

	_, err = CompileString("E.jack", `class A { function void f() { do g("x`)
	var lexErr *LexicalError
	if !errors.As(err, &lexErr) {
		t.Errorf("expected *LexicalError, got %T %v", err, err)
	}
}
