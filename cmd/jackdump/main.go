// Command jackdump prints every stage of compiling one SL class: the token
// stream, the parse-tree trace, the generated stack-machine code and the
// symbol tables as they stood at the end of each subroutine.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/logrusorgru/aurora"
	"github.com/sanity-io/litter"

	"github.com/filthyfil/hack/pkg/compiler"
)

const testSource = `class Main {
    static int count;
    function int main() {
        var int x, y;
        let x = 10;
        let y = 20;
        return x + y;
    }
}
`

type snapshot struct {
	Subroutine string
	Symbols    []compiler.Symbol
}

func main() {
	symbols := flag.Bool("symbols", false, "dump symbol tables as Go values")
	noColor := flag.Bool("no-color", false, "disable coloured headers")
	flag.Parse()
	au := aurora.NewAurora(!*noColor)

	src := testSource
	filename := "Main.jack"
	if flag.NArg() > 0 {
		filename = flag.Arg(0)
		data, err := os.ReadFile(filename)
		if err != nil {
			fmt.Fprintln(os.Stderr, au.Red("read error:"), err)
			os.Exit(1)
		}
		src = string(data)
	}

	fmt.Printf("%s\n%s\n", au.Bold(au.Cyan("Source")), src)

	// Lex
	tokens, err := compiler.Lex(filename, src)
	if err != nil {
		fmt.Fprintln(os.Stderr, au.Red("lex error:"), err)
		os.Exit(1)
	}
	fmt.Println(au.Bold(au.Cyan(fmt.Sprintf("Tokens (%d)", len(tokens)))))
	for _, tok := range tokens {
		fmt.Println(" ", tok)
	}
	fmt.Println()

	// Parse and generate in one pass, capturing the trace and every
	// subroutine's table before the next one resets it.
	var code, tree bytes.Buffer
	engine := compiler.NewEngine(compiler.NewLexer(filename, src), compiler.NewEmitter(&code))
	engine.SetTracer(compiler.NewTracer(nil, &tree))
	var snapshots []snapshot
	var tables []string
	engine.OnSubroutine(func(name string, syms *compiler.SymbolTable) {
		snapshots = append(snapshots, snapshot{Subroutine: name, Symbols: syms.Symbols()})
		tables = append(tables, name+" "+syms.String())
	})
	if err := engine.CompileClass(); err != nil {
		fmt.Fprintln(os.Stderr, au.Red("compile error:"), err)
		os.Exit(1)
	}

	fmt.Println(au.Bold(au.Cyan("Parse tree")))
	fmt.Print(tree.String())
	fmt.Println()

	fmt.Println(au.Bold(au.Cyan("Generated VM code")))
	fmt.Print(code.String())
	fmt.Println()

	fmt.Println(au.Bold(au.Cyan("Symbol tables")))
	if *symbols {
		dump := litter.Options{HidePrivateFields: true}
		fmt.Println(dump.Sdump(engine.ClassSymbols().Symbols()))
		fmt.Println(dump.Sdump(snapshots))
		return
	}
	fmt.Print(engine.ClassSymbols())
	for _, table := range tables {
		fmt.Print(table)
	}
}
