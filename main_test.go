package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const mainClass = `class Main {
    function int main() {
        var Counter c;
        let c = Counter.new(5);
        do c.bump();
        do Output.printInt(c.get());
        return c.get() * 2;
    }
}
`

const counterClass = `class Counter {
    field int n;
    constructor Counter new(int start) {
        let n = start;
        return this;
    }
    method void bump() {
        let n = n + 1;
        return;
    }
    method int get() {
        return n;
    }
}
`

func writeSources(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func assertContains(t *testing.T, output, expected string) {
	t.Helper()
	if !strings.Contains(output, expected) {
		t.Errorf("expected output to contain %q, got:\n%s", expected, output)
	}
}

func TestCLI_CompileDirectory(t *testing.T) {
	dir := writeSources(t, map[string]string{"Main.jack": mainClass, "Counter.jack": counterClass})

	code, _, stderr := runCLI("-no-color", "-in", dir)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	for _, name := range []string{"Main.vm", "Counter.vm"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "Main.xml")); !os.IsNotExist(err) {
		t.Errorf("trace written without -xml")
	}

	vmText, _ := os.ReadFile(filepath.Join(dir, "Counter.vm"))
	assertContains(t, string(vmText), "function Counter.new 0\npush constant 1\ncall Memory.alloc 1\npop pointer 0\n")
}

func TestCLI_OutDirAndXML(t *testing.T) {
	dir := writeSources(t, map[string]string{"Main.jack": mainClass})
	out := filepath.Join(t.TempDir(), "build")

	code, _, stderr := runCLI("-no-color", "-xml", "-out", out, filepath.Join(dir, "Main.jack"))
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	tokens, err := os.ReadFile(filepath.Join(out, "MainT.xml"))
	if err != nil {
		t.Fatal(err)
	}
	assertContains(t, string(tokens), "<tokens>\n<keyword> class </keyword>\n<identifier> Main </identifier>\n")
	tree, err := os.ReadFile(filepath.Join(out, "Main.xml"))
	if err != nil {
		t.Fatal(err)
	}
	assertContains(t, string(tree), "<class>\n\t<keyword> class </keyword>\n")
	if _, err := os.Stat(filepath.Join(dir, "Main.vm")); !os.IsNotExist(err) {
		t.Errorf("output written next to input despite -out")
	}
}

func TestCLI_FailingFileIsSkipped(t *testing.T) {
	dir := writeSources(t, map[string]string{
		"Bad.jack":     "class Bad {\n  function void f() {\n    var int x;\n    let x = 40000;\n    return;\n  }\n}\n",
		"Counter.jack": counterClass,
	})

	code, _, stderr := runCLI("-no-color", "-xml", "-in", dir)
	if code != exitFailed {
		t.Fatalf("exit %d, want %d", code, exitFailed)
	}
	assertContains(t, stderr, "Bad.jack:4:")
	assertContains(t, stderr, "|> let x = 40000;")
	assertContains(t, stderr, "1 of 2 files failed")

	for _, name := range []string{"Bad.vm", "BadT.xml", "Bad.xml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s written for a failing file", name)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "Counter.vm")); err != nil {
		t.Errorf("remaining file not compiled: %v", err)
	}
}

func TestCLI_FailedRecompileRemovesStaleOutput(t *testing.T) {
	dir := writeSources(t, map[string]string{
		"Main.jack": "class Main {\n  function int main() {\n    return 1;\n  }\n}\n",
	})
	if code, _, stderr := runCLI("-no-color", "-xml", "-in", dir); code != exitOK {
		t.Fatalf("first build: exit %d, stderr:\n%s", code, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "Main.vm")); err != nil {
		t.Fatalf("first build produced no Main.vm: %v", err)
	}

	broken := "class Main {\n  function int main() {\n    return 40000;\n  }\n}\n"
	if err := os.WriteFile(filepath.Join(dir, "Main.jack"), []byte(broken), 0644); err != nil {
		t.Fatal(err)
	}
	code, _, stderr := runCLI("-no-color", "-in", dir)
	if code != exitFailed {
		t.Fatalf("exit %d, want %d", code, exitFailed)
	}
	assertContains(t, stderr, "Main.jack:3:")
	for _, name := range []string{"Main.vm", "MainT.xml", "Main.xml"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("stale %s left next to a failing source", name)
		}
	}
}

func TestCLI_Run(t *testing.T) {
	dir := writeSources(t, map[string]string{"Main.jack": mainClass, "Counter.jack": counterClass})

	code, stdout, stderr := runCLI("-no-color", "-run", "-in", dir)
	if code != exitOK {
		t.Fatalf("exit %d, stderr:\n%s", code, stderr)
	}
	if stdout != "6" {
		t.Errorf("program output = %q, want %q", stdout, "6")
	}
	assertContains(t, stderr, "result: 12")
}

func TestCLI_RunStepLimit(t *testing.T) {
	dir := writeSources(t, map[string]string{"Main.jack": `class Main {
    function void main() {
        while (true) { }
        return;
    }
}
`})
	code, _, stderr := runCLI("-no-color", "-run", "-max-steps", "1000", "-in", dir)
	if code != exitFailed {
		t.Fatalf("exit %d, want %d", code, exitFailed)
	}
	assertContains(t, stderr, "step limit exceeded")
}

func TestCLI_Usage(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"no input", nil},
		{"bad flag", []string{"-bogus"}},
		{"missing path", []string{"-in", filepath.Join(t.TempDir(), "nope")}},
		{"zero budget", []string{"-max-steps", "0", "-in", "."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(tt.args...); code != exitUsage {
				t.Errorf("exit %d, want %d", code, exitUsage)
			}
		})
	}
}
