package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"github.com/logrusorgru/aurora"

	"github.com/filthyfil/hack/pkg/compiler"
	"github.com/filthyfil/hack/pkg/utils"
	"github.com/filthyfil/hack/pkg/vfs"
	"github.com/filthyfil/hack/pkg/vm"
	"github.com/filthyfil/hack/pkg/vmcode"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitUsage  = 2
)

// outputSuffixes lists every file a compiled class may produce.
var outputSuffixes = []string{".vm", "T.xml", ".xml"}

type options struct {
	in       string
	out      string
	xml      bool
	run      bool
	noColor  bool
	maxSteps int
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("hack", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.in, "in", "", "input .jack file or directory of .jack files")
	fs.StringVar(&opts.out, "out", "", "output directory (default: next to the input)")
	fs.BoolVar(&opts.xml, "xml", false, "also write XxxT.xml token and Xxx.xml parse-tree traces")
	fs.BoolVar(&opts.run, "run", false, "run the compiled classes on the stack machine")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable coloured diagnostics")
	fs.IntVar(&opts.maxSteps, "max-steps", vm.DefaultMaxSteps, "instruction budget for -run")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.in == "" && fs.NArg() == 1 {
		opts.in = fs.Arg(0)
	}
	if opts.in == "" || fs.NArg() > 1 {
		fs.Usage()
		return opts, errors.New("nothing to do: provide -in <file.jack|dir>")
	}
	if opts.maxSteps <= 0 {
		return opts, fmt.Errorf("-max-steps must be positive, got %d", opts.maxSteps)
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the whole CLI; it returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}

	au := aurora.NewAurora(!opts.noColor)
	logger := log.New(stderr, "", 0)

	_, inDir, err := utils.GetPathInfo(opts.in)
	if err != nil {
		logger.Println(au.Red("error:"), err)
		return exitUsage
	}
	sources, err := utils.CollectSources(opts.in)
	if err != nil {
		logger.Println(au.Red("error:"), err)
		return exitUsage
	}
	outDir := opts.out
	if outDir == "" {
		outDir = inDir
	}

	disk := vfs.NewVirtualDisk()
	failed := 0
	for _, path := range sources {
		if err := compileFile(disk, path, opts.xml); err != nil {
			failed++
			logger.Printf("%s %s\n%v", au.Red("FAIL"), path, err)
			// Outputs of an earlier run no longer match the source.
			for _, suffix := range outputSuffixes {
				_ = disk.Remove(utils.OutputName(path, suffix))
			}
			continue
		}
		logger.Printf("%s %s -> %s", au.Green("ok"), path, utils.OutputName(path, ".vm"))
	}

	if err := disk.PersistTo(outDir); err != nil {
		logger.Println(au.Red("error:"), err)
		return exitFailed
	}
	if failed > 0 {
		logger.Println(au.Yellow(fmt.Sprintf("%d of %d files failed", failed, len(sources))))
		return exitFailed
	}

	if opts.run {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		result, err := runProgram(ctx, disk, sources, opts.maxSteps, stdout)
		if err != nil {
			logger.Println(au.Red("run failed:"), err)
			return exitFailed
		}
		logger.Println(au.Cyan("result:"), result)
	}
	return exitOK
}

// compileFile compiles one class into disk. Every output of a failing file is
// discarded so no partial file is ever persisted.
func compileFile(disk *vfs.VirtualDisk, path string, withXML bool) (err error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var handles []*vfs.Handle
	create := func(suffix string) (*vfs.Handle, error) {
		h, err := disk.Create(utils.OutputName(path, suffix))
		if err == nil {
			handles = append(handles, h)
		}
		return h, err
	}
	defer func() {
		for _, h := range handles {
			if err != nil {
				h.Discard()
			}
			if cerr := h.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	}()

	out, err := create(".vm")
	if err != nil {
		return err
	}
	var tracer *compiler.Tracer
	if withXML {
		tokens, err := create("T.xml")
		if err != nil {
			return err
		}
		tree, err := create(".xml")
		if err != nil {
			return err
		}
		tracer = compiler.NewTracer(tokens, tree)
	}
	return compiler.Compile(path, string(src), out, tracer)
}

// runProgram links every compiled class on disk and executes the result.
func runProgram(ctx context.Context, disk *vfs.VirtualDisk, sources []string, maxSteps int, stdout io.Writer) (int16, error) {
	units := make([]*vmcode.Unit, 0, len(sources))
	for _, path := range sources {
		name := utils.OutputName(path, ".vm")
		text, err := disk.Read(name)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		unit, err := vmcode.Parse(name, string(text))
		if err != nil {
			return 0, err
		}
		units = append(units, unit)
	}
	prog, err := vmcode.Link(units...)
	if err != nil {
		return 0, err
	}
	machine, err := vm.New(prog)
	if err != nil {
		return 0, err
	}
	machine.MaxSteps = maxSteps
	machine.Output = stdout
	result, err := machine.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", machine.Entry(), err)
	}
	return result, nil
}
