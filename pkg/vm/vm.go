// Package vm executes linked stack-machine programs. It is the reference
// runtime for compiled SL classes: the memory layout and calling convention
// follow the 16-bit target, and a subset of the operating-system library is
// provided natively.
package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/filthyfil/hack/pkg/vmcode"
)

// Fixed RAM layout.
const (
	RegSP   = 0
	RegLCL  = 1
	RegARG  = 2
	RegTHIS = 3
	RegTHAT = 4

	TempBase   = 5
	StaticBase = 16
	StackBase  = 256
	StackLimit = 2048
	HeapBase   = 2048
	HeapLimit  = 16384
	MemorySize = 32768
)

// haltAddress is the return address of the entry frame.
const haltAddress = -1

// DefaultMaxSteps bounds Run when Machine.MaxSteps is zero.
const DefaultMaxSteps = 10_000_000

var (
	ErrStepLimit       = errors.New("step limit exceeded")
	ErrStackOverflow   = errors.New("stack overflow")
	ErrStackUnderflow  = errors.New("stack underflow")
	ErrSegfault        = errors.New("address out of range")
	ErrDivideByZero    = errors.New("division by zero")
	ErrHeapExhausted   = errors.New("heap exhausted")
	ErrUnknownFunction = errors.New("call to undefined function")
	ErrNoEntryPoint    = errors.New("no Sys.init or Main.main")
	ErrSysError        = errors.New("Sys.error")
)

// Machine is a stack-machine interpreter for one Program.
type Machine struct {
	RAM [MemorySize]int16

	PC     int
	Halted bool
	Steps  int

	// MaxSteps bounds Run; zero means DefaultMaxSteps.
	MaxSteps int

	// Output receives Output.* calls. If nil, os.Stdout is used.
	Output io.Writer

	prog     *vmcode.Program
	natives  map[string]native
	heapNext int
	entry    string
}

// New prepares prog for execution. Every call must resolve to a function in
// prog or to a native routine.
func New(prog *vmcode.Program) (*Machine, error) {
	if StaticBase+prog.Statics > StackBase {
		return nil, fmt.Errorf("%d static variables do not fit the static segment", prog.Statics)
	}
	m := &Machine{prog: prog, natives: builtins(), heapNext: HeapBase}
	for _, instr := range prog.Code {
		if instr.Op != vmcode.OpCall || instr.Target >= 0 {
			continue
		}
		if _, ok := m.natives[instr.Name]; !ok {
			return nil, fmt.Errorf("%s line %d: %w %s", prog.Units[instr.Unit], instr.Line, ErrUnknownFunction, instr.Name)
		}
	}
	switch {
	case hasFunction(prog, "Sys.init"):
		m.entry = "Sys.init"
	case hasFunction(prog, "Main.main"):
		m.entry = "Main.main"
	default:
		return nil, ErrNoEntryPoint
	}
	m.reset()
	return m, nil
}

func hasFunction(prog *vmcode.Program, name string) bool {
	_, ok := prog.Functions[name]
	return ok
}

// Entry returns the function Run starts from.
func (m *Machine) Entry() string {
	return m.entry
}

func (m *Machine) reset() {
	m.RAM = [MemorySize]int16{}
	m.RAM[RegSP] = StackBase
	m.Halted = false
	m.Steps = 0
	m.heapNext = HeapBase

	// Entry frame as if "call <entry> 0" had run from nowhere.
	for _, v := range []int16{haltAddress, 0, 0, 0, 0} {
		m.RAM[m.RAM[RegSP]] = v
		m.RAM[RegSP]++
	}
	m.RAM[RegARG] = StackBase
	m.RAM[RegLCL] = m.RAM[RegSP]
	m.PC = m.prog.Functions[m.entry]
}

func (m *Machine) outputSink() io.Writer {
	if m.Output != nil {
		return m.Output
	}
	return os.Stdout
}

// Run executes from the entry point until it returns, Sys.halt is called,
// an error occurs, ctx is done, or the step budget is spent. The result is
// the value returned by the entry function.
func (m *Machine) Run(ctx context.Context) (int16, error) {
	limit := m.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}
	for !m.Halted {
		if m.Steps >= limit {
			return 0, ErrStepLimit
		}
		if m.Steps%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if err := m.Step(); err != nil {
			return 0, m.wrap(err)
		}
	}
	return m.result(), nil
}

func (m *Machine) result() int16 {
	sp := int(m.RAM[RegSP])
	if sp <= StackBase {
		return 0
	}
	return m.RAM[sp-1]
}

func (m *Machine) wrap(err error) error {
	if m.PC < 0 || m.PC >= len(m.prog.Code) {
		return err
	}
	instr := m.prog.Code[m.PC]
	return fmt.Errorf("%s line %d (%s): %w", m.prog.Units[instr.Unit], instr.Line, instr.Op, err)
}

// ---------------------------------------------------------------------------
// Stack and memory access
// ---------------------------------------------------------------------------

func (m *Machine) read(addr int) (int16, error) {
	if addr < 0 || addr >= MemorySize {
		return 0, fmt.Errorf("%w: read %d", ErrSegfault, addr)
	}
	return m.RAM[addr], nil
}

func (m *Machine) write(addr int, v int16) error {
	if addr < 0 || addr >= MemorySize {
		return fmt.Errorf("%w: write %d", ErrSegfault, addr)
	}
	m.RAM[addr] = v
	return nil
}

func (m *Machine) push(v int16) error {
	sp := int(m.RAM[RegSP])
	if sp >= StackLimit {
		return ErrStackOverflow
	}
	m.RAM[sp] = v
	m.RAM[RegSP]++
	return nil
}

func (m *Machine) pop() (int16, error) {
	sp := int(m.RAM[RegSP])
	if sp <= StackBase {
		return 0, ErrStackUnderflow
	}
	m.RAM[RegSP]--
	return m.RAM[sp-1], nil
}

// address maps segment/index to a RAM address. Constant has no address.
func (m *Machine) address(instr vmcode.Instruction) (int, error) {
	switch instr.Segment {
	case vmcode.Argument:
		return int(m.RAM[RegARG]) + instr.Index, nil
	case vmcode.Local:
		return int(m.RAM[RegLCL]) + instr.Index, nil
	case vmcode.This:
		return int(m.RAM[RegTHIS]) + instr.Index, nil
	case vmcode.That:
		return int(m.RAM[RegTHAT]) + instr.Index, nil
	case vmcode.Pointer:
		return RegTHIS + instr.Index, nil
	case vmcode.Temp:
		return TempBase + instr.Index, nil
	case vmcode.Static:
		return StaticBase + m.prog.StaticBase[instr.Unit] + instr.Index, nil
	case vmcode.Constant:
	}
	return 0, fmt.Errorf("segment %d has no address", instr.Segment)
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func boolWord(b bool) int16 {
	if b {
		return -1
	}
	return 0
}

// Step executes one instruction.
func (m *Machine) Step() error {
	if m.Halted {
		return nil
	}
	if m.PC < 0 || m.PC >= len(m.prog.Code) {
		return fmt.Errorf("program counter out of range: %d", m.PC)
	}
	instr := m.prog.Code[m.PC]
	m.Steps++
	next := m.PC + 1

	switch instr.Op {
	case vmcode.OpPush:
		v := int16(instr.Index)
		if instr.Segment != vmcode.Constant {
			addr, err := m.address(instr)
			if err != nil {
				return err
			}
			if v, err = m.read(addr); err != nil {
				return err
			}
		}
		if err := m.push(v); err != nil {
			return err
		}

	case vmcode.OpPop:
		addr, err := m.address(instr)
		if err != nil {
			return err
		}
		v, err := m.pop()
		if err != nil {
			return err
		}
		if err := m.write(addr, v); err != nil {
			return err
		}

	case vmcode.OpArithmetic:
		if err := m.arithmetic(instr.Arith); err != nil {
			return err
		}

	case vmcode.OpLabel, vmcode.OpFunction:
		if instr.Op == vmcode.OpFunction {
			for i := 0; i < instr.Count; i++ {
				if err := m.push(0); err != nil {
					return err
				}
			}
		}

	case vmcode.OpGoto:
		next = instr.Target

	case vmcode.OpIfGoto:
		v, err := m.pop()
		if err != nil {
			return err
		}
		if v != 0 {
			next = instr.Target
		}

	case vmcode.OpCall:
		if instr.Target < 0 {
			if err := m.callNative(instr.Name, instr.Count); err != nil {
				return err
			}
			break
		}
		if err := m.call(instr.Count, next); err != nil {
			return err
		}
		next = instr.Target

	case vmcode.OpReturn:
		ret, err := m.ret()
		if err != nil {
			return err
		}
		if ret == haltAddress {
			m.Halted = true
			return nil
		}
		next = ret
	}

	m.PC = next
	return nil
}

func (m *Machine) arithmetic(op vmcode.Arith) error {
	y, err := m.pop()
	if err != nil {
		return err
	}
	if op == vmcode.Neg || op == vmcode.Not {
		if op == vmcode.Neg {
			return m.push(-y)
		}
		return m.push(^y)
	}
	x, err := m.pop()
	if err != nil {
		return err
	}
	var r int16
	switch op {
	case vmcode.Add:
		r = x + y
	case vmcode.Sub:
		r = x - y
	case vmcode.Eq:
		r = boolWord(x == y)
	case vmcode.Gt:
		r = boolWord(x > y)
	case vmcode.Lt:
		r = boolWord(x < y)
	case vmcode.And:
		r = x & y
	case vmcode.Or:
		r = x | y
	default:
		return fmt.Errorf("unknown arithmetic command %d", op)
	}
	return m.push(r)
}

// call saves the caller frame. nArgs values are already on the stack.
func (m *Machine) call(nArgs, returnAddr int) error {
	for _, v := range []int16{int16(returnAddr), m.RAM[RegLCL], m.RAM[RegARG], m.RAM[RegTHIS], m.RAM[RegTHAT]} {
		if err := m.push(v); err != nil {
			return err
		}
	}
	sp := m.RAM[RegSP]
	m.RAM[RegARG] = sp - int16(nArgs) - 5
	m.RAM[RegLCL] = sp
	return nil
}

// ret restores the caller frame and returns the saved return address.
func (m *Machine) ret() (int, error) {
	frame := int(m.RAM[RegLCL])
	if frame-5 < StackBase {
		return 0, ErrStackUnderflow
	}
	retAddr := int(m.RAM[frame-5])
	v, err := m.pop()
	if err != nil {
		return 0, err
	}
	arg := int(m.RAM[RegARG])
	if err := m.write(arg, v); err != nil {
		return 0, err
	}
	m.RAM[RegSP] = int16(arg + 1)
	m.RAM[RegTHAT] = m.RAM[frame-1]
	m.RAM[RegTHIS] = m.RAM[frame-2]
	m.RAM[RegARG] = m.RAM[frame-3]
	m.RAM[RegLCL] = m.RAM[frame-4]
	return retAddr, nil
}

func (m *Machine) callNative(name string, nArgs int) error {
	fn, ok := m.natives[name]
	if !ok {
		return fmt.Errorf("%w %s", ErrUnknownFunction, name)
	}
	if fn.args != nArgs {
		return fmt.Errorf("%s expects %d arguments, got %d", name, fn.args, nArgs)
	}
	args := make([]int16, nArgs)
	for i := nArgs - 1; i >= 0; i-- {
		v, err := m.pop()
		if err != nil {
			return err
		}
		args[i] = v
	}
	r, err := fn.run(m, args)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if m.Halted {
		return nil
	}
	return m.push(r)
}
