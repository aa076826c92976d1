// Package vmcode loads the textual stack-machine instruction stream produced
// by the compiler. Parse validates one stream against the instruction
// grammar; Link joins streams into a Program with every jump and call
// resolved to an instruction address.
package vmcode

import (
	"fmt"
	"strconv"
	"strings"
)

// Op is the instruction shape.
type Op int

const (
	OpPush Op = iota
	OpPop
	OpArithmetic
	OpLabel
	OpGoto
	OpIfGoto
	OpCall
	OpFunction
	OpReturn
)

var opNames = [...]string{
	OpPush:       "push",
	OpPop:        "pop",
	OpArithmetic: "arithmetic",
	OpLabel:      "label",
	OpGoto:       "goto",
	OpIfGoto:     "if-goto",
	OpCall:       "call",
	OpFunction:   "function",
	OpReturn:     "return",
}

func (o Op) String() string {
	if int(o) >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Arith is one of the nine arithmetic/logical commands.
type Arith int

const (
	Add Arith = iota
	Sub
	Neg
	Eq
	Gt
	Lt
	And
	Or
	Not
)

var arithmetic = map[string]Arith{
	"add": Add,
	"sub": Sub,
	"neg": Neg,
	"eq":  Eq,
	"gt":  Gt,
	"lt":  Lt,
	"and": And,
	"or":  Or,
	"not": Not,
}

// Segment is one of the eight memory segments.
type Segment int

const (
	Constant Segment = iota
	Argument
	Local
	Static
	This
	That
	Pointer
	Temp
)

var segments = map[string]Segment{
	"constant": Constant,
	"argument": Argument,
	"local":    Local,
	"static":   Static,
	"this":     This,
	"that":     That,
	"pointer":  Pointer,
	"temp":     Temp,
}

// maxIndex bounds the index operand of segments with a fixed size.
var maxIndex = map[Segment]int{
	Pointer: 1,
	Temp:    7,
	Static:  239,
}

// Instruction is one decoded line.
type Instruction struct {
	Line    int // 1-based line in the source stream
	Op      Op
	Arith   Arith   // OpArithmetic
	Segment Segment // OpPush, OpPop
	Index   int     // OpPush, OpPop
	Name    string  // label, jump target, function or callee name
	Count   int     // OpCall: arguments, OpFunction: locals
	Unit    int     // index of the owning unit after Link
	Target  int     // resolved address after Link; -1 for calls to natives
}

// Unit is one parsed instruction stream, normally one class.
type Unit struct {
	Name         string
	Instructions []Instruction
	Statics      int // highest static index used + 1
}

// Parse decodes text, rejecting anything outside the instruction grammar.
// Blank lines and "//" comments are ignored.
func Parse(name, text string) (*Unit, error) {
	u := &Unit{Name: name}
	for i, raw := range strings.Split(text, "\n") {
		lineNo := i + 1
		instr, ok, err := parseLine(raw, lineNo)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if !ok {
			continue
		}
		if instr.Op == OpPush || instr.Op == OpPop {
			if instr.Segment == Static && instr.Index+1 > u.Statics {
				u.Statics = instr.Index + 1
			}
		}
		u.Instructions = append(u.Instructions, instr)
	}
	return u, nil
}

// parseLine returns ok=false for lines with no instruction.
func parseLine(raw string, lineNo int) (Instruction, bool, error) {
	if idx := strings.Index(raw, "//"); idx >= 0 {
		raw = raw[:idx]
	}
	fields := strings.Fields(raw)
	if len(fields) == 0 {
		return Instruction{}, false, nil
	}

	instr := Instruction{Line: lineNo, Target: -1}
	mnemonic, ops := fields[0], fields[1:]

	if cmd, ok := arithmetic[mnemonic]; ok {
		if len(ops) != 0 {
			return instr, false, fmt.Errorf("%s expects 0 operands on line %d", mnemonic, lineNo)
		}
		instr.Op = OpArithmetic
		instr.Arith = cmd
		return instr, true, nil
	}

	switch mnemonic {
	case "push", "pop":
		if len(ops) != 2 {
			return instr, false, fmt.Errorf("%s expects 2 operands on line %d", mnemonic, lineNo)
		}
		seg, ok := segments[ops[0]]
		if !ok {
			return instr, false, fmt.Errorf("unknown segment on line %d: %s", lineNo, ops[0])
		}
		index, err := parseCount(ops[1], lineNo)
		if err != nil {
			return instr, false, err
		}
		if limit, ok := maxIndex[seg]; ok && index > limit {
			return instr, false, fmt.Errorf("%s index out of range on line %d: %d", ops[0], lineNo, index)
		}
		instr.Op = OpPush
		if mnemonic == "pop" {
			if seg == Constant {
				return instr, false, fmt.Errorf("cannot pop into constant segment on line %d", lineNo)
			}
			instr.Op = OpPop
		}
		instr.Segment = seg
		instr.Index = index

	case "label", "goto", "if-goto":
		if len(ops) != 1 {
			return instr, false, fmt.Errorf("%s expects 1 operand on line %d", mnemonic, lineNo)
		}
		if !isSymbol(ops[0]) {
			return instr, false, fmt.Errorf("invalid label on line %d: %s", lineNo, ops[0])
		}
		switch mnemonic {
		case "label":
			instr.Op = OpLabel
		case "goto":
			instr.Op = OpGoto
		default:
			instr.Op = OpIfGoto
		}
		instr.Name = ops[0]

	case "call", "function":
		if len(ops) != 2 {
			return instr, false, fmt.Errorf("%s expects 2 operands on line %d", mnemonic, lineNo)
		}
		if !isSymbol(ops[0]) {
			return instr, false, fmt.Errorf("invalid function name on line %d: %s", lineNo, ops[0])
		}
		count, err := parseCount(ops[1], lineNo)
		if err != nil {
			return instr, false, err
		}
		instr.Op = OpCall
		if mnemonic == "function" {
			instr.Op = OpFunction
		}
		instr.Name = ops[0]
		instr.Count = count

	case "return":
		if len(ops) != 0 {
			return instr, false, fmt.Errorf("return expects 0 operands on line %d", lineNo)
		}
		instr.Op = OpReturn

	default:
		return instr, false, fmt.Errorf("unknown instruction on line %d: %s", lineNo, mnemonic)
	}
	return instr, true, nil
}

func parseCount(s string, lineNo int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 32767 {
		return 0, fmt.Errorf("invalid number on line %d: %s", lineNo, s)
	}
	return n, nil
}

// isSymbol accepts letters, digits and _ . $ : not starting with a digit.
func isSymbol(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.' || r == '$' || r == ':':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
