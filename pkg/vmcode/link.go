package vmcode

import "fmt"

// Program is a set of units joined into one address space.
type Program struct {
	Code      []Instruction
	Functions map[string]int // function name -> address of its "function" instruction
	Units     []string
	// StaticBase[u] is the first static slot owned by unit u.
	StaticBase []int
	Statics    int
}

// Link concatenates units and resolves every label, goto and call.
//
// Labels are scoped to the function that contains them, so two classes
// compiled separately may both use L0. Calls to names no unit defines keep
// Target -1; the machine decides whether it can serve them natively.
func Link(units ...*Unit) (*Program, error) {
	p := &Program{Functions: make(map[string]int)}
	labels := make(map[string]int)

	// Pass 1: lay out code and record function and label addresses.
	for ui, u := range units {
		p.Units = append(p.Units, u.Name)
		p.StaticBase = append(p.StaticBase, p.Statics)
		p.Statics += u.Statics

		scope := u.Name
		for _, instr := range u.Instructions {
			addr := len(p.Code)
			instr.Unit = ui
			switch instr.Op {
			case OpFunction:
				if _, exists := p.Functions[instr.Name]; exists {
					return nil, fmt.Errorf("%s: duplicate function '%s' on line %d", u.Name, instr.Name, instr.Line)
				}
				p.Functions[instr.Name] = addr
				scope = instr.Name
			case OpLabel:
				key := scope + "$" + instr.Name
				if _, exists := labels[key]; exists {
					return nil, fmt.Errorf("%s: duplicate label '%s' on line %d", u.Name, instr.Name, instr.Line)
				}
				labels[key] = addr
			}
			p.Code = append(p.Code, instr)
		}
	}

	// Pass 2: resolve jump and call targets.
	scope := ""
	for addr := range p.Code {
		instr := &p.Code[addr]
		if addr == 0 || p.Code[addr-1].Unit != instr.Unit {
			scope = p.Units[instr.Unit]
		}
		switch instr.Op {
		case OpFunction:
			scope = instr.Name
		case OpGoto, OpIfGoto:
			target, ok := labels[scope+"$"+instr.Name]
			if !ok {
				return nil, fmt.Errorf("%s: unknown label '%s' on line %d", p.Units[instr.Unit], instr.Name, instr.Line)
			}
			instr.Target = target
		case OpCall:
			if target, ok := p.Functions[instr.Name]; ok {
				instr.Target = target
			}
		}
	}
	return p, nil
}
