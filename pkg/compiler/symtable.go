package compiler

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the storage category of a declared name. Each kind has its own
// dense, zero-based index space.
type Kind int

const (
	KindNone Kind = iota // lookup sentinel: name not declared
	KindStatic
	KindField
	KindArg
	KindVar
)

const kindCount = int(KindVar) + 1

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindField:
		return "field"
	case KindArg:
		return "argument"
	case KindVar:
		return "local"
	case KindNone:
		return "none"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Segment is the memory segment a variable of kind k lives in.
func (k Kind) Segment() (Segment, bool) {
	switch k {
	case KindStatic:
		return SegStatic, true
	case KindField:
		return SegThis, true
	case KindArg:
		return SegArgument, true
	case KindVar:
		return SegLocal, true
	case KindNone:
	}
	return 0, false
}

// Symbol is one declared name.
type Symbol struct {
	Name  string
	Type  string // int, char, boolean or a class name
	Kind  Kind
	Index int
}

// SymbolTable maps names to their type, kind and per-kind index. A compiler
// keeps two of them: one for the class scope and one for the current
// subroutine. Neither refers to the other.
type SymbolTable struct {
	scope   string // label used in dumps
	entries map[string]Symbol
	counts  [kindCount]int
}

func NewSymbolTable(scope string) *SymbolTable {
	return &SymbolTable{scope: scope, entries: make(map[string]Symbol)}
}

// Reset clears all entries and all per-kind counters.
func (s *SymbolTable) Reset() {
	s.entries = make(map[string]Symbol)
	s.counts = [kindCount]int{}
}

// Define adds name with the next index of kind. A second definition of the
// same name replaces the first; the counter for kind still advances.
func (s *SymbolTable) Define(name, typ string, kind Kind) Symbol {
	sym := Symbol{Name: name, Type: typ, Kind: kind, Index: s.counts[kind]}
	s.entries[name] = sym
	s.counts[kind]++
	return sym
}

// KindOf returns the kind of name, or KindNone if it is not declared here.
func (s *SymbolTable) KindOf(name string) Kind {
	if sym, ok := s.entries[name]; ok {
		return sym.Kind
	}
	return KindNone
}

func (s *SymbolTable) TypeOf(name string) (string, error) {
	sym, ok := s.entries[name]
	if !ok {
		return "", &SemanticError{Name: name, Err: ErrUnknownSymbol}
	}
	return sym.Type, nil
}

func (s *SymbolTable) IndexOf(name string) (int, error) {
	sym, ok := s.entries[name]
	if !ok {
		return 0, &SemanticError{Name: name, Err: ErrUnknownSymbol}
	}
	return sym.Index, nil
}

// VarCount returns how many names of kind have been defined since the last Reset.
func (s *SymbolTable) VarCount(kind Kind) int {
	if kind <= KindNone || int(kind) >= kindCount {
		return 0
	}
	return s.counts[kind]
}

// Len returns the number of distinct names in the table.
func (s *SymbolTable) Len() int {
	return len(s.entries)
}

// Symbols returns the entries ordered by kind, then index.
func (s *SymbolTable) Symbols() []Symbol {
	out := make([]Symbol, 0, len(s.entries))
	for _, sym := range s.entries {
		out = append(out, sym)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// String returns a deterministically ordered dump of the table.
func (s *SymbolTable) String() string {
	var sb strings.Builder
	if len(s.entries) == 0 {
		fmt.Fprintf(&sb, "%s: (empty)\n", s.scope)
		return sb.String()
	}
	fmt.Fprintf(&sb, "%s:\n", s.scope)
	for _, sym := range s.Symbols() {
		fmt.Fprintf(&sb, "  %-20s  %-8s %-3d (Type: %s)\n", sym.Name, sym.Kind, sym.Index, sym.Type)
	}
	return sb.String()
}
