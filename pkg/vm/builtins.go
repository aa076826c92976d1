package vm

import (
	"errors"
	"fmt"
	"strconv"
)

// native is an operating-system routine implemented in Go. Natives take
// their arguments by value and always produce one result word.
type native struct {
	args int
	run  func(m *Machine, args []int16) (int16, error)
}

// String objects are laid out on the heap as [capacity, length, chars...].
const (
	strCapacity = 0
	strLength   = 1
	strChars    = 2
)

var errStringFull = errors.New("string capacity exceeded")

func builtins() map[string]native {
	return map[string]native{
		"Math.multiply": {2, func(_ *Machine, a []int16) (int16, error) { return a[0] * a[1], nil }},
		"Math.divide": {2, func(_ *Machine, a []int16) (int16, error) {
			if a[1] == 0 {
				return 0, ErrDivideByZero
			}
			return a[0] / a[1], nil
		}},
		"Math.abs": {1, func(_ *Machine, a []int16) (int16, error) {
			if a[0] < 0 {
				return -a[0], nil
			}
			return a[0], nil
		}},
		"Math.min": {2, func(_ *Machine, a []int16) (int16, error) { return min(a[0], a[1]), nil }},
		"Math.max": {2, func(_ *Machine, a []int16) (int16, error) { return max(a[0], a[1]), nil }},

		"Memory.alloc":   {1, func(m *Machine, a []int16) (int16, error) { return m.alloc(int(a[0])) }},
		"Memory.deAlloc": {1, func(*Machine, []int16) (int16, error) { return 0, nil }},
		"Memory.peek":    {1, func(m *Machine, a []int16) (int16, error) { return m.read(int(a[0])) }},
		"Memory.poke": {2, func(m *Machine, a []int16) (int16, error) {
			return 0, m.write(int(a[0]), a[1])
		}},

		"Array.new":     {1, func(m *Machine, a []int16) (int16, error) { return m.alloc(int(a[0])) }},
		"Array.dispose": {1, func(*Machine, []int16) (int16, error) { return 0, nil }},

		"String.new": {1, func(m *Machine, a []int16) (int16, error) {
			if a[0] < 0 {
				return 0, fmt.Errorf("negative string capacity %d", a[0])
			}
			s, err := m.alloc(int(a[0]) + strChars)
			if err != nil {
				return 0, err
			}
			m.RAM[int(s)+strCapacity] = a[0]
			m.RAM[int(s)+strLength] = 0
			return s, nil
		}},
		"String.dispose": {1, func(*Machine, []int16) (int16, error) { return 0, nil }},
		"String.length": {1, func(m *Machine, a []int16) (int16, error) {
			return m.read(int(a[0]) + strLength)
		}},
		"String.charAt": {2, func(m *Machine, a []int16) (int16, error) {
			n, err := m.read(int(a[0]) + strLength)
			if err != nil {
				return 0, err
			}
			if a[1] < 0 || a[1] >= n {
				return 0, fmt.Errorf("index %d out of range", a[1])
			}
			return m.read(int(a[0]) + strChars + int(a[1]))
		}},
		"String.setCharAt": {3, func(m *Machine, a []int16) (int16, error) {
			n, err := m.read(int(a[0]) + strLength)
			if err != nil {
				return 0, err
			}
			if a[1] < 0 || a[1] >= n {
				return 0, fmt.Errorf("index %d out of range", a[1])
			}
			return 0, m.write(int(a[0])+strChars+int(a[1]), a[2])
		}},
		"String.appendChar": {2, func(m *Machine, a []int16) (int16, error) {
			s := int(a[0])
			capacity, err := m.read(s + strCapacity)
			if err != nil {
				return 0, err
			}
			n, err := m.read(s + strLength)
			if err != nil {
				return 0, err
			}
			if n >= capacity {
				return 0, errStringFull
			}
			if err := m.write(s+strChars+int(n), a[1]); err != nil {
				return 0, err
			}
			m.RAM[s+strLength] = n + 1
			return a[0], nil
		}},

		"Output.printInt": {1, func(m *Machine, a []int16) (int16, error) {
			_, err := fmt.Fprint(m.outputSink(), strconv.Itoa(int(a[0])))
			return 0, err
		}},
		"Output.printChar": {1, func(m *Machine, a []int16) (int16, error) {
			_, err := fmt.Fprint(m.outputSink(), string(rune(a[0])))
			return 0, err
		}},
		"Output.printString": {1, func(m *Machine, a []int16) (int16, error) {
			s, err := m.ReadString(a[0])
			if err != nil {
				return 0, err
			}
			_, err = fmt.Fprint(m.outputSink(), s)
			return 0, err
		}},
		"Output.println": {0, func(m *Machine, _ []int16) (int16, error) {
			_, err := fmt.Fprintln(m.outputSink())
			return 0, err
		}},

		"Sys.halt": {0, func(m *Machine, _ []int16) (int16, error) {
			m.Halted = true
			return 0, nil
		}},
		"Sys.error": {1, func(_ *Machine, a []int16) (int16, error) {
			return 0, fmt.Errorf("%w(%d)", ErrSysError, a[0])
		}},
	}
}

// alloc hands out size words from a bump allocator. Freed blocks are not reused.
func (m *Machine) alloc(size int) (int16, error) {
	if size < 0 {
		return 0, fmt.Errorf("negative allocation size %d", size)
	}
	if size == 0 {
		size = 1
	}
	if m.heapNext+size > HeapLimit {
		return 0, ErrHeapExhausted
	}
	addr := m.heapNext
	m.heapNext += size
	return int16(addr), nil
}

// ReadString decodes the String object at ptr.
func (m *Machine) ReadString(ptr int16) (string, error) {
	n, err := m.read(int(ptr) + strLength)
	if err != nil {
		return "", err
	}
	runes := make([]rune, 0, n)
	for i := 0; i < int(n); i++ {
		c, err := m.read(int(ptr) + strChars + i)
		if err != nil {
			return "", err
		}
		runes = append(runes, rune(c))
	}
	return string(runes), nil
}
