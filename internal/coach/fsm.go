package coach

// Signal is an input that can move a session between phases.
type Signal string

const (
	// SignalTransition is an explicit request to move past the current phase.
	SignalTransition Signal = "transition"
	// SignalAutoAdvance fires after a phase record is stored when
	// auto-advance is enabled. It never finalizes the program.
	SignalAutoAdvance Signal = "auto_advance"
	// SignalComplete finalizes the program from any phase.
	SignalComplete Signal = "complete"
)

// Terminal is the program-complete state.
const Terminal = 0

type edge struct {
	phase  int
	signal Signal
}

// Machine is the phase transition table for a catalog of n phases.
type Machine struct {
	table map[edge]int
}

// NewMachine builds the table phase × signal → phase for phases 1..n.
func NewMachine(n int) *Machine {
	m := &Machine{table: make(map[edge]int, n*3)}
	for p := 1; p <= n; p++ {
		if p < n {
			m.table[edge{p, SignalTransition}] = p + 1
			m.table[edge{p, SignalAutoAdvance}] = p + 1
		} else {
			m.table[edge{p, SignalTransition}] = Terminal
		}
		m.table[edge{p, SignalComplete}] = Terminal
	}
	return m
}

// Next returns the state reached from phase on signal. ok is false when the
// signal has no edge from phase.
func (m *Machine) Next(phase int, signal Signal) (next int, ok bool) {
	next, ok = m.table[edge{phase, signal}]
	return next, ok
}

