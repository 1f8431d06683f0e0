package control

// GateState is the activation state of a role.
type GateState string

const (
	// GateLocked suppresses control updates.
	GateLocked GateState = "locked"
	// GateActive lets control updates through.
	GateActive GateState = "active"
)

// Gate decides, frame by frame, whether a role may update its control value.
//
// The decision uses only the current frame's auxiliary gesture. There is no
// debounce, so a single misdetected frame toggles the gate.
type Gate struct {
	gated bool
	state GateState
}

// NewGate returns a gate in its initial state. An ungated role's gate is
// permanently active.
func NewGate(gated bool) *Gate {
	g := &Gate{gated: gated, state: GateLocked}
	if !gated {
		g.state = GateActive
	}
	return g
}

// Evaluate recomputes the gate from the current frame's auxiliary gesture.
func (g *Gate) Evaluate(auxFolded bool) GateState {
	if !g.gated || auxFolded {
		g.state = GateActive
	} else {
		g.state = GateLocked
	}
	return g.state
}

// State returns the state from the last evaluation.
func (g *Gate) State() GateState {
	return g.state
}

// Active reports whether updates are currently allowed.
func (g *Gate) Active() bool {
	return g.state == GateActive
}
