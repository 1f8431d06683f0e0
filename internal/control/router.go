package control

import (
	"fmt"
	"math"

	"github.com/ayusman/kinesis/internal/detector"
	"github.com/ayusman/kinesis/internal/gesture"
)

// Result is the outcome of processing one role in one frame.
type Result struct {
	Role       string              `json:"role"`
	Handedness detector.Handedness `json:"handedness"`
	Metrics    gesture.Metrics     `json:"metrics"`
	Gate       GateState           `json:"gate"`
	// Updated is true when the control law advanced this frame.
	Updated  bool     `json:"updated"`
	Value    float64  `json:"value"`
	Feedback Feedback `json:"feedback"`
	// SinkErr holds a failed sink write. The value is kept regardless.
	SinkErr error `json:"-"`
}

// binding is one role with the state it exclusively owns.
type binding struct {
	role  Role
	gate  *Gate
	state *State
}

// Router dispatches each detected hand to the role bound to its handedness.
type Router struct {
	law      Law
	bindings []*binding
	byHand   map[detector.Handedness]*binding
	byName   map[string]*binding
}

// NewRouter validates the law and role table and builds per-role state.
// Each sink's range is queried once here.
func NewRouter(law Law, roles []Role) (*Router, error) {
	if err := law.Validate(); err != nil {
		return nil, err
	}

	r := &Router{
		law:    law,
		byHand: make(map[detector.Handedness]*binding),
		byName: make(map[string]*binding),
	}

	for _, role := range roles {
		if err := role.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byHand[role.Handedness]; dup {
			return nil, fmt.Errorf("handedness %s is bound to more than one role", role.Handedness)
		}
		if _, dup := r.byName[role.Name]; dup {
			return nil, fmt.Errorf("duplicate role name %q", role.Name)
		}

		output := role.Output
		if role.Sink != nil {
			min, max, err := role.Sink.Range()
			if err != nil {
				return nil, fmt.Errorf("role %s: query sink range: %w", role.Name, err)
			}
			output = Range{Low: min, High: max}
		}

		state, err := NewState(output.Low, output.High)
		if err != nil {
			return nil, fmt.Errorf("role %s: %w", role.Name, err)
		}

		b := &binding{
			role:  role,
			gate:  NewGate(role.Gated),
			state: state,
		}
		r.bindings = append(r.bindings, b)
		r.byHand[role.Handedness] = b
		r.byName[role.Name] = b
	}

	return r, nil
}

// Law returns the control law in use.
func (r *Router) Law() Law {
	return r.law
}

// Roles returns the role table in binding order.
func (r *Router) Roles() []Role {
	roles := make([]Role, len(r.bindings))
	for i, b := range r.bindings {
		roles[i] = b.role
	}
	return roles
}

// State returns a copy of the named role's state.
func (r *Router) State(name string) (State, bool) {
	b, ok := r.byName[name]
	if !ok {
		return State{}, false
	}
	return *b.state, true
}

// GateState returns the named role's current gate state.
func (r *Router) GateState(name string) (GateState, bool) {
	b, ok := r.byName[name]
	if !ok {
		return "", false
	}
	return b.gate.State(), true
}

// States returns a copy of every role's state keyed by role name.
func (r *Router) States() map[string]State {
	states := make(map[string]State, len(r.bindings))
	for _, b := range r.bindings {
		states[b.role.Name] = *b.state
	}
	return states
}

// Restore seeds the named role's value, clamped into its output range.
// The sink is not driven.
func (r *Router) Restore(name string, value float64) error {
	b, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("unknown role %q", name)
	}
	if math.IsNaN(value) {
		return fmt.Errorf("role %s: cannot restore NaN", name)
	}
	b.state.Value = b.state.Output().Clamp(value)
	return nil
}

// Process runs one frame through the router. The whole frame is validated
// before any state changes; an invalid frame returns an error wrapping
// detector.ErrInvalidInput and leaves every role untouched.
//
// Hands with no bound role are skipped. If two hands share a handedness the
// last one wins. Roles with no hand this frame keep their values.
func (r *Router) Process(frame detector.Frame) ([]Result, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	selected := make(map[*binding]*detector.HandLandmarks, len(frame.Hands))
	for i := range frame.Hands {
		if b, ok := r.byHand[frame.Hands[i].Handedness]; ok {
			selected[b] = &frame.Hands[i]
		}
	}

	metrics := make(map[*binding]gesture.Metrics, len(selected))
	for b, hand := range selected {
		m, err := gesture.Measure(hand, frame.Width, frame.Height)
		if err != nil {
			return nil, err
		}
		metrics[b] = m
	}

	var results []Result
	for _, b := range r.bindings {
		m, ok := metrics[b]
		if !ok {
			continue
		}
		results = append(results, r.step(b, m))
	}

	return results, nil
}

// step applies gate, law and sink for one role.
func (r *Router) step(b *binding, m gesture.Metrics) Result {
	res := Result{
		Role:       b.role.Name,
		Handedness: b.role.Handedness,
		Metrics:    m,
		Gate:       b.gate.Evaluate(m.AuxFolded),
	}

	if b.gate.Active() {
		r.law.Update(b.state, m.PinchDistance)
		res.Updated = true
		if b.role.Sink != nil {
			if err := b.role.Sink.SetValue(b.state.Value); err != nil {
				res.SinkErr = fmt.Errorf("role %s: set value: %w", b.role.Name, err)
			}
		}
	}

	res.Value = b.state.Value
	res.Feedback = ComputeFeedback(r.law, *b.state, m, res.Gate)
	res.Feedback.Role = b.role.Name
	res.Feedback.Handedness = b.role.Handedness

	return res
}
