// Package fsm provides a small table driven state machine used to guard multi step
// registration flows. Each state lists the event tags it accepts and the states it may
// exit to; Update rejects anything else before any side effect becomes visible.
package fsm

type selector interface {
	~int
}

// StateM exposes the current state selector of a state machine.
type StateM[Sel selector] interface {
	State() Sel
	SetState(s Sel)
}

// Event contains "incoming" data processed by a state machine.
type Event struct {
	Tag  string
	Data any
}

// TransitionFunc performs the work attached to a transition and returns the next state.
type TransitionFunc[Sel selector, S StateM[Sel]] func(s S, evt Event) (Sel, error)

// Transition guards a single state of the machine.
type Transition[Sel selector, S StateM[Sel]] struct {
	Allow []string // accepted Event tags
	Call  TransitionFunc[Sel, S]
	Exit  []Sel // allowed next states
}

// Update processes evt against the trs Transition table.
//
// The machine state is only committed when the transition Call succeeded and returned an
// allowed exit state. A failed Call leaves the machine in its prior state.
func Update[Sel selector, S StateM[Sel]](s S, trs []Transition[Sel, S], evt Event) error {
	sel := s.State()
	if sel < 0 || int(sel) >= len(trs) {
		return newError("invalid inner state %d", int(sel))
	}

	tr := trs[int(sel)]
	var allowed bool
	for _, tag := range tr.Allow {
		if tag == evt.Tag {
			allowed = true
			break
		}
	}
	if !allowed {
		return wrapError(ErrEventNotAllowed, "Event %s not allowed in state %d", evt.Tag, int(sel))
	}

	var err error
	if nil != tr.Call {
		sel, err = tr.Call(s, evt)
		if nil != err {
			return err
		}
	}

	allowed = false
	for _, exit := range tr.Exit {
		if exit == sel {
			allowed = true
			break
		}
	}
	if !allowed {
		return newError("Exit %d not allowed", int(sel))
	}

	s.SetState(sel)

	return nil
}
