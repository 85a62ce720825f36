package fsm

import (
	"errors"
	"testing"
)

type doorState int

const (
	sClosed doorState = iota
	sOpen
	sBroken
)

type door struct {
	state doorState
	kicks int
}

func (self *door) State() doorState {
	return self.state
}

func (self *door) SetState(s doorState) {
	self.state = s
}

func doOpen(self *door, evt Event) (doorState, error) {
	return sOpen, nil
}

func doClose(self *door, evt Event) (doorState, error) {
	return sClosed, nil
}

func doKick(self *door, evt Event) (doorState, error) {
	self.kicks += 1
	if self.kicks >= 2 {
		return sBroken, nil
	}
	return sClosed, nil
}

func doFail(self *door, evt Event) (doorState, error) {
	return sBroken, newError("hinge jammed")
}

var doorTransitions = []Transition[doorState, *door]{
	sClosed: {
		Allow: []string{"Open", "Kick", "Jam"},
		Call: func(s *door, evt Event) (doorState, error) {
			switch evt.Tag {
			case "Open":
				return doOpen(s, evt)
			case "Kick":
				return doKick(s, evt)
			default:
				return doFail(s, evt)
			}
		},
		Exit: []doorState{sOpen, sClosed, sBroken},
	},
	sOpen: {
		Allow: []string{"Close"},
		Call:  doClose,
		Exit:  []doorState{sClosed},
	},
	sBroken: {},
}

func TestUpdateFollowsTable(t *testing.T) {
	d := &door{}

	err := Update(d, doorTransitions, Event{Tag: "Open"})
	if nil != err {
		t.Fatalf("Failed Update, got error %v", err)
	}
	if sOpen != d.State() {
		t.Fatalf("door state %d != sOpen", d.State())
	}

	err = Update(d, doorTransitions, Event{Tag: "Close"})
	if nil != err {
		t.Fatalf("Failed Update, got error %v", err)
	}
	if sClosed != d.State() {
		t.Fatalf("door state %d != sClosed", d.State())
	}
}

func TestUpdateRejectsUnknownEvent(t *testing.T) {
	d := &door{}

	err := Update(d, doorTransitions, Event{Tag: "Close"})
	if !errors.Is(err, ErrEventNotAllowed) {
		t.Errorf("expected ErrEventNotAllowed, got %v", err)
	}
	if sClosed != d.State() {
		t.Error("rejected event mutated the machine state")
	}
}

func TestUpdateKeepsStateOnCallError(t *testing.T) {
	d := &door{}

	err := Update(d, doorTransitions, Event{Tag: "Jam"})
	if nil == err {
		t.Fatal("Update did not report Call error")
	}
	if sClosed != d.State() {
		t.Error("failed Call mutated the machine state")
	}
}

func TestUpdateAllowsSelfTransition(t *testing.T) {
	d := &door{}

	// first kick stays Closed, second kick breaks the door
	for step, want := range []doorState{sClosed, sBroken} {
		err := Update(d, doorTransitions, Event{Tag: "Kick"})
		if nil != err {
			t.Fatalf("[%d] Failed Update, got error %v", step, err)
		}
		if want != d.State() {
			t.Errorf("[%d] door state %d != %d", step, d.State(), want)
		}
	}

	// broken door accepts nothing
	err := Update(d, doorTransitions, Event{Tag: "Open"})
	if !errors.Is(err, ErrEventNotAllowed) {
		t.Errorf("expected ErrEventNotAllowed, got %v", err)
	}
}
