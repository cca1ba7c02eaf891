package controller

import (
	"errors"
	"fmt"
	"sync"
)

// State is the page lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateGenerating
	StateStreaming
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateGenerating:
		return "generating"
	case StateStreaming:
		return "streaming"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ErrBadTransition is returned by To for edges the lifecycle does not allow.
var ErrBadTransition = errors.New("illegal state transition")

// transitions lists the legal edges. Recovery from error goes back through
// initializing; a handled stream failure returns to ready, not error.
var transitions = map[State][]State{
	StateIdle:         {StateInitializing},
	StateInitializing: {StateReady, StateError},
	StateReady:        {StateGenerating, StateStreaming},
	StateGenerating:   {StateReady, StateError},
	StateStreaming:    {StateReady},
	StateError:        {StateInitializing},
}

// Machine serializes lifecycle transitions. Every phase change goes through
// To, which rejects illegal edges.
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine returns a machine in the idle state.
func NewMachine() *Machine {
	return &Machine{state: StateIdle}
}

// Current returns the present state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// To moves the machine to next when the lifecycle allows it.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range transitions[m.state] {
		if next == allowed {
			m.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, m.state, next)
}
