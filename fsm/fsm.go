// Package fsm implements the control finite state machine core: the
// typed state alphabet, transition-table validation, handler dispatch,
// event emission, and a clock abstraction that lets the same machine run
// against wall-clock time or a simulator's lockstep simulated time.
package fsm

import (
	"time"
)

// State is one of the ten operational states.
type State string

const (
	Off        State = "OFF"
	Standby    State = "STANDBY"
	Idle       State = "IDLE"
	PowerOn    State = "POWER_ON"
	Chill      State = "CHILL"
	Ice        State = "ICE"
	Heat       State = "HEAT"
	ErrorState State = "ERROR"
	Shutdown   State = "SHUTDOWN"
	Diagnostic State = "DIAGNOSTIC"
)

// ChillMode is the CHILL state's sub-mode. It is attached only while
// State == Chill and picks both the active setpoint and the
// post-completion dispatch.
type ChillMode string

const (
	NoChillMode ChillMode = "none"
	Prechill    ChillMode = "prechill"
	Rechill     ChillMode = "rechill"
)

// Table is the permitted transition set: table[s] lists every state s
// may transition to. OFF is the unique initial state and is never a
// transition target from itself (no self-loops are represented; a
// handler returning its own current state is simply "remain").
var Table = map[State][]State{
	Off:        {PowerOn, Standby, Shutdown, Diagnostic},
	Standby:    {Chill, Off, Shutdown},
	Idle:       {Chill, Standby, Off, Shutdown},
	PowerOn:    {Standby, Chill, ErrorState, Shutdown},
	Chill:      {Ice, Idle, Standby, Off, ErrorState, Shutdown},
	Ice:        {Heat, Idle, Standby, ErrorState, Shutdown},
	Heat:       {Chill, Idle, Standby, ErrorState, Shutdown},
	ErrorState: {Off, Shutdown},
	Shutdown:   {Off},
	Diagnostic: {Off},
}

// Allowed reports whether the transition from -> to is permitted.
func Allowed(from, to State) bool {
	for _, s := range Table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Clock abstracts "now" in seconds, in either wall-clock or simulated
// time. It exists so the FSM's inter-tick wait and time-in-state
// computation are identical code whether driven by a real clock or the
// physics simulator's lockstep time.
type Clock interface {
	Now() float64
}

// SystemClock is a wall-clock time source, seconds since the clock was
// created.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a SystemClock epoched at the moment of
// creation.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now returns seconds elapsed since the clock was created.
func (c *SystemClock) Now() float64 {
	return time.Since(c.start).Seconds()
}

// SimClock adapts a simulated-time getter (e.g.
// physics.Simulator.SimTimeSeconds) to the Clock interface.
type SimClock struct {
	Get func() float64
}

// Now returns the bound simulator's current simulated time.
func (c SimClock) Now() float64 {
	return c.Get()
}
