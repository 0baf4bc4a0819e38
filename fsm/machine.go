package fsm

import (
	"fmt"
	"log"
	"time"

	"github.com/apophisnow/icemaker/events"
)

// lockstepPollIncrement is the busy-poll granularity used in lockstep
// mode while waiting for simulated time to advance.
const lockstepPollIncrement = 10 * time.Millisecond

// Handler is implemented by the controller: given the current context it
// either requests a transition or asks to remain. A panic inside Advance
// is treated as a handler error: the FSM emits an ERROR event and
// attempts a transition to ErrorState.
type Handler interface {
	Advance(ctx *Context) (next State, transition bool)
}

// Machine is the FSM core: transition validation, handler dispatch,
// event emission, and the wall-clock/lockstep wait loop.
type Machine struct {
	State     State
	PrevState State
	Ctx       *Context

	Handler Handler
	Bus     *events.Bus

	wallClock *SystemClock
	simClock  Clock // nil unless lockstep mode is bound

	pollInterval time.Duration // wall-clock mode
	pollSimSecs  float64       // lockstep mode

	// StateTimeouts maps a state to its configured timeout in seconds;
	// states absent from the map have no timeout.
	StateTimeouts map[State]float64
}

// NewWallClockMachine builds a Machine that advances on real time.
func NewWallClockMachine(handler Handler, bus *events.Bus, pollInterval time.Duration) *Machine {
	return &Machine{
		State:         Off,
		Ctx:           NewContext(),
		Handler:       handler,
		Bus:           bus,
		wallClock:     NewSystemClock(),
		pollInterval:  pollInterval,
		StateTimeouts: map[State]float64{},
	}
}

// NewLockstepMachine builds a Machine that advances in fixed simulated
// time steps, decoupled from wall time, using simTime as the simulated
// clock source (typically physics.Simulator.SimTimeSeconds).
func NewLockstepMachine(handler Handler, bus *events.Bus, pollIntervalSeconds float64, simTime func() float64) *Machine {
	ctx := NewContext()
	ctx.HasSimtime = true
	return &Machine{
		State:         Off,
		Ctx:           ctx,
		Handler:       handler,
		Bus:           bus,
		wallClock:     NewSystemClock(),
		simClock:      SimClock{Get: simTime},
		pollSimSecs:   pollIntervalSeconds,
		StateTimeouts: map[State]float64{},
	}
}

func (m *Machine) activeClock() Clock {
	if m.Ctx.HasSimtime {
		return m.simClock
	}
	return m.wallClock
}

// TimeInState returns time elapsed since the last transition.
func (m *Machine) TimeInState() float64 {
	return m.Ctx.TimeInState()
}

// Run drives the FSM loop until stop is closed. It is meant to run in
// its own goroutine.
func (m *Machine) Run(stop <-chan struct{}) {
	// stamp the initial OFF state enter time
	m.stampEnter()
	for {
		select {
		case <-stop:
			return
		default:
		}

		m.tick()

		if !m.wait(stop) {
			return
		}
	}
}

func (m *Machine) tick() {
	if to, ok := m.StateTimeouts[m.State]; ok && m.TimeInState() > to {
		m.Bus.Emit(events.Event{Kind: events.StateTimeout, State: string(m.State)})
	}

	next, transition := m.invokeHandler()
	if transition {
		m.tryTransition(next)
	}
}

func (m *Machine) invokeHandler() (next State, transition bool) {
	m.Ctx.CurrentState = m.State
	m.Ctx.Clock = m.activeClock()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("fsm: handler panic in state %s: %v", m.State, r)
			m.Bus.Emit(events.Event{Kind: events.Error, Err: fmt.Errorf("handler panic: %v", r), State: string(m.State)})
			next, transition = ErrorState, true
		}
	}()
	return m.Handler.Advance(m.Ctx)
}

func (m *Machine) tryTransition(to State) {
	if to == m.State {
		return
	}
	if !Allowed(m.State, to) {
		log.Printf("fsm: rejected invalid transition %s -> %s", m.State, to)
		return
	}
	m.Bus.Emit(events.Event{Kind: events.StateExit, State: string(m.State)})
	m.PrevState = m.State
	m.State = to
	m.stampEnter()
	m.Bus.Emit(events.Event{Kind: events.StateEnter, State: string(m.State)})
}

// ForceTransition bypasses the transition table — used by
// emergency_stop, which must be able to reach OFF from any state, and by
// start_icemaking for the OFF → CHILL shortcut when priming is disabled. Event
// ordering is preserved: STATE_EXIT always precedes STATE_ENTER (I6).
func (m *Machine) ForceTransition(to State) {
	if to == m.State {
		return
	}
	m.Bus.Emit(events.Event{Kind: events.StateExit, State: string(m.State)})
	m.PrevState = m.State
	m.State = to
	m.stampEnter()
	m.Bus.Emit(events.Event{Kind: events.StateEnter, State: string(m.State)})
}

func (m *Machine) stampEnter() {
	m.Ctx.CurrentState = m.State
	m.Ctx.Clock = m.activeClock()
	m.Ctx.StateEnterWallclock = m.wallClock.Now()
	if m.Ctx.HasSimtime {
		m.Ctx.StateEnterSimtime = m.simClock.Now()
	}
}

// wait suspends until the next tick per the bound clock mode, returning
// false if stop fires during the wait.
func (m *Machine) wait(stop <-chan struct{}) bool {
	if !m.Ctx.HasSimtime {
		select {
		case <-time.After(m.pollInterval):
			return true
		case <-stop:
			return false
		}
	}

	start := m.simClock.Now()
	for m.simClock.Now()-start < m.pollSimSecs {
		select {
		case <-time.After(lockstepPollIncrement):
		case <-stop:
			return false
		}
	}
	return true
}
