package fsm

// Context is the mutable record the FSM owns and handlers read/write
// each tick. Per the concurrency model, it is written by two agents
// under cooperative scheduling: the sensor poller (temperature fields
// only) and the FSM/handlers (state, target, counts, timings) — the
// split is field-disjoint so no lock is required there, but Context
// itself takes no lock; callers sharing it across real goroutines must
// serialize access (controller's mutex covers only its own configuration
// and pending-request fields, not Context).
type Context struct {
	// CurrentState mirrors Machine.State; the Machine refreshes it
	// immediately before every handler invocation so a Handler can
	// dispatch on "what state am I handling" without the Machine needing
	// to pass it as a second argument.
	CurrentState State

	// Clock is the same clock bound to the owning Machine (wall or
	// lockstep), refreshed alongside CurrentState before every handler
	// invocation. Handlers call TimeInState() rather than threading a
	// clock argument through the Handler interface.
	Clock Clock

	PlateTempF float64
	BinTempF   float64

	TargetTempF float64

	// StateEnterWallclock is seconds (SystemClock-relative) at the last
	// transition; always populated.
	StateEnterWallclock float64

	// StateEnterSimtime is seconds of simulated time at the last
	// transition; only meaningful when HasSimtime is true.
	StateEnterSimtime float64
	HasSimtime        bool

	LifetimeCycleCount int
	SessionCycleCount  int

	ChillMode     ChillMode
	CycleStartWallclock float64
	CycleStartSimtime   float64

	ShutdownRequested bool
	IceMakingActive   bool
}

// NewContext returns a Context seeded per spec: temperatures start at
// ambient (70F), counters at zero, no chill sub-mode.
func NewContext() *Context {
	return &Context{
		PlateTempF: 70,
		BinTempF:   70,
		ChillMode:  NoChillMode,
	}
}

// TimeInState returns elapsed time since the last transition, in
// seconds, using simulated time when HasSimtime is set and wall time
// otherwise. It uses the clock the owning Machine bound to this
// Context; a Context that has never been driven by a Machine has no
// clock and TimeInState returns 0.
func (c *Context) TimeInState() float64 {
	if c.Clock == nil {
		return 0
	}
	if c.HasSimtime {
		return c.Clock.Now() - c.StateEnterSimtime
	}
	return c.Clock.Now() - c.StateEnterWallclock
}
