// Package server exposes a minimal read-only status facade over the
// control core: the state snapshot the full HTTP/WebSocket API (out of
// core scope) would serve at GET /api/state/. It exists so the core's
// event bus and controller have a concrete external consumer to
// exercise, not to implement that API surface.
package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/apophisnow/icemaker/controller"
	"github.com/apophisnow/icemaker/events"
	"github.com/apophisnow/icemaker/fsm"
)

// StateSnapshot mirrors the payload shape spec.md assigns to
// GET /api/state/.
type StateSnapshot struct {
	State             string  `json:"state"`
	PreviousState     string  `json:"previous_state"`
	PlateTempF        float64 `json:"plate_temp_f"`
	BinTempF          float64 `json:"bin_temp_f"`
	TargetTempF       float64 `json:"target_temp_f"`
	TimeInStateSecs   float64 `json:"time_in_state_seconds"`
	ChillMode         string  `json:"chill_mode"`
	SessionCycleCount int     `json:"session_cycle_count"`
	LifetimeCycleCount int    `json:"lifetime_cycle_count"`
}

// StatusServer serves StateSnapshot reads against a live Machine,
// building each snapshot from the Machine on demand; nothing is cached
// between requests. It never calls into the controller's mutating
// operations (start/stop/emergency-stop), which remain out of this
// facade's scope.
type StatusServer struct {
	mu      sync.RWMutex
	machine *fsm.Machine
}

// NewStatusServer builds a StatusServer bound to machine. It registers
// a listener on bus that does nothing; snapshots read the machine
// directly.
func NewStatusServer(machine *fsm.Machine, bus *events.Bus) *StatusServer {
	s := &StatusServer{machine: machine}
	bus.Subscribe(events.ListenerFunc(func(events.Event) {
		// snapshot is computed on demand from the machine directly;
		// the subscription exists so future listeners (metrics,
		// logging) have a single attach point alongside this one.
	}))
	return s
}

func (s *StatusServer) snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx := s.machine.Ctx
	return StateSnapshot{
		State:              string(s.machine.State),
		PreviousState:      string(s.machine.PrevState),
		PlateTempF:         ctx.PlateTempF,
		BinTempF:           ctx.BinTempF,
		TargetTempF:        ctx.TargetTempF,
		TimeInStateSecs:    s.machine.TimeInState(),
		ChillMode:          string(ctx.ChillMode),
		SessionCycleCount:  ctx.SessionCycleCount,
		LifetimeCycleCount: ctx.LifetimeCycleCount,
	}
}

func (s *StatusServer) handleState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Routes mounts the facade's single read-only endpoint onto a chi
// router. ctrl is accepted so future mutating routes (gated on
// DIAGNOSTIC, per spec.md's relay endpoints) have a natural home
// without reshaping this constructor again. noAccessLog suppresses the
// request logger; concurrencyLimit throttles concurrent handlers when
// positive, leaving the router unbounded when zero.
func Routes(machine *fsm.Machine, bus *events.Bus, ctrl *controller.Controller, noAccessLog bool, concurrencyLimit int) http.Handler {
	s := NewStatusServer(machine, bus)
	r := chi.NewRouter()
	if !noAccessLog {
		r.Use(middleware.Logger)
	}
	if concurrencyLimit > 0 {
		r.Use(middleware.Throttle(concurrencyLimit))
	}
	r.Get("/api/state", s.handleState)
	return r
}
