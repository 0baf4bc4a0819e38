// Package persistence reads and writes the small set of on-disk records
// the controller uses to survive a restart: the lifetime cycle counter,
// the ice-making-active flag consulted for power-loss recovery, and an
// optional full state snapshot for a graceful-restart variant.
package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	cycleCountFile  = "cycle_count.txt"
	activeFlagFile  = "ice_making_active"
	stateSnapFile   = "state.json"
	filePermissions = 0o644
)

// Store roots every persisted record under a single data directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating data dir %s", dir)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// LoadCycleCount reads the lifetime cycle counter. A missing file reads
// as zero, matching a fresh install.
func (s *Store) LoadCycleCount() (int, error) {
	data, err := os.ReadFile(s.path(cycleCountFile))
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "reading cycle count")
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrap(err, "parsing cycle count")
	}
	return n, nil
}

// SaveCycleCount overwrites the lifetime cycle counter. Called after
// every rechill completion.
func (s *Store) SaveCycleCount(n int) error {
	data := []byte(strconv.Itoa(n))
	if err := os.WriteFile(s.path(cycleCountFile), data, filePermissions); err != nil {
		return errors.Wrap(err, "writing cycle count")
	}
	return nil
}

// IceMakingActive reports whether the zero-byte presence file exists,
// meaning the process was mid-cycle when it last stopped.
func (s *Store) IceMakingActive() bool {
	_, err := os.Stat(s.path(activeFlagFile))
	return err == nil
}

// SetIceMakingActive creates or removes the presence file per the
// power-loss recovery protocol: created on start_icemaking, removed on
// power_off, emergency_stop, or reaching OFF.
func (s *Store) SetIceMakingActive(active bool) error {
	p := s.path(activeFlagFile)
	if !active {
		err := os.Remove(p)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return errors.Wrap(err, "clearing ice_making_active flag")
		}
		return nil
	}
	if err := os.WriteFile(p, nil, filePermissions); err != nil {
		return errors.Wrap(err, "setting ice_making_active flag")
	}
	return nil
}

// StateSnapshot is the graceful-restart record: FSM state, previous
// state, every relay's logical on/off, and the FSM context at the
// moment of shutdown.
type StateSnapshot struct {
	State     string          `json:"state"`
	PrevState string          `json:"prev_state"`
	Relays    map[string]bool `json:"relays"`
	Context   interface{}     `json:"context"`
}

// SaveStateSnapshot writes the graceful-restart snapshot. Callers write
// this before relays are de-energized on a clean shutdown.
func (s *Store) SaveStateSnapshot(snap StateSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling state snapshot")
	}
	if err := os.WriteFile(s.path(stateSnapFile), data, filePermissions); err != nil {
		return errors.Wrap(err, "writing state snapshot")
	}
	return nil
}

// LoadStateSnapshot reads the graceful-restart snapshot, if present. The
// second return value is false when no snapshot exists (normal startup,
// not a graceful restart).
func (s *Store) LoadStateSnapshot() (StateSnapshot, bool, error) {
	data, err := os.ReadFile(s.path(stateSnapFile))
	if errors.Is(err, os.ErrNotExist) {
		return StateSnapshot{}, false, nil
	}
	if err != nil {
		return StateSnapshot{}, false, errors.Wrap(err, "reading state snapshot")
	}
	var snap StateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return StateSnapshot{}, false, errors.Wrap(err, "parsing state snapshot")
	}
	return snap, true, nil
}

// ClearStateSnapshot deletes the snapshot file after a successful
// restore, so a subsequent crash (rather than graceful restart) does not
// replay a stale snapshot.
func (s *Store) ClearStateSnapshot() error {
	err := os.Remove(s.path(stateSnapFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "clearing state snapshot")
	}
	return nil
}
