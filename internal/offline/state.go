package offline

import (
	"fmt"
	"sync"
)

// State is the lifecycle of one lesson on this device.
type State int

const (
	StateNotDownloaded State = iota
	StateAuthorizing
	StateDownloading
	StateEncrypting
	StateSaving
	StateDownloaded
	StatePlaying
	StateDeleted
	StateRevoked
	StateError
)

func (s State) String() string {
	switch s {
	case StateNotDownloaded:
		return "not_downloaded"
	case StateAuthorizing:
		return "authorizing"
	case StateDownloading:
		return "downloading"
	case StateEncrypting:
		return "encrypting"
	case StateSaving:
		return "saving"
	case StateDownloaded:
		return "downloaded"
	case StatePlaying:
		return "playing"
	case StateDeleted:
		return "deleted"
	case StateRevoked:
		return "revoked"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InFlight reports whether a download is underway.
func (s State) InFlight() bool {
	return s == StateAuthorizing || s == StateDownloading || s == StateEncrypting || s == StateSaving
}

var transitions = map[State][]State{
	StateNotDownloaded: {StateAuthorizing},
	StateAuthorizing:   {StateDownloading, StateError},
	StateDownloading:   {StateEncrypting, StateError},
	StateEncrypting:    {StateSaving, StateError},
	StateSaving:        {StateDownloaded, StateError},
	StateDownloaded:    {StatePlaying, StateDeleted, StateRevoked, StateAuthorizing},
	StatePlaying:       {StateDownloaded, StateRevoked},
	StateDeleted:       {StateAuthorizing},
	StateRevoked:       {StateDeleted, StateAuthorizing},
	StateError:         {StateNotDownloaded, StateAuthorizing},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tracker holds the state of every lesson seen in this process, and how
// many playback handles are open for each.
// This implementation is safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	states map[string]State
	plays  map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]State), plays: make(map[string]int)}
}

// Get returns the tracked state and whether one is recorded.
func (t *Tracker) Get(contentID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[contentID]
	return s, ok
}

// Transition moves contentID to `to`. An untracked item starts from initial.
func (t *Tracker) Transition(contentID string, initial, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.states[contentID]
	if !ok {
		from = initial
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	t.states[contentID] = to
	return nil
}

// fail moves an in-flight item to StateError. Other states are left alone.
func (t *Tracker) fail(contentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.states[contentID]; ok && s.InFlight() {
		t.states[contentID] = StateError
	}
}

// set records a state without validation.
func (t *Tracker) set(contentID string, s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states[contentID] = s
}

// beginPlayback records an open handle for a package that decrypted. The
// item is marked playing whatever its previous settled state; a download in
// flight keeps its state.
func (t *Tracker) beginPlayback(contentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.plays[contentID]++
	if s, ok := t.states[contentID]; !ok || !s.InFlight() {
		t.states[contentID] = StatePlaying
	}
}

// endPlayback drops an open handle. Closing the last one returns a playing
// item to downloaded.
func (t *Tracker) endPlayback(contentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.plays[contentID] > 1 {
		t.plays[contentID]--
		return
	}
	delete(t.plays, contentID)
	if t.states[contentID] == StatePlaying {
		t.states[contentID] = StateDownloaded
	}
}

// Playing reports whether any handle for contentID is open.
func (t *Tracker) Playing(contentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.plays[contentID] > 0
}
