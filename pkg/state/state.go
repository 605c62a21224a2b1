// Package state holds the process-wide playback record. All access is
// serialized behind a mutex; a resolution update replaces the metadata group
// atomically rather than field by field.
package state

import (
	"errors"
	"sync"

	"tunegate/pkg/types"
)

// ErrInvalidAction is returned for control actions outside the state machine.
var ErrInvalidAction = errors.New("invalid action")

// Control action tokens.
const (
	ActionPlay  = "play"
	ActionPause = "pause"
	ActionStop  = "stop"
	ActionSeek  = "seek"
)

// Store owns the playback record for the process lifetime.
type Store struct {
	mu sync.Mutex
	ps types.PlaybackState
}

// New creates a store in the idle phase.
func New() *Store {
	return &Store{
		ps: types.PlaybackState{State: types.PhaseIdle},
	}
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() types.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ps
}

// Resolution metadata applied after a successful resolve.
type Resolution struct {
	Title     string
	Artist    string
	Thumbnail string
	Duration  float64
	StreamURL string
	VideoURL  string
}

// SetResolved replaces the whole metadata group, moves the phase to playing,
// and resets the position.
func (s *Store) SetResolved(r Resolution) types.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ps.Title = r.Title
	s.ps.Artist = r.Artist
	s.ps.Thumbnail = r.Thumbnail
	s.ps.Duration = r.Duration
	s.ps.StreamURL = r.StreamURL
	s.ps.VideoURL = r.VideoURL
	s.ps.State = types.PhasePlaying
	s.ps.Position = 0
	return s.ps
}

// Apply runs a control action through the state machine and returns the
// resulting record. Position is only consulted for seek.
func (s *Store) Apply(action string, position float64) (types.PlaybackState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch action {
	case ActionPlay:
		s.ps.State = types.PhasePlaying
	case ActionPause:
		s.ps.State = types.PhasePaused
	case ActionStop:
		s.ps.State = types.PhaseIdle
		s.ps.Title = ""
		s.ps.Artist = ""
		s.ps.StreamURL = ""
		// Position is deliberately left untouched.
	case ActionSeek:
		if position < 0 {
			position = 0
		}
		if s.ps.Duration > 0 && position > s.ps.Duration {
			position = s.ps.Duration
		}
		s.ps.Position = position
	default:
		return s.ps, ErrInvalidAction
	}

	return s.ps, nil
}
