// Package xsync holds the small synchronization primitives shared by the
// data path: an on/off switch and a single-consumer waker.
package xsync

import "sync/atomic"

// Switcher is a shared on/off flag.
type Switcher struct {
	state atomic.Bool
}

// NewSwitcher creates a switcher in the given state.
func NewSwitcher(on bool) *Switcher {
	s := &Switcher{}
	s.state.Store(on)
	return s
}

// Get reports whether the switch is on.
func (s *Switcher) Get() bool { return s.state.Load() }

// On turns the switch on.
func (s *Switcher) On() { s.state.Store(true) }

// Off turns the switch off.
func (s *Switcher) Off() { s.state.Store(false) }
