// Package safety provides the kill switch consulted before every dispatch
// decision. Engaging the switch halts new dispatch immediately; work already
// spawned is allowed to finish.
package safety

import "sync/atomic"

// Controller exposes the global kill switch. Implementations must be safe
// for concurrent use; Engage and Disengage are idempotent.
type Controller interface {
	Engaged() bool
	Engage() error
	Disengage() error
}

// Switch is the in-memory Controller: a plain atomic boolean. Used directly
// in tests and embedded by the sentinel-backed production implementation.
type Switch struct {
	engaged atomic.Bool
}

// NewSwitch creates a disengaged Switch.
func NewSwitch() *Switch {
	return &Switch{}
}

// Engaged reports whether the kill switch is set.
func (s *Switch) Engaged() bool {
	return s.engaged.Load()
}

// Engage sets the kill switch.
func (s *Switch) Engage() error {
	s.engaged.Store(true)
	return nil
}

// Disengage clears the kill switch.
func (s *Switch) Disengage() error {
	s.engaged.Store(false)
	return nil
}
