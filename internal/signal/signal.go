// Package signal provides the boolean synchronization flags shared between
// the coordinator and its sibling acquisition processes.
//
// Each flag has exactly one writer by convention. The package enforces the
// convention through views rather than documentation alone: collaborators
// that only observe a flag receive a Reader, which cannot be type-asserted
// back to the writable Signal.
package signal

import (
	"fmt"
	"sync"
	"time"
)

// Well-known flag names, matching the wire names used on the control socket.
const (
	NameStop              = "stop"
	NameExperimentStart   = "experiment_start"
	NameIsSaving          = "is_saving"
	NameHardwareTriggered = "hardware_triggered"
	NameIsWaiting         = "is_waiting"
)

// Reader is the read-only view of a Signal handed to collaborators that
// must not write. Wait blocks until the flag is set or the timeout elapses
// and reports the flag state; the error return exists for transport-backed
// implementations, the in-memory Signal never fails.
type Reader interface {
	Name() string
	IsSet() bool
	Wait(timeout time.Duration) (bool, error)
}

// Signal is an in-memory synchronization flag with bounded waiting.
// The zero value is not usable; create instances with New.
type Signal struct {
	name string

	mu  sync.Mutex
	set bool
	ch  chan struct{} // closed while set, replaced on clear
}

func New(name string) *Signal {
	return &Signal{
		name: name,
		ch:   make(chan struct{}),
	}
}

func (s *Signal) Name() string { return s.name }

// Set raises the flag and wakes every pending Wait.
func (s *Signal) Set() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set {
		s.set = true
		close(s.ch)
	}
}

// Clear lowers the flag. Waiters that arrive afterwards block until the
// next Set.
func (s *Signal) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.set {
		s.set = false
		s.ch = make(chan struct{})
	}
}

func (s *Signal) IsSet() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Wait blocks until the flag is set or the timeout elapses, and reports
// the flag state observed last. A non-positive timeout degrades to IsSet.
func (s *Signal) Wait(timeout time.Duration) (bool, error) {
	s.mu.Lock()
	if s.set {
		s.mu.Unlock()
		return true, nil
	}
	ch := s.ch
	s.mu.Unlock()

	if timeout <= 0 {
		return false, nil
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-ch:
		return true, nil
	case <-t.C:
		return s.IsSet(), nil
	}
}

// Reader returns a view that cannot set or clear the flag, not even via a
// type assertion on the returned value.
func (s *Signal) Reader() Reader {
	return reader{s}
}

type reader struct {
	s *Signal
}

func (r reader) Name() string                             { return r.s.Name() }
func (r reader) IsSet() bool                              { return r.s.IsSet() }
func (r reader) Wait(timeout time.Duration) (bool, error) { return r.s.Wait(timeout) }

var _ Reader = (*Signal)(nil)

// Set groups the five flags one acquisition session runs on.
//
// Writers by convention: stop - supervisor; experiment_start - the
// acquisition-start signaler (cleared by the coordinator after a confirmed
// trigger); is_saving - the saving process; hardware_triggered - the scan
// controller; is_waiting - the scan controller.
type Set struct {
	Stop              *Signal
	ExperimentStart   *Signal
	IsSaving          *Signal
	HardwareTriggered *Signal
	IsWaiting         *Signal
}

func NewSet() *Set {
	return &Set{
		Stop:              New(NameStop),
		ExperimentStart:   New(NameExperimentStart),
		IsSaving:          New(NameIsSaving),
		HardwareTriggered: New(NameHardwareTriggered),
		IsWaiting:         New(NameIsWaiting),
	}
}

// Lookup resolves a flag by its wire name.
func (s *Set) Lookup(name string) (*Signal, error) {
	switch name {
	case NameStop:
		return s.Stop, nil
	case NameExperimentStart:
		return s.ExperimentStart, nil
	case NameIsSaving:
		return s.IsSaving, nil
	case NameHardwareTriggered:
		return s.HardwareTriggered, nil
	case NameIsWaiting:
		return s.IsWaiting, nil
	default:
		return nil, fmt.Errorf("unknown signal %q", name)
	}
}

// All returns the five flags in a stable order.
func (s *Set) All() []*Signal {
	return []*Signal{s.Stop, s.ExperimentStart, s.IsSaving, s.HardwareTriggered, s.IsWaiting}
}

// Names lists the wire names accepted by Lookup.
func Names() []string {
	return []string{
		NameStop,
		NameExperimentStart,
		NameIsSaving,
		NameHardwareTriggered,
		NameIsWaiting,
	}
}
