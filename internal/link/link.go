// Package link dispatches trigger requests to the external stimulus peer
// and reads back the duration of the protocol the peer started.
package link

import (
	"fmt"
	"sort"
)

// A Link performs one request/reply exchange with the peer. The boolean
// result is false when no usable duration came back (peer silent, reply
// malformed, value non-finite). Absence is an expected outcome, not an
// error, so implementations report it locally and return normally.
type Link interface {
	SendTriggerAndAwaitDuration(req any) (duration float64, ok bool)
}

type factory func(address string) Link

var registry = map[string]factory{
	"tcp":  func(address string) Link { return NewTCP(address) },
	"mock": func(address string) Link { return &Mock{} },
}

// New builds the link implementation registered under name.
func New(name, address string) (Link, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown link type %q (available: %v)", name, Names())
	}
	return f(address), nil
}

// Names lists the registered link types in stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Mock stands in for the peer when no physical setup is attached. It
// swallows every request and reports whatever duration it was given,
// absent by default.
type Mock struct {
	Duration *float64
}

func (m *Mock) SendTriggerAndAwaitDuration(req any) (float64, bool) {
	if m.Duration == nil {
		return 0, false
	}
	return *m.Duration, true
}
