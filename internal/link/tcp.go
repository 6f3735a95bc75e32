package link

import (
	"encoding/json"
	"log"
	"math"
	"net"
	"strconv"
	"strings"
	"time"
)

// ReplyTimeout bounds one full exchange with the peer, dial included.
const ReplyTimeout = 1000 * time.Millisecond

// TCP talks to the peer over a plain TCP request/reply exchange: one JSON
// document out, one JSON document back. Every call dials a fresh
// connection and tears it down on all exit paths, so a peer that went
// silent mid-exchange can never poison the next cycle.
type TCP struct {
	Address string
	Timeout time.Duration
}

func NewTCP(address string) *TCP {
	return &TCP{Address: address, Timeout: ReplyTimeout}
}

func (l *TCP) SendTriggerAndAwaitDuration(req any) (float64, bool) {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = ReplyTimeout
	}
	deadline := time.Now().Add(timeout)

	addr := strings.TrimPrefix(l.Address, "tcp://")
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		log.Printf("Link: dial %s failed: %v", addr, err)
		return 0, false
	}
	defer conn.Close()

	// One absolute deadline for the whole exchange.
	conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		log.Printf("Link: sending request failed: %v", err)
		return 0, false
	}

	decoder := json.NewDecoder(conn)
	decoder.UseNumber()
	var reply any
	if err := decoder.Decode(&reply); err != nil {
		log.Printf("Link: no reply within %s: %v", timeout, err)
		return 0, false
	}

	d, ok := parseDuration(reply)
	if !ok {
		log.Printf("Warning: link reply carried no usable duration: %v", reply)
		return 0, false
	}
	return d, true
}

// parseDuration accepts either a bare number or an object carrying a
// "duration" key, per the peer's protocol.
func parseDuration(reply any) (float64, bool) {
	candidate := reply
	if m, ok := reply.(map[string]any); ok {
		if v, present := m["duration"]; present {
			candidate = v
		}
	}
	return coerceFloat(candidate)
}

// coerceFloat normalizes the duration candidate to a finite float64.
// Numbers and numeric strings pass; booleans, objects, arrays and
// non-finite values do not.
func coerceFloat(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = t
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
