// Package queue holds the two channels the coordinator runs on: the
// settings queue feeding it fresh configuration payloads and the duration
// queue carrying measured durations downstream. Both are unbounded, so a
// producer never blocks; latest-wins on the settings side is a property of
// the consumer's drain, not of the queue itself.
package queue

import (
	"context"
	"sync"
)

// Settings buffers configuration payloads published by the settings
// producer. Single producer, single consumer.
type Settings struct {
	mu    sync.Mutex
	items []map[string]any
}

func NewSettings() *Settings {
	return &Settings{}
}

func (q *Settings) Put(v map[string]any) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, v)
}

// TryPop removes and returns the oldest payload without blocking.
func (q *Settings) TryPop() (map[string]any, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

func (q *Settings) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Durations carries finite duration values to the downstream consumer.
// Values are delivered at most once; nothing is replayed or persisted.
type Durations struct {
	mu    sync.Mutex
	items []float64
	wake  chan struct{}
}

func NewDurations() *Durations {
	return &Durations{
		wake: make(chan struct{}, 1),
	}
}

// Put appends a value. It never blocks, whatever the consumer is doing.
func (q *Durations) Put(v float64) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// TryPop removes and returns the oldest value without blocking.
func (q *Durations) TryPop() (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

// Pop blocks until a value is available or the context is cancelled.
func (q *Durations) Pop(ctx context.Context) (float64, bool) {
	for {
		if v, ok := q.TryPop(); ok {
			return v, true
		}
		select {
		case <-ctx.Done():
			return 0, false
		case <-q.wake:
		}
	}
}

func (q *Durations) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
