package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsFIFO(t *testing.T) {
	q := NewSettings()
	q.Put(map[string]any{"n": 1})
	q.Put(map[string]any{"n": 2})

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v["n"])

	v, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, v["n"])

	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestSettingsDrainKeepsLatest(t *testing.T) {
	// The consumer drains to empty and acts on the last payload only.
	q := NewSettings()
	q.Put(map[string]any{"id": "A"})
	q.Put(map[string]any{"id": "B"})
	q.Put(map[string]any{"id": "C"})

	var last map[string]any
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		last = v
	}

	require.NotNil(t, last)
	assert.Equal(t, "C", last["id"])
	assert.Equal(t, 0, q.Len())
}

func TestDurationsPutNeverBlocks(t *testing.T) {
	q := NewDurations()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Put(float64(i))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Put blocked with no consumer")
	}
	assert.Equal(t, 10000, q.Len())
}

func TestDurationsOrder(t *testing.T) {
	q := NewDurations()
	q.Put(1.5)
	q.Put(2.5)
	q.Put(3.5)

	for _, want := range []float64{1.5, 2.5, 3.5} {
		v, ok := q.TryPop()
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestDurationsPopBlocksUntilPut(t *testing.T) {
	q := NewDurations()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan float64, 1)
	go func() {
		v, ok := q.Pop(ctx)
		if ok {
			got <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Put(7.25)

	select {
	case v := <-got:
		assert.Equal(t, 7.25, v)
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake after Put")
	}
}

func TestDurationsPopCancelled(t *testing.T) {
	q := NewDurations()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after cancel")
	}
}

func TestDurationsPopDrainsBacklogBeforeBlocking(t *testing.T) {
	q := NewDurations()
	q.Put(1)
	q.Put(2)

	ctx := context.Background()
	v, ok := q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)

	v, ok = q.Pop(ctx)
	require.True(t, ok)
	assert.Equal(t, 2.0, v)
}
