package signal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetClearIsSet(t *testing.T) {
	s := New("test")
	assert.False(t, s.IsSet())

	s.Set()
	assert.True(t, s.IsSet())

	// Setting an already-set flag is a no-op, not a panic.
	s.Set()
	assert.True(t, s.IsSet())

	s.Clear()
	assert.False(t, s.IsSet())

	s.Clear()
	assert.False(t, s.IsSet())
}

func TestWaitReturnsImmediatelyWhenSet(t *testing.T) {
	s := New("test")
	s.Set()

	startedAt := time.Now()
	ok, err := s.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Less(t, time.Since(startedAt), time.Second, "wait on a set flag should not block")
}

func TestWaitTimesOut(t *testing.T) {
	s := New("test")

	ok, err := s.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWaitZeroTimeoutIsNonBlocking(t *testing.T) {
	s := New("test")

	ok, err := s.Wait(0)
	require.NoError(t, err)
	assert.False(t, ok)

	s.Set()
	ok, err = s.Wait(0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitWakesOnSet(t *testing.T) {
	s := New("test")

	done := make(chan bool, 1)
	go func() {
		ok, _ := s.Wait(5 * time.Second)
		done <- ok
	}()

	time.Sleep(10 * time.Millisecond)
	s.Set()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Set")
	}
}

func TestWaitWakesAllWaiters(t *testing.T) {
	s := New("test")

	const waiters = 8
	var wg sync.WaitGroup
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := s.Wait(5 * time.Second)
			results <- ok
		}()
	}

	time.Sleep(10 * time.Millisecond)
	s.Set()
	wg.Wait()
	close(results)

	count := 0
	for ok := range results {
		assert.True(t, ok)
		count++
	}
	assert.Equal(t, waiters, count)
}

func TestClearResetsWaiting(t *testing.T) {
	s := New("test")
	s.Set()
	s.Clear()

	// After a set/clear cycle a fresh wait must block again.
	ok, err := s.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReaderCannotBeWidened(t *testing.T) {
	s := New("test")
	r := s.Reader()

	assert.Equal(t, "test", r.Name())
	assert.False(t, r.IsSet())

	// The read-only view must not expose the writable flag.
	_, writable := r.(*Signal)
	assert.False(t, writable)

	s.Set()
	assert.True(t, r.IsSet())
}

func TestSetLookup(t *testing.T) {
	set := NewSet()

	for _, name := range Names() {
		sig, err := set.Lookup(name)
		require.NoError(t, err)
		require.NotNil(t, sig)
		assert.Equal(t, name, sig.Name())
	}

	_, err := set.Lookup("bogus")
	assert.Error(t, err)
}
