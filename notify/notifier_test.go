package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Signal) Signal {
	t.Helper()
	select {
	case sig := <-ch:
		return sig
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
		return Signal{}
	}
}

func assertNoSignal(t *testing.T, ch <-chan Signal) {
	t.Helper()
	select {
	case sig := <-ch:
		t.Fatalf("unexpected signal %+v", sig)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHub_BasicSubscribeSignal(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{})
	defer cancel()

	hub.Signal(4, []string{"/content/a"})

	sig := receive(t, signals)
	assert.Equal(t, int64(4), sig.Revision)
	assert.Equal(t, []string{"/content/a"}, sig.Paths)
}

func TestHub_FilterScopes(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{Scopes: []string{"/content/site"}})
	defer cancel()

	hub.Signal(1, []string{"/content/other"})
	assertNoSignal(t, signals)

	// Sibling with a shared prefix is not a descendant
	hub.Signal(2, []string{"/content/site2/x"})
	assertNoSignal(t, signals)

	hub.Signal(3, []string{"/content/other", "/content/site/page"})
	assert.Equal(t, int64(3), receive(t, signals).Revision)

	hub.Signal(4, []string{"/content/site"})
	assert.Equal(t, int64(4), receive(t, signals).Revision)
}

func TestHub_RootScopeMatchesAll(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{Scopes: []string{"/"}})
	defer cancel()

	hub.Signal(9, []string{"/anything/at/all"})
	assert.Equal(t, int64(9), receive(t, signals).Revision)
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{})
	require.Equal(t, 1, hub.Len())

	cancel()
	assert.Equal(t, 0, hub.Len())

	_, ok := <-signals
	assert.False(t, ok, "channel should be closed after cancel")

	// Signals after cancel must not panic
	hub.Signal(1, nil)

	// Cancel is idempotent
	cancel()
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()

	a, cancelA := hub.Subscribe(Filter{})
	defer cancelA()
	b, cancelB := hub.Subscribe(Filter{})
	defer cancelB()

	hub.Signal(5, []string{"/x"})

	assert.Equal(t, int64(5), receive(t, a).Revision)
	assert.Equal(t, int64(5), receive(t, b).Revision)
}

func TestHub_BufferOverflowNonBlocking(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{})
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultSignalBufferSize*4; i++ {
			hub.Signal(int64(i), nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Signal blocked on a full subscriber")
	}
	assert.Len(t, signals, defaultSignalBufferSize)
}

func TestHub_ConcurrentSignalCancel(t *testing.T) {
	hub := NewHub()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		_, cancel := hub.Subscribe(Filter{})
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Signal(int64(j), []string{"/p"})
			}
		}()
		go func() {
			defer wg.Done()
			cancel()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Len())
}
