package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBoundHandler(t *testing.T, reg *Registry, uid, sid string, queue int) *Handler {
	t.Helper()
	h := &Handler{
		hub:      &Hub{registry: reg},
		session:  &Session{UID: uid, SID: sid},
		dataChan: make(chan *SessionData, queue),
	}
	require.True(t, reg.Bind(h))
	return h
}

func TestEnqueueNeverBlocks(t *testing.T) {
	reg := NewRegistry()
	h := newBoundHandler(t, reg, "a", "s1", 2)

	item := &SessionData{ServerMsg: &ServerMsg{}}
	assert.True(t, h.appendDataChan(item))
	assert.True(t, h.appendDataChan(item))

	// A full queue is a failed delivery, not a stall of the routing caller.
	done := make(chan bool, 1)
	go func() { done <- h.appendDataChan(item) }()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}

func TestCloseWithFullQueue(t *testing.T) {
	reg := NewRegistry()
	h := newBoundHandler(t, reg, "a", "s1", 1)

	item := &SessionData{ServerMsg: &ServerMsg{}}
	require.True(t, h.appendDataChan(item))

	// A writer-side failure with a backed-up queue and concurrent enqueues
	// must still tear the binding down promptly.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.appendDataChan(item)
		}()
	}

	done := make(chan struct{})
	go func() {
		h.close(WriteError)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("close did not finish")
	}
	wg.Wait()

	assert.False(t, reg.IsReachable("a"))
	assert.False(t, h.appendDataChan(item), "enqueue after close must fail")
}

func TestCloseExactlyOnce(t *testing.T) {
	reg := NewRegistry()
	h := newBoundHandler(t, reg, "a", "s1", 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.close(ReadError)
		}()
	}
	wg.Wait()

	assert.False(t, reg.IsReachable("a"))
	if _, ok := <-h.dataChan; ok {
		t.Fatal("dataChan must be closed after close")
	}
}
