package ws

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(uid, sid string) *Handler {
	return &Handler{
		session:  &Session{UID: uid, SID: sid},
		dataChan: make(chan *SessionData, 16),
	}
}

func TestBindUnbindReachability(t *testing.T) {
	reg := NewRegistry()

	h := newTestHandler("a", "s1")
	assert.False(t, reg.IsReachable("a"))

	assert.True(t, reg.Bind(h), "first binding takes the user online")
	assert.True(t, reg.IsReachable("a"))

	// Binding the same handle again is a no-op.
	assert.False(t, reg.Bind(h))
	require.Len(t, reg.HandlesFor("a"), 1)

	existed, wentOffline := reg.Unbind("s1")
	assert.True(t, existed)
	assert.True(t, wentOffline)
	assert.False(t, reg.IsReachable("a"))

	// Unbind is exactly-once.
	existed, wentOffline = reg.Unbind("s1")
	assert.False(t, existed)
	assert.False(t, wentOffline)
}

func TestMultipleBindings(t *testing.T) {
	reg := NewRegistry()

	h1 := newTestHandler("a", "s1")
	h2 := newTestHandler("a", "s2")

	assert.True(t, reg.Bind(h1))
	// A second device does not change the online edge.
	assert.False(t, reg.Bind(h2))
	assert.Len(t, reg.HandlesFor("a"), 2)

	// Removing one device keeps the user online.
	_, wentOffline := reg.Unbind("s1")
	assert.False(t, wentOffline)
	assert.True(t, reg.IsReachable("a"))

	_, wentOffline = reg.Unbind("s2")
	assert.True(t, wentOffline)
	assert.False(t, reg.IsReachable("a"))
	assert.Empty(t, reg.HandlesFor("a"))
}

func TestOnlineUsersSnapshot(t *testing.T) {
	reg := NewRegistry()

	require.True(t, reg.Bind(newTestHandler("b", "s1")))
	require.True(t, reg.Bind(newTestHandler("a", "s2")))
	require.False(t, reg.Bind(newTestHandler("a", "s3")))

	// Sorted, deduplicated.
	assert.Equal(t, []string{"a", "b"}, reg.OnlineUsers())

	reg.Unbind("s2")
	assert.Equal(t, []string{"a", "b"}, reg.OnlineUsers())
	reg.Unbind("s3")
	assert.Equal(t, []string{"b"}, reg.OnlineUsers())
}

func TestConcurrentBindUnbind(t *testing.T) {
	reg := NewRegistry()

	const users = 8
	const perUser = 20

	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		uid := fmt.Sprintf("u%d", u)
		for c := 0; c < perUser; c++ {
			sid := fmt.Sprintf("%s-s%d", uid, c)
			wg.Add(1)
			go func(uid, sid string) {
				defer wg.Done()
				h := newTestHandler(uid, sid)
				reg.Bind(h)
				if sid[len(sid)-1]%2 == 0 {
					reg.Unbind(sid)
				}
			}(uid, sid)
		}
	}
	wg.Wait()

	// Every user kept at least one odd-numbered binding.
	online := reg.OnlineUsers()
	assert.Len(t, online, users)
	for _, uid := range online {
		assert.True(t, reg.IsReachable(uid))
	}

	// Draining all bindings empties the registry.
	for u := 0; u < users; u++ {
		for c := 0; c < perUser; c++ {
			reg.Unbind(fmt.Sprintf("u%d-s%d", u, c))
		}
	}
	assert.Empty(t, reg.OnlineUsers())
}
