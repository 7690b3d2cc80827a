package chat

import (
	"context"
	"database/sql"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pigeonhole-chat/pigeonhole/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "pigeonhole-chat-*.db")
	require.NoError(t, err)
	tmpfile.Close()
	os.Remove(tmpfile.Name())

	db, err := sql.Open(store.DriverSQLite, tmpfile.Name()+"?_foreign_keys=1&_journal_mode=WAL")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	s, err := store.NewSQL(db, store.DriverSQLite)
	require.NoError(t, err)
	require.NoError(t, s.InitSchema(context.Background()))

	t.Cleanup(func() {
		db.Close()
		os.Remove(tmpfile.Name())
	})
	return s
}

func addUser(t *testing.T, s store.Store, id, code string) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), &store.User{
		ID: id, Code: code, FullName: "User " + id, CreatedAt: time.Now(),
	}))
}

type routedResponse struct {
	target  string
	action  string
	request *store.FriendRequest
}

// routeRecorder implements Router. Targets listed in `online` count as
// delivered; everything is recorded either way.
type routeRecorder struct {
	sync.Mutex
	online    map[string]bool
	messages  map[string][]*store.Message
	requests  map[string][]*store.FriendRequest
	responses []routedResponse
}

func newRouteRecorder(online ...string) *routeRecorder {
	r := &routeRecorder{
		online:   make(map[string]bool),
		messages: make(map[string][]*store.Message),
		requests: make(map[string][]*store.FriendRequest),
	}
	for _, uid := range online {
		r.online[uid] = true
	}
	return r
}

func (r *routeRecorder) RouteMessage(target string, m *store.Message) bool {
	r.Lock()
	defer r.Unlock()
	r.messages[target] = append(r.messages[target], m)
	return r.online[target]
}

func (r *routeRecorder) RouteFriendRequest(target string, req *store.FriendRequest) bool {
	r.Lock()
	defer r.Unlock()
	r.requests[target] = append(r.requests[target], req)
	return r.online[target]
}

func (r *routeRecorder) RouteFriendResponse(target, action string, req *store.FriendRequest) bool {
	r.Lock()
	defer r.Unlock()
	r.responses = append(r.responses, routedResponse{target: target, action: action, request: req})
	return r.online[target]
}

func assertKind(t *testing.T, err error, kind Kind) {
	t.Helper()
	require.Error(t, err)
	e, ok := err.(*Error)
	require.True(t, ok, "want *chat.Error, got %T: %v", err, err)
	assert.Equal(t, kind, e.Kind, "wrong kind for %v", err)
}

func TestSendRequestValidation(t *testing.T) {
	s := newTestStore(t)
	router := newRouteRecorder()
	friends := NewFriends(s, router)
	ctx := context.Background()

	addUser(t, s, "a", "AAAA")

	_, err := friends.Send(ctx, "a", "a")
	assertKind(t, err, KindValidation)

	_, err = friends.Send(ctx, "a", "")
	assertKind(t, err, KindValidation)

	_, err = friends.Send(ctx, "a", "ghost")
	assertKind(t, err, KindNotFound)
}

func TestSendRequestDuplicate(t *testing.T) {
	s := newTestStore(t)
	router := newRouteRecorder("b")
	friends := NewFriends(s, router)
	ctx := context.Background()

	addUser(t, s, "a", "AAAA")
	addUser(t, s, "b", "BBBB")

	req, err := friends.Send(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, req.Status)
	require.Len(t, router.requests["b"], 1)
	assert.Equal(t, req.ID, router.requests["b"][0].ID)

	// Duplicate in either direction while pending.
	_, err = friends.Send(ctx, "a", "b")
	assertKind(t, err, KindConflict)
	_, err = friends.Send(ctx, "b", "a")
	assertKind(t, err, KindConflict)
}

func TestRespondAcceptSymmetric(t *testing.T) {
	s := newTestStore(t)
	router := newRouteRecorder("a", "b")
	friends := NewFriends(s, router)
	ctx := context.Background()

	addUser(t, s, "a", "AAAA")
	addUser(t, s, "b", "BBBB")

	req, err := friends.Send(ctx, "a", "b")
	require.NoError(t, err)

	resolved, err := friends.Respond(ctx, req.ID, "b", ActionAccept)
	require.NoError(t, err)
	assert.Equal(t, store.StatusAccepted, resolved.Status)

	// The requester is notified.
	require.Len(t, router.responses, 1)
	assert.Equal(t, "a", router.responses[0].target)
	assert.Equal(t, ActionAccept, router.responses[0].action)

	// Both friend sets contain the other side.
	for _, pair := range [][2]string{{"a", "b"}, {"b", "a"}} {
		out, err := friends.ListFriends(ctx, pair[0])
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, pair[1], out[0].ID)
	}

	// Sending again fails with already-friends, not duplicate.
	_, err = friends.Send(ctx, "a", "b")
	assertKind(t, err, KindConflict)
}

func TestRespondRejectAllowsResend(t *testing.T) {
	s := newTestStore(t)
	router := newRouteRecorder()
	friends := NewFriends(s, router)
	ctx := context.Background()

	addUser(t, s, "a", "AAAA")
	addUser(t, s, "b", "BBBB")

	req, err := friends.Send(ctx, "a", "b")
	require.NoError(t, err)

	resolved, err := friends.Respond(ctx, req.ID, "b", ActionReject)
	require.NoError(t, err)
	assert.Equal(t, store.StatusRejected, resolved.Status)

	out, err := friends.ListFriends(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, out)

	// A new pending request is allowed once the old one is terminal.
	_, err = friends.Send(ctx, "a", "b")
	require.NoError(t, err)
}

func TestRespondFailures(t *testing.T) {
	s := newTestStore(t)
	router := newRouteRecorder()
	friends := NewFriends(s, router)
	ctx := context.Background()

	addUser(t, s, "a", "AAAA")
	addUser(t, s, "b", "BBBB")
	addUser(t, s, "c", "CCCC")

	req, err := friends.Send(ctx, "a", "b")
	require.NoError(t, err)

	_, err = friends.Respond(ctx, "ghost", "b", ActionAccept)
	assertKind(t, err, KindNotFound)

	_, err = friends.Respond(ctx, req.ID, "c", ActionAccept)
	assertKind(t, err, KindForbidden)
	// The sender cannot accept their own request either.
	_, err = friends.Respond(ctx, req.ID, "a", ActionAccept)
	assertKind(t, err, KindForbidden)

	_, err = friends.Respond(ctx, req.ID, "b", "maybe")
	assertKind(t, err, KindValidation)

	_, err = friends.Respond(ctx, req.ID, "b", ActionAccept)
	require.NoError(t, err)

	// Responding to a resolved request always conflicts, for any action.
	_, err = friends.Respond(ctx, req.ID, "b", ActionReject)
	assertKind(t, err, KindConflict)
	_, err = friends.Respond(ctx, req.ID, "b", ActionAccept)
	assertKind(t, err, KindConflict)
}

func TestListPendingCatchUp(t *testing.T) {
	s := newTestStore(t)
	// Nobody online: the live event is dropped.
	router := newRouteRecorder()
	friends := NewFriends(s, router)
	ctx := context.Background()

	addUser(t, s, "a", "AAAA")
	addUser(t, s, "b", "BBBB")

	req, err := friends.Send(ctx, "a", "b")
	require.NoError(t, err)

	// The addressee still finds the request through the list read path.
	pending, err := friends.ListPending(ctx, "b")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, req.ID, pending[0].ID)

	pending, err = friends.ListPending(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSearch(t *testing.T) {
	s := newTestStore(t)
	router := newRouteRecorder()
	friends := NewFriends(s, router)
	ctx := context.Background()

	addUser(t, s, "a", "AAAA")
	addUser(t, s, "b", "BBBB")

	res, err := friends.Search(ctx, "a", "BBBB")
	require.NoError(t, err)
	assert.Equal(t, "b", res.User.ID)
	assert.False(t, res.AlreadyFriend)
	assert.Empty(t, res.RequestStatus)

	// Your own code is never a hit.
	_, err = friends.Search(ctx, "a", "AAAA")
	assertKind(t, err, KindNotFound)

	_, err = friends.Search(ctx, "a", "")
	assertKind(t, err, KindValidation)

	req, err := friends.Send(ctx, "a", "b")
	require.NoError(t, err)
	res, err = friends.Search(ctx, "a", "BBBB")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, res.RequestStatus)

	_, err = friends.Respond(ctx, req.ID, "b", ActionAccept)
	require.NoError(t, err)
	res, err = friends.Search(ctx, "a", "BBBB")
	require.NoError(t, err)
	assert.True(t, res.AlreadyFriend)
	assert.Equal(t, store.StatusAccepted, res.RequestStatus)
}
