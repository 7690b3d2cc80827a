package chat

import (
	"context"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/pigeonhole-chat/pigeonhole/store"
)

// Router is the event-delivery collaborator. Delivery is best effort; the
// returned bool reports whether the target had a live connection, and callers
// never treat false as a failure.
type Router interface {
	RouteMessage(target string, m *store.Message) bool
	RouteFriendRequest(target string, r *store.FriendRequest) bool
	RouteFriendResponse(target, action string, r *store.FriendRequest) bool
}

// Respond actions.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
)

// Friends governs the friend-request lifecycle:
//
//	send -> pending -> accepted | rejected
//
// Terminal states are immutable; a new request for the same pair is allowed
// once the previous one is terminal. The pending-uniqueness and the
// pending->terminal flip are atomic in the store, so concurrent actors cannot
// double-resolve a request or race two pending requests into existence.
type Friends struct {
	store  store.Store
	router Router
}

func NewFriends(st store.Store, router Router) *Friends {
	return &Friends{store: st, router: router}
}

// Send creates a pending request from `from` to `to` and notifies `to` if
// reachable.
func (s *Friends) Send(ctx context.Context, from, to string) (*store.FriendRequest, error) {
	if to == "" {
		return nil, validationf("target user id is required")
	}
	if from == to {
		return nil, validationf("cannot send a friend request to yourself")
	}

	if _, err := s.store.GetUser(ctx, to); err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundf("user not found")
		}
		return nil, internal(err)
	}

	friends, err := s.store.AreFriends(ctx, from, to)
	if err != nil {
		return nil, internal(err)
	}
	if friends {
		return nil, conflictf("already friends with this user")
	}

	req := &store.FriendRequest{
		ID:        uuid.New(),
		From:      from,
		To:        to,
		Status:    store.StatusPending,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateFriendRequest(ctx, req); err != nil {
		if err == store.ErrDuplicatePending {
			return nil, conflictf("friend request already exists")
		}
		return nil, internal(err)
	}

	if !s.router.RouteFriendRequest(to, req) {
		glog.V(5).Infof("friend request %s: %s offline, will catch up via list", req.ID, to)
	}
	return req, nil
}

// Respond resolves a pending request. Only the addressee may respond, and
// only once; accept makes the friendship symmetric in the same store
// transaction that flips the status.
func (s *Friends) Respond(ctx context.Context, requestID, actor, action string) (*store.FriendRequest, error) {
	var status string
	switch action {
	case ActionAccept:
		status = store.StatusAccepted
	case ActionReject:
		status = store.StatusRejected
	default:
		return nil, validationf("invalid action %q, use %q or %q", action, ActionAccept, ActionReject)
	}

	req, err := s.store.GetFriendRequest(ctx, requestID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundf("friend request not found")
		}
		return nil, internal(err)
	}
	if req.To != actor {
		return nil, forbiddenf("not the addressee of this request")
	}

	// The actual transition is the store's compare-and-set; the read above is
	// only for the Forbidden check and may be stale by the time we get here.
	if err := s.store.ResolveFriendRequest(ctx, requestID, status); err != nil {
		switch err {
		case store.ErrAlreadyResolved:
			return nil, conflictf("friend request has already been responded to")
		case store.ErrNotFound:
			return nil, notFoundf("friend request not found")
		}
		return nil, internal(err)
	}
	req.Status = status

	if !s.router.RouteFriendResponse(req.From, action, req) {
		glog.V(5).Infof("friend response %s: %s offline, event dropped", req.ID, req.From)
	}
	return req, nil
}

// ListPending returns the actor's incoming pending requests, newest first.
func (s *Friends) ListPending(ctx context.Context, actor string) ([]*store.FriendRequest, error) {
	out, err := s.store.ListPendingRequests(ctx, actor)
	if err != nil {
		return nil, internal(err)
	}
	return out, nil
}

// ListFriends returns the actor's friend set as user summaries.
func (s *Friends) ListFriends(ctx context.Context, actor string) ([]*store.User, error) {
	out, err := s.store.ListFriends(ctx, actor)
	if err != nil {
		return nil, internal(err)
	}
	return out, nil
}

// SearchResult is a discovery hit plus the relationship state the client
// needs to render the right button.
type SearchResult struct {
	User          *store.User `json:"user"`
	AlreadyFriend bool        `json:"already_friend"`
	RequestStatus string      `json:"request_status,omitempty"`
}

// Search looks a user up by public code. The actor never finds themselves.
func (s *Friends) Search(ctx context.Context, actor, code string) (*SearchResult, error) {
	if code == "" {
		return nil, validationf("user code is required")
	}

	u, err := s.store.GetUserByCode(ctx, code)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundf("user not found")
		}
		return nil, internal(err)
	}
	if u.ID == actor {
		return nil, notFoundf("user not found")
	}

	out := &SearchResult{User: u}
	if out.AlreadyFriend, err = s.store.AreFriends(ctx, actor, u.ID); err != nil {
		return nil, internal(err)
	}
	if req, err := s.store.FindRequestForPair(ctx, actor, u.ID); err == nil {
		out.RequestStatus = req.Status
	} else if err != store.ErrNotFound {
		return nil, internal(err)
	}
	return out, nil
}
