package ws

import (
	"github.com/pigeonhole-chat/pigeonhole/store"
)

const (
	ErrorCodeInvalidArguments = 3
	ErrorCodeInternal         = 13
)

// ErrorMsg is the error frame pushed to a client.
type ErrorMsg struct {
	Code   int      `json:"code"`
	Params []string `json:"params,omitempty"`
}

// PresenceSnapshot carries the full online-user set. Presence is soft state:
// a missed snapshot is corrected by the next change or by reconnect.
type PresenceSnapshot struct {
	UserIDs []string `json:"user_ids"`
}

// FriendRequestEvent notifies the addressee of a new pending request.
type FriendRequestEvent struct {
	Request *store.FriendRequest `json:"request"`
}

// FriendResponseEvent notifies the requester of the terminal outcome.
type FriendResponseEvent struct {
	Action  string               `json:"action"` // "accept" or "reject"
	Request *store.FriendRequest `json:"request"`
}

// ServerMsg is the server to client frame. Exactly one field is set.
type ServerMsg struct {
	Presence       *PresenceSnapshot    `json:"presence,omitempty"`
	Message        *store.Message       `json:"message,omitempty"`
	FriendRequest  *FriendRequestEvent  `json:"friend_request,omitempty"`
	FriendResponse *FriendResponseEvent `json:"friend_response,omitempty"`

	// Ack echoes the persisted message back to a sender that used the
	// websocket send path.
	Ack   *store.Message `json:"ack,omitempty"`
	Error *ErrorMsg      `json:"error,omitempty"`
}

// SendReq is a client-initiated message send over the websocket. Enabled by
// the -enable-ws-send flag; the HTTP path is always available.
type SendReq struct {
	ReceiverID string                 `json:"receiver_id"`
	Text       string                 `json:"text,omitempty"`
	Image      string                 `json:"image,omitempty"`
	File       *store.FileAttachment  `json:"file,omitempty"`
	Audio      *store.AudioAttachment `json:"audio,omitempty"`
}

// ClientMsg is the client to server frame.
type ClientMsg struct {
	Send *SendReq `json:"send,omitempty"`
}

func newInvalidArgumentError(errs ...string) *ErrorMsg {
	return &ErrorMsg{Code: ErrorCodeInvalidArguments, Params: errs}
}

func newInternalError() *ErrorMsg {
	// Storage details never reach a client.
	return &ErrorMsg{Code: ErrorCodeInternal, Params: []string{"temp storage error"}}
}
