package store

import (
	"context"
	"errors"
	"time"
)

// FriendRequest status values. A request is written once as StatusPending and
// flipped exactly once to a terminal status.
const (
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

var (
	// ErrNotFound is returned when a referenced row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicatePending is returned by CreateFriendRequest when a pending
	// request already exists for the pair, in either direction.
	ErrDuplicatePending = errors.New("store: pending request exists for pair")

	// ErrAlreadyResolved is returned by ResolveFriendRequest when the request
	// is no longer pending.
	ErrAlreadyResolved = errors.New("store: request already resolved")
)

// User is an account as seen by the chat core. Credentials live elsewhere.
type User struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"` // short unique public code used for discovery
	FullName  string    `json:"full_name"`
	AvatarURL string    `json:"avatar_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FriendRequest is a relationship request between two users.
type FriendRequest struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// FileAttachment references an uploaded file in external object storage.
type FileAttachment struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// AudioAttachment references an uploaded voice clip.
type AudioAttachment struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration,omitempty"`
}

// Message is one immutable direct message. Ordering within a conversation is
// (CreatedAt, Seq); Seq is assigned by the server process and strictly
// increases, so equal timestamps still order totally.
type Message struct {
	ID        string           `json:"id"`
	Sender    string           `json:"sender_id"`
	Receiver  string           `json:"receiver_id"`
	Text      string           `json:"text,omitempty"`
	Image     string           `json:"image,omitempty"`
	File      *FileAttachment  `json:"file,omitempty"`
	Audio     *AudioAttachment `json:"audio,omitempty"`
	Seq       int64            `json:"seq"`
	CreatedAt time.Time        `json:"created_at"`
}

// HasContent reports whether the message carries text or any attachment.
func (m *Message) HasContent() bool {
	return m.Text != "" || m.Image != "" || m.File != nil || m.Audio != nil
}

// Store is the durable storage collaborator. All mutating friend-request
// operations are atomic against the backing database: the duplicate-pending
// check is the insert itself and the pending->terminal flip is a
// compare-and-set, so two racing callers cannot both succeed.
type Store interface {
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByCode(ctx context.Context, code string) (*User, error)

	// AreFriends reports whether the friendship edge a->b exists. The relation
	// is symmetric; both edges are written together on accept.
	AreFriends(ctx context.Context, a, b string) (bool, error)
	ListFriends(ctx context.Context, id string) ([]*User, error)

	CreateFriendRequest(ctx context.Context, r *FriendRequest) error
	GetFriendRequest(ctx context.Context, id string) (*FriendRequest, error)
	// ListPendingRequests returns pending requests addressed to `to`,
	// newest first.
	ListPendingRequests(ctx context.Context, to string) ([]*FriendRequest, error)
	// FindRequestForPair returns the newest request between the two users in
	// either direction, or ErrNotFound.
	FindRequestForPair(ctx context.Context, a, b string) (*FriendRequest, error)
	// ResolveFriendRequest flips a pending request to the given terminal
	// status. When the status is StatusAccepted it also records both
	// friendship edges in the same transaction.
	ResolveFriendRequest(ctx context.Context, id, status string) error

	SaveMessage(ctx context.Context, m *Message) error
	// ListMessages returns every message between a and b, oldest first.
	ListMessages(ctx context.Context, a, b string) ([]*Message, error)
	// MaxSeq returns the highest assigned message sequence number.
	MaxSeq(ctx context.Context) (int64, error)
}
