package chat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/pigeonhole-chat/pigeonhole/store"
)

// SendInput is the content of one outgoing message.
type SendInput struct {
	ReceiverID string                 `json:"receiver_id"`
	Text       string                 `json:"text,omitempty"`
	Image      string                 `json:"image,omitempty"`
	File       *store.FileAttachment  `json:"file,omitempty"`
	Audio      *store.AudioAttachment `json:"audio,omitempty"`
}

// Messages is the message delivery path: persist first, then route to the
// receiver's live connections. Durability precedes delivery; a failed or
// skipped live delivery never rolls the write back, history is the source of
// truth.
type Messages struct {
	store  store.Store
	router Router

	// seq breaks creation-timestamp ties so each conversation has a total
	// order. This process owns all writes, so an in-process counter seeded
	// from the store is enough.
	seq atomic.Int64
}

func NewMessages(ctx context.Context, st store.Store, router Router) (*Messages, error) {
	head, err := st.MaxSeq(ctx)
	if err != nil {
		return nil, err
	}
	s := &Messages{store: st, router: router}
	s.seq.Store(head)
	return s, nil
}

// Send persists the message and routes it to the receiver if reachable. The
// persisted message is returned either way; the sender's view never depends
// on the receiver's reachability.
func (s *Messages) Send(ctx context.Context, sender string, in *SendInput) (*store.Message, error) {
	if in.ReceiverID == "" {
		return nil, validationf("receiver id is required")
	}

	msg := &store.Message{
		ID:        uuid.New(),
		Sender:    sender,
		Receiver:  in.ReceiverID,
		Text:      in.Text,
		Image:     in.Image,
		File:      in.File,
		Audio:     in.Audio,
		CreatedAt: time.Now(),
	}
	if !msg.HasContent() {
		return nil, validationf("message needs text or an attachment")
	}

	if _, err := s.store.GetUser(ctx, in.ReceiverID); err != nil {
		if err == store.ErrNotFound {
			return nil, notFoundf("receiver not found")
		}
		return nil, internal(err)
	}

	msg.Seq = s.seq.Add(1)
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, internal(err)
	}

	if !s.router.RouteMessage(in.ReceiverID, msg) {
		glog.V(5).Infof("message %s: receiver %s offline, history is the catch-up path", msg.ID, in.ReceiverID)
	}
	return msg, nil
}

// History returns every message between the two users in creation order,
// regardless of either side's online status at send time. This is the sole
// offline catch-up mechanism.
func (s *Messages) History(ctx context.Context, a, b string) ([]*store.Message, error) {
	out, err := s.store.ListMessages(ctx, a, b)
	if err != nil {
		return nil, internal(err)
	}
	return out, nil
}
