package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/pigeonhole-chat/pigeonhole/chat"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read.
	readLimit = 65536
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The node sits behind a reverse proxy that enforces origin.
		return true
	},
}

// Session identifies one live connection binding.
type Session struct {
	UID        string `json:"uid"`
	SID        string `json:"sid"`
	CreateTime int64  `json:"create_time"`
	IP         string `json:"ip"`
}

// Handler manages one live connection to an end user. Every websocket
// connection gets its own session and its own pair of loops. The single
// sendLoop draining dataChan is what gives FIFO delivery per connection, and
// it is the only goroutine that ever writes the connection.
type Handler struct {
	sync.Mutex

	hub *Hub

	session *Session
	conn    *websocket.Conn

	dataChan chan *SessionData

	closing bool
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	ServerMsg *ServerMsg `json:"resp,omitempty"`
}

func (h *Handler) String() string {
	out, _ := json.Marshal(h.session)
	return string(out)
}

// close marks the handler closed and removes its binding. Safe to call from
// any goroutine; only the first call acts. It never touches the connection:
// sendLoop owns all writes and finishes the wire-level shutdown once the
// closed channel drains.
func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true
	close(h.dataChan)
	h.Unlock()

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		h.hub.unbind(h.session.SID)
	}
}

// appendDataChan enqueues one outbound item without ever blocking the
// caller. Delivery to a closing handle, or to one whose queue is full, is a
// failed delivery and is never retried.
func (h *Handler) appendDataChan(v *SessionData) bool {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return false
	}
	select {
	case h.dataChan <- v:
		return true
	default:
		return false
	}
}

func sendServerMsg(conn *websocket.Conn, msg *ServerMsg) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h.String()) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("recvLoop(): read error: %v", err)
			h.close(ReadError)
			return
		}

		glog.V(5).Infof("recvLoop(): incoming client message: %v", string(msg))

		if msgType != websocket.TextMessage {
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
				Error: newInvalidArgumentError("websocket only supports TextMessage"),
			}})
			h.close(BadRequest)
			return
		}

		req := ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
				Error: newInvalidArgumentError(fmt.Sprintf("unmarshal error: %v", err)),
			}})
			h.close(BadRequest)
			return
		}

		if v := req.Send; v != nil {
			h.handleSend(v)
		} else {
			h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
				Error: newInvalidArgumentError("unsupported request"),
			}})
			h.close(BadRequest)
			return
		}
	}
}

func (h *Handler) handleSend(v *SendReq) {
	if !h.hub.enableClientSend {
		h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
			Error: newInvalidArgumentError("feature is not supported"),
		}})
		return
	}

	msg, err := h.hub.messages.Send(context.Background(), h.session.UID, &chat.SendInput{
		ReceiverID: v.ReceiverID,
		Text:       v.Text,
		Image:      v.Image,
		File:       v.File,
		Audio:      v.Audio,
	})
	if err != nil {
		glog.Errorf("recvLoop(): Send error: %+v, session: %s", err, h.String())
		h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Error: toErrorMsg(err)}})
		return
	}
	h.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Ack: msg}})
}

func toErrorMsg(err error) *ErrorMsg {
	if e, ok := err.(*chat.Error); ok && e.Kind != chat.KindInternal {
		return newInvalidArgumentError(e.Message)
	}
	return newInternalError()
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h.String())
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok {
				// Closed and drained: the single writer sends the close frame
				// and releases the connection, which also unblocks recvLoop.
				h.conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
				h.conn.Close()
				return
			}

			if err := sendServerMsg(h.conn, v.ServerMsg); err != nil {
				glog.Errorf("sendLoop(): error write message, session: %s, err: %v", h.String(), err)
				h.close(WriteError)
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.V(5).Infof("sendLoop(): error write ping message, session: %s, err: %v", h, err)
				h.close(PingError)
			}
		}
	}
}
