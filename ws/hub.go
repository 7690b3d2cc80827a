package ws

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/pigeonhole-chat/pigeonhole/auth"
	"github.com/pigeonhole-chat/pigeonhole/chat"
)

// Hub accepts websocket connections, binds them in the Registry and keeps the
// presence view of all peers current.
type Hub struct {
	registry   *Registry
	authClient auth.Client
	messages   *chat.Messages

	enableClientSend bool
}

// NewHub creates a `Hub` over an existing registry. `messages` backs the
// optional client-initiated send path; pass enableClientSend=false to keep
// the socket push-only.
func NewHub(authClient auth.Client, registry *Registry, messages *chat.Messages, enableClientSend bool) *Hub {
	return &Hub{
		registry:         registry,
		authClient:       authClient,
		messages:         messages,
		enableClientSend: enableClientSend,
	}
}

// ServeHTTP handles websocket requests from the peer.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	uid, err := h.authClient.Auth(r)
	if err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sess := &Session{
		UID:        uid,
		SID:        strings.ReplaceAll(uuid.New(), "-", ""),
		CreateTime: time.Now().Unix(),
		IP:         getRemoteIP(r),
	}

	// If the upgrade fails, then Upgrade replies to the client with an HTTP
	// error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, uid: %s, err: %s", uid, err)
		return
	}

	handler := &Handler{
		dataChan: make(chan *SessionData, 16),
		session:  sess,
		conn:     conn,
		hub:      h,
	}

	conn.SetCloseHandler(func(code int, text string) error {
		glog.V(5).Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		h.unbind(sess.SID)
		return nil
	})

	h.bind(handler)

	go handler.recvLoop()
	go handler.sendLoop()

	// The first frame a client sees is the current presence snapshot, so a
	// reconnect self-corrects any missed update.
	handler.appendDataChan(&SessionData{ServerMsg: &ServerMsg{
		Presence: &PresenceSnapshot{UserIDs: h.registry.OnlineUsers()},
	}})
}

func (h *Hub) bind(handler *Handler) {
	if h.registry.Bind(handler) {
		glog.V(5).Infof("user online: %s", handler.session.UID)
		h.broadcastPresence()
	}
}

func (h *Hub) unbind(sid string) {
	existed, wentOffline := h.registry.Unbind(sid)
	if existed && wentOffline {
		h.broadcastPresence()
	}
}

// broadcastPresence pushes the full online set to every bound connection.
// Fire and forget: a handle that cannot take the update just misses it.
func (h *Hub) broadcastPresence() {
	snapshot := &PresenceSnapshot{UserIDs: h.registry.OnlineUsers()}
	for _, handler := range h.registry.allHandlers() {
		handler.appendDataChan(&SessionData{ServerMsg: &ServerMsg{Presence: snapshot}})
	}
}

// Close tears down every live session, for server shutdown.
func (h *Hub) Close() {
	glog.Infof("close connections ...")
	for _, handler := range h.registry.allHandlers() {
		handler.close(ServerStop)
		h.registry.Unbind(handler.session.SID)
	}
	glog.Infof("close connections done")
}

func getRemoteIP(r *http.Request) string {
	ip := r.Header.Get("X-REAL-IP")
	if ip == "" {
		if ips := r.Header.Get("X-FORWARDED-FOR"); ips != "" {
			slice := strings.Split(ips, ",")
			for _, x := range slice {
				if x != "" {
					ip = x
				}
			}
		}
	}
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	}

	return ip
}
