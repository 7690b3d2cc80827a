package ws

import (
	"github.com/golang/glog"

	"github.com/pigeonhole-chat/pigeonhole/store"
)

// Router delivers domain events to a target user's live connections. It
// implements chat.Router.
//
// Delivery is fan-out to every bound handle; each handle is independent, one
// slow or closing handle never affects the others. An unreachable target is a
// routing outcome, not an error: the event is dropped and catch-up happens
// through the persisted read paths. Within one directed sender/receiver pair,
// events are enqueued in routing order and each handle drains its queue with
// a single loop, so wire order matches routing order.
type Router struct {
	registry *Registry
}

func NewRouter(registry *Registry) *Router {
	return &Router{registry: registry}
}

func (r *Router) route(target, kind string, msg *ServerMsg) bool {
	handles := r.registry.HandlesFor(target)
	if len(handles) == 0 {
		glog.V(5).Infof("route: target %s offline, %s event dropped", target, kind)
		droppedEvents.WithLabelValues(kind).Inc()
		return false
	}
	for _, h := range handles {
		h.appendDataChan(&SessionData{ServerMsg: msg})
	}
	routedEvents.WithLabelValues(kind).Inc()
	return true
}

func (r *Router) RouteMessage(target string, m *store.Message) bool {
	return r.route(target, "message", &ServerMsg{Message: m})
}

func (r *Router) RouteFriendRequest(target string, req *store.FriendRequest) bool {
	return r.route(target, "friend_request", &ServerMsg{
		FriendRequest: &FriendRequestEvent{Request: req},
	})
}

func (r *Router) RouteFriendResponse(target, action string, req *store.FriendRequest) bool {
	return r.route(target, "friend_response", &ServerMsg{
		FriendResponse: &FriendResponseEvent{Action: action, Request: req},
	})
}
