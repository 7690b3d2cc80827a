// Package rest exposes the request/response operations of the chat core as a
// small JSON HTTP surface.
package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang/glog"

	"github.com/pigeonhole-chat/pigeonhole/auth"
	"github.com/pigeonhole-chat/pigeonhole/chat"
)

type Server struct {
	authClient auth.Client
	friends    *chat.Friends
	messages   *chat.Messages
}

func NewServer(authClient auth.Client, friends *chat.Friends, messages *chat.Messages) *Server {
	return &Server{
		authClient: authClient,
		friends:    friends,
		messages:   messages,
	}
}

// Register mounts all routes on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/messages/", s.handleMessages)
	mux.HandleFunc("/api/friends", s.handleListFriends)
	mux.HandleFunc("/api/friends/", s.handleFriends)
}

// POST /api/messages/send/{userID}
// GET  /api/messages/{userID}
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authed(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/messages/")
	if rest == "" {
		http.NotFound(w, r)
		return
	}
	if peer, found := strings.CutPrefix(rest, "send/"); found {
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var in chat.SendInput
		if !decodeBody(w, r, &in) {
			return
		}
		in.ReceiverID = peer
		msg, err := s.messages.Send(r.Context(), actor, &in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
		return
	}

	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	msgs, err := s.messages.History(r.Context(), actor, rest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// GET /api/friends
func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authed(w, r)
	if !ok {
		return
	}
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	friends, err := s.friends.ListFriends(r.Context(), actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, friends)
}

// POST /api/friends/request                  {"user_id": ...}
// GET  /api/friends/requests
// POST /api/friends/requests/{id}/respond    {"action": "accept"|"reject"}
// GET  /api/friends/search?code=...
func (s *Server) handleFriends(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.authed(w, r)
	if !ok {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/friends/")
	switch {
	case rest == "request":
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		var in struct {
			UserID string `json:"user_id"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		req, err := s.friends.Send(r.Context(), actor, in.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, req)

	case rest == "requests":
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		reqs, err := s.friends.ListPending(r.Context(), actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, reqs)

	case strings.HasPrefix(rest, "requests/") && strings.HasSuffix(rest, "/respond"):
		if !requireMethod(w, r, http.MethodPost) {
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(rest, "requests/"), "/respond")
		var in struct {
			Action string `json:"action"`
		}
		if !decodeBody(w, r, &in) {
			return
		}
		req, err := s.friends.Respond(r.Context(), id, actor, in.Action)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"action":  in.Action,
			"request": req,
		})

	case rest == "search":
		if !requireMethod(w, r, http.MethodGet) {
			return
		}
		res, err := s.friends.Search(r.Context(), actor, r.URL.Query().Get("code"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) authed(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid, err := s.authClient.Auth(r)
	if err != nil {
		glog.V(5).Infof("authenticate error: %v", err)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
		return "", false
	}
	return uid, true
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"message": "method not allowed"})
		return false
	}
	return true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid body"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	e, ok := err.(*chat.Error)
	if !ok {
		e = &chat.Error{Kind: chat.KindInternal, Message: err.Error()}
	}

	var code int
	msg := e.Message
	switch e.Kind {
	case chat.KindValidation:
		code = http.StatusBadRequest
	case chat.KindNotFound:
		code = http.StatusNotFound
	case chat.KindForbidden:
		code = http.StatusForbidden
	case chat.KindConflict:
		code = http.StatusConflict
	default:
		// Storage details are logged here and never surfaced.
		glog.Errorf("internal error: %s", e.Message)
		code = http.StatusInternalServerError
		msg = "internal server error"
	}
	writeJSON(w, code, map[string]string{"message": msg})
}
