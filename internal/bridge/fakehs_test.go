package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// fakeHS is a minimal in-memory homeserver covering the client-server
// endpoints the bridge touches: registration, alias lookup, room creation,
// joins, profiles, power levels, media upload and message sends.
type fakeHS struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	registered map[string]bool
	aliases    map[string]id.RoomID
	rooms      map[id.RoomID]*fakeRoom
	names      map[id.UserID]string
	avatars    map[id.UserID]string
	nextRoom   int

	failRegister bool
	failJoin     bool
}

type fakeRoom struct {
	name     string
	topic    string
	joined   map[id.UserID]bool
	power    *event.PowerLevelsEventContent
	messages []fakeMessage
}

type fakeMessage struct {
	sender  id.UserID
	msgtype string
	body    string
}

func newFakeHS(t *testing.T) *fakeHS {
	hs := &fakeHS{
		t:          t,
		registered: make(map[string]bool),
		aliases:    make(map[string]id.RoomID),
		rooms:      make(map[id.RoomID]*fakeRoom),
		names:      make(map[id.UserID]string),
		avatars:    make(map[id.UserID]string),
	}
	hs.srv = httptest.NewServer(http.HandlerFunc(hs.handle))
	t.Cleanup(hs.srv.Close)
	return hs
}

func (hs *fakeHS) URL() string {
	return hs.srv.URL
}

func (hs *fakeHS) requester(r *http.Request) id.UserID {
	if uid := r.URL.Query().Get("user_id"); uid != "" {
		return id.UserID(uid)
	}
	return "@opensim_bot:test"
}

func (hs *fakeHS) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (hs *fakeHS) handle(w http.ResponseWriter, r *http.Request) {
	hs.mu.Lock()
	defer hs.mu.Unlock()

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/_matrix/client/v3/register":
		hs.handleRegister(w, r)
	case strings.HasPrefix(path, "/_matrix/client/v3/directory/room/"):
		hs.handleResolveAlias(w, strings.TrimPrefix(path, "/_matrix/client/v3/directory/room/"))
	case path == "/_matrix/client/v3/createRoom":
		hs.handleCreateRoom(w, r)
	case strings.HasPrefix(path, "/_matrix/client/v3/profile/"):
		hs.handleProfile(w, r, strings.TrimPrefix(path, "/_matrix/client/v3/profile/"))
	case path == "/_matrix/media/v3/upload":
		hs.respond(w, http.StatusOK, map[string]string{"content_uri": "mxc://test/fakemedia"})
	case strings.HasPrefix(path, "/_matrix/client/v3/rooms/"):
		hs.handleRoom(w, r, strings.TrimPrefix(path, "/_matrix/client/v3/rooms/"))
	default:
		hs.respond(w, http.StatusNotFound, map[string]string{"errcode": "M_UNRECOGNIZED"})
	}
}

func (hs *fakeHS) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	if hs.failRegister {
		hs.respond(w, http.StatusInternalServerError, map[string]string{"errcode": "M_UNKNOWN"})
		return
	}
	if hs.registered[req.Username] {
		hs.respond(w, http.StatusBadRequest, map[string]string{"errcode": "M_USER_IN_USE"})
		return
	}
	hs.registered[req.Username] = true
	hs.respond(w, http.StatusOK, map[string]string{"user_id": "@" + req.Username + ":test"})
}

func (hs *fakeHS) handleResolveAlias(w http.ResponseWriter, alias string) {
	roomID, ok := hs.aliases[alias]
	if !ok {
		hs.respond(w, http.StatusNotFound, map[string]string{"errcode": "M_NOT_FOUND"})
		return
	}
	hs.respond(w, http.StatusOK, map[string]any{"room_id": roomID, "servers": []string{"test"}})
}

func (hs *fakeHS) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomAliasName string `json:"room_alias_name"`
		Name          string `json:"name"`
		Topic         string `json:"topic"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	hs.nextRoom++
	roomID := id.RoomID(fmt.Sprintf("!room%d:test", hs.nextRoom))
	room := &fakeRoom{
		name:   req.Name,
		topic:  req.Topic,
		joined: map[id.UserID]bool{hs.requester(r): true},
	}
	hs.rooms[roomID] = room
	if req.RoomAliasName != "" {
		hs.aliases["#"+req.RoomAliasName+":test"] = roomID
	}
	hs.respond(w, http.StatusOK, map[string]string{"room_id": roomID.String()})
}

func (hs *fakeHS) handleProfile(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	userID := id.UserID(parts[0])
	if r.Method == http.MethodGet {
		hs.respond(w, http.StatusOK, map[string]string{
			"displayname": hs.names[userID],
			"avatar_url":  hs.avatars[userID],
		})
		return
	}
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)
	switch parts[1] {
	case "displayname":
		hs.names[userID] = body["displayname"]
	case "avatar_url":
		hs.avatars[userID] = body["avatar_url"]
	}
	hs.respond(w, http.StatusOK, struct{}{})
}

func (hs *fakeHS) handleRoom(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	roomID := id.RoomID(parts[0])
	room, ok := hs.rooms[roomID]
	if !ok {
		hs.respond(w, http.StatusNotFound, map[string]string{"errcode": "M_NOT_FOUND"})
		return
	}
	switch {
	case len(parts) == 2 && parts[1] == "join":
		if hs.failJoin {
			hs.respond(w, http.StatusForbidden, map[string]string{"errcode": "M_FORBIDDEN"})
			return
		}
		room.joined[hs.requester(r)] = true
		hs.respond(w, http.StatusOK, map[string]string{"room_id": roomID.String()})
	case len(parts) >= 3 && parts[1] == "state" && parts[2] == event.StatePowerLevels.Type:
		if r.Method == http.MethodGet {
			if room.power == nil {
				hs.respond(w, http.StatusOK, struct{}{})
				return
			}
			hs.respond(w, http.StatusOK, room.power)
			return
		}
		var pl event.PowerLevelsEventContent
		_ = json.NewDecoder(r.Body).Decode(&pl)
		room.power = &pl
		hs.respond(w, http.StatusOK, map[string]string{"event_id": "$state:test"})
	case len(parts) == 4 && parts[1] == "send" && parts[2] == event.EventMessage.Type:
		var content struct {
			MsgType string `json:"msgtype"`
			Body    string `json:"body"`
		}
		_ = json.NewDecoder(r.Body).Decode(&content)
		room.messages = append(room.messages, fakeMessage{
			sender:  hs.requester(r),
			msgtype: content.MsgType,
			body:    content.Body,
		})
		hs.respond(w, http.StatusOK, map[string]string{"event_id": fmt.Sprintf("$msg%d:test", len(room.messages))})
	default:
		hs.respond(w, http.StatusNotFound, map[string]string{"errcode": "M_UNRECOGNIZED"})
	}
}

func (hs *fakeHS) room(roomID id.RoomID) *fakeRoom {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.rooms[roomID]
}

func (hs *fakeHS) roomByAlias(alias string) (id.RoomID, *fakeRoom) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	roomID, ok := hs.aliases[alias]
	if !ok {
		return "", nil
	}
	return roomID, hs.rooms[roomID]
}

// addRoom seeds a pre-existing room, as if left behind by an earlier enable.
func (hs *fakeHS) addRoom(alias string) id.RoomID {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.nextRoom++
	roomID := id.RoomID(fmt.Sprintf("!room%d:test", hs.nextRoom))
	hs.rooms[roomID] = &fakeRoom{joined: make(map[id.UserID]bool)}
	if alias != "" {
		hs.aliases[alias] = roomID
	}
	return roomID
}

func (hs *fakeHS) isRegistered(localpart string) bool {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.registered[localpart]
}

func (hs *fakeHS) displayName(userID id.UserID) string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.names[userID]
}

func (hs *fakeHS) avatarURL(userID id.UserID) string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	return hs.avatars[userID]
}
