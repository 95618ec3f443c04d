package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/battlechat/battlechat-server/internal/registry"
	"github.com/battlechat/battlechat-server/internal/room"
)

type createRoomRequest struct {
	Name string `json:"name"`
}

type roomInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// CreateRoom creates (or joins by name) a game room ahead of any client
// connecting, mirroring the /create chat command.
func CreateRoom(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request body", http.StatusBadRequest)
			return
		}
		name := strings.ToLower(strings.TrimSpace(req.Name))
		if name == "" {
			http.Error(w, "missing room name", http.StatusBadRequest)
			return
		}

		reply := make(chan registry.EnsureReply, 1)
		reg.Inbox() <- registry.Ensure{Name: name, Kind: room.KindGame, Reply: reply}
		res := <-reply
		if errors.Is(res.Err, registry.ErrDuplicateRoom) {
			http.Error(w, "room name taken by a different room type", http.StatusConflict)
			return
		}
		if res.Err != nil || res.Room == nil {
			http.Error(w, "failed to create room", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(roomInfo{Name: res.Room.Name(), Kind: string(res.Room.Kind())})
	}
}

// ListRooms reports every room's name and kind.
func ListRooms(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []registry.Info, 1)
		reg.Inbox() <- registry.List{Reply: reply}
		infos := <-reply

		out := make([]roomInfo, 0, len(infos))
		for _, info := range infos {
			out = append(out, roomInfo{Name: info.Name, Kind: string(info.Kind)})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
