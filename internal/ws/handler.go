// Package ws owns one connection handler per client: the websocket reader
// loop, a writer goroutine draining the client's outbox, and the dispatch
// from wire payloads to room and registry operations.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/battlechat/battlechat-server/internal/protocol"
	"github.com/battlechat/battlechat-server/internal/registry"
	"github.com/battlechat/battlechat-server/internal/room"
)

const (
	outboxSize   = 32
	writeTimeout = 3 * time.Second
)

type session struct {
	id      int64
	name    string
	out     chan protocol.Payload
	hangup  context.CancelFunc // handed to rooms so they can drop us
	current room.Handle        // nil until CLIENT_CONNECT joins the lobby
	reg     *registry.Registry
	log     *zap.Logger
}

// Handler accepts one websocket per client and runs its session to
// completion. Any read failure or undecodable payload is a disconnect,
// never a crash.
func Handler(reg *registry.Registry, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		s := &session{
			id:  reg.NextClientID(),
			out: make(chan protocol.Payload, outboxSize),
			reg: reg,
		}
		s.log = log.With(zap.Int64("client_id", s.id))
		s.log.Info("client connected")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		s.hangup = cancel

		// Writer goroutine: the only place this connection is written to,
		// so concurrent broadcasts can never interleave partial writes.
		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case p := <-s.out:
					data, err := json.Marshal(p)
					if err != nil {
						continue
					}
					wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
					err = conn.Write(wctx, websocket.MessageText, data)
					wcancel()
					if err != nil {
						return
					}
				}
			}
		}()

		defer func() {
			if s.current != nil {
				s.current.Inbox() <- room.Disconnect{ClientID: s.id}
			}
			s.log.Info("client disconnected")
		}()

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					s.log.Debug("read failed", zap.Error(err))
				}
				return
			}

			var p protocol.Payload
			if err := json.Unmarshal(data, &p); err != nil {
				// Malformed data is a protocol error; treat as disconnect.
				s.log.Warn("malformed payload", zap.Error(err))
				return
			}

			if !s.dispatch(p) {
				return
			}
		}
	}
}

// dispatch routes one incoming payload. Returns false when the session
// should end.
func (s *session) dispatch(p protocol.Payload) bool {
	if s.current == nil && p.Kind != protocol.KindClientConnect {
		s.system("Send CLIENT_CONNECT with your display name first.")
		return p.Kind != protocol.KindDisconnect
	}

	switch p.Kind {
	case protocol.KindClientConnect:
		s.name = strings.TrimSpace(p.Name)
		if s.current == nil {
			if !s.joinRoom(room.LobbyName) {
				return false
			}
			// First successful join: tell the client who it is.
			s.send(protocol.Payload{
				Kind:     protocol.KindClientID,
				ClientID: s.id,
				Name:     s.name,
			})
		}

	case protocol.KindMessage:
		if strings.HasPrefix(p.Text, "/") {
			s.runCommand(p.Text)
			break
		}
		s.current.Inbox() <- room.Chat{SenderID: s.id, Text: p.Text}

	case protocol.KindReverse:
		s.current.Inbox() <- room.Reverse{SenderID: s.id, Text: p.Text}

	case protocol.KindRoomCreate:
		s.createAndJoin(normalizeRoom(p.Room))

	case protocol.KindRoomJoin:
		s.joinRoom(normalizeRoom(p.Room))

	case protocol.KindRoomLeave:
		s.joinRoom(room.LobbyName)

	case protocol.KindReady:
		if s.requireGameRoom("/ready") {
			s.current.Inbox() <- room.Ready{ClientID: s.id}
		}

	case protocol.KindChoicePicked:
		if s.requireGameRoom("/pick") {
			s.current.Inbox() <- room.Pick{ClientID: s.id, Code: p.Text}
		}

	case protocol.KindPoints:
		if s.requireGameRoom("/points") {
			s.current.Inbox() <- room.ScoreRequest{ClientID: s.id}
		}

	case protocol.KindDisconnect:
		return false

	default:
		s.system(fmt.Sprintf("Unknown payload kind %q", p.Kind))
	}
	return true
}

func (s *session) runCommand(text string) {
	cmd, err := parseCommand(text)
	if err != nil {
		s.system(err.Error())
		return
	}

	switch cmd.kind {
	case cmdReady:
		if s.requireGameRoom("/ready") {
			s.current.Inbox() <- room.Ready{ClientID: s.id}
		}
	case cmdPick:
		if s.requireGameRoom("/pick") {
			s.current.Inbox() <- room.Pick{ClientID: s.id, Code: cmd.arg}
		}
	case cmdAway:
		if s.requireGameRoom("/away") {
			s.current.Inbox() <- room.SetAway{ClientID: s.id, Away: true}
		}
	case cmdBack:
		if s.requireGameRoom("/back") {
			s.current.Inbox() <- room.SetAway{ClientID: s.id, Away: false}
		}
	case cmdSpectate:
		s.spectate(cmd.arg)
	case cmdPlay:
		if s.requireGameRoom("/play") {
			s.current.Inbox() <- room.Play{ClientID: s.id}
		}
	case cmdCreate:
		s.createAndJoin(cmd.arg)
	case cmdJoin:
		s.joinRoom(cmd.arg)
	case cmdLeave:
		s.joinRoom(room.LobbyName)
	case cmdRooms:
		s.listRooms()
	case cmdReverse:
		s.current.Inbox() <- room.Reverse{SenderID: s.id, Text: cmd.arg}
	}
}

// createAndJoin is create-or-join with the designated game room type.
func (s *session) createAndJoin(name string) {
	if name == "" {
		s.system("Missing room name.")
		return
	}
	reply := make(chan registry.EnsureReply, 1)
	s.reg.Inbox() <- registry.Ensure{Name: name, Kind: room.KindGame, Reply: reply}
	res := <-reply
	if errors.Is(res.Err, registry.ErrDuplicateRoom) {
		s.system(fmt.Sprintf("Room %q is already taken by a different room type.", name))
		return
	}
	if res.Err != nil || res.Room == nil {
		s.system(fmt.Sprintf("Could not create room %q.", name))
		return
	}
	s.switchTo(res.Room)
}

func (s *session) joinRoom(name string) bool {
	if name == "" {
		s.system("Missing room name.")
		return false
	}
	target, err := s.lookup(name)
	if err != nil {
		s.log.Debug("join lookup failed", zap.Error(err))
		s.system(fmt.Sprintf("Room %q not found.", name))
		return false
	}
	return s.switchTo(target)
}

// spectate joins the named game room and opts in as a spectator.
func (s *session) spectate(name string) {
	target, err := s.lookup(name)
	if err != nil {
		s.log.Debug("spectate lookup failed", zap.Error(err))
		s.system(fmt.Sprintf("Room %q not found.", name))
		return
	}
	if target.Kind() != room.KindGame {
		s.system(fmt.Sprintf("Room %q is not a game room.", name))
		return
	}
	// Spectating the current room is an in-place status change, no
	// leave/join cycle.
	if s.current == target || s.switchTo(target) {
		s.current.Inbox() <- room.Spectate{ClientID: s.id}
	}
}

// switchTo is the leave-then-join transition: the old room's loop removes
// us before the new room's loop adds us, so no broadcast ever sees the
// client in zero or two rooms.
func (s *session) switchTo(target room.Handle) bool {
	if s.current != nil && s.current == target {
		s.system(fmt.Sprintf("You are already in room %q.", target.Name()))
		return false
	}
	if s.current != nil {
		s.current.Inbox() <- room.Leave{ClientID: s.id}
	}

	reply := make(chan error, 1)
	target.Inbox() <- room.Join{
		Client: room.Client{ID: s.id, Name: s.name, Outbox: s.out, Drop: s.hangup},
		Reply:  reply,
	}
	if err := <-reply; err != nil {
		s.log.Warn("join failed", zap.String("room", target.Name()), zap.Error(err))
		s.system(fmt.Sprintf("Could not join room %q.", target.Name()))
		s.current = nil
		if target.Name() != room.LobbyName {
			return s.joinRoom(room.LobbyName)
		}
		return false
	}
	s.current = target
	return true
}

// lookup resolves a room name, failing with ErrRoomNotFound on a miss.
func (s *session) lookup(name string) (room.Handle, error) {
	reply := make(chan room.Handle, 1)
	s.reg.Inbox() <- registry.Get{Name: name, Reply: reply}
	if h := <-reply; h != nil {
		return h, nil
	}
	return nil, fmt.Errorf("%w: %q", registry.ErrRoomNotFound, name)
}

func (s *session) listRooms() {
	reply := make(chan []registry.Info, 1)
	s.reg.Inbox() <- registry.List{Reply: reply}
	infos := <-reply
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, fmt.Sprintf("%s (%s)", info.Name, info.Kind))
	}
	sort.Strings(names)
	s.send(protocol.Payload{
		Kind:     protocol.KindRoomList,
		ClientID: protocol.SystemID,
		Rooms:    names,
	})
}

func (s *session) requireGameRoom(cmd string) bool {
	if s.current.Kind() == room.KindGame {
		return true
	}
	s.system(fmt.Sprintf("You must be in a game room to %s", cmd))
	return false
}

// system queues a server notice for this client only. Dropping on a full
// outbox matches the rooms' slow-client policy.
func (s *session) system(text string) {
	s.send(protocol.System(text))
}

func (s *session) send(p protocol.Payload) {
	select {
	case s.out <- p:
	default:
	}
}

func normalizeRoom(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
