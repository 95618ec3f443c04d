// Package registry is the session registry: the name -> room map every
// connection handler goes through to create, look up, and list rooms, plus
// the monotonic client id allocator.
package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/battlechat/battlechat-server/internal/room"
)

var (
	// ErrRoomNotFound reports a lookup of a name no room holds.
	ErrRoomNotFound = errors.New("room not found")
	// ErrDuplicateRoom reports a room name already taken by a different
	// room type.
	ErrDuplicateRoom = errors.New("duplicate room")
)

type Msg interface{ isRegistryMsg() }

// Ensure is create-or-join: returns the existing room when name and kind
// match, creates it when absent, and fails with ErrDuplicateRoom when the
// name is taken by a different room type.
type Ensure struct {
	Name  string
	Kind  room.Kind
	Reply chan EnsureReply
}

type EnsureReply struct {
	Room room.Handle
	Err  error
}

// Get looks a room up by name; the reply is nil when no such room exists.
type Get struct {
	Name  string
	Reply chan room.Handle
}

// List replies with every room's name and kind.
type List struct {
	Reply chan []Info
}

type Info struct {
	Name string
	Kind room.Kind
}

type ShutdownAll struct{}

func (Ensure) isRegistryMsg()      {}
func (Get) isRegistryMsg()         {}
func (List) isRegistryMsg()        {}
func (ShutdownAll) isRegistryMsg() {}

// Registry owns the room map. Like each room it is an actor: one
// goroutine, one inbox, so create/lookup never race. Rooms live until
// server shutdown; emptiness does not destroy them.
type Registry struct {
	inbox      chan Msg
	rooms      map[string]room.Handle
	roundTimer time.Duration
	nextID     atomic.Int64
	log        *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
}

// New starts the registry with the lobby already present.
func New(parent context.Context, roundTimer time.Duration, log *zap.Logger) *Registry {
	ctx, cancel := context.WithCancel(parent)
	r := &Registry{
		inbox:      make(chan Msg, 64),
		rooms:      make(map[string]room.Handle),
		roundTimer: roundTimer,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
	}
	r.rooms[room.LobbyName] = room.New(ctx, room.LobbyName, log)
	go r.loop()
	return r
}

func (r *Registry) Inbox() chan<- Msg { return r.inbox }

// NextClientID hands out the next 64-bit client id. Ids start at 1 and are
// never reused for the process lifetime.
func (r *Registry) NextClientID() int64 { return r.nextID.Add(1) }

func (r *Registry) loop() {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Ensure:
				msg.Reply <- r.ensure(msg.Name, msg.Kind)

			case Get:
				msg.Reply <- r.rooms[msg.Name] // may be nil

			case List:
				infos := make([]Info, 0, len(r.rooms))
				for _, rm := range r.rooms {
					infos = append(infos, Info{Name: rm.Name(), Kind: rm.Kind()})
				}
				msg.Reply <- infos

			case ShutdownAll:
				r.shutdown()
				return
			}
		}
	}
}

func (r *Registry) ensure(name string, kind room.Kind) EnsureReply {
	if rm, ok := r.rooms[name]; ok {
		if rm.Kind() != kind {
			return EnsureReply{Err: ErrDuplicateRoom}
		}
		return EnsureReply{Room: rm}
	}

	var rm room.Handle
	switch kind {
	case room.KindGame:
		rm = room.NewGame(r.ctx, name, r.roundTimer, r.log)
	default:
		rm = room.New(r.ctx, name, r.log)
	}
	r.rooms[name] = rm
	r.log.Info("room created", zap.String("room", name), zap.String("kind", string(kind)))
	return EnsureReply{Room: rm}
}

func (r *Registry) shutdown() {
	for name, rm := range r.rooms {
		rm.Inbox() <- room.Shutdown{}
		delete(r.rooms, name)
	}
	r.cancel()
}
