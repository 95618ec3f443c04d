// Package room implements the chat room and game room actors. Each room
// runs one goroutine over a typed message inbox; that loop is the only
// place the room's state is touched, so rooms never contend with each
// other and every mutation is serialized per room.
package room

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/battlechat/battlechat-server/internal/protocol"
)

// LobbyName is the distinguished room every client starts in. It always
// exists and is never destroyed.
const LobbyName = "lobby"

type Kind string

const (
	KindChat Kind = "chat"
	KindGame Kind = "game"
)

// Handle is what the registry and connection handlers hold on a room.
type Handle interface {
	Name() string
	Kind() Kind
	Inbox() chan<- Msg
}

// Room is the base actor: membership, chat, broadcast. GameRoom embeds it.
type Room struct {
	name    string
	kind    Kind
	inbox   chan Msg
	members map[int64]Client
	order   []int64 // join order; the ring order for battle resolution
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
}

func newBase(parent context.Context, name string, kind Kind, log *zap.Logger) *Room {
	ctx, cancel := context.WithCancel(parent)
	return &Room{
		name:    name,
		kind:    kind,
		inbox:   make(chan Msg, 64),
		members: make(map[int64]Client),
		log:     log.With(zap.String("room", name)),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// New creates a plain chat room and starts its loop.
func New(parent context.Context, name string, log *zap.Logger) *Room {
	r := newBase(parent, name, KindChat, log)
	go r.run(r.handle)
	return r
}

func (r *Room) Name() string      { return r.name }
func (r *Room) Kind() Kind        { return r.kind }
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) run(handle func(Msg)) {
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return
		case m := <-r.inbox:
			if _, ok := m.(Shutdown); ok {
				r.shutdown()
				return
			}
			handle(m)
		}
	}
}

// handle is the chat-room dispatch. Game messages never reach a chat room
// because the connection handler rejects them first; anything unexpected
// is just logged.
func (r *Room) handle(m Msg) {
	if !r.handleBase(m) {
		r.log.Warn("unexpected message for chat room", zap.Any("msg", m))
	}
}

// handleBase covers the operations every room type shares. Returns false
// when the message is not a base message.
func (r *Room) handleBase(m Msg) bool {
	switch msg := m.(type) {
	case Join:
		r.handleJoin(msg)
	case Leave:
		r.handleLeave(msg.ClientID, protocol.KindRoomLeave)
	case Disconnect:
		r.handleLeave(msg.ClientID, protocol.KindDisconnect)
	case Chat:
		r.broadcast(protocol.Payload{
			Kind:     protocol.KindMessage,
			ClientID: msg.SenderID,
			Text:     msg.Text,
		})
	case Reverse:
		r.broadcast(protocol.Payload{
			Kind:     protocol.KindReverse,
			ClientID: msg.SenderID,
			Text:     reverse(msg.Text),
		})
	case GetMembers:
		views := make([]MemberView, 0, len(r.order))
		for _, id := range r.order {
			views = append(views, MemberView{ID: id, Name: r.members[id].Name})
		}
		msg.Reply <- views
	default:
		return false
	}
	return true
}

func (r *Room) handleJoin(msg Join) {
	id := msg.Client.ID
	if _, ok := r.members[id]; ok {
		msg.Reply <- fmt.Errorf("client %d already in room %q", id, r.name)
		return
	}
	r.members[id] = msg.Client
	r.order = append(r.order, id)
	msg.Reply <- nil

	r.log.Info("client joined", zap.Int64("client_id", id))

	// Everyone (joiner included) sees the join notice; the joiner also
	// gets a SYNC_CLIENT entry per existing member so all views converge.
	r.broadcast(protocol.Payload{
		Kind:     protocol.KindRoomJoin,
		ClientID: id,
		Name:     msg.Client.Name,
		Room:     r.name,
	})
	for _, mid := range append([]int64(nil), r.order...) {
		if mid == id {
			continue
		}
		m, ok := r.members[mid]
		if !ok {
			continue
		}
		r.send(id, protocol.Payload{
			Kind:     protocol.KindSyncClient,
			ClientID: mid,
			Name:     m.Name,
			Room:     r.name,
		})
	}
}

func (r *Room) handleLeave(id int64, kind protocol.Kind) {
	client, ok := r.members[id]
	if !ok {
		return
	}
	delete(r.members, id)
	for i, mid := range r.order {
		if mid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Info("client left", zap.Int64("client_id", id), zap.String("kind", string(kind)))
	r.broadcast(protocol.Payload{
		Kind:     kind,
		ClientID: id,
		Name:     client.Name,
		Room:     r.name,
	})
}

// broadcast sends to every member. A member whose outbox is full is
// dropped on the spot; its Drop callback asks the connection to tear
// itself down.
func (r *Room) broadcast(p protocol.Payload) {
	for id, c := range r.members {
		select {
		case c.Outbox <- p:
		default:
			r.drop(id)
		}
	}
}

// send delivers to one member only, with the same slow-client policy.
func (r *Room) send(id int64, p protocol.Payload) {
	c, ok := r.members[id]
	if !ok {
		return
	}
	select {
	case c.Outbox <- p:
	default:
		r.drop(id)
	}
}

func (r *Room) drop(id int64) {
	c, ok := r.members[id]
	if !ok {
		return
	}
	r.log.Warn("dropping slow client", zap.Int64("client_id", id))
	delete(r.members, id)
	for i, mid := range r.order {
		if mid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	// The connection owns the outbox and may still be using it, so never
	// close it here; hang the client up instead.
	if c.Drop != nil {
		c.Drop()
	}
}

// sendSystem is the per-client error/notice path: requester only, never
// broadcast.
func (r *Room) sendSystem(id int64, text string) {
	r.send(id, protocol.System(text))
}

func (r *Room) displayName(id int64) string {
	if c, ok := r.members[id]; ok {
		return protocol.DisplayName(id, c.Name)
	}
	return protocol.DisplayName(id, "")
}

func (r *Room) shutdown() {
	for id, c := range r.members {
		delete(r.members, id)
		if c.Drop != nil {
			c.Drop()
		}
	}
	r.order = nil
	r.cancel()
}

func reverse(s string) string {
	runes := []rune(strings.TrimSpace(s))
	for i, j := 0, len(runes)-1; i < j; i, j = i+1, j-1 {
		runes[i], runes[j] = runes[j], runes[i]
	}
	return string(runes)
}
