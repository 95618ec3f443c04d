package room

import (
	"github.com/battlechat/battlechat-server/internal/game"
	"github.com/battlechat/battlechat-server/internal/protocol"
)

// Client is the room's view of one connected client: identity plus the
// outbox channel its connection handler drains. The outbox is owned by
// the connection, not the room; a room that wants the client gone calls
// Drop, which must be safe to call more than once and from any
// goroutine (the connection's context cancel fits).
type Client struct {
	ID     int64
	Name   string
	Outbox chan protocol.Payload
	Drop   func()
}

type Msg interface{ isRoomMsg() }

// Join registers a client and replies with nil or a join error.
type Join struct {
	Client Client
	Reply  chan error
}

// Leave removes a client when it switches rooms.
type Leave struct{ ClientID int64 }

// Disconnect removes a client whose connection ended.
type Disconnect struct{ ClientID int64 }

// Chat broadcasts a plain chat line from a member.
type Chat struct {
	SenderID int64
	Text     string
}

// Reverse is the reversed-echo chat utility.
type Reverse struct {
	SenderID int64
	Text     string
}

// Ready opts a client into the next round.
type Ready struct{ ClientID int64 }

// Pick submits a move code for the current round.
type Pick struct {
	ClientID int64
	Code     string
}

// SetAway toggles the temporary away state.
type SetAway struct {
	ClientID int64
	Away     bool
}

// Spectate opts a client out of playing for this room.
type Spectate struct{ ClientID int64 }

// Play clears spectator state so the client re-enters as a fresh player.
type Play struct{ ClientID int64 }

// ScoreRequest asks for a points sync to all members.
type ScoreRequest struct{ ClientID int64 }

// GetMembers reflects membership without data races. Test-only.
type GetMembers struct{ Reply chan []MemberView }

// GetGameState reflects game-room state without data races. Test-only.
type GetGameState struct{ Reply chan GameView }

type Shutdown struct{}

// roundExpired is posted by the round timer; Round guards against a stale
// timer ending a later round.
type roundExpired struct{ Round uint64 }

func (Join) isRoomMsg()         {}
func (Leave) isRoomMsg()        {}
func (Disconnect) isRoomMsg()   {}
func (Chat) isRoomMsg()         {}
func (Reverse) isRoomMsg()      {}
func (Ready) isRoomMsg()        {}
func (Pick) isRoomMsg()         {}
func (SetAway) isRoomMsg()      {}
func (Spectate) isRoomMsg()     {}
func (Play) isRoomMsg()         {}
func (ScoreRequest) isRoomMsg() {}
func (GetMembers) isRoomMsg()   {}
func (GetGameState) isRoomMsg() {}
func (Shutdown) isRoomMsg()     {}
func (roundExpired) isRoomMsg() {}

type MemberView struct {
	ID   int64
	Name string
}

// GameView is a copy of a game room's mutable state, for tests.
type GameView struct {
	Phase      Phase
	Round      uint64
	Members    []int64
	Ready      []int64
	Choices    map[int64]game.Move
	Eliminated []int64
	Away       []int64
	Spectators []int64
	Points     map[int64]int
}
