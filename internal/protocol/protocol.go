// Package protocol defines the wire format shared by the server and its
// clients: one JSON envelope per message, discriminated by Kind, with
// kind-specific fields left zero when unused.
package protocol

import "fmt"

// SystemID is the sender id used for server-originated messages.
const SystemID int64 = -1

type Kind string

const (
	// Client -> Server
	KindClientConnect Kind = "CLIENT_CONNECT" // Name: desired display name
	KindRoomCreate    Kind = "ROOM_CREATE"    // Room: room to create-or-join
	KindRoomJoin      Kind = "ROOM_JOIN"      // Room: room to join (S->C: join notice)
	KindRoomLeave     Kind = "ROOM_LEAVE"     // back to the lobby (S->C: leave notice)
	KindReady         Kind = "READY"          // opt into the next round
	KindChoicePicked  Kind = "CHOICE_PICKED"  // Text: move code r|p|s|l|k
	KindPoints        Kind = "POINTS"         // request a score sync

	// Server -> Client
	KindClientID     Kind = "CLIENT_ID"     // ClientID + Name: assigned identity
	KindSyncClient   Kind = "SYNC_CLIENT"   // existing member snapshot entry on join
	KindRoomList     Kind = "ROOM_LIST"     // Rooms: current room names
	KindRoundStart   Kind = "ROUND_START"   // Text: round narration
	KindPickedNotice Kind = "PICKED_NOTICE" // Text: content-free pick notice
	KindBattleResult Kind = "BATTLE_RESULT" // Text: one ring battle outcome
	KindGameOver     Kind = "GAME_OVER"     // Text: winner/tie + final scores
	KindPointsSync   Kind = "POINTS_SYNC"   // TargetID + Points: leaderboard entry

	// Both directions
	KindMessage    Kind = "MESSAGE" // Text: chat line or /command
	KindReverse    Kind = "REVERSE" // Text: reversed-echo utility
	KindDisconnect Kind = "DISCONNECT"
)

// Payload is the single envelope type for every message on the wire.
type Payload struct {
	Kind     Kind     `json:"kind"`
	ClientID int64    `json:"client_id"`
	Text     string   `json:"text,omitempty"`
	Name     string   `json:"name,omitempty"`
	Room     string   `json:"room,omitempty"`
	TargetID int64    `json:"target_id"`
	Points   int      `json:"points"`
	Rooms    []string `json:"rooms,omitempty"`
}

// System builds a server-originated message payload.
func System(text string) Payload {
	return Payload{Kind: KindMessage, ClientID: SystemID, Text: text}
}

// DisplayName renders the canonical display form for a client: "name#id",
// or "#id" while the name is still empty.
func DisplayName(id int64, name string) string {
	if name == "" {
		return fmt.Sprintf("#%d", id)
	}
	return fmt.Sprintf("%s#%d", name, id)
}
