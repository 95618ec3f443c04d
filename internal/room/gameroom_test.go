package room

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/battlechat/battlechat-server/internal/game"
	"github.com/battlechat/battlechat-server/internal/protocol"
)

// long enough that it never fires unless the test wants it to
const neverFires = time.Hour

func newGameRoom(t *testing.T, roundTimer time.Duration) *GameRoom {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewGame(ctx, "battle", roundTimer, zap.NewNop())
}

// gameState doubles as a barrier: the inbox is FIFO, so by the time the
// reply arrives every previously sent message has been handled.
func gameState(t *testing.T, g *GameRoom) GameView {
	t.Helper()
	reply := make(chan GameView, 1)
	g.Inbox() <- GetGameState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for game state")
		return GameView{} // unreachable
	}
}

func TestGameRoom_ReadyThresholdNeedsTwoPlayers(t *testing.T) {
	g := newGameRoom(t, neverFires)
	join(t, g, 1, "alice")

	g.Inbox() <- Ready{ClientID: 1}
	v := gameState(t, g)
	require.Equal(t, PhaseEnded, v.Phase)
	require.Equal(t, []int64{1}, v.Ready)

	// second player arrives; round starts only once everyone is ready
	join(t, g, 2, "bob")
	v = gameState(t, g)
	require.Equal(t, PhaseEnded, v.Phase)

	g.Inbox() <- Ready{ClientID: 2}
	v = gameState(t, g)
	require.Equal(t, PhaseChoosing, v.Phase)
	require.Empty(t, v.Ready, "ready set clears on round start")
	require.Equal(t, uint64(1), v.Round)
}

func TestGameRoom_ReadyDuringRoundIsRejected(t *testing.T) {
	g := newGameRoom(t, neverFires)
	alice := join(t, g, 1, "alice")
	join(t, g, 2, "bob")

	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	v := gameState(t, g)
	require.Equal(t, PhaseChoosing, v.Phase)
	drain(alice)

	g.Inbox() <- Ready{ClientID: 1}
	v = gameState(t, g)
	require.Empty(t, v.Ready, "mid-round readiness must not be recorded")

	p := recvKind(t, alice, time.Second, protocol.KindMessage)
	require.Contains(t, p.Text, "already in progress")
}

func TestGameRoom_RoundStartBroadcast(t *testing.T) {
	g := newGameRoom(t, neverFires)
	alice := join(t, g, 1, "alice")
	bob := join(t, g, 2, "bob")

	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}

	for _, ch := range []chan protocol.Payload{alice, bob} {
		p := recvKind(t, ch, time.Second, protocol.KindRoundStart)
		require.Contains(t, p.Text, "/pick")
	}
}

func TestGameRoom_PickedNoticeNeverRevealsMove(t *testing.T) {
	g := newGameRoom(t, neverFires)
	join(t, g, 1, "alice")
	bob := join(t, g, 2, "bob")
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	drain(bob)

	g.Inbox() <- Pick{ClientID: 1, Code: "r"}

	p := recvKind(t, bob, time.Second, protocol.KindPickedNotice)
	require.Contains(t, p.Text, "picked their choice")
	require.NotContains(t, strings.ToUpper(p.Text), "ROCK")
}

func TestGameRoom_PickOutsideChoosingIsIgnored(t *testing.T) {
	g := newGameRoom(t, neverFires)
	join(t, g, 1, "alice")
	join(t, g, 2, "bob")

	g.Inbox() <- Pick{ClientID: 1, Code: "r"}
	v := gameState(t, g)
	require.Equal(t, PhaseEnded, v.Phase)
	require.Empty(t, v.Choices)
}

func TestGameRoom_InvalidPickRejectedToSenderOnly(t *testing.T) {
	g := newGameRoom(t, neverFires)
	alice := join(t, g, 1, "alice")
	bob := join(t, g, 2, "bob")
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	gameState(t, g) // barrier: ready/round-start notices are all queued
	drain(alice)
	drain(bob)

	g.Inbox() <- Pick{ClientID: 1, Code: "x"}

	p := recvKind(t, alice, time.Second, protocol.KindMessage)
	require.Contains(t, p.Text, "Invalid pick")

	v := gameState(t, g)
	require.Empty(t, v.Choices)
	// bob saw nothing: no picked notice, no rejection
	select {
	case p := <-bob:
		t.Fatalf("expected no payload for bob, got %+v", p)
	default:
	}
}

// Ring A->B->C->A with Rock, Scissors, Paper: everyone
// wins their attack, nobody is eliminated, the next round starts at once.
func TestGameRoom_ThreePlayerRingAllGainAPoint(t *testing.T) {
	g := newGameRoom(t, neverFires)
	alice := join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	join(t, g, 3, "carol")

	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	g.Inbox() <- Ready{ClientID: 3}
	drain(alice)

	g.Inbox() <- Pick{ClientID: 1, Code: "r"}
	g.Inbox() <- Pick{ClientID: 2, Code: "s"}
	g.Inbox() <- Pick{ClientID: 3, Code: "p"}

	v := gameState(t, g)
	require.Empty(t, v.Eliminated)
	require.Equal(t, map[int64]int{1: 1, 2: 1, 3: 1}, v.Points)
	// >= 2 actives remain, so the next round auto-started
	require.Equal(t, PhaseChoosing, v.Phase)
	require.Equal(t, uint64(2), v.Round)

	// battle narration follows the ring order
	first := recvKind(t, alice, time.Second, protocol.KindBattleResult)
	require.Contains(t, first.Text, "alice#1(ROCK) attacks bob#2(SCISSORS)")
	require.Contains(t, first.Text, "alice#1 wins")
}

func TestGameRoom_EarlyTerminationBeforeTimer(t *testing.T) {
	g := newGameRoom(t, neverFires)
	alice := join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}

	// both picked: the round must resolve without the (hour-long) timer
	g.Inbox() <- Pick{ClientID: 1, Code: "r"}
	g.Inbox() <- Pick{ClientID: 2, Code: "p"}

	// two-player ring: bob's paper wins both battles, alice is eliminated
	// on her attack-loss, bob is the winner and the session resets.
	over := recvKind(t, alice, time.Second, protocol.KindGameOver)
	require.Contains(t, over.Text, "Winner: bob#2")
	require.Contains(t, over.Text, "Final scores:")
	require.Contains(t, over.Text, "bob#2: 2")

	v := gameState(t, g)
	require.Equal(t, PhaseEnded, v.Phase)
	require.Empty(t, v.Eliminated, "session reset clears eliminations")
	require.Empty(t, v.Points, "session reset clears points")
}

// Two players, one never picks. The non-picker is
// eliminated on timeout, no battle runs, the picker wins.
func TestGameRoom_TimeoutEliminatesNonPickers(t *testing.T) {
	g := newGameRoom(t, 80*time.Millisecond)
	alice := join(t, g, 1, "alice")
	bob := join(t, g, 2, "bob")
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}

	g.Inbox() <- Pick{ClientID: 1, Code: "r"}

	over := recvKind(t, alice, 2*time.Second, protocol.KindGameOver)
	require.Contains(t, over.Text, "Winner: alice#1")

	// no battle was resolvable: bob had no recorded move
	drainUntilEmpty := func(ch chan protocol.Payload) {
		for {
			select {
			case p := <-ch:
				require.NotEqual(t, protocol.KindBattleResult, p.Kind)
			default:
				return
			}
		}
	}
	drainUntilEmpty(alice)
	drainUntilEmpty(bob)
}

func TestGameRoom_EliminationIsMonotonicWithinSession(t *testing.T) {
	g := newGameRoom(t, 80*time.Millisecond)
	join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	carol := join(t, g, 3, "carol")
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	g.Inbox() <- Ready{ClientID: 3}

	// alice and bob tie; carol never picks and is eliminated on timeout
	g.Inbox() <- Pick{ClientID: 1, Code: "r"}
	g.Inbox() <- Pick{ClientID: 2, Code: "r"}

	// wait for the timeout to eliminate carol and auto-start round 2
	deadline := time.Now().Add(2 * time.Second)
	for {
		v := gameState(t, g)
		if len(v.Eliminated) == 1 && v.Round == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for round end, state: %+v", v)
		}
		time.Sleep(10 * time.Millisecond)
	}

	drain(carol)

	// eliminated ids never reappear in choices or the ready set
	g.Inbox() <- Pick{ClientID: 3, Code: "r"}
	p := recvKind(t, carol, time.Second, protocol.KindMessage)
	require.Contains(t, p.Text, "eliminated")

	g.Inbox() <- Ready{ClientID: 3}
	p = recvKind(t, carol, time.Second, protocol.KindMessage)
	require.Contains(t, p.Text, "eliminated")

	v := gameState(t, g)
	require.Equal(t, []int64{3}, v.Eliminated)
	require.NotContains(t, v.Choices, int64(3))
	require.Empty(t, v.Ready)
}

func TestGameRoom_AwayExcludedFromReadyCheck(t *testing.T) {
	g := newGameRoom(t, neverFires)
	join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	carol := join(t, g, 3, "carol")

	g.Inbox() <- Ready{ClientID: 3}
	g.Inbox() <- SetAway{ClientID: 3, Away: true}
	v := gameState(t, g)
	require.Equal(t, []int64{3}, v.Away)
	require.Empty(t, v.Ready, "going away clears the ready flag")

	// with carol away the denominator is 2, so two readies start the round
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	v = gameState(t, g)
	require.Equal(t, PhaseChoosing, v.Phase)

	// away players cannot pick
	drain(carol)
	g.Inbox() <- Pick{ClientID: 3, Code: "r"}
	p := recvKind(t, carol, time.Second, protocol.KindMessage)
	require.Contains(t, p.Text, "away")
	require.NotContains(t, gameState(t, g).Choices, int64(3))
}

func TestGameRoom_AwayShrinkingDenominatorStartsRound(t *testing.T) {
	g := newGameRoom(t, neverFires)
	join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	join(t, g, 3, "carol")

	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	v := gameState(t, g)
	require.Equal(t, PhaseEnded, v.Phase)

	// carol going away makes everyone remaining ready
	g.Inbox() <- SetAway{ClientID: 3, Away: true}
	v = gameState(t, g)
	require.Equal(t, PhaseChoosing, v.Phase)
}

// A spectator cannot /ready until /play; spectator
// status survives a session reset.
func TestGameRoom_SpectatorLifecycle(t *testing.T) {
	g := newGameRoom(t, neverFires)
	join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	sam := join(t, g, 3, "sam")

	g.Inbox() <- Spectate{ClientID: 3}
	gameState(t, g) // barrier: spectate notice is queued
	drain(sam)

	g.Inbox() <- Ready{ClientID: 3}
	p := recvKind(t, sam, time.Second, protocol.KindMessage)
	require.Contains(t, p.Text, "Spectators cannot /ready")
	require.Empty(t, gameState(t, g).Ready)

	// play a session to completion; the reset must not clear sam
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	g.Inbox() <- Pick{ClientID: 1, Code: "s"}
	g.Inbox() <- Pick{ClientID: 2, Code: "p"}

	v := gameState(t, g)
	require.Equal(t, PhaseEnded, v.Phase)
	require.Equal(t, []int64{3}, v.Spectators, "session reset keeps spectators")
	require.Empty(t, v.Eliminated)

	// spectators never appear in choices or the active denominator
	require.NotContains(t, v.Choices, int64(3))

	g.Inbox() <- Play{ClientID: 3}
	v = gameState(t, g)
	require.Empty(t, v.Spectators)

	drain(sam)
	g.Inbox() <- Ready{ClientID: 3}
	v = gameState(t, g)
	require.Equal(t, []int64{3}, v.Ready)
}

func TestGameRoom_SpectatorChatBlocked(t *testing.T) {
	g := newGameRoom(t, neverFires)
	alice := join(t, g, 1, "alice")
	sam := join(t, g, 2, "sam")
	g.Inbox() <- Spectate{ClientID: 2}
	gameState(t, g) // barrier: spectate notice is queued
	drain(alice)
	drain(sam)

	g.Inbox() <- Chat{SenderID: 2, Text: "hi"}
	p := recvKind(t, sam, time.Second, protocol.KindMessage)
	require.Contains(t, p.Text, "cannot send messages")

	// alice got nothing
	select {
	case p := <-alice:
		t.Fatalf("expected no chat for alice, got %+v", p)
	default:
	}
}

func TestGameRoom_LeaveMidRoundEndsItForTheRest(t *testing.T) {
	g := newGameRoom(t, neverFires)
	alice := join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}

	g.Inbox() <- Pick{ClientID: 1, Code: "r"}
	// bob leaves before picking; alice is the only active player left and
	// has picked, so the round ends and she wins.
	g.Inbox() <- Leave{ClientID: 2}

	over := recvKind(t, alice, time.Second, protocol.KindGameOver)
	require.Contains(t, over.Text, "Winner: alice#1")

	v := gameState(t, g)
	require.Equal(t, PhaseEnded, v.Phase)
	require.Equal(t, []int64{1}, v.Members)
}

func TestGameRoom_PointsSyncOnRequest(t *testing.T) {
	g := newGameRoom(t, neverFires)
	alice := join(t, g, 1, "alice")
	bob := join(t, g, 2, "bob")
	drain(alice)
	drain(bob)

	g.Inbox() <- ScoreRequest{ClientID: 1}

	// every member's total goes to every member
	for _, ch := range []chan protocol.Payload{alice, bob} {
		seen := map[int64]int{}
		for len(seen) < 2 {
			p := recvKind(t, ch, time.Second, protocol.KindPointsSync)
			seen[p.TargetID] = p.Points
		}
		require.Equal(t, map[int64]int{1: 0, 2: 0}, seen)
	}
}

func TestGameRoom_StaleTimerCannotEndALaterRound(t *testing.T) {
	g := newGameRoom(t, neverFires)
	join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}

	v := gameState(t, g)
	require.Equal(t, uint64(1), v.Round)

	// an expiry message for a round that already ended must be a no-op
	g.Inbox() <- roundExpired{Round: 0}
	v = gameState(t, g)
	require.Equal(t, PhaseChoosing, v.Phase)
	require.Equal(t, uint64(1), v.Round)
}

func TestGameRoom_ChoicesNeverContainInactiveIDs(t *testing.T) {
	g := newGameRoom(t, neverFires)
	join(t, g, 1, "alice")
	join(t, g, 2, "bob")
	join(t, g, 3, "carol")
	join(t, g, 4, "dave")
	g.Inbox() <- Ready{ClientID: 1}
	g.Inbox() <- Ready{ClientID: 2}
	g.Inbox() <- Ready{ClientID: 3}
	g.Inbox() <- Ready{ClientID: 4}

	g.Inbox() <- Pick{ClientID: 1, Code: "l"}
	g.Inbox() <- SetAway{ClientID: 2, Away: true}
	g.Inbox() <- Spectate{ClientID: 3}

	// dave is still active and undecided, so the round is in flight and
	// only alice's pick is recorded; her move round-trips.
	v := gameState(t, g)
	require.Equal(t, PhaseChoosing, v.Phase)
	require.Equal(t, map[int64]game.Move{1: game.Lizard}, v.Choices)
	require.Equal(t, []int64{2}, v.Away)
	require.Equal(t, []int64{3}, v.Spectators)
}
