package room

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/battlechat/battlechat-server/internal/game"
	"github.com/battlechat/battlechat-server/internal/protocol"
)

type Phase string

const (
	PhaseEnded     Phase = "ENDED"
	PhaseChoosing  Phase = "CHOOSING"
	PhaseResolving Phase = "RESOLVING"
)

// DefaultRoundTimer is the pick window when config doesn't override it.
const DefaultRoundTimer = 15 * time.Second

// GameRoom extends Room with the round/session state machine: readiness
// polling, pick collection, ring battle resolution, elimination, scoring,
// away/spectator bookkeeping and the round timer.
type GameRoom struct {
	*Room

	roundTimer time.Duration

	phase      Phase
	round      uint64 // increments per round; stale timer guard
	ready      map[int64]struct{}
	choices    map[int64]game.Move
	eliminated map[int64]struct{}
	away       map[int64]struct{}
	spectators map[int64]struct{}
	points     map[int64]int
	timer      *time.Timer
}

// NewGame creates a game room and starts its loop.
func NewGame(parent context.Context, name string, roundTimer time.Duration, log *zap.Logger) *GameRoom {
	if roundTimer <= 0 {
		roundTimer = DefaultRoundTimer
	}
	g := &GameRoom{
		Room:       newBase(parent, name, KindGame, log),
		roundTimer: roundTimer,
		phase:      PhaseEnded,
		ready:      make(map[int64]struct{}),
		choices:    make(map[int64]game.Move),
		eliminated: make(map[int64]struct{}),
		away:       make(map[int64]struct{}),
		spectators: make(map[int64]struct{}),
		points:     make(map[int64]int),
	}
	go g.run(g.handle)
	return g
}

func (g *GameRoom) handle(m Msg) {
	switch msg := m.(type) {
	case Chat:
		// Spectators can read chat but not send it.
		if _, spec := g.spectators[msg.SenderID]; spec {
			g.sendSystem(msg.SenderID, "Spectators can see chat but cannot send messages.")
			return
		}
		g.handleBase(m)
	case Leave:
		g.purge(msg.ClientID)
		g.handleBase(m)
		g.afterActiveSetShrunk()
	case Disconnect:
		g.purge(msg.ClientID)
		g.handleBase(m)
		g.afterActiveSetShrunk()
	case Ready:
		g.handleReady(msg.ClientID)
	case Pick:
		g.handlePick(msg.ClientID, msg.Code)
	case SetAway:
		g.handleAway(msg.ClientID, msg.Away)
	case Spectate:
		g.handleSpectate(msg.ClientID)
	case Play:
		g.handlePlay(msg.ClientID)
	case ScoreRequest:
		g.syncPoints()
	case roundExpired:
		if msg.Round == g.round {
			g.endRound()
		}
	case GetGameState:
		msg.Reply <- g.view()
	default:
		if !g.handleBase(m) {
			g.log.Warn("unexpected message for game room", zap.Any("msg", m))
		}
	}
}

func (g *GameRoom) handleReady(id int64) {
	if _, ok := g.members[id]; !ok {
		return
	}
	if reason, ok := g.inactiveReason(id, "/ready"); ok {
		g.sendSystem(id, reason)
		return
	}
	// Readiness only gates the ENDED -> CHOOSING transition; mid-round
	// it would just be a stale entry.
	if g.phase != PhaseEnded {
		g.sendSystem(id, "A round is already in progress.")
		return
	}
	g.ready[id] = struct{}{}
	g.broadcast(protocol.System(fmt.Sprintf("%s is ready", g.displayName(id))))

	if g.maybeStartRound() {
		return
	}
	if active := g.activeCount(); active < 2 {
		g.sendSystem(id, "Waiting for more players to join…")
	} else {
		needed := active - len(g.ready)
		g.sendSystem(id, fmt.Sprintf("Waiting for %d more player(s) to /ready…", needed))
	}
}

func (g *GameRoom) handlePick(id int64, code string) {
	if g.phase != PhaseChoosing {
		return
	}
	if _, ok := g.members[id]; !ok {
		return
	}
	if reason, ok := g.inactiveReason(id, "/pick"); ok {
		g.sendSystem(id, reason)
		return
	}
	move, ok := game.ParseMove(code)
	if !ok {
		g.sendSystem(id, "Invalid pick. Use /pick r|p|s|l|k")
		return
	}
	g.choices[id] = move

	// Content-free on purpose: never reveal the move to other players.
	g.broadcast(protocol.Payload{
		Kind:     protocol.KindPickedNotice,
		ClientID: protocol.SystemID,
		Text:     fmt.Sprintf("%s picked their choice", g.displayName(id)),
	})

	if g.allActivePicked() {
		g.endRound()
	}
}

func (g *GameRoom) handleAway(id int64, away bool) {
	if _, ok := g.members[id]; !ok {
		return
	}
	if _, out := g.eliminated[id]; out {
		g.sendSystem(id, "You are eliminated for this session and cannot change away status.")
		return
	}
	if _, spec := g.spectators[id]; spec {
		g.sendSystem(id, "Spectators cannot use /away or /back. Use /play to rejoin.")
		return
	}
	if away {
		g.away[id] = struct{}{}
		// An away player cannot be mid-ready.
		delete(g.ready, id)
		g.broadcast(protocol.System(fmt.Sprintf("%s is away", g.displayName(id))))
		g.afterActiveSetShrunk()
		return
	}
	delete(g.away, id)
	g.broadcast(protocol.System(fmt.Sprintf("%s is back", g.displayName(id))))
}

func (g *GameRoom) handleSpectate(id int64) {
	if _, ok := g.members[id]; !ok {
		return
	}
	if _, spec := g.spectators[id]; spec {
		g.sendSystem(id, "You are already spectating.")
		return
	}
	g.spectators[id] = struct{}{}
	// eliminated/away/spectators stay pairwise disjoint.
	delete(g.eliminated, id)
	delete(g.away, id)
	delete(g.ready, id)
	g.broadcast(protocol.System(fmt.Sprintf("%s is now spectating", g.displayName(id))))
	g.afterActiveSetShrunk()
}

func (g *GameRoom) handlePlay(id int64) {
	if _, ok := g.members[id]; !ok {
		return
	}
	if _, spec := g.spectators[id]; !spec {
		g.sendSystem(id, "You are not spectating.")
		return
	}
	delete(g.spectators, id)
	delete(g.eliminated, id)
	delete(g.away, id)
	g.broadcast(protocol.System(fmt.Sprintf("%s has rejoined the game", g.displayName(id))))
}

// inactiveReason reports why id may not act right now, if any.
func (g *GameRoom) inactiveReason(id int64, cmd string) (string, bool) {
	if _, out := g.eliminated[id]; out {
		return fmt.Sprintf("You are eliminated and cannot %s until the next session.", cmd), true
	}
	if _, aw := g.away[id]; aw {
		return fmt.Sprintf("You are away. Use /back before %s.", cmd), true
	}
	if _, spec := g.spectators[id]; spec {
		return fmt.Sprintf("Spectators cannot %s. Use /play to rejoin.", cmd), true
	}
	return "", false
}

// maybeStartRound evaluates the ENDED -> CHOOSING threshold: every active
// player ready, and at least two of them.
func (g *GameRoom) maybeStartRound() bool {
	if g.phase != PhaseEnded {
		return false
	}
	active := g.activeCount()
	if active < 2 || len(g.ready) != active {
		return false
	}
	g.startRound()
	return true
}

func (g *GameRoom) startRound() {
	clear(g.ready)
	clear(g.choices)
	g.phase = PhaseChoosing
	g.round++
	g.stopTimer()

	round := g.round
	g.timer = time.AfterFunc(g.roundTimer, func() {
		select {
		case g.inbox <- roundExpired{Round: round}:
		case <-g.ctx.Done():
		}
	})

	g.log.Info("round started", zap.Uint64("round", round), zap.Int("active", g.activeCount()))
	g.broadcast(protocol.Payload{
		Kind:     protocol.KindRoundStart,
		ClientID: protocol.SystemID,
		Text:     "Round started! Make your pick with /pick r|p|s|l|k",
	})
}

// endRound is reached from two call sites, the timer and the
// all-players-picked path; the phase guard makes the race idempotent.
func (g *GameRoom) endRound() {
	if g.phase != PhaseChoosing {
		return
	}
	g.phase = PhaseResolving
	g.stopTimer()

	// Active players who never picked are out for the session.
	for _, id := range g.order {
		if !g.isActive(id) {
			continue
		}
		if _, picked := g.choices[id]; !picked {
			g.eliminated[id] = struct{}{}
		}
	}

	g.processBattles()
	g.syncPoints()

	switch active := g.activeIDs(); len(active) {
	case 1:
		g.gameOver("Winner: " + g.displayName(active[0]))
		g.resetSession()
	case 0:
		g.gameOver("No players remain. It's a tie.")
		g.resetSession()
	default:
		g.phase = PhaseEnded
		g.startRound() // next round, no new ready check within a session
	}
}

// processBattles runs the ring: each active player attacks its next
// neighbor in join order and is attacked by the previous one. Pairs are
// independent; eliminations here don't shrink the ring mid-pass.
func (g *GameRoom) processBattles() {
	alive := g.activeIDs()
	n := len(alive)
	if n < 2 {
		return
	}
	for i := 0; i < n; i++ {
		attacker := alive[i]
		defender := alive[(i+1)%n]
		g.resolveAttack(attacker, defender)
	}
}

func (g *GameRoom) resolveAttack(attacker, defender int64) {
	aPick, aOK := g.choices[attacker]
	dPick, dOK := g.choices[defender]
	if !aOK || !dOK {
		return
	}

	result := game.Beats(aPick, dPick)

	var outcome string
	switch {
	case result > 0:
		outcome = g.displayName(attacker) + " wins"
		g.points[attacker]++
	case result < 0:
		outcome = g.displayName(defender) + " wins"
		g.points[defender]++
		g.eliminated[attacker] = struct{}{} // attacker out on attack-loss
	default:
		outcome = "tie"
	}

	g.broadcast(protocol.Payload{
		Kind:     protocol.KindBattleResult,
		ClientID: protocol.SystemID,
		Text: fmt.Sprintf("%s(%s) attacks %s(%s) -> %s",
			g.displayName(attacker), aPick, g.displayName(defender), dPick, outcome),
	})
}

// syncPoints broadcasts every member's current total to every member, so
// clients can render a leaderboard without targeted queries.
func (g *GameRoom) syncPoints() {
	// snapshot: broadcast may drop a slow member and mutate the order
	for _, id := range append([]int64(nil), g.order...) {
		g.broadcast(protocol.Payload{
			Kind:     protocol.KindPointsSync,
			ClientID: protocol.SystemID,
			TargetID: id,
			Points:   g.points[id],
		})
	}
}

func (g *GameRoom) gameOver(headline string) {
	type entry struct {
		id     int64
		points int
	}
	entries := make([]entry, 0, len(g.points))
	for id, pts := range g.points {
		entries = append(entries, entry{id, pts})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].points != entries[j].points {
			return entries[i].points > entries[j].points
		}
		return entries[i].id < entries[j].id
	})

	var sb strings.Builder
	sb.WriteString(headline)
	sb.WriteString("\nFinal scores:\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "%s: %d\n", g.displayName(e.id), e.points)
	}

	g.log.Info("game over", zap.String("result", headline))
	g.broadcast(protocol.Payload{
		Kind:     protocol.KindGameOver,
		ClientID: protocol.SystemID,
		Text:     sb.String(),
	})
}

// resetSession returns the room to idle. Spectator status is
// session-independent and survives the reset.
func (g *GameRoom) resetSession() {
	clear(g.choices)
	clear(g.eliminated)
	clear(g.away)
	clear(g.points)
	clear(g.ready)
	g.phase = PhaseEnded
	g.stopTimer()
	g.syncPoints()
}

// purge removes every trace of a departing client so no round evaluation
// waits on a ghost.
func (g *GameRoom) purge(id int64) {
	delete(g.ready, id)
	delete(g.choices, id)
	delete(g.eliminated, id)
	delete(g.away, id)
	delete(g.spectators, id)
	delete(g.points, id)
}

// afterActiveSetShrunk re-evaluates both phase transitions whose
// conditions can now hold: the remaining actives may all have picked, or
// the ready threshold may now be met.
func (g *GameRoom) afterActiveSetShrunk() {
	if g.phase == PhaseChoosing && g.allActivePicked() {
		g.endRound()
		return
	}
	g.maybeStartRound()
}

func (g *GameRoom) isActive(id int64) bool {
	if _, ok := g.members[id]; !ok {
		return false
	}
	if _, out := g.eliminated[id]; out {
		return false
	}
	if _, aw := g.away[id]; aw {
		return false
	}
	if _, spec := g.spectators[id]; spec {
		return false
	}
	return true
}

func (g *GameRoom) activeIDs() []int64 {
	ids := make([]int64, 0, len(g.order))
	for _, id := range g.order {
		if g.isActive(id) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (g *GameRoom) activeCount() int { return len(g.activeIDs()) }

func (g *GameRoom) allActivePicked() bool {
	active := g.activeIDs()
	if len(active) == 0 {
		return false
	}
	for _, id := range active {
		if _, ok := g.choices[id]; !ok {
			return false
		}
	}
	return true
}

func (g *GameRoom) stopTimer() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *GameRoom) view() GameView {
	v := GameView{
		Phase:      g.phase,
		Round:      g.round,
		Members:    append([]int64(nil), g.order...),
		Ready:      sortedIDs(g.ready),
		Choices:    make(map[int64]game.Move, len(g.choices)),
		Eliminated: sortedIDs(g.eliminated),
		Away:       sortedIDs(g.away),
		Spectators: sortedIDs(g.spectators),
		Points:     make(map[int64]int, len(g.points)),
	}
	for id, m := range g.choices {
		v.Choices[id] = m
	}
	for id, pts := range g.points {
		v.Points[id] = pts
	}
	return v
}

func sortedIDs(set map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
