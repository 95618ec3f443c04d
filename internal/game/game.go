// Package game holds the pure rules of the extended rock-paper-scissors
// variant. No state, no I/O; rooms call into it during resolution.
package game

import "strings"

type Move string

const (
	Rock     Move = "ROCK"
	Paper    Move = "PAPER"
	Scissors Move = "SCISSORS"
	Lizard   Move = "LIZARD"
	Spock    Move = "SPOCK"
)

// beats maps each move to the set of moves it defeats. Every ordered pair
// of distinct moves has exactly one winner.
var beats = map[Move]map[Move]bool{
	Rock:     {Scissors: true, Lizard: true},
	Paper:    {Rock: true, Spock: true},
	Scissors: {Paper: true, Lizard: true},
	Lizard:   {Spock: true, Paper: true},
	Spock:    {Scissors: true, Rock: true},
}

// Moves lists all valid moves in a stable order.
func Moves() []Move {
	return []Move{Rock, Paper, Scissors, Lizard, Spock}
}

// ParseMove decodes a single-letter move code (r|p|s|l|k), case-insensitive.
func ParseMove(code string) (Move, bool) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "r":
		return Rock, true
	case "p":
		return Paper, true
	case "s":
		return Scissors, true
	case "l":
		return Lizard, true
	case "k":
		return Spock, true
	default:
		return "", false
	}
}

// Beats resolves one attacker/defender pair: 1 means a wins, -1 means b
// wins, 0 is a tie. Only equal moves tie.
func Beats(a, b Move) int {
	if a == b {
		return 0
	}
	if beats[a][b] {
		return 1
	}
	return -1
}
