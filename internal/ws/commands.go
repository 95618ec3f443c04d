package ws

import (
	"errors"
	"fmt"
	"strings"
)

type cmdKind int

const (
	cmdReady cmdKind = iota
	cmdPick
	cmdAway
	cmdBack
	cmdSpectate
	cmdPlay
	cmdCreate
	cmdJoin
	cmdLeave
	cmdRooms
	cmdReverse
)

type command struct {
	kind cmdKind
	arg  string
}

// parseCommand parses a slash-prefixed chat line. Verbs and identifier
// arguments (room names, move codes) are case-insensitive; /reverse keeps
// its argument verbatim.
func parseCommand(text string) (command, error) {
	rest := strings.TrimSpace(strings.TrimPrefix(text, "/"))
	verb := rest
	arg := ""
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		verb, arg = rest[:i], strings.TrimSpace(rest[i+1:])
	}

	switch strings.ToLower(verb) {
	case "ready":
		return command{kind: cmdReady}, nil
	case "pick":
		if arg == "" {
			return command{}, errors.New("Usage: /pick r|p|s|l|k")
		}
		return command{kind: cmdPick, arg: strings.ToLower(arg)}, nil
	case "away":
		return command{kind: cmdAway}, nil
	case "back":
		return command{kind: cmdBack}, nil
	case "spectate":
		if arg == "" {
			return command{}, errors.New("Usage: /spectate <roomName>")
		}
		return command{kind: cmdSpectate, arg: strings.ToLower(arg)}, nil
	case "play":
		return command{kind: cmdPlay}, nil
	case "create":
		if arg == "" {
			return command{}, errors.New("Usage: /create <roomName>")
		}
		return command{kind: cmdCreate, arg: strings.ToLower(arg)}, nil
	case "join":
		if arg == "" {
			return command{}, errors.New("Usage: /join <roomName>")
		}
		return command{kind: cmdJoin, arg: strings.ToLower(arg)}, nil
	case "leave":
		return command{kind: cmdLeave}, nil
	case "rooms":
		return command{kind: cmdRooms}, nil
	case "reverse":
		if arg == "" {
			return command{}, errors.New("Usage: /reverse <text>")
		}
		return command{kind: cmdReverse, arg: arg}, nil
	default:
		return command{}, fmt.Errorf("Unrecognized command: /%s", verb)
	}
}
