// pkg/core/ids.go
package core

import (
	"fmt"
	"strings"
)

// ObjectID identifies an interactable object within a session.
// Zero is reserved as the "unassigned" sentinel.
type ObjectID int64

// NoObject is the unassigned ObjectID.
const NoObject ObjectID = 0

// Valid reports whether the ID has been assigned.
func (id ObjectID) Valid() bool {
	return id != NoObject
}

// ActorID is the session-unique identifier of a peer, assigned by the session layer.
type ActorID int32

// NoActor means "nobody" (free object, no coordinator elected yet).
const NoActor ActorID = 0

// Hand selects which tracked anchor holds an object.
type Hand uint8

const (
	HandLeft Hand = iota
	HandRight
)

// Hands lists every hand in a stable order.
var Hands = [...]Hand{HandLeft, HandRight}

func (h Hand) String() string {
	switch h {
	case HandLeft:
		return "left"
	case HandRight:
		return "right"
	default:
		return fmt.Sprintf("hand(%d)", uint8(h))
	}
}

// ParseHand accepts "left"/"l" and "right"/"r" in any case.
func ParseHand(s string) (Hand, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "l":
		return HandLeft, nil
	case "right", "r":
		return HandRight, nil
	}
	return 0, fmt.Errorf("unknown hand: %q", s)
}

// ActionKind is the discrete interaction relayed from a holder to other peers.
type ActionKind uint8

const (
	ActionSecondary ActionKind = 0
	ActionTrigger   ActionKind = 1
)

func (k ActionKind) String() string {
	switch k {
	case ActionSecondary:
		return "secondary"
	case ActionTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("action(%d)", uint8(k))
	}
}

// ParseActionKind parses the names returned by ActionKind.String.
func ParseActionKind(s string) (ActionKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "secondary":
		return ActionSecondary, nil
	case "trigger":
		return ActionTrigger, nil
	}
	return 0, fmt.Errorf("unknown action kind: %q", s)
}
