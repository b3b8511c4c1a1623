package conversation

import (
	"errors"
	"fmt"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	// ErrInvalidUserID is returned for an empty user ID.
	ErrInvalidUserID = errors.New("invalid user id")

	// ErrInvalidTurn is returned when a turn has an unknown role or when a
	// caller tries to append a second system turn.
	ErrInvalidTurn = errors.New("invalid turn")
)

// Turn is one message in a conversation.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// History is the ordered list of turns for one user.
type History []Turn

// Clone returns a copy that shares no backing array with h.
func (h History) Clone() History {
	if h == nil {
		return nil
	}
	out := make(History, len(h))
	copy(out, h)
	return out
}

func validateAppend(userID string, t Turn) error {
	if userID == "" {
		return ErrInvalidUserID
	}
	switch t.Role {
	case RoleUser, RoleAssistant:
		return nil
	case RoleSystem:
		return fmt.Errorf("%w: system turn is written only on creation", ErrInvalidTurn)
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTurn, t.Role)
	}
}
