// Package input turns raw user input into stage payloads.
package input

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/0xsequence/identity-flow/proto"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateEmail(email string) error {
	if len(email) > 254 {
		return fmt.Errorf("too long")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("incorrect format")
	}
	return nil
}

type Move string

const (
	Move_Up    Move = "up"
	Move_Down  Move = "down"
	Move_Left  Move = "left"
	Move_Right Move = "right"
)

var moveAliases = map[string]Move{
	"up": Move_Up, "u": Move_Up, "^": Move_Up,
	"down": Move_Down, "d": Move_Down, "v": Move_Down,
	"left": Move_Left, "l": Move_Left, "<": Move_Left,
	"right": Move_Right, "r": Move_Right, ">": Move_Right,
}

// ParseMoves reads a motion pattern separated by spaces or commas, e.g. "up, up, l".
func ParseMoves(s string) ([]string, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	if len(fields) == 0 {
		return nil, fmt.Errorf("motion pattern is empty")
	}
	moves := make([]string, 0, len(fields))
	for _, f := range fields {
		m, ok := moveAliases[strings.ToLower(f)]
		if !ok {
			return nil, fmt.Errorf("unknown move %q", f)
		}
		moves = append(moves, string(m))
	}
	return moves, nil
}

// Payload builds the payload for a text based stage. Image stages are fed by the
// capture pipeline and are rejected here.
func Payload(stage proto.Stage, raw string) (proto.Payload, error) {
	switch stage {
	case proto.Stage_Email:
		email := NormalizeEmail(raw)
		if err := ValidateEmail(email); err != nil {
			return proto.Payload{}, fmt.Errorf("email: %w", err)
		}
		return proto.TextPayload(email), nil
	case proto.Stage_MotionPattern:
		moves, err := ParseMoves(raw)
		if err != nil {
			return proto.Payload{}, err
		}
		return proto.MovesPayload(moves), nil
	case proto.Stage_FaceRecognition:
		return proto.Payload{}, fmt.Errorf("%s expects a captured image", stage)
	default:
		// passwords are sent as typed
		if raw == "" {
			return proto.Payload{}, fmt.Errorf("%s: value is required", stage)
		}
		return proto.TextPayload(raw), nil
	}
}
