package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type PayloadKind int

const (
	PayloadKind_Empty PayloadKind = iota
	PayloadKind_Text
	PayloadKind_Moves
	PayloadKind_Image
)

// Payload is the stage-specific value sent in the "data" field of a stage request.
type Payload struct {
	kind  PayloadKind
	text  string
	moves []string
	image []byte
}

func TextPayload(s string) Payload {
	return Payload{kind: PayloadKind_Text, text: s}
}

func MovesPayload(moves []string) Payload {
	return Payload{kind: PayloadKind_Moves, moves: append([]string(nil), moves...)}
}

// ImagePayload takes a copy of b; later writes to b are not observed.
func ImagePayload(b []byte) Payload {
	return Payload{kind: PayloadKind_Image, image: bytes.Clone(b)}
}

func (p Payload) Kind() PayloadKind {
	return p.kind
}

func (p Payload) Text() string {
	return p.text
}

func (p Payload) Moves() []string {
	return append([]string(nil), p.moves...)
}

func (p Payload) Image() []byte {
	return bytes.Clone(p.image)
}

func (p Payload) IsEmpty() bool {
	return p.kind == PayloadKind_Empty
}

func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PayloadKind_Empty:
		return []byte("null"), nil
	case PayloadKind_Text:
		return json.Marshal(p.text)
	case PayloadKind_Moves:
		if p.moves == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(p.moves)
	case PayloadKind_Image:
		// []byte is encoded as standard base64
		return json.Marshal(p.image)
	default:
		return nil, fmt.Errorf("unknown payload kind: %d", p.kind)
	}
}
