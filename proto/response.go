package proto

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type NextKind int

const (
	// NextKind_Absent means the response carried no "next" field: retry the stage.
	NextKind_Absent NextKind = iota
	// NextKind_Null means "next" was null: no further stage.
	NextKind_Null
	// NextKind_Stage means "next" named the stage to advance to.
	NextKind_Stage
)

func (k NextKind) String() string {
	switch k {
	case NextKind_Absent:
		return "absent"
	case NextKind_Null:
		return "null"
	case NextKind_Stage:
		return "stage"
	default:
		return fmt.Sprintf("NextKind(%d)", int(k))
	}
}

// Next is the "next" response field with its presence preserved.
type Next struct {
	Kind  NextKind
	Stage Stage
}

func NextAbsent() Next            { return Next{Kind: NextKind_Absent} }
func NextNull() Next              { return Next{Kind: NextKind_Null} }
func NextStage(stage Stage) Next { return Next{Kind: NextKind_Stage, Stage: stage} }

func (n Next) String() string {
	if n.Kind == NextKind_Stage {
		return string(n.Stage)
	}
	return n.Kind.String()
}

type StageResponse struct {
	Success       int
	Next          Next
	SessionID     string
	AuthSessionID string
	Message       string

	// Status is the HTTP status the response arrived with.
	Status int
}

func (r *StageResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

func (r *StageResponse) Accepted() bool {
	return r.Success != 0
}

func (r *StageResponse) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("decode response object: %w", err)
	}
	if fields == nil {
		return fmt.Errorf("response body is null")
	}

	success, err := decodeSuccess(fields["success"])
	if err != nil {
		return err
	}

	next := NextAbsent()
	if raw, ok := fields["next"]; ok {
		if isNull(raw) {
			next = NextNull()
		} else {
			var name string
			if err := json.Unmarshal(raw, &name); err != nil {
				return fmt.Errorf("decode next: %w", err)
			}
			next = NextStage(Stage(name))
		}
	}

	// null ids are treated as absent
	var sessionID, authSessionID string
	if err := decodeOptionalString(fields["session_id"], &sessionID); err != nil {
		return fmt.Errorf("decode session_id: %w", err)
	}
	if err := decodeOptionalString(fields["auth_session_id"], &authSessionID); err != nil {
		return fmt.Errorf("decode auth_session_id: %w", err)
	}
	var msg string
	if err := decodeOptionalString(fields["msg"], &msg); err != nil {
		return fmt.Errorf("decode msg: %w", err)
	}

	*r = StageResponse{
		Success:       success,
		Next:          next,
		SessionID:     sessionID,
		AuthSessionID: authSessionID,
		Message:       msg,
		Status:        r.Status,
	}
	return nil
}

func (r StageResponse) MarshalJSON() ([]byte, error) {
	fields := map[string]any{
		"success": r.Success,
	}
	switch r.Next.Kind {
	case NextKind_Null:
		fields["next"] = nil
	case NextKind_Stage:
		fields["next"] = r.Next.Stage
	}
	if r.SessionID != "" {
		fields["session_id"] = r.SessionID
	}
	if r.AuthSessionID != "" {
		fields["auth_session_id"] = r.AuthSessionID
	}
	if r.Message != "" {
		fields["msg"] = r.Message
	}
	return json.Marshal(fields)
}

func decodeSuccess(raw json.RawMessage) (int, error) {
	if raw == nil || isNull(raw) {
		return 0, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("decode success: %w", err)
	}
	return n, nil
}

func decodeOptionalString(raw json.RawMessage, dst *string) error {
	if raw == nil || isNull(raw) {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
