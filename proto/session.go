package proto

import "fmt"

// Session is the client-side state of one verification flow.
type Session struct {
	// ID threads stage submissions together. Issued by the first stage.
	ID string `json:"session_id,omitempty"`
	// AuthSessionID is issued once every stage has been accepted.
	AuthSessionID string `json:"auth_session_id,omitempty"`
	Stage         Stage  `json:"stage"`
}

func NewSession() *Session {
	return &Session{Stage: Stage_Email}
}

func (s *Session) Validate() error {
	if s.Stage == "" {
		return fmt.Errorf("stage is required")
	}
	if (s.AuthSessionID != "") != (s.Stage == Stage_Authenticated) {
		return fmt.Errorf("auth session id must be set exactly when authenticated, stage=%s", s.Stage)
	}
	return nil
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
