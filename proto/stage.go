package proto

import "fmt"

// Stage is a server-defined stage identifier. Values outside of the constants
// below are valid: the server decides which stages exist.
type Stage string

const (
	Stage_Email           Stage = "email"
	Stage_Password        Stage = "password"
	Stage_MotionPattern   Stage = "motion_pattern"
	Stage_FaceRecognition Stage = "face_recognition"
	Stage_Authenticated   Stage = "authenticated"
	Stage_Failed          Stage = "failed"
)

func (s Stage) String() string {
	return string(s)
}

func (s Stage) IsTerminal() bool {
	return s == Stage_Authenticated || s == Stage_Failed
}

// IsKnown reports whether the stage is one the client has a dedicated screen for.
func (s Stage) IsKnown() bool {
	switch s {
	case Stage_Email, Stage_Password, Stage_MotionPattern, Stage_FaceRecognition, Stage_Authenticated, Stage_Failed:
		return true
	default:
		return false
	}
}

// WireName is the path segment used when submitting data for the stage.
func (s Stage) WireName() (string, error) {
	if s == "" || s.IsTerminal() {
		return "", fmt.Errorf("stage %q cannot be submitted", s)
	}
	return string(s), nil
}
