package auth

import (
	"context"
	"time"

	"github.com/0xsequence/identity-flow/proto"
)

// Sender submits one stage request to the stage server. Failures to reach the server
// are reported as proto.ErrTransientTransport; undecodable responses as proto.ErrProtocol.
type Sender interface {
	Send(ctx context.Context, req *proto.StageRequest) (*proto.StageResponse, error)
}

// Navigator is the UI/navigation collaborator. Exactly one of the first four methods is
// called for every submission that reaches the server.
type Navigator interface {
	OnRetry(ctx context.Context, stage proto.Stage, message string)
	OnAdvance(ctx context.Context, stage proto.Stage)
	OnAuthenticated(ctx context.Context, authSessionID string)
	OnProtocolError(ctx context.Context, err error)
	OnTransientError(ctx context.Context, err error)
}

type Attempt struct {
	FlowID    string
	SessionID string
	Stage     proto.Stage
	Outcome   string
	Message   string
	Next      proto.Stage
	CreatedAt time.Time
}

// AttemptRecorder keeps a ledger of stage submissions.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, attempt *Attempt) error
}

// SessionStore persists session snapshots so a flow can be resumed.
type SessionStore interface {
	Save(ctx context.Context, flowID string, session *proto.Session) error
	Load(ctx context.Context, flowID string) (*proto.Session, bool, error)
	Delete(ctx context.Context, flowID string) error
}

type Metrics interface {
	ObserveSubmission(stage proto.Stage, outcome string, duration time.Duration)
}
