package auth

import (
	"fmt"

	"github.com/0xsequence/identity-flow/proto"
)

// DefaultRetryMessage is shown when the server rejects an attempt without saying why.
const DefaultRetryMessage = "Verification failed, please try again."

type Outcome int

const (
	OutcomeRetry Outcome = iota + 1
	OutcomeAdvance
	OutcomeFinalize
	OutcomeProtocolError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeAdvance:
		return "advance"
	case OutcomeFinalize:
		return "finalize"
	case OutcomeProtocolError:
		return "protocol_error"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Decision is the transition the orchestrator applies for one stage response.
type Decision struct {
	Outcome Outcome

	// Message is set for OutcomeRetry.
	Message string
	// Stage is the stage to advance to for OutcomeAdvance.
	Stage proto.Stage
	// AuthSessionID is set for OutcomeFinalize.
	AuthSessionID string
	// Err is set for OutcomeProtocolError and wraps proto.ErrProtocol.
	Err error
}

// Resolve classifies a stage response into exactly one Decision. It performs no
// I/O and does not mutate its input.
//
// The rules are evaluated in order:
//  1. rejected with no "next" field: retry the current stage
//  2. transport ok with "next" null: finalize, auth_session_id required
//  3. accepted, transport ok, "next" names a stage: advance to it
//  4. anything else is a protocol error
func Resolve(res *proto.StageResponse, current proto.Stage) Decision {
	if res == nil {
		return protocolError(current, "missing response")
	}

	switch {
	case !res.Accepted() && res.Next.Kind == proto.NextKind_Absent:
		msg := res.Message
		if msg == "" {
			msg = DefaultRetryMessage
		}
		return Decision{Outcome: OutcomeRetry, Message: msg}

	case res.OK() && res.Next.Kind == proto.NextKind_Null:
		if res.AuthSessionID == "" {
			return protocolError(current, "final stage accepted without auth_session_id")
		}
		return Decision{Outcome: OutcomeFinalize, AuthSessionID: res.AuthSessionID}

	case res.Accepted() && res.OK() && res.Next.Kind == proto.NextKind_Stage && res.Next.Stage != "":
		return Decision{Outcome: OutcomeAdvance, Stage: res.Next.Stage}

	default:
		return protocolError(current, fmt.Sprintf("unexpected combination status=%d success=%d next=%s", res.Status, res.Success, res.Next))
	}
}

func protocolError(current proto.Stage, reason string) Decision {
	return Decision{
		Outcome: OutcomeProtocolError,
		Err:     proto.ErrProtocol.WithCausef("stage %s: %s", current, reason),
	}
}
