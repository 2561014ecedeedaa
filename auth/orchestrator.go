package auth

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/0xsequence/identity-flow/proto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Policy struct {
	// FatalProtocolErrors moves the flow to the failed stage on any protocol error.
	// Otherwise the flow stays on the current stage and the caller may retry.
	FatalProtocolErrors bool
}

// Orchestrator owns the session of one verification flow and drives it through the
// stages the server asks for.
type Orchestrator struct {
	log      zerolog.Logger
	sender   Sender
	nav      Navigator
	policy   Policy
	deviceID string
	attempts AttemptRecorder
	store    SessionStore
	metrics  Metrics
	now      func() time.Time

	mu       sync.Mutex
	flowID   string
	session  *proto.Session
	inFlight bool
}

type Option func(*Orchestrator)

func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithPolicy(policy Policy) Option {
	return func(o *Orchestrator) { o.policy = policy }
}

// WithDeviceID sets the capture/sensor device id sent with every submission.
func WithDeviceID(deviceID string) Option {
	return func(o *Orchestrator) { o.deviceID = deviceID }
}

func WithAttemptRecorder(r AttemptRecorder) Option {
	return func(o *Orchestrator) { o.attempts = r }
}

func WithSessionStore(s SessionStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

func WithMetrics(m Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithFlowID(flowID string) Option {
	return func(o *Orchestrator) { o.flowID = flowID }
}

func NewOrchestrator(sender Sender, nav Navigator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		log:     zerolog.Nop(),
		sender:  sender,
		nav:     nav,
		now:     time.Now,
		session: proto.NewSession(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.flowID == "" {
		o.flowID = uuid.NewString()
	}
	return o
}

// Session returns a copy of the current session.
func (o *Orchestrator) Session() *proto.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session.Clone()
}

func (o *Orchestrator) FlowID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flowID
}

// Submit sends the data collected for the given stage and applies the server's answer.
//
// The returned error is non-nil for caller misuse (proto.ErrState), for failures to
// reach the server (proto.ErrTransientTransport, the session is untouched) and for
// protocol violations (proto.ErrProtocol). A rejected attempt is not an error: the
// decision carries OutcomeRetry and the message to show.
func (o *Orchestrator) Submit(ctx context.Context, stage proto.Stage, payload proto.Payload) (Decision, error) {
	req, err := o.begin(stage, payload)
	if err != nil {
		return Decision{}, err
	}

	log := o.log.With().Str("op", "submit").Str("flow", o.FlowID()).Str("stage", string(stage)).Logger()
	start := o.now()

	res, err := o.sender.Send(ctx, req)
	if err != nil && !errors.Is(err, proto.ErrProtocol) {
		o.finish()
		if !errors.Is(err, proto.ErrTransientTransport) {
			err = proto.ErrTransientTransport.WithCause(err)
		}
		log.Warn().Err(err).Msg("-> auth: stage submission did not reach the server")
		o.observe(stage, "transient", start)
		o.nav.OnTransientError(ctx, err)
		return Decision{}, err
	}

	var decision Decision
	if err != nil {
		decision = Decision{Outcome: OutcomeProtocolError, Err: err}
	} else {
		decision = Resolve(res, stage)
	}

	snapshot, flowID := o.apply(stage, res, decision)
	o.observe(stage, decision.Outcome.String(), start)

	log.Info().
		Str("outcome", decision.Outcome.String()).
		Str("next", string(snapshot.Stage)).
		Msg("-> auth: stage submitted")

	o.persist(ctx, flowID, snapshot)
	o.record(ctx, flowID, stage, decision, snapshot)

	switch decision.Outcome {
	case OutcomeRetry:
		o.nav.OnRetry(ctx, stage, decision.Message)
	case OutcomeAdvance:
		o.nav.OnAdvance(ctx, decision.Stage)
	case OutcomeFinalize:
		o.nav.OnAuthenticated(ctx, decision.AuthSessionID)
	case OutcomeProtocolError:
		log.Error().Err(decision.Err).Msg("-> auth: protocol error")
		o.nav.OnProtocolError(ctx, decision.Err)
		return decision, decision.Err
	}
	return decision, nil
}

// Reset starts a new flow from the first stage.
func (o *Orchestrator) Reset(ctx context.Context) error {
	o.mu.Lock()
	if o.inFlight {
		o.mu.Unlock()
		return proto.ErrState.WithCausef("cannot reset while a submission is in flight")
	}
	oldFlowID := o.flowID
	o.flowID = uuid.NewString()
	o.session = proto.NewSession()
	o.mu.Unlock()

	if o.store != nil {
		if err := o.store.Delete(ctx, oldFlowID); err != nil {
			return err
		}
	}
	return nil
}

// Resume restores a flow previously persisted in the session store.
func (o *Orchestrator) Resume(ctx context.Context, flowID string) error {
	if o.store == nil {
		return proto.ErrState.WithCausef("no session store configured")
	}
	session, found, err := o.store.Load(ctx, flowID)
	if err != nil {
		return err
	}
	if !found {
		return proto.ErrState.WithCausef("flow %s not found", flowID)
	}
	if err := session.Validate(); err != nil {
		return proto.ErrState.WithCausef("invalid stored session: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return proto.ErrState.WithCausef("cannot resume while a submission is in flight")
	}
	o.flowID = flowID
	o.session = session
	return nil
}

func (o *Orchestrator) begin(stage proto.Stage, payload proto.Payload) (*proto.StageRequest, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session.Stage.IsTerminal() {
		return nil, proto.ErrState.WithCausef("flow already %s", o.session.Stage)
	}
	if stage != o.session.Stage {
		return nil, proto.ErrState.WithCausef("submitted stage %s, current stage is %s", stage, o.session.Stage)
	}
	if o.inFlight {
		return nil, proto.ErrState.WithCausef("stage %s already has a submission in flight", stage)
	}
	if _, err := stage.WireName(); err != nil {
		return nil, proto.ErrState.WithCause(err)
	}
	o.inFlight = true

	return &proto.StageRequest{
		Stage:     stage,
		Data:      payload,
		SessionID: o.session.ID,
		DeviceID:  o.deviceID,
	}, nil
}

func (o *Orchestrator) finish() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false
}

// apply mutates the session for a decision under the lock and returns a snapshot.
func (o *Orchestrator) apply(stage proto.Stage, res *proto.StageResponse, decision Decision) (*proto.Session, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	defer func() { o.inFlight = false }()

	// later stages depend on the id issued by the first one
	if stage == proto.Stage_Email && res != nil && res.SessionID != "" {
		o.session.ID = res.SessionID
	}

	switch decision.Outcome {
	case OutcomeRetry:
	case OutcomeAdvance:
		o.session.Stage = decision.Stage
	case OutcomeFinalize:
		if decision.AuthSessionID == "" {
			panic("auth: finalize decision without auth session id")
		}
		o.session.AuthSessionID = decision.AuthSessionID
		o.session.Stage = proto.Stage_Authenticated
	case OutcomeProtocolError:
		if o.policy.FatalProtocolErrors {
			o.session.ID = ""
			o.session.Stage = proto.Stage_Failed
		}
	default:
		panic("auth: unknown outcome " + decision.Outcome.String())
	}
	return o.session.Clone(), o.flowID
}

func (o *Orchestrator) persist(ctx context.Context, flowID string, snapshot *proto.Session) {
	if o.store == nil {
		return
	}
	var err error
	if snapshot.Stage.IsTerminal() {
		err = o.store.Delete(ctx, flowID)
	} else {
		err = o.store.Save(ctx, flowID, snapshot)
	}
	if err != nil {
		o.log.Warn().Err(err).Str("op", "persist").Str("flow", flowID).Msg("-> auth: failed to persist session")
	}
}

func (o *Orchestrator) record(ctx context.Context, flowID string, stage proto.Stage, decision Decision, snapshot *proto.Session) {
	if o.attempts == nil {
		return
	}
	attempt := &Attempt{
		FlowID:    flowID,
		SessionID: snapshot.ID,
		Stage:     stage,
		Outcome:   decision.Outcome.String(),
		Message:   decision.Message,
		Next:      snapshot.Stage,
		CreatedAt: o.now(),
	}
	if decision.Err != nil {
		attempt.Message = decision.Err.Error()
	}
	if err := o.attempts.RecordAttempt(ctx, attempt); err != nil {
		o.log.Warn().Err(err).Str("op", "record").Str("flow", flowID).Msg("-> auth: failed to record attempt")
	}
}

func (o *Orchestrator) observe(stage proto.Stage, outcome string, start time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.ObserveSubmission(stage, outcome, o.now().Sub(start))
}
