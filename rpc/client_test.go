package rpc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/0xsequence/identity-flow/auth"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/0xsequence/identity-flow/rpc"
	"github.com/0xsequence/identity-flow/rpc/mock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpegBytes = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F'}

func newMock(t *testing.T, opts mock.Options) (*mock.Server, string) {
	t.Helper()
	log := zerolog.Nop()
	opts.Logger = &log
	srv := mock.New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func TestClient_Send(t *testing.T) {
	srv, baseURL := newMock(t, mock.Options{
		Flow:  []proto.Stage{proto.Stage_FaceRecognition},
		Email: "ada@example.com",
	})
	client := rpc.NewClient(baseURL, rpc.NewTransport(nil), 5*time.Second)
	ctx := context.Background()

	res, err := client.Send(ctx, &proto.StageRequest{Stage: proto.Stage_Email, Data: proto.TextPayload("nobody@example.com")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, res.Status)
	assert.Equal(t, 0, res.Success)
	assert.Equal(t, proto.NextKind_Absent, res.Next.Kind)
	assert.Equal(t, "Email not found, please try again.", res.Message)

	res, err = client.Send(ctx, &proto.StageRequest{Stage: proto.Stage_Email, Data: proto.TextPayload("ada@example.com"), DeviceID: "pico-1"})
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Equal(t, proto.NextStage(proto.Stage_FaceRecognition), res.Next)
	require.NotEmpty(t, res.SessionID)

	res, err = client.Send(ctx, &proto.StageRequest{
		Stage:     proto.Stage_FaceRecognition,
		Data:      proto.ImagePayload(jpegBytes),
		SessionID: res.SessionID,
	})
	require.NoError(t, err)
	assert.Equal(t, proto.NextKind_Null, res.Next.Kind)
	assert.NotEmpty(t, res.AuthSessionID)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "pico-1", reqs[1].DeviceID)
	assert.False(t, reqs[2].Multipart)
	assert.Equal(t, jpegBytes, reqs[2].Image)
}

func TestClient_SendMultipart(t *testing.T) {
	srv, baseURL := newMock(t, mock.Options{Flow: []proto.Stage{proto.Stage_FaceRecognition}})
	client := rpc.NewClient(baseURL, nil, 0, rpc.WithMultipartImages())
	ctx := context.Background()

	res, err := client.Send(ctx, &proto.StageRequest{Stage: proto.Stage_Email, Data: proto.TextPayload("ada@example.com")})
	require.NoError(t, err)

	res, err = client.Send(ctx, &proto.StageRequest{
		Stage:     proto.Stage_FaceRecognition,
		Data:      proto.ImagePayload(jpegBytes),
		SessionID: res.SessionID,
		DeviceID:  "pico-9",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.AuthSessionID)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[1].Multipart)
	assert.Equal(t, "pico-9", reqs[1].DeviceID)
	assert.Equal(t, jpegBytes, reqs[1].Image)
}

func TestClient_SendErrors(t *testing.T) {
	srv, baseURL := newMock(t, mock.Options{})
	client := rpc.NewClient(baseURL, nil, time.Second)
	ctx := context.Background()
	req := &proto.StageRequest{Stage: proto.Stage_Email, Data: proto.TextPayload("ada@example.com")}

	srv.Script(proto.Stage_Email,
		mock.Reply{Status: http.StatusBadGateway, Raw: "<html>bad gateway</html>"},
		mock.Reply{Status: http.StatusOK, Raw: "not json"},
	)

	_, err := client.Send(ctx, req)
	assert.ErrorIs(t, err, proto.ErrTransientTransport)

	_, err = client.Send(ctx, req)
	assert.ErrorIs(t, err, proto.ErrProtocol)

	_, err = client.Send(ctx, &proto.StageRequest{Stage: proto.Stage_Authenticated})
	assert.ErrorIs(t, err, proto.ErrState)

	unreachable := rpc.NewClient("http://127.0.0.1:1", nil, time.Second)
	_, err = unreachable.Send(ctx, req)
	assert.ErrorIs(t, err, proto.ErrTransientTransport)
}

func TestClient_ValidateAuthSession(t *testing.T) {
	_, baseURL := newMock(t, mock.Options{})
	client := rpc.NewClient(baseURL, nil, time.Second)
	ctx := context.Background()

	res, err := client.Send(ctx, &proto.StageRequest{Stage: proto.Stage_Email, Data: proto.TextPayload("ada@example.com")})
	require.NoError(t, err)
	require.NotEmpty(t, res.AuthSessionID)

	assert.NoError(t, client.ValidateAuthSession(ctx, res.AuthSessionID))
	assert.ErrorIs(t, client.ValidateAuthSession(ctx, "unknown"), proto.ErrAuthSessionInvalid)
	assert.ErrorIs(t, client.ValidateAuthSession(ctx, ""), proto.ErrAuthSessionInvalid)
}

func TestClient_CheckDeviceUnique(t *testing.T) {
	_, baseURL := newMock(t, mock.Options{
		Flow: []proto.Stage{proto.Stage_MotionPattern, proto.Stage_Password},
	})
	client := rpc.NewClient(baseURL, nil, time.Second)
	ctx := context.Background()

	unique, err := client.CheckDeviceUnique(ctx, "pico-1")
	require.NoError(t, err)
	assert.True(t, unique)

	res, err := client.Send(ctx, &proto.StageRequest{Stage: proto.Stage_Email, Data: proto.TextPayload("ada@example.com")})
	require.NoError(t, err)
	_, err = client.Send(ctx, &proto.StageRequest{
		Stage:     proto.Stage_MotionPattern,
		Data:      proto.MovesPayload([]string{"up", "left"}),
		SessionID: res.SessionID,
		DeviceID:  "pico-1",
	})
	require.NoError(t, err)

	unique, err = client.CheckDeviceUnique(ctx, "pico-1")
	require.NoError(t, err)
	assert.False(t, unique)
}

type navigator struct {
	mu     sync.Mutex
	events []string
}

func (n *navigator) add(e string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *navigator) OnRetry(_ context.Context, stage proto.Stage, _ string) {
	n.add("retry:" + string(stage))
}
func (n *navigator) OnAdvance(_ context.Context, stage proto.Stage) { n.add("advance:" + string(stage)) }
func (n *navigator) OnAuthenticated(context.Context, string)        { n.add("authenticated") }
func (n *navigator) OnProtocolError(context.Context, error)         { n.add("protocol_error") }
func (n *navigator) OnTransientError(context.Context, error)        { n.add("transient") }

func TestClient_FullFlow(t *testing.T) {
	_, baseURL := newMock(t, mock.Options{
		Flow:          []proto.Stage{proto.Stage_Password, proto.Stage_MotionPattern, proto.Stage_FaceRecognition},
		Password:      "hunter2",
		MotionPattern: []string{"up", "up", "left"},
	})
	client := rpc.NewClient(baseURL, rpc.NewTransport(nil), time.Second)
	nav := &navigator{}
	o := auth.NewOrchestrator(client, nav, auth.WithDeviceID("pico-1"))
	ctx := context.Background()

	steps := []struct {
		stage   proto.Stage
		payload proto.Payload
		outcome auth.Outcome
	}{
		{proto.Stage_Email, proto.TextPayload("ada@example.com"), auth.OutcomeAdvance},
		{proto.Stage_Password, proto.TextPayload("wrong"), auth.OutcomeRetry},
		{proto.Stage_Password, proto.TextPayload("hunter2"), auth.OutcomeAdvance},
		{proto.Stage_MotionPattern, proto.MovesPayload([]string{"up", "up", "left"}), auth.OutcomeAdvance},
		{proto.Stage_FaceRecognition, proto.ImagePayload(jpegBytes), auth.OutcomeFinalize},
	}
	for _, step := range steps {
		decision, err := o.Submit(ctx, step.stage, step.payload)
		require.NoError(t, err, step.stage)
		assert.Equal(t, step.outcome, decision.Outcome, step.stage)
	}

	session := o.Session()
	assert.Equal(t, proto.Stage_Authenticated, session.Stage)
	assert.NoError(t, client.ValidateAuthSession(ctx, session.AuthSessionID))
	assert.Equal(t, []string{
		"advance:password",
		"retry:password",
		"advance:motion_pattern",
		"advance:face_recognition",
		"authenticated",
	}, nav.events)
}
