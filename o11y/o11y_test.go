package o11y_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/0xsequence/identity-flow/o11y"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/go-chi/traceid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrace_Nesting(t *testing.T) {
	ctx, root := o11y.Trace(context.Background(), "root", o11y.WithTraceID("trace-1"))
	_, child := o11y.Trace(ctx, "child", o11y.WithAnnotation("stage", "password"))
	child.RecordError(errors.New("boom"))
	child.End()

	log := o11y.LoggerFromContext(ctx)
	log.Info().Msg("hello")
	root.End()

	b, err := json.Marshal(root)
	require.NoError(t, err)

	var out struct {
		Name     string            `json:"name"`
		TraceID  string            `json:"trace_id"`
		Logs     []json.RawMessage `json:"logs"`
		Children []struct {
			Name        string            `json:"name"`
			TraceID     string            `json:"trace_id"`
			Annotations map[string]string `json:"annotations"`
			Metadata    map[string]any    `json:"metadata"`
		} `json:"children"`
	}
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "root", out.Name)
	require.Len(t, out.Children, 1)
	assert.Equal(t, "trace-1", out.Children[0].TraceID)
	assert.Equal(t, "password", out.Children[0].Annotations["stage"])
	assert.Equal(t, "boom", out.Children[0].Metadata["exception.message"])
	require.Len(t, out.Logs, 1)
	assert.Contains(t, string(out.Logs[0]), `"message":"hello"`)
}

func TestLoggerFromContext_NoSpan(t *testing.T) {
	log := o11y.LoggerFromContext(context.Background())
	// disabled logger must not panic
	log.Info().Msg("dropped")
}

func TestWrapClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	ctx, root := o11y.Trace(context.Background(), "root")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/login/motion_pattern/", nil)
	require.NoError(t, err)

	res, err := o11y.WrapClient(srv.Client()).Do(req)
	require.NoError(t, err)
	res.Body.Close()

	require.Len(t, root.Children, 1)
	span := root.Children[0]
	assert.Equal(t, o11y.SpanKindClient, span.Kind)
	assert.Equal(t, http.StatusTeapot, span.Status)
	assert.Equal(t, "motion_pattern", span.Annotations["stage"])
}

func TestMiddleware(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log := o11y.LoggerFromContext(r.Context())
		log.Info().Msg("handling")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":1}`))
	})
	srv := httptest.NewServer(traceid.Middleware(o11y.Middleware()(handler)))
	defer srv.Close()

	res, err := http.Post(srv.URL+"/api/login/password/", "application/json", nil)
	require.NoError(t, err)
	defer res.Body.Close()

	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	var span struct {
		Kind        string            `json:"kind"`
		Status      int               `json:"status"`
		Annotations map[string]string `json:"annotations"`
		Logs        []json.RawMessage `json:"logs"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.Header.Get(o11y.SpanHeader)), &span))
	assert.Equal(t, "server", span.Kind)
	assert.Equal(t, http.StatusCreated, span.Status)
	assert.Equal(t, "password", span.Annotations["stage"])
	assert.Len(t, span.Logs, 1)

	var body map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.EqualValues(t, 1, body["success"])
}

type stubSender struct {
	res *proto.StageResponse
	err error
}

func (s stubSender) Send(ctx context.Context, req *proto.StageRequest) (*proto.StageResponse, error) {
	return s.res, s.err
}

func TestTracedSender(t *testing.T) {
	ctx, root := o11y.Trace(context.Background(), "root")
	sender := o11y.NewTracedSender("rpc.Client", stubSender{
		res: &proto.StageResponse{Status: http.StatusOK, Success: 1, Next: proto.NextStage(proto.Stage_FaceRecognition)},
	})

	res, err := sender.Send(ctx, &proto.StageRequest{Stage: proto.Stage_MotionPattern, DeviceID: "pico-1"})
	require.NoError(t, err)
	assert.Equal(t, proto.Stage_FaceRecognition, res.Next.Stage)

	require.Len(t, root.Children, 1)
	span := root.Children[0]
	assert.Equal(t, "rpc.Client.Send", span.Name)
	assert.Equal(t, "motion_pattern", span.Annotations["stage"])
	assert.Equal(t, "pico-1", span.Annotations["device_id"])
	assert.Equal(t, "face_recognition", span.Annotations["next"])
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := o11y.NewMetrics(reg)

	m.ObserveSubmission(proto.Stage_Password, "retry", 20*time.Millisecond)
	m.ObserveSubmission(proto.Stage_Password, "retry", 30*time.Millisecond)
	m.ObserveSubmission(proto.Stage_Password, "advance", 10*time.Millisecond)
	m.ObserveCapture("ok")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Submissions().WithLabelValues("password", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Submissions().WithLabelValues("password", "advance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Captures().WithLabelValues("ok")))

	count, err := testutil.GatherAndCount(reg, "identityflow_stage_submit_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
