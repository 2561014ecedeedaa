// Package mock implements a scripted stage server that speaks the login protocol.
// It backs local development (cmd/stage-mock) and the client tests.
package mock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	identityflow "github.com/0xsequence/identity-flow"
	"github.com/0xsequence/identity-flow/o11y"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog"
	"github.com/go-chi/traceid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxUploadSize = 10 << 20

type Options struct {
	// Flow lists the stages that follow the email stage, in order.
	Flow []proto.Stage
	// Email, Password and MotionPattern are the accepted credentials. Empty values
	// accept any non-empty input.
	Email          string
	Password       string
	MotionPattern  []string
	SessionExpiry  time.Duration
	AllowedOrigins []string
	Logger         *zerolog.Logger
	Now            func() time.Time
}

// Reply is a canned response returned instead of the default stage logic.
type Reply struct {
	Status int
	Body   map[string]any
	// Raw is written verbatim when set, for bodies that are not valid JSON.
	Raw string
}

// Request is what the server received for one stage submission.
type Request struct {
	Stage     string
	SessionID string
	DeviceID  string
	Multipart bool
	Text      string
	Moves     []string
	Image     []byte
}

type loginSession struct {
	next      int
	deviceID  string
	createdAt time.Time
}

type Server struct {
	Log        zerolog.Logger
	HTTPServer *http.Server

	opts      Options
	startTime time.Time
	running   int32

	mu           sync.Mutex
	sessions     map[string]*loginSession
	authSessions map[string]time.Time
	devices      map[string]string
	scripted     map[string][]Reply
	requests     []Request
}

func New(opts Options) *Server {
	if opts.SessionExpiry <= 0 {
		opts.SessionExpiry = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	log := httplog.NewLogger("stage-mock", httplog.Options{
		LogLevel: zerolog.LevelDebugValue,
	})
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &Server{
		Log: log,
		HTTPServer: &http.Server{
			ReadTimeout:       45 * time.Second,
			WriteTimeout:      45 * time.Second,
			IdleTimeout:       45 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
		},
		opts:         opts,
		startTime:    time.Now(),
		sessions:     make(map[string]*loginSession),
		authSessions: make(map[string]time.Time),
		devices:      make(map[string]string),
		scripted:     make(map[string][]Reply),
	}
}

func (s *Server) Run(ctx context.Context, l net.Listener) error {
	if s.IsRunning() {
		return fmt.Errorf("mock: already running")
	}

	s.Log.Info().
		Str("op", "run").
		Str("ver", identityflow.VERSION).
		Msgf("-> mock: started stage server")

	atomic.StoreInt32(&s.running, 1)
	defer atomic.StoreInt32(&s.running, 0)

	s.HTTPServer.Handler = s.Handler()

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	err := s.HTTPServer.Serve(l)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Stop(timeoutCtx context.Context) {
	if !s.IsRunning() || s.IsStopping() {
		return
	}
	atomic.StoreInt32(&s.running, 2)

	s.Log.Info().Str("op", "stop").Msg("-> mock: stopping..")
	s.HTTPServer.Shutdown(timeoutCtx)
	s.Log.Info().Str("op", "stop").Msg("-> mock: stopped.")
}

func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.running) == 1
}

func (s *Server) IsStopping() bool {
	return atomic.LoadInt32(&s.running) == 2
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.StripSlashes)
	r.Use(traceid.Middleware)
	r.Use(httplog.RequestLogger(s.Log, []string{"/", "/ping", "/status", "/favicon.ico"}))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))
	r.Use(o11y.Middleware())

	r.Use(middleware.PageRoute("/health", http.HandlerFunc(s.healthHandler)))
	r.Use(middleware.PageRoute("/status", http.HandlerFunc(s.statusHandler)))

	r.Post("/api/login/motion_pattern/unique", s.uniqueHandler)
	r.Post("/api/login/{stage}", s.stageHandler)
	r.Post("/api/client/validate", s.validateHandler)

	return r
}

// Script queues replies for a stage. Queued replies are consumed one per request
// before the default stage logic applies again.
func (s *Server) Script(stage proto.Stage, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripted[string(stage)] = append(s.scripted[string(stage)], replies...)
}

func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.requests)
}

// AuthSessions returns the ids of auth sessions issued and not yet expired.
func (s *Server) AuthSessions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.opts.Now()
	ids := make([]string, 0, len(s.authSessions))
	for id, expiresAt := range s.authSessions {
		if now.Before(expiresAt) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (s *Server) stageHandler(w http.ResponseWriter, r *http.Request) {
	stage := chi.URLParam(r, "stage")
	log := o11y.LoggerFromContext(r.Context())

	req, err := decodeRequest(r, stage)
	if err != nil {
		log.Warn().Err(err).Str("stage", stage).Msg("mock: bad request")
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": 0, "msg": "Malformed request."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, *req)

	if replies := s.scripted[stage]; len(replies) > 0 {
		s.scripted[stage] = replies[1:]
		writeReply(w, replies[0])
		return
	}

	if stage == string(proto.Stage_Email) {
		s.handleEmail(w, req)
		return
	}
	s.handleStage(w, req)
}

func (s *Server) handleEmail(w http.ResponseWriter, req *Request) {
	if req.Text == "" || (s.opts.Email != "" && req.Text != s.opts.Email) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": 0, "msg": "Email not found, please try again."})
		return
	}

	sessionID := uuid.NewString()
	sess := &loginSession{deviceID: req.DeviceID, createdAt: s.opts.Now()}
	body := map[string]any{"success": 1, "session_id": sessionID}
	if len(s.opts.Flow) == 0 {
		body["next"] = nil
		body["auth_session_id"] = s.issueAuthSession()
	} else {
		s.sessions[sessionID] = sess
		body["next"] = string(s.opts.Flow[0])
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStage(w http.ResponseWriter, req *Request) {
	sess, ok := s.sessions[req.SessionID]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": 0, "msg": "Session not found, please start again."})
		return
	}
	if s.opts.Now().Sub(sess.createdAt) > s.opts.SessionExpiry {
		s.endSession(req.SessionID, sess)
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": 0, "msg": "Session expired, please start again."})
		return
	}
	if req.Stage != string(s.opts.Flow[sess.next]) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": 0, "msg": "Unexpected stage."})
		return
	}
	if req.DeviceID != "" {
		sess.deviceID = req.DeviceID
	}

	if !s.check(req) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": 0, "msg": "Verification failed, please try again."})
		return
	}

	if req.Stage == string(proto.Stage_MotionPattern) && sess.deviceID != "" {
		s.devices[sess.deviceID] = req.SessionID
	}

	sess.next++
	if sess.next < len(s.opts.Flow) {
		writeJSON(w, http.StatusOK, map[string]any{"success": 1, "next": string(s.opts.Flow[sess.next])})
		return
	}

	s.endSession(req.SessionID, sess)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         1,
		"next":            nil,
		"auth_session_id": s.issueAuthSession(),
	})
}

func (s *Server) check(req *Request) bool {
	switch proto.Stage(req.Stage) {
	case proto.Stage_Password:
		if s.opts.Password != "" {
			return req.Text == s.opts.Password
		}
		return req.Text != ""
	case proto.Stage_MotionPattern:
		if len(s.opts.MotionPattern) > 0 {
			return slices.Equal(req.Moves, s.opts.MotionPattern)
		}
		return len(req.Moves) > 0
	case proto.Stage_FaceRecognition:
		return len(req.Image) > 0
	default:
		return req.Text != "" || len(req.Moves) > 0 || len(req.Image) > 0
	}
}

func (s *Server) endSession(sessionID string, sess *loginSession) {
	delete(s.sessions, sessionID)
	if sess.deviceID != "" && s.devices[sess.deviceID] == sessionID {
		delete(s.devices, sess.deviceID)
	}
}

func (s *Server) issueAuthSession() string {
	id := uuid.NewString()
	s.authSessions[id] = s.opts.Now().Add(s.opts.SessionExpiry)
	return id
}

func (s *Server) uniqueHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DeviceID string `json:"pico_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&body); err != nil || body.DeviceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": 0, "msg": "pico_id is required."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionID, ok := s.devices[body.DeviceID]; ok {
		if _, live := s.sessions[sessionID]; live {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": 0})
			return
		}
		delete(s.devices, body.DeviceID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": 1})
}

func (s *Server) validateHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AuthSessionID string `json:"auth_session_id"`
	}
	_ = json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&body)

	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.authSessions[body.AuthSessionID]
	if !ok || !s.opts.Now().Before(expiresAt) {
		delete(s.authSessions, body.AuthSessionID)
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": 0,
			"next":    string(proto.Stage_Email),
			"msg":     "Auth session expired.",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": 1})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	pending := len(s.sessions)
	s.mu.Unlock()

	status := map[string]interface{}{
		"startTime": s.startTime,
		"uptime":    uint64(time.Now().UTC().Sub(s.startTime).Seconds()),
		"ver":       identityflow.VERSION,
		"sessions":  pending,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(status)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func decodeRequest(r *http.Request, stage string) (*Request, error) {
	req := &Request{Stage: stage}

	if err := r.ParseMultipartForm(maxUploadSize); err == nil {
		req.Multipart = true
		req.SessionID = r.FormValue("session_id")
		req.DeviceID = r.FormValue("pico_id")
		f, _, err := r.FormFile("photo")
		if err != nil {
			return nil, fmt.Errorf("photo: %w", err)
		}
		defer f.Close()
		req.Image, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read photo: %w", err)
		}
		return req, nil
	}

	var body struct {
		Data      json.RawMessage `json:"data"`
		SessionID string          `json:"session_id"`
		DeviceID  string          `json:"pico_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxUploadSize)).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	req.SessionID = body.SessionID
	req.DeviceID = body.DeviceID

	if len(body.Data) == 0 || string(body.Data) == "null" {
		return req, nil
	}
	switch proto.Stage(stage) {
	case proto.Stage_MotionPattern:
		if err := json.Unmarshal(body.Data, &req.Moves); err != nil {
			return nil, fmt.Errorf("decode moves: %w", err)
		}
	case proto.Stage_FaceRecognition:
		var encoded string
		if err := json.Unmarshal(body.Data, &encoded); err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		img, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		req.Image = img
	default:
		if err := json.Unmarshal(body.Data, &req.Text); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
	}
	return req, nil
}

func writeReply(w http.ResponseWriter, reply Reply) {
	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if reply.Raw != "" || reply.Body == nil {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply.Raw)
		return
	}
	writeJSON(w, status, reply.Body)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
