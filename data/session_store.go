package data

import (
	"context"
	"fmt"
	"time"

	"github.com/0xsequence/identity-flow/auth"
	"github.com/0xsequence/identity-flow/o11y"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/goware/cachestore"
	"github.com/goware/cachestore/cachestorectl"
)

const DefaultSessionTTL = 5 * time.Minute

// SessionStore keeps session snapshots keyed by flow id so an interrupted flow can be
// resumed until the server side login session would have expired.
type SessionStore struct {
	store cachestore.Store[*proto.Session]
	ttl   time.Duration
}

var _ auth.SessionStore = (*SessionStore)(nil)

func NewSessionStore(cacheBackend cachestore.Backend, ttl time.Duration) (*SessionStore, error) {
	store, err := cachestorectl.Open[*proto.Session](cacheBackend)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		store: o11y.NewTracedCache("sessions", store),
		ttl:   ttl,
	}, nil
}

func (s *SessionStore) Save(ctx context.Context, flowID string, session *proto.Session) error {
	if flowID == "" {
		return fmt.Errorf("flow id is required")
	}
	if session == nil {
		return fmt.Errorf("session is required")
	}
	if err := session.Validate(); err != nil {
		return fmt.Errorf("invalid session: %w", err)
	}
	return s.store.SetEx(ctx, sessionKey(flowID), session.Clone(), s.ttl)
}

func (s *SessionStore) Load(ctx context.Context, flowID string) (*proto.Session, bool, error) {
	session, found, err := s.store.Get(ctx, sessionKey(flowID))
	if err != nil {
		return nil, false, err
	}
	if !found || session == nil {
		return nil, false, nil
	}
	return session.Clone(), true, nil
}

func (s *SessionStore) Delete(ctx context.Context, flowID string) error {
	return s.store.Delete(ctx, sessionKey(flowID))
}

func sessionKey(flowID string) string {
	return "session:" + flowID
}
