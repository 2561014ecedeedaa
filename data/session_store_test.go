package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/0xsequence/identity-flow/data"
	"github.com/0xsequence/identity-flow/proto"
	"github.com/goware/cachestore/memlru"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStore(t *testing.T) {
	ctx := context.Background()
	store, err := data.NewSessionStore(memlru.Backend(16), time.Minute)
	require.NoError(t, err)

	_, found, err := store.Load(ctx, "flow-1")
	require.NoError(t, err)
	assert.False(t, found)

	session := &proto.Session{ID: "S1", Stage: proto.Stage_Password}
	require.NoError(t, store.Save(ctx, "flow-1", session))

	// the store keeps its own copy
	session.Stage = proto.Stage_FaceRecognition

	loaded, found, err := store.Load(ctx, "flow-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, &proto.Session{ID: "S1", Stage: proto.Stage_Password}, loaded)

	loaded.Stage = proto.Stage_Failed
	again, _, err := store.Load(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, proto.Stage_Password, again.Stage)

	require.NoError(t, store.Delete(ctx, "flow-1"))
	_, found, err = store.Load(ctx, "flow-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionStore_Invalid(t *testing.T) {
	ctx := context.Background()
	store, err := data.NewSessionStore(memlru.Backend(16), 0)
	require.NoError(t, err)

	assert.Error(t, store.Save(ctx, "", proto.NewSession()))
	assert.Error(t, store.Save(ctx, "flow-1", nil))
	assert.Error(t, store.Save(ctx, "flow-1", &proto.Session{Stage: proto.Stage_Authenticated}))
}
