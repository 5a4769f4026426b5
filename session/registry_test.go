package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRedisRegistryLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := NewRedisRegistry(mr.Addr(), "", time.Minute, discardLogger())
	require.NotNil(t, reg)
	defer reg.Close()

	ctx := context.Background()
	res := Result{
		SessionID: "abc-123",
		Server:    "wss://voice.example/ws",
		Voice:     "NATF2.pt",
		StartedAt: time.Now(),
	}
	key := sessionKey(res.SessionID)

	require.NoError(t, reg.Register(ctx, res))
	assert.Equal(t, "connected", mr.HGet(key, "status"))
	assert.Equal(t, "NATF2.pt", mr.HGet(key, "voice"))
	member, err := mr.IsMember(activeSessionsKey, res.SessionID)
	require.NoError(t, err)
	assert.True(t, member)
	assert.Greater(t, mr.TTL(key), time.Duration(0))

	active, err := reg.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc-123"}, active)

	res.Status = StatusTimeout
	res.ChunksSent = 42
	res.DurationSeconds = 3.5
	require.NoError(t, reg.Finish(ctx, res))
	assert.Equal(t, "timeout", mr.HGet(key, "status"))
	assert.Equal(t, "42", mr.HGet(key, "chunks_sent"))
	assert.Equal(t, "3.5", mr.HGet(key, "duration_seconds"))

	member, err = mr.IsMember(activeSessionsKey, res.SessionID)
	require.NoError(t, err)
	assert.False(t, member)

	active, err = reg.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRedisRegistryWithoutTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := NewRedisRegistry(mr.Addr(), "", 0, discardLogger())
	require.NotNil(t, reg)
	defer reg.Close()

	require.NoError(t, reg.Register(context.Background(), Result{SessionID: "x", StartedAt: time.Now()}))
	assert.Equal(t, time.Duration(0), mr.TTL(sessionKey("x")))
}

func TestRedisRegistryUnreachable(t *testing.T) {
	assert.Nil(t, NewRedisRegistry("127.0.0.1:1", "", time.Minute, discardLogger()))
}

func TestRedisRegistryReportsErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	reg := NewRedisRegistry(mr.Addr(), "", time.Minute, discardLogger())
	require.NotNil(t, reg)
	defer reg.Close()

	mr.SetError("READONLY")
	err := reg.Register(context.Background(), Result{SessionID: "x", StartedAt: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "register session x")
}
