package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/authctx"
	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/storage"
)

func newTestSession(t *testing.T) (*Session, authctx.UserContext) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Media.SessionScratchDir = t.TempDir()
	cfg.Media.PageDurationMs = 20
	cfg.WebRTC.STUNServer = "stun:stun.l.google.com:19302"

	owner := authctx.UserContext{ID: "owner-1", Name: "Owner"}
	s, err := New("test-session", cfg, owner, storage.NewMemory(), bus.NewLocal(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, owner
}

func TestSession_CreatePeer_RejectsDuplicateActiveOwner(t *testing.T) {
	s, owner := newTestSession(t)

	peerID, ready, err := s.CreatePeer(owner)
	require.NoError(t, err)
	require.NoError(t, <-ready)

	pc, ok := s.peer(peerID)
	require.True(t, ok)
	pc.SetActiveForTest()

	_, _, err = s.CreatePeer(owner)
	assert.Error(t, err)
}

func TestSession_CreatePeer_EnforcesListenerCap(t *testing.T) {
	s, _ := newTestSession(t)

	for i := 0; i < MaxListeners; i++ {
		listener := authctx.UserContext{ID: "listener-" + string(rune('a'+i))}
		_, ready, err := s.CreatePeer(listener)
		require.NoError(t, err)
		require.NoError(t, <-ready)
	}

	_, _, err := s.CreatePeer(authctx.UserContext{ID: "one-too-many"})
	assert.Error(t, err)
}

func TestSession_QueueOps_PublishCursor(t *testing.T) {
	s, _ := newTestSession(t)

	ch, unsub := s.GetSender().Subscribe(context.Background())
	defer unsub()

	require.NoError(t, s.AddToQueue("key-1", "Track One"))

	select {
	case msg := <-ch:
		assert.Equal(t, "0", msg)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cursor publish")
	}

	items := s.GetQueue()
	require.Len(t, items, 1)
	assert.Equal(t, "key-1", items[0].Key)
}
