package sessioncontroller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/authctx"
	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/storage"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	cfg := &config.Config{}
	cfg.Media.SessionScratchDir = t.TempDir()
	cfg.Media.PageDurationMs = 20
	cfg.WebRTC.STUNServer = "stun:stun.l.google.com:19302"

	registry := bus.NewRegistry(func(string) bus.Bus { return bus.NewLocal() })
	return New(cfg, storage.NewMemory(), registry, nil, zap.NewNop())
}

func TestController_CreateSession_RejectsSecondForSameOwner(t *testing.T) {
	ctrl := newTestController(t)
	owner := authctx.UserContext{ID: "user-1"}

	id, err := ctrl.CreateSession(context.Background(), owner)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = ctrl.CreateSession(context.Background(), owner)
	assert.Error(t, err)
}

func TestController_DeleteSession_ClearsBothMaps(t *testing.T) {
	ctrl := newTestController(t)
	owner := authctx.UserContext{ID: "user-2"}

	id, err := ctrl.CreateSession(context.Background(), owner)
	require.NoError(t, err)

	require.NoError(t, ctrl.DeleteSession(id))

	_, ok := ctrl.GetSession(id)
	assert.False(t, ok)
	assert.False(t, ctrl.CheckUserHasSession(owner.ID))

	// owner can now create a new session
	_, err = ctrl.CreateSession(context.Background(), owner)
	assert.NoError(t, err)
}
