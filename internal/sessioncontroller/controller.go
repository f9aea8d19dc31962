// Package sessioncontroller implements the top-level registry of live
// Sessions and the one-session-per-user ownership invariant.
package sessioncontroller

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/authctx"
	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/ingest"
	"github.com/fzcomet206/musicshare/internal/session"
	"github.com/fzcomet206/musicshare/internal/storage"
)

// Controller owns every live Session plus the media ingestor they share.
// Lock order is always sessionsMu before userSessionsMu, never the reverse.
type Controller struct {
	cfg    *config.Config
	blobs  storage.BlobStore
	events *bus.Registry
	logger *zap.Logger

	sessionsMu sync.Mutex
	sessions   map[string]*session.Session

	userSessionsMu sync.Mutex
	userSessions   map[string]string // userID -> sessionID

	ingestor *ingest.MediaIngestor
}

func New(cfg *config.Config, blobs storage.BlobStore, events *bus.Registry, ingestor *ingest.MediaIngestor, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:          cfg,
		blobs:        blobs,
		events:       events,
		logger:       logger,
		sessions:     make(map[string]*session.Session),
		userSessions: make(map[string]string),
		ingestor:     ingestor,
	}
}

func (c *Controller) Ingestor() *ingest.MediaIngestor { return c.ingestor }

// CreateSession fails with SessionExists if owner already has a live
// session.
func (c *Controller) CreateSession(ctx context.Context, owner authctx.UserContext) (string, error) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	c.userSessionsMu.Lock()
	defer c.userSessionsMu.Unlock()

	if _, exists := c.userSessions[owner.ID]; exists {
		return "", apperr.New(apperr.SessionExists, owner.ID)
	}

	sessionID := uuid.New().String()
	sess, err := session.New(sessionID, c.cfg, owner, c.blobs, c.events.Get(sessionBusKey(sessionID)), c.logger)
	if err != nil {
		return "", err
	}

	c.sessions[sessionID] = sess
	c.userSessions[owner.ID] = sessionID
	return sessionID, nil
}

func sessionBusKey(sessionID string) string { return "session:" + sessionID }

func (c *Controller) GetSession(sessionID string) (*session.Session, bool) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	sess, ok := c.sessions[sessionID]
	return sess, ok
}

func (c *Controller) GetSessions() []*session.Session {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	out := make([]*session.Session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		out = append(out, sess)
	}
	return out
}

func (c *Controller) GetUserSession(userID string) (string, bool) {
	c.userSessionsMu.Lock()
	defer c.userSessionsMu.Unlock()
	sessionID, ok := c.userSessions[userID]
	return sessionID, ok
}

func (c *Controller) CheckUserOwnSession(userID, sessionID string) bool {
	owned, ok := c.GetUserSession(userID)
	return ok && owned == sessionID
}

func (c *Controller) CheckUserHasSession(userID string) bool {
	_, ok := c.GetUserSession(userID)
	return ok
}

// DeleteSession stops the session's broadcaster, purges its scratch
// directory, and removes it from both maps. Only the owner may call this at
// the HTTP layer; the controller itself does not re-check ownership.
func (c *Controller) DeleteSession(sessionID string) error {
	c.sessionsMu.Lock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		c.sessionsMu.Unlock()
		return apperr.New(apperr.SessionNotFound, sessionID)
	}
	delete(c.sessions, sessionID)
	c.sessionsMu.Unlock()

	c.userSessionsMu.Lock()
	delete(c.userSessions, sess.Owner().ID)
	c.userSessionsMu.Unlock()

	sess.Close()
	c.events.Delete(sessionBusKey(sessionID))
	return nil
}

// Shutdown stops every live session, for graceful process exit.
func (c *Controller) Shutdown(ctx context.Context) {
	c.sessionsMu.Lock()
	sessions := make([]*session.Session, 0, len(c.sessions))
	for _, sess := range c.sessions {
		sessions = append(sessions, sess)
	}
	c.sessions = make(map[string]*session.Session)
	c.sessionsMu.Unlock()

	c.userSessionsMu.Lock()
	c.userSessions = make(map[string]string)
	c.userSessionsMu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}
