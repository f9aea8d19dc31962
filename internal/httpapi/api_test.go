package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/authctx"
	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/metadatastore"
	"github.com/fzcomet206/musicshare/internal/sessioncontroller"
	"github.com/fzcomet206/musicshare/internal/storage"
)

type fakeMetadataStore struct {
	byUser map[string][]metadatastore.FileRecord
}

func (s *fakeMetadataStore) FindByUserURL(context.Context, string, string) (*metadatastore.FileRecord, error) {
	return nil, nil
}
func (s *fakeMetadataStore) Insert(context.Context, metadatastore.FileRecord) error { return nil }
func (s *fakeMetadataStore) ListByUser(_ context.Context, userID string) ([]metadatastore.FileRecord, error) {
	return s.byUser[userID], nil
}
func (s *fakeMetadataStore) DeleteByKey(context.Context, string) error { return nil }
func (s *fakeMetadataStore) EnsureUser(context.Context, authctx.UserContext, string, string) error {
	return nil
}

func newTestAPI(t *testing.T) (*API, *http.ServeMux) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Media.SessionScratchDir = t.TempDir()
	cfg.Media.PageDurationMs = 20
	cfg.WebRTC.STUNServer = "stun:stun.l.google.com:19302"

	registry := bus.NewRegistry(func(string) bus.Bus { return bus.NewLocal() })
	controller := sessioncontroller.New(cfg, storage.NewMemory(), registry, nil, zap.NewNop())
	metadata := &fakeMetadataStore{byUser: map[string][]metadatastore.FileRecord{
		"dev:alice": {{Key: "k1", Title: "Track One"}},
	}}

	resolver := NewUserResolver(config.AuthConfig{DevBypass: true}, zap.NewNop())
	api := New(controller, metadata, resolver, nil, zap.NewNop())
	return api, api.Routes()
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestControlEndpointsRejectMissingToken(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/control/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateSessionAndQueueFlow(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/control/create_session", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var created struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)

	// Second create for the same user conflicts.
	rec = doJSON(t, mux, http.MethodGet, "/control/create_session", "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, mux, http.MethodPost, "/control/add_to_queue", "alice", map[string]string{
		"session_id": created.SessionID,
		"key":        "k1",
		"title":      "Track One",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// A different user cannot mutate alice's queue.
	rec = doJSON(t, mux, http.MethodPost, "/control/add_to_queue", "mallory", map[string]string{
		"session_id": created.SessionID,
		"key":        "k2",
		"title":      "Not Yours",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/session/queue?session_id="+created.SessionID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var queueResp struct {
		Queue [][2]string `json:"queue"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &queueResp))
	require.Len(t, queueResp.Queue, 1)
	assert.Equal(t, "k1", queueResp.Queue[0][0])

	rec = doJSON(t, mux, http.MethodGet, "/session/queue_position?session_id="+created.SessionID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var posResp struct {
		Index int `json:"index"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &posResp))
	assert.Equal(t, 0, posResp.Index)
}

func TestGetFilesReturnsOwnedRecords(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/control/get_files", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Files []struct {
			UUID string `json:"uuid"`
			Name string `json:"name"`
		} `json:"files"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "k1", resp.Files[0].UUID)
	assert.Equal(t, "Track One", resp.Files[0].Name)
}

func TestBrowseListsLiveSessions(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/control/create_session", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, http.MethodGet, "/session/browse", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []SessionPreview `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, "alice", resp.Sessions[0].Owner)
}

func TestSessionStatsUnknownSessionIs404(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/session/session_stats?session_id=nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthzWithoutProbesIsOK(t *testing.T) {
	_, mux := newTestAPI(t)

	rec := doJSON(t, mux, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
