package ingest

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/authctx"
	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/metadatastore"
	"github.com/fzcomet206/musicshare/internal/storage"
)

// fakeExtractor stands in for yt-dlp/ffmpeg in tests, writing a small fake
// Ogg payload instead of shelling out to a real binary.
type fakeExtractor struct {
	size     int64
	fetchErr error
	payload  []byte
}

func (f *fakeExtractor) ProbeTitle(context.Context, string) (string, error) { return "title", nil }
func (f *fakeExtractor) ProbeList(context.Context, string, int) ([]Entry, error) {
	return []Entry{{Title: "a", URL: "u"}}, nil
}
func (f *fakeExtractor) ProbeLive(context.Context, string) (bool, error) { return false, nil }
func (f *fakeExtractor) ProbeSize(context.Context, string) (int64, error) {
	return f.size, nil
}
func (f *fakeExtractor) Fetch(_ context.Context, _, destPath string) error {
	if f.fetchErr != nil {
		return f.fetchErr
	}
	payload := f.payload
	if payload == nil {
		payload = minimalOggPayload()
	}
	return os.WriteFile(destPath, payload, 0o644)
}

// minimalOggPayload is a real, parseable Opus-in-Ogg header stream, standing
// in for transcoder output.
func minimalOggPayload() []byte {
	var buf bytes.Buffer
	w, err := oggwriter.NewWith(&buf, 48000, 2)
	if err != nil {
		panic(err)
	}
	w.Close()
	return buf.Bytes()
}

func newTestIngestor(t *testing.T, extractor Extractor, metadata metadatastore.MetadataStore) *MediaIngestor {
	t.Helper()
	cfg := config.IngestConfig{
		MaxConcurrentTasks: 2,
		MaxFileSizeBytes:   1_000_000,
		MaxPlaylistSize:    10,
		ConvertedDir:       t.TempDir(),
	}
	registry := bus.NewRegistry(func(string) bus.Bus { return bus.NewLocal() })
	return New(cfg, extractor, storage.NewMemory(), metadata, registry, zap.NewNop())
}

type fakeMetadataStore struct {
	records map[string]metadatastore.FileRecord // key: userID+"|"+url
	inserts []metadatastore.FileRecord
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{records: make(map[string]metadatastore.FileRecord)}
}

func (s *fakeMetadataStore) FindByUserURL(_ context.Context, userID, url string) (*metadatastore.FileRecord, error) {
	rec, ok := s.records[userID+"|"+url]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *fakeMetadataStore) Insert(_ context.Context, rec metadatastore.FileRecord) error {
	s.records[rec.OwnerUserID+"|"+rec.URL] = rec
	s.inserts = append(s.inserts, rec)
	return nil
}

func (s *fakeMetadataStore) ListByUser(context.Context, string) ([]metadatastore.FileRecord, error) {
	return nil, nil
}
func (s *fakeMetadataStore) DeleteByKey(context.Context, string) error { return nil }
func (s *fakeMetadataStore) EnsureUser(context.Context, authctx.UserContext, string, string) error {
	return nil
}

func TestProcessAudio_DuplicateRejectedBeforeSemaphore(t *testing.T) {
	metadata := newFakeMetadataStore()
	metadata.records["user-1|u1"] = metadatastore.FileRecord{OwnerUserID: "user-1", URL: "u1"}

	extractor := &fakeExtractor{size: 10}
	m := newTestIngestor(t, extractor, metadata)

	ch, unsub := m.Notifier("user-1").Subscribe(context.Background())
	defer unsub()

	err := m.ProcessAudio(context.Background(), ProcessAudioParams{URL: "u1", Title: "Existing Title", UserID: "user-1"})
	require.Error(t, err)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, apperr.DuplicateContent, kind)

	select {
	case msg := <-ch:
		assert.Equal(t, "Existing Title", msg)
	default:
		t.Fatal("expected duplicate title notification")
	}
}

func TestProcessAudio_RejectsOversizedFile(t *testing.T) {
	metadata := newFakeMetadataStore()
	extractor := &fakeExtractor{size: 10_000_000}
	m := newTestIngestor(t, extractor, metadata)

	err := m.ProcessAudio(context.Background(), ProcessAudioParams{URL: "u2", Title: "Big", UserID: "user-1"})
	require.Error(t, err)
	kind, _ := apperr.KindOf(err)
	assert.Equal(t, apperr.FileTooLarge, kind)
	assert.Empty(t, metadata.inserts)
}

func TestProcessAudio_Success(t *testing.T) {
	metadata := newFakeMetadataStore()
	extractor := &fakeExtractor{size: 10}
	m := newTestIngestor(t, extractor, metadata)

	ch, unsub := m.Notifier("user-1").Subscribe(context.Background())
	defer unsub()

	err := m.ProcessAudio(context.Background(), ProcessAudioParams{URL: "u3", Title: "New Track", UserID: "user-1"})
	require.NoError(t, err)
	require.Len(t, metadata.inserts, 1)
	assert.Equal(t, "New Track", metadata.inserts[0].Title)
	assert.Equal(t, "user-1", metadata.inserts[0].OwnerUserID)

	select {
	case msg := <-ch:
		assert.Equal(t, "check", msg)
	default:
		t.Fatal("expected check notification")
	}
}

func TestProcessAudio_FetchFailurePropagates(t *testing.T) {
	metadata := newFakeMetadataStore()
	extractor := &fakeExtractor{size: 10, fetchErr: apperr.New(apperr.DownloadFailed, "boom")}
	m := newTestIngestor(t, extractor, metadata)

	err := m.ProcessAudio(context.Background(), ProcessAudioParams{URL: "u4", Title: "x", UserID: "user-1"})
	require.Error(t, err)
	kind, _ := apperr.KindOf(err)
	assert.Equal(t, apperr.DownloadFailed, kind)
	assert.Empty(t, metadata.inserts)
}
