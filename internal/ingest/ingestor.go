// Package ingest implements MediaIngestor: the bounded-concurrency pipeline
// that turns an external URL into an uploaded Opus/Ogg blob and a
// MetadataStore row, with per-user SSE notifications of progress.
package ingest

import (
	"context"
	"os"

	"github.com/dhowden/tag"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/metadatastore"
	"github.com/fzcomet206/musicshare/internal/metrics"
	"github.com/fzcomet206/musicshare/internal/storage"
)

// ProcessAudioParams carries one ingestion task's inputs. No defaults;
// every field is required.
type ProcessAudioParams struct {
	URL    string
	Title  string
	UserID string
}

// MediaIngestor bounds concurrent ingestion tasks to cfg.MaxConcurrentTasks
// and fans out per-user progress notifications over notifiers.
type MediaIngestor struct {
	cfg       config.IngestConfig
	extractor Extractor
	blobs     storage.BlobStore
	metadata  metadatastore.MetadataStore
	notifiers *bus.Registry
	sem       *semaphore.Weighted
	logger    *zap.Logger
}

func New(cfg config.IngestConfig, extractor Extractor, blobs storage.BlobStore, metadata metadatastore.MetadataStore, notifiers *bus.Registry, logger *zap.Logger) *MediaIngestor {
	return &MediaIngestor{
		cfg:       cfg,
		extractor: extractor,
		blobs:     blobs,
		metadata:  metadata,
		notifiers: notifiers,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
		logger:    logger,
	}
}

// NotifierKey is the bus.Registry key backing user userID's download_notify
// SSE stream.
func NotifierKey(userID string) string { return "user:" + userID + ":ingest" }

// Notifier returns (creating if necessary) the per-user notification bus the
// SSE handler subscribes to. Events published while no subscriber is
// attached are dropped, so only a stream subscribed before ProcessAudio
// starts sees every event of that task.
func (m *MediaIngestor) Notifier(userID string) bus.Bus {
	return m.notifiers.Get(NotifierKey(userID))
}

// GetTitle is a one-shot title probe via the external tool.
func (m *MediaIngestor) GetTitle(ctx context.Context, url string) ([]Entry, error) {
	title, err := m.extractor.ProbeTitle(ctx, url)
	if err != nil {
		return nil, err
	}
	return []Entry{{Title: title, URL: url}}, nil
}

// GetList is a playlist probe, capped at cfg.MaxPlaylistSize entries.
func (m *MediaIngestor) GetList(ctx context.Context, url string) ([]Entry, error) {
	return m.extractor.ProbeList(ctx, url, m.cfg.MaxPlaylistSize)
}

// IsLive rejects live streams upstream of ingestion.
func (m *MediaIngestor) IsLive(ctx context.Context, url string) (bool, error) {
	return m.extractor.ProbeLive(ctx, url)
}

// ProcessAudio runs the full pipeline: duplicate check, semaphore
// acquisition, size probe, download+transcode, upload, metadata insert,
// notification. The first failing step aborts the rest and the semaphore
// permit (once acquired) is always released via defer.
func (m *MediaIngestor) ProcessAudio(ctx context.Context, params ProcessAudioParams) error {
	notifier := m.Notifier(params.UserID)
	metrics.RecordIngestTaskState(StateQueued.String())

	existing, err := m.metadata.FindByUserURL(ctx, params.UserID, params.URL)
	if err != nil {
		return apperr.Wrap(apperr.DBError, err)
	}
	if existing != nil {
		notifier.Publish(ctx, params.Title)
		return apperr.New(apperr.DuplicateContent, params.URL)
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return apperr.Wrap(apperr.BroadcasterError, err)
	}
	defer m.sem.Release(1)

	metrics.RecordIngestTaskState(StateAcquired.String())
	metrics.IngestTasksInFlight.Inc()
	defer metrics.IngestTasksInFlight.Dec()

	metrics.RecordIngestTaskState(StateProbing.String())
	size, err := m.extractor.ProbeSize(ctx, params.URL)
	if err != nil {
		return m.fail(err)
	}
	if size > m.cfg.MaxFileSizeBytes {
		return m.fail(apperr.New(apperr.FileTooLarge, params.URL))
	}

	key := uuid.New().String()
	if err := os.MkdirAll(m.cfg.ConvertedDir, 0o755); err != nil {
		return m.fail(apperr.Wrap(apperr.StdIoError, err))
	}
	convertedPath := convertedFilePath(m.cfg.ConvertedDir, key)

	metrics.RecordIngestTaskState(StateDownloading.String())
	if err := m.extractor.Fetch(ctx, params.URL, convertedPath); err != nil {
		return m.fail(err)
	}
	defer os.Remove(convertedPath)

	if err := validateOggOutput(convertedPath); err != nil {
		return m.fail(err)
	}

	title := params.Title
	if title == "" {
		title = readTagTitleFallback(convertedPath)
	}

	metrics.RecordIngestTaskState(StateUploading.String())
	if err := m.upload(ctx, key, convertedPath); err != nil {
		return m.fail(err)
	}

	metrics.RecordIngestTaskState(StateRecording.String())
	rec := metadatastore.FileRecord{
		Key:         key,
		OwnerUserID: params.UserID,
		URL:         params.URL,
		Title:       title,
	}
	if err := m.metadata.Insert(ctx, rec); err != nil {
		return m.fail(apperr.Wrap(apperr.DatabaseWriteError, err))
	}

	metrics.RecordIngestTaskState(StateDone.String())
	notifier.Publish(ctx, "check")
	return nil
}

func (m *MediaIngestor) fail(err error) error {
	kind, _ := apperr.KindOf(err)
	metrics.RecordIngestTaskState(StateFailed.String())
	metrics.RecordIngestTaskFailure(string(kind))
	return err
}

func (m *MediaIngestor) upload(ctx context.Context, key, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return apperr.Wrap(apperr.StdIoError, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return apperr.Wrap(apperr.StdIoError, err)
	}

	if err := m.blobs.Put(ctx, key+".ogg", f, info.Size()); err != nil {
		return apperr.Wrap(apperr.UploadFailed, err)
	}
	return nil
}

// DeleteFile removes key from BlobStore. It does not touch MetadataStore;
// that is the caller's responsibility.
func (m *MediaIngestor) DeleteFile(ctx context.Context, key string) error {
	return m.blobs.Delete(ctx, key+".ogg")
}

func convertedFilePath(dir, key string) string {
	return dir + "/" + key + ".ogg"
}

// validateOggOutput confirms the transcoder actually produced a parseable
// Ogg stream before paying for an upload. A truncated or non-Ogg file here
// means ffmpeg exited zero but wrote garbage.
func validateOggOutput(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperr.Wrap(apperr.StdIoError, err)
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return apperr.Wrap(apperr.ConversionFailed, err)
	}
	if _, _, err := reader.ParseNextPage(); err != nil {
		return apperr.Wrap(apperr.ConversionFailed, err)
	}
	return nil
}

// readTagTitleFallback reads embedded tag metadata as a title fallback when
// the caller didn't supply one and yt-dlp's own probe was sparse. Read
// failures are not fatal to ingestion; the caller keeps using an empty
// title rather than aborting the pipeline over cosmetic metadata.
func readTagTitleFallback(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return ""
	}
	return m.Title()
}
