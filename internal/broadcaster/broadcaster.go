// Package broadcaster runs the single Ogg/Opus pacing loop that feeds a
// session's shared WebRTC track. It is an actor: one command channel in, one
// event channel out, one background goroutine doing the work, no shared
// mutable state reachable from outside except through those two channels.
package broadcaster

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/metrics"
	"github.com/fzcomet206/musicshare/internal/storage"
)

// commandQueueDepth bounds how many in-flight commands a caller can queue
// before Play/Stop/Attach start dropping them on the floor.
const commandQueueDepth = 100

// EventKind tags what happened during playback.
type EventKind int

const (
	// EventEnd means the active file finished playing (or failed to parse)
	// and nothing has been queued to replace it yet.
	EventEnd EventKind = iota
	// EventTrackAdded is reserved for a future per-peer track notification;
	// not emitted yet.
	EventTrackAdded
)

// Event is delivered on the broadcaster's event channel.
type Event struct {
	Kind EventKind
}

type command interface{ isCommand() }

type playCmd struct{ key string }
type stopCmd struct{}
type pauseCmd struct{}
type attachCmd struct {
	peerID string
	reply  chan<- error
}

func (playCmd) isCommand()   {}
func (stopCmd) isCommand()   {}
func (pauseCmd) isCommand()  {}
func (attachCmd) isCommand() {}

// PeerAttacher lets the broadcaster hand its shared track to a specific peer
// without holding a strong reference to the session that owns the peer map.
type PeerAttacher interface {
	AttachTrack(peerID string, track *webrtc.TrackLocalStaticSample) error
}

// Broadcaster paces one session's shared audio track from scratch-directory
// Ogg files fetched from a BlobStore.
type Broadcaster struct {
	sessionID  string
	track      *webrtc.TrackLocalStaticSample
	blobs      storage.BlobStore
	peers      PeerAttacher
	scratchDir string
	pageDur    time.Duration
	logger     *zap.Logger

	cmdCh   chan command
	eventCh chan Event

	// stopFlag signals the currently running pace() goroutine to exit at its
	// next opportunity. playWG lets handlePlay/handleStop wait for that exit
	// before starting the next one, so two pacing goroutines never race on
	// the same track.
	stopFlag atomic.Bool
	playWG   sync.WaitGroup
}

func New(sessionID string, track *webrtc.TrackLocalStaticSample, blobs storage.BlobStore, peers PeerAttacher, scratchDir string, pageDur time.Duration, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		sessionID:  sessionID,
		track:      track,
		blobs:      blobs,
		peers:      peers,
		scratchDir: scratchDir,
		pageDur:    pageDur,
		logger:     logger,
		cmdCh:      make(chan command, commandQueueDepth),
		eventCh:    make(chan Event, 8),
	}
}

// Events returns the channel Session.autoplayLoop drains for End.
func (b *Broadcaster) Events() <-chan Event { return b.eventCh }

// Run is the actor loop. It returns when ctx is canceled.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.stopFlag.Store(true)
			b.playWG.Wait()
			return
		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case playCmd:
				b.handlePlay(ctx, c.key)
			case stopCmd:
				b.handleStop()
			case pauseCmd:
				b.logger.Debug("pause is a no-op", zap.String("session_id", b.sessionID))
			case attachCmd:
				c.reply <- b.peers.AttachTrack(c.peerID, b.track)
			}
		}
	}
}

// Play requests playback of key. Non-blocking; dropped with a warning if the
// command queue is full.
func (b *Broadcaster) Play(key string) {
	select {
	case b.cmdCh <- playCmd{key: key}:
	default:
		b.logger.Warn("broadcaster command queue full, dropping play", zap.String("session_id", b.sessionID))
	}
}

// Stop requests playback stop.
func (b *Broadcaster) Stop() {
	select {
	case b.cmdCh <- stopCmd{}:
	default:
		b.logger.Warn("broadcaster command queue full, dropping stop", zap.String("session_id", b.sessionID))
	}
}

// Pause is a deliberate no-op; the queue model has no paused state, only
// playing-or-stopped, but the command exists for forward compatibility with
// a client-side pause button that simply stops sending ICE keepalives.
func (b *Broadcaster) Pause() {
	select {
	case b.cmdCh <- pauseCmd{}:
	default:
	}
}

// Attach asks the broadcaster to hand its shared track to peerID. The result
// arrives on reply; callers must receive from reply (buffered, capacity 1)
// before calling GetOffer on that peer.
func (b *Broadcaster) Attach(peerID string, reply chan<- error) {
	select {
	case b.cmdCh <- attachCmd{peerID: peerID, reply: reply}:
	default:
		reply <- apperr.New(apperr.BroadcasterError, "command queue full")
	}
}

func (b *Broadcaster) handlePlay(ctx context.Context, key string) {
	b.handleStop()

	if err := b.setActiveFile(ctx, key); err != nil {
		b.logger.Warn("set active file failed", zap.String("session_id", b.sessionID), zap.String("key", key), zap.Error(err))
		b.emitEnd()
		return
	}

	b.stopFlag.Store(false)
	b.playWG.Add(1)
	go b.pace(key)
}

func (b *Broadcaster) handleStop() {
	b.stopFlag.Store(true)
	b.playWG.Wait()
}

func (b *Broadcaster) emitEnd() {
	metrics.RecordBroadcasterEvent("end")
	select {
	case b.eventCh <- Event{Kind: EventEnd}:
	default:
		b.logger.Warn("event channel full, dropping end event", zap.String("session_id", b.sessionID))
	}
}

// pace reads one Ogg file page by page, writing each page to the shared
// track at the cadence its granule position implies, until EOF or until
// stopFlag is set.
func (b *Broadcaster) pace(key string) {
	defer b.playWG.Done()

	path := filepath.Join(b.scratchDir, key+".ogg")
	f, err := os.Open(path)
	if err != nil {
		b.logger.Warn("open scratch file failed", zap.String("path", path), zap.Error(err))
		b.emitEnd()
		return
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		b.logger.Warn("ogg reader init failed", zap.String("path", path), zap.Error(err))
		b.emitEnd()
		return
	}

	ticker := time.NewTicker(b.pageDur)
	defer ticker.Stop()

	var lastGranule uint64
	for {
		if b.stopFlag.Load() {
			return
		}

		pageData, pageHeader, err := reader.ParseNextPage()
		if err == io.EOF {
			b.emitEnd()
			return
		}
		if err != nil {
			b.logger.Warn("ogg page parse failed", zap.String("path", path), zap.Error(err))
			b.emitEnd()
			return
		}

		sampleCount := pageHeader.GranulePosition - lastGranule
		lastGranule = pageHeader.GranulePosition
		sampleDuration := time.Duration(sampleCount) * time.Second / 48000

		if err := b.track.WriteSample(media.Sample{Data: pageData, Duration: sampleDuration}); err != nil {
			b.logger.Debug("track write failed", zap.String("session_id", b.sessionID), zap.Error(err))
		}
		metrics.BroadcasterPagesWrittenTotal.Inc()

		<-ticker.C
	}
}

// setActiveFile empties the scratch directory and materializes key's blob
// into it as <key>.ogg, ready for pace to read.
func (b *Broadcaster) setActiveFile(ctx context.Context, key string) error {
	if err := os.MkdirAll(b.scratchDir, 0o755); err != nil {
		return apperr.Wrap(apperr.StdIoError, err)
	}

	entries, err := os.ReadDir(b.scratchDir)
	if err != nil {
		return apperr.Wrap(apperr.StdIoError, err)
	}
	for _, e := range entries {
		os.Remove(filepath.Join(b.scratchDir, e.Name()))
	}

	dest := filepath.Join(b.scratchDir, key+".ogg")
	f, err := os.Create(dest)
	if err != nil {
		return apperr.Wrap(apperr.S3DownloadError, err)
	}
	defer f.Close()

	if err := b.blobs.Get(ctx, key+".ogg", f); err != nil {
		os.Remove(dest)
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return apperr.Wrap(apperr.StdIoError, err)
	}
	if info.Size() == 0 {
		os.Remove(dest)
		return apperr.New(apperr.S3DownloadError, "materialized file is empty")
	}
	return nil
}
