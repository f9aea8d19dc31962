// Package session implements Session, the per-broadcast unit binding one
// PlayQueue, one Broadcaster, and the set of PeerConnections listening to
// it. One Session is one live room: queue mutations, media switching, and
// listener signaling all route through it.
package session

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/authctx"
	"github.com/fzcomet206/musicshare/internal/broadcaster"
	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/config"
	"github.com/fzcomet206/musicshare/internal/metrics"
	"github.com/fzcomet206/musicshare/internal/peerconn"
	"github.com/fzcomet206/musicshare/internal/queue"
	"github.com/fzcomet206/musicshare/internal/storage"
)

// MaxListeners bounds how many PeerConnections one Session accepts,
// owner included.
const MaxListeners = 5

// Session binds a queue, a broadcaster, and a peer map under one identity.
type Session struct {
	id        string
	owner     authctx.UserContext
	startedAt time.Time

	queueMu sync.Mutex
	queue   *queue.PlayQueue

	peersMu sync.RWMutex
	peers   map[string]*peerconn.PeerConnection

	broadcaster *broadcaster.Broadcaster
	events      bus.Bus

	scratchDir string
	stunServer string
	logger     *zap.Logger

	cancel context.CancelFunc
}

// New constructs a Session identified by id, with a fresh shared audio track,
// and starts its broadcaster and autoplay goroutines. Call Close to tear
// both down. id is generated by the caller (sessioncontroller) because the
// per-session event bus is keyed by it before the Session itself exists.
func New(id string, cfg *config.Config, owner authctx.UserContext, blobs storage.BlobStore, events bus.Bus, logger *zap.Logger) (*Session, error) {
	scratchDir := filepath.Join(cfg.Media.SessionScratchDir, id)

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", id,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.WebRTCErr, err)
	}

	s := &Session{
		id:         id,
		owner:      owner,
		startedAt:  time.Now(),
		queue:      queue.New(),
		peers:      make(map[string]*peerconn.PeerConnection),
		events:     events,
		scratchDir: scratchDir,
		stunServer: cfg.WebRTC.STUNServer,
		logger:     logger,
	}

	s.broadcaster = broadcaster.New(id, track, blobs, s, scratchDir, time.Duration(cfg.Media.PageDurationMs)*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.broadcaster.Run(ctx)
	go s.autoplayLoop(ctx)

	metrics.RecordSessionCreated()
	return s, nil
}

func (s *Session) ID() string                 { return s.id }
func (s *Session) Owner() authctx.UserContext { return s.owner }
func (s *Session) StartedAt() time.Time       { return s.startedAt }
func (s *Session) GetSender() bus.Bus         { return s.events }

// AttachTrack implements broadcaster.PeerAttacher.
func (s *Session) AttachTrack(peerID string, track *webrtc.TrackLocalStaticSample) error {
	pc, ok := s.peer(peerID)
	if !ok {
		return apperr.New(apperr.PeerConnectionNotFound, peerID)
	}
	return pc.AddTrack(track)
}

// CreatePeer registers a new PeerConnection for listener and asks the
// broadcaster to attach its shared track. Callers must receive from the
// returned channel before calling GetOffer. Rejects a second concurrent
// connection attempt from the session's own owner, and any connection past
// MaxListeners.
func (s *Session) CreatePeer(listener authctx.UserContext) (peerID string, ready <-chan error, err error) {
	s.peersMu.Lock()
	if listener.ID == s.owner.ID {
		for _, pc := range s.peers {
			if pc.Listener.ID == listener.ID && pc.Active() {
				s.peersMu.Unlock()
				return "", nil, apperr.New(apperr.SessionNotOwned, "owner already connected")
			}
		}
	}
	if len(s.peers) >= MaxListeners {
		s.peersMu.Unlock()
		return "", nil, apperr.New(apperr.SessionFull, s.id)
	}
	s.peersMu.Unlock()

	pc, err := peerconn.New(listener, s.stunServer, s.events, s.logger)
	if err != nil {
		return "", nil, err
	}

	s.peersMu.Lock()
	s.peers[pc.ID] = pc
	s.peersMu.Unlock()
	metrics.PeerConnectionsActive.Inc()

	reply := make(chan error, 1)
	s.broadcaster.Attach(pc.ID, reply)
	return pc.ID, reply, nil
}

func (s *Session) peer(peerID string) (*peerconn.PeerConnection, bool) {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	pc, ok := s.peers[peerID]
	return pc, ok
}

func (s *Session) GetOffer(peerID string) (string, error) {
	pc, ok := s.peer(peerID)
	if !ok {
		return "", apperr.New(apperr.PeerConnectionNotFound, peerID)
	}
	return pc.GetOffer()
}

func (s *Session) SetAnswer(peerID, sdp string) error {
	pc, ok := s.peer(peerID)
	if !ok {
		return apperr.New(apperr.PeerConnectionNotFound, peerID)
	}
	return pc.SetAnswer(sdp)
}

func (s *Session) GetICE(peerID string) ([]webrtc.ICECandidateInit, error) {
	pc, ok := s.peer(peerID)
	if !ok {
		return nil, apperr.New(apperr.PeerConnectionNotFound, peerID)
	}
	return pc.GetICE(), nil
}

func (s *Session) AddICE(peerID string, candidate webrtc.ICECandidateInit) error {
	pc, ok := s.peer(peerID)
	if !ok {
		return apperr.New(apperr.PeerConnectionNotFound, peerID)
	}
	return pc.AddICE(candidate)
}

// Disconnect voluntarily tears down peerID's connection. The peer entry is
// retained (Peers still returns it) but marked inactive, so it no longer
// counts in NumberOfListeners or Listeners.
func (s *Session) Disconnect(peerID string) error {
	pc, ok := s.peer(peerID)
	if !ok {
		return apperr.New(apperr.PeerConnectionNotFound, peerID)
	}
	metrics.PeerConnectionsActive.Dec()
	return pc.Close()
}

// --- Queue operations ---

// mutateQueue serializes fn against the queue mutex, then performs the
// broadcast side effect the returned Action names, and finally publishes the
// new cursor position to listeners.
func (s *Session) mutateQueue(fn func(*queue.PlayQueue) queue.Action) error {
	s.queueMu.Lock()
	action := fn(s.queue)
	cursor := s.queue.GetID()
	s.queueMu.Unlock()

	switch action.Kind {
	case queue.Next:
		s.play(action.Key)
	case queue.Stop:
		s.cleanActiveFile()
	case queue.NotFound:
		return apperr.New(apperr.QueueError, "index out of range")
	case queue.Pass:
	}

	s.Ping(strconv.Itoa(cursor))
	return nil
}

func (s *Session) AddToQueue(key, title string) error {
	return s.mutateQueue(func(q *queue.PlayQueue) queue.Action { return q.Add(key, title) })
}

func (s *Session) RemoveFromQueueByID(index int) error {
	return s.mutateQueue(func(q *queue.PlayQueue) queue.Action { return q.RemoveByID(index) })
}

func (s *Session) RemoveFromQueueByKey(key string) error {
	return s.mutateQueue(func(q *queue.PlayQueue) queue.Action { return q.RemoveByKey(key) })
}

func (s *Session) ReorderQueue(oldIndex, newIndex int) error {
	return s.mutateQueue(func(q *queue.PlayQueue) queue.Action { return q.Reorder(oldIndex, newIndex) })
}

func (s *Session) NextInQueue() error {
	s.queueMu.Lock()
	key := s.queue.Next()
	cursor := s.queue.GetID()
	s.queueMu.Unlock()

	if key == "" {
		s.cleanActiveFile()
	} else {
		s.play(key)
	}
	s.Ping(strconv.Itoa(cursor))
	return nil
}

func (s *Session) PrevInQueue() error {
	s.queueMu.Lock()
	key := s.queue.Prev()
	cursor := s.queue.GetID()
	s.queueMu.Unlock()

	if key == "" {
		s.cleanActiveFile()
	} else {
		s.play(key)
	}
	s.Ping(strconv.Itoa(cursor))
	return nil
}

func (s *Session) play(key string) {
	s.broadcaster.Stop()
	s.broadcaster.Play(key)
}

func (s *Session) cleanActiveFile() {
	s.broadcaster.Stop()
	entries, err := os.ReadDir(s.scratchDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		os.Remove(filepath.Join(s.scratchDir, e.Name()))
	}
}

// autoplayLoop advances the queue whenever the broadcaster reports a file
// finished naturally.
func (s *Session) autoplayLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.broadcaster.Events():
			if !ok {
				return
			}
			if ev.Kind != broadcaster.EventEnd {
				continue
			}
			s.queueMu.Lock()
			key := s.queue.Next()
			cursor := s.queue.GetID()
			s.queueMu.Unlock()

			if key != "" {
				s.broadcaster.Play(key)
			}
			s.Ping(strconv.Itoa(cursor))
		}
	}
}

func (s *Session) GetQueue() []queue.Item {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queue.GetAll()
}

func (s *Session) GetQueuePosition() int {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queue.GetID()
}

func (s *Session) GetTopQueue() []string {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.queue.TopTitles()
}

// Ping publishes msg (typically a queue cursor) to every session listener.
func (s *Session) Ping(msg string) {
	s.events.Publish(context.Background(), msg)
}

func (s *Session) Peers() []*peerconn.PeerConnection {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	out := make([]*peerconn.PeerConnection, 0, len(s.peers))
	for _, pc := range s.peers {
		out = append(out, pc)
	}
	return out
}

func (s *Session) NumberOfListeners() int {
	n := 0
	for _, pc := range s.Peers() {
		if pc.Active() {
			n++
		}
	}
	metrics.RecordListenerCount(s.id, n)
	return n
}

func (s *Session) Listeners() []authctx.UserContext {
	var out []authctx.UserContext
	for _, pc := range s.Peers() {
		if pc.Active() {
			out = append(out, pc.Listener)
		}
	}
	return out
}

// Close stops the broadcaster and autoplay loop, closes every peer
// connection, removes the scratch directory, and publishes a terminal "end"
// event to any remaining listeners.
func (s *Session) Close() {
	s.cancel()
	s.broadcaster.Stop()

	s.peersMu.Lock()
	for _, pc := range s.peers {
		pc.Close()
	}
	s.peersMu.Unlock()

	s.events.Publish(context.Background(), "end")
	if closer, ok := s.events.(interface{ Close() }); ok {
		closer.Close()
	}

	os.RemoveAll(s.scratchDir)
	metrics.RecordSessionDeleted()
}
