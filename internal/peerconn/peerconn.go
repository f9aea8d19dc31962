// Package peerconn wraps a single WebRTC peer connection: SDP exchange, ICE
// gathering, shared-track attachment, and connection-state tracking. It
// hides the asynchronous SDP/ICE dance behind a small synchronous-looking
// contract.
package peerconn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/authctx"
	"github.com/fzcomet206/musicshare/internal/bus"
	"github.com/fzcomet206/musicshare/internal/metrics"
)

// Listener identifies the human behind a PeerConnection. It is the same
// shape as a session owner's identity, so the two are one type.
type Listener = authctx.UserContext

// PeerConnection is one WebRTC peer. Its zero value is not usable; construct
// with New.
type PeerConnection struct {
	ID       string
	Listener Listener

	pc *webrtc.PeerConnection

	active atomic.Bool

	mu                   sync.Mutex
	iceCandidates        []webrtc.ICECandidateInit
	gatheringComplete    bool
	gatheringCompleteCh  chan struct{}
	callbacksInstalled   bool
	hasTrack             bool
	hasLocalDescription  bool
	hasRemoteDescription bool

	events bus.Bus
	logger *zap.Logger
}

func defaultConfiguration(stunServer string) webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{stunServer}},
		},
	}
}

// New constructs a PeerConnection with default codecs (Opus audio only) and
// no tracks attached yet. No offer is generated.
func New(listener Listener, stunServer string, events bus.Bus, logger *zap.Logger) (*PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, apperr.Wrap(apperr.WebRTCErr, err)
	}

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	pc, err := api.NewPeerConnection(defaultConfiguration(stunServer))
	if err != nil {
		return nil, apperr.Wrap(apperr.WebRTCErr, err)
	}

	p := &PeerConnection{
		ID:                  uuid.New().String(),
		Listener:            listener,
		pc:                  pc,
		gatheringCompleteCh: make(chan struct{}),
		events:              events,
		logger:              logger,
	}
	return p, nil
}

// Closed reports whether the underlying peer connection has been torn down.
func (p *PeerConnection) Closed() bool {
	return p.pc.ConnectionState() == webrtc.PeerConnectionStateClosed
}

// AddTrack attaches a shared audio track. Spawns a background goroutine that
// drains RTCP from the sender until the track ends, so the sender's
// internal buffer never stalls. Fails if the peer is closed.
func (p *PeerConnection) AddTrack(track *webrtc.TrackLocalStaticSample) error {
	if p.Closed() {
		return apperr.New(apperr.WebRTCErr, "peer connection is closed")
	}

	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return apperr.Wrap(apperr.WebRTCErr, err)
	}

	p.mu.Lock()
	p.hasTrack = true
	p.mu.Unlock()

	go drainRTCP(sender)
	return nil
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}
		// Receiver reports carry no action for an audio-only broadcast
		// sender; unmarshal and discard to keep the buffer drained.
		if _, err := rtcp.Unmarshal(buf[:n]); err != nil {
			continue
		}
	}
}

// GetOffer installs connection-state and ICE-candidate callbacks (idempotent
// over the peer's lifetime), creates an offer, sets it as the local
// description, and returns the SDP string.
func (p *PeerConnection) GetOffer() (string, error) {
	p.mu.Lock()
	hasTrack := p.hasTrack
	p.mu.Unlock()
	if !hasTrack {
		return "", apperr.New(apperr.WebRTCErr, "get_offer called before add_track")
	}

	p.installCallbacksOnce()

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", apperr.Wrap(apperr.WebRTCErr, err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", apperr.Wrap(apperr.WebRTCErr, err)
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", apperr.New(apperr.LocalDescriptionMissing, "stack produced no local description")
	}

	p.mu.Lock()
	p.hasLocalDescription = true
	p.mu.Unlock()

	return local.SDP, nil
}

func (p *PeerConnection) installCallbacksOnce() {
	p.mu.Lock()
	already := p.callbacksInstalled
	p.callbacksInstalled = true
	p.mu.Unlock()
	if already {
		return
	}

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.active.Store(true)
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			p.active.Store(false)
		}
		p.events.Publish(context.Background(), "connection")
		p.logger.Debug("peer connection state changed",
			zap.String("peer_id", p.ID),
			zap.String("state", state.String()),
		)
	})

	gatherStart := time.Now()
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c == nil {
			if p.gatheringComplete {
				return
			}
			p.gatheringComplete = true
			close(p.gatheringCompleteCh)
			metrics.ICEGatheringDurationMs.Observe(float64(time.Since(gatherStart).Milliseconds()))
			return
		}
		p.iceCandidates = append(p.iceCandidates, c.ToJSON())
	})
}

// SetAnswer parses sdp as an RTC answer and sets it as the remote
// description.
func (p *PeerConnection) SetAnswer(sdp string) error {
	if !p.hasLocalDescriptionSet() {
		return apperr.New(apperr.WebRTCErr, "set_answer called before get_offer")
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}
	if err := p.pc.SetRemoteDescription(answer); err != nil {
		return apperr.Wrap(apperr.WebRTCErr, err)
	}
	p.mu.Lock()
	p.hasRemoteDescription = true
	p.mu.Unlock()
	return nil
}

func (p *PeerConnection) hasLocalDescriptionSet() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasLocalDescription
}

// GetICE blocks until ICE gathering is complete and returns every collected
// candidate. Safe to call from multiple goroutines; the first null-candidate
// callback latches completion and wakes every waiter.
func (p *PeerConnection) GetICE() []webrtc.ICECandidateInit {
	<-p.gatheringCompleteCh

	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]webrtc.ICECandidateInit, len(p.iceCandidates))
	copy(out, p.iceCandidates)
	return out
}

// AddICE adds a remote trickle candidate.
func (p *PeerConnection) AddICE(candidate webrtc.ICECandidateInit) error {
	if err := p.pc.AddICECandidate(candidate); err != nil {
		return apperr.Wrap(apperr.WebRTCErr, err)
	}
	return nil
}

// Active reports the current connection-active flag.
func (p *PeerConnection) Active() bool { return p.active.Load() }

// SetActiveForTest forces the active flag, since real activation only comes
// from a live OnConnectionStateChange callback that unit tests can't trigger
// without a full ICE handshake.
func (p *PeerConnection) SetActiveForTest() { p.active.Store(true) }

// Close tears down the underlying peer connection.
func (p *PeerConnection) Close() error {
	if err := p.pc.Close(); err != nil {
		return apperr.Wrap(apperr.WebRTCErr, err)
	}
	p.active.Store(false)
	return nil
}
