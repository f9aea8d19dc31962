package broadcaster

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/storage"
)

type fakeAttacher struct {
	attached map[string]*webrtc.TrackLocalStaticSample
}

func (f *fakeAttacher) AttachTrack(peerID string, track *webrtc.TrackLocalStaticSample) error {
	f.attached[peerID] = track
	return nil
}

func newTestTrack(t *testing.T) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "test")
	require.NoError(t, err)
	return track
}

func TestBroadcaster_PlayMissingKeyEmitsEnd(t *testing.T) {
	track := newTestTrack(t)
	blobs := storage.NewMemory()
	attacher := &fakeAttacher{attached: make(map[string]*webrtc.TrackLocalStaticSample)}
	b := New("sess1", track, blobs, attacher, t.TempDir(), 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	b.Play("does-not-exist")

	select {
	case ev := <-b.Events():
		assert.Equal(t, EventEnd, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for end event")
	}
}

func TestBroadcaster_AttachDeliversReply(t *testing.T) {
	track := newTestTrack(t)
	blobs := storage.NewMemory()
	attacher := &fakeAttacher{attached: make(map[string]*webrtc.TrackLocalStaticSample)}
	b := New("sess1", track, blobs, attacher, t.TempDir(), 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	reply := make(chan error, 1)
	b.Attach("peer-1", reply)

	select {
	case err := <-reply:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for attach reply")
	}
	assert.Same(t, track, attacher.attached["peer-1"])
}

func TestBroadcaster_StopIsIdempotentBeforeAnyPlay(t *testing.T) {
	track := newTestTrack(t)
	blobs := storage.NewMemory()
	attacher := &fakeAttacher{attached: make(map[string]*webrtc.TrackLocalStaticSample)}
	b := New("sess1", track, blobs, attacher, t.TempDir(), 20*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.Run(ctx)
		close(done)
	}()

	b.Stop()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not exit after context cancellation")
	}
}
