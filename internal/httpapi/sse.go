package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/bus"
)

// sseKeepAliveInterval is how often a comment line is written to hold idle
// streams open through proxies that reap quiet connections.
const sseKeepAliveInterval = 15 * time.Second

// streamSSE relays events from b to the client as a text/event-stream until
// the client disconnects or the bus closes. A terminal "end" event (published
// when a session is deleted) also passes through here like any other event;
// the stream closes when the bus does.
func (a *API) streamSSE(w http.ResponseWriter, r *http.Request, b bus.Bus) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.writeError(w, apperr.New(apperr.SSEError, "response writer does not support streaming"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, unsub := b.Subscribe(r.Context())
	defer unsub()

	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg, ok := <-events:
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
