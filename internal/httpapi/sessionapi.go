package httpapi

import (
	"net/http"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/session"
)

func (a *API) sessionFromQuery(r *http.Request) (*session.Session, error) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		return nil, apperr.New(apperr.SessionNotFound, "missing session_id")
	}
	sess, ok := a.controller.GetSession(sessionID)
	if !ok {
		return nil, apperr.New(apperr.SessionNotFound, sessionID)
	}
	return sess, nil
}

func (a *API) handleGetOffer(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	user, err := userFrom(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	peerID, ready, err := sess.CreatePeer(user)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if err := <-ready; err != nil {
		a.writeError(w, err)
		return
	}

	offer, err := sess.GetOffer(peerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"offer": offer, "peerid": peerID})
}

func (a *API) handleSetAnswer(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var body struct {
		SDP    string `json:"sdp"`
		PeerID string `json:"peerid"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := sess.SetAnswer(body.PeerID, body.SDP); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}

func (a *API) handleGetICE(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var body struct {
		PeerID string `json:"peerid"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}

	candidates, err := sess.GetICE(body.PeerID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, candidates)
}

func (a *API) handleSetICE(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var body struct {
		Candidate        string  `json:"candidate"`
		PeerID           string  `json:"peerid"`
		SDPMid           *string `json:"sdpMid"`
		SDPMLineIndex    *uint16 `json:"sdpMLineIndex"`
		UsernameFragment *string `json:"usernameFragment"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}

	candidate := webrtc.ICECandidateInit{
		Candidate:        body.Candidate,
		SDPMid:           body.SDPMid,
		SDPMLineIndex:    body.SDPMLineIndex,
		UsernameFragment: body.UsernameFragment,
	}
	if err := sess.AddICE(body.PeerID, candidate); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}

func (a *API) handleQueue(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	items := sess.GetQueue()
	queue := make([][2]string, len(items))
	for i, it := range items {
		queue[i] = [2]string{it.Key, it.Title}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"queue": queue})
}

func (a *API) handleQueuePosition(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"index": sess.GetQueuePosition()})
}

func (a *API) handleQueueNotify(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.streamSSE(w, r, sess.GetSender())
}

func (a *API) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	listeners := sess.Listeners()
	a.writeJSON(w, http.StatusOK, map[string]any{
		"session_owner":       sess.Owner().Name,
		"session_start_time":  sess.StartedAt().UTC().Format(time.RFC3339),
		"number_of_listeners": sess.NumberOfListeners(),
		"listeners":           listeners,
	})
}

func (a *API) handleSessionListeners(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"number_of_listeners": sess.NumberOfListeners(),
		"listeners":           sess.Listeners(),
	})
}

// SessionPreview is one row of the /session/browse listing.
type SessionPreview struct {
	SessionID         string   `json:"session_id"`
	Owner             string   `json:"owner"`
	StartedAt         string   `json:"started_at"`
	NumberOfListeners int      `json:"number_of_listeners"`
	TopQueue          []string `json:"top_queue"`
}

func (a *API) handleBrowse(w http.ResponseWriter, r *http.Request) {
	sessions := a.controller.GetSessions()
	previews := make([]SessionPreview, 0, len(sessions))
	for _, sess := range sessions {
		previews = append(previews, SessionPreview{
			SessionID:         sess.ID(),
			Owner:             sess.Owner().Name,
			StartedAt:         sess.StartedAt().UTC().Format(time.RFC3339),
			NumberOfListeners: sess.NumberOfListeners(),
			TopQueue:          sess.GetTopQueue(),
		})
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"sessions": previews})
}

func (a *API) handleLeave(w http.ResponseWriter, r *http.Request) {
	sess, err := a.sessionFromQuery(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	peerID := r.URL.Query().Get("peer_id")
	if peerID == "" {
		a.writeError(w, apperr.New(apperr.PeerConnectionNotFound, "missing peer_id"))
		return
	}
	if err := sess.Disconnect(peerID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}
