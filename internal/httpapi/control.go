package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/fzcomet206/musicshare/internal/apperr"
	"github.com/fzcomet206/musicshare/internal/ingest"
)

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := userFrom(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	sessionID, _ := a.controller.GetUserSession(user.ID)
	a.writeJSON(w, http.StatusOK, map[string]string{
		"id":      user.ID,
		"name":    user.Name,
		"picture": user.Picture,
		"session": sessionID,
	})
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	user, err := userFrom(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	sessionID, err := a.controller.CreateSession(r.Context(), user)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID})
}

func (a *API) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	user, err := userFrom(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	sessionID, ok := a.controller.GetUserSession(user.ID)
	if !ok {
		a.writeError(w, apperr.New(apperr.SessionNotFound, user.ID))
		return
	}
	if err := a.controller.DeleteSession(sessionID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}

func (a *API) handleGetMetadata(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if body.URL == "" {
		a.writeError(w, apperr.New(apperr.InvalidURL, "empty url"))
		return
	}

	ingestor := a.controller.Ingestor()
	live, err := ingestor.IsLive(r.Context(), body.URL)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if live {
		a.writeError(w, apperr.New(apperr.LiveStreamNotSupported, body.URL))
		return
	}

	entries, err := ingestor.GetList(r.Context(), body.URL)
	if err != nil {
		// Not every URL is a playlist; fall back to a single-title probe.
		entries, err = ingestor.GetTitle(r.Context(), body.URL)
		if err != nil {
			a.writeError(w, err)
			return
		}
	}

	list := make([][2]string, len(entries))
	for i, e := range entries {
		list[i] = [2]string{e.Title, e.URL}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"list": list})
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	user, err := userFrom(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var body struct {
		Titles []string `json:"titles"`
		URLs   []string `json:"urls"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if len(body.Titles) != len(body.URLs) || len(body.URLs) == 0 {
		a.writeError(w, apperr.New(apperr.InvalidURL, "titles and urls must be non-empty and equal length"))
		return
	}

	// Make sure the user's notifier exists before spawning anything. Outcomes
	// reach only SSE streams that are already subscribed to it.
	ingestor := a.controller.Ingestor()
	ingestor.Notifier(user.ID)

	for i := range body.URLs {
		params := ingest.ProcessAudioParams{
			URL:    body.URLs[i],
			Title:  body.Titles[i],
			UserID: user.ID,
		}
		go func() {
			// Detached from the request context: the client has already been
			// told "ok" and failures travel over the notification bus.
			if err := ingestor.ProcessAudio(context.Background(), params); err != nil {
				a.logger.Warn("ingestion task failed",
					zap.String("user_id", params.UserID),
					zap.String("url", params.URL),
					zap.Error(err),
				)
			}
		}()
	}
	a.writeOK(w)
}

func (a *API) handleGetFiles(w http.ResponseWriter, r *http.Request) {
	user, err := userFrom(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	records, err := a.metadata.ListByUser(r.Context(), user.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}

	type fileEntry struct {
		UUID string `json:"uuid"`
		Name string `json:"name"`
	}
	files := make([]fileEntry, len(records))
	for i, rec := range records {
		files[i] = fileEntry{UUID: rec.Key, Name: rec.Title}
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"files": files})
}

func (a *API) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	user, err := userFrom(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var body struct {
		UUID string `json:"uuid"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}

	records, err := a.metadata.ListByUser(r.Context(), user.ID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	owned := false
	for _, rec := range records {
		if rec.Key == body.UUID {
			owned = true
			break
		}
	}
	if !owned {
		a.writeError(w, apperr.New(apperr.ContentNotFound, body.UUID))
		return
	}

	if err := a.controller.Ingestor().DeleteFile(r.Context(), body.UUID); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.metadata.DeleteByKey(r.Context(), body.UUID); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}

func (a *API) handleDownloadNotify(w http.ResponseWriter, r *http.Request) {
	user, err := userFrom(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.streamSSE(w, r, a.controller.Ingestor().Notifier(user.ID))
}

// requireOwnedSession resolves the request's user and verifies it owns
// sessionID, the shared precondition of every queue mutation endpoint.
func (a *API) requireOwnedSession(r *http.Request, sessionID string) error {
	user, err := userFrom(r)
	if err != nil {
		return err
	}
	if sessionID == "" {
		return apperr.New(apperr.SessionNotFound, "missing session_id")
	}
	if !a.controller.CheckUserOwnSession(user.ID, sessionID) {
		return apperr.New(apperr.SessionNotOwned, sessionID)
	}
	return nil
}

func (a *API) handleAddToQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Key       string `json:"key"`
		Title     string `json:"title"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.requireOwnedSession(r, body.SessionID); err != nil {
		a.writeError(w, err)
		return
	}

	sess, ok := a.controller.GetSession(body.SessionID)
	if !ok {
		a.writeError(w, apperr.New(apperr.SessionNotFound, body.SessionID))
		return
	}
	if err := sess.AddToQueue(body.Key, body.Title); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}

func (a *API) handleRemoveFromQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		Key       string `json:"key"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.requireOwnedSession(r, body.SessionID); err != nil {
		a.writeError(w, err)
		return
	}

	sess, ok := a.controller.GetSession(body.SessionID)
	if !ok {
		a.writeError(w, apperr.New(apperr.SessionNotFound, body.SessionID))
		return
	}
	if err := sess.RemoveFromQueueByKey(body.Key); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}

func (a *API) handleReorderQueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID string `json:"session_id"`
		OldIndex  int    `json:"old_index"`
		NewIndex  int    `json:"new_index"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.requireOwnedSession(r, body.SessionID); err != nil {
		a.writeError(w, err)
		return
	}

	sess, ok := a.controller.GetSession(body.SessionID)
	if !ok {
		a.writeError(w, apperr.New(apperr.SessionNotFound, body.SessionID))
		return
	}
	if err := sess.ReorderQueue(body.OldIndex, body.NewIndex); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}

func (a *API) handleNextInQueue(w http.ResponseWriter, r *http.Request) {
	a.handleQueueStep(w, r, func(s queueStepper) error { return s.NextInQueue() })
}

func (a *API) handlePrevInQueue(w http.ResponseWriter, r *http.Request) {
	a.handleQueueStep(w, r, func(s queueStepper) error { return s.PrevInQueue() })
}

type queueStepper interface {
	NextInQueue() error
	PrevInQueue() error
}

func (a *API) handleQueueStep(w http.ResponseWriter, r *http.Request, step func(queueStepper) error) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	if err := a.requireOwnedSession(r, body.SessionID); err != nil {
		a.writeError(w, err)
		return
	}

	sess, ok := a.controller.GetSession(body.SessionID)
	if !ok {
		a.writeError(w, apperr.New(apperr.SessionNotFound, body.SessionID))
		return
	}
	if err := step(sess); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeOK(w)
}
