package api

import (
	"bytes"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"parley/internal/models"
)

func (a *API) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := caller(r).UserID
	q := r.URL.Query()

	notifications, err := a.store.ListNotifications(userID, q.Get("unread") == "true", queryInt(q.Get("limit")), queryInt(q.Get("offset")))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	unread, err := a.store.UnreadNotificationCount(userID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": notifications,
		"unreadCount":   unread,
	})
}

func (a *API) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	notification, _, err := a.store.MarkNotificationRead(caller(r).UserID, r.PathValue("notificationId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notification": notification})
}

func (a *API) MarkAllNotificationsReadHandler(w http.ResponseWriter, r *http.Request) {
	marked, err := a.store.MarkAllNotificationsRead(caller(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": marked})
}

type pushSubscriptionRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (a *API) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req pushSubscriptionRequest
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.Endpoint == "" || req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, http.StatusBadRequest, "endpoint and keys are required")
		return
	}

	err := a.store.SavePushSubscription(models.PushSubscription{
		UserID:   caller(r).UserID,
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true})
}

func (a *API) UnsubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := a.store.DeletePushSubscription(caller(r).UserID, req.Endpoint); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) AddContactHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContactID string `json:"contactId"`
		Nickname  string `json:"nickname,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.ContactID == "" {
		writeError(w, http.StatusBadRequest, "contactId is required")
		return
	}
	if req.ContactID == caller(r).UserID {
		writeError(w, http.StatusBadRequest, "cannot add yourself as a contact")
		return
	}

	contact, err := a.store.AddContact(caller(r).UserID, req.ContactID, req.Nickname)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"contact": contact})
}

func (a *API) ListContactsHandler(w http.ResponseWriter, r *http.Request) {
	contacts, err := a.store.ListContacts(caller(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (a *API) BlockContactHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Blocked bool `json:"blocked"`
	}
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if err := a.store.SetContactBlocked(caller(r).UserID, r.PathValue("contactId"), req.Blocked); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// GetPresenceHandler reads one user's presence as others see it.
func (a *API) GetPresenceHandler(w http.ResponseWriter, r *http.Request) {
	presences := a.presence.PresenceFor([]string{r.PathValue("userId")})
	if len(presences) == 0 {
		writeError(w, http.StatusNotFound, "presence unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presence": presences[0]})
}

// UploadAttachmentHandler stores an attachment blob. The declared content
// type is ignored; the stored mime type comes from sniffing the bytes.
func (a *API) UploadAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUploadSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty upload")
		return
	}
	if int64(len(data)) > maxUploadSize {
		writeError(w, http.StatusBadRequest, "file too large")
		return
	}

	kind, err := filetype.Match(data)
	if err != nil || kind == filetype.Unknown {
		writeError(w, http.StatusBadRequest, "unrecognized file type")
		return
	}

	id := uuid.NewString()
	size, err := a.files.Save(id, bytes.NewReader(data), maxUploadSize)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	attachment := models.Attachment{
		ID:         id,
		FileName:   r.URL.Query().Get("filename"),
		FileSize:   size,
		MimeType:   kind.MIME.Value,
		UploadedBy: caller(r).UserID,
	}
	if err := a.store.SaveAttachment(attachment); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"attachment": attachment})
}

func (a *API) GetAttachmentHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("attachmentId")
	attachment, err := a.store.GetAttachment(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	blob, err := a.files.Open(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	defer func() { _ = blob.Close() }()

	w.Header().Set("Content-Type", attachment.MimeType)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, blob); err != nil {
		return
	}
}
