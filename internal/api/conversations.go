package api

import (
	"net/http"

	"parley/internal/models"
	"parley/internal/storage"
)

type createConversationRequest struct {
	Type        models.ConversationType `json:"type"`
	Name        string                  `json:"name,omitempty"`
	Description string                  `json:"description,omitempty"`
	AvatarURL   string                  `json:"avatarUrl,omitempty"`
	MemberIDs   []string                `json:"memberIds"`
}

func (a *API) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if !req.Type.Valid() {
		writeError(w, http.StatusBadRequest, "unknown conversation type")
		return
	}
	switch req.Type {
	case models.ConversationDirect:
		if len(req.MemberIDs) != 1 {
			writeError(w, http.StatusBadRequest, "direct conversation requires exactly one other member")
			return
		}
	default:
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, "name is required for group and channel conversations")
			return
		}
	}

	conv, err := a.store.CreateConversation(storage.CreateConversationParams{
		Type:        req.Type,
		Name:        req.Name,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
		CreatedByID: caller(r).UserID,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"conversation": conv})
}

func (a *API) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	listings, err := a.store.ListConversations(caller(r).UserID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": listings})
}

func (a *API) UpdateConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string `json:"name,omitempty"`
		Description *string `json:"description,omitempty"`
		AvatarURL   *string `json:"avatarUrl,omitempty"`
		IsArchived  *bool   `json:"isArchived,omitempty"`
		IsPinned    *bool   `json:"isPinned,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}

	conv, err := a.store.UpdateConversation(r.PathValue("conversationId"), caller(r).UserID, storage.ConversationUpdate{
		Name:        req.Name,
		Description: req.Description,
		AvatarURL:   req.AvatarURL,
		IsArchived:  req.IsArchived,
		IsPinned:    req.IsPinned,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation": conv})
}

func (a *API) AddMemberHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string            `json:"userId"`
		Role   models.MemberRole `json:"role,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeStoreError(w, err)
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if req.Role == "" {
		req.Role = models.RoleMember
	}
	if !req.Role.Valid() || req.Role == models.RoleOwner {
		writeError(w, http.StatusBadRequest, "invalid role")
		return
	}

	member, err := a.store.AddMember(r.PathValue("conversationId"), caller(r).UserID, req.UserID, req.Role)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"member": member})
}

func (a *API) RemoveMemberHandler(w http.ResponseWriter, r *http.Request) {
	err := a.store.RemoveMember(r.PathValue("conversationId"), caller(r).UserID, r.PathValue("userId"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) ListMembersHandler(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if _, err := a.store.GetMember(conversationID, caller(r).UserID); err != nil {
		writeStoreError(w, err)
		return
	}
	members, err := a.store.ActiveMembers(conversationID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}
