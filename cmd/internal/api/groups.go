package api

import (
	"net/http"
	"strings"

	"daters/cmd/identity"
)

func (h *Handler) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	userID := pathUser(r)
	u, err := h.groups.CreateGroup(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "api.group.create.fail", err)
		return
	}
	h.cache.Pop(userID)
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleJoinGroup(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	userID := pathUser(r)
	ctx := r.Context()

	var (
		u   identity.GroupUser
		err error
	)
	switch {
	case req.Email != nil && req.GroupID == nil && strings.TrimSpace(*req.Email) != "":
		u, err = h.groups.JoinGroupByEmail(ctx, userID, *req.Email)
	case req.GroupID != nil && req.Email == nil:
		u, err = h.groups.JoinGroupByID(ctx, userID, *req.GroupID)
	default:
		writeError(w, http.StatusBadRequest, "invalid_input", "exactly one of email or group_id is required")
		return
	}
	if err != nil {
		h.fail(w, r, "api.group.join.fail", err)
		return
	}
	h.cache.Pop(userID)
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleLeaveGroup(w http.ResponseWriter, r *http.Request) {
	userID := pathUser(r)
	u, err := h.groups.LeaveGroup(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "api.group.leave.fail", err)
		return
	}
	h.cache.Pop(userID)
	writeJSON(w, http.StatusOK, toUserResponse(u))
}
