package api

import (
	"errors"
	"net/http"

	"daters/cmd/identity"
	"daters/cmd/internal/dates"
	"daters/cmd/internal/groups"
)

// status maps a service error to an HTTP status, a stable code and a message
// that is safe to show. Order matters: dates errors wrap identity kinds.
func status(err error) (int, string, string) {
	switch {
	case errors.Is(err, identity.ErrHashTimeout), errors.Is(err, identity.ErrHasherClosed):
		return http.StatusServiceUnavailable, "server_busy", "please retry later"

	case errors.Is(err, dates.ErrGroupMembership), errors.Is(err, groups.ErrNoGroup):
		return http.StatusForbidden, "group_required", "join or create a group first"
	case errors.Is(err, dates.ErrNoAccess):
		return http.StatusNotFound, "not_registered", "user not found or not activated"
	case errors.Is(err, dates.ErrNotFound):
		return http.StatusNotFound, "date_not_found", "date not found"

	case errors.Is(err, groups.ErrGroupNotFound):
		return http.StatusNotFound, "group_not_found", "group not found"
	case errors.Is(err, groups.ErrPeerNotFound):
		return http.StatusNotFound, "peer_not_found", "no user with that email"
	case errors.Is(err, groups.ErrPeerHasNoGroup):
		return http.StatusConflict, "peer_has_no_group", "that user is not in a group"

	case identity.IsPassword(err):
		return http.StatusUnauthorized, "invalid_credentials", "invalid email or password"
	case identity.IsRegistration(err):
		return http.StatusNotFound, "not_registered", "user not found or not activated"
	case errors.Is(err, identity.ErrDuplicateEmail):
		return http.StatusConflict, "duplicate_email", "email already registered"
	case identity.IsConflict(err):
		return http.StatusConflict, "conflict", "conflicting state"
	case identity.IsInvalidInput(err):
		return http.StatusBadRequest, "invalid_input", inputMessage(err)
	}
	return http.StatusInternalServerError, "internal", "internal error"
}

func inputMessage(err error) string {
	var oe identity.OpError
	if errors.As(err, &oe) && oe.Msg != "" {
		return oe.Msg
	}
	return "invalid input"
}

// fail writes err and logs it once when it is a server-side failure.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, event string, err error) {
	code, name, msg := status(err)
	if code >= http.StatusInternalServerError {
		h.log.Error(event, "path", r.URL.Path, "err", err)
	}
	writeError(w, code, name, msg)
}
