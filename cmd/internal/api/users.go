package api

import (
	"net/http"

	"daters/cmd/identity"
	"daters/cmd/internal/mail"
)

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	defer req.Password.Wipe()

	u, err := h.users.Register(r.Context(), identity.Unregistered{Email: req.Email, Password: req.Password})
	if err != nil {
		h.fail(w, r, "api.register.fail", err)
		return
	}
	h.recorder.Registration()

	mail.Dispatch(h.log, h.mailer, mail.Activation{
		UserID: u.ID,
		Email:  u.Email,
		URL:    mail.ActivationURL(h.cfg.PublicURL, u.ID),
	}, h.cfg.MailTimeout)

	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Activate(r.Context(), pathUser(r))
	if err != nil {
		h.fail(w, r, "api.activate.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	defer req.Password.Wipe()

	if req.Email == "" || req.Password.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_input", "email and password are required")
		return
	}

	u, err := h.users.Validate(r.Context(), req.Email, req.Password)
	if err != nil {
		h.recorder.Login(loginResult(err))
		h.fail(w, r, "api.login.fail", err)
		return
	}
	h.recorder.Login("ok")
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func loginResult(err error) string {
	switch {
	case identity.IsPassword(err):
		return "password"
	case identity.IsRegistration(err):
		return "registration"
	default:
		return "error"
	}
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	st, err := h.users.GetUser(r.Context(), pathUser(r))
	if err != nil {
		h.fail(w, r, "api.user.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(st))
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	defer req.Password.Wipe()

	if err := h.users.ChangePassword(r.Context(), pathUser(r), req.Password); err != nil {
		h.fail(w, r, "api.password.fail", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	userID := pathUser(r)
	u, err := h.users.Deactivate(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "api.deactivate.fail", err)
		return
	}
	h.cache.Pop(userID)
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (h *Handler) handleRemoveUser(w http.ResponseWriter, r *http.Request) {
	userID := pathUser(r)
	if err := h.users.Remove(r.Context(), userID); err != nil {
		h.fail(w, r, "api.user.remove.fail", err)
		return
	}
	h.cache.Pop(userID)
	w.WriteHeader(http.StatusNoContent)
}
