package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"daters/cmd/internal/dates"
	"daters/cmd/internal/expansion"
)

// handleListDates returns the group's dates in ranking order. Loading the
// list collapses every description for this viewer.
func (h *Handler) handleListDates(w http.ResponseWriter, r *http.Request) {
	userID := pathUser(r)

	ds, err := h.dates.GetAll(r.Context(), userID)
	if err != nil {
		h.fail(w, r, "api.dates.list.fail", err)
		return
	}
	h.cacheSoft("reset", h.cache.Reset(userID))

	out := datesResponse{Dates: make([]dateResponse, 0, len(ds))}
	for _, d := range ds {
		out.Dates = append(out.Dates, toDateResponse(d, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleAddDate(w http.ResponseWriter, r *http.Request) {
	var req dateCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	day, ok := parseDay(req.Day)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "day must be YYYY-MM-DD")
		return
	}

	d, err := h.dates.Add(r.Context(), pathUser(r), dates.NewDate{Name: req.Name, Text: req.Description, Day: day})
	if err != nil {
		h.fail(w, r, "api.dates.add.fail", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDateResponse(d, false))
}

func (h *Handler) handleGetDate(w http.ResponseWriter, r *http.Request) {
	userID, dateID := pathUser(r), pathDate(r)

	d, err := h.dates.Get(r.Context(), userID, dateID)
	if err != nil {
		h.fail(w, r, "api.dates.get.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toDateResponse(d, h.expanded(dateID, userID)))
}

func (h *Handler) handleUpdateDate(w http.ResponseWriter, r *http.Request) {
	var req dateUpdateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	p, ok := req.patch()
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_input", "day must be YYYY-MM-DD")
		return
	}

	userID, dateID := pathUser(r), pathDate(r)
	d, err := h.dates.Update(r.Context(), userID, dateID, p)
	if err != nil {
		h.fail(w, r, "api.dates.update.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, toDateResponse(d, h.expanded(dateID, userID)))
}

func (h *Handler) handleRemoveDate(w http.ResponseWriter, r *http.Request) {
	userID, dateID := pathUser(r), pathDate(r)
	if err := h.dates.Remove(r.Context(), userID, dateID); err != nil {
		h.fail(w, r, "api.dates.remove.fail", err)
		return
	}
	h.cacheSoft("remove", h.cache.Remove(dateID, userID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleIncrement(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, "api.dates.increment.fail", h.dates.Increment)
}

func (h *Handler) handleDecrement(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, "api.dates.decrement.fail", h.dates.Decrement)
}

func (h *Handler) vote(w http.ResponseWriter, r *http.Request, event string, fn func(ctx context.Context, userID, dateID string) (dates.Date, error)) {
	userID, dateID := pathUser(r), pathDate(r)
	d, err := fn(r.Context(), userID, dateID)
	if err != nil {
		h.fail(w, r, event, err)
		return
	}
	writeJSON(w, http.StatusOK, toDateResponse(d, h.expanded(dateID, userID)))
}

// handleExpand marks the description expanded for this viewer. The date must
// be visible to the viewer's group.
func (h *Handler) handleExpand(w http.ResponseWriter, r *http.Request) {
	userID, dateID := pathUser(r), pathDate(r)

	d, err := h.dates.Get(r.Context(), userID, dateID)
	if err != nil {
		h.fail(w, r, "api.dates.expand.fail", err)
		return
	}
	if !h.expanded(dateID, userID) {
		h.cache.Add(dateID, userID)
	}
	writeJSON(w, http.StatusOK, toDateResponse(d, true))
}

func (h *Handler) handleCollapse(w http.ResponseWriter, r *http.Request) {
	userID, dateID := pathUser(r), pathDate(r)

	d, err := h.dates.Get(r.Context(), userID, dateID)
	if err != nil {
		h.fail(w, r, "api.dates.collapse.fail", err)
		return
	}
	h.cacheSoft("remove", h.cache.Remove(dateID, userID))
	writeJSON(w, http.StatusOK, toDateResponse(d, false))
}

// expanded treats a cache miss as collapsed.
func (h *Handler) expanded(dateID, userID string) bool {
	ok, err := h.cache.Contains(dateID, userID)
	return err == nil && ok
}

// cacheSoft swallows cache misses; they never fail a request.
func (h *Handler) cacheSoft(op string, err error) {
	if err != nil && !errors.Is(err, expansion.ErrMissingUser) {
		h.log.Warn("api.expansion.fail", "op", op, "err", err)
	}
}

func parseDay(s *string) (*time.Time, bool) {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil, true
	}
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(*s))
	if err != nil {
		return nil, false
	}
	return &t, true
}

func (req dateUpdateRequest) patch() (dates.Patch, bool) {
	p := dates.Patch{
		Name:     req.Name,
		Text:     req.Description,
		ClearDay: req.ClearDay,
	}
	if req.Status != nil {
		st := dates.Status(strings.ToLower(strings.TrimSpace(*req.Status)))
		p.Status = &st
	}
	if req.Day != nil {
		day, ok := parseDay(req.Day)
		if !ok {
			return dates.Patch{}, false
		}
		if day == nil {
			p.ClearDay = true
		}
		p.Day = day
	}
	return p, true
}

