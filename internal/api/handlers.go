package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ppiankov/rankme/internal/dblp"
	"github.com/ppiankov/rankme/internal/rank"
	"github.com/ppiankov/rankme/internal/throttle"
)

type handler struct {
	deps   Deps
	logger zerolog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type venueResponse struct {
	Reference string `json:"reference"`
	FullName  string `json:"fullName"`
}

func (h *handler) rankCore(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := rank.CoreQuery{
		Reference: chi.URLParam(r, "*"),
		Acronym:   r.URL.Query().Get("acronym"),
		Title:     r.URL.Query().Get("title"),
		Year:      year,
	}

	v, err := h.deps.Core.Rank(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) rankSJR(w http.ResponseWriter, r *http.Request) {
	year, err := queryYear(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	q := rank.SJRQuery{
		Reference: chi.URLParam(r, "*"),
		Title:     r.URL.Query().Get("title"),
		Year:      year,
	}

	v, err := h.deps.SJR.Rank(r.Context(), q)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) venue(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "*")
	if strings.TrimSpace(ref) == "" {
		h.writeError(w, fmt.Errorf("%w: missing venue reference", rank.ErrBadRequest))
		return
	}
	writeJSON(w, http.StatusOK, venueResponse{
		Reference: ref,
		FullName:  h.deps.Venues.ResolveFullName(r.Context(), ref),
	})
}

func (h *handler) coreSources(w http.ResponseWriter, r *http.Request) {
	refs, err := h.deps.Sources.Sources(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refs)
}

func (h *handler) coreSource(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Sources.Source(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) searchAuthor(w http.ResponseWriter, r *http.Request) {
	hits, err := h.deps.Authors.SearchAuthor(r.Context(), chi.URLParam(r, "query"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *handler) fetchAuthor(w http.ResponseWriter, r *http.Request) {
	p, err := h.deps.Authors.FetchAuthor(r.Context(), chi.URLParam(r, "*"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// queryYear parses the mandatory year parameter.
func queryYear(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("year"))
	if raw == "" {
		return 0, fmt.Errorf("%w: missing query parameter year", rank.ErrBadRequest)
	}
	year, err := strconv.Atoi(raw)
	if err != nil || year <= 0 {
		return 0, fmt.Errorf("%w: invalid year %q", rank.ErrBadRequest, raw)
	}
	return year, nil
}

func statusFor(err error) int {
	var upstream *throttle.UpstreamError
	switch {
	case errors.Is(err, rank.ErrBadRequest), errors.Is(err, dblp.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, rank.ErrSourceNotFound), errors.Is(err, dblp.ErrAuthorNotFound):
		return http.StatusNotFound
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: http.StatusText(status), Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
