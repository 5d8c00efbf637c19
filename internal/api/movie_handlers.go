package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/onnwee/reelrank/internal/movie"
)

// MovieHandlers proxies the TMDB catalog.
type MovieHandlers struct {
	catalog movie.Catalog
}

// NewMovieHandlers creates a new MovieHandlers instance.
func NewMovieHandlers(catalog movie.Catalog) *MovieHandlers {
	return &MovieHandlers{catalog: catalog}
}

// Search handles GET /movies/search?q=&page=.
func (h *MovieHandlers) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := 0
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > movie.MaxPage {
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "page must be between 1 and 500")
			return
		}
		page = n
	}

	res, err := h.catalog.Search(r.Context(), q.Get("q"), page)
	if err != nil {
		h.failCatalog(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// Details handles GET /movies/{id}.
func (h *MovieHandlers) Details(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(w, r, http.StatusBadRequest, ErrCodeValidation, "movie id must be a positive integer")
		return
	}

	d, err := h.catalog.Details(r.Context(), id)
	if err != nil {
		h.failCatalog(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

func (h *MovieHandlers) failCatalog(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, movie.ErrInvalidQuery):
		fail(w, r, http.StatusBadRequest, ErrCodeValidation, "q must be 1 to 200 characters")
	case errors.Is(err, movie.ErrNotFound):
		fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Movie not found")
	case errors.Is(err, movie.ErrRateLimited):
		w.Header().Set("Retry-After", "10")
		fail(w, r, http.StatusServiceUnavailable, ErrCodeRateLimited, "Movie catalog is busy, please retry shortly")
	case errors.Is(err, movie.ErrUnavailable):
		fail(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "Movie catalog is unavailable")
	case r.Context().Err() != nil:
		// Client went away; nothing useful to send.
		fail(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "Request cancelled")
	default:
		failInternal(w, r, "movie catalog request failed", err)
	}
}
