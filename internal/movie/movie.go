// Package movie is a read-only client for the TMDB v3 movie catalog.
// Calls pass through a circuit breaker and a small in-process cache so a slow
// or failing TMDB degrades search instead of tying up request goroutines.
package movie

import (
	"context"
	"errors"
)

// Errors returned by catalog clients.
var (
	ErrNotFound     = errors.New("movie not found")
	ErrInvalidQuery = errors.New("invalid search query")
	ErrRateLimited  = errors.New("movie catalog rate limit exceeded")
	ErrUnavailable  = errors.New("movie catalog unavailable")
)

// Search bounds enforced before calling TMDB.
const (
	MaxQueryLength = 200
	MaxPage        = 500
)

// Summary is a search hit.
type Summary struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Overview      string  `json:"overview"`
	ReleaseDate   string  `json:"release_date"`
	PosterPath    *string `json:"poster_path"`
	BackdropPath  *string `json:"backdrop_path"`
	VoteAverage   float64 `json:"vote_average"`
	Popularity    float64 `json:"popularity"`
	GenreIDs      []int   `json:"genre_ids"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Page         int       `json:"page"`
	TotalPages   int       `json:"total_pages"`
	TotalResults int       `json:"total_results"`
	Results      []Summary `json:"results"`
}

// Genre is a TMDB genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Details is the full record for one movie.
type Details struct {
	ID            int64   `json:"id"`
	IMDbID        *string `json:"imdb_id"`
	Title         string  `json:"title"`
	OriginalTitle string  `json:"original_title"`
	Tagline       string  `json:"tagline"`
	Overview      string  `json:"overview"`
	ReleaseDate   string  `json:"release_date"`
	Runtime       int     `json:"runtime"`
	Status        string  `json:"status"`
	PosterPath    *string `json:"poster_path"`
	BackdropPath  *string `json:"backdrop_path"`
	VoteAverage   float64 `json:"vote_average"`
	VoteCount     int     `json:"vote_count"`
	Genres        []Genre `json:"genres"`
}

// Catalog looks movies up.
type Catalog interface {
	Search(ctx context.Context, query string, page int) (*SearchPage, error)
	Details(ctx context.Context, id int64) (*Details, error)
}
