package ranking

import (
	"errors"
	"strings"
	"time"
)

// Errors returned by the ranking package.
var (
	// ErrDuplicateItem is returned when the owner has already ranked the item.
	ErrDuplicateItem = errors.New("item already ranked")

	// ErrNoActiveSession is returned when a comparison is submitted without
	// an insertion in progress.
	ErrNoActiveSession = errors.New("no active ranking session")

	// ErrComparisonTargetUnavailable means the stored list no longer matches
	// the session bounds, usually because it changed underneath the search.
	ErrComparisonTargetUnavailable = errors.New("comparison target unavailable")

	// ErrInvalidCandidate is returned when the candidate is missing an id or title.
	ErrInvalidCandidate = errors.New("invalid candidate")

	// ErrInvalidPreference is returned when the preferred item is neither the
	// candidate nor the current pivot.
	ErrInvalidPreference = errors.New("preferred item is not part of the current comparison")

	// ErrStaleComparison is returned when the compared item is not the pivot
	// the session is currently waiting on, or when another request advanced
	// the session between this request's read and its write.
	ErrStaleComparison = errors.New("comparison does not match the current pivot")

	// ErrInsertionInProgress is returned by operations that would invalidate
	// an open search.
	ErrInsertionInProgress = errors.New("insertion in progress")

	// ErrEntryNotFound is returned when the owner has not ranked the item.
	ErrEntryNotFound = errors.New("ranked entry not found")

	// ErrInvalidRank is returned when an insert rank falls outside 1..N+1.
	ErrInvalidRank = errors.New("rank out of range")

	// ErrOwnerBusy is returned when another instance holds the owner's
	// ranking lock for longer than the caller is willing to wait.
	ErrOwnerBusy = errors.New("ranking busy for owner")

	// ErrInvalidOwner is returned when the owner identifier is empty.
	ErrInvalidOwner = errors.New("owner is required")
)

// Result statuses.
const (
	StatusInserted = "inserted"
	StatusCompare  = "compare"
)

// Entry is one owner's placement of one movie.
type Entry struct {
	OwnerID      string    `json:"ownerId"`
	ItemID       int64     `json:"itemId"`
	DisplayTitle string    `json:"displayTitle"`
	PosterRef    *string   `json:"posterRef,omitempty"`
	Rank         int       `json:"rank"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Candidate is the movie being inserted.
type Candidate struct {
	ItemID       int64   `json:"itemId"`
	DisplayTitle string  `json:"displayTitle"`
	PosterRef    *string `json:"posterRef,omitempty"`
}

// Validate checks that the candidate carries an item id and a title.
func (c Candidate) Validate() error {
	if c.ItemID <= 0 {
		return errors.Join(ErrInvalidCandidate, errors.New("itemId must be positive"))
	}
	if strings.TrimSpace(c.DisplayTitle) == "" {
		return errors.Join(ErrInvalidCandidate, errors.New("displayTitle is required"))
	}
	return nil
}

// Pivot is the existing entry the candidate is compared against.
type Pivot struct {
	ItemID       int64   `json:"itemId"`
	DisplayTitle string  `json:"displayTitle"`
	PosterRef    *string `json:"posterRef,omitempty"`
	Rank         int     `json:"rank"`
}

func pivotFrom(e Entry) *Pivot {
	return &Pivot{
		ItemID:       e.ItemID,
		DisplayTitle: e.DisplayTitle,
		PosterRef:    e.PosterRef,
		Rank:         e.Rank,
	}
}

// Session is the in-progress binary search for one owner.
// Low and High are inclusive 0-based indices into the owner's list and
// always satisfy 0 <= Low <= High+1.
type Session struct {
	OwnerID     string    `cbor:"1,keyasint" json:"ownerId"`
	Candidate   Candidate `cbor:"2,keyasint" json:"candidate"`
	Low         int       `cbor:"3,keyasint" json:"low"`
	High        int       `cbor:"4,keyasint" json:"high"`
	Comparisons int       `cbor:"5,keyasint" json:"comparisons"`
	StartedAt   time.Time `cbor:"6,keyasint" json:"startedAt"`
}

// mid returns the index of the pivot for the current bounds.
func (s *Session) mid() int {
	return (s.Low + s.High) / 2
}

// Result is the outcome of BeginInsertion or SubmitComparison.
// Status is StatusInserted with Rank and ItemID set, or StatusCompare with
// Pivot and Candidate set.
type Result struct {
	Status    string     `json:"status"`
	Rank      int        `json:"rank,omitempty"`
	ItemID    int64      `json:"itemId,omitempty"`
	Pivot     *Pivot     `json:"pivot,omitempty"`
	Candidate *Candidate `json:"candidate,omitempty"`
}
