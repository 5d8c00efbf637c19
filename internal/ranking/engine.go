package ranking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/reelrank/internal/tracing"
)

// InsertedFunc is called after an entry lands in an owner's list.
type InsertedFunc func(ctx context.Context, entry Entry)

// EngineConfig holds the optional collaborators of an Engine.
type EngineConfig struct {
	Logger  *slog.Logger
	Metrics *Metrics

	// OnInserted runs synchronously after a successful insertion, outside
	// the owner's lock. It must not call back into the Engine for the same
	// owner while holding its own locks.
	OnInserted InsertedFunc

	// SharedLock, when set, is taken after the in-process owner lock so
	// engines in different processes also serialize per owner.
	SharedLock OwnerLocker
}

// Engine drives the pairwise insertion protocol.
type Engine struct {
	store      Store
	sessions   SessionStore
	locks      *ownerLocks
	shared     OwnerLocker
	logger     *slog.Logger
	metrics    *Metrics
	onInserted InsertedFunc
}

// NewEngine creates an Engine over the given store and session store.
func NewEngine(store Store, sessions SessionStore, cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		sessions:   sessions,
		locks:      newOwnerLocks(),
		shared:     cfg.SharedLock,
		logger:     logger,
		metrics:    cfg.Metrics,
		onInserted: cfg.OnInserted,
	}
}

// BeginInsertion starts placing c into the owner's list. An empty list takes
// the candidate at rank 1 immediately; otherwise a session opens over the
// whole list and the middle entry is returned as the first pivot. Any
// session the owner already had is replaced.
func (e *Engine) BeginInsertion(ctx context.Context, ownerID string, c Candidate) (res *Result, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.begin_insertion")
	defer func() { endSpan(err) }()

	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidOwner
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	tracing.SetAttributes(ctx, attribute.Int64("ranking.item_id", c.ItemID))

	unlock, err := e.lock(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	inserted, res, err := e.beginLocked(ctx, ownerID, c)
	unlock()

	if inserted != nil {
		e.notifyInserted(ctx, *inserted)
	}
	return res, err
}

func (e *Engine) beginLocked(ctx context.Context, ownerID string, c Candidate) (*Entry, *Result, error) {
	_, err := e.store.FindByItem(ctx, ownerID, c.ItemID)
	if err == nil {
		return nil, nil, ErrDuplicateItem
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return nil, nil, fmt.Errorf("failed to check for duplicate: %w", err)
	}

	replaced := false
	if _, err := e.sessions.Get(ctx, ownerID); err == nil {
		replaced = true
	} else if !errors.Is(err, ErrNoActiveSession) {
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}

	n, err := e.store.Count(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count entries: %w", err)
	}

	if n == 0 {
		if replaced {
			e.endSession(ctx, ownerID, EndReasonReplaced)
		}
		entry, err := e.store.InsertAtRank(ctx, ownerID, c, 1)
		if err != nil {
			if errors.Is(err, ErrDuplicateItem) {
				return nil, nil, err
			}
			return nil, nil, fmt.Errorf("failed to insert first entry: %w", err)
		}
		e.metrics.observeInsertion(InsertModeDirect, 0)
		e.logger.InfoContext(ctx, "ranked first entry",
			slog.String("owner_id", ownerID),
			slog.Int64("item_id", c.ItemID))
		return entry, &Result{Status: StatusInserted, Rank: 1, ItemID: c.ItemID}, nil
	}

	sess, err := e.sessions.Start(ctx, ownerID, c, n-1)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}
	if replaced {
		e.metrics.incSessionsEnded(EndReasonReplaced)
		e.logger.InfoContext(ctx, "replaced active ranking session",
			slog.String("owner_id", ownerID),
			slog.Int64("item_id", c.ItemID))
	}
	e.metrics.incSessionsStarted()

	list, err := e.store.List(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list entries: %w", err)
	}
	pivot, err := e.pivotAt(ctx, ownerID, list, sess.mid())
	if err != nil {
		return nil, nil, err
	}

	cand := sess.Candidate
	return nil, &Result{Status: StatusCompare, Pivot: pivot, Candidate: &cand}, nil
}

// SubmitComparison records which of the candidate and the current pivot the
// owner prefers. comparedItemID, when non-zero, must name the current pivot.
// When the bounds cross the candidate is inserted at rank low+1 and the
// session ends; the session is kept if the insert fails so the same call
// can be retried.
func (e *Engine) SubmitComparison(ctx context.Context, ownerID string, comparedItemID, preferredItemID int64) (res *Result, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.submit_comparison")
	defer func() { endSpan(err) }()

	if strings.TrimSpace(ownerID) == "" {
		return nil, ErrInvalidOwner
	}

	unlock, err := e.lock(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	inserted, res, err := e.submitLocked(ctx, ownerID, comparedItemID, preferredItemID)
	unlock()

	if inserted != nil {
		e.notifyInserted(ctx, *inserted)
	}
	return res, err
}

func (e *Engine) submitLocked(ctx context.Context, ownerID string, comparedItemID, preferredItemID int64) (*Entry, *Result, error) {
	sess, err := e.sessions.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}

	list, err := e.store.List(ctx, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list entries: %w", err)
	}

	mid := sess.mid()
	current, err := e.pivotAt(ctx, ownerID, list, mid)
	if err != nil {
		return nil, nil, err
	}
	if comparedItemID != 0 && comparedItemID != current.ItemID {
		return nil, nil, ErrStaleComparison
	}

	preferredIsCandidate := preferredItemID == sess.Candidate.ItemID
	if !preferredIsCandidate && preferredItemID != current.ItemID {
		return nil, nil, ErrInvalidPreference
	}

	low, high := sess.Low, sess.High
	if preferredIsCandidate {
		high = mid - 1
	} else {
		low = mid + 1
	}
	comparisons := sess.Comparisons + 1

	if low > high {
		rank := low + 1
		entry, err := e.store.InsertAtRank(ctx, ownerID, sess.Candidate, rank)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert at rank %d: %w", rank, err)
		}
		e.metrics.incComparisons()
		e.endSession(ctx, ownerID, EndReasonInserted)
		e.metrics.observeInsertion(InsertModeSearch, comparisons)
		e.logger.InfoContext(ctx, "ranked entry placed",
			slog.String("owner_id", ownerID),
			slog.Int64("item_id", sess.Candidate.ItemID),
			slog.Int("rank", rank),
			slog.Int("comparisons", comparisons))
		return entry, &Result{Status: StatusInserted, Rank: rank, ItemID: sess.Candidate.ItemID}, nil
	}

	if err := e.sessions.Update(ctx, ownerID, sess.Comparisons, low, high); err != nil {
		if errors.Is(err, ErrStaleComparison) {
			e.logger.WarnContext(ctx, "ranking session changed during comparison",
				slog.String("owner_id", ownerID),
				slog.Int("comparisons", sess.Comparisons))
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("failed to update session: %w", err)
	}
	e.metrics.incComparisons()
	next, err := e.pivotAt(ctx, ownerID, list, (low+high)/2)
	if err != nil {
		return nil, nil, err
	}

	cand := sess.Candidate
	return nil, &Result{Status: StatusCompare, Pivot: next, Candidate: &cand}, nil
}

// CancelInsertion abandons the owner's in-progress insertion.
func (e *Engine) CancelInsertion(ctx context.Context, ownerID string) error {
	unlock, err := e.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := e.sessions.Get(ctx, ownerID); err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return err
		}
		return fmt.Errorf("failed to load session: %w", err)
	}
	if err := e.sessions.End(ctx, ownerID); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	e.metrics.incSessionsEnded(EndReasonCancelled)
	e.logger.InfoContext(ctx, "ranking session cancelled", slog.String("owner_id", ownerID))
	return nil
}

// ActiveComparison returns the pair the owner is currently being asked to
// compare, so a client can resume after a reload. A session whose pivot no
// longer exists is dropped the same way SubmitComparison drops it.
func (e *Engine) ActiveComparison(ctx context.Context, ownerID string) (*Result, error) {
	unlock, err := e.lock(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := e.sessions.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, ErrNoActiveSession) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	list, err := e.store.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	pivot, err := e.pivotAt(ctx, ownerID, list, sess.mid())
	if err != nil {
		return nil, err
	}

	cand := sess.Candidate
	return &Result{Status: StatusCompare, Pivot: pivot, Candidate: &cand}, nil
}

// Remove deletes an entry and compacts the ranks below it. It is refused
// while the owner has an insertion in progress because the open session's
// bounds index into the current list.
func (e *Engine) Remove(ctx context.Context, ownerID string, itemID int64) (err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "ranking.remove")
	defer func() { endSpan(err) }()

	unlock, err := e.lock(ctx, ownerID)
	if err != nil {
		return err
	}
	defer unlock()

	if _, err := e.sessions.Get(ctx, ownerID); err == nil {
		return ErrInsertionInProgress
	} else if !errors.Is(err, ErrNoActiveSession) {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if err := e.store.RemoveAndCompact(ctx, ownerID, itemID); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return err
		}
		return fmt.Errorf("failed to remove entry: %w", err)
	}
	e.metrics.incRemovals()
	e.logger.InfoContext(ctx, "ranked entry removed",
		slog.String("owner_id", ownerID),
		slog.Int64("item_id", itemID))
	return nil
}

// lock takes the owner's in-process lock and then the shared lock, if any.
func (e *Engine) lock(ctx context.Context, ownerID string) (func(), error) {
	unlock := e.locks.Lock(ownerID)
	if e.shared == nil {
		return unlock, nil
	}
	release, err := e.shared.Acquire(ctx, ownerID)
	if err != nil {
		unlock()
		return nil, err
	}
	return func() {
		release()
		unlock()
	}, nil
}

// List returns the owner's ranked entries.
func (e *Engine) List(ctx context.Context, ownerID string) ([]Entry, error) {
	return e.store.List(ctx, ownerID)
}

// pivotAt returns the entry at idx. A missing entry means the list changed
// underneath the session; the session is dropped so the client restarts.
func (e *Engine) pivotAt(ctx context.Context, ownerID string, list []Entry, idx int) (*Pivot, error) {
	if idx >= 0 && idx < len(list) {
		return pivotFrom(list[idx]), nil
	}

	e.metrics.incTargetUnavailable()
	e.logger.ErrorContext(ctx, "comparison target unavailable",
		slog.String("owner_id", ownerID),
		slog.Int("index", idx),
		slog.Int("list_len", len(list)))
	e.endSession(ctx, ownerID, EndReasonAborted)
	return nil, ErrComparisonTargetUnavailable
}

func (e *Engine) endSession(ctx context.Context, ownerID, reason string) {
	if err := e.sessions.End(ctx, ownerID); err != nil {
		e.logger.WarnContext(ctx, "failed to end ranking session",
			slog.String("owner_id", ownerID),
			slog.String("reason", reason),
			slog.String("error", err.Error()))
		return
	}
	e.metrics.incSessionsEnded(reason)
	tracing.AddEvent(ctx, "ranking.session_ended", attribute.String("reason", reason))
}

// notifyInserted hands the hook a context without the request's
// cancellation; the entry is already stored when it runs.
func (e *Engine) notifyInserted(ctx context.Context, entry Entry) {
	tracing.AddEvent(ctx, "ranking.inserted",
		attribute.Int64("ranking.item_id", entry.ItemID),
		attribute.Int("ranking.rank", entry.Rank))
	if e.onInserted != nil {
		e.onInserted(context.WithoutCancel(ctx), entry)
	}
}
