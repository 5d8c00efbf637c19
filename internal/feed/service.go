package feed

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/reelrank/internal/ranking"
	"github.com/onnwee/reelrank/internal/social"
	"github.com/onnwee/reelrank/internal/tracing"
)

// Service ties ranking events to the activity store, the follow graph and
// the live broadcaster.
type Service struct {
	repo        Repository
	follows     social.Repository
	broadcaster *Broadcaster
	logger      *slog.Logger
	metrics     *Metrics
}

// NewService creates a Service. broadcaster may be nil to disable live
// delivery.
func NewService(repo Repository, follows social.Repository, broadcaster *Broadcaster, logger *slog.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		follows:     follows,
		broadcaster: broadcaster,
		logger:      logger,
		metrics:     metrics,
	}
}

// RecordRanking stores an activity for a newly placed entry and pushes it to
// the owner's connected followers. It matches ranking.InsertedFunc; failures
// are logged because the ranking itself has already been committed.
func (s *Service) RecordRanking(ctx context.Context, entry ranking.Entry) {
	ctx, endSpan := tracing.StartSpan(ctx, "feed.record_ranking",
		attribute.String("feed.actor_id", entry.OwnerID),
		attribute.Int64("feed.item_id", entry.ItemID))
	var err error
	defer func() { endSpan(err) }()

	a := &Activity{
		ActorID:      entry.OwnerID,
		Kind:         KindRanked,
		ItemID:       entry.ItemID,
		DisplayTitle: entry.DisplayTitle,
		PosterRef:    entry.PosterRef,
		Rank:         entry.Rank,
	}
	if err = s.repo.Record(ctx, a); err != nil {
		s.metrics.incRecordErrors()
		s.logger.ErrorContext(ctx, "failed to record ranking activity",
			slog.String("actor_id", entry.OwnerID),
			slog.Int64("item_id", entry.ItemID),
			slog.String("error", err.Error()))
		return
	}
	s.metrics.incActivities()

	if s.broadcaster == nil {
		return
	}
	followers, ferr := s.follows.ListFollowers(ctx, entry.OwnerID)
	if ferr != nil {
		s.logger.WarnContext(ctx, "failed to load followers for live feed",
			slog.String("actor_id", entry.OwnerID),
			slog.String("error", ferr.Error()))
		return
	}
	ids := make([]string, len(followers))
	for i, f := range followers {
		ids[i] = f.FollowerID
	}
	s.broadcaster.Broadcast(ids, a)
}

// List returns a page of activity from the users userID follows.
func (s *Service) List(ctx context.Context, userID string, limit int, cursor *Cursor) ([]Activity, *Cursor, error) {
	following, err := s.follows.ListFollowing(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load follows: %w", err)
	}
	if len(following) == 0 {
		return []Activity{}, nil, nil
	}
	return s.repo.ListForActors(ctx, social.FolloweeIDs(following), limit, cursor)
}
