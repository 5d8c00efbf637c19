package social

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/reelrank/internal/testdb"
)

func exerciseRepository(t *testing.T, repo Repository, alice, bob, carol string) {
	ctx := context.Background()

	if _, err := repo.Follow(ctx, alice, bob); err != nil {
		t.Fatalf("Follow(alice, bob) error = %v", err)
	}
	if _, err := repo.Follow(ctx, alice, carol); err != nil {
		t.Fatalf("Follow(alice, carol) error = %v", err)
	}
	if _, err := repo.Follow(ctx, carol, bob); err != nil {
		t.Fatalf("Follow(carol, bob) error = %v", err)
	}

	t.Run("errors", func(t *testing.T) {
		if _, err := repo.Follow(ctx, alice, alice); !errors.Is(err, ErrSelfFollow) {
			t.Errorf("self follow error = %v, want ErrSelfFollow", err)
		}
		if _, err := repo.Follow(ctx, alice, bob); !errors.Is(err, ErrAlreadyFollowing) {
			t.Errorf("repeat follow error = %v, want ErrAlreadyFollowing", err)
		}
		if err := repo.Unfollow(ctx, bob, alice); !errors.Is(err, ErrNotFollowing) {
			t.Errorf("unfollow error = %v, want ErrNotFollowing", err)
		}
	})

	t.Run("lists", func(t *testing.T) {
		following, err := repo.ListFollowing(ctx, alice)
		if err != nil {
			t.Fatalf("ListFollowing() error = %v", err)
		}
		if len(following) != 2 {
			t.Fatalf("alice follows %d users, want 2", len(following))
		}
		ids := FolloweeIDs(following)
		if !contains(ids, bob) || !contains(ids, carol) {
			t.Errorf("FolloweeIDs = %v", ids)
		}

		followers, err := repo.ListFollowers(ctx, bob)
		if err != nil {
			t.Fatalf("ListFollowers() error = %v", err)
		}
		if len(followers) != 2 {
			t.Errorf("bob has %d followers, want 2", len(followers))
		}
		for _, f := range followers {
			if f.FolloweeID != bob || f.CreatedAt.IsZero() {
				t.Errorf("follower edge = %+v", f)
			}
		}

		empty, err := repo.ListFollowing(ctx, bob)
		if err != nil || empty == nil || len(empty) != 0 {
			t.Errorf("ListFollowing(bob) = %v, %v; want empty non-nil", empty, err)
		}
	})

	t.Run("unfollow", func(t *testing.T) {
		if err := repo.Unfollow(ctx, alice, carol); err != nil {
			t.Fatalf("Unfollow() error = %v", err)
		}
		ok, err := repo.IsFollowing(ctx, alice, carol)
		if err != nil || ok {
			t.Errorf("IsFollowing after unfollow = %v, %v", ok, err)
		}
		ok, err = repo.IsFollowing(ctx, alice, bob)
		if err != nil || !ok {
			t.Errorf("IsFollowing(alice, bob) = %v, %v", ok, err)
		}
	})
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func TestInMemoryRepository(t *testing.T) {
	exerciseRepository(t, NewInMemoryRepository(), "alice", "bob", "carol")
}

func TestPostgresRepository(t *testing.T) {
	db := testdb.Postgres(t)
	repo := NewPostgresRepository(db, nil)
	alice := testdb.CreateUser(t, db, "alice")
	bob := testdb.CreateUser(t, db, "bob")
	carol := testdb.CreateUser(t, db, "carol")

	exerciseRepository(t, repo, alice, bob, carol)

	t.Run("unknown followee", func(t *testing.T) {
		ctx := context.Background()
		if _, err := repo.Follow(ctx, alice, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, ErrUnknownUser) {
			t.Errorf("error = %v, want ErrUnknownUser", err)
		}
		if _, err := repo.Follow(ctx, alice, "bob"); !errors.Is(err, ErrUnknownUser) {
			t.Errorf("malformed id error = %v, want ErrUnknownUser", err)
		}
	})
}

func TestInMemoryRepository_NewestFirst(t *testing.T) {
	repo := NewInMemoryRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}

	ctx := context.Background()
	for _, followee := range []string{"b", "c", "d"} {
		if _, err := repo.Follow(ctx, "a", followee); err != nil {
			t.Fatal(err)
		}
	}

	following, _ := repo.ListFollowing(ctx, "a")
	got := FolloweeIDs(following)
	want := []string{"d", "c", "b"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}
