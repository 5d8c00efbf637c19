package ranking

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/onnwee/reelrank/internal/testdb"
)

func TestPostgresStore(t *testing.T) {
	db := testdb.Postgres(t)
	ctx := context.Background()
	store := NewPostgresStore(db, nil)
	owner := testdb.CreateUser(t, db, "ranker")

	t.Run("insert shifts and compacts", func(t *testing.T) {
		for i, title := range []string{"A", "B", "C"} {
			if _, err := store.InsertAtRank(ctx, owner, Candidate{ItemID: int64(i + 1), DisplayTitle: title}, i+1); err != nil {
				t.Fatalf("seed %s: %v", title, err)
			}
		}

		poster := "/d.jpg"
		entry, err := store.InsertAtRank(ctx, owner, Candidate{ItemID: 4, DisplayTitle: "D", PosterRef: &poster}, 2)
		if err != nil {
			t.Fatalf("InsertAtRank() error = %v", err)
		}
		if entry.Rank != 2 || entry.PosterRef == nil || *entry.PosterRef != poster {
			t.Errorf("entry = %+v", entry)
		}

		list, err := store.List(ctx, owner)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		assertContiguous(t, list)
		if got := titlesOf(list); !equalStrings(got, []string{"A", "D", "B", "C"}) {
			t.Errorf("order = %v, want [A D B C]", got)
		}

		if err := store.RemoveAndCompact(ctx, owner, 4); err != nil {
			t.Fatalf("RemoveAndCompact() error = %v", err)
		}
		list, _ = store.List(ctx, owner)
		assertContiguous(t, list)
		if got := titlesOf(list); !equalStrings(got, []string{"A", "B", "C"}) {
			t.Errorf("order after removal = %v", got)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, err := store.InsertAtRank(ctx, owner, Candidate{ItemID: 1, DisplayTitle: "A"}, 1); !errors.Is(err, ErrDuplicateItem) {
			t.Errorf("duplicate error = %v, want ErrDuplicateItem", err)
		}
		if _, err := store.InsertAtRank(ctx, owner, Candidate{ItemID: 77, DisplayTitle: "Z"}, 9); !errors.Is(err, ErrInvalidRank) {
			t.Errorf("out of range error = %v, want ErrInvalidRank", err)
		}
		if err := store.RemoveAndCompact(ctx, owner, 12345); !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("missing removal error = %v, want ErrEntryNotFound", err)
		}
		if _, err := store.FindByItem(ctx, owner, 12345); !errors.Is(err, ErrEntryNotFound) {
			t.Errorf("FindByItem() error = %v, want ErrEntryNotFound", err)
		}
		list, _ := store.List(ctx, owner)
		assertContiguous(t, list)
	})

	t.Run("concurrent inserts keep ranks contiguous", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := Candidate{ItemID: int64(1000 + i), DisplayTitle: "c"}
				if _, err := store.InsertAtRank(ctx, owner, c, 1); err != nil {
					t.Errorf("insert %d: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		list, _ := store.List(ctx, owner)
		assertContiguous(t, list)
		if n, _ := store.Count(ctx, owner); n != 13 {
			t.Errorf("Count() = %d, want 13", n)
		}
	})

	t.Run("engine worked example", func(t *testing.T) {
		other := testdb.CreateUser(t, db, "engine-owner")
		for i, title := range []string{"A", "B", "C"} {
			_, _ = store.InsertAtRank(ctx, other, Candidate{ItemID: int64(i + 1), DisplayTitle: title}, i+1)
		}

		e := NewEngine(store, NewInMemorySessionStore(0), EngineConfig{})
		if _, err := e.BeginInsertion(ctx, other, Candidate{ItemID: 4, DisplayTitle: "D"}); err != nil {
			t.Fatalf("BeginInsertion() error = %v", err)
		}
		if _, err := e.SubmitComparison(ctx, other, 2, 4); err != nil {
			t.Fatalf("SubmitComparison() error = %v", err)
		}
		res, err := e.SubmitComparison(ctx, other, 1, 1)
		if err != nil || res.Rank != 2 {
			t.Fatalf("final = %+v, %v", res, err)
		}
		list, _ := store.List(ctx, other)
		if got := titlesOf(list); !equalStrings(got, []string{"A", "D", "B", "C"}) {
			t.Errorf("order = %v, want [A D B C]", got)
		}
	})
}
