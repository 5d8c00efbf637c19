package ranking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
)

func newTestEngine(cfg EngineConfig) (*Engine, *InMemoryStore, *InMemorySessionStore) {
	store := NewInMemoryStore()
	sessions := NewInMemorySessionStore(0)
	return NewEngine(store, sessions, cfg), store, sessions
}

// insertWithOracle drives one insertion to completion, answering each
// comparison with prefer. It returns the number of comparisons used.
func insertWithOracle(t *testing.T, e *Engine, owner string, c Candidate, prefer func(candidate, pivot int64) int64) (int, *Result) {
	t.Helper()
	ctx := context.Background()

	res, err := e.BeginInsertion(ctx, owner, c)
	if err != nil {
		t.Fatalf("BeginInsertion(%d) error = %v", c.ItemID, err)
	}

	comparisons := 0
	for res.Status == StatusCompare {
		comparisons++
		pivot := res.Pivot.ItemID
		res, err = e.SubmitComparison(ctx, owner, pivot, prefer(c.ItemID, pivot))
		if err != nil {
			t.Fatalf("SubmitComparison() error = %v", err)
		}
	}
	return comparisons, res
}

func TestEngine_FirstItemShortCircuit(t *testing.T) {
	e, store, sessions := newTestEngine(EngineConfig{})

	res, err := e.BeginInsertion(context.Background(), "u1", Candidate{ItemID: 10, DisplayTitle: "Alien"})
	if err != nil {
		t.Fatalf("BeginInsertion() error = %v", err)
	}
	if res.Status != StatusInserted || res.Rank != 1 || res.ItemID != 10 {
		t.Errorf("result = %+v, want inserted at rank 1", res)
	}
	if sessions.Len() != 0 {
		t.Errorf("first insertion opened a session")
	}
	if n, _ := store.Count(context.Background(), "u1"); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestEngine_WorkedExample(t *testing.T) {
	ctx := context.Background()
	e, store, sessions := newTestEngine(EngineConfig{})
	seedStore(t, store, "u1", "A", "B", "C")
	const d = int64(4)

	res, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: d, DisplayTitle: "D"})
	if err != nil {
		t.Fatalf("BeginInsertion() error = %v", err)
	}
	if res.Status != StatusCompare || res.Pivot.DisplayTitle != "B" {
		t.Fatalf("first pivot = %+v, want B", res.Pivot)
	}
	sess, _ := sessions.Get(ctx, "u1")
	if sess.Low != 0 || sess.High != 2 {
		t.Fatalf("session bounds = [%d,%d], want [0,2]", sess.Low, sess.High)
	}

	// D beats B.
	res, err = e.SubmitComparison(ctx, "u1", 2, d)
	if err != nil {
		t.Fatalf("SubmitComparison(B) error = %v", err)
	}
	if res.Status != StatusCompare || res.Pivot.DisplayTitle != "A" {
		t.Fatalf("second pivot = %+v, want A", res.Pivot)
	}
	sess, _ = sessions.Get(ctx, "u1")
	if sess.Low != 0 || sess.High != 0 {
		t.Fatalf("session bounds = [%d,%d], want [0,0]", sess.Low, sess.High)
	}

	// A beats D.
	res, err = e.SubmitComparison(ctx, "u1", 1, 1)
	if err != nil {
		t.Fatalf("SubmitComparison(A) error = %v", err)
	}
	if res.Status != StatusInserted || res.Rank != 2 || res.ItemID != d {
		t.Fatalf("final result = %+v, want inserted at rank 2", res)
	}

	list, _ := store.List(ctx, "u1")
	assertContiguous(t, list)
	if got := titlesOf(list); !equalStrings(got, []string{"A", "D", "B", "C"}) {
		t.Errorf("final order = %v, want [A D B C]", got)
	}
	if _, err := sessions.Get(ctx, "u1"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("session still open after insertion")
	}
}

func TestEngine_DuplicateRejectionDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	e, store, sessions := newTestEngine(EngineConfig{})
	seedStore(t, store, "u1", "A", "B")

	before, _ := store.List(ctx, "u1")
	for i := 0; i < 2; i++ {
		_, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 2, DisplayTitle: "B"})
		if !errors.Is(err, ErrDuplicateItem) {
			t.Fatalf("attempt %d: error = %v, want ErrDuplicateItem", i+1, err)
		}
	}

	after, _ := store.List(ctx, "u1")
	if !equalStrings(titlesOf(before), titlesOf(after)) {
		t.Errorf("list changed: %v -> %v", titlesOf(before), titlesOf(after))
	}
	if sessions.Len() != 0 {
		t.Errorf("duplicate opened a session")
	}
}

func TestEngine_InvalidInput(t *testing.T) {
	e, _, _ := newTestEngine(EngineConfig{})
	ctx := context.Background()

	tests := []struct {
		name  string
		owner string
		c     Candidate
		want  error
	}{
		{name: "missing owner", owner: " ", c: Candidate{ItemID: 1, DisplayTitle: "x"}, want: ErrInvalidOwner},
		{name: "missing item id", owner: "u1", c: Candidate{DisplayTitle: "x"}, want: ErrInvalidCandidate},
		{name: "missing title", owner: "u1", c: Candidate{ItemID: 1}, want: ErrInvalidCandidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.BeginInsertion(ctx, tt.owner, tt.c); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEngine_ComparisonBound(t *testing.T) {
	for n := 1; n <= 33; n++ {
		bound := int(math.Ceil(math.Log2(float64(n + 1))))

		for target := 0; target <= n; target++ {
			t.Run(fmt.Sprintf("n=%d/pos=%d", n, target), func(t *testing.T) {
				e, store, _ := newTestEngine(EngineConfig{})
				ctx := context.Background()

				// Existing items have ids 1..n in preference order. The
				// candidate belongs right before index target.
				for i := 1; i <= n; i++ {
					_, _ = store.InsertAtRank(ctx, "u1", Candidate{ItemID: int64(i), DisplayTitle: "m"}, i)
				}
				const candidate = int64(1000)
				prefer := func(cand, pivot int64) int64 {
					if int(pivot) > target {
						return cand
					}
					return pivot
				}

				used, res := insertWithOracle(t, e, "u1", Candidate{ItemID: candidate, DisplayTitle: "new"}, prefer)
				if used > bound {
					t.Errorf("used %d comparisons, bound is %d", used, bound)
				}
				if res.Rank != target+1 {
					t.Errorf("inserted at rank %d, want %d", res.Rank, target+1)
				}

				list, _ := store.List(ctx, "u1")
				assertContiguous(t, list)
				if list[target].ItemID != candidate {
					t.Errorf("candidate not at index %d", target)
				}
			})
		}
	}
}

func TestEngine_SubmitWithoutSession(t *testing.T) {
	e, _, _ := newTestEngine(EngineConfig{})
	_, err := e.SubmitComparison(context.Background(), "u1", 1, 2)
	if !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("error = %v, want ErrNoActiveSession", err)
	}
}

func TestEngine_RejectsForeignPreferenceAndStalePivot(t *testing.T) {
	ctx := context.Background()
	e, store, sessions := newTestEngine(EngineConfig{})
	seedStore(t, store, "u1", "A", "B", "C")

	if _, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 9, DisplayTitle: "D"}); err != nil {
		t.Fatalf("BeginInsertion() error = %v", err)
	}

	if _, err := e.SubmitComparison(ctx, "u1", 2, 3); !errors.Is(err, ErrInvalidPreference) {
		t.Errorf("preferring a bystander: error = %v, want ErrInvalidPreference", err)
	}
	if _, err := e.SubmitComparison(ctx, "u1", 1, 9); !errors.Is(err, ErrStaleComparison) {
		t.Errorf("comparing against old pivot: error = %v, want ErrStaleComparison", err)
	}

	sess, _ := sessions.Get(ctx, "u1")
	if sess.Low != 0 || sess.High != 2 || sess.Comparisons != 0 {
		t.Errorf("rejected submissions changed session: %+v", sess)
	}

	// comparedItemID is optional.
	res, err := e.SubmitComparison(ctx, "u1", 0, 2)
	if err != nil {
		t.Fatalf("SubmitComparison() error = %v", err)
	}
	if res.Status != StatusCompare || res.Pivot.DisplayTitle != "C" {
		t.Errorf("next pivot = %+v, want C", res.Pivot)
	}
}

// failingStore fails InsertAtRank while failInsert is set.
type failingStore struct {
	*InMemoryStore
	mu         sync.Mutex
	failInsert bool
	truncate   bool
}

var errStoreDown = errors.New("store down")

func (f *failingStore) InsertAtRank(ctx context.Context, owner string, c Candidate, rank int) (*Entry, error) {
	f.mu.Lock()
	fail := f.failInsert
	f.mu.Unlock()
	if fail {
		return nil, errStoreDown
	}
	return f.InMemoryStore.InsertAtRank(ctx, owner, c, rank)
}

func (f *failingStore) List(ctx context.Context, owner string) ([]Entry, error) {
	list, err := f.InMemoryStore.List(ctx, owner)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.truncate && len(list) > 0 {
		list = list[:1]
	}
	return list, err
}

func TestEngine_StoreFailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{InMemoryStore: NewInMemoryStore()}
	sessions := NewInMemorySessionStore(0)
	e := NewEngine(store, sessions, EngineConfig{})
	seedStore(t, store.InMemoryStore, "u1", "A")

	if _, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 5, DisplayTitle: "B"}); err != nil {
		t.Fatalf("BeginInsertion() error = %v", err)
	}

	store.failInsert = true
	if _, err := e.SubmitComparison(ctx, "u1", 1, 1); !errors.Is(err, errStoreDown) {
		t.Fatalf("error = %v, want errStoreDown", err)
	}
	if _, err := sessions.Get(ctx, "u1"); err != nil {
		t.Fatalf("session lost after failed insert: %v", err)
	}

	store.failInsert = false
	res, err := e.SubmitComparison(ctx, "u1", 1, 1)
	if err != nil {
		t.Fatalf("retry error = %v", err)
	}
	if res.Status != StatusInserted || res.Rank != 2 {
		t.Errorf("retry result = %+v, want inserted at rank 2", res)
	}
}

func TestEngine_ComparisonTargetUnavailable(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{InMemoryStore: NewInMemoryStore()}
	sessions := NewInMemorySessionStore(0)
	e := NewEngine(store, sessions, EngineConfig{})
	seedStore(t, store.InMemoryStore, "u1", "A", "B", "C", "D", "E")

	store.truncate = true
	_, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 50, DisplayTitle: "X"})
	if !errors.Is(err, ErrComparisonTargetUnavailable) {
		t.Fatalf("error = %v, want ErrComparisonTargetUnavailable", err)
	}
	if sessions.Len() != 0 {
		t.Errorf("session kept after inconsistent list")
	}

	store.truncate = false
	res, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 50, DisplayTitle: "X"})
	if err != nil || res.Status != StatusCompare {
		t.Errorf("restart after failure = %+v, %v", res, err)
	}
}

func TestEngine_BeginReplacesActiveSession(t *testing.T) {
	ctx := context.Background()
	e, store, sessions := newTestEngine(EngineConfig{})
	seedStore(t, store, "u1", "A", "B", "C")

	_, _ = e.BeginInsertion(ctx, "u1", Candidate{ItemID: 10, DisplayTitle: "first"})
	_, _ = e.SubmitComparison(ctx, "u1", 2, 10)

	res, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 11, DisplayTitle: "second"})
	if err != nil {
		t.Fatalf("BeginInsertion() error = %v", err)
	}
	if res.Candidate.ItemID != 11 || res.Pivot.DisplayTitle != "B" {
		t.Errorf("result = %+v, want fresh search for 11", res)
	}
	sess, _ := sessions.Get(ctx, "u1")
	if sess.Candidate.ItemID != 11 || sess.Low != 0 || sess.High != 2 {
		t.Errorf("session = %+v", sess)
	}
}

func TestEngine_CancelInsertion(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(EngineConfig{})
	seedStore(t, store, "u1", "A")

	if err := e.CancelInsertion(ctx, "u1"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("cancel without session error = %v, want ErrNoActiveSession", err)
	}

	_, _ = e.BeginInsertion(ctx, "u1", Candidate{ItemID: 2, DisplayTitle: "B"})
	if err := e.CancelInsertion(ctx, "u1"); err != nil {
		t.Fatalf("CancelInsertion() error = %v", err)
	}
	if _, err := e.SubmitComparison(ctx, "u1", 1, 2); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("submit after cancel error = %v, want ErrNoActiveSession", err)
	}
	if n, _ := store.Count(ctx, "u1"); n != 1 {
		t.Errorf("cancel changed the list")
	}
}

func TestEngine_ActiveComparison(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(EngineConfig{})
	seedStore(t, store, "u1", "A", "B", "C")

	if _, err := e.ActiveComparison(ctx, "u1"); !errors.Is(err, ErrNoActiveSession) {
		t.Errorf("error = %v, want ErrNoActiveSession", err)
	}

	_, _ = e.BeginInsertion(ctx, "u1", Candidate{ItemID: 9, DisplayTitle: "D"})
	_, _ = e.SubmitComparison(ctx, "u1", 2, 9)

	res, err := e.ActiveComparison(ctx, "u1")
	if err != nil {
		t.Fatalf("ActiveComparison() error = %v", err)
	}
	if res.Pivot.DisplayTitle != "A" || res.Candidate.ItemID != 9 {
		t.Errorf("result = %+v", res)
	}
}

func TestEngine_Remove(t *testing.T) {
	ctx := context.Background()
	e, store, _ := newTestEngine(EngineConfig{})
	seedStore(t, store, "u1", "A", "B", "C", "D")

	if err := e.Remove(ctx, "u1", 2); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	list, _ := e.List(ctx, "u1")
	assertContiguous(t, list)
	if got := titlesOf(list); !equalStrings(got, []string{"A", "C", "D"}) {
		t.Errorf("order = %v, want [A C D]", got)
	}

	if err := e.Remove(ctx, "u1", 2); !errors.Is(err, ErrEntryNotFound) {
		t.Errorf("error = %v, want ErrEntryNotFound", err)
	}

	_, _ = e.BeginInsertion(ctx, "u1", Candidate{ItemID: 7, DisplayTitle: "X"})
	if err := e.Remove(ctx, "u1", 1); !errors.Is(err, ErrInsertionInProgress) {
		t.Errorf("remove during insertion error = %v, want ErrInsertionInProgress", err)
	}
}

func TestEngine_OnInsertedHook(t *testing.T) {
	var got []Entry
	e, store, _ := newTestEngine(EngineConfig{
		OnInserted: func(ctx context.Context, entry Entry) {
			got = append(got, entry)
		},
	})
	ctx := context.Background()

	_, _ = e.BeginInsertion(ctx, "u1", Candidate{ItemID: 1, DisplayTitle: "A"})
	_, _ = e.BeginInsertion(ctx, "u1", Candidate{ItemID: 2, DisplayTitle: "B"})
	_, _ = e.SubmitComparison(ctx, "u1", 1, 1)

	if len(got) != 2 {
		t.Fatalf("hook called %d times, want 2", len(got))
	}
	if got[1].ItemID != 2 || got[1].Rank != 2 || got[1].OwnerID != "u1" {
		t.Errorf("second hook entry = %+v", got[1])
	}
	if n, _ := store.Count(ctx, "u1"); n != 2 {
		t.Errorf("Count() = %d, want 2", n)
	}
}

func TestEngine_ConcurrentOwnersAreIsolated(t *testing.T) {
	e, store, _ := newTestEngine(EngineConfig{})
	const owners = 8
	const items = 20

	// Every owner inserts the same ids but prefers them in a different order.
	var wg sync.WaitGroup
	errs := make(chan error, owners)
	for o := 0; o < owners; o++ {
		wg.Add(1)
		go func(o int) {
			defer wg.Done()
			ctx := context.Background()
			owner := fmt.Sprintf("owner-%d", o)
			score := func(id int64) int64 { return (id * int64(o+3)) % 101 }

			for id := int64(1); id <= items; id++ {
				res, err := e.BeginInsertion(ctx, owner, Candidate{ItemID: id, DisplayTitle: "m"})
				for err == nil && res.Status == StatusCompare {
					preferred := res.Pivot.ItemID
					if score(id) < score(res.Pivot.ItemID) {
						preferred = id
					}
					res, err = e.SubmitComparison(ctx, owner, res.Pivot.ItemID, preferred)
				}
				if err != nil {
					errs <- fmt.Errorf("%s item %d: %w", owner, id, err)
					return
				}
			}

			list, _ := store.List(ctx, owner)
			for i := 1; i < len(list); i++ {
				if score(list[i-1].ItemID) > score(list[i].ItemID) {
					errs <- fmt.Errorf("%s out of order at %d", owner, i)
					return
				}
			}
		}(o)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	for o := 0; o < owners; o++ {
		list, _ := store.List(context.Background(), fmt.Sprintf("owner-%d", o))
		if len(list) != items {
			t.Errorf("owner-%d has %d entries, want %d", o, len(list), items)
		}
		assertContiguous(t, list)
	}
	if e.locks.size() != 0 {
		t.Errorf("owner locks leaked: %d", e.locks.size())
	}
}

func TestEngine_SameOwnerCallsSerialize(t *testing.T) {
	e, store, _ := newTestEngine(EngineConfig{})
	ctx := context.Background()
	seedStore(t, store, "u1", "A", "B", "C", "D", "E", "F")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := int64(100 + i)
			res, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: id, DisplayTitle: "x"})
			if err != nil || res.Status != StatusCompare {
				return
			}
			// Racing sessions replace each other, so most of these fail
			// with a stale or foreign preference. None may corrupt ranks.
			_, _ = e.SubmitComparison(ctx, "u1", res.Pivot.ItemID, id)
		}(i)
	}
	wg.Wait()

	list, _ := store.List(ctx, "u1")
	assertContiguous(t, list)
}

// barrierSessionStore holds Get callers once armed until n of them have
// read, so concurrent submissions all see the same session version.
type barrierSessionStore struct {
	*InMemorySessionStore
	mu      sync.Mutex
	waiting int
	release chan struct{}
}

func (b *barrierSessionStore) arm(n int) {
	b.mu.Lock()
	b.waiting = n
	b.release = make(chan struct{})
	b.mu.Unlock()
}

func (b *barrierSessionStore) Get(ctx context.Context, owner string) (*Session, error) {
	sess, err := b.InMemorySessionStore.Get(ctx, owner)

	b.mu.Lock()
	var release chan struct{}
	if b.waiting > 0 {
		release = b.release
		b.waiting--
		if b.waiting == 0 {
			close(release)
		}
	}
	b.mu.Unlock()

	if release != nil {
		<-release
	}
	return sess, err
}

func TestEngine_ConcurrentSubmitAcrossEngines(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sessions := &barrierSessionStore{InMemorySessionStore: NewInMemorySessionStore(0)}
	seedStore(t, store, "u1", "A", "B", "C")
	const d = int64(4)

	// Two instances share storage but not their in-process owner locks.
	tab1 := NewEngine(store, sessions, EngineConfig{})
	tab2 := NewEngine(store, sessions, EngineConfig{})

	res, err := tab1.BeginInsertion(ctx, "u1", Candidate{ItemID: d, DisplayTitle: "D"})
	if err != nil || res.Pivot.ItemID != 2 {
		t.Fatalf("BeginInsertion() = %+v, %v, want pivot B", res, err)
	}

	sessions.arm(2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = tab1.SubmitComparison(ctx, "u1", 2, d)
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = tab2.SubmitComparison(ctx, "u1", 2, 2)
	}()
	wg.Wait()

	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			if winner != -1 {
				t.Fatalf("both submissions against the same pivot were accepted")
			}
			winner = i
		case !errors.Is(err, ErrStaleComparison):
			t.Errorf("submission %d error = %v, want ErrStaleComparison", i, err)
		}
	}
	if winner == -1 {
		t.Fatalf("no submission was accepted: %v", errs)
	}

	sess, err := sessions.InMemorySessionStore.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	wantLow, wantHigh := 0, 0
	if winner == 1 {
		wantLow, wantHigh = 2, 2
	}
	if sess.Low != wantLow || sess.High != wantHigh || sess.Comparisons != 1 {
		t.Errorf("session = [%d,%d] after %d comparisons, want [%d,%d] after 1",
			sess.Low, sess.High, sess.Comparisons, wantLow, wantHigh)
	}
}

// fakeOwnerLocker is an in-memory OwnerLocker that records its use.
type fakeOwnerLocker struct {
	mu       sync.Mutex
	err      error
	acquired int
	released int
}

func (f *fakeOwnerLocker) Acquire(ctx context.Context, ownerID string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.acquired++
	return func() {
		f.mu.Lock()
		f.released++
		f.mu.Unlock()
	}, nil
}

func TestEngine_SharedLock(t *testing.T) {
	ctx := context.Background()
	locker := &fakeOwnerLocker{}
	e, store, _ := newTestEngine(EngineConfig{SharedLock: locker})
	seedStore(t, store, "u1", "A", "B", "C")

	_, _ = e.BeginInsertion(ctx, "u1", Candidate{ItemID: 9, DisplayTitle: "D"})
	_, _ = e.SubmitComparison(ctx, "u1", 2, 9)
	_, _ = e.ActiveComparison(ctx, "u1")
	_ = e.CancelInsertion(ctx, "u1")
	_ = e.Remove(ctx, "u1", 1)

	if locker.acquired != 5 || locker.released != 5 {
		t.Errorf("shared lock acquired %d released %d, want 5/5", locker.acquired, locker.released)
	}

	locker.err = ErrOwnerBusy
	if _, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 10, DisplayTitle: "E"}); !errors.Is(err, ErrOwnerBusy) {
		t.Errorf("BeginInsertion() error = %v, want ErrOwnerBusy", err)
	}
	if e.locks.size() != 0 {
		t.Errorf("in-process lock held after shared lock failed")
	}
}

func TestEngine_ActiveComparisonDropsMissingPivot(t *testing.T) {
	ctx := context.Background()
	m := NewMetrics()
	store := &failingStore{InMemoryStore: NewInMemoryStore()}
	sessions := NewInMemorySessionStore(0)
	e := NewEngine(store, sessions, EngineConfig{Metrics: m})
	seedStore(t, store.InMemoryStore, "u1", "A", "B", "C", "D", "E")

	if _, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 50, DisplayTitle: "X"}); err != nil {
		t.Fatalf("BeginInsertion() error = %v", err)
	}

	store.truncate = true
	if _, err := e.ActiveComparison(ctx, "u1"); !errors.Is(err, ErrComparisonTargetUnavailable) {
		t.Fatalf("error = %v, want ErrComparisonTargetUnavailable", err)
	}
	if sessions.Len() != 0 {
		t.Errorf("session kept after its pivot disappeared")
	}
	if got := getCounterValue(m.targetUnavailable); got != 1 {
		t.Errorf("target unavailable = %v, want 1", got)
	}
	if got := getCounterValue(m.sessionsEnded.WithLabelValues(EndReasonAborted)); got != 1 {
		t.Errorf("sessions ended (aborted) = %v, want 1", got)
	}
}

type hookCtxKey struct{}

func TestEngine_OnInsertedHookOutlivesRequest(t *testing.T) {
	var hookErr error
	var hookValue any
	called := false
	e, _, _ := newTestEngine(EngineConfig{
		OnInserted: func(ctx context.Context, entry Entry) {
			called = true
			hookErr = ctx.Err()
			hookValue = ctx.Value(hookCtxKey{})
		},
	})

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), hookCtxKey{}, "req-1"))
	cancel()

	if _, err := e.BeginInsertion(ctx, "u1", Candidate{ItemID: 1, DisplayTitle: "A"}); err != nil {
		t.Fatalf("BeginInsertion() error = %v", err)
	}
	if !called {
		t.Fatal("hook not called")
	}
	if hookErr != nil {
		t.Errorf("hook context error = %v, want nil after the request was cancelled", hookErr)
	}
	if hookValue != "req-1" {
		t.Errorf("hook context value = %v, want request values kept", hookValue)
	}
}
