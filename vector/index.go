package vector

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// Backend selects the search strategy for a single query.
type Backend uint8

const (
	// BackendExact scans every visible entry. Authoritative.
	BackendExact Backend = iota
	// BackendApproximate queries the HNSW graph with over-fetch and
	// tombstone filtering, falling back to BackendExact when it cannot
	// answer correctly.
	BackendApproximate
)

func (b Backend) String() string {
	if b == BackendApproximate {
		return "approximate"
	}
	return "exact"
}

// ErrDimensionMismatch is returned when a vector does not match the
// configured embedding dimension.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Config controls index dimensions and approximate-backend behavior.
type Config struct {
	// Dim is the embedding dimension. Every inserted and queried vector
	// must have exactly this length.
	Dim int

	// OverfetchFactor multiplies k on approximate queries to absorb the
	// expected tombstone rate before filtering.
	OverfetchFactor int

	// StalenessBound is the number of inserts the graph may lag behind
	// before approximate queries are routed to the exact backend.
	StalenessBound int

	// OnlineInsert feeds new entries into the live graph at insert time.
	// When disabled, inserts only raise the staleness counter until the
	// next Rebuild.
	OnlineInsert bool

	// HNSW construction parameters.
	M              int
	EfConstruction int
	EfSearch       int

	// Seed fixes the graph's level generator, for reproducible tests.
	// Zero selects a fixed default.
	Seed int64
}

func (c Config) withDefaults() Config {
	if c.OverfetchFactor <= 0 {
		c.OverfetchFactor = 3
	}
	if c.StalenessBound <= 0 {
		c.StalenessBound = 128
	}
	if c.M <= 0 {
		c.M = 16
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 64
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	return c
}

// Result is one search hit. Entries are per-embedding, so one user can
// appear more than once; callers collapse per user as needed.
type Result struct {
	UserID     string
	Slot       int
	Similarity float64
}

type entry struct {
	userID     string
	vecIndex   int
	vector     []float32
	enrolledAt int64
}

// Index is the similarity index described in the package documentation.
// All methods are safe for concurrent use.
type Index struct {
	cfg Config
	log *slog.Logger

	mu      sync.RWMutex
	entries []entry
	tomb    []bool
	byUser  map[string][]int
	visible int

	graph      atomic.Pointer[hnswGraph]
	pending    atomic.Int64
	rebuilding atomic.Bool
	degraded   atomic.Uint64
}

// New creates an empty index. The logger receives degradation events; nil
// uses slog.Default.
func New(cfg Config, log *slog.Logger) *Index {
	if log == nil {
		log = slog.Default()
	}
	return &Index{
		cfg:    cfg.withDefaults(),
		log:    log,
		byUser: make(map[string][]int),
	}
}

// Len returns the number of visible (non-tombstoned) entries.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.visible
}

// DegradedQueries returns how many approximate queries fell back to the
// exact backend since creation.
func (ix *Index) DegradedQueries() uint64 {
	return ix.degraded.Load()
}

// Insert adds one embedding for a user and returns its slot. The vector
// must already be unit-normalized; Insert only checks the dimension.
// enrolledAt orders tie-broken search results (earlier wins).
func (ix *Index) Insert(userID string, vecIndex int, vec []float32, enrolledAt int64) (int, error) {
	if ix.cfg.Dim > 0 && len(vec) != ix.cfg.Dim {
		return 0, ErrDimensionMismatch
	}

	ix.mu.Lock()
	slot := len(ix.entries)
	ix.entries = append(ix.entries, entry{
		userID:     userID,
		vecIndex:   vecIndex,
		vector:     vec,
		enrolledAt: enrolledAt,
	})
	ix.tomb = append(ix.tomb, false)
	ix.byUser[userID] = append(ix.byUser[userID], slot)
	ix.visible++
	ix.mu.Unlock()

	if g := ix.graph.Load(); g != nil && ix.cfg.OnlineInsert {
		g.Add(slot, vec)
	} else {
		ix.pending.Add(1)
	}
	return slot, nil
}

// Tombstone hides every entry belonging to userID from future queries and
// returns how many entries were flipped. Entries stay in the graph; the
// filter step makes them invisible.
func (ix *Index) Tombstone(userID string) int {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var n int
	for _, slot := range ix.byUser[userID] {
		if !ix.tomb[slot] {
			ix.tomb[slot] = true
			ix.visible--
			n++
		}
	}
	return n
}

// SearchUser returns the best similarity between q and the user's visible
// embeddings, with the count of embeddings compared. A count of zero means
// the user has no visible entries.
func (ix *Index) SearchUser(userID string, q []float32) (float64, int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	best := -1.0
	var n int
	for _, slot := range ix.byUser[userID] {
		if ix.tomb[slot] {
			continue
		}
		n++
		if sim := Dot(q, ix.entries[slot].vector); sim > best {
			best = sim
		}
	}
	return best, n
}

// Search returns the top-k visible entries by cosine similarity. With
// BackendExact the order is fully deterministic: similarity descending,
// then enrollment time ascending, then userID ascending, then slot.
// BackendApproximate may reorder equal-similarity entries but never
// returns a tombstoned entry, and silently degrades to Exact when the
// graph is missing, stale beyond the configured bound, or filtered below k.
func (ix *Index) Search(q []float32, k int, backend Backend) []Result {
	if k <= 0 {
		return nil
	}
	if backend == BackendApproximate {
		if res, ok := ix.searchApproximate(q, k); ok {
			return res
		}
		ix.degraded.Add(1)
	}
	return ix.searchExact(q, k)
}

func (ix *Index) searchExact(q []float32, k int) []Result {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]Result, 0, ix.visible)
	for slot, e := range ix.entries {
		if ix.tomb[slot] {
			continue
		}
		results = append(results, Result{
			UserID:     e.userID,
			Slot:       slot,
			Similarity: Dot(q, e.vector),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		ea, eb := ix.entries[a.Slot].enrolledAt, ix.entries[b.Slot].enrolledAt
		if ea != eb {
			return ea < eb
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Slot < b.Slot
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

func (ix *Index) searchApproximate(q []float32, k int) ([]Result, bool) {
	g := ix.graph.Load()
	if g == nil {
		ix.log.Debug("similarity index: no graph built, using exact scan")
		return nil, false
	}
	if lag := ix.pending.Load(); lag > int64(ix.cfg.StalenessBound) {
		ix.log.Warn("similarity index: graph stale, degrading to exact scan",
			"pending", lag, "bound", ix.cfg.StalenessBound)
		return nil, false
	}

	slots := g.Search(q, k*ix.cfg.OverfetchFactor)

	ix.mu.RLock()
	results := make([]Result, 0, k)
	for _, slot := range slots {
		if slot >= len(ix.tomb) || ix.tomb[slot] {
			continue
		}
		e := ix.entries[slot]
		results = append(results, Result{
			UserID:     e.userID,
			Slot:       slot,
			Similarity: Dot(q, e.vector),
		})
		if len(results) == k {
			break
		}
	}
	visible := ix.visible
	ix.mu.RUnlock()

	if len(results) < k && visible > len(results) {
		ix.log.Debug("similarity index: over-fetch exhausted by tombstones, using exact scan",
			"survivors", len(results), "k", k)
		return nil, false
	}
	return results, true
}

// Rebuild constructs a fresh graph from the current visible entries and
// swaps it in. Queries keep using the previous graph until the swap.
// Concurrent calls coalesce: a rebuild already in flight wins and the
// second call returns immediately.
func (ix *Index) Rebuild(ctx context.Context) error {
	if !ix.rebuilding.CompareAndSwap(false, true) {
		return nil
	}
	defer ix.rebuilding.Store(false)

	ix.mu.RLock()
	snapshot := make([]entry, len(ix.entries))
	copy(snapshot, ix.entries)
	tomb := make([]bool, len(ix.tomb))
	copy(tomb, ix.tomb)
	ix.mu.RUnlock()

	g := newHNSW(ix.cfg.M, ix.cfg.EfConstruction, ix.cfg.EfSearch, ix.cfg.Seed)
	for slot, e := range snapshot {
		if tomb[slot] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		g.Add(slot, e.vector)
	}

	ix.graph.Store(g)
	// Entries inserted while the rebuild ran are not in the new graph;
	// they stay on the staleness counter.
	ix.mu.RLock()
	missed := int64(len(ix.entries) - len(snapshot))
	ix.mu.RUnlock()
	ix.pending.Store(missed)

	ix.log.Info("similarity index: graph rebuilt", "entries", g.Len())
	return nil
}
