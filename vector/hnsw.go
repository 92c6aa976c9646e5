package vector

import (
	"container/heap"
	"math"
	"math/rand"
	"sync"
)

// hnswGraph is the approximate backend: a hierarchical navigable small
// world graph over entry slots. The graph stores slot numbers only; vectors
// live in the owning Index and are immutable once published, so the graph
// keeps its own slot->vector map populated at insert time.
//
// Inserts take the write lock (single writer via the owning Index); searches
// run concurrently under the read lock.
type hnswGraph struct {
	mu sync.RWMutex

	m              int
	efConstruction int
	efSearch       int
	ml             float64
	rng            *rand.Rand

	vectors  map[int][]float32
	links    map[int][][]int // per slot, per level, neighbor slots
	entry    int
	maxLevel int
	count    int
}

func newHNSW(m, efConstruction, efSearch int, seed int64) *hnswGraph {
	if m < 2 {
		m = 16
	}
	if efConstruction < m {
		efConstruction = 200
	}
	if efSearch < 1 {
		efSearch = 64
	}
	return &hnswGraph{
		m:              m,
		efConstruction: efConstruction,
		efSearch:       efSearch,
		ml:             1 / math.Log(float64(m)),
		rng:            rand.New(rand.NewSource(seed)),
		vectors:        make(map[int][]float32),
		links:          make(map[int][][]int),
		entry:          -1,
		maxLevel:       -1,
	}
}

func (g *hnswGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.count
}

// Add inserts a slot with its vector. Adding a slot twice is a no-op.
func (g *hnswGraph) Add(slot int, vec []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.vectors[slot]; ok {
		return
	}

	level := g.randomLevel()
	g.vectors[slot] = vec
	g.links[slot] = make([][]int, level+1)
	g.count++

	if g.entry < 0 {
		g.entry = slot
		g.maxLevel = level
		return
	}

	ep := g.entry
	// Greedy descent through layers above the new node's level.
	for l := g.maxLevel; l > level; l-- {
		ep = g.greedyClosest(vec, ep, l)
	}

	top := level
	if g.maxLevel < top {
		top = g.maxLevel
	}
	for l := top; l >= 0; l-- {
		candidates := g.searchLayer(vec, ep, g.efConstruction, l)
		neighbors := g.selectNearest(vec, candidates, g.maxConn(l))
		g.links[slot][l] = neighbors
		for _, n := range neighbors {
			g.links[n][l] = append(g.links[n][l], slot)
			if len(g.links[n][l]) > g.maxConn(l) {
				g.links[n][l] = g.selectNearest(g.vectors[n], g.links[n][l], g.maxConn(l))
			}
		}
		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > g.maxLevel {
		g.maxLevel = level
		g.entry = slot
	}
}

// Search returns up to k slots ordered by descending similarity to q.
// The caller filters tombstones; over-fetching is the caller's concern.
func (g *hnswGraph) Search(q []float32, k int) []int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entry < 0 || k <= 0 {
		return nil
	}

	ep := g.entry
	for l := g.maxLevel; l > 0; l-- {
		ep = g.greedyClosest(q, ep, l)
	}

	ef := g.efSearch
	if ef < k {
		ef = k
	}
	found := g.searchLayer(q, ep, ef, 0)
	if len(found) > k {
		found = found[:k]
	}
	return found
}

func (g *hnswGraph) maxConn(level int) int {
	if level == 0 {
		return 2 * g.m
	}
	return g.m
}

func (g *hnswGraph) randomLevel() int {
	return int(-math.Log(g.rng.Float64()) * g.ml)
}

// greedyClosest walks layer l from ep toward q until no neighbor improves.
func (g *hnswGraph) greedyClosest(q []float32, ep, l int) int {
	best := ep
	bestSim := Dot(q, g.vectors[ep])
	for {
		improved := false
		links := g.links[best]
		if l < len(links) {
			for _, n := range links[l] {
				if sim := Dot(q, g.vectors[n]); sim > bestSim {
					best, bestSim = n, sim
					improved = true
				}
			}
		}
		if !improved {
			return best
		}
	}
}

// searchLayer is the beam search at a single layer. Returns slots sorted by
// descending similarity, at most ef of them.
func (g *hnswGraph) searchLayer(q []float32, ep, ef, l int) []int {
	visited := map[int]bool{ep: true}
	epSim := Dot(q, g.vectors[ep])

	candidates := &simHeap{max: true}
	results := &simHeap{max: false}
	heap.Push(candidates, simItem{ep, epSim})
	heap.Push(results, simItem{ep, epSim})

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(simItem)
		worst := (*results).items[0].sim
		if c.sim < worst && results.Len() >= ef {
			break
		}
		links := g.links[c.slot]
		if l >= len(links) {
			continue
		}
		for _, n := range links[l] {
			if visited[n] {
				continue
			}
			visited[n] = true
			sim := Dot(q, g.vectors[n])
			if results.Len() < ef || sim > (*results).items[0].sim {
				heap.Push(candidates, simItem{n, sim})
				heap.Push(results, simItem{n, sim})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]int, results.Len())
	for i := results.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(results).(simItem).slot
	}
	return out
}

// selectNearest keeps the max nearest candidates to base, by similarity.
func (g *hnswGraph) selectNearest(base []float32, candidates []int, max int) []int {
	if len(candidates) <= max {
		out := make([]int, len(candidates))
		copy(out, candidates)
		return out
	}
	h := &simHeap{max: false}
	for _, c := range candidates {
		heap.Push(h, simItem{c, Dot(base, g.vectors[c])})
		if h.Len() > max {
			heap.Pop(h)
		}
	}
	out := make([]int, h.Len())
	for i := h.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(simItem).slot
	}
	return out
}

type simItem struct {
	slot int
	sim  float64
}

// simHeap is a binary heap over simItem. With max set it pops the highest
// similarity first, otherwise the lowest.
type simHeap struct {
	items []simItem
	max   bool
}

func (h *simHeap) Len() int { return len(h.items) }

func (h *simHeap) Less(i, j int) bool {
	if h.max {
		return h.items[i].sim > h.items[j].sim
	}
	return h.items[i].sim < h.items[j].sim
}

func (h *simHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *simHeap) Push(x any) { h.items = append(h.items, x.(simItem)) }

func (h *simHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}
