package vision

import (
	"math"
	"sort"
	"sync"
)

// Matcher resolves probe embeddings to student numbers by linear scan over a
// snapshot of reference embeddings. Rosters are tens of students, so no
// nearest-neighbor index is needed.
type Matcher struct {
	mu        sync.RWMutex
	tolerance float64
	refs      map[int][]float64
	order     []int
}

// NewMatcher creates a matcher with the given distance tolerance.
func NewMatcher(tolerance float64) *Matcher {
	if tolerance <= 0 {
		tolerance = 0.6
	}
	return &Matcher{tolerance: tolerance, refs: make(map[int][]float64)}
}

// SetReferences replaces the reference snapshot. Called once per session and
// again after a registration or removal.
func (m *Matcher) SetReferences(refs map[int][]float64) {
	cp := make(map[int][]float64, len(refs))
	order := make([]int, 0, len(refs))
	for id, emb := range refs {
		cp[id] = emb
		order = append(order, id)
	}
	sort.Ints(order)

	m.mu.Lock()
	m.refs = cp
	m.order = order
	m.mu.Unlock()
}

// Match returns the first student whose reference is within tolerance of the
// probe. With no references loaded, every probe is unrecognized.
func (m *Matcher) Match(probe []float64) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if Distance(probe, m.refs[id]) <= m.tolerance {
			return id, true
		}
	}
	return 0, false
}

// Distance is the euclidean distance between two embeddings. Mismatched
// lengths compare as infinitely far apart.
func Distance(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
