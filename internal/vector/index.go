package vector

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

// Dim is the embedding dimensionality produced by the recognition engine.
const Dim = 512

var (
	ErrBadDimension = errors.New("vector: embedding must have 512 dimensions")
	ErrNotFinite    = errors.New("vector: embedding has non-finite values")
)

// PersonEmbedding is one stored face embedding. TrainedConfidence is the
// training-time confidence from enrollment, not the per-frame recognition
// confidence a Sighting carries.
type PersonEmbedding struct {
	EmbeddingID       string
	PersonID          string
	Vector            []float32
	QualityScore      float64
	TrainedConfidence float64
	ModelName         string
	ModelVersion      string
}

// Match is one search hit.
type Match struct {
	PersonID   string
	Similarity float64
}

// Index is an exhaustive in-memory cosine index over person embeddings.
// Vectors are L2-normalized at insert so similarity reduces to a dot
// product.
type Index struct {
	mu         sync.RWMutex
	embeddings []PersonEmbedding
	byPerson   map[string][]int // person id -> indices into embeddings
}

func NewIndex() *Index {
	return &Index{byPerson: make(map[string][]int)}
}

// Add validates, normalizes and stores an embedding.
func (ix *Index) Add(e PersonEmbedding) error {
	if len(e.Vector) != Dim {
		return fmt.Errorf("%w: got %d", ErrBadDimension, len(e.Vector))
	}
	norm, err := normalize(e.Vector)
	if err != nil {
		return err
	}
	e.Vector = norm

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.embeddings = append(ix.embeddings, e)
	ix.byPerson[e.PersonID] = append(ix.byPerson[e.PersonID], len(ix.embeddings)-1)
	return nil
}

// RemovePerson drops every embedding for a person.
func (ix *Index) RemovePerson(personID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, ok := ix.byPerson[personID]; !ok {
		return
	}
	kept := ix.embeddings[:0]
	for _, e := range ix.embeddings {
		if e.PersonID != personID {
			kept = append(kept, e)
		}
	}
	ix.embeddings = kept
	ix.byPerson = make(map[string][]int, len(ix.embeddings))
	for i, e := range ix.embeddings {
		ix.byPerson[e.PersonID] = append(ix.byPerson[e.PersonID], i)
	}
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.embeddings)
}

func (ix *Index) PersonCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byPerson)
}

// SearchSimilar returns up to topK matches above threshold, best first.
// Per person only the best-scoring embedding contributes a hit.
func (ix *Index) SearchSimilar(query []float32, topK int, threshold float64) ([]Match, error) {
	q, err := prepareQuery(query)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	best := make(map[string]float64)
	for _, e := range ix.embeddings {
		sim := dot(q, e.Vector)
		if sim < threshold {
			continue
		}
		if cur, ok := best[e.PersonID]; !ok || sim > cur {
			best[e.PersonID] = sim
		}
	}

	matches := make([]Match, 0, len(best))
	for pid, sim := range best {
		matches = append(matches, Match{PersonID: pid, Similarity: sim})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].PersonID < matches[j].PersonID
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// SearchPerson scores every embedding of every person and returns the best
// person by max similarity, breaking ties by higher mean similarity across
// that person's embeddings. Returns nil when nothing clears the threshold.
func (ix *Index) SearchPerson(query []float32, threshold float64) (*Match, error) {
	q, err := prepareQuery(query)
	if err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var (
		bestID   string
		bestMax  = math.Inf(-1)
		bestMean = math.Inf(-1)
	)
	for pid, idxs := range ix.byPerson {
		pMax := math.Inf(-1)
		sum := 0.0
		for _, i := range idxs {
			sim := dot(q, ix.embeddings[i].Vector)
			sum += sim
			if sim > pMax {
				pMax = sim
			}
		}
		mean := sum / float64(len(idxs))

		if pMax > bestMax || (pMax == bestMax && mean > bestMean) {
			bestID, bestMax, bestMean = pid, pMax, mean
		}
	}

	if bestID == "" || bestMax < threshold {
		return nil, nil
	}
	return &Match{PersonID: bestID, Similarity: bestMax}, nil
}

func prepareQuery(v []float32) ([]float32, error) {
	if len(v) != Dim {
		return nil, fmt.Errorf("%w: got %d", ErrBadDimension, len(v))
	}
	return normalize(v)
}

func normalize(v []float32) ([]float32, error) {
	var sumSq float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrNotFinite
		}
		sumSq += f * f
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 || math.IsInf(norm, 0) {
		return nil, ErrNotFinite
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
