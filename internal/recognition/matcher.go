package recognition

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/technosupport/faceguard/internal/camera"
	"github.com/technosupport/faceguard/internal/vector"
)

// EmbeddingSource feeds the local index. Implemented by dataservice.Client.
type EmbeddingSource interface {
	PersonEmbeddings(ctx context.Context) ([]vector.PersonEmbedding, error)
}

// Matcher fronts the engine client with the local vector index and its
// caches. The engine owns detection; the matcher resolves embeddings the
// engine could not identify against the enrolled-person index, and
// short-circuits near-identical consecutive frames entirely.
type Matcher struct {
	engine *Client
	caches *vector.Caches
	source EmbeddingSource

	mu    sync.RWMutex
	index *vector.Index
}

func NewMatcher(engine *Client, caches *vector.Caches, source EmbeddingSource) *Matcher {
	return &Matcher{
		engine: engine,
		caches: caches,
		index:  vector.NewIndex(),
		source: source,
	}
}

// Refresh rebuilds the index from the data service. The old index serves
// lookups until the swap.
func (m *Matcher) Refresh(ctx context.Context) error {
	embeddings, err := m.source.PersonEmbeddings(ctx)
	if err != nil {
		return err
	}

	fresh := vector.NewIndex()
	skipped := 0
	for _, e := range embeddings {
		if err := fresh.Add(e); err != nil {
			skipped++
		}
	}
	if skipped > 0 {
		log.Printf("[WARN] Embedding refresh: %d of %d embeddings rejected", skipped, len(embeddings))
	}

	m.mu.Lock()
	m.index = fresh
	m.mu.Unlock()
	log.Printf("Embedding index refreshed: %d embeddings, %d persons", fresh.Len(), fresh.PersonCount())
	return nil
}

// StartRefresh refreshes the index now and then on the given interval until
// the context is cancelled.
func (m *Matcher) StartRefresh(ctx context.Context, interval time.Duration) {
	if err := m.Refresh(ctx); err != nil {
		log.Printf("[WARN] Initial embedding refresh failed: %v", err)
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Refresh(ctx); err != nil {
					log.Printf("[WARN] Embedding refresh failed: %v", err)
				}
			}
		}
	}()
}

// Process implements the stream loop's recognizer surface. A perceptual-hash
// hit on the image cache skips the engine round trip entirely; otherwise
// unidentified detections are matched against the local index, with the
// embedding cache in front of the search.
func (m *Matcher) Process(ctx context.Context, frame *camera.Frame, threshold float64) *Result {
	var hash string
	if frame.Image != nil {
		hash = vector.PerceptualHash(frame.Image)
		if match, ok := m.caches.Image.Get(hash); ok {
			return m.cachedResult(frame, match, threshold)
		}
	}

	res := m.engine.Process(ctx, frame, threshold)
	if !res.Success {
		return res
	}

	index := m.currentIndex()
	matches := make([]vector.Match, 0, len(res.Persons))
	for i := range res.Persons {
		p := &res.Persons[i]
		if p.PersonID != "" {
			matches = append(matches, vector.Match{PersonID: p.PersonID, Similarity: p.RecognitionConfidence})
			continue
		}
		if len(p.Embedding) != vector.Dim {
			continue
		}

		key := vector.EmbeddingKey(p.Embedding)
		match, ok := m.caches.Embedding.Get(key)
		if !ok {
			var err error
			match, err = index.SearchPerson(p.Embedding, threshold)
			if err != nil {
				log.Printf("[WARN] Frame %s: embedding search: %v", frame.ID, err)
				continue
			}
			if match == nil {
				continue
			}
			m.caches.Embedding.Put(key, match)
		}
		if match == nil || match.Similarity < threshold {
			continue
		}
		p.PersonID = match.PersonID
		p.RecognitionConfidence = match.Similarity
		matches = append(matches, *match)
	}

	if len(matches) > 0 {
		m.caches.Result.Put(frame.ID.String(), matches)
		if hash != "" {
			best := matches[0]
			for _, mt := range matches[1:] {
				if mt.Similarity > best.Similarity {
					best = mt
				}
			}
			m.caches.Image.Put(hash, &best)
		}
	}
	return res
}

// cachedResult synthesizes a result for a frame whose perceptual hash was
// seen recently. The cached hit carries no bounding box, so the detection
// spans the full frame and the sighting crop falls back accordingly.
func (m *Matcher) cachedResult(frame *camera.Frame, match *vector.Match, threshold float64) *Result {
	res := &Result{
		Success:   true,
		FrameID:   frame.ID,
		Timestamp: time.Now().UTC(),
	}
	if match == nil || match.Similarity < threshold {
		return res
	}
	res.Persons = []Person{{
		BBox:                  BBox{X2: float64(frame.Width), Y2: float64(frame.Height)},
		DetectionConfidence:   match.Similarity,
		RecognitionConfidence: match.Similarity,
		PersonID:              match.PersonID,
	}}
	return res
}

func (m *Matcher) currentIndex() *vector.Index {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index
}

// CacheStats exposes the cache counters for the health surface.
func (m *Matcher) CacheStats() map[string]vector.CacheStats {
	return m.caches.Stats()
}
