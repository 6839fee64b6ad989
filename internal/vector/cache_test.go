package vector

import (
	"fmt"
	"image"
	"image/color"
	"testing"
	"time"
)

func TestCacheHitMissCounters(t *testing.T) {
	c := NewCache[*Match]("test", 10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatal("Unexpected hit on empty cache")
	}
	c.Put("k", &Match{PersonID: "p1", Similarity: 0.9})
	if v, ok := c.Get("k"); !ok || v.PersonID != "p1" {
		t.Fatal("Expected hit after Put")
	}

	s := c.Stats()
	if s.Hits != 1 || s.Misses != 1 || s.Entries != 1 {
		t.Errorf("Stats = %+v, want 1 hit / 1 miss / 1 entry", s)
	}
}

func TestCacheEvictsLRU(t *testing.T) {
	c := NewCache[*Match]("test", 2, time.Minute)
	c.Put("a", &Match{PersonID: "a"})
	c.Put("b", &Match{PersonID: "b"})
	c.Get("a") // refresh a
	c.Put("c", &Match{PersonID: "c"})

	if _, ok := c.Get("b"); ok {
		t.Error("Expected b evicted as least recently used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("Expected a retained")
	}
	if c.Stats().Evictions != 1 {
		t.Errorf("Evictions = %d, want 1", c.Stats().Evictions)
	}
}

func TestCachesStatsKeys(t *testing.T) {
	stats := NewCaches().Stats()
	for _, name := range []string{"processed_image", "embedding", "recognition_result"} {
		if _, ok := stats[name]; !ok {
			t.Errorf("Missing cache %q in stats", name)
		}
	}
}

func testImage(seed uint8) image.Image {
	img := image.NewGray(image.Rect(0, 0, 128, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 128; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x)*seed + uint8(y)})
		}
	}
	return img
}

func TestPerceptualHashStable(t *testing.T) {
	h1 := PerceptualHash(testImage(3))
	h2 := PerceptualHash(testImage(3))
	if h1 != h2 {
		t.Error("Hash of identical images differs")
	}
	if len(h1) != 64*64/64*16 {
		t.Errorf("Unexpected hash length %d", len(h1))
	}
}

func TestPerceptualHashDiscriminates(t *testing.T) {
	if PerceptualHash(testImage(3)) == PerceptualHash(testImage(7)) {
		t.Error("Distinct images share a hash")
	}
}

func TestEmbeddingKeyQuantizes(t *testing.T) {
	a := make([]float32, Dim)
	b := make([]float32, Dim)
	c := make([]float32, Dim)
	for i := range a {
		a[i] = 0.1234
		b[i] = 0.12342 // inside the 4-decimal quantum
		c[i] = 0.1244  // outside
	}

	if EmbeddingKey(a) != EmbeddingKey(b) {
		t.Error("Float-noise variants should share a key")
	}
	if EmbeddingKey(a) == EmbeddingKey(c) {
		t.Error("Distinct embeddings should not share a key")
	}
	if len(EmbeddingKey(a)) != Dim*2 {
		t.Errorf("Unexpected key length %d", len(EmbeddingKey(a)))
	}
}

func BenchmarkSearchPerson(b *testing.B) {
	ix := NewIndex()
	for p := 0; p < 50; p++ {
		for e := 0; e < 4; e++ {
			v := make([]float32, Dim)
			for i := range v {
				v[i] = float32((p*31+e*7+i)%97) / 97
			}
			ix.Add(PersonEmbedding{PersonID: fmt.Sprintf("p%d", p), Vector: v})
		}
	}
	q := make([]float32, Dim)
	for i := range q {
		q[i] = float32(i%89) / 89
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.SearchPerson(q, 0.5)
	}
}
