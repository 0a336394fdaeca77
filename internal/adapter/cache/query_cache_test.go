package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"kb/internal/adapter/embedding"
)

func TestQueryCacheGetPut(t *testing.T) {
	c := NewQueryCache(2, time.Minute)

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Put("a", []float32{1, 2})
	got, ok := c.Get("a")
	if !ok || len(got) != 2 || got[0] != 1 {
		t.Fatalf("Get(a) = %v, %v", got, ok)
	}

	got[0] = 99
	again, _ := c.Get("a")
	if again[0] != 1 {
		t.Error("cached vector was mutated through a returned slice")
	}
}

func TestQueryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewQueryCache(2, time.Minute)
	c.Put("a", []float32{1})
	c.Put("b", []float32{2})
	c.Get("a")
	c.Put("c", []float32{3})

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestQueryCacheTTL(t *testing.T) {
	c := NewQueryCache(10, time.Second)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Put("a", []float32{1})
	now = now.Add(2 * time.Second)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry returned")
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0 after expiry", c.Size())
	}
}

func TestQueryCacheInvalidate(t *testing.T) {
	c := NewQueryCache(10, time.Minute)
	c.Put("a", []float32{1})
	c.Invalidate()
	if c.Size() != 0 {
		t.Errorf("Size() = %d after Invalidate", c.Size())
	}
}

type countingGateway struct {
	*embedding.MockGateway
	queries int
	fail    bool
}

func (g *countingGateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	g.queries++
	if g.fail {
		return nil, errors.New("boom")
	}
	return g.MockGateway.EmbedQuery(ctx, text)
}

func TestCachedGateway(t *testing.T) {
	ctx := context.Background()
	next := &countingGateway{MockGateway: embedding.NewMockGateway(8)}
	gw := NewCachedGateway(next, NewQueryCache(10, time.Minute))

	first, err := gw.EmbedQuery(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	second, err := gw.EmbedQuery(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if next.queries != 1 {
		t.Errorf("upstream queries = %d, want 1", next.queries)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("cached vector differs at %d", i)
		}
	}

	vecs, err := gw.EmbedDocumentChunks(ctx, []string{"a", "b"})
	if err != nil || len(vecs) != 2 {
		t.Fatalf("EmbedDocumentChunks = %d vectors, %v", len(vecs), err)
	}
}

func TestCachedGatewayDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	next := &countingGateway{MockGateway: embedding.NewMockGateway(8), fail: true}
	gw := NewCachedGateway(next, NewQueryCache(10, time.Minute))

	for range 2 {
		if _, err := gw.EmbedQuery(ctx, "q"); err == nil {
			t.Fatal("expected error")
		}
	}
	if next.queries != 2 {
		t.Errorf("upstream queries = %d, want 2", next.queries)
	}
}
