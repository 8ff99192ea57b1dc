package ledger

import (
	"context"
	"os"
	"testing"

	"github.com/dshills/foldtext/internal/server/store"
)

func exerciseLedger(t *testing.T, l Ledger) {
	t.Helper()
	ctx := context.Background()
	key := store.Key{Org: "acme", Doc: "ledger-test"}

	if n, err := l.LastBatch(ctx, key, "c1"); err != nil || n != 0 {
		t.Fatalf("expected 0 for unknown client, got %d %v", n, err)
	}
	for _, b := range []uint64{1, 3, 2} {
		if err := l.Record(ctx, key, "c1", b); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if n, _ := l.LastBatch(ctx, key, "c1"); n != 3 {
		t.Errorf("expected 3, got %d", n)
	}
	if n, _ := l.LastBatch(ctx, key, "c2"); n != 0 {
		t.Errorf("expected clients to be independent, got %d", n)
	}
	other := store.Key{Org: "acme", Doc: "other"}
	if n, _ := l.LastBatch(ctx, other, "c1"); n != 0 {
		t.Errorf("expected documents to be independent, got %d", n)
	}
}

func TestMemoryLedger(t *testing.T) {
	exerciseLedger(t, NewMemory())
}

func TestRedisLedger(t *testing.T) {
	url := os.Getenv("FOLDTEXT_TEST_REDIS_URL")
	if url == "" {
		t.Skip("FOLDTEXT_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	r, err := OpenRedis(ctx, url)
	if err != nil {
		t.Fatalf("OpenRedis failed: %v", err)
	}
	defer r.Close()
	r.rdb.Del(ctx, r.hashKey(store.Key{Org: "acme", Doc: "ledger-test"}), r.hashKey(store.Key{Org: "acme", Doc: "other"}))
	exerciseLedger(t, r)
}
