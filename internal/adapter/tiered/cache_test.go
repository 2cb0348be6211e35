package tiered_test

import (
	"context"
	"testing"
	"time"

	"github.com/halcyonsec/OpForge/internal/adapter/tiered"
)

// memCache is an in-memory cache double.
type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestTieredLocalHit(t *testing.T) {
	local := newMemCache()
	remote := newMemCache()
	c := tiered.New(local, remote, 5*time.Minute)
	ctx := context.Background()

	local.data["specs/smoke-chain"] = []byte("cached")

	val, found, err := c.Get(ctx, "specs/smoke-chain")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected local hit")
	}
	if string(val) != "cached" {
		t.Fatalf("expected cached, got %s", val)
	}
}

func TestTieredRemoteHitBackfillsLocal(t *testing.T) {
	local := newMemCache()
	remote := newMemCache()
	c := tiered.New(local, remote, 5*time.Minute)
	ctx := context.Background()

	remote.data["specs/lateral-move"] = []byte("remote-copy")

	val, found, err := c.Get(ctx, "specs/lateral-move")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected remote hit")
	}
	if string(val) != "remote-copy" {
		t.Fatalf("expected remote-copy, got %s", val)
	}

	localVal, ok := local.data["specs/lateral-move"]
	if !ok {
		t.Fatal("expected backfill into local level")
	}
	if string(localVal) != "remote-copy" {
		t.Fatalf("expected backfilled remote-copy, got %s", localVal)
	}
}

func TestTieredMiss(t *testing.T) {
	c := tiered.New(newMemCache(), newMemCache(), 5*time.Minute)

	_, found, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTieredSetWritesBothLevels(t *testing.T) {
	local := newMemCache()
	remote := newMemCache()
	c := tiered.New(local, remote, 5*time.Minute)

	if err := c.Set(context.Background(), "specs/exfil", []byte("body"), time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, ok := local.data["specs/exfil"]; !ok {
		t.Fatal("expected key in local level")
	}
	if _, ok := remote.data["specs/exfil"]; !ok {
		t.Fatal("expected key in remote level")
	}
}

func TestTieredDeleteRemovesBothLevels(t *testing.T) {
	local := newMemCache()
	remote := newMemCache()
	c := tiered.New(local, remote, 5*time.Minute)

	local.data["specs/stale"] = []byte("v")
	remote.data["specs/stale"] = []byte("v")

	if err := c.Delete(context.Background(), "specs/stale"); err != nil {
		t.Fatal(err)
	}

	if _, ok := local.data["specs/stale"]; ok {
		t.Fatal("expected key removed from local level")
	}
	if _, ok := remote.data["specs/stale"]; ok {
		t.Fatal("expected key removed from remote level")
	}
}
