package memcache_test

import (
	"fmt"
	"testing"

	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/engine/memcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thumbKey(path string) domain.CacheKey {
	return domain.CacheKey{Path: path, TargetW: 256, TargetH: 256, Mode: domain.ModeThumbnail}
}

func fullKey(path string) domain.CacheKey {
	return domain.CacheKey{Path: path, Mode: domain.ModeFull}
}

func decoded(n int) *domain.Decoded {
	return &domain.Decoded{Data: make([]byte, n), Width: n, Height: n}
}

func TestPutGet_RoundTrip(t *testing.T) {
	c := memcache.New(0, 0)

	c.Put(thumbKey("/pics/a.jpg"), decoded(16))

	got, ok := c.Get(thumbKey("/pics/a.jpg"))
	require.True(t, ok)
	assert.Len(t, got.Data, 16)

	_, ok = c.Get(thumbKey("/pics/missing.jpg"))
	assert.False(t, ok)
}

func TestShards_AreIndependent(t *testing.T) {
	c := memcache.New(0, 0)

	c.Put(thumbKey("/pics/a.jpg"), decoded(8))

	_, ok := c.Get(fullKey("/pics/a.jpg"))
	assert.False(t, ok, "thumbnail must not satisfy a full-resolution lookup")
}

func TestPut_EvictsLeastRecentlyUsed(t *testing.T) {
	c := memcache.New(0, 30) // thumbnail shard fits three 10-byte entries

	for i := 0; i < 3; i++ {
		c.Put(thumbKey(fmt.Sprintf("/pics/%d.jpg", i)), decoded(10))
	}

	// Touch 0 so 1 becomes the eviction candidate.
	_, ok := c.Get(thumbKey("/pics/0.jpg"))
	require.True(t, ok)

	c.Put(thumbKey("/pics/3.jpg"), decoded(10))

	_, ok = c.Get(thumbKey("/pics/1.jpg"))
	assert.False(t, ok, "least recently used entry should have been evicted")
	for _, p := range []string{"/pics/0.jpg", "/pics/2.jpg", "/pics/3.jpg"} {
		_, ok := c.Get(thumbKey(p))
		assert.True(t, ok, p)
	}

	_, thumbs := c.Bytes()
	assert.Equal(t, int64(30), thumbs)
}

func TestPut_OversizedEntryIsNotCached(t *testing.T) {
	c := memcache.New(0, 10)

	c.Put(thumbKey("/pics/huge.jpg"), decoded(11))

	_, ok := c.Get(thumbKey("/pics/huge.jpg"))
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestPut_ReplaceAdjustsByteCount(t *testing.T) {
	c := memcache.New(0, 100)

	key := thumbKey("/pics/a.jpg")
	c.Put(key, decoded(40))
	c.Put(key, decoded(10))

	_, thumbs := c.Bytes()
	assert.Equal(t, int64(10), thumbs)
	assert.Equal(t, 1, c.Len())
}

func TestInvalidatePath_DropsBothModesAndAllSizes(t *testing.T) {
	c := memcache.New(0, 0)

	c.Put(thumbKey("/pics/a.jpg"), decoded(8))
	c.Put(fullKey("/pics/a.jpg"), decoded(64))
	c.Put(domain.CacheKey{Path: "/pics/a.jpg", TargetW: 128, TargetH: 128, Mode: domain.ModeThumbnail}, decoded(4))
	c.Put(thumbKey("/pics/b.jpg"), decoded(8))

	c.InvalidatePath("/pics/a.jpg")

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(thumbKey("/pics/b.jpg"))
	assert.True(t, ok)

	views, _ := c.Bytes()
	assert.Equal(t, int64(0), views)
}

func TestDrop_RemovesSingleKey(t *testing.T) {
	c := memcache.New(0, 0)

	c.Put(thumbKey("/pics/a.jpg"), decoded(8))
	c.Put(fullKey("/pics/a.jpg"), decoded(8))

	c.Drop(thumbKey("/pics/a.jpg"))

	_, ok := c.Get(thumbKey("/pics/a.jpg"))
	assert.False(t, ok)
	_, ok = c.Get(fullKey("/pics/a.jpg"))
	assert.True(t, ok)
}
