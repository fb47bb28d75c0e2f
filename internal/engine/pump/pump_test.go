package pump_test

import (
	"fmt"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/engine/pump"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	keys []domain.CacheKey
}

func (r *recorder) submit(key domain.CacheKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, key)
}

func (r *recorder) snapshot() []domain.CacheKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.CacheKey(nil), r.keys...)
}

func thumbKey(path string) domain.CacheKey {
	return domain.CacheKey{Path: path, TargetW: 256, TargetH: 256, Mode: domain.ModeThumbnail}
}

func TestPump_DrainsOneBatchPerTick(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		p := pump.New(150*time.Millisecond, 4, rec.submit)
		defer p.Stop()

		for i := 0; i < 10; i++ {
			p.Enqueue(thumbKey(fmt.Sprintf("/pics/%02d.jpg", i)))
		}
		require.Equal(t, 10, p.Backlog())

		time.Sleep(150 * time.Millisecond)
		synctest.Wait()
		assert.Len(t, rec.snapshot(), 4)
		assert.Equal(t, 6, p.Backlog())

		time.Sleep(150 * time.Millisecond)
		synctest.Wait()
		assert.Len(t, rec.snapshot(), 8)

		time.Sleep(150 * time.Millisecond)
		synctest.Wait()
		got := rec.snapshot()
		require.Len(t, got, 10)
		// Enqueue order survives batching.
		for i, key := range got {
			assert.Equal(t, fmt.Sprintf("/pics/%02d.jpg", i), key.Path)
		}
		assert.Equal(t, 0, p.Backlog())
	})
}

func TestEnqueue_DeduplicatesWaitingKeys(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		p := pump.New(100*time.Millisecond, 8, rec.submit)
		defer p.Stop()

		key := thumbKey("/pics/a.jpg")
		p.Enqueue(key)
		p.Enqueue(key)
		p.Enqueue(thumbKey("/pics/b.jpg"))
		require.Equal(t, 2, p.Backlog())

		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		assert.Len(t, rec.snapshot(), 2)

		// Once released, the key may be enqueued again.
		p.Enqueue(key)
		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		assert.Len(t, rec.snapshot(), 3)
	})
}

func TestDropPath_DiscardsBackloggedWork(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		p := pump.New(100*time.Millisecond, 8, rec.submit)
		defer p.Stop()

		p.Enqueue(thumbKey("/pics/a.jpg"))
		p.Enqueue(domain.CacheKey{Path: "/pics/a.jpg", Mode: domain.ModeFull})
		p.Enqueue(thumbKey("/pics/b.jpg"))

		p.DropPath("/pics/a.jpg")
		require.Equal(t, 1, p.Backlog())

		time.Sleep(100 * time.Millisecond)
		synctest.Wait()
		got := rec.snapshot()
		require.Len(t, got, 1)
		assert.Equal(t, "/pics/b.jpg", got[0].Path)
	})
}

func TestStop_HaltsDelivery(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &recorder{}
		p := pump.New(100*time.Millisecond, 4, rec.submit)

		p.Enqueue(thumbKey("/pics/a.jpg"))
		p.Stop()

		time.Sleep(time.Second)
		synctest.Wait()
		assert.Empty(t, rec.snapshot())

		// Stop is idempotent.
		p.Stop()
	})
}
