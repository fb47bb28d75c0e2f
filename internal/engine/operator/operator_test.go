package operator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/lumenview/lumen/internal/adapters/storage/sqlite"
	"github.com/lumenview/lumen/internal/core/domain"
	"github.com/lumenview/lumen/internal/core/ports/mocks"
	"github.com/lumenview/lumen/internal/engine/operator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newOperator(t *testing.T) (*operator.Operator, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctrl := gomock.NewController(t)
	log := mocks.NewMockLogger(ctrl)
	log.EXPECT().Warn(gomock.Any(), gomock.Any()).AnyTimes()

	op := operator.New(store.DB(), log, 4, time.Millisecond)
	t.Cleanup(func() { _ = op.Close() })
	return op, store
}

func TestScheduleWrite_Succeeds(t *testing.T) {
	op, store := newOperator(t)
	ctx := context.Background()

	fut := op.ScheduleWrite(ctx, func(ctx context.Context, q sqlite.Querier) error {
		return sqlite.UpsertMeta(ctx, q, "/p/a.jpg", domain.FileStat{MTime: 1, Size: 2}, 256, 256)
	})
	require.NoError(t, fut.Err())

	row, err := sqlite.Lookup(ctx, store.ReadDB(), "/p/a.jpg")
	require.NoError(t, err)
	assert.NotNil(t, row)
}

func TestScheduleWrite_ConcurrentProducers(t *testing.T) {
	op, store := newOperator(t)
	ctx := context.Background()

	const n = 32
	var wg sync.WaitGroup
	futs := make([]interface{ Err() error }, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/p/%03d.jpg", i)
			futs[i] = op.ScheduleWrite(ctx, func(ctx context.Context, q sqlite.Querier) error {
				return sqlite.UpsertMeta(ctx, q, path, domain.FileStat{MTime: int64(i), Size: 2}, 256, 256)
			})
		}(i)
	}
	wg.Wait()

	for i, fut := range futs {
		require.NoError(t, fut.Err(), "write %d must not observe lock contention", i)
	}

	var count int
	require.NoError(t, store.ReadDB().QueryRow("SELECT COUNT(*) FROM entries").Scan(&count))
	assert.Equal(t, n, count)
}

func TestScheduleWrite_PermanentErrorNotRetried(t *testing.T) {
	op, _ := newOperator(t)

	boom := errors.New("boom")
	attempts := 0
	fut := op.ScheduleWrite(context.Background(), func(ctx context.Context, q sqlite.Querier) error {
		attempts++
		return boom
	})

	require.ErrorIs(t, fut.Err(), boom)
	assert.Equal(t, 1, attempts)
}

func TestScheduleWrite_TransientErrorRetried(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		op, store := newOperator(t)

		transient := errors.New("database is locked")
		op.SetBusyPredicate(func(err error) bool { return errors.Is(err, transient) })

		attempts := 0
		fut := op.ScheduleWrite(context.Background(), func(ctx context.Context, q sqlite.Querier) error {
			attempts++
			if attempts < 3 {
				return transient
			}
			return sqlite.UpsertMeta(ctx, q, "/p/retry.jpg", domain.FileStat{MTime: 1, Size: 2}, 256, 256)
		})

		require.NoError(t, fut.Err())
		assert.Equal(t, 3, attempts)

		row, err := sqlite.Lookup(context.Background(), store.DB(), "/p/retry.jpg")
		require.NoError(t, err)
		assert.NotNil(t, row)
	})
}

func TestScheduleWrite_RetryBudgetExhausted(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		op, _ := newOperator(t)

		transient := errors.New("database is locked")
		op.SetBusyPredicate(func(err error) bool { return errors.Is(err, transient) })

		attempts := 0
		fut := op.ScheduleWrite(context.Background(), func(ctx context.Context, q sqlite.Querier) error {
			attempts++
			return transient
		})

		err := fut.Err()
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrStoreBusy), "exhaustion surfaces as a clean typed error")
		assert.Equal(t, 4, attempts, "bounded attempt count")
	})
}

func TestScheduleRead(t *testing.T) {
	op, _ := newOperator(t)
	ctx := context.Background()

	require.NoError(t, op.ScheduleWrite(ctx, func(ctx context.Context, q sqlite.Querier) error {
		return sqlite.UpsertMeta(ctx, q, "/p/r.jpg", domain.FileStat{MTime: 9, Size: 2}, 256, 256)
	}).Err())

	fut := op.ScheduleRead(ctx, func(ctx context.Context, q sqlite.Querier) (any, error) {
		return sqlite.Lookup(ctx, q, "/p/r.jpg")
	})

	value, err := fut.Value()
	require.NoError(t, err)
	row, ok := value.(domain.Row)
	require.True(t, ok)
	assert.Equal(t, "/p/r.jpg", row.RowPath())
}

func TestClose_RejectsNewWork(t *testing.T) {
	op, _ := newOperator(t)
	require.NoError(t, op.Close())

	fut := op.ScheduleWrite(context.Background(), func(ctx context.Context, q sqlite.Querier) error {
		return nil
	})
	require.ErrorIs(t, fut.Err(), domain.ErrStoreClosed)
}

func TestClose_RacingProducersAlwaysResolve(t *testing.T) {
	op, _ := newOperator(t)
	ctx := context.Background()

	// Producers racing Close must not be able to land a job in a queue
	// nobody drains; every returned future resolves, one way or the other.
	const n = 64
	var wg sync.WaitGroup
	futs := make([]*operator.Future, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			path := fmt.Sprintf("/p/race-%03d.jpg", i)
			futs[i] = op.ScheduleWrite(ctx, func(ctx context.Context, q sqlite.Querier) error {
				return sqlite.UpsertMeta(ctx, q, path, domain.FileStat{MTime: 1, Size: 2}, 256, 256)
			})
		}(i)
	}
	require.NoError(t, op.Close())
	wg.Wait()

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	for i, fut := range futs {
		err := fut.Wait(waitCtx)
		if err != nil {
			require.ErrorIs(t, err, domain.ErrStoreClosed, "write %d resolved with an unexpected error", i)
		}
	}
}

func TestClose_FlushesQueuedWrites(t *testing.T) {
	op, store := newOperator(t)
	ctx := context.Background()

	var futs []*operator.Future
	for i := 0; i < 8; i++ {
		path := fmt.Sprintf("/p/flush-%d.jpg", i)
		futs = append(futs, op.ScheduleWrite(ctx, func(ctx context.Context, q sqlite.Querier) error {
			return sqlite.UpsertMeta(ctx, q, path, domain.FileStat{MTime: 1, Size: 2}, 256, 256)
		}))
	}
	require.NoError(t, op.Close())

	for _, fut := range futs {
		assert.NoError(t, fut.Err())
	}

	var count int
	require.NoError(t, store.ReadDB().QueryRow("SELECT COUNT(*) FROM entries").Scan(&count))
	assert.Equal(t, 8, count)
}
