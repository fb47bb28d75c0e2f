package watcher_test

import (
	"testing"
	"testing/synctest"
	"time"

	"github.com/lumenview/lumen/internal/adapters/watcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncer_Add_SinglePath(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var callCount int
		var receivedPaths []string

		d := watcher.NewDebouncer(100*time.Millisecond, func(paths []string) {
			callCount++
			receivedPaths = paths
		})

		d.Add("/pics/a.jpg")

		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		require.Equal(t, 1, callCount)
		require.Len(t, receivedPaths, 1)
		assert.Equal(t, "/pics/a.jpg", receivedPaths[0])
	})
}

func TestDebouncer_Add_CoalescesBurst(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var callCount int
		var receivedPaths []string

		d := watcher.NewDebouncer(100*time.Millisecond, func(paths []string) {
			callCount++
			receivedPaths = paths
		})

		d.Add("/pics/a.jpg")
		d.Add("/pics/b.jpg")
		d.Add("/pics/a.jpg") // duplicate within the window

		time.Sleep(150 * time.Millisecond)
		synctest.Wait()

		require.Equal(t, 1, callCount)
		assert.ElementsMatch(t, []string{"/pics/a.jpg", "/pics/b.jpg"}, receivedPaths)
	})
}

func TestDebouncer_Add_RestartsWindow(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var callCount int

		d := watcher.NewDebouncer(100*time.Millisecond, func([]string) {
			callCount++
		})

		d.Add("/pics/a.jpg")
		time.Sleep(60 * time.Millisecond)
		d.Add("/pics/b.jpg") // restarts the window before it expires
		time.Sleep(60 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, 0, callCount)

		time.Sleep(50 * time.Millisecond)
		synctest.Wait()
		require.Equal(t, 1, callCount)
	})
}

func TestDebouncer_Flush_DeliversSynchronously(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		var receivedPaths []string

		d := watcher.NewDebouncer(time.Hour, func(paths []string) {
			receivedPaths = paths
		})

		d.Add("/pics/a.jpg")
		d.Flush()

		require.Len(t, receivedPaths, 1)

		// Flushing again with nothing pending is a no-op.
		d.Flush()
		require.Len(t, receivedPaths, 1)
	})
}
