package procpool

import (
	"encoding/gob"
	"io"

	"github.com/lumenview/lumen/internal/core/ports"
)

// NewPoolWithSpawner builds a pool around a test-provided spawner so the
// protocol and crash handling can be exercised without real processes.
func NewPoolWithSpawner(size int, log ports.Logger, spawn func() (*Proc, error)) (*Pool, error) {
	return newPool(size, log, func() (*proc, error) {
		tp, err := spawn()
		if err != nil {
			return nil, err
		}
		return &proc{
			enc:  gob.NewEncoder(tp.W),
			dec:  gob.NewDecoder(tp.R),
			stop: tp.Stop,
		}, nil
	})
}

// Proc is the test-facing shape of a spawned worker.
type Proc struct {
	W    io.Writer
	R    io.Reader
	Stop func()
}
