// Package ports defines the core interfaces for the engine.
package ports

import (
	"context"

	"github.com/lumenview/lumen/internal/core/domain"
)

// Decoder turns a file path into a losslessly encoded bitmap. A zero target
// box means full resolution; a non-zero box is an approximate fit that
// preserves aspect ratio.
//
// Implementations must be safe for concurrent use and must surface decode
// failures as typed errors, never as panics or process crashes visible to
// the caller.
//
//go:generate go run go.uber.org/mock/mockgen -source=decoder.go -destination=mocks/mock_decoder.go -package=mocks
type Decoder interface {
	Decode(ctx context.Context, path string, targetW, targetH int) (*domain.Decoded, error)
}
