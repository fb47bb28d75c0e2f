package config

import (
	"context"

	"github.com/grindlemire/graft"
	"github.com/lumenview/lumen/internal/core/ports"
)

// NodeID is the unique identifier for the config loader Graft node.
const NodeID graft.ID = "adapter.config"

func init() {
	graft.Register(graft.Node[ports.ConfigLoader]{
		ID:        NodeID,
		Cacheable: true,
		Run: func(ctx context.Context) (ports.ConfigLoader, error) {
			return &FileLoader{Filename: DefaultFilename}, nil
		},
	})
}
