// Package wiring registers all Graft nodes for the application.
package wiring

import (
	// Register adapter nodes.
	_ "github.com/lumenview/lumen/internal/adapters/config"
	_ "github.com/lumenview/lumen/internal/adapters/logger"
	// Register the app node.
	_ "github.com/lumenview/lumen/internal/app"
)
