// Package build holds build-time metadata shared by the binaries.
package build

// Version is stamped by the release pipeline via -ldflags; "dev" otherwise.
var Version = "dev"
