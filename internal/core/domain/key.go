// Package domain defines the core types of the decode-and-cache engine.
package domain

import (
	"fmt"
	"path/filepath"
)

// Mode selects what a request produces: a full-resolution decode or a
// size-capped thumbnail.
type Mode string

const (
	// ModeThumbnail requests a down-sampled, losslessly encoded thumbnail.
	ModeThumbnail Mode = "thumbnail"
	// ModeFull requests a full-resolution decode.
	ModeFull Mode = "full"
)

// CacheKey identifies a unit of work and its cached result. Two keys are
// equal iff all fields match; a full result never satisfies a thumbnail
// lookup or vice versa.
type CacheKey struct {
	Path    string
	TargetW int // 0 means no target width
	TargetH int // 0 means no target height
	Mode    Mode
}

// Identity collapses a key to the granularity the dispatcher tracks:
// only one in-flight job per (path, mode) is meaningful, regardless of the
// exact target box.
type Identity struct {
	Path string
	Mode Mode
}

// Identity returns the (path, mode) identity of the key.
func (k CacheKey) Identity() Identity {
	return Identity{Path: k.Path, Mode: k.Mode}
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s[%s %dx%d]", k.Path, k.Mode, k.TargetW, k.TargetH)
}

// NormalizePath cleans and absolutizes a path so that the same file always
// maps to the same key and store row.
func NormalizePath(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	return abs, nil
}
