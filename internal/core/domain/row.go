package domain

import (
	"io/fs"
	"time"
)

// RowKind discriminates the persistent row variants.
type RowKind string

const (
	// KindMeta marks a row populated by a stat-only prefetch; the thumbnail
	// bytes have not been generated yet.
	KindMeta RowKind = "meta"
	// KindThumb marks a fully populated row carrying thumbnail bytes.
	KindThumb RowKind = "thumb"
)

// Row is a persistent cache row. It is a tagged variant rather than a
// struct with a nullable blob: readers switch on the concrete type instead
// of null-checking fields.
type Row interface {
	RowKind() RowKind
	RowPath() string
	// ValidFor reports whether the row still describes the live file and
	// the configured thumbnail target box.
	ValidFor(stat FileStat, thumbW, thumbH int) bool
}

// RowBase carries the fields common to both variants.
type RowBase struct {
	Path      string
	MTime     int64 // unix milliseconds
	Size      int64
	ThumbW    int
	ThumbH    int
	CreatedAt time.Time
}

// RowPath returns the normalized path the row is keyed by.
func (b RowBase) RowPath() string { return b.Path }

// ValidFor implements the validity rule shared by both variants: stored
// mtime and size must equal the live stat, and the stored thumbnail target
// must equal the currently configured one. Anything else is a miss.
func (b RowBase) ValidFor(stat FileStat, thumbW, thumbH int) bool {
	return b.MTime == stat.MTime && b.Size == stat.Size &&
		b.ThumbW == thumbW && b.ThumbH == thumbH
}

// MetaRow is a metadata-only row: the fast stat scan ran before any decode.
type MetaRow struct {
	RowBase
}

// RowKind implements Row.
func (MetaRow) RowKind() RowKind { return KindMeta }

// ThumbRow is a fully populated row.
type ThumbRow struct {
	RowBase
	Width     int
	Height    int
	Thumbnail []byte
	Checksum  uint64 // xxh64 of Thumbnail; 0 on rows written before the checksum column
}

// RowKind implements Row.
func (ThumbRow) RowKind() RowKind { return KindThumb }

// FileStat is the subset of a file's stat used for cache validation.
type FileStat struct {
	MTime int64 // unix milliseconds
	Size  int64
}

// StatOf converts an fs.FileInfo into the validation subset.
func StatOf(info fs.FileInfo) FileStat {
	return FileStat{
		MTime: info.ModTime().UTC().UnixMilli(),
		Size:  info.Size(),
	}
}
