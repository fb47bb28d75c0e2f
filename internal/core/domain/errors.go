package domain

import "go.trai.ch/zerr"

var (
	// ErrUnsupportedFormat is returned when a file's magic bytes match no
	// known image codec.
	ErrUnsupportedFormat = zerr.New("unsupported image format")

	// ErrCorruptImage is returned when a file matches a known codec but
	// fails to decode.
	ErrCorruptImage = zerr.New("corrupt image data")

	// ErrWorkerCrashed is returned when an isolated decode worker died
	// while serving a request. The crash never propagates past the worker
	// boundary; the request owner sees this error instead.
	ErrWorkerCrashed = zerr.New("decode worker crashed")

	// ErrStoreBusy is returned when a store write exhausted its bounded
	// retry budget against transient lock contention.
	ErrStoreBusy = zerr.New("store busy")

	// ErrStoreClosed is returned when work is scheduled against a closed
	// store operator.
	ErrStoreClosed = zerr.New("store operator closed")

	// ErrSchema is returned when a schema migration fails; opening the
	// store aborts rather than running on a partially migrated file.
	ErrSchema = zerr.New("schema migration failed")

	// ErrQueueSaturated is returned when the dispatcher's admission queue
	// is full and a request cannot be accepted.
	ErrQueueSaturated = zerr.New("admission queue saturated")

	// ErrEngineClosed is returned for requests issued after Close.
	ErrEngineClosed = zerr.New("engine closed")
)
