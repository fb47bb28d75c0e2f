package domain

// Generation is a monotonically increasing sequence number per (path, mode)
// identity. Only the outcome of the highest admitted generation is ever
// delivered or persisted.
type Generation uint64

// Decoded is a ready-to-render decode result. Data holds the losslessly
// encoded bitmap; Width and Height are the source image's intrinsic
// dimensions, which may exceed the encoded bitmap's when it was downscaled.
// Only primitives and bytes ever cross the worker process boundary.
type Decoded struct {
	Data   []byte
	Width  int
	Height int
}
