package procpool

// The worker protocol deliberately carries only primitives and byte slices:
// nothing with live handles ever crosses the process boundary.

type errKind int

const (
	errNone errKind = iota
	errUnsupported
	errCorrupt
	errOther
)

type request struct {
	ID      uint64
	Path    string
	TargetW int
	TargetH int
}

type response struct {
	ID      uint64
	Data    []byte
	Width   int
	Height  int
	ErrKind errKind
	ErrMsg  string
}
