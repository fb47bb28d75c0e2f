package operator

// SetBusyPredicate overrides transient-contention detection so tests can
// inject retryable failures without real lock contention.
func (o *Operator) SetBusyPredicate(fn func(error) bool) {
	o.isBusy = fn
}
