package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrInternalEvent = errors.New("timeout events are produced by the daemon")
	ErrUnavailable   = errors.New("tracker unavailable")
	ErrNothingToSend = errors.New("nothing to export")
)
