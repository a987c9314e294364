package signaling

import "errors"

var (
	// ErrConnClosed is returned by Send after the connection is torn down.
	ErrConnClosed = errors.New("signaling: connection closed")

	// ErrSendQueueFull is returned when a slow reader's outbound queue
	// overflows; the caller treats it as a delivery failure.
	ErrSendQueueFull = errors.New("signaling: send queue full")
)
