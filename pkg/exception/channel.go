package exception

import "github.com/yanun0323/errors"

// Channel errors
var (
	// ErrTransportOpen reports that the primary transport failed to establish.
	// Recoverable; drives reconnect backoff.
	ErrTransportOpen = errors.New("channel: transport open failed")

	// ErrHeartbeatTimeout reports a link presumed dead while technically open.
	// Recoverable; forces a reconnect.
	ErrHeartbeatTimeout = errors.New("channel: heartbeat timeout")

	// ErrPollRequest reports a single failed polling tick.
	// Recoverable; drives backoff for the next tick only.
	ErrPollRequest = errors.New("channel: poll request failed")

	// ErrChannelClosed reports use of the channel after Stop.
	// Surfaced synchronously to the caller, never retried.
	ErrChannelClosed = errors.New("channel: closed")

	// ErrEnvelopeDecode reports a malformed wire frame.
	// The frame is dropped; channel state is unaffected.
	ErrEnvelopeDecode = errors.New("channel: envelope decode failed")

	// ErrInvalidSubscription reports bad subscribe arguments.
	ErrInvalidSubscription = errors.New("channel: invalid subscription")
)
