package exception

import "github.com/yanun0323/errors"

// Broker errors. Connection and timeout failures are transient; the adapter owns retries.
var (
	ErrConnection        = errors.New("broker: connection error")
	ErrTimeout           = errors.New("broker: call timed out")
	ErrRejectedByVenue   = errors.New("broker: rejected by venue")
	ErrBrokerUnreachable = errors.New("broker: permanently unreachable")
	ErrUnknownHandle     = errors.New("broker: unknown order handle")
	ErrBrokerClosed      = errors.New("broker: closed")
)
