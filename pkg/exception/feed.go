package exception

import "errors"

var (
	ErrBarBufferFull   = errors.New("feed: bar buffer full")
	ErrFeedClosed      = errors.New("feed: closed")
	ErrUnknownSymbol   = errors.New("feed: unknown symbol")
	ErrInvalidInterval = errors.New("feed: invalid bar interval")
)
