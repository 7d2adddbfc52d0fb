package transport

import (
	"context"
	"errors"
)

// ErrNotConnected is returned by Read/Write on a transport whose stream is
// not open.
var ErrNotConnected = errors.New("transport is not connected")

// Transport is a raw byte stream to the companion radio. The stream has a
// single owner (the session's reader goroutine); Write is safe to call from
// concurrent senders because each call performs one atomic write of a fully
// framed command.
type Transport interface {
	Name() string
	Target() string
	Connect(ctx context.Context) error
	Close() error

	// Read fills buf with whatever bytes are available, blocking up to the
	// transport's poll interval. A (0, nil) return means the stream is open
	// but idle; callers use this to observe quiet periods.
	Read(ctx context.Context, buf []byte) (int, error)

	// Write sends one fully framed command as a single write.
	Write(ctx context.Context, frame []byte) error
}
