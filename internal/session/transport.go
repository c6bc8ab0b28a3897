package session

import (
	"context"

	"github.com/huyndo/notisync/internal/channel"
	"github.com/huyndo/notisync/internal/stomp"
)

// stompTransport adapts *stomp.Transport to the channel.Transport interface.
type stompTransport struct {
	inner *stomp.Transport
}

// WrapTransport exposes a STOMP transport as a channel.Transport.
func WrapTransport(t *stomp.Transport) channel.Transport {
	return stompTransport{inner: t}
}

func (t stompTransport) Dial(ctx context.Context, identity, credential string) (channel.Conn, error) {
	conn, err := t.inner.Dial(ctx, identity, credential)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
