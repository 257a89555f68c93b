package transport

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/coder/websocket"
)

// Dialer opens the byte stream STOMP frames travel over.
type Dialer interface {
	Dial(ctx context.Context) (io.ReadWriteCloser, error)
}

// DialFunc adapts a function to Dialer.
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

func (f DialFunc) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	return f(ctx)
}

// stompSubprotocols are the WebSocket subprotocols a STOMP broker accepts.
var stompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

const wsReadLimit = 4 << 20

// WebSocket dials url and exposes the text-message stream as a net.Conn.
func WebSocket(url string) Dialer {
	return DialFunc(func(ctx context.Context) (io.ReadWriteCloser, error) {
		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{Subprotocols: stompSubprotocols})
		if err != nil {
			return nil, fmt.Errorf("websocket dial %s: %w", url, err)
		}
		c.SetReadLimit(wsReadLimit)
		// The stream outlives the dial context; Close ends it.
		return websocket.NetConn(context.Background(), c, websocket.MessageText), nil
	})
}

// TCP dials a plain STOMP listener. Useful against local brokers.
func TCP(addr string) Dialer {
	return DialFunc(func(ctx context.Context) (io.ReadWriteCloser, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	})
}
