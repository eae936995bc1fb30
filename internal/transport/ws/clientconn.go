package ws

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kiryu-dev/worldhost/internal/domain"
	"github.com/pkg/errors"
)

const writeTimeout = 10 * time.Second

type client struct {
	conn *websocket.Conn
}

func newClient(conn *websocket.Conn) client {
	return client{conn: conn}
}

func (c client) WriteMessage(msg domain.EventMessage) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		return errors.WithMessage(err, "websocket conn write json")
	}
	return nil
}

// WatchClose reads (and discards) incoming frames so control frames are
// handled, and calls cancel once the peer goes away.
func (c client) WatchClose(cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			return
		}
	}
}

func (c client) Close() {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}
