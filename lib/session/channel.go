package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/ampdeck/agent/lib/proto"
)

// Channel is the typed panel connection. Implementations must be safe for a
// concurrent sender and receiver.
type Channel interface {
	Send(ctx context.Context, ev proto.Event) error
	Receive(ctx context.Context) (proto.Command, error)
	Close(reason string)
}

type wsChannel struct {
	conn *websocket.Conn
}

// NewWebsocketChannel wraps an accepted websocket as a panel channel.
func NewWebsocketChannel(conn *websocket.Conn) Channel {
	return &wsChannel{conn: conn}
}

func (c *wsChannel) Send(ctx context.Context, ev proto.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsChannel) Receive(ctx context.Context) (proto.Command, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return proto.Command{}, err
	}
	var cmd proto.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return proto.Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

func (c *wsChannel) Close(reason string) {
	_ = c.conn.Close(websocket.StatusNormalClosure, reason)
}
