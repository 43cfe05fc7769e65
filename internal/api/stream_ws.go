package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"

	"github.com/jayusctrojan/Empire-sub002/internal/coordination"
	"github.com/jayusctrojan/Empire-sub002/internal/stream"
)

type wsWriter interface {
	Write(ctx context.Context, msgType websocket.MessageType, data []byte) error
}

// streamInteractions upgrades to a websocket and forwards interactions
// published on the execution's channel for as long as the peer stays
// connected. No replay: the first frame after the hello is the first
// interaction written after the subscription attached.
func (s *Server) streamInteractions(c echo.Context) error {
	executionID, err := pathUUID(c, "execution_id")
	if err != nil {
		return err
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil
	}
	defer conn.Close(websocket.StatusInternalError, "closed")

	ctx := c.Request().Context()
	sub := s.hub.Subscribe(ctx, executionID)

	hello, _ := json.Marshal(map[string]any{
		"type":         "connected",
		"execution_id": executionID,
		"channel":      stream.ChannelName(executionID),
		"connected_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err := conn.Write(ctx, websocket.MessageText, hello); err != nil {
		return nil
	}

	if err := forwardInteractions(ctx, sub, conn); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "stream error")
		return nil
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
	return nil
}

func forwardInteractions(ctx context.Context, sub <-chan *coordination.Interaction, writer wsWriter) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok := <-sub:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(it)
			if err != nil {
				return err
			}
			if err := writer.Write(ctx, websocket.MessageText, payload); err != nil {
				return err
			}
		}
	}
}
