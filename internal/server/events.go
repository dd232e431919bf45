package server

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/floorplan-import/internal/service"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait * 9 / 10
)

// handleEvents streams a batch's events over a websocket. The first message
// is the batch's current status; the stream ends after a terminal event.
func (s *Server) handleEvents(c echo.Context) error {
	ctx := c.Request().Context()
	tenant, batchID := tenantID(c), c.Param("id")

	events, cancel, err := s.svc.Subscribe(ctx, tenant, batchID)
	if err != nil {
		return s.HandleError(c, err, "failed to follow import")
	}
	defer cancel()
	detail, err := s.svc.GetBatch(ctx, tenant, batchID)
	if err != nil {
		return s.HandleError(c, err, "failed to follow import")
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader has already replied
		s.logger.Debug("websocket upgrade failed", "batch_id", batchID, "error", err)
		return nil
	}
	defer conn.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	snapshot := service.StatusEvent(detail.Batch, "current status")
	if err := s.writeEvent(conn, snapshot); err != nil || snapshot.Terminal() {
		s.closeStream(conn)
		return nil
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return nil
		case e, ok := <-events:
			if !ok {
				s.closeStream(conn)
				return nil
			}
			if err := s.writeEvent(conn, e); err != nil {
				s.logger.Debug("websocket write failed", "batch_id", batchID, "error", err)
				return nil
			}
			if e.Terminal() {
				s.closeStream(conn)
				return nil
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return nil
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, e service.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(e)
}

func (s *Server) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
