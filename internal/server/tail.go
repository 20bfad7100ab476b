package server

import (
	"context"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

const tailWriteTimeout = 5 * time.Second

// serveTail streams script log lines to a websocket client as JSON objects
// until the client leaves or the server shuts down.
func (s *Server) serveTail(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug("tail upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// The client only listens; CloseRead handles its control frames.
	ctx := conn.CloseRead(r.Context())
	entries, cancel := s.tail.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, tailWriteTimeout)
			err := wsjson.Write(wctx, conn, e)
			wcancel()
			if err != nil {
				return
			}
		}
	}
}
