package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	keepAlivePingInterval = 10 * time.Second
	writeWait             = 5 * time.Second
)

// handleJobEvents streams job snapshots over a websocket until the job
// reaches a terminal state or the client goes away.
func (s *Server) handleJobEvents(c *gin.Context) {
	job, err := s.svc.Jobs().GetJob(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "job_id", job.ID, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close and pong messages are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(keepAlivePingInterval)
	defer ping.Stop()

	ctx := c.Request.Context()
	for {
		snap, changed := job.Watch()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(&snap); err != nil {
			s.logger.Debug("job events client disconnected", "job_id", snap.ID, "error", err)
			return
		}
		if snap.Status.Terminal() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status))
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			return
		}

	wait:
		for {
			select {
			case <-changed:
				break wait
			case <-ping.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			case <-gone:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}
