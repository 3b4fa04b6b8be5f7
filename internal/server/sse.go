package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbellotti/testyard/internal/stream"
)

// handleSessionEvents streams the session's events over SSE until the final
// event is delivered or the client disconnects. Disconnecting only stops
// delivery; the pipeline keeps running and the channel keeps buffering.
func (s *Server) handleSessionEvents(c *gin.Context) {
	session, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"session_id": session.ID})
	c.Writer.Flush()

	heartbeat := time.Duration(s.cfg.HeartbeatSeconds) * time.Second
	ctx := c.Request.Context()

	for {
		waitCtx, cancel := context.WithTimeout(ctx, heartbeat)
		ev, err := session.Channel.Next(waitCtx)
		cancel()

		if err != nil {
			if errors.Is(err, stream.ErrClosed) || ctx.Err() != nil {
				return
			}
			// No event inside the heartbeat window.
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
			continue
		}

		s.sessions.Touch(session.ID)
		name := ev.Type
		if name == "" {
			name = "message"
		}
		writeSSE(c.Writer, name, ev)
		c.Writer.Flush()

		if ev.IsFinal {
			status := stream.SessionCompleted
			if ev.Region == stream.RegionError {
				status = stream.SessionFailed
			}
			s.sessions.SetStatus(session.ID, status)
			return
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
