package http

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	tutorerrors "biotutor/internal/errors"
	"biotutor/internal/sse"
)

// setStreamHeaders prepares the response for server-sent events.
// X-Accel-Buffering disables proxy buffering so events reach the client as
// they happen.
func setStreamHeaders(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
}

// writeEvent writes one SSE frame and flushes it.
func writeEvent(c *gin.Context, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		payload = []byte("{}")
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventType, payload)
	c.Writer.Flush()
}

// EventStream is the session notification stream. Events buffered while the
// client was away are delivered first, then live events until the client
// disconnects.
func (h *Handler) EventStream(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := h.store.Get(sessionID); err != nil {
		h.renderError(c, err)
		return
	}

	setStreamHeaders(c)

	ch := h.publisher.Subscribe(sessionID)
	defer h.publisher.Unsubscribe(sessionID, ch)

	// The preamble confirms the stream before any real event exists.
	writeEvent(c, "connected", gin.H{"session_id": sessionID})
	h.logger.Info("Event stream opened for session %s", sessionID)

	heartbeat := time.Duration(h.cfg.Events.HeartbeatInterval) * time.Second
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Event stream closed for session %s", sessionID)
			return
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": heartbeat\n\n")
			c.Writer.Flush()
		case event, ok := <-ch:
			if !ok {
				// Session deleted while streaming.
				h.logger.Info("Event stream terminated for session %s", sessionID)
				return
			}
			writeEvent(c, event.Type, sse.Event{
				Type:      event.Type,
				Data:      event.Data,
				Timestamp: event.Timestamp,
			})
		}
	}
}

// TutorStream runs one Phase-2 tutoring turn and streams its output. The
// stream ends with a "done" event; failures surface as an "error" event so
// the client never has to parse a half-written JSON body.
func (h *Handler) TutorStream(c *gin.Context) {
	sessionID := c.Param("id")

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// 开始 turns may arrive with an empty body.
		req.Message = ""
	}

	if _, err := h.store.Get(sessionID); err != nil {
		h.renderError(c, err)
		return
	}

	setStreamHeaders(c)
	writeEvent(c, "connected", gin.H{"session_id": sessionID})

	emit := func(eventType string, data map[string]any) {
		writeEvent(c, eventType, data)
	}

	if err := h.tutor.ProcessTutorStream(c.Request.Context(), sessionID, req.Message, emit); err != nil {
		kind := tutorerrors.KindOf(err)
		h.logger.Warn("Tutoring turn failed for session %s (%s): %v", sessionID, kind, err)
		writeEvent(c, "error", gin.H{
			"error": tutorerrors.FriendlyMessage(kind),
			"kind":  kind.String(),
		})
		return
	}
	writeEvent(c, "done", gin.H{})
}
