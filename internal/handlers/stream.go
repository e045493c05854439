package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Winger29/FSDP-Assignment2/internal/apierr"
)

// eventStream writes server-sent events. Headers go out with the first
// event, so an error raised before anything was sent can still become a
// regular JSON error response.
type eventStream struct {
	c       *gin.Context
	started bool
	last    string
}

func newEventStream(c *gin.Context) *eventStream {
	return &eventStream{c: c}
}

func (s *eventStream) start() {
	if s.started {
		return
	}
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Status(http.StatusOK)
	s.started = true
}

// Send writes one event. It fails once the client has disconnected so the
// producer can stop early.
func (s *eventStream) Send(event string, data interface{}) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	s.start()
	s.c.SSEvent(event, data)
	s.c.Writer.Flush()
	s.last = event
	return nil
}

// Fail reports err as an error event, or as a JSON error when the stream
// never started. Nothing is written if the producer already sent an error.
func (s *eventStream) Fail(err error) {
	if !s.started {
		fail(s.c, err)
		return
	}
	if s.last == "error" || s.c.Request.Context().Err() != nil {
		return
	}
	_, code, msg := apierr.Status(authError(err))
	_ = s.Send("error", gin.H{"error": msg, "code": code})
}
