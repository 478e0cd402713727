package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/application/usecase"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
)

// sseDone is the literal terminal frame of a successful stream.
const sseDone = "[DONE]"

type groundingFrame struct {
	Sources       []entity.GroundingSource `json:"sources"`
	SearchQueries []string                 `json:"search_queries"`
}

// sseWriter renders stream events as "data: <json>\n\n" frames, flushing
// after every frame.
type sseWriter struct {
	c *gin.Context
}

var _ usecase.EventSink = (*sseWriter)(nil)

// newSSEWriter sends the event-stream headers and returns the writer.
func newSSEWriter(c *gin.Context) *sseWriter {
	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()
	return &sseWriter{c: c}
}

func (s *sseWriter) frame(data string) error {
	if err := s.c.Request.Context().Err(); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", data); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

func (s *sseWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.frame(string(data))
}

func (s *sseWriter) ConversationID(id uint) error {
	return s.writeJSON(gin.H{"conversation_id": id})
}

func (s *sseWriter) Content(delta string) error {
	return s.writeJSON(gin.H{"content": delta})
}

func (s *sseWriter) Grounding(g *entity.GroundingResult) error {
	f := groundingFrame{Sources: g.Sources, SearchQueries: g.SearchQueries}
	if f.Sources == nil {
		f.Sources = []entity.GroundingSource{}
	}
	if f.SearchQueries == nil {
		f.SearchQueries = []string{}
	}
	return s.writeJSON(gin.H{"grounding": f})
}

func (s *sseWriter) Done() error {
	return s.frame(sseDone)
}

func (s *sseWriter) Error(message string) error {
	return s.writeJSON(gin.H{"error": message})
}
