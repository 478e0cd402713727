package service

import (
	"context"
	"io"
	"sync"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
)

// GenerationRequest is everything one model call needs.
type GenerationRequest struct {
	Message      string
	History      []entity.HistoryEntry
	SystemPrompt string
	UseGrounding bool
	Files        []entity.ExtractedFile
}

// HasImages reports whether any attachment is sent as inline image data.
func (r GenerationRequest) HasImages() bool {
	for _, f := range r.Files {
		if f.IsImage() {
			return true
		}
	}
	return false
}

// Usage 令牌用量
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// GenerationResult is the outcome of a non-streaming call.
type GenerationResult struct {
	Text  string
	Model string
	Usage Usage
}

// StreamEvent is one element of a generation stream: a text delta or a
// grounding snapshot. Failure is set only on the synthetic last event of a
// failed stream, whose Text then carries the localized error message.
type StreamEvent struct {
	Text      string
	Grounding *entity.GroundingResult
	Failure   *UpstreamGenerationError
}

// GenerationStream is a forward-only, single-consumer sequence of events.
// Recv returns io.EOF once the sequence has ended; it never returns any
// other error, since upstream failures are delivered as a Failure event.
type GenerationStream interface {
	Recv() (StreamEvent, error)
	// Usage is the last token usage reported by upstream. It is complete
	// once Recv has returned io.EOF.
	Usage() Usage
	// Close releases the upstream connection. It is safe to call twice.
	Close() error
}

// GenerationClient wraps one upstream text-generation model.
type GenerationClient interface {
	// Generate is a single request/response call. Failures are returned as
	// *UpstreamGenerationError.
	Generate(ctx context.Context, message string, history []entity.HistoryEntry) (*GenerationResult, error)

	// Stream sends message after the turns built from history and the
	// system prompt. Files in req are ignored.
	Stream(ctx context.Context, req GenerationRequest) GenerationStream

	// StreamWithFiles appends extracted text to the message and attaches
	// images inline. When an image is present the call is a single
	// multi-part request without history.
	StreamWithFiles(ctx context.Context, req GenerationRequest) GenerationStream
}

// StaticStream replays a fixed list of events. It backs failed calls that
// never reached upstream.
type StaticStream struct {
	mu     sync.Mutex
	events []StreamEvent
	usage  Usage
	closed bool
}

// NewStaticStream 创建固定事件流
func NewStaticStream(usage Usage, events ...StreamEvent) *StaticStream {
	return &StaticStream{events: events, usage: usage}
}

// NewFailedStream returns a stream whose only event is the failure of err.
func NewFailedStream(err *UpstreamGenerationError) *StaticStream {
	return NewStaticStream(Usage{}, StreamEvent{Text: err.UserMessage(), Failure: err})
}

// Recv implements GenerationStream.
func (s *StaticStream) Recv() (StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.events) == 0 {
		return StreamEvent{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

// Usage implements GenerationStream.
func (s *StaticStream) Usage() Usage { return s.usage }

// Close implements GenerationStream.
func (s *StaticStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
