package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/entity"
	"github.com/ngoclaw/ngoclaw/chatgateway/internal/domain/service"
)

// sseStream reads Gemini's streaming response format: SSE "data: {...}"
// lines, each carrying a full GenerateContentResponse. It yields text deltas
// in arrival order and, after the last chunk, the latest non-empty grounding
// snapshot.
type sseStream struct {
	ctx         context.Context
	body        io.ReadCloser
	scanner     *bufio.Scanner
	model       string
	idleTimeout time.Duration
	logger      *zap.Logger

	grounding service.GroundingAccumulator
	usage     service.Usage
	finished  bool

	stopWatch func() bool
	closeOnce sync.Once
}

func newSSEStream(ctx context.Context, body io.ReadCloser, model string, idleTimeout time.Duration, logger *zap.Logger) *sseStream {
	s := &sseStream{
		ctx:         ctx,
		body:        body,
		model:       model,
		idleTimeout: idleTimeout,
		logger:      logger,
	}
	s.scanner = bufio.NewScanner(&timedReader{r: body, timeout: idleTimeout})
	s.scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Client went away: drop the upstream connection so the scanner unblocks.
	s.stopWatch = context.AfterFunc(ctx, func() {
		logger.Info("Context cancelled, force-closing Gemini SSE stream", zap.Error(ctx.Err()))
		s.Close()
	})
	return s
}

var _ service.GenerationStream = (*sseStream)(nil)

// Recv implements service.GenerationStream.
func (s *sseStream) Recv() (service.StreamEvent, error) {
	if s.finished {
		return service.StreamEvent{}, io.EOF
	}

	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk Response
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.logger.Debug("Skip unparseable Gemini SSE chunk", zap.Error(err))
			continue
		}
		if chunk.UsageMetadata != nil {
			s.usage = usageOf(chunk.UsageMetadata)
		}
		if chunk.Error != nil {
			return s.fail(service.NewUpstreamError(s.model, chunk.Error.Code, chunk.Error.Message, nil))
		}
		if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" && len(chunk.Candidates) == 0 {
			return s.fail(&service.UpstreamGenerationError{
				Kind:    service.ErrKindBadRequest,
				Message: "prompt blocked: " + chunk.PromptFeedback.BlockReason,
				Model:   s.model,
			})
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		candidate := chunk.Candidates[0]
		s.grounding.Observe(extractGrounding(candidate.GroundingMetadata))

		if text := candidate.Text(); text != "" {
			return service.StreamEvent{Text: text}, nil
		}
	}

	if err := s.scanner.Err(); err != nil {
		if s.ctx.Err() != nil {
			s.finish()
			return service.StreamEvent{}, io.EOF
		}
		if errors.Is(err, errIdleTimeout) {
			s.logger.Warn("SSE stream idle timeout, Gemini API stalled",
				zap.Duration("idle_timeout", s.idleTimeout))
			return s.fail(&service.UpstreamGenerationError{
				Kind:    service.ErrKindIdleTimeout,
				Message: fmt.Sprintf("no data from upstream for %v", s.idleTimeout),
				Model:   s.model,
				Cause:   err,
			})
		}
		return s.fail(service.NewUpstreamError(s.model, 0, "SSE scan error", err))
	}

	s.finish()
	if g := s.grounding.Latest(); g != nil {
		return service.StreamEvent{Grounding: g}, nil
	}
	return service.StreamEvent{}, io.EOF
}

// Usage implements service.GenerationStream.
func (s *sseStream) Usage() service.Usage { return s.usage }

// Close implements service.GenerationStream.
func (s *sseStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.stopWatch != nil {
			s.stopWatch()
		}
		err = s.body.Close()
	})
	return err
}

func (s *sseStream) finish() {
	s.finished = true
	s.Close()
}

// fail ends the stream with the synthetic failure event.
func (s *sseStream) fail(uerr *service.UpstreamGenerationError) (service.StreamEvent, error) {
	s.logger.Error("Gemini stream failed", zap.Error(uerr), zap.String("kind", uerr.Kind.String()))
	s.finish()
	return service.StreamEvent{Text: uerr.UserMessage(), Failure: uerr}, nil
}

// extractGrounding maps a chunk's metadata to a snapshot; missing titles and
// URIs become empty strings.
func extractGrounding(md *GroundingMetadata) *entity.GroundingResult {
	if md == nil {
		return nil
	}
	result := &entity.GroundingResult{}
	for _, chunk := range md.GroundingChunks {
		if chunk.Web == nil {
			continue
		}
		result.Sources = append(result.Sources, entity.GroundingSource{
			Title: chunk.Web.Title,
			URI:   chunk.Web.URI,
		})
	}
	if len(md.WebSearchQueries) > 0 {
		result.SearchQueries = md.WebSearchQueries
	}
	return result
}

// --- SSE idle timeout support ---

var errIdleTimeout = errors.New("SSE read idle timeout")

// timedReader fails a Read that produces nothing within timeout.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	buf := make([]byte, len(p))
	go func() {
		n, err := t.r.Read(buf)
		ch <- result{n, err}
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		copy(p, buf[:res.n])
		return res.n, res.err
	case <-timer.C:
		return 0, errIdleTimeout
	}
}
